package policy

// MatchesScope reports whether a policy's scope admits the request.
// A scope field present on the policy constrains matching; an empty
// scope field on the policy is wildcard. The role axis is an
// intersection test: if the request supplies roles, the policy's role
// filter passes when the intersection with it is non-empty.
func MatchesScope(s Scope, req EvaluationRequest) bool {
	if !matchesAxis(s.Orchestras, req.Orchestra) {
		return false
	}
	if !matchesAxis(s.Tenants, req.TenantID) {
		return false
	}
	if !matchesAxis(s.Actions, req.Action) {
		return false
	}
	if len(s.Resources) > 0 {
		// Policy constrains the resource axis: a request with no
		// resource at all is wildcard and only matches a policy that
		// is also wildcard on this axis.
		if req.Resource == nil {
			return false
		}
		if !matchesAxis(s.Resources, req.Resource.Type) && !matchesAxis(s.Resources, req.Resource.ID) {
			return false
		}
	}
	if len(s.Roles) > 0 {
		if !rolesIntersect(s.Roles, req.Roles) {
			return false
		}
	}
	return true
}

// matchesAxis implements "empty policy field = wildcard; empty request
// field only matches a wildcard policy field".
func matchesAxis(policyValues []string, requestValue string) bool {
	if len(policyValues) == 0 {
		return true
	}
	if requestValue == "" {
		return false
	}
	for _, v := range policyValues {
		if v == requestValue {
			return true
		}
	}
	return false
}

func rolesIntersect(policyRoles, requestRoles []string) bool {
	if len(requestRoles) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(policyRoles))
	for _, r := range policyRoles {
		set[r] = struct{}{}
	}
	for _, r := range requestRoles {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}
