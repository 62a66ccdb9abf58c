package policy

import (
	"reflect"
	"regexp"
	"strings"
)

// Resource identifies the target of an evaluation request.
type Resource struct {
	Type string `json:"type,omitempty"`
	ID   string `json:"id,omitempty"`
}

// EvaluationRequest is the question put to the PDP: may principal
// (tenantId, userId, roles) perform action on resource under context?
type EvaluationRequest struct {
	Action    string                 `json:"action"`
	Orchestra string                 `json:"orchestra,omitempty"`
	TenantID  string                 `json:"tenantId,omitempty"`
	UserID    string                 `json:"userId,omitempty"`
	Roles     []string               `json:"roles,omitempty"`
	Resource  *Resource              `json:"resource,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
	TraceID   string                 `json:"traceId,omitempty"`
}

// asFieldTree renders the request as the generic record tree that
// dotted field paths are resolved against: top-level keys action,
// orchestra, tenantId, userId, roles, resource, plus nested context.*.
func (r EvaluationRequest) asFieldTree() map[string]interface{} {
	tree := map[string]interface{}{
		"action":    r.Action,
		"orchestra": r.Orchestra,
		"tenantId":  r.TenantID,
		"userId":    r.UserID,
		"roles":     rolesToAny(r.Roles),
	}
	if r.Resource != nil {
		tree["resource"] = map[string]interface{}{
			"type": r.Resource.Type,
			"id":   r.Resource.ID,
		}
	}
	if r.Context != nil {
		tree["context"] = r.Context
	}
	return tree
}

func rolesToAny(roles []string) []interface{} {
	out := make([]interface{}, len(roles))
	for i, r := range roles {
		out[i] = r
	}
	return out
}

// resolveField splits field on "." and traverses the request's field
// tree. A missing path segment returns (nil, false) — "undefined".
func resolveField(req EvaluationRequest, field string) (interface{}, bool) {
	parts := strings.Split(field, ".")
	var cur interface{} = req.asFieldTree()
	for _, part := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// EvalCondition evaluates a single condition against a request. It
// never errors: an undefined field makes every operator false except
// ne and nin, which are true; operator/type mismatches and unknown
// operators evaluate to false (the caller is expected to have
// validated the manifest at registration time).
func EvalCondition(c Condition, req EvaluationRequest) bool {
	value, present := resolveField(req, c.Field)

	switch c.Operator {
	case "eq":
		return present && deepEqual(value, c.Value)
	case "ne":
		return !present || !deepEqual(value, c.Value)
	case "gt", "lt", "gte", "lte":
		return present && compareNumeric(value, c.Value, c.Operator)
	case "in":
		return present && membership(value, c.Value)
	case "nin":
		return !present || !membership(value, c.Value)
	case "contains":
		return present && contains(value, c.Value)
	case "regex":
		return present && matchesRegex(value, c.Value)
	default:
		return false
	}
}

// Matches reports whether every condition in the rule holds (AND-only).
func (r Rule) Matches(req EvaluationRequest) bool {
	for _, c := range r.Conditions {
		if !EvalCondition(c, req) {
			return false
		}
	}
	return true
}

func deepEqual(a, b interface{}) bool {
	an, aIsNum := toFloat(a)
	bn, bIsNum := toFloat(b)
	if aIsNum && bIsNum {
		return an == bn
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func compareNumeric(a, b interface{}, op string) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return false
	}
	switch op {
	case "gt":
		return af > bf
	case "lt":
		return af < bf
	case "gte":
		return af >= bf
	case "lte":
		return af <= bf
	default:
		return false
	}
}

func membership(value, set interface{}) bool {
	items, ok := set.([]interface{})
	if !ok {
		return false
	}
	for _, item := range items {
		if deepEqual(value, item) {
			return true
		}
	}
	return false
}

func contains(field, needle interface{}) bool {
	switch f := field.(type) {
	case string:
		s, ok := needle.(string)
		if !ok {
			return false
		}
		return strings.Contains(f, s)
	case []interface{}:
		for _, item := range f {
			if deepEqual(item, needle) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func matchesRegex(field, pattern interface{}) bool {
	s, ok := field.(string)
	if !ok {
		return false
	}
	p, ok := pattern.(string)
	if !ok {
		return false
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}
