package policy

import "fmt"

// MatchedPolicy is one candidate contributing to a resolution: the
// manifest that matched, the effect its first matching rule produced,
// and a human-readable reason.
type MatchedPolicy struct {
	Manifest Manifest
	Effect   Effect
	Reason   string
}

// ConflictRecord enumerates every contributing policy at the winning
// precedence when effects disagreed, so callers can audit the
// decision.
type ConflictRecord struct {
	WinningPrecedence PrecedenceClass
	Contributors      []MatchedPolicy
}

// ResolveResult is the outcome of precedence resolution.
type ResolveResult struct {
	Winner   MatchedPolicy
	Conflict *ConflictRecord
}

// Resolve implements the precedence resolver contract of spec §4.2:
//  1. Keep only entries at the maximum precedence among matched.
//  2. If both effects are present at that precedence, flag a conflict
//     and pick any deny entry as winner ("deny wins at tied precedence").
//  3. Otherwise all entries share one effect; the first entry in
//     stable input order wins.
//
// matched must be non-empty; an empty slice is an invariant violation
// the caller (Evaluation Engine) is responsible for never triggering.
func Resolve(matched []MatchedPolicy) (ResolveResult, error) {
	if len(matched) == 0 {
		return ResolveResult{}, fmt.Errorf("%w: resolve called with empty match set", ErrInvariant)
	}

	top := matched[0].Manifest.Precedence
	for _, m := range matched[1:] {
		if m.Manifest.Precedence > top {
			top = m.Manifest.Precedence
		}
	}

	var retained []MatchedPolicy
	hasAllow, hasDeny := false, false
	for _, m := range matched {
		if m.Manifest.Precedence != top {
			continue
		}
		retained = append(retained, m)
		if m.Effect == EffectAllow {
			hasAllow = true
		} else {
			hasDeny = true
		}
	}

	if hasAllow && hasDeny {
		var winner MatchedPolicy
		for _, m := range retained {
			if m.Effect == EffectDeny {
				winner = m
				break
			}
		}
		return ResolveResult{
			Winner: winner,
			Conflict: &ConflictRecord{
				WinningPrecedence: top,
				Contributors:      retained,
			},
		}, nil
	}

	return ResolveResult{Winner: retained[0]}, nil
}
