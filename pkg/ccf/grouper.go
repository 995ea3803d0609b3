package ccf

import (
	"fmt"

	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/numeric"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/schema"
)

// Assignment records which group shaped a risk's probability.
type Assignment struct {
	GroupID    string  `json:"group_id"`
	BetaFactor float64 `json:"beta_factor"`
	PCommon    float64 `json:"p_common"`
}

// Result is the CCF stage output.
type Result struct {
	Probs       map[string]float64    `json:"probs"`
	Assignments map[string]Assignment `json:"assignments,omitempty"`
	Warnings    []string              `json:"warnings,omitempty"`
	// Problems lists structural issues that strict callers treat as errors.
	Problems []string `json:"-"`
}

// Apply blends each group member with the group's worst member:
// p_ccf = (1-beta)*p + beta*max(p_group). Risks outside every group pass
// through unchanged. A risk claimed by several groups stays with the first;
// members missing from probs are ignored.
func Apply(probs map[string]float64, groups []schema.CCFGroup) Result {
	result := Result{
		Probs:       make(map[string]float64, len(probs)),
		Assignments: make(map[string]Assignment),
	}
	for id, p := range probs {
		result.Probs[id] = numeric.Clamp01(p)
	}

	owner := make(map[string]string)
	for _, group := range groups {
		beta := numeric.Clamp01(group.BetaFactor)
		members := make([]string, 0, len(group.Members))
		for _, member := range group.Members {
			if _, ok := probs[member]; !ok {
				result.problem(fmt.Sprintf("ccf group %s member %s is not a known risk", group.GroupID, member))
				continue
			}
			if prev, taken := owner[member]; taken {
				result.problem(fmt.Sprintf("risk %s is in ccf groups %s and %s; keeping %s", member, prev, group.GroupID, prev))
				continue
			}
			owner[member] = group.GroupID
			members = append(members, member)
		}
		if len(members) == 0 {
			continue
		}

		pCommon := 0.0
		for _, member := range members {
			if p := result.Probs[member]; p > pCommon {
				pCommon = p
			}
		}
		for _, member := range members {
			p := result.Probs[member]
			result.Probs[member] = numeric.Clamp01((1-beta)*p + beta*pCommon)
			result.Assignments[member] = Assignment{GroupID: group.GroupID, BetaFactor: beta, PCommon: pCommon}
		}
	}
	return result
}

func (r *Result) problem(msg string) {
	r.Problems = append(r.Problems, msg)
	r.Warnings = append(r.Warnings, msg)
}
