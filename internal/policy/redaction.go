package policy

import "github.com/antoniostano/piiguard/internal/pii"

// Redactable keeps the candidates whose kind the policy blocks.
func Redactable(p Policy, candidates []pii.Candidate) []pii.Candidate {
	out := make([]pii.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if IsKindBlocked(p, c.Kind) {
			out = append(out, c)
		}
	}
	return out
}
