// Package scoring defines the pluggable match-scoring seam used by identity
// verification. The baseline implementation is deterministic field equality;
// real deployments can plug a weighted or fuzzy scorer without touching the
// verification contract.
package scoring

import "strings"

// Fields are the normalized claim/record fields compared during verification.
type Fields struct {
	FullName    string
	DateOfBirth string // 2006-01-02
	Gender      string
}

// Scorer rates how well a claimed identity matches the canonical record.
// Score returns a value in [0, 1]; 1 means a full match.
type Scorer interface {
	Score(claimed, canonical Fields) float64
}

// BinaryScorer is the baseline policy: 1 when every compared field matches,
// 0 otherwise. Names and gender are compared case-insensitively after
// trimming; dates are compared exactly on their normalized form.
type BinaryScorer struct{}

func (BinaryScorer) Score(claimed, canonical Fields) float64 {
	if len(Mismatches(claimed, canonical)) == 0 {
		return 1
	}
	return 0
}

// Mismatches returns the names of fields that differ, in a stable order.
func Mismatches(claimed, canonical Fields) []string {
	var out []string
	if !equalFold(claimed.FullName, canonical.FullName) {
		out = append(out, "full_name")
	}
	if strings.TrimSpace(claimed.DateOfBirth) != strings.TrimSpace(canonical.DateOfBirth) {
		out = append(out, "date_of_birth")
	}
	if !equalFold(claimed.Gender, canonical.Gender) {
		out = append(out, "gender")
	}
	return out
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
