// Package identity owns identity-number issuance and the canonical record
// used for verification matching.
package identity

import (
	"time"

	id "civreg/pkg/domain"
)

// Record is the canonical, pre-existing source-of-truth identity record.
// Read-mostly; written once at issuance.
type Record struct {
	NationalID  id.NationalID
	FullName    string
	DateOfBirth string // 2006-01-02
	Gender      string
	IssuedAt    time.Time
}

// Claims are the fields a registrant submits for verification matching.
type Claims struct {
	FullName    string `json:"full_name"`
	DateOfBirth string `json:"date_of_birth"`
	Gender      string `json:"gender"`
}

// VerificationResult is the outcome of matching claims against the record.
// Score is binary (100 or 0) under the baseline policy; the shape stays the
// same if a weighted scorer is plugged in.
type VerificationResult struct {
	NationalID id.NationalID `json:"national_id"`
	Valid      bool          `json:"is_valid"`
	Score      int           `json:"match_score"`
	Mismatches []string      `json:"mismatches,omitempty"`
}

// Mismatch reason recorded when no canonical record exists for the number.
const MismatchNotFound = "not-found"

// VerificationAttempt is the immutable history row persisted for every
// verification call, matched or not. Distinct from the audit trail but
// analogous to it.
type VerificationAttempt struct {
	NationalID id.NationalID
	Valid      bool
	Score      int
	Mismatches []string
	At         time.Time
}
