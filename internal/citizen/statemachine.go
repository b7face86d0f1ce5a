package citizen

import (
	"encoding/json"
	"time"

	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
)

// transitions is the closed table of allowed moves. Stages may be skipped:
// verification order is a business choice, only forward progress (plus the
// single Rejected -> Pending resubmission loop) is structurally enforced.
var transitions = map[RegistrationStatus][]RegistrationStatus{
	StatusPending:               {StatusBiometricVerification, StatusDocumentVerification, StatusNidaVerification, StatusApproved, StatusRejected},
	StatusBiometricVerification: {StatusDocumentVerification, StatusNidaVerification, StatusApproved, StatusRejected},
	StatusDocumentVerification:  {StatusNidaVerification, StatusApproved, StatusRejected},
	StatusNidaVerification:      {StatusApproved, StatusRejected},
	StatusApproved:              {},
	StatusRejected:              {StatusPending},
}

// Terminal reports whether the status has no outgoing transitions except the
// documented resubmission loop.
func Terminal(s RegistrationStatus) bool {
	return s == StatusApproved || s == StatusRejected
}

// Allowed reports whether the table permits from -> to. A status is never in
// its own allowed set, so re-attempting a transition is always illegal.
func Allowed(from, to RegistrationStatus) bool {
	for _, target := range transitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// TransitionPayload carries the mutation applied together with a status
// change. Exactly the fields relevant to the target status are consumed.
type TransitionPayload struct {
	Biometric       json.RawMessage
	Documents       json.RawMessage
	NationalID      id.NationalID
	RejectionReason string
	Note            string
}

// ApplyTransition validates targetStatus against the current state and, on
// success, mutates the citizen in place: payload attachment, status change,
// and history append happen together so the history invariant holds.
//
// Authorization is deliberately not checked here; the workflow facade gates
// the capability before calling in and audits the outcome.
func ApplyTransition(c *Citizen, targetStatus RegistrationStatus, actor id.ActorID, payload TransitionPayload, now time.Time) error {
	if !targetStatus.Valid() {
		return dErrors.Newf(dErrors.CodeValidationFailed, "unknown target status %q", targetStatus)
	}

	if Terminal(c.Status) && !Allowed(c.Status, targetStatus) {
		return dErrors.Newf(dErrors.CodeInvalidState,
			"citizen is %s; no further transitions allowed", c.Status)
	}

	if !Allowed(c.Status, targetStatus) {
		return dErrors.Newf(dErrors.CodeIllegalTransition,
			"cannot move from %s to %s", c.Status, targetStatus)
	}

	switch targetStatus {
	case StatusApproved:
		// Terminal-state validation: the table already guarantees the current
		// status is not terminal, nothing more to check for approval.
	case StatusRejected:
		if payload.RejectionReason == "" {
			return dErrors.New(dErrors.CodeValidationFailed, "rejection requires a non-empty reason")
		}
	case StatusNidaVerification:
		if payload.NationalID.IsZero() {
			return dErrors.New(dErrors.CodeValidationFailed, "nida verification requires a verified identity number")
		}
	}

	applyPayload(c, targetStatus, payload)

	note := payload.Note
	if targetStatus == StatusRejected {
		note = payload.RejectionReason
	}
	c.Status = targetStatus
	c.StatusHistory = append(c.StatusHistory, StatusChange{
		Status: targetStatus,
		At:     now,
		Actor:  actor,
		Note:   note,
	})
	c.UpdatedAt = now
	return nil
}

func applyPayload(c *Citizen, targetStatus RegistrationStatus, payload TransitionPayload) {
	switch targetStatus {
	case StatusBiometricVerification:
		if len(payload.Biometric) > 0 {
			c.BiometricData = payload.Biometric
		}
	case StatusDocumentVerification:
		if len(payload.Documents) > 0 {
			c.DocumentData = payload.Documents
		}
	case StatusNidaVerification:
		c.NationalID = payload.NationalID
	case StatusRejected:
		c.RejectionReason = payload.RejectionReason
	case StatusPending:
		// Resubmission: earlier evidence payloads and any attached identity
		// number are preserved for audit continuity; the rejection reason
		// described the previous attempt and is cleared.
		c.RejectionReason = ""
	}
}
