// Package citizen owns the registrant record and its registration lifecycle.
// All mutation goes through the state machine in statemachine.go; stores only
// persist what the machine produced.
package citizen

import (
	"encoding/json"
	"time"

	id "civreg/pkg/domain"
)

// RegistrationStatus is the closed lifecycle enumeration.
type RegistrationStatus string

const (
	StatusPending               RegistrationStatus = "pending"
	StatusBiometricVerification RegistrationStatus = "biometric_verification"
	StatusDocumentVerification  RegistrationStatus = "document_verification"
	StatusNidaVerification      RegistrationStatus = "nida_verification"
	StatusApproved              RegistrationStatus = "approved"
	StatusRejected              RegistrationStatus = "rejected"
)

// Valid reports whether the status belongs to the closed vocabulary.
func (s RegistrationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusBiometricVerification, StatusDocumentVerification,
		StatusNidaVerification, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// StatusChange is one entry of the append-only status history.
type StatusChange struct {
	Status RegistrationStatus `json:"status"`
	At     time.Time          `json:"at"`
	Actor  id.ActorID         `json:"actor"`
	Note   string             `json:"note,omitempty"`
}

// Citizen is the registrant record. Personal, biometric, and document
// payloads are opaque blobs to this core; they are attached by transitions
// and never interpreted.
//
// Invariant: StatusHistory is non-empty and its last entry's status equals
// Status. applyTransition is the only mutator and maintains this.
type Citizen struct {
	ID               id.CitizenID
	NationalID       id.NationalID // zero until NIDA verification attaches one
	PersonalData     json.RawMessage
	BiometricData    json.RawMessage
	DocumentData     json.RawMessage
	Status           RegistrationStatus
	RejectionReason  string // set only in StatusRejected
	StatusHistory    []StatusChange
	Active           bool // logical deactivation; records referenced by audit are never deleted
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// New creates a citizen in Pending with its initial history entry.
func New(citizenID id.CitizenID, actor id.ActorID, personal json.RawMessage, now time.Time) *Citizen {
	return &Citizen{
		ID:           citizenID,
		PersonalData: personal,
		Status:       StatusPending,
		StatusHistory: []StatusChange{{
			Status: StatusPending,
			At:     now,
			Actor:  actor,
			Note:   "registered",
		}},
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Snapshot is the read model returned to callers. It is a value copy so the
// caller cannot reach back into stored state.
type Snapshot struct {
	ID              id.CitizenID       `json:"id"`
	NationalID      id.NationalID      `json:"national_id,omitempty"`
	Status          RegistrationStatus `json:"status"`
	RejectionReason string             `json:"rejection_reason,omitempty"`
	StatusHistory   []StatusChange     `json:"status_history"`
	Active          bool               `json:"active"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Snapshot produces a defensive copy of the citizen's externally visible state.
func (c *Citizen) Snapshot() Snapshot {
	history := make([]StatusChange, len(c.StatusHistory))
	copy(history, c.StatusHistory)
	return Snapshot{
		ID:              c.ID,
		NationalID:      c.NationalID,
		Status:          c.Status,
		RejectionReason: c.RejectionReason,
		StatusHistory:   history,
		Active:          c.Active,
		UpdatedAt:       c.UpdatedAt,
	}
}

// clone deep-copies the record so in-memory stores hand out isolated values.
func (c *Citizen) clone() *Citizen {
	dup := *c
	dup.StatusHistory = make([]StatusChange, len(c.StatusHistory))
	copy(dup.StatusHistory, c.StatusHistory)
	dup.PersonalData = append(json.RawMessage(nil), c.PersonalData...)
	dup.BiometricData = append(json.RawMessage(nil), c.BiometricData...)
	dup.DocumentData = append(json.RawMessage(nil), c.DocumentData...)
	return &dup
}
