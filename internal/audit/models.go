// Package audit provides the append-only trail recorded for every workflow
// transition attempt and every authorization decision of consequence.
// Entries are immutable: never updated, never deleted.
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	id "civreg/pkg/domain"
)

// Action describes what operation an entry records.
type Action string

const (
	ActionCitizenRegistered   Action = "citizen_registered"
	ActionStatusTransition    Action = "status_transition"
	ActionCitizenResubmitted  Action = "citizen_resubmitted"
	ActionIdentityIssued      Action = "identity_issued"
	ActionIdentityVerified    Action = "identity_verified"
	ActionAuthorizationDenied Action = "authorization_denied"
	ActionNotificationSent    Action = "notification_sent"
)

// Outcome records how the attempted operation ended.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeDenied  Outcome = "denied"
	OutcomeFailed  Outcome = "failed"
)

// Entry is one immutable audit record. Before/After hold JSON snapshots of
// the mutated fields; they are empty for denied attempts that changed
// nothing.
type Entry struct {
	ID         uuid.UUID
	Action     Action
	EntityType string
	EntityID   string
	Actor      id.ActorID
	Timestamp  time.Time
	Before     json.RawMessage
	After      json.RawMessage
	Outcome    Outcome
	Reason     string
	RequestID  string
}

// EntityTypeCitizen and friends name the audited aggregate kinds.
const (
	EntityTypeCitizen  = "citizen"
	EntityTypeIdentity = "identity_record"
)

// Filter narrows audit queries. Zero fields are ignored; set fields are
// combined with AND.
type Filter struct {
	EntityType string
	EntityID   string
	Actor      id.ActorID
	Actions    []Action
	From       time.Time
	To         time.Time
	Limit      int
}
