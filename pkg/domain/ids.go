// Package domain defines the typed identifiers shared across the registration
// core. IDs are validated at trust boundaries so services can assume they are
// well-formed.
package domain

import (
	"time"

	"github.com/google/uuid"

	dErrors "civreg/pkg/domain-errors"
)

// CitizenID identifies a registrant record.
type CitizenID uuid.UUID

// ActorID identifies an operating user (admin or citizen principal).
type ActorID uuid.UUID

// NewCitizenID returns a fresh random citizen ID.
func NewCitizenID() CitizenID { return CitizenID(uuid.New()) }

// NewActorID returns a fresh random actor ID.
func NewActorID() ActorID { return ActorID(uuid.New()) }

// ParseCitizenID validates and parses a citizen ID string.
// Rejects empty strings, malformed UUIDs, and the nil UUID.
func ParseCitizenID(s string) (CitizenID, error) {
	u, err := parseUUID(s, "citizen_id")
	return CitizenID(u), err
}

// ParseActorID validates and parses an actor ID string.
func ParseActorID(s string) (ActorID, error) {
	u, err := parseUUID(s, "actor_id")
	return ActorID(u), err
}

func parseUUID(s, field string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" must not be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, field+" is not a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" must not be the nil UUID")
	}
	return u, nil
}

func (id CitizenID) String() string { return uuid.UUID(id).String() }
func (id CitizenID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id ActorID) String() string { return uuid.UUID(id).String() }
func (id ActorID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// MarshalText renders the ID as its canonical UUID string so JSON snapshots
// stay readable.
func (id CitizenID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText parses the canonical UUID string form.
func (id *CitizenID) UnmarshalText(text []byte) error {
	parsed, err := ParseCitizenID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id ActorID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *ActorID) UnmarshalText(text []byte) error {
	parsed, err := ParseActorID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// NationalIDLength is the fixed width of an issued identity number:
// YYYYMMDD date prefix, 4-digit daily sequence, 4-digit random suffix.
const NationalIDLength = 16

// NationalID is the structured identity number issued to a verified
// individual. The zero value means "not yet assigned".
type NationalID string

// ParseNationalID validates the shape of an identity number: 16 digits whose
// first eight form a real calendar date.
func ParseNationalID(s string) (NationalID, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "national_id must not be empty")
	}
	if len(s) != NationalIDLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "national_id must be 16 digits")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", dErrors.New(dErrors.CodeInvalidInput, "national_id must contain only digits")
		}
	}
	if _, err := time.Parse("20060102", s[:8]); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInvalidInput, "national_id date prefix is not a valid date")
	}
	return NationalID(s), nil
}

func (n NationalID) String() string { return string(n) }
func (n NationalID) IsZero() bool   { return n == "" }

// DayPrefix returns the YYYYMMDD portion of the number.
func (n NationalID) DayPrefix() string {
	if len(n) < 8 {
		return ""
	}
	return string(n[:8])
}
