// Package notify is the outbound notification seam. Delivery transport is out
// of scope for the registration core; the workflow calls the hook after a
// terminal transition commits and moves on.
package notify

import (
	"context"
	"log/slog"

	id "civreg/pkg/domain"
)

// Event describes a registration outcome worth telling the registrant about.
type Event struct {
	CitizenID id.CitizenID `json:"citizen_id"`
	Status    string       `json:"status"`           // terminal registration status reached
	Reason    string       `json:"reason,omitempty"` // rejection reason, empty on approval
}

// Notifier receives terminal-transition events. Implementations must not
// block the caller; failures are their own to handle since the transition
// has already committed.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// LogNotifier writes events to the log. It stands in until a delivery
// channel (SMS, email) is wired.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log.With("component", "notify")}
}

func (n *LogNotifier) Notify(ctx context.Context, event Event) {
	n.log.InfoContext(ctx, "registration outcome notification",
		"citizen_id", event.CitizenID,
		"status", event.Status,
		"reason", event.Reason,
	)
}
