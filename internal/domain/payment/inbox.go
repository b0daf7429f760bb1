package payment

import (
	"context"
	"errors"
	"time"
)

var ErrInboxEntryNotFound = errors.New("payment: inbox entry not found")

// InboxStatus tracks an accepted webhook notification until it was applied.
type InboxStatus string

const (
	InboxPending InboxStatus = "pending"
	InboxDone    InboxStatus = "done"
	// InboxDead means the notification will not be retried; an operator has to look at it.
	InboxDead InboxStatus = "dead"
)

// InboxEntry is a stored notification and its processing history.
type InboxEntry struct {
	Notification Notification
	Status       InboxStatus
	Attempts     int
	LastError    string
	ReceivedAt   time.Time
	UpdatedAt    time.Time
}

// Inbox keeps accepted notifications durable between the webhook answer and
// their successful application. Entries are keyed by the provider event id.
type Inbox interface {
	// Save stores n as pending unless its event id is known; created is false for a known id.
	Save(ctx context.Context, n Notification, receivedAt time.Time) (created bool, err error)
	MarkDone(ctx context.Context, eventID string) error
	// MarkFailed counts one failed attempt. A dead entry is never listed as pending again.
	MarkFailed(ctx context.Context, eventID, reason string, dead bool) error
	// Pending lists entries waiting to be applied, oldest first.
	Pending(ctx context.Context, limit int) ([]InboxEntry, error)
}
