package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
)

// WebhookInbox keeps accepted notifications for the lifetime of the process.
type WebhookInbox struct {
	mu      sync.Mutex
	entries map[string]*domain.InboxEntry
}

func NewWebhookInbox() *WebhookInbox {
	return &WebhookInbox{entries: make(map[string]*domain.InboxEntry)}
}

func (b *WebhookInbox) Save(ctx context.Context, n domain.Notification, receivedAt time.Time) (bool, error) {
	_ = ctx

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.entries[n.EventID]; ok {
		return false, nil
	}
	b.entries[n.EventID] = &domain.InboxEntry{
		Notification: n,
		Status:       domain.InboxPending,
		ReceivedAt:   receivedAt.UTC(),
		UpdatedAt:    receivedAt.UTC(),
	}
	return true, nil
}

func (b *WebhookInbox) MarkDone(ctx context.Context, eventID string) error {
	_ = ctx

	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[eventID]
	if !ok {
		return domain.ErrInboxEntryNotFound
	}
	e.Status = domain.InboxDone
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (b *WebhookInbox) MarkFailed(ctx context.Context, eventID, reason string, dead bool) error {
	_ = ctx

	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[eventID]
	if !ok {
		return domain.ErrInboxEntryNotFound
	}
	if e.Status == domain.InboxDone {
		return nil
	}
	e.Attempts++
	e.LastError = reason
	if dead {
		e.Status = domain.InboxDead
	}
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (b *WebhookInbox) Pending(ctx context.Context, limit int) ([]domain.InboxEntry, error) {
	_ = ctx

	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]domain.InboxEntry, 0)
	for _, e := range b.entries {
		if e.Status == domain.InboxPending {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Entry returns a copy of the stored entry; tests assert on it.
func (b *WebhookInbox) Entry(eventID string) (domain.InboxEntry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[eventID]
	if !ok {
		return domain.InboxEntry{}, false
	}
	return *e, true
}
