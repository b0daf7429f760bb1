package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
)

// WebhookInbox stores accepted notifications in webhook_events. The event id
// primary key makes Save idempotent across provider redeliveries.
type WebhookInbox struct {
	s *Store
}

func (r *WebhookInbox) Save(ctx context.Context, n domain.Notification, receivedAt time.Time) (bool, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return false, fmt.Errorf("webhook inbox: encode: %w", err)
	}
	created, err := r.s.insertIgnoring(ctx, r.s.db,
		`INSERT INTO webhook_events (event_id, provider, kind, payload, status, attempts, last_error, received_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, '', ?, ?)
		ON CONFLICT DO NOTHING`,
		n.EventID, string(n.Provider), string(n.Kind), string(payload), string(domain.InboxPending),
		toNanos(receivedAt), toNanos(receivedAt),
	)
	if err != nil {
		return false, fmt.Errorf("webhook inbox: insert: %w", err)
	}
	return created, nil
}

func (r *WebhookInbox) MarkDone(ctx context.Context, eventID string) error {
	res, err := r.s.db.ExecContext(ctx, r.s.q(
		`UPDATE webhook_events SET status = ?, updated_at = ? WHERE event_id = ?`),
		string(domain.InboxDone), toNanos(time.Now()), eventID,
	)
	if err != nil {
		return fmt.Errorf("webhook inbox: mark done: %w", err)
	}
	return expectRow(res)
}

func (r *WebhookInbox) MarkFailed(ctx context.Context, eventID, reason string, dead bool) error {
	status := domain.InboxPending
	if dead {
		status = domain.InboxDead
	}
	res, err := r.s.db.ExecContext(ctx, r.s.q(
		`UPDATE webhook_events SET status = ?, attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE event_id = ? AND status <> ?`),
		string(status), reason, toNanos(time.Now()), eventID, string(domain.InboxDone),
	)
	if err != nil {
		return fmt.Errorf("webhook inbox: mark failed: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		var one int
		if err := r.s.db.QueryRowContext(ctx, r.s.q(`SELECT 1 FROM webhook_events WHERE event_id = ?`), eventID).Scan(&one); err != nil {
			return domain.ErrInboxEntryNotFound
		}
	}
	return nil
}

func (r *WebhookInbox) Pending(ctx context.Context, limit int) ([]domain.InboxEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.s.db.QueryContext(ctx, r.s.q(
		`SELECT payload, status, attempts, last_error, received_at, updated_at
		FROM webhook_events WHERE status = ? ORDER BY received_at LIMIT ?`),
		string(domain.InboxPending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("webhook inbox: pending: %w", err)
	}
	defer rows.Close()

	var out []domain.InboxEntry
	for rows.Next() {
		var (
			e                 domain.InboxEntry
			payload, status   string
			received, updated int64
		)
		if err := rows.Scan(&payload, &status, &e.Attempts, &e.LastError, &received, &updated); err != nil {
			return nil, fmt.Errorf("webhook inbox: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &e.Notification); err != nil {
			return nil, fmt.Errorf("webhook inbox: decode: %w", err)
		}
		e.Status = domain.InboxStatus(status)
		e.ReceivedAt = fromNanos(received)
		e.UpdatedAt = fromNanos(updated)
		out = append(out, e)
	}
	return out, rows.Err()
}

func expectRow(res interface{ RowsAffected() (int64, error) }) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("webhook inbox: rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrInboxEntryNotFound
	}
	return nil
}
