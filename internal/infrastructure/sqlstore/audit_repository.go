package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/audit"
)

// AuditRepository is insert and select only; entries are never updated.
type AuditRepository struct {
	s *Store
}

func (r *AuditRepository) Append(ctx context.Context, e domain.Entry) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("audit repository: encode metadata: %w", err)
	}
	_, err = r.s.db.ExecContext(ctx, r.s.q(
		`INSERT INTO audit_log (id, action, resource_type, resource_id, actor, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		e.ID, string(e.Action), e.ResourceType, e.ResourceID, e.Actor, string(meta), toNanos(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("audit repository: insert: %w", err)
	}
	return nil
}

func (r *AuditRepository) List(ctx context.Context, resourceType, resourceID string) ([]domain.Entry, error) {
	rows, err := r.s.db.QueryContext(ctx, r.s.q(
		`SELECT id, action, resource_type, resource_id, actor, metadata, created_at
		FROM audit_log WHERE resource_type = ? AND resource_id = ? ORDER BY id`),
		resourceType, resourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("audit repository: list: %w", err)
	}
	defer rows.Close()

	var out []domain.Entry
	for rows.Next() {
		var (
			e         domain.Entry
			action    string
			meta      string
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &action, &e.ResourceType, &e.ResourceID, &e.Actor, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("audit repository: scan: %w", err)
		}
		e.Action = domain.Action(action)
		e.CreatedAt = fromNanos(createdAt)
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return nil, fmt.Errorf("audit repository: decode metadata: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
