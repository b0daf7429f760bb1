package memory

import (
	"context"
	"maps"
	"sync"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/audit"
)

type AuditRepository struct {
	mu      sync.RWMutex
	entries []domain.Entry
}

func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

func (r *AuditRepository) Append(ctx context.Context, e domain.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e.Metadata = maps.Clone(e.Metadata)
	r.entries = append(r.entries, e)
	return nil
}

func (r *AuditRepository) List(ctx context.Context, resourceType, resourceID string) ([]domain.Entry, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Entry
	for _, e := range r.entries {
		if e.ResourceType == resourceType && e.ResourceID == resourceID {
			out = append(out, e)
		}
	}
	return out, nil
}

// CountAction returns how many entries carry action.
func (r *AuditRepository) CountAction(action domain.Action) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.entries {
		if e.Action == action {
			n++
		}
	}
	return n
}
