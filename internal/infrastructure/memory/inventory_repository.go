package memory

import (
	"context"
	"sort"
	"sync"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
)

// InventoryRepository keeps the movement ledger and the per-product counter
// behind one mutex, so Apply is atomic.
type InventoryRepository struct {
	mu        sync.RWMutex
	available map[string]int
	movements []domain.Movement
	keys      map[string]struct{}
}

func NewInventoryRepository() *InventoryRepository {
	return &InventoryRepository{
		available: make(map[string]int),
		keys:      make(map[string]struct{}),
	}
}

func (r *InventoryRepository) Apply(ctx context.Context, movements []domain.Movement) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range movements {
		if _, exists := r.keys[m.Key()]; exists {
			return domain.ErrDuplicateMovement
		}
	}

	next := make(map[string]int, len(movements))
	var shortages []domain.Shortage
	for _, m := range movements {
		if m.Quantity <= 0 {
			return domain.ErrInvalidQuantity
		}
		current, ok := next[m.ProductID]
		if !ok {
			current = r.available[m.ProductID]
		}
		updated, err := domain.CheckedAdd(current, m.Delta())
		switch {
		case err == domain.ErrInsufficientStock:
			shortages = append(shortages, domain.Shortage{
				ProductID: m.ProductID,
				Requested: m.Quantity,
				Available: current,
			})
			continue
		case err != nil:
			return err
		}
		next[m.ProductID] = updated
	}
	if len(shortages) > 0 {
		return &domain.ShortageError{Shortages: shortages}
	}

	for id, qty := range next {
		r.available[id] = qty
	}
	for _, m := range movements {
		r.keys[m.Key()] = struct{}{}
		r.movements = append(r.movements, m)
	}
	return nil
}

func (r *InventoryRepository) Available(ctx context.Context, productID string) (int, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	qty, ok := r.available[productID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return qty, nil
}

func (r *InventoryRepository) MovementsByOrder(ctx context.Context, orderID string) ([]domain.Movement, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Movement
	for _, m := range r.movements {
		if m.OrderID == orderID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
