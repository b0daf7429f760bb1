package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
)

type OrderRepository struct {
	mu          sync.RWMutex
	orders      map[string]*domain.Order
	idempotency map[string]string
	paymentRefs map[string]string
	// failUpdates makes Update and UpdateIfPaymentStatus fail; tests use it to
	// simulate a store outage after stock moved.
	failUpdates error
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:      make(map[string]*domain.Order),
		idempotency: make(map[string]string),
		paymentRefs: make(map[string]string),
	}
}

func (r *OrderRepository) Insert(ctx context.Context, order *domain.Order) error {
	_ = ctx
	if order == nil || order.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return domain.ErrConflict
	}
	idemKey := idempotencyKey(order.CustomerID, order.IdempotencyKey)
	if order.IdempotencyKey != "" {
		if existingID, exists := r.idempotency[idemKey]; exists {
			if _, ok := r.orders[existingID]; ok {
				return domain.ErrConflict
			}
		}
	}

	stored := order.Clone()
	stored.Version = 1
	r.orders[order.ID] = stored
	order.Version = stored.Version
	if order.IdempotencyKey != "" {
		r.idempotency[idemKey] = order.ID
	}
	r.indexRefs(stored)
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	return order.Clone(), nil
}

func (r *OrderRepository) FindByPaymentRef(ctx context.Context, ref string) (*domain.Order, error) {
	_ = ctx
	if ref == "" {
		return nil, domain.ErrNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.paymentRefs[ref]
	if !ok {
		return nil, domain.ErrNotFound
	}
	order, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return order.Clone(), nil
}

func (r *OrderRepository) FindByIdempotency(ctx context.Context, customerID, key string) (*domain.Order, error) {
	_ = ctx
	if key == "" {
		return nil, domain.ErrNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	orderID, ok := r.idempotency[idempotencyKey(customerID, key)]
	if !ok {
		return nil, domain.ErrNotFound
	}

	order, found := r.orders[orderID]
	if !found {
		return nil, domain.ErrNotFound
	}

	return order.Clone(), nil
}

func (r *OrderRepository) Update(ctx context.Context, order *domain.Order) error {
	_ = ctx
	if order == nil || order.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failUpdates != nil {
		return r.failUpdates
	}
	current, exists := r.orders[order.ID]
	if !exists {
		return domain.ErrNotFound
	}
	r.store(current, order)
	return nil
}

func (r *OrderRepository) UpdateIfPaymentStatus(ctx context.Context, order *domain.Order, expected domain.PaymentStatus) error {
	_ = ctx
	if order == nil || order.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failUpdates != nil {
		return r.failUpdates
	}
	current, exists := r.orders[order.ID]
	if !exists {
		return domain.ErrNotFound
	}
	if current.PaymentStatus != expected || current.Version != order.Version {
		return domain.ErrConflict
	}
	r.store(current, order)
	return nil
}

// FailUpdates makes every later update return err; nil restores normal behaviour.
func (r *OrderRepository) FailUpdates(err error) {
	r.mu.Lock()
	r.failUpdates = err
	r.mu.Unlock()
}

func (r *OrderRepository) store(current, order *domain.Order) {
	stored := order.Clone()
	stored.Version = current.Version + 1
	r.orders[order.ID] = stored
	order.Version = stored.Version
	r.indexRefs(stored)
}

func (r *OrderRepository) indexRefs(order *domain.Order) {
	if order.PaymentRef != "" {
		r.paymentRefs[order.PaymentRef] = order.ID
	}
	if order.CaptureID != "" {
		r.paymentRefs[order.CaptureID] = order.ID
	}
}

func idempotencyKey(customerID, key string) string {
	return customerID + "|" + key
}
