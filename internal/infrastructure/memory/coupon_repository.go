package memory

import (
	"context"
	"strings"
	"sync"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/coupon"
)

type CouponRepository struct {
	mu      sync.RWMutex
	coupons map[string]domain.Coupon
	usages  map[string]domain.Usage
}

func NewCouponRepository() *CouponRepository {
	return &CouponRepository{
		coupons: make(map[string]domain.Coupon),
		usages:  make(map[string]domain.Usage),
	}
}

// Put adds or replaces a coupon, keyed by its upper-cased code.
func (r *CouponRepository) Put(ctx context.Context, c domain.Coupon) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	c.Code = strings.ToUpper(c.Code)
	r.coupons[c.Code] = c
	return nil
}

// Delete removes a coupon; usages already recorded stay.
func (r *CouponRepository) Delete(ctx context.Context, code string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.coupons, strings.ToUpper(code))
	return nil
}

func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.coupons[strings.ToUpper(code)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (r *CouponRepository) RecordUsage(ctx context.Context, u domain.Usage) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.usages[u.OrderID]; exists {
		return domain.ErrUsageExists
	}
	r.usages[u.OrderID] = u
	return nil
}

// UsagesByOrder returns the usage recorded for orderID, if any.
func (r *CouponRepository) UsagesByOrder(ctx context.Context, orderID string) ([]domain.Usage, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.usages[orderID]
	if !ok {
		return nil, nil
	}
	return []domain.Usage{u}, nil
}
