package memory

import (
	"context"
	"strings"
	"sync"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/catalog"
)

type CatalogRepository struct {
	mu     sync.RWMutex
	prices map[string]domain.Price
}

func NewCatalogRepository() *CatalogRepository {
	return &CatalogRepository{prices: make(map[string]domain.Price)}
}

func (r *CatalogRepository) PriceOf(ctx context.Context, productID string) (*domain.Price, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.prices[productID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (r *CatalogRepository) PutPrice(ctx context.Context, p domain.Price) error {
	_ = ctx
	if err := p.Validate(); err != nil {
		return err
	}
	p.Currency = strings.ToUpper(p.Currency)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prices[p.ProductID] = p
	return nil
}
