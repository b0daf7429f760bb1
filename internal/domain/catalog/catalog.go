// Package catalog holds the prices checkout charges. Clients name products and
// quantities; what a unit costs is decided here.
package catalog

import (
	"context"
	"errors"
)

var (
	ErrNotFound     = errors.New("catalog: product has no price")
	ErrInvalidPrice = errors.New("catalog: invalid price")
)

// Price is the unit price of a product in minor units of Currency.
type Price struct {
	ProductID string
	UnitPrice int64
	Currency  string
}

func (p Price) Validate() error {
	if p.ProductID == "" || p.UnitPrice <= 0 || len(p.Currency) != 3 {
		return ErrInvalidPrice
	}
	return nil
}

type Repository interface {
	PriceOf(ctx context.Context, productID string) (*Price, error)
	PutPrice(ctx context.Context, p Price) error
}
