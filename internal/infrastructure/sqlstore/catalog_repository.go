package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/catalog"
)

type CatalogRepository struct {
	s *Store
}

func (r *CatalogRepository) PriceOf(ctx context.Context, productID string) (*domain.Price, error) {
	p := domain.Price{ProductID: productID}
	err := r.s.db.QueryRowContext(ctx, r.s.q(
		`SELECT unit_price, currency FROM product_prices WHERE product_id = ?`), productID,
	).Scan(&p.UnitPrice, &p.Currency)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog repository: lookup: %w", err)
	}
	return &p, nil
}

func (r *CatalogRepository) PutPrice(ctx context.Context, p domain.Price) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := r.s.db.ExecContext(ctx, r.s.q(
		`INSERT INTO product_prices (product_id, unit_price, currency) VALUES (?, ?, ?)
		ON CONFLICT (product_id) DO UPDATE SET unit_price = excluded.unit_price, currency = excluded.currency`),
		p.ProductID, p.UnitPrice, strings.ToUpper(p.Currency),
	)
	if err != nil {
		return fmt.Errorf("catalog repository: put: %w", err)
	}
	return nil
}
