package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/coupon"
)

type CouponRepository struct {
	s *Store
}

// Put adds or replaces a coupon, keyed by id; codes are stored upper-cased.
func (r *CouponRepository) Put(ctx context.Context, c domain.Coupon) error {
	_, err := r.s.db.ExecContext(ctx, r.s.q(
		`INSERT INTO coupons (id, code, active, percent_off, amount_off) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET code = excluded.code, active = excluded.active,
			percent_off = excluded.percent_off, amount_off = excluded.amount_off`),
		c.ID, strings.ToUpper(c.Code), c.Active, c.PercentOff, c.AmountOff,
	)
	if err != nil {
		return fmt.Errorf("coupon repository: put: %w", err)
	}
	return nil
}

func (r *CouponRepository) Delete(ctx context.Context, code string) error {
	_, err := r.s.db.ExecContext(ctx, r.s.q(`DELETE FROM coupons WHERE code = ?`), strings.ToUpper(code))
	if err != nil {
		return fmt.Errorf("coupon repository: delete: %w", err)
	}
	return nil
}

func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	var c domain.Coupon
	err := r.s.db.QueryRowContext(ctx, r.s.q(
		`SELECT id, code, active, percent_off, amount_off FROM coupons WHERE code = ?`),
		strings.ToUpper(code),
	).Scan(&c.ID, &c.Code, &c.Active, &c.PercentOff, &c.AmountOff)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("coupon repository: select: %w", err)
	}
	return &c, nil
}

func (r *CouponRepository) RecordUsage(ctx context.Context, u domain.Usage) error {
	ok, err := r.s.insertIgnoring(ctx, r.s.db,
		`INSERT INTO coupon_usages (order_id, coupon_id, user_id, discount_amount, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		u.OrderID, u.CouponID, u.UserID, u.DiscountAmount, toNanos(u.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("coupon repository: record usage: %w", err)
	}
	if !ok {
		return domain.ErrUsageExists
	}
	return nil
}

// UsagesByOrder returns the usage recorded for orderID, if any.
func (r *CouponRepository) UsagesByOrder(ctx context.Context, orderID string) ([]domain.Usage, error) {
	rows, err := r.s.db.QueryContext(ctx, r.s.q(
		`SELECT order_id, coupon_id, user_id, discount_amount, created_at FROM coupon_usages WHERE order_id = ?`), orderID)
	if err != nil {
		return nil, fmt.Errorf("coupon repository: usages: %w", err)
	}
	defer rows.Close()

	var out []domain.Usage
	for rows.Next() {
		var (
			u         domain.Usage
			createdAt int64
		)
		if err := rows.Scan(&u.OrderID, &u.CouponID, &u.UserID, &u.DiscountAmount, &createdAt); err != nil {
			return nil, fmt.Errorf("coupon repository: scan usage: %w", err)
		}
		u.CreatedAt = fromNanos(createdAt)
		out = append(out, u)
	}
	return out, rows.Err()
}
