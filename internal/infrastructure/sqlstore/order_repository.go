package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
)

type OrderRepository struct {
	s *Store
}

const orderColumns = `id, customer_id, idempotency_key, items, currency, subtotal, coupon_code,
	discount_amount, amount, payment_ref, capture_id, status, payment_status, notes, version,
	created_at, updated_at`

func (r *OrderRepository) Insert(ctx context.Context, order *domain.Order) error {
	if order == nil || order.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}
	items, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("order repository: encode items: %w", err)
	}
	ok, err := r.s.insertIgnoring(ctx, r.s.db,
		`INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		order.ID, order.CustomerID, order.IdempotencyKey, string(items), order.Currency, order.Subtotal,
		order.CouponCode, order.DiscountAmount, order.Amount, order.PaymentRef, order.CaptureID,
		string(order.Status), string(order.PaymentStatus), order.Notes, int64(1),
		toNanos(order.CreatedAt), toNanos(order.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("order repository: insert: %w", err)
	}
	if !ok {
		return domain.ErrConflict
	}
	order.Version = 1
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	return r.one(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
}

func (r *OrderRepository) FindByPaymentRef(ctx context.Context, ref string) (*domain.Order, error) {
	if ref == "" {
		return nil, domain.ErrNotFound
	}
	return r.one(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_ref = ? OR capture_id = ? LIMIT 1`, ref, ref)
}

func (r *OrderRepository) FindByIdempotency(ctx context.Context, customerID, key string) (*domain.Order, error) {
	if key == "" {
		return nil, domain.ErrNotFound
	}
	return r.one(ctx, `SELECT `+orderColumns+` FROM orders WHERE customer_id = ? AND idempotency_key = ?`, customerID, key)
}

func (r *OrderRepository) Update(ctx context.Context, order *domain.Order) error {
	n, err := r.update(ctx, order, `WHERE id = ?`, order.ID)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *OrderRepository) UpdateIfPaymentStatus(ctx context.Context, order *domain.Order, expected domain.PaymentStatus) error {
	n, err := r.update(ctx, order, `WHERE id = ? AND payment_status = ? AND version = ?`,
		order.ID, string(expected), order.Version)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := r.Get(ctx, order.ID); err != nil {
		return err
	}
	return domain.ErrConflict
}

func (r *OrderRepository) update(ctx context.Context, order *domain.Order, where string, args ...any) (int64, error) {
	if order == nil || order.ID == "" {
		return 0, fmt.Errorf("order repository: id is required")
	}
	res, err := r.s.db.ExecContext(ctx, r.s.q(`UPDATE orders SET
		payment_ref = ?, capture_id = ?, status = ?, payment_status = ?, notes = ?,
		version = version + 1, updated_at = ? `+where),
		append([]any{
			order.PaymentRef, order.CaptureID, string(order.Status), string(order.PaymentStatus),
			order.Notes, toNanos(order.UpdatedAt),
		}, args...)...,
	)
	if err != nil {
		return 0, fmt.Errorf("order repository: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("order repository: update: %w", err)
	}
	if n > 0 {
		order.Version++
	}
	return n, nil
}

func (r *OrderRepository) one(ctx context.Context, query string, args ...any) (*domain.Order, error) {
	var (
		o                    domain.Order
		items                string
		status, payStatus    string
		createdAt, updatedAt int64
	)
	err := r.s.db.QueryRowContext(ctx, r.s.q(query), args...).Scan(
		&o.ID, &o.CustomerID, &o.IdempotencyKey, &items, &o.Currency, &o.Subtotal, &o.CouponCode,
		&o.DiscountAmount, &o.Amount, &o.PaymentRef, &o.CaptureID, &status, &payStatus, &o.Notes,
		&o.Version, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("order repository: select: %w", err)
	}
	if err := json.Unmarshal([]byte(items), &o.Items); err != nil {
		return nil, fmt.Errorf("order repository: decode items: %w", err)
	}
	o.Status = domain.Status(status)
	o.PaymentStatus = domain.PaymentStatus(payStatus)
	o.CreatedAt, o.UpdatedAt = fromNanos(createdAt), fromNanos(updatedAt)
	return &o, nil
}
