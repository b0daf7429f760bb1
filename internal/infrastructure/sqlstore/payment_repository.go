package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
)

// ProcessedPaymentRepository relies on the (provider, payment_id) primary key:
// of any number of concurrent MarkProcessed calls exactly one inserts.
type ProcessedPaymentRepository struct {
	s *Store
}

func (r *ProcessedPaymentRepository) IsProcessed(ctx context.Context, provider domain.Provider, paymentID string) (bool, error) {
	var one int
	err := r.s.db.QueryRowContext(ctx, r.s.q(
		`SELECT 1 FROM processed_payments WHERE provider = ? AND payment_id = ?`),
		string(provider), paymentID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("processed payments: lookup: %w", err)
	}
	return true, nil
}

func (r *ProcessedPaymentRepository) MarkProcessed(ctx context.Context, p domain.ProcessedPayment) error {
	ok, err := r.s.insertIgnoring(ctx, r.s.db,
		`INSERT INTO processed_payments (provider, payment_id, order_id, amount, processed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		string(p.Provider), p.PaymentID, p.OrderID, p.Amount, toNanos(p.ProcessedAt),
	)
	if err != nil {
		return fmt.Errorf("processed payments: insert: %w", err)
	}
	if !ok {
		return domain.ErrAlreadyProcessed
	}
	return nil
}
