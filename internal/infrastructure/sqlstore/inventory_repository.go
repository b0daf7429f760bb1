package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
)

type InventoryRepository struct {
	s *Store
}

// Apply writes all movements and counter changes in one transaction. The
// movement insert is the uniqueness check; the conditional decrement is the
// stock check. Every shortage is collected before rolling back.
func (r *InventoryRepository) Apply(ctx context.Context, movements []domain.Movement) (err error) {
	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("inventory repository: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var shortages []domain.Shortage
	for _, m := range movements {
		if m.Quantity <= 0 {
			return domain.ErrInvalidQuantity
		}
		inserted, insErr := r.s.insertIgnoring(ctx, tx,
			`INSERT INTO stock_movements (id, order_id, product_id, direction, quantity, cause_id, reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING`,
			m.ID, m.OrderID, m.ProductID, string(m.Direction), int64(m.Quantity), m.CauseID, m.Reason, toNanos(m.CreatedAt),
		)
		if insErr != nil {
			return fmt.Errorf("inventory repository: insert movement: %w", insErr)
		}
		if !inserted {
			return domain.ErrDuplicateMovement
		}

		switch m.Direction {
		case domain.DirectionOut:
			short, decErr := r.decrement(ctx, tx, m)
			if decErr != nil {
				return decErr
			}
			if short != nil {
				shortages = append(shortages, *short)
			}
		case domain.DirectionIn:
			if incErr := r.increment(ctx, tx, m); incErr != nil {
				return incErr
			}
		default:
			return fmt.Errorf("inventory repository: unknown direction %q", m.Direction)
		}
	}
	if len(shortages) > 0 {
		return &domain.ShortageError{Shortages: shortages}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("inventory repository: commit: %w", err)
	}
	return nil
}

func (r *InventoryRepository) decrement(ctx context.Context, tx *sql.Tx, m domain.Movement) (*domain.Shortage, error) {
	res, err := tx.ExecContext(ctx, r.s.q(
		`UPDATE stock SET available = available - ? WHERE product_id = ? AND available >= ?`),
		int64(m.Quantity), m.ProductID, int64(m.Quantity),
	)
	if err != nil {
		return nil, fmt.Errorf("inventory repository: decrement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("inventory repository: decrement: %w", err)
	}
	if n > 0 {
		return nil, nil
	}
	available, err := r.available(ctx, tx, m.ProductID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return &domain.Shortage{ProductID: m.ProductID, Requested: m.Quantity, Available: available}, nil
}

func (r *InventoryRepository) increment(ctx context.Context, tx *sql.Tx, m domain.Movement) error {
	current, err := r.available(ctx, tx, m.ProductID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	next, err := domain.CheckedAdd(current, m.Quantity)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, r.s.q(
		`INSERT INTO stock (product_id, available) VALUES (?, ?)
		ON CONFLICT (product_id) DO UPDATE SET available = excluded.available`),
		m.ProductID, int64(next),
	)
	if err != nil {
		return fmt.Errorf("inventory repository: increment: %w", err)
	}
	return nil
}

func (r *InventoryRepository) available(ctx context.Context, ex execer, productID string) (int, error) {
	var qty int64
	err := ex.QueryRowContext(ctx, r.s.q(`SELECT available FROM stock WHERE product_id = ?`), productID).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("inventory repository: read stock: %w", err)
	}
	return int(qty), nil
}

func (r *InventoryRepository) Available(ctx context.Context, productID string) (int, error) {
	return r.available(ctx, r.s.db, productID)
}

func (r *InventoryRepository) MovementsByOrder(ctx context.Context, orderID string) ([]domain.Movement, error) {
	rows, err := r.s.db.QueryContext(ctx, r.s.q(
		`SELECT id, order_id, product_id, direction, quantity, cause_id, reason, created_at
		FROM stock_movements WHERE order_id = ? ORDER BY created_at, id`), orderID)
	if err != nil {
		return nil, fmt.Errorf("inventory repository: movements: %w", err)
	}
	defer rows.Close()

	var out []domain.Movement
	for rows.Next() {
		var (
			m         domain.Movement
			dir       string
			qty       int64
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.OrderID, &m.ProductID, &dir, &qty, &m.CauseID, &m.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("inventory repository: scan movement: %w", err)
		}
		m.Direction = domain.Direction(dir)
		m.Quantity = int(qty)
		m.CreatedAt = fromNanos(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}
