package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	inventoryService = "inventory-service"
	useCaseDecrease  = "stock.decrease"
	useCaseIncrease  = "stock.increase"
	useCaseRestock   = "stock.restock"
)

// Ledger is the only writer of stock. Every change is an append-only movement
// applied together with the cached available counter.
type Ledger struct {
	repo      dominv.Repository
	in        application.Instruments
	movements observability.Counter // stock_movements_total{direction,outcome}
}

func NewLedger(repo dominv.Repository, tel observability.Observability) *Ledger {
	in := application.NewInstruments(tel, inventoryService)
	return &Ledger{
		repo:      repo,
		in:        in,
		movements: in.Counter(observability.MStockMovements),
	}
}

// Decrease takes every line out of stock for orderID, or nothing at all. A
// shortage is reported as *inventory.ShortageError listing every short product;
// a replay of the same (order, cause) returns inventory.ErrDuplicateMovement.
func (l *Ledger) Decrease(ctx context.Context, lines []dominv.Line, orderID, causeID string) ([]dominv.Movement, error) {
	return l.apply(ctx, useCaseDecrease, dominv.DirectionOut, lines, orderID, causeID, "payment captured")
}

// Increase puts lines back into stock for orderID.
func (l *Ledger) Increase(ctx context.Context, lines []dominv.Line, orderID, causeID, reason string) ([]dominv.Movement, error) {
	return l.apply(ctx, useCaseIncrease, dominv.DirectionIn, lines, orderID, causeID, reason)
}

// Restock adds quantity to a product outside of any order.
func (l *Ledger) Restock(ctx context.Context, productID string, quantity int, reason string) (dominv.Movement, error) {
	if reason == "" {
		reason = "restock"
	}
	moved, err := l.apply(ctx, useCaseRestock, dominv.DirectionIn,
		[]dominv.Line{{ProductID: productID, Quantity: quantity}}, "", uuid.NewString(), reason)
	if err != nil {
		return dominv.Movement{}, err
	}
	return moved[0], nil
}

func (l *Ledger) Available(ctx context.Context, productID string) (int, error) {
	return l.repo.Available(ctx, productID)
}

func (l *Ledger) Movements(ctx context.Context, orderID string) ([]dominv.Movement, error) {
	return l.repo.MovementsByOrder(ctx, orderID)
}

// NetOutflow is the stock orderID currently holds: decrements minus returns.
func (l *Ledger) NetOutflow(ctx context.Context, orderID string) ([]dominv.Line, error) {
	moved, err := l.repo.MovementsByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return dominv.NetOutflow(moved), nil
}

func (l *Ledger) apply(ctx context.Context, useCase string, dir dominv.Direction, lines []dominv.Line, orderID, causeID, reason string) (_ []dominv.Movement, err error) {
	logger := logctx.FromOr(ctx, l.in.Log).With(
		observability.F("use_case", useCase),
		observability.F("order_id", orderID),
		observability.F("cause_id", causeID),
	)

	ctx, span := l.in.Tracer.Start(ctx, application.SpanPrefix+"Stock."+string(dir),
		attribute.String("use_case", useCase),
		attribute.String("order.id", orderID),
		attribute.String("stock.cause_id", causeID),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	var shortages []dominv.Shortage

	defer func() {
		l.movements.Add(1,
			observability.L("direction", string(dir)),
			observability.L("outcome", outcome),
		)
		extra := []observability.Field{observability.F("lines", len(lines))}
		if len(shortages) > 0 {
			extra = append(extra, observability.F("shortages", shortages))
		}
		l.in.Done(ctx, span, logger, useCase, outcome, statusText, start, err, extra...)
	}()

	if causeID == "" {
		outcome, statusText = "error", "CAUSE_ID_REQUIRED"
		return nil, application.NewValidation("inventory", "cause id is required")
	}
	merged, err := dominv.MergeLines(lines)
	if err != nil {
		outcome, statusText = "error", "LINES_INVALID"
		return nil, err
	}
	if len(merged) == 0 {
		outcome, statusText = "error", "LINES_EMPTY"
		return nil, application.NewValidation("inventory", "at least one line is required")
	}

	now := time.Now().UTC()
	movements := make([]dominv.Movement, 0, len(merged))
	for _, line := range merged {
		movements = append(movements, dominv.Movement{
			ID:        ulid.Make().String(),
			OrderID:   orderID,
			ProductID: line.ProductID,
			Direction: dir,
			Quantity:  line.Quantity,
			CauseID:   causeID,
			Reason:    reason,
			CreatedAt: now,
		})
	}

	err = l.repo.Apply(ctx, movements)
	var shortErr *dominv.ShortageError
	switch {
	case err == nil:
	case errors.As(err, &shortErr):
		outcome, statusText = "rejected", "INSUFFICIENT_STOCK"
		shortages = shortErr.Shortages
		return nil, err
	case errors.Is(err, dominv.ErrDuplicateMovement):
		outcome, statusText = "duplicate", "ALREADY_APPLIED"
		return nil, err
	default:
		outcome, statusText = "error", "APPLY_FAILED"
		return nil, fmt.Errorf("inventory: apply movements: %w", err)
	}

	span.AddEvent("stock.applied", trace.WithAttributes(
		attribute.String("stock.direction", string(dir)),
		attribute.Int("stock.lines", len(movements)),
	))
	return movements, nil
}
