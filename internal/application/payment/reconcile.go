package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	domaudit "github.com/Zhima-Mochi/minishop-checkout/internal/domain/audit"
	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
)

const useCaseReconcile = "payment.reconcile"

type ReconcileOrderInput struct {
	OrderID string
	// Actor is the operator asking for the retry.
	Actor string
}

// ReconcileOrderUseCase retries the stock decrement of an order that was flagged
// because its captured payment could not be covered.
type ReconcileOrderUseCase struct {
	settlement
}

var _ application.UseCase[ReconcileOrderInput, *ConfirmPaymentResult] = (*ReconcileOrderUseCase)(nil)

func NewReconcileOrderUseCase(deps Deps, tel observability.Observability) *ReconcileOrderUseCase {
	return &ReconcileOrderUseCase{settlement: newSettlement(deps, tel)}
}

func (uc *ReconcileOrderUseCase) Execute(ctx context.Context, cmd ReconcileOrderInput) (_ *ConfirmPaymentResult, err error) {
	if cmd.Actor == "" {
		cmd.Actor = domaudit.ActorSystem
	}
	logger := logctx.FromOr(ctx, uc.in.Log).With(
		observability.F("use_case", useCaseReconcile),
		observability.F("order_id", cmd.OrderID),
		observability.F("actor", cmd.Actor),
	)
	ctx, span := uc.in.Tracer.Start(ctx, application.SpanPrefix+"ReconcileOrder",
		attribute.String("use_case", useCaseReconcile),
		attribute.String("order.id", cmd.OrderID),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	result := &ConfirmPaymentResult{OrderID: cmd.OrderID}

	defer func() {
		if result.Outcome != "" {
			uc.count(dompay.ChannelReconcile, result.Outcome)
		}
		uc.in.Done(ctx, span, logger, useCaseReconcile, outcome, statusText, start, err,
			observability.F("payment_outcome", string(result.Outcome)),
		)
	}()

	if cmd.OrderID == "" {
		outcome, statusText = "error", "ORDER_ID_REQUIRED"
		return nil, application.NewValidation("payment", "order id is required")
	}

	order, err := uc.Orders.Get(ctx, cmd.OrderID)
	if err != nil {
		outcome, statusText = "error", "ORDER_LOOKUP_FAILED"
		return nil, err
	}
	result.Status, result.PaymentStatus = order.Status, order.PaymentStatus
	c := confirmation{Provider: uc.Provider, PaymentID: order.CaptureID, Channel: dompay.ChannelReconcile, Amount: order.Amount, Actor: cmd.Actor}

	if order.PaymentStatus == domorder.PaymentPaid {
		statusText = "ALREADY_SETTLED"
		result.Outcome = OutcomeAlreadyProcessed
		return result, nil
	}
	if !order.AwaitingReview() || order.CaptureID == "" {
		outcome, statusText = "error", "NOT_RECONCILABLE"
		return nil, fmt.Errorf("%w: payment %s, status %s", ErrNotReconcilable, order.PaymentStatus, order.Status)
	}

	// The capture id is the cause, so a reconcile racing a late delivery of the
	// same payment still moves stock once.
	_, err = uc.Ledger.Decrease(ctx, orderLines(order), order.ID, order.CaptureID)
	var shortErr *dominv.ShortageError
	switch {
	case err == nil:
	case errors.Is(err, dominv.ErrDuplicateMovement):
		current, getErr := uc.Orders.Get(ctx, order.ID)
		if getErr != nil {
			outcome, statusText = "error", "ORDER_RELOAD_FAILED"
			return nil, fmt.Errorf("payment: reload order: %w", getErr)
		}
		if !current.AwaitingReview() {
			statusText = "CONCURRENT_DUPLICATE"
			result.Outcome = OutcomeAlreadyProcessed
			result.Status, result.PaymentStatus = current.Status, current.PaymentStatus
			uc.duplicate(ctx, c, order.ID, "stock already decremented for payment")
			return result, nil
		}
		logger.Warn("payment_settlement_resumed")
		order, c.Resumed = current, true
	case errors.As(err, &shortErr):
		outcome, statusText = "rejected", "INSUFFICIENT_STOCK"
		result.Outcome = OutcomeInsufficientStock
		result.Shortages = shortErr.Shortages
		uc.flagShortage(ctx, order, c, shortErr.Shortages)
		return result, nil
	default:
		outcome, statusText = "error", "STOCK_DECREASE_FAILED"
		return nil, err
	}

	err = uc.finalize(ctx, logger, order, c, (*domorder.Order).PaymentReconciled, domaudit.ActionPaymentReconciled)
	switch {
	case errors.Is(err, errSettledConcurrently):
		err = nil
		statusText = "CONCURRENT_DUPLICATE"
		result.Outcome = OutcomeAlreadyProcessed
		result.Status, result.PaymentStatus = order.Status, order.PaymentStatus
		uc.duplicate(ctx, c, order.ID, "order settled concurrently")
		return result, nil
	case errors.Is(err, errVoided):
		outcome, statusText = "error", "ORDER_CLOSED_CONCURRENTLY"
		result.Outcome = OutcomeIgnored
		result.Status, result.PaymentStatus = order.Status, order.PaymentStatus
		return result, fmt.Errorf("%w: order is %s", ErrNotReconcilable, order.Status)
	case err != nil:
		outcome, statusText = "error", "STATUS_UPDATE_FAILED"
		result.Outcome = OutcomeApplied
		return result, err
	}
	result.Outcome = OutcomeApplied
	result.Status, result.PaymentStatus = order.Status, order.PaymentStatus
	return result, nil
}
