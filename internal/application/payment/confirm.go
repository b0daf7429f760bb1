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
	"go.opentelemetry.io/otel/trace"
)

const useCaseConfirm = "payment.confirm"

type ConfirmPaymentInput struct {
	Provider  dompay.Provider
	PaymentID string
	// OrderRef is the local order id or the provider order id.
	OrderRef string
	Amount   int64
	Channel  dompay.Channel
}

type ConfirmPaymentResult struct {
	Outcome       Outcome
	OrderID       string
	Status        domorder.Status
	PaymentStatus domorder.PaymentStatus
	Shortages     []dominv.Shortage
}

// ConfirmPaymentUseCase applies a captured payment exactly once, whichever
// channel reports it first and however often it is reported.
type ConfirmPaymentUseCase struct {
	settlement
}

var _ application.UseCase[ConfirmPaymentInput, *ConfirmPaymentResult] = (*ConfirmPaymentUseCase)(nil)

func NewConfirmPaymentUseCase(deps Deps, tel observability.Observability) *ConfirmPaymentUseCase {
	return &ConfirmPaymentUseCase{settlement: newSettlement(deps, tel)}
}

// Execute never decrements stock twice for one payment: the processed-payment
// record, the order's payment status and the ledger's movement key each stop a
// replay, and the ledger key holds even when two channels race.
func (uc *ConfirmPaymentUseCase) Execute(ctx context.Context, cmd ConfirmPaymentInput) (_ *ConfirmPaymentResult, err error) {
	if cmd.Provider == "" {
		cmd.Provider = uc.Provider
	}
	logger := logctx.FromOr(ctx, uc.in.Log).With(
		observability.F("use_case", useCaseConfirm),
		observability.F("provider", string(cmd.Provider)),
		observability.F("payment_id", cmd.PaymentID),
		observability.F("order_ref", cmd.OrderRef),
		observability.F("channel", string(cmd.Channel)),
	)

	ctx, span := uc.in.Tracer.Start(ctx, application.SpanPrefix+"ConfirmPayment",
		attribute.String("use_case", useCaseConfirm),
		attribute.String("payment.provider", string(cmd.Provider)),
		attribute.String("payment.id", cmd.PaymentID),
		attribute.String("payment.channel", string(cmd.Channel)),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	result := &ConfirmPaymentResult{}

	defer func() {
		span.SetAttributes(attribute.String("payment.outcome", string(result.Outcome)))
		if result.Outcome != "" {
			uc.count(cmd.Channel, result.Outcome)
		}
		uc.in.Done(ctx, span, logger, useCaseConfirm, outcome, statusText, start, err,
			observability.F("payment_outcome", string(result.Outcome)),
			observability.F("order_id", result.OrderID),
		)
	}()

	if cmd.PaymentID == "" {
		outcome, statusText = "error", "PAYMENT_ID_REQUIRED"
		return nil, application.NewValidation("payment", "payment id is required")
	}
	if cmd.OrderRef == "" {
		outcome, statusText = "error", "ORDER_REF_REQUIRED"
		return nil, fmt.Errorf("%w: %w", application.ErrValidation, ErrOrderRefRequired)
	}
	c := confirmation{Provider: cmd.Provider, PaymentID: cmd.PaymentID, Channel: cmd.Channel, Amount: cmd.Amount}

	processed, err := uc.Dedup.IsProcessed(ctx, cmd.Provider, cmd.PaymentID)
	if err != nil {
		outcome, statusText = "error", "DEDUP_LOOKUP_FAILED"
		return nil, fmt.Errorf("payment: dedup lookup: %w", err)
	}
	if processed {
		statusText = "ALREADY_PROCESSED"
		result.Outcome = OutcomeAlreadyProcessed
		orderID := cmd.OrderRef
		if o, lookupErr := uc.resolveOrder(ctx, cmd.OrderRef); lookupErr == nil {
			orderID = o.ID
			result.Status, result.PaymentStatus = o.Status, o.PaymentStatus
		}
		result.OrderID = orderID
		uc.duplicate(ctx, c, orderID, "payment already processed")
		return result, nil
	}

	order, err := uc.resolveOrder(ctx, cmd.OrderRef)
	if err != nil {
		outcome, statusText = "error", "ORDER_LOOKUP_FAILED"
		return nil, err
	}
	result.OrderID = order.ID
	result.Status, result.PaymentStatus = order.Status, order.PaymentStatus
	logger = logger.With(observability.F("order_id", order.ID))
	span.SetAttributes(attribute.String("order.id", order.ID))

	switch order.PaymentStatus {
	case domorder.PaymentPaid, domorder.PaymentCompleted:
		statusText = "ALREADY_SETTLED"
		result.Outcome = OutcomeAlreadyProcessed
		uc.duplicate(ctx, c, order.ID, "order payment already "+string(order.PaymentStatus))
		return result, nil
	case domorder.PaymentPending:
	default:
		outcome, statusText = "error", "PAYMENT_STATE_CONFLICT"
		result.Outcome = OutcomeIgnored
		meta := c.metadata()
		meta["payment_status"] = string(order.PaymentStatus)
		uc.record(ctx, domaudit.ActionPaymentIgnored, order.ID, c.Actor, meta)
		return result, fmt.Errorf("%w: %s", ErrPaymentState, order.PaymentStatus)
	}

	// Dry run on a copy: an order cancelled before its capture arrived must
	// not give up stock it can never be marked paid for.
	if err = order.Clone().PaymentCaptured(cmd.PaymentID); err != nil {
		outcome, statusText = "error", "ORDER_STATE_CONFLICT"
		result.Outcome = OutcomeIgnored
		meta := c.metadata()
		meta["payment_status"] = string(order.PaymentStatus)
		meta["status"] = string(order.Status)
		meta["stock_decremented"] = false
		uc.record(ctx, domaudit.ActionPaymentIgnored, order.ID, c.Actor, meta)
		return result, fmt.Errorf("%w: order is %s", ErrPaymentState, order.Status)
	}

	_, err = uc.Ledger.Decrease(ctx, orderLines(order), order.ID, cmd.PaymentID)
	var shortErr *dominv.ShortageError
	switch {
	case err == nil:
	case errors.Is(err, dominv.ErrDuplicateMovement):
		current, getErr := uc.Orders.Get(ctx, order.ID)
		if getErr != nil {
			outcome, statusText = "error", "ORDER_RELOAD_FAILED"
			return nil, fmt.Errorf("payment: reload order: %w", getErr)
		}
		if current.PaymentStatus != domorder.PaymentPending {
			statusText = "CONCURRENT_DUPLICATE"
			result.Outcome = OutcomeAlreadyProcessed
			result.Status, result.PaymentStatus = current.Status, current.PaymentStatus
			uc.duplicate(ctx, c, order.ID, "stock already decremented for payment")
			return result, nil
		}
		// Stock moved for this payment but the order was never settled: an
		// earlier run stopped in between. Finish its remaining steps.
		logger.Warn("payment_settlement_resumed")
		order, c.Resumed = current, true
	case errors.As(err, &shortErr):
		return uc.handleShortage(ctx, logger, span, order, c, shortErr.Shortages, result, &outcome, &statusText)
	default:
		outcome, statusText = "error", "STOCK_DECREASE_FAILED"
		return nil, err
	}

	err = uc.finalize(ctx, logger, order, c, func(o *domorder.Order) error {
		return o.PaymentCaptured(cmd.PaymentID)
	}, domaudit.ActionPaymentCaptured)
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
		return result, fmt.Errorf("%w: order is %s", ErrPaymentState, order.Status)
	case err != nil:
		outcome, statusText = "error", "STATUS_UPDATE_FAILED"
		result.Outcome = OutcomeApplied
		return result, err
	}

	result.Outcome = OutcomeApplied
	if c.Resumed {
		statusText = "RESUMED"
	}
	result.Status, result.PaymentStatus = order.Status, order.PaymentStatus
	span.AddEvent("payment.applied", trace.WithAttributes(attribute.String("order.id", order.ID)))
	return result, nil
}

// handleShortage flags the order for review. The payment is not marked processed;
// the completed payment status is what stops later deliveries.
func (uc *ConfirmPaymentUseCase) handleShortage(
	ctx context.Context,
	logger observability.Logger,
	span trace.Span,
	order *domorder.Order,
	c confirmation,
	shortages []dominv.Shortage,
	result *ConfirmPaymentResult,
	outcome, statusText *string,
) (*ConfirmPaymentResult, error) {
	expected := order.PaymentStatus
	if err := order.PaymentCapturedShort(c.PaymentID, shortageNote(c.PaymentID, shortages)); err != nil {
		*outcome, *statusText = "error", "STATE_TRANSITION_FAILED"
		return nil, err
	}
	err := uc.Orders.UpdateIfPaymentStatus(ctx, order, expected)
	if errors.Is(err, domorder.ErrConflict) {
		// Another channel settled the order between our read and write.
		*statusText = "CONCURRENT_DUPLICATE"
		result.Outcome = OutcomeAlreadyProcessed
		if current, getErr := uc.Orders.Get(ctx, order.ID); getErr == nil {
			result.Status, result.PaymentStatus = current.Status, current.PaymentStatus
		}
		uc.duplicate(ctx, c, order.ID, "order settled concurrently")
		return result, nil
	}
	if err != nil {
		*outcome, *statusText = "error", "ORDER_UPDATE_FAILED"
		return nil, fmt.Errorf("payment: flag order: %w", err)
	}

	uc.flagShortage(ctx, order, c, shortages)
	if pubErr := uc.in.Publish(ctx, uc.Publisher, domorder.NewOrderFlaggedEvent(order, "insufficient_stock")); pubErr != nil {
		logger.Warn("order_flagged_publish_failed", observability.F("error", pubErr))
	}

	*outcome, *statusText = "rejected", "INSUFFICIENT_STOCK"
	span.AddEvent("payment.insufficient_stock")
	result.Outcome = OutcomeInsufficientStock
	result.Shortages = shortages
	result.Status, result.PaymentStatus = order.Status, order.PaymentStatus
	return result, nil
}
