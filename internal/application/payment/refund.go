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

const (
	useCaseRefund = "payment.refund"

	maxRefundClaims = 3
)

type RefundPaymentInput struct {
	Provider  dompay.Provider
	RefundID  string
	CaptureID string
	OrderRef  string
	Amount    int64
}

type RefundPaymentResult struct {
	Outcome       Outcome
	OrderID       string
	StockReturned []dominv.Line
}

// RefundPaymentUseCase cancels a refunded order and returns the stock it still holds.
type RefundPaymentUseCase struct {
	settlement
}

var _ application.UseCase[RefundPaymentInput, *RefundPaymentResult] = (*RefundPaymentUseCase)(nil)

func NewRefundPaymentUseCase(deps Deps, tel observability.Observability) *RefundPaymentUseCase {
	return &RefundPaymentUseCase{settlement: newSettlement(deps, tel)}
}

// Execute claims the refund with a conditional write before touching stock, so
// only one delivery of a refund returns quantities.
func (uc *RefundPaymentUseCase) Execute(ctx context.Context, cmd RefundPaymentInput) (_ *RefundPaymentResult, err error) {
	if cmd.Provider == "" {
		cmd.Provider = uc.Provider
	}
	logger := logctx.FromOr(ctx, uc.in.Log).With(
		observability.F("use_case", useCaseRefund),
		observability.F("refund_id", cmd.RefundID),
		observability.F("capture_id", cmd.CaptureID),
	)
	ctx, span := uc.in.Tracer.Start(ctx, application.SpanPrefix+"RefundPayment",
		attribute.String("use_case", useCaseRefund),
		attribute.String("payment.refund_id", cmd.RefundID),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	result := &RefundPaymentResult{}

	defer func() {
		uc.in.Done(ctx, span, logger, useCaseRefund, outcome, statusText, start, err,
			observability.F("payment_outcome", string(result.Outcome)),
			observability.F("order_id", result.OrderID),
		)
	}()

	if cmd.RefundID == "" {
		outcome, statusText = "error", "REFUND_ID_REQUIRED"
		return nil, application.NewValidation("payment", "refund id is required")
	}
	c := confirmation{Provider: cmd.Provider, PaymentID: cmd.RefundID, Channel: dompay.ChannelWebhook, Amount: cmd.Amount}

	processed, err := uc.Dedup.IsProcessed(ctx, cmd.Provider, cmd.RefundID)
	if err != nil {
		outcome, statusText = "error", "DEDUP_LOOKUP_FAILED"
		return nil, fmt.Errorf("payment: dedup lookup: %w", err)
	}

	order, err := uc.resolveRefundOrder(ctx, cmd)
	if err != nil {
		outcome, statusText = "error", "ORDER_LOOKUP_FAILED"
		return nil, err
	}
	result.OrderID = order.ID
	logger = logger.With(observability.F("order_id", order.ID))

	if processed {
		statusText = "ALREADY_PROCESSED"
		result.Outcome = OutcomeAlreadyProcessed
		uc.duplicate(ctx, c, order.ID, "refund already applied")
		return result, nil
	}

	var (
		expected domorder.PaymentStatus
		wasPaid  bool
	)
	for attempt := 1; ; attempt++ {
		if refundApplied(order) {
			statusText = "ALREADY_PROCESSED"
			result.Outcome = OutcomeAlreadyProcessed
			uc.duplicate(ctx, c, order.ID, "refund already applied")
			return result, nil
		}
		expected = order.PaymentStatus
		wasPaid = expected == domorder.PaymentPaid
		if !order.PaymentSettled() {
			// Nothing was captured, so nothing left stock.
			if err = order.CancelUnpaid("refund " + cmd.RefundID + " received before capture"); err != nil {
				outcome, statusText = "error", "STATE_TRANSITION_FAILED"
				return nil, err
			}
			result.Outcome = OutcomeCancelled
		} else {
			if err = order.PaymentRefunded(); err != nil {
				outcome, statusText = "error", "STATE_TRANSITION_FAILED"
				return nil, err
			}
			result.Outcome = OutcomeRefunded
		}

		err = uc.Orders.UpdateIfPaymentStatus(ctx, order, expected)
		if err == nil {
			break
		}
		if !errors.Is(err, domorder.ErrConflict) {
			outcome, statusText = "error", "ORDER_UPDATE_FAILED"
			return nil, fmt.Errorf("payment: claim refund: %w", err)
		}
		// Another write landed first; decide again on what is stored now.
		current, getErr := uc.Orders.Get(ctx, order.ID)
		if getErr != nil || attempt == maxRefundClaims {
			outcome, statusText = "error", "ORDER_UPDATE_CONFLICT"
			return nil, fmt.Errorf("payment: claim refund: %w", err)
		}
		order = current
	}

	meta := c.metadata()
	meta["capture_id"] = cmd.CaptureID
	meta["previous_payment_status"] = string(expected)
	if wasPaid {
		returned, stockErr := uc.returnStock(ctx, order.ID, cmd.RefundID)
		if stockErr != nil {
			failMeta := c.metadata()
			failMeta["error"] = stockErr.Error()
			uc.record(ctx, domaudit.ActionPaymentRefundStockFailed, order.ID, c.Actor, failMeta)
			logger.Error("refund_stock_return_failed", observability.F("error", stockErr))
			statusText = "STOCK_RETURN_FAILED"
		}
		result.StockReturned = returned
		meta["stock_returned"] = linesMetadata(returned)
	} else {
		meta["stock_returned"] = []map[string]any{}
	}
	uc.record(ctx, domaudit.ActionPaymentRefunded, order.ID, c.Actor, meta)
	uc.markProcessed(ctx, logger, c, order)
	return result, nil
}

// refundApplied reports whether a refund already closed o: it was refunded after
// capture or cancelled before one.
func refundApplied(o *domorder.Order) bool {
	return o.PaymentStatus == domorder.PaymentRefunded ||
		(o.Status == domorder.StatusCancelled && !o.PaymentSettled())
}

func (uc *RefundPaymentUseCase) resolveRefundOrder(ctx context.Context, cmd RefundPaymentInput) (*domorder.Order, error) {
	var lastErr error = domorder.ErrNotFound
	for _, ref := range []string{cmd.OrderRef, cmd.CaptureID} {
		if ref == "" {
			continue
		}
		o, err := uc.resolveOrder(ctx, ref)
		if err == nil {
			return o, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// returnStock puts back what the order still holds according to the ledger.
func (uc *RefundPaymentUseCase) returnStock(ctx context.Context, orderID, refundID string) ([]dominv.Line, error) {
	lines, err := uc.Ledger.NetOutflow(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, nil
	}
	if _, err := uc.Ledger.Increase(ctx, lines, orderID, refundID, "refund "+refundID); err != nil {
		return nil, err
	}
	return lines, nil
}
