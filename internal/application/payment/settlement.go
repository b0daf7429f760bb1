package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	domaudit "github.com/Zhima-Mochi/minishop-checkout/internal/domain/audit"
	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
)

const paymentService = "payment-service"

var (
	// ErrStatusUpdateFailed means stock moved but the order could not be marked
	// paid. The payment is recorded as processed and left for manual reconciliation.
	ErrStatusUpdateFailed = errors.New("payment: order status update failed after stock decrement")
	// ErrPaymentState means the order's payment status cannot accept the event.
	ErrPaymentState     = errors.New("payment: order payment status does not allow this event")
	ErrNotReconcilable  = errors.New("payment: order is not awaiting reconciliation")
	ErrEnqueueFailed    = errors.New("payment: webhook could not be enqueued")
	ErrOrderRefRequired = errors.New("payment: order reference is required")

	// errSettledConcurrently means another invocation finished the same payment
	// between our read and our conditional write.
	errSettledConcurrently = errors.New("payment: settled by a concurrent invocation")
	// errVoided means the order was cancelled or declined while this payment
	// held stock; the decrement was returned.
	errVoided = errors.New("payment: order closed before settlement")
)

// Outcome is the business result of a payment event.
type Outcome string

const (
	OutcomeApplied           Outcome = "applied"
	OutcomeAlreadyProcessed  Outcome = "already_processed"
	OutcomeInsufficientStock Outcome = "insufficient_stock"
	OutcomePending           Outcome = "pending"
	OutcomeDenied            Outcome = "denied"
	OutcomeRefunded          Outcome = "refunded"
	OutcomeCancelled         Outcome = "cancelled"
	OutcomeIgnored           Outcome = "ignored"
)

// StockLedger is the slice of the inventory ledger payment handling needs.
type StockLedger interface {
	Decrease(ctx context.Context, lines []dominv.Line, orderID, causeID string) ([]dominv.Movement, error)
	Increase(ctx context.Context, lines []dominv.Line, orderID, causeID, reason string) ([]dominv.Movement, error)
	NetOutflow(ctx context.Context, orderID string) ([]dominv.Line, error)
}

type CouponRecorder interface {
	RecordForOrder(ctx context.Context, o *domorder.Order) error
}

type AuditRecorder interface {
	Record(ctx context.Context, e domaudit.Entry)
}

// Deps are the collaborators shared by the payment use cases.
type Deps struct {
	Orders    domorder.Repository
	Ledger    StockLedger
	Coupons   CouponRecorder
	Dedup     dompay.DeduplicationStore
	Audit     AuditRecorder
	Publisher domoutbox.Publisher
	// Provider is recorded for events that do not name one, like operator reconcile.
	Provider dompay.Provider
}

// settlement holds the steps every confirmation path shares once stock is decided.
type settlement struct {
	Deps
	in            application.Instruments
	confirmations observability.Counter // payment_confirmations_total{channel,outcome}
}

func newSettlement(deps Deps, tel observability.Observability) settlement {
	if deps.Provider == "" {
		deps.Provider = dompay.ProviderPayPal
	}
	in := application.NewInstruments(tel, paymentService)
	return settlement{
		Deps:          deps,
		in:            in,
		confirmations: in.Counter(observability.MPaymentConfirmations),
	}
}

// confirmation identifies one captured payment as it travels through settlement.
type confirmation struct {
	Provider  dompay.Provider
	PaymentID string
	Channel   dompay.Channel
	Amount    int64
	Actor     string
	// Resumed is set when the stock movements already existed from an earlier
	// run that stopped before the order was settled.
	Resumed bool
}

func (c confirmation) metadata() map[string]any {
	meta := map[string]any{
		"provider":   string(c.Provider),
		"payment_id": c.PaymentID,
		"channel":    string(c.Channel),
		"amount":     c.Amount,
	}
	if c.Resumed {
		meta["resumed"] = true
	}
	return meta
}

// resolveOrder accepts a local order id, a provider order id or a capture id.
func (s *settlement) resolveOrder(ctx context.Context, ref string) (*domorder.Order, error) {
	o, err := s.Orders.Get(ctx, ref)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, domorder.ErrNotFound) {
		return nil, fmt.Errorf("payment: load order: %w", err)
	}
	o, err = s.Orders.FindByPaymentRef(ctx, ref)
	if err != nil {
		if errors.Is(err, domorder.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("payment: load order by payment ref: %w", err)
	}
	return o, nil
}

func (s *settlement) count(channel dompay.Channel, outcome Outcome) {
	s.confirmations.Add(1,
		observability.L("channel", string(channel)),
		observability.L("outcome", string(outcome)),
	)
}

func (s *settlement) record(ctx context.Context, action domaudit.Action, orderID, actor string, meta map[string]any) {
	if s.Audit == nil {
		return
	}
	s.Audit.Record(ctx, domaudit.Entry{
		Action:       action,
		ResourceType: domaudit.ResourceOrder,
		ResourceID:   orderID,
		Actor:        actor,
		Metadata:     meta,
	})
}

// duplicate audits a confirmation that found its work already done.
func (s *settlement) duplicate(ctx context.Context, c confirmation, orderID, reason string) {
	meta := c.metadata()
	meta["reason"] = reason
	s.record(ctx, domaudit.ActionPaymentDuplicate, orderID, c.Actor, meta)
}

func (s *settlement) markProcessed(ctx context.Context, logger observability.Logger, c confirmation, o *domorder.Order) {
	err := s.Dedup.MarkProcessed(ctx, dompay.ProcessedPayment{
		Provider:    c.Provider,
		PaymentID:   c.PaymentID,
		OrderID:     o.ID,
		Amount:      c.Amount,
		ProcessedAt: time.Now().UTC(),
	})
	switch {
	case err == nil:
	case errors.Is(err, dompay.ErrAlreadyProcessed):
		logger.Debug("payment_already_marked_processed")
	default:
		// The movement uniqueness still guards the stock if this record is missing.
		logger.Error("payment_mark_processed_failed", observability.F("error", err))
	}
}

// finalize runs after stock was decremented for c: order transition with a
// conditional write, coupon usage, processed mark, audit and notification.
// It returns errSettledConcurrently when another run of the same payment won
// the conditional write; that run owns the remaining steps.
func (s *settlement) finalize(ctx context.Context, logger observability.Logger, o *domorder.Order, c confirmation, transition func(*domorder.Order) error, action domaudit.Action) error {
	expected := o.PaymentStatus
	updateErr := transition(o)
	if updateErr == nil {
		updateErr = s.Orders.UpdateIfPaymentStatus(ctx, o, expected)
	}
	if errors.Is(updateErr, domorder.ErrConflict) {
		current, err := s.Orders.Get(ctx, o.ID)
		switch {
		case err != nil:
		case settledBy(current, c.PaymentID):
			*o = *current
			return errSettledConcurrently
		case !current.PaymentSettled() && current.PaymentStatus != domorder.PaymentRefunded:
			retry := current.Clone()
			if transition(retry) == nil {
				// Only the version moved; write again on top of it.
				if updateErr = s.Orders.UpdateIfPaymentStatus(ctx, retry, current.PaymentStatus); updateErr == nil {
					*o = *retry
				}
				break
			}
			voidErr := s.void(ctx, logger, current, c, orderLines(o))
			if voidErr == nil {
				*o = *current
				return errVoided
			}
			updateErr = fmt.Errorf("%w; returning stock: %w", updateErr, voidErr)
		}
	}
	if updateErr != nil {
		meta := c.metadata()
		meta["stock_decremented"] = true
		meta["error"] = updateErr.Error()
		s.record(ctx, domaudit.ActionPaymentStatusUpdateFailed, o.ID, c.Actor, meta)
		s.markProcessed(ctx, logger, c, o)
		logger.Error("order_status_update_failed_after_stock_decrement",
			observability.F("order_id", o.ID),
			observability.F("error", updateErr),
		)
		return fmt.Errorf("%w: %w", ErrStatusUpdateFailed, updateErr)
	}

	if s.Coupons != nil {
		if err := s.Coupons.RecordForOrder(ctx, o); err != nil {
			logger.Warn("coupon_usage_failed", observability.F("error", err))
		}
	}
	s.markProcessed(ctx, logger, c, o)

	meta := c.metadata()
	meta["stock_decremented"] = true
	if o.HasCoupon() {
		meta["coupon_code"] = o.CouponCode
	}
	if c.Amount > 0 && c.Amount != o.Amount {
		meta["order_amount"] = o.Amount
		meta["amount_mismatch"] = true
		logger.Warn("payment_amount_mismatch",
			observability.F("captured_amount", c.Amount),
			observability.F("order_amount", o.Amount),
		)
	}
	s.record(ctx, action, o.ID, c.Actor, meta)

	if err := s.in.Publish(ctx, s.Publisher, domorder.NewOrderConfirmedEvent(o)); err != nil {
		logger.Warn("order_confirmed_publish_failed", observability.F("error", err))
	}
	return nil
}

// void returns the stock c took from an order that can no longer be settled by it.
func (s *settlement) void(ctx context.Context, logger observability.Logger, o *domorder.Order, c confirmation, lines []dominv.Line) error {
	causeID := "void:" + c.PaymentID
	if _, err := s.Ledger.Increase(ctx, lines, o.ID, causeID, "payment "+c.PaymentID+" arrived for a "+string(o.Status)+" order"); err != nil &&
		!errors.Is(err, dominv.ErrDuplicateMovement) {
		return err
	}
	meta := c.metadata()
	meta["payment_status"] = string(o.PaymentStatus)
	meta["status"] = string(o.Status)
	meta["stock_decremented"] = false
	meta["stock_returned"] = linesMetadata(lines)
	s.record(ctx, domaudit.ActionPaymentIgnored, o.ID, c.Actor, meta)
	s.markProcessed(ctx, logger, c, o)
	logger.Warn("payment_voided_after_concurrent_close",
		observability.F("order_id", o.ID),
		observability.F("status", string(o.Status)),
		observability.F("payment_status", string(o.PaymentStatus)),
	)
	return nil
}

// settledBy reports whether o was marked paid for paymentID. Any other state
// after a lost conditional write needs an operator.
func settledBy(o *domorder.Order, paymentID string) bool {
	return o.CaptureID == paymentID && o.PaymentStatus == domorder.PaymentPaid
}

// flagShortage audits a decrement that could not be covered.
func (s *settlement) flagShortage(ctx context.Context, o *domorder.Order, c confirmation, shortages []dominv.Shortage) {
	meta := c.metadata()
	meta["stock_decremented"] = false
	meta["shortages"] = shortageMetadata(shortages)
	s.record(ctx, domaudit.ActionPaymentInsufficientStock, o.ID, c.Actor, meta)
}

func orderLines(o *domorder.Order) []dominv.Line {
	lines := make([]dominv.Line, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, dominv.Line{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return lines
}

func shortageNote(paymentID string, shortages []dominv.Shortage) string {
	parts := make([]string, 0, len(shortages))
	for _, sh := range shortages {
		parts = append(parts, fmt.Sprintf("%s requested %d, available %d", sh.ProductID, sh.Requested, sh.Available))
	}
	return fmt.Sprintf("payment %s captured but stock is short: %s", paymentID, strings.Join(parts, "; "))
}

func shortageMetadata(shortages []dominv.Shortage) []map[string]any {
	out := make([]map[string]any, 0, len(shortages))
	for _, sh := range shortages {
		out = append(out, map[string]any{
			"product_id": sh.ProductID,
			"requested":  sh.Requested,
			"available":  sh.Available,
		})
	}
	return out
}

func linesMetadata(lines []dominv.Line) []map[string]any {
	out := make([]map[string]any, 0, len(lines))
	for _, l := range lines {
		out = append(out, map[string]any{"product_id": l.ProductID, "quantity": l.Quantity})
	}
	return out
}
