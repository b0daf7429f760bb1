package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	domaudit "github.com/Zhima-Mochi/minishop-checkout/internal/domain/audit"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
)

const useCaseDeny = "payment.deny"

type DenyPaymentInput struct {
	Provider  dompay.Provider
	PaymentID string
	OrderRef  string
	Reason    string
	Channel   dompay.Channel
}

type DenyPaymentResult struct {
	Outcome Outcome
	OrderID string
}

// DenyPaymentUseCase fails a pending payment. Denials for orders in any other
// payment status are recorded and otherwise ignored.
type DenyPaymentUseCase struct {
	settlement
}

var _ application.UseCase[DenyPaymentInput, *DenyPaymentResult] = (*DenyPaymentUseCase)(nil)

func NewDenyPaymentUseCase(deps Deps, tel observability.Observability) *DenyPaymentUseCase {
	return &DenyPaymentUseCase{settlement: newSettlement(deps, tel)}
}

func (uc *DenyPaymentUseCase) Execute(ctx context.Context, cmd DenyPaymentInput) (_ *DenyPaymentResult, err error) {
	if cmd.Provider == "" {
		cmd.Provider = uc.Provider
	}
	if cmd.Reason == "" {
		cmd.Reason = "declined by provider"
	}
	logger := logctx.FromOr(ctx, uc.in.Log).With(
		observability.F("use_case", useCaseDeny),
		observability.F("payment_id", cmd.PaymentID),
		observability.F("order_ref", cmd.OrderRef),
	)
	ctx, span := uc.in.Tracer.Start(ctx, application.SpanPrefix+"DenyPayment",
		attribute.String("use_case", useCaseDeny),
		attribute.String("payment.id", cmd.PaymentID),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	result := &DenyPaymentResult{}

	defer func() {
		if result.Outcome != "" {
			uc.count(cmd.Channel, result.Outcome)
		}
		uc.in.Done(ctx, span, logger, useCaseDeny, outcome, statusText, start, err,
			observability.F("payment_outcome", string(result.Outcome)),
			observability.F("order_id", result.OrderID),
		)
	}()

	if cmd.OrderRef == "" {
		outcome, statusText = "error", "ORDER_REF_REQUIRED"
		return nil, fmt.Errorf("%w: %w", application.ErrValidation, ErrOrderRefRequired)
	}
	c := confirmation{Provider: cmd.Provider, PaymentID: cmd.PaymentID, Channel: cmd.Channel}

	order, err := uc.resolveOrder(ctx, cmd.OrderRef)
	if err != nil {
		outcome, statusText = "error", "ORDER_LOOKUP_FAILED"
		return nil, err
	}
	result.OrderID = order.ID

	meta := c.metadata()
	meta["reason"] = cmd.Reason
	if order.PaymentStatus != domorder.PaymentPending {
		statusText = "IGNORED"
		result.Outcome = OutcomeIgnored
		meta["payment_status"] = string(order.PaymentStatus)
		uc.record(ctx, domaudit.ActionPaymentIgnored, order.ID, c.Actor, meta)
		return result, nil
	}

	if err = order.PaymentDeclined(cmd.Reason); err != nil {
		outcome, statusText = "error", "STATE_TRANSITION_FAILED"
		return nil, err
	}
	if err = uc.Orders.UpdateIfPaymentStatus(ctx, order, domorder.PaymentPending); err != nil {
		if errors.Is(err, domorder.ErrConflict) {
			statusText = "IGNORED"
			result.Outcome = OutcomeIgnored
			uc.record(ctx, domaudit.ActionPaymentIgnored, order.ID, c.Actor, meta)
			return result, nil
		}
		outcome, statusText = "error", "ORDER_UPDATE_FAILED"
		return nil, fmt.Errorf("payment: record denial: %w", err)
	}

	result.Outcome = OutcomeDenied
	uc.record(ctx, domaudit.ActionPaymentDenied, order.ID, c.Actor, meta)
	return result, nil
}
