package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
)

const (
	useCaseCapture = "payment.capture"
	providerPeer   = "payment_provider"
)

type CapturePaymentInput struct {
	ProviderOrderID string
}

// CapturePaymentUseCase is the synchronous channel: it captures the approved
// provider order and hands the capture to the confirmation pipeline.
type CapturePaymentUseCase struct {
	gateway dompay.Gateway
	confirm *ConfirmPaymentUseCase
	deny    *DenyPaymentUseCase
	in      application.Instruments
}

var _ application.UseCase[CapturePaymentInput, *ConfirmPaymentResult] = (*CapturePaymentUseCase)(nil)

func NewCapturePaymentUseCase(gateway dompay.Gateway, confirm *ConfirmPaymentUseCase, deny *DenyPaymentUseCase, tel observability.Observability) *CapturePaymentUseCase {
	return &CapturePaymentUseCase{
		gateway: gateway,
		confirm: confirm,
		deny:    deny,
		in:      application.NewInstruments(tel, paymentService),
	}
}

func (uc *CapturePaymentUseCase) Execute(ctx context.Context, cmd CapturePaymentInput) (_ *ConfirmPaymentResult, err error) {
	logger := logctx.FromOr(ctx, uc.in.Log).With(
		observability.F("use_case", useCaseCapture),
		observability.F("provider_order_id", cmd.ProviderOrderID),
	)
	ctx, span := uc.in.Tracer.Start(ctx, application.SpanPrefix+"CapturePayment",
		attribute.String("use_case", useCaseCapture),
		attribute.String("payment.provider_order_id", cmd.ProviderOrderID),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	var captureStatus dompay.CaptureStatus

	defer func() {
		uc.in.Done(ctx, span, logger, useCaseCapture, outcome, statusText, start, err,
			observability.F("capture_status", string(captureStatus)),
		)
	}()

	if cmd.ProviderOrderID == "" {
		outcome, statusText = "error", "PROVIDER_ORDER_ID_REQUIRED"
		return nil, application.NewValidation("payment", "provider order id is required")
	}

	capture, err := uc.capture(ctx, cmd.ProviderOrderID)
	if err != nil {
		outcome, statusText = "error", "PROVIDER_CAPTURE_FAILED"
		return nil, err
	}
	captureStatus = capture.Status
	orderRef := capture.CustomID
	if orderRef == "" {
		orderRef = capture.ProviderOrderID
	}
	ctx = logctx.With(ctx, logger.With(observability.F("capture_id", capture.CaptureID)))

	switch capture.Status {
	case dompay.CaptureCompleted:
		res, confirmErr := uc.confirm.Execute(ctx, ConfirmPaymentInput{
			Provider:  uc.gateway.Provider(),
			PaymentID: capture.CaptureID,
			OrderRef:  orderRef,
			Amount:    capture.Amount,
			Channel:   dompay.ChannelCapture,
		})
		if confirmErr != nil {
			outcome, statusText = "error", "CONFIRM_FAILED"
			return res, confirmErr
		}
		statusText = string(res.Outcome)
		return res, nil
	case dompay.CaptureDeclined:
		res, denyErr := uc.deny.Execute(ctx, DenyPaymentInput{
			Provider:  uc.gateway.Provider(),
			PaymentID: capture.CaptureID,
			OrderRef:  orderRef,
			Reason:    "capture declined",
			Channel:   dompay.ChannelCapture,
		})
		if denyErr != nil {
			outcome, statusText = "error", "DENY_FAILED"
			return nil, denyErr
		}
		statusText = "DECLINED"
		return &ConfirmPaymentResult{Outcome: res.Outcome, OrderID: res.OrderID}, nil
	default:
		// The webhook reports the capture once the provider completes it.
		statusText = "CAPTURE_PENDING"
		return &ConfirmPaymentResult{Outcome: OutcomePending, OrderID: orderRef}, nil
	}
}

func (uc *CapturePaymentUseCase) capture(ctx context.Context, providerOrderID string) (*dompay.Capture, error) {
	start := time.Now()
	capture, err := uc.gateway.CaptureOrder(ctx, providerOrderID)
	uc.in.ObserveExternal(providerPeer, "orders.capture", externalOutcome(err), start)
	if !errors.Is(err, dompay.ErrAlreadyCaptured) {
		if err != nil {
			return nil, fmt.Errorf("payment: capture: %w", err)
		}
		return capture, nil
	}

	start = time.Now()
	capture, err = uc.gateway.GetCapture(ctx, providerOrderID)
	uc.in.ObserveExternal(providerPeer, "orders.get", externalOutcome(err), start)
	if err != nil {
		return nil, fmt.Errorf("payment: read existing capture: %w", err)
	}
	return capture, nil
}

func externalOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
