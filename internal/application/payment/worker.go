package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	domaudit "github.com/Zhima-Mochi/minishop-checkout/internal/domain/audit"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
)

const (
	workerService       = "payment-worker"
	useCaseNotification = "payment.worker.notification"

	defaultMaxAttempts = 8
)

// Worker consumes queued webhook notifications and routes them to the use case
// for their kind. Provider redeliveries are expected and absorbed downstream.
// With an inbox every run is recorded so failed notifications get redriven.
type Worker struct {
	subscriber  domoutbox.Subscriber
	confirm     application.UseCase[ConfirmPaymentInput, *ConfirmPaymentResult]
	deny        application.UseCase[DenyPaymentInput, *DenyPaymentResult]
	refund      application.UseCase[RefundPaymentInput, *RefundPaymentResult]
	inbox       dompay.Inbox
	audit       AuditRecorder
	maxAttempts int
	in          application.Instruments
}

type WorkerOption func(*Worker)

func WithInbox(inbox dompay.Inbox) WorkerOption {
	return func(w *Worker) { w.inbox = inbox }
}

// WithAudit records notifications the worker gives up on.
func WithAudit(audit AuditRecorder) WorkerOption {
	return func(w *Worker) { w.audit = audit }
}

// WithMaxAttempts bounds how often a transiently failing notification is run.
func WithMaxAttempts(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

func NewWorker(
	subscriber domoutbox.Subscriber,
	confirm application.UseCase[ConfirmPaymentInput, *ConfirmPaymentResult],
	deny application.UseCase[DenyPaymentInput, *DenyPaymentResult],
	refund application.UseCase[RefundPaymentInput, *RefundPaymentResult],
	tel observability.Observability,
	opts ...WorkerOption,
) *Worker {
	w := &Worker{
		subscriber:  subscriber,
		confirm:     confirm,
		deny:        deny,
		refund:      refund,
		maxAttempts: defaultMaxAttempts,
		in:          application.NewInstruments(tel, workerService),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) Start() {
	if w.subscriber == nil {
		return
	}
	w.subscriber.Subscribe(dompay.NotificationReceivedEvent{}.EventName(), w.handleNotification)
}

func (w *Worker) handleNotification(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(dompay.NotificationReceivedEvent)
	if !ok {
		return nil
	}
	return w.Process(ctx, evt.Notification, evt.ReceivedAt, 0)
}

// Process applies one notification. attempts is how many earlier runs failed;
// the outcome is written back to the inbox when one is configured.
func (w *Worker) Process(ctx context.Context, n dompay.Notification, receivedAt time.Time, attempts int) error {
	err := w.apply(ctx, n, receivedAt, attempts)
	if w.inbox == nil {
		return err
	}
	if err == nil {
		if markErr := w.inbox.MarkDone(ctx, n.EventID); markErr != nil {
			w.in.Log.Warn("webhook_inbox_mark_done_failed",
				observability.F("webhook_event_id", n.EventID),
				observability.F("error", markErr),
			)
		}
		return nil
	}

	dead := permanent(err) || attempts+1 >= w.maxAttempts
	if markErr := w.inbox.MarkFailed(ctx, n.EventID, err.Error(), dead); markErr != nil {
		w.in.Log.Warn("webhook_inbox_mark_failed_failed",
			observability.F("webhook_event_id", n.EventID),
			observability.F("error", markErr),
		)
	}
	if dead && w.audit != nil {
		w.audit.Record(ctx, domaudit.Entry{
			Action:       domaudit.ActionWebhookAbandoned,
			ResourceType: domaudit.ResourceWebhook,
			ResourceID:   n.EventID,
			Actor:        domaudit.ActorSystem,
			Metadata: map[string]any{
				"kind":       string(n.Kind),
				"payment_id": n.PaymentID,
				"order_ref":  n.OrderRef,
				"attempts":   attempts + 1,
				"error":      err.Error(),
			},
		})
	}
	return err
}

// permanent errors do not change on a retry; the notification needs an operator.
func permanent(err error) bool {
	return errors.Is(err, application.ErrValidation) ||
		errors.Is(err, ErrPaymentState) ||
		errors.Is(err, ErrStatusUpdateFailed) ||
		errors.Is(err, ErrOrderRefRequired) ||
		errors.Is(err, domorder.ErrNotFound)
}

func (w *Worker) apply(ctx context.Context, n dompay.Notification, receivedAt time.Time, attempts int) (err error) {

	logger := logctx.FromOr(ctx, w.in.Log).With(
		observability.F("use_case", useCaseNotification),
		observability.F("webhook_event_id", n.EventID),
		observability.F("kind", string(n.Kind)),
		observability.F("payment_id", n.PaymentID),
	)
	ctx, span := w.in.Tracer.Start(ctx, application.SpanPrefix+"PaymentNotification",
		attribute.String("use_case", useCaseNotification),
		attribute.String("event", dompay.NotificationReceivedEvent{}.EventName()),
		attribute.String("webhook.kind", string(n.Kind)),
		attribute.Int("webhook.attempts", attempts),
	)
	logger = logger.With(logctx.TraceFields(ctx)...)
	// pass logger back to ctx, so the use cases log with the same event fields
	ctx = logctx.With(ctx, logger)

	start := time.Now()
	outcome, status := "success", "OK"
	defer func() {
		w.in.Done(ctx, span, logger, useCaseNotification, outcome, status, start, err,
			observability.F("queue_delay_seconds", start.Sub(receivedAt).Seconds()),
			observability.F("attempts", attempts),
		)
	}()

	switch n.Kind {
	case dompay.NotificationCaptured:
		res, cerr := w.confirm.Execute(ctx, ConfirmPaymentInput{
			Provider:  n.Provider,
			PaymentID: n.PaymentID,
			OrderRef:  n.OrderRef,
			Amount:    n.Amount,
			Channel:   dompay.ChannelWebhook,
		})
		if cerr != nil {
			outcome, status = "error", "CONFIRM_FAILED"
			return fmt.Errorf("payment worker: confirm: %w", cerr)
		}
		status = string(res.Outcome)
	case dompay.NotificationDenied:
		res, derr := w.deny.Execute(ctx, DenyPaymentInput{
			Provider:  n.Provider,
			PaymentID: n.PaymentID,
			OrderRef:  n.OrderRef,
			Reason:    "capture denied by provider",
			Channel:   dompay.ChannelWebhook,
		})
		if derr != nil {
			outcome, status = "error", "DENY_FAILED"
			return fmt.Errorf("payment worker: deny: %w", derr)
		}
		status = string(res.Outcome)
	case dompay.NotificationRefunded:
		res, rerr := w.refund.Execute(ctx, RefundPaymentInput{
			Provider:  n.Provider,
			RefundID:  n.PaymentID,
			CaptureID: n.CaptureID,
			OrderRef:  n.OrderRef,
			Amount:    n.Amount,
		})
		if rerr != nil {
			outcome, status = "error", "REFUND_FAILED"
			return fmt.Errorf("payment worker: refund: %w", rerr)
		}
		status = string(res.Outcome)
	default:
		outcome, status = "ignored", "UNKNOWN_KIND"
	}
	return nil
}
