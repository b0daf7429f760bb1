package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
)

const useCaseWebhook = "payment.webhook_intake"

type WebhookInput struct {
	Header http.Header
	Body   []byte
}

type WebhookResult struct {
	Accepted bool
	EventID  string
	Kind     dompay.NotificationKind
}

// WebhookIntake verifies and normalizes a provider webhook and queues it for
// the worker. With an inbox the notification is stored before the provider is
// answered, so a crash or a failed run leaves it for the Redriver.
type WebhookIntake struct {
	gateway   dompay.Gateway
	publisher domoutbox.Publisher
	inbox     dompay.Inbox
	verify    bool
	in        application.Instruments
}

var _ application.UseCase[WebhookInput, *WebhookResult] = (*WebhookIntake)(nil)

func NewWebhookIntake(gateway dompay.Gateway, publisher domoutbox.Publisher, verify bool, tel observability.Observability) *WebhookIntake {
	return &WebhookIntake{
		gateway:   gateway,
		publisher: publisher,
		verify:    verify,
		in:        application.NewInstruments(tel, paymentService),
	}
}

// WithInbox makes the intake persist every accepted notification.
func (uc *WebhookIntake) WithInbox(inbox dompay.Inbox) *WebhookIntake {
	uc.inbox = inbox
	return uc
}

func (uc *WebhookIntake) Execute(ctx context.Context, cmd WebhookInput) (_ *WebhookResult, err error) {
	logger := logctx.FromOr(ctx, uc.in.Log).With(observability.F("use_case", useCaseWebhook))
	ctx, span := uc.in.Tracer.Start(ctx, application.SpanPrefix+"WebhookIntake",
		attribute.String("use_case", useCaseWebhook),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	result := &WebhookResult{}

	defer func() {
		uc.in.Done(ctx, span, logger, useCaseWebhook, outcome, statusText, start, err,
			observability.F("webhook_event_id", result.EventID),
			observability.F("kind", string(result.Kind)),
		)
	}()

	n, err := uc.gateway.DecodeWebhook(cmd.Body)
	if err != nil {
		outcome, statusText = "error", "MALFORMED"
		if !errors.Is(err, dompay.ErrMalformedWebhook) {
			err = fmt.Errorf("%w: %w", dompay.ErrMalformedWebhook, err)
		}
		return nil, err
	}

	if uc.verify {
		verifyStart := time.Now()
		err = uc.gateway.VerifyWebhook(ctx, cmd.Header, cmd.Body)
		uc.in.ObserveExternal(providerPeer, "webhooks.verify", externalOutcome(err), verifyStart)
		if err != nil {
			outcome, statusText = "error", "SIGNATURE_REJECTED"
			return nil, err
		}
	}

	if n == nil {
		statusText = "IGNORED_EVENT_TYPE"
		return result, nil
	}
	if n.EventID == "" {
		n.EventID = string(n.Kind) + ":" + n.PaymentID
	}
	result.EventID, result.Kind = n.EventID, n.Kind
	span.SetAttributes(
		attribute.String("webhook.event_id", n.EventID),
		attribute.String("webhook.kind", string(n.Kind)),
	)

	evt := dompay.NotificationReceivedEvent{Notification: *n, ReceivedAt: time.Now().UTC()}
	if uc.inbox == nil {
		if pubErr := uc.in.Publish(ctx, uc.publisher, evt); pubErr != nil {
			outcome, statusText = "error", "ENQUEUE_FAILED"
			return nil, fmt.Errorf("%w: %w", ErrEnqueueFailed, pubErr)
		}
		result.Accepted = true
		return result, nil
	}

	created, saveErr := uc.inbox.Save(ctx, *n, evt.ReceivedAt)
	if saveErr != nil {
		outcome, statusText = "error", "INBOX_SAVE_FAILED"
		return nil, fmt.Errorf("%w: %w", ErrEnqueueFailed, saveErr)
	}
	result.Accepted = true
	if !created {
		statusText = "ALREADY_RECEIVED"
		return result, nil
	}
	// Stored; a lost publish is picked up by the redrive loop.
	if pubErr := uc.in.Publish(ctx, uc.publisher, evt); pubErr != nil {
		statusText = "QUEUED_FOR_REDRIVE"
		logger.Warn("webhook_publish_deferred", observability.F("error", pubErr))
	}
	return result, nil
}
