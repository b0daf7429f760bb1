package payment_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application/payment"
	domaudit "github.com/Zhima-Mochi/minishop-checkout/internal/domain/audit"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/outbox"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// notificationsByBody decodes a test body into the notification registered for it.
func notificationsByBody(known map[string]*dompay.Notification) func([]byte) (*dompay.Notification, error) {
	return func(body []byte) (*dompay.Notification, error) {
		n, ok := known[string(body)]
		if !ok {
			return nil, dompay.ErrMalformedWebhook
		}
		return n, nil
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, domoutbox.Event) error {
	return errors.New("queue full")
}

func TestWebhookIntakeQueuesVerifiedNotification(t *testing.T) {
	rec := &recordingPublisher{}
	gw := &fakeGateway{decodeWebhook: notificationsByBody(map[string]*dompay.Notification{
		"captured": {EventID: "WH-1", Kind: dompay.NotificationCaptured, PaymentID: "CAP-1", OrderRef: "order-1"},
	})}
	uc := payment.NewWebhookIntake(gw, rec, true, nil)

	res, err := uc.Execute(context.Background(), payment.WebhookInput{Body: []byte("captured")})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, "WH-1", res.EventID)
	assert.Equal(t, dompay.NotificationCaptured, res.Kind)
	require.Len(t, rec.events, 1)
	evt, ok := rec.events[0].(dompay.NotificationReceivedEvent)
	require.True(t, ok)
	assert.Equal(t, "CAP-1", evt.Notification.PaymentID)
	assert.False(t, evt.ReceivedAt.IsZero())
}

func TestWebhookIntakeRejections(t *testing.T) {
	known := map[string]*dompay.Notification{
		"captured":   {EventID: "WH-1", Kind: dompay.NotificationCaptured, PaymentID: "CAP-1", OrderRef: "order-1"},
		"irrelevant": nil,
	}

	t.Run("malformed", func(t *testing.T) {
		uc := payment.NewWebhookIntake(&fakeGateway{decodeWebhook: notificationsByBody(known)}, &recordingPublisher{}, true, nil)
		_, err := uc.Execute(context.Background(), payment.WebhookInput{Body: []byte("{")})
		assert.ErrorIs(t, err, dompay.ErrMalformedWebhook)
	})

	t.Run("bad signature", func(t *testing.T) {
		rec := &recordingPublisher{}
		gw := &fakeGateway{
			decodeWebhook: notificationsByBody(known),
			verifyWebhook: func(context.Context, http.Header, []byte) error { return dompay.ErrInvalidSignature },
		}
		_, err := payment.NewWebhookIntake(gw, rec, true, nil).Execute(context.Background(), payment.WebhookInput{Body: []byte("captured")})
		assert.ErrorIs(t, err, dompay.ErrInvalidSignature)
		assert.Empty(t, rec.events)
	})

	t.Run("verification disabled", func(t *testing.T) {
		rec := &recordingPublisher{}
		gw := &fakeGateway{
			decodeWebhook: notificationsByBody(known),
			verifyWebhook: func(context.Context, http.Header, []byte) error { return dompay.ErrInvalidSignature },
		}
		res, err := payment.NewWebhookIntake(gw, rec, false, nil).Execute(context.Background(), payment.WebhookInput{Body: []byte("captured")})
		require.NoError(t, err)
		assert.True(t, res.Accepted)
	})

	t.Run("ignored event type", func(t *testing.T) {
		rec := &recordingPublisher{}
		res, err := payment.NewWebhookIntake(&fakeGateway{decodeWebhook: notificationsByBody(known)}, rec, true, nil).
			Execute(context.Background(), payment.WebhookInput{Body: []byte("irrelevant")})
		require.NoError(t, err)
		assert.False(t, res.Accepted)
		assert.Empty(t, rec.events)
	})

	t.Run("enqueue failure", func(t *testing.T) {
		gw := &fakeGateway{decodeWebhook: notificationsByBody(known)}
		_, err := payment.NewWebhookIntake(gw, failingPublisher{}, true, nil).Execute(context.Background(), payment.WebhookInput{Body: []byte("captured")})
		assert.ErrorIs(t, err, payment.ErrEnqueueFailed)
	})
}

func TestWorkerAppliesQueuedNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.restock(t, "A", 5)
	f.placeOrder(t, "order-1", item("A", 3))
	f.placeOrder(t, "order-2", item("A", 1))

	bus := outbox.NewBus(nil, outbox.WithHandlerTimeout(5*time.Second))
	payment.NewWorker(bus, f.confirm, f.deny, f.refund, nil).Start()
	bus.Start(ctx)

	gw := &fakeGateway{decodeWebhook: notificationsByBody(map[string]*dompay.Notification{
		"captured-1": {EventID: "WH-1", Kind: dompay.NotificationCaptured, Provider: dompay.ProviderPayPal, PaymentID: "CAP-1", OrderRef: "order-1"},
		"denied-2":   {EventID: "WH-2", Kind: dompay.NotificationDenied, Provider: dompay.ProviderPayPal, PaymentID: "CAP-2", OrderRef: "PP-order-2"},
		"refund-1":   {EventID: "WH-3", Kind: dompay.NotificationRefunded, Provider: dompay.ProviderPayPal, PaymentID: "REF-1", CaptureID: "CAP-1"},
	})}
	intake := payment.NewWebhookIntake(gw, bus, false, nil)

	// The capture is delivered twice, as providers do.
	for _, body := range []string{"captured-1", "captured-1", "denied-2"} {
		_, err := intake.Execute(ctx, payment.WebhookInput{Body: []byte(body)})
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool {
		return f.order(t, "order-2").PaymentStatus == domorder.PaymentFailed &&
			f.order(t, "order-1").PaymentStatus == domorder.PaymentPaid
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, f.available(t, "A"))

	_, err := intake.Execute(ctx, payment.WebhookInput{Body: []byte("refund-1")})
	require.NoError(t, err)

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, bus.Stop(stopCtx))

	assert.Equal(t, domorder.PaymentRefunded, f.order(t, "order-1").PaymentStatus)
	assert.Equal(t, 5, f.available(t, "A"))
	assert.Equal(t, 1, f.audits(domaudit.ActionPaymentCaptured))
	assert.Equal(t, 1, f.audits(domaudit.ActionPaymentDuplicate))
	assert.Equal(t, 1, f.audits(domaudit.ActionPaymentRefunded))
}
