package payment_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application/payment"
	domaudit "github.com/Zhima-Mochi/minishop-checkout/internal/domain/audit"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/outbox"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyDedup fails the next failures lookups, then behaves.
type flakyDedup struct {
	dompay.DeduplicationStore
	failures atomic.Int32
}

func (d *flakyDedup) IsProcessed(ctx context.Context, provider dompay.Provider, paymentID string) (bool, error) {
	if d.failures.Add(-1) >= 0 {
		return false, errors.New("dedup store unavailable")
	}
	return d.DeduplicationStore.IsProcessed(ctx, provider, paymentID)
}

func capturedBody(orderRef string) *fakeGateway {
	return &fakeGateway{decodeWebhook: notificationsByBody(map[string]*dompay.Notification{
		"captured": {EventID: "WH-1", Kind: dompay.NotificationCaptured, Provider: dompay.ProviderPayPal, PaymentID: "CAP-1", OrderRef: orderRef},
	})}
}

func (f *fixture) flakyConfirm(failures int32) *payment.ConfirmPaymentUseCase {
	flaky := &flakyDedup{DeduplicationStore: f.dedup}
	flaky.failures.Store(failures)
	deps := f.deps
	deps.Dedup = flaky
	return payment.NewConfirmPaymentUseCase(deps, nil)
}

func TestRedriveRecoversTransientWorkerFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.restock(t, "A", 5)
	f.placeOrder(t, "order-1", item("A", 2))

	inbox := memory.NewWebhookInbox()
	bus := outbox.NewBus(nil, outbox.WithHandlerTimeout(5*time.Second))
	worker := payment.NewWorker(bus, f.flakyConfirm(1), f.deny, f.refund, nil,
		payment.WithInbox(inbox), payment.WithAudit(f.recorder))
	worker.Start()
	bus.Start(ctx)
	t.Cleanup(func() { _ = bus.Stop(context.Background()) })

	intake := payment.NewWebhookIntake(capturedBody("order-1"), bus, false, nil).WithInbox(inbox)
	res, err := intake.Execute(ctx, payment.WebhookInput{Body: []byte("captured")})
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	require.Eventually(t, func() bool {
		e, ok := inbox.Entry("WH-1")
		return ok && e.Attempts == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, domorder.PaymentPending, f.order(t, "order-1").PaymentStatus)
	assert.Equal(t, 5, f.available(t, "A"))

	applied, err := payment.NewRedriver(inbox, worker, nil, payment.WithRedriveBackoff(0)).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	e, _ := inbox.Entry("WH-1")
	assert.Equal(t, dompay.InboxDone, e.Status)
	assert.Equal(t, domorder.PaymentPaid, f.order(t, "order-1").PaymentStatus)
	assert.Equal(t, 3, f.available(t, "A"))
	assert.Equal(t, 1, f.audits(domaudit.ActionPaymentCaptured))
	assert.Zero(t, f.audits(domaudit.ActionWebhookAbandoned))

	// A redelivery of the applied event is answered without a new run.
	res, err = intake.Execute(ctx, payment.WebhookInput{Body: []byte("captured")})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	applied, err = payment.NewRedriver(inbox, worker, nil, payment.WithRedriveBackoff(0)).RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied)
}

func TestRedriveDeliversNotificationTheQueueLost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.restock(t, "A", 5)
	f.placeOrder(t, "order-1", item("A", 2))

	inbox := memory.NewWebhookInbox()
	res, err := payment.NewWebhookIntake(capturedBody("order-1"), failingPublisher{}, false, nil).
		WithInbox(inbox).
		Execute(ctx, payment.WebhookInput{Body: []byte("captured")})
	require.NoError(t, err, "a stored notification is acknowledged even when the queue refuses it")
	assert.True(t, res.Accepted)

	worker := payment.NewWorker(nil, f.confirm, f.deny, f.refund, nil, payment.WithInbox(inbox))
	applied, err := payment.NewRedriver(inbox, worker, nil, payment.WithRedriveBackoff(0)).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Equal(t, domorder.PaymentPaid, f.order(t, "order-1").PaymentStatus)
	assert.Equal(t, 3, f.available(t, "A"))
}

func TestWebhookIntakeFailsWhenInboxRefuses(t *testing.T) {
	rec := &recordingPublisher{}
	_, err := payment.NewWebhookIntake(capturedBody("order-1"), rec, false, nil).
		WithInbox(failingInbox{}).
		Execute(context.Background(), payment.WebhookInput{Body: []byte("captured")})
	assert.ErrorIs(t, err, payment.ErrEnqueueFailed)
	assert.Empty(t, rec.events)
}

func TestWorkerAbandonsPermanentFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown order", func(t *testing.T) {
		f := newFixture(t)
		inbox := memory.NewWebhookInbox()
		n := dompay.Notification{EventID: "WH-1", Kind: dompay.NotificationCaptured, Provider: dompay.ProviderPayPal, PaymentID: "CAP-1", OrderRef: "ghost"}
		_, err := inbox.Save(ctx, n, time.Now())
		require.NoError(t, err)

		worker := payment.NewWorker(nil, f.confirm, f.deny, f.refund, nil,
			payment.WithInbox(inbox), payment.WithAudit(f.recorder))
		err = worker.Process(ctx, n, time.Now(), 0)
		assert.ErrorIs(t, err, domorder.ErrNotFound)

		e, _ := inbox.Entry("WH-1")
		assert.Equal(t, dompay.InboxDead, e.Status)
		assert.Equal(t, 1, f.audits(domaudit.ActionWebhookAbandoned))
	})

	t.Run("attempts exhausted", func(t *testing.T) {
		f := newFixture(t)
		f.restock(t, "A", 5)
		f.placeOrder(t, "order-1", item("A", 2))
		inbox := memory.NewWebhookInbox()
		n := dompay.Notification{EventID: "WH-1", Kind: dompay.NotificationCaptured, Provider: dompay.ProviderPayPal, PaymentID: "CAP-1", OrderRef: "order-1"}
		_, err := inbox.Save(ctx, n, time.Now())
		require.NoError(t, err)

		worker := payment.NewWorker(nil, f.flakyConfirm(10), f.deny, f.refund, nil,
			payment.WithInbox(inbox), payment.WithAudit(f.recorder), payment.WithMaxAttempts(2))
		redriver := payment.NewRedriver(inbox, worker, nil, payment.WithRedriveBackoff(0))
		for range 3 {
			_, err := redriver.RunOnce(ctx)
			require.NoError(t, err)
		}

		e, _ := inbox.Entry("WH-1")
		assert.Equal(t, dompay.InboxDead, e.Status)
		assert.Equal(t, 2, e.Attempts)
		assert.Equal(t, 1, f.audits(domaudit.ActionWebhookAbandoned))
		assert.Equal(t, 5, f.available(t, "A"))
	})
}

func TestRedriveWaitsForBackoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.restock(t, "A", 5)
	f.placeOrder(t, "order-1", item("A", 2))

	inbox := memory.NewWebhookInbox()
	n := dompay.Notification{EventID: "WH-1", Kind: dompay.NotificationCaptured, Provider: dompay.ProviderPayPal, PaymentID: "CAP-1", OrderRef: "order-1"}
	_, err := inbox.Save(ctx, n, time.Now())
	require.NoError(t, err)
	require.NoError(t, inbox.MarkFailed(ctx, "WH-1", "timeout", false))
	require.NoError(t, inbox.MarkFailed(ctx, "WH-1", "timeout", false))

	worker := payment.NewWorker(nil, f.confirm, f.deny, f.refund, nil, payment.WithInbox(inbox))
	now := time.Now()
	clock := func() time.Time { return now }
	redriver := payment.NewRedriver(inbox, worker, nil,
		payment.WithRedriveBackoff(time.Minute), payment.WithRedriveClock(clock))

	applied, err := redriver.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied, "two failures wait two minutes")

	now = now.Add(2*time.Minute + time.Second)
	applied, err = redriver.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Equal(t, domorder.PaymentPaid, f.order(t, "order-1").PaymentStatus)
}

type failingInbox struct{}

func (failingInbox) Save(context.Context, dompay.Notification, time.Time) (bool, error) {
	return false, errors.New("database is locked")
}

func (failingInbox) MarkDone(context.Context, string) error { return nil }

func (failingInbox) MarkFailed(context.Context, string, string, bool) error { return nil }

func (failingInbox) Pending(context.Context, int) ([]dompay.InboxEntry, error) {
	return nil, nil
}
