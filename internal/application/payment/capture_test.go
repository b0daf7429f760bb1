package payment_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	"github.com/Zhima-Mochi/minishop-checkout/internal/application/payment"
	domaudit "github.com/Zhima-Mochi/minishop-checkout/internal/domain/audit"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	createCheckout func(context.Context, dompay.CheckoutRequest) (*dompay.Checkout, error)
	captureOrder   func(context.Context, string) (*dompay.Capture, error)
	getCapture     func(context.Context, string) (*dompay.Capture, error)
	verifyWebhook  func(context.Context, http.Header, []byte) error
	decodeWebhook  func([]byte) (*dompay.Notification, error)

	captureCalls int
	getCalls     int
}

func (g *fakeGateway) Provider() dompay.Provider { return dompay.ProviderPayPal }

func (g *fakeGateway) CreateCheckout(ctx context.Context, req dompay.CheckoutRequest) (*dompay.Checkout, error) {
	if g.createCheckout == nil {
		return &dompay.Checkout{ProviderOrderID: "PP-" + req.OrderID}, nil
	}
	return g.createCheckout(ctx, req)
}

func (g *fakeGateway) CaptureOrder(ctx context.Context, id string) (*dompay.Capture, error) {
	g.captureCalls++
	return g.captureOrder(ctx, id)
}

func (g *fakeGateway) GetCapture(ctx context.Context, id string) (*dompay.Capture, error) {
	g.getCalls++
	return g.getCapture(ctx, id)
}

func (g *fakeGateway) VerifyWebhook(ctx context.Context, h http.Header, body []byte) error {
	if g.verifyWebhook == nil {
		return nil
	}
	return g.verifyWebhook(ctx, h, body)
}

func (g *fakeGateway) DecodeWebhook(body []byte) (*dompay.Notification, error) {
	return g.decodeWebhook(body)
}

func completedCapture(orderID string) *dompay.Capture {
	return &dompay.Capture{
		ProviderOrderID: "PP-" + orderID,
		CaptureID:       "CAP-" + orderID,
		Status:          dompay.CaptureCompleted,
		Amount:          1000,
		Currency:        "USD",
		CustomID:        orderID,
	}
}

func newCapture(f *fixture, gw dompay.Gateway) *payment.CapturePaymentUseCase {
	return payment.NewCapturePaymentUseCase(gw, f.confirm, f.deny, nil)
}

func TestCaptureConfirmsCompletedCapture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.restock(t, "A", 4)
	f.placeOrder(t, "order-1", item("A", 2))

	gw := &fakeGateway{captureOrder: func(_ context.Context, id string) (*dompay.Capture, error) {
		assert.Equal(t, "PP-order-1", id)
		return completedCapture("order-1"), nil
	}}
	res, err := newCapture(f, gw).Execute(ctx, payment.CapturePaymentInput{ProviderOrderID: "PP-order-1"})
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeApplied, res.Outcome)
	assert.Equal(t, "order-1", res.OrderID)
	assert.Equal(t, 2, f.available(t, "A"))
	assert.Equal(t, "CAP-order-1", f.order(t, "order-1").CaptureID)
}

func TestCaptureReadsExistingCaptureWhenAlreadyCaptured(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.restock(t, "A", 4)
	f.placeOrder(t, "order-1", item("A", 1))

	gw := &fakeGateway{
		captureOrder: func(context.Context, string) (*dompay.Capture, error) {
			return nil, dompay.ErrAlreadyCaptured
		},
		getCapture: func(context.Context, string) (*dompay.Capture, error) {
			c := completedCapture("order-1")
			c.CustomID = ""
			return c, nil
		},
	}
	uc := newCapture(f, gw)

	res, err := uc.Execute(ctx, payment.CapturePaymentInput{ProviderOrderID: "PP-order-1"})
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeApplied, res.Outcome)

	res, err = uc.Execute(ctx, payment.CapturePaymentInput{ProviderOrderID: "PP-order-1"})
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeAlreadyProcessed, res.Outcome)
	assert.Equal(t, 3, f.available(t, "A"))
	assert.Equal(t, 2, gw.getCalls)
}

func TestCapturePendingLeavesOrderUntouched(t *testing.T) {
	f := newFixture(t)
	f.placeOrder(t, "order-1", item("A", 1))

	gw := &fakeGateway{captureOrder: func(context.Context, string) (*dompay.Capture, error) {
		c := completedCapture("order-1")
		c.Status = dompay.CapturePending
		return c, nil
	}}
	res, err := newCapture(f, gw).Execute(context.Background(), payment.CapturePaymentInput{ProviderOrderID: "PP-order-1"})
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomePending, res.Outcome)
	assert.Equal(t, domorder.PaymentPending, f.order(t, "order-1").PaymentStatus)
	assert.Zero(t, f.dedup.Count())
}

func TestCaptureDeclinedFailsPayment(t *testing.T) {
	f := newFixture(t)
	f.placeOrder(t, "order-1", item("A", 1))

	gw := &fakeGateway{captureOrder: func(context.Context, string) (*dompay.Capture, error) {
		c := completedCapture("order-1")
		c.Status = dompay.CaptureDeclined
		return c, nil
	}}
	res, err := newCapture(f, gw).Execute(context.Background(), payment.CapturePaymentInput{ProviderOrderID: "PP-order-1"})
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeDenied, res.Outcome)
	assert.Equal(t, domorder.PaymentFailed, f.order(t, "order-1").PaymentStatus)
	assert.Equal(t, 1, f.audits(domaudit.ActionPaymentDenied))
}

func TestCaptureErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := newCapture(f, &fakeGateway{}).Execute(ctx, payment.CapturePaymentInput{})
	assert.ErrorIs(t, err, application.ErrValidation)

	gw := &fakeGateway{captureOrder: func(context.Context, string) (*dompay.Capture, error) {
		return nil, dompay.ErrProviderUnavailable
	}}
	_, err = newCapture(f, gw).Execute(ctx, payment.CapturePaymentInput{ProviderOrderID: "PP-x"})
	assert.ErrorIs(t, err, dompay.ErrProviderUnavailable)

	gw = &fakeGateway{
		captureOrder: func(context.Context, string) (*dompay.Capture, error) { return nil, dompay.ErrAlreadyCaptured },
		getCapture: func(context.Context, string) (*dompay.Capture, error) {
			return nil, errors.New("boom")
		},
	}
	_, err = newCapture(f, gw).Execute(ctx, payment.CapturePaymentInput{ProviderOrderID: "PP-x"})
	assert.ErrorContains(t, err, "read existing capture")
}
