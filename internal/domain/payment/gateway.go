package payment

import (
	"context"
	"net/http"
)

// Gateway is the outbound port to the payment provider.
type Gateway interface {
	Provider() Provider
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error)
	// CaptureOrder captures an approved provider order. An order that was already
	// captured yields ErrAlreadyCaptured.
	CaptureOrder(ctx context.Context, providerOrderID string) (*Capture, error)
	// GetCapture reads the capture of an already captured provider order.
	GetCapture(ctx context.Context, providerOrderID string) (*Capture, error)
	// VerifyWebhook checks the transmission signature of a webhook delivery.
	VerifyWebhook(ctx context.Context, header http.Header, body []byte) error
	// DecodeWebhook validates and normalizes a webhook body. Event types the
	// service does not act on yield a nil Notification and no error.
	DecodeWebhook(body []byte) (*Notification, error)
}
