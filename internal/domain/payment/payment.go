package payment

import (
	"errors"
	"time"
)

var (
	ErrAlreadyProcessed    = errors.New("payment: already processed")
	ErrAlreadyCaptured     = errors.New("payment: provider order already captured")
	ErrNotCaptured         = errors.New("payment: capture not completed")
	ErrProviderUnavailable = errors.New("payment: provider unavailable")
	ErrProviderRejected    = errors.New("payment: provider rejected request")
	ErrInvalidSignature    = errors.New("payment: webhook signature invalid")
	ErrMalformedWebhook    = errors.New("payment: malformed webhook")
)

// Provider names the payment provider a payment id belongs to.
type Provider string

const ProviderPayPal Provider = "paypal"

// ProcessedPayment is the idempotence record: its existence means the side effects
// of (Provider, PaymentID) were applied.
type ProcessedPayment struct {
	Provider    Provider
	PaymentID   string
	OrderID     string
	Amount      int64
	ProcessedAt time.Time
}

// Channel is how a confirmation reached the service.
type Channel string

const (
	ChannelCapture   Channel = "capture"
	ChannelWebhook   Channel = "webhook"
	ChannelReconcile Channel = "reconcile"
)

// CaptureStatus mirrors the provider's capture status values.
type CaptureStatus string

const (
	CaptureCompleted CaptureStatus = "COMPLETED"
	CapturePending   CaptureStatus = "PENDING"
	CaptureDeclined  CaptureStatus = "DECLINED"
)

// Capture is the provider's answer to a capture request.
type Capture struct {
	ProviderOrderID string
	CaptureID       string
	Status          CaptureStatus
	Amount          int64
	Currency        string
	// CustomID carries the local order id propagated at checkout.
	CustomID string
}

// CheckoutRequest asks the provider to open an order the buyer can approve.
type CheckoutRequest struct {
	OrderID   string
	Amount    int64
	Currency  string
	ReturnURL string
	CancelURL string
}

// Checkout is the provider order created for a CheckoutRequest.
type Checkout struct {
	ProviderOrderID string
	ApproveURL      string
}

// NotificationKind is the normalized webhook event type.
type NotificationKind string

const (
	NotificationCaptured NotificationKind = "captured"
	NotificationDenied   NotificationKind = "denied"
	NotificationRefunded NotificationKind = "refunded"
)

// Notification is a verified provider webhook reduced to what the service acts on.
type Notification struct {
	EventID  string
	Kind     NotificationKind
	Provider Provider
	// PaymentID is the capture id for captured/denied events and the refund id for refunds.
	PaymentID string
	// CaptureID is the refunded capture for refund events.
	CaptureID string
	// OrderRef is the local order id, falling back to the provider order id.
	OrderRef string
	Amount   int64
	Currency string
}

// NotificationReceivedEvent carries an accepted webhook from the HTTP intake to the worker.
type NotificationReceivedEvent struct {
	Notification Notification
	ReceivedAt   time.Time
}

func (NotificationReceivedEvent) EventName() string { return "payment.notification_received" }

// EventID is the provider's webhook event id.
func (e NotificationReceivedEvent) EventID() string { return e.Notification.EventID }
