package audit

import (
	"context"
	"time"
)

// Action names a business event worth reconstructing later.
type Action string

const (
	ActionPaymentCaptured           Action = "payment.captured"
	ActionPaymentDuplicate          Action = "payment.duplicate_attempt"
	ActionPaymentInsufficientStock  Action = "payment.insufficient_stock"
	ActionPaymentStatusUpdateFailed Action = "payment.status_update_failed"
	ActionPaymentDenied             Action = "payment.denied"
	ActionPaymentRefunded           Action = "payment.refunded"
	ActionPaymentRefundStockFailed  Action = "payment.refund_stock_failed"
	ActionPaymentReconciled         Action = "payment.reconciled"
	ActionPaymentIgnored            Action = "payment.ignored"
	ActionStockRestocked            Action = "stock.restocked"
	ActionWebhookAbandoned          Action = "payment.webhook_abandoned"
)

const (
	ResourceOrder   = "order"
	ResourceProduct = "product"
	ResourceWebhook = "webhook_event"
	ActorSystem     = "system"
)

// Entry is immutable once written.
type Entry struct {
	ID           string
	Action       Action
	ResourceType string
	ResourceID   string
	Actor        string
	Metadata     map[string]any
	CreatedAt    time.Time
}

type Store interface {
	Append(ctx context.Context, e Entry) error
	List(ctx context.Context, resourceType, resourceID string) ([]Entry, error)
}
