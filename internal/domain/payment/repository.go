package payment

import "context"

// DeduplicationStore records which provider payments already produced side effects.
type DeduplicationStore interface {
	IsProcessed(ctx context.Context, provider Provider, paymentID string) (bool, error)
	// MarkProcessed inserts the record. Concurrent callers for the same key get
	// exactly one nil; the rest get ErrAlreadyProcessed.
	MarkProcessed(ctx context.Context, p ProcessedPayment) error
}
