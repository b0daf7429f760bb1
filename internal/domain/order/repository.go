package order

import "context"

type Repository interface {
	Insert(ctx context.Context, order *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// FindByPaymentRef resolves an order from its provider order id or capture id.
	FindByPaymentRef(ctx context.Context, ref string) (*Order, error)
	FindByIdempotency(ctx context.Context, customerID, key string) (*Order, error)
	Update(ctx context.Context, order *Order) error
	// UpdateIfPaymentStatus persists order only when the stored payment status still
	// equals expected and the stored version equals order.Version, returning
	// ErrConflict otherwise. Any write in between, such as a cancellation that
	// leaves the payment status alone, makes the caller lose.
	UpdateIfPaymentStatus(ctx context.Context, order *Order, expected PaymentStatus) error
}
