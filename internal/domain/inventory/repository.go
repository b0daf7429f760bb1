package inventory

import (
	"context"
)

// Repository persists movements together with the cached available counter.
type Repository interface {
	// Apply writes all movements or none. A decrease that would take a product below
	// zero yields *ShortageError naming every short product; a movement whose key
	// already exists yields ErrDuplicateMovement.
	Apply(ctx context.Context, movements []Movement) error
	Available(ctx context.Context, productID string) (int, error)
	MovementsByOrder(ctx context.Context, orderID string) ([]Movement, error)
}
