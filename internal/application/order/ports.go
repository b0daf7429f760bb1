package order

import (
	"context"

	domcatalog "github.com/Zhima-Mochi/minishop-checkout/internal/domain/catalog"
	domcoupon "github.com/Zhima-Mochi/minishop-checkout/internal/domain/coupon"
)

type IDGenerator interface {
	NewID() string
}

// CouponLookup resolves coupon codes at checkout.
type CouponLookup interface {
	FindByCode(ctx context.Context, code string) (*domcoupon.Coupon, error)
}

// PriceLookup resolves what a product costs; checkout never charges a price
// the client made up.
type PriceLookup interface {
	PriceOf(ctx context.Context, productID string) (*domcatalog.Price, error)
}
