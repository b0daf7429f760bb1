package coupon

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("coupon: not found")
	ErrUsageExists  = errors.New("coupon: usage already recorded for order")
	ErrInactive     = errors.New("coupon: inactive")
	ErrInvalidValue = errors.New("coupon: invalid discount")
)

type Coupon struct {
	ID     string
	Code   string
	Active bool
	// PercentOff and AmountOff are mutually exclusive; AmountOff is in minor units.
	PercentOff int
	AmountOff  int64
}

// Discount is what the coupon takes off subtotal, never more than subtotal.
func (c *Coupon) Discount(subtotal int64) (int64, error) {
	if !c.Active {
		return 0, ErrInactive
	}
	var d int64
	switch {
	case c.PercentOff > 0 && c.PercentOff <= 100:
		d = subtotal * int64(c.PercentOff) / 100
	case c.AmountOff > 0:
		d = c.AmountOff
	default:
		return 0, ErrInvalidValue
	}
	if d > subtotal {
		d = subtotal
	}
	return d, nil
}

// Usage is one redemption of a coupon by a paid order.
type Usage struct {
	CouponID       string
	OrderID        string
	UserID         string
	DiscountAmount int64
	CreatedAt      time.Time
}

type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// RecordUsage returns ErrUsageExists when the order already has a usage.
	RecordUsage(ctx context.Context, u Usage) error
}
