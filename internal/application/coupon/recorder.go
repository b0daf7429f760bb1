package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	domcoupon "github.com/Zhima-Mochi/minishop-checkout/internal/domain/coupon"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"
)

const couponComponent = "coupon"

// Recorder stores the redemption of a paid order's coupon, at most once per order.
type Recorder struct {
	repo domcoupon.Repository
	log  observability.Logger
}

func NewRecorder(repo domcoupon.Repository, tel observability.Observability) *Recorder {
	logger, _, _ := observability.Resolve(tel)
	return &Recorder{
		repo: repo,
		log:  logger.With(observability.F("component", couponComponent)),
	}
}

// RecordForOrder is a no-op for orders without a discount. A coupon deleted since
// checkout is logged and skipped.
func (r *Recorder) RecordForOrder(ctx context.Context, o *domorder.Order) error {
	if r == nil || o == nil || !o.HasCoupon() {
		return nil
	}
	logger := logctx.FromOr(ctx, r.log).With(
		observability.F("order_id", o.ID),
		observability.F("coupon_code", o.CouponCode),
	)

	c, err := r.repo.FindByCode(ctx, o.CouponCode)
	switch {
	case errors.Is(err, domcoupon.ErrNotFound):
		logger.Warn("coupon_usage_skipped_missing_coupon")
		return nil
	case err != nil:
		return fmt.Errorf("coupon: lookup %q: %w", o.CouponCode, err)
	}

	err = r.repo.RecordUsage(ctx, domcoupon.Usage{
		CouponID:       c.ID,
		OrderID:        o.ID,
		UserID:         o.CustomerID,
		DiscountAmount: o.DiscountAmount,
		CreatedAt:      time.Now().UTC(),
	})
	switch {
	case errors.Is(err, domcoupon.ErrUsageExists):
		logger.Debug("coupon_usage_already_recorded")
		return nil
	case err != nil:
		return fmt.Errorf("coupon: record usage: %w", err)
	}
	logger.Info("coupon_usage_recorded", observability.F("discount", o.DiscountAmount))
	return nil
}
