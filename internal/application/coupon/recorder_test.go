package coupon_test

import (
	"context"
	"errors"
	"testing"

	appcoupon "github.com/Zhima-Mochi/minishop-checkout/internal/application/coupon"
	domcoupon "github.com/Zhima-Mochi/minishop-checkout/internal/domain/coupon"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenRepo struct{}

func (brokenRepo) FindByCode(context.Context, string) (*domcoupon.Coupon, error) {
	return nil, errors.New("connection reset")
}

func (brokenRepo) RecordUsage(context.Context, domcoupon.Usage) error { return nil }

func discountedOrder(t *testing.T, code string) *domorder.Order {
	t.Helper()
	o, err := domorder.New("order-1", "cust-1", "", "USD",
		[]domorder.Item{{ProductID: "A", Quantity: 1, UnitPrice: 1000}}, code, 200)
	require.NoError(t, err)
	return o
}

func TestRecordForOrderIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewCouponRepository()
	require.NoError(t, repo.Put(ctx, domcoupon.Coupon{ID: "c-1", Code: "SPRING", Active: true, AmountOff: 200}))
	r := appcoupon.NewRecorder(repo, nil)
	o := discountedOrder(t, "SPRING")

	require.NoError(t, r.RecordForOrder(ctx, o))
	require.NoError(t, r.RecordForOrder(ctx, o))

	usages, err := repo.UsagesByOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, usages, 1)
	assert.Equal(t, domcoupon.Usage{
		CouponID:       "c-1",
		OrderID:        "order-1",
		UserID:         "cust-1",
		DiscountAmount: 200,
		CreatedAt:      usages[0].CreatedAt,
	}, usages[0])
}

func TestRecordForOrderSkips(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewCouponRepository()
	r := appcoupon.NewRecorder(repo, nil)

	plain, err := domorder.New("order-2", "cust-1", "", "USD",
		[]domorder.Item{{ProductID: "A", Quantity: 1, UnitPrice: 1000}}, "SPRING", 0)
	require.NoError(t, err)
	assert.NoError(t, r.RecordForOrder(ctx, plain), "orders without a discount record nothing")
	assert.NoError(t, r.RecordForOrder(ctx, nil))
	assert.NoError(t, r.RecordForOrder(ctx, discountedOrder(t, "DELETED")), "a deleted coupon is skipped")

	usages, err := repo.UsagesByOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Empty(t, usages)
}

func TestRecordForOrderLookupFailure(t *testing.T) {
	r := appcoupon.NewRecorder(brokenRepo{}, nil)
	err := r.RecordForOrder(context.Background(), discountedOrder(t, "SPRING"))
	assert.ErrorContains(t, err, "connection reset")
}
