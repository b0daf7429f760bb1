package coupon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiscount(t *testing.T) {
	tests := []struct {
		name     string
		coupon   Coupon
		subtotal int64
		want     int64
		wantErr  error
	}{
		{name: "percent", coupon: Coupon{Active: true, PercentOff: 15}, subtotal: 2000, want: 300},
		{name: "percent rounds down", coupon: Coupon{Active: true, PercentOff: 10}, subtotal: 999, want: 99},
		{name: "amount", coupon: Coupon{Active: true, AmountOff: 500}, subtotal: 2000, want: 500},
		{name: "amount capped at subtotal", coupon: Coupon{Active: true, AmountOff: 5000}, subtotal: 2000, want: 2000},
		{name: "inactive", coupon: Coupon{PercentOff: 10}, subtotal: 2000, wantErr: ErrInactive},
		{name: "no value", coupon: Coupon{Active: true}, subtotal: 2000, wantErr: ErrInvalidValue},
		{name: "percent over 100", coupon: Coupon{Active: true, PercentOff: 150}, subtotal: 2000, wantErr: ErrInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.coupon.Discount(tt.subtotal)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
