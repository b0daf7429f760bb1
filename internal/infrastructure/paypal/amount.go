package paypal

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PayPal rejects decimals for these currencies.
var zeroDecimalCurrencies = map[string]bool{
	"HUF": true,
	"JPY": true,
	"TWD": true,
}

func exponent(currency string) int32 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return 0
	}
	return 2
}

type money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

// formatAmount renders minor units as the provider's decimal string.
func formatAmount(minor int64, currency string) money {
	exp := exponent(currency)
	return money{
		CurrencyCode: strings.ToUpper(currency),
		Value:        decimal.New(minor, -exp).StringFixed(exp),
	}
}

// parseAmount converts a provider decimal string back to minor units.
func parseAmount(m money) (int64, error) {
	if m.Value == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(m.Value)
	if err != nil {
		return 0, fmt.Errorf("paypal: amount %q: %w", m.Value, err)
	}
	scaled := d.Shift(exponent(m.CurrencyCode))
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("paypal: amount %q has more precision than %s allows", m.Value, m.CurrencyCode)
	}
	return scaled.IntPart(), nil
}
