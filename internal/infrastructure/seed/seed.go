// Package seed loads initial stock, prices and coupons from a YAML file.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	domcatalog "github.com/Zhima-Mochi/minishop-checkout/internal/domain/catalog"
	domcoupon "github.com/Zhima-Mochi/minishop-checkout/internal/domain/coupon"
	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type File struct {
	Products []Product `yaml:"products"`
	Coupons  []Coupon  `yaml:"coupons"`
}

type Product struct {
	ID    string `yaml:"id"`
	Stock int    `yaml:"stock"`
	// UnitPrice is in minor units of Currency; zero leaves the catalog alone.
	UnitPrice int64  `yaml:"unit_price,omitempty"`
	Currency  string `yaml:"currency,omitempty"`
}

const defaultCurrency = "USD"

type Coupon struct {
	Code       string `yaml:"code"`
	PercentOff int    `yaml:"percent_off,omitempty"`
	AmountOff  int64  `yaml:"amount_off,omitempty"`
	Active     *bool  `yaml:"active,omitempty"`
}

// StockLedger is the part of the ledger seeding needs.
type StockLedger interface {
	Available(ctx context.Context, productID string) (int, error)
	Restock(ctx context.Context, productID string, quantity int, reason string) (dominv.Movement, error)
}

type CouponWriter interface {
	Put(ctx context.Context, c domcoupon.Coupon) error
}

type PriceWriter interface {
	PutPrice(ctx context.Context, p domcatalog.Price) error
}

type Summary struct {
	Restocked map[string]int
	Prices    int
	Coupons   int
}

func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("seed: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

func Parse(r io.Reader) (*File, error) {
	var out File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("seed: decode: %w", err)
	}
	if err := out.validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (f *File) validate() error {
	seen := make(map[string]bool, len(f.Products))
	for _, p := range f.Products {
		if p.ID == "" {
			return errors.New("seed: product id is required")
		}
		if p.Stock < 0 {
			return fmt.Errorf("seed: product %s: stock must not be negative", p.ID)
		}
		if p.UnitPrice < 0 {
			return fmt.Errorf("seed: product %s: unit_price must not be negative", p.ID)
		}
		if p.Currency != "" && len(p.Currency) != 3 {
			return fmt.Errorf("seed: product %s: currency must be a three letter code", p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("seed: product %s listed twice", p.ID)
		}
		seen[p.ID] = true
	}
	for _, c := range f.Coupons {
		if strings.TrimSpace(c.Code) == "" {
			return errors.New("seed: coupon code is required")
		}
		if (c.PercentOff > 0) == (c.AmountOff > 0) {
			return fmt.Errorf("seed: coupon %s: exactly one of percent_off, amount_off", c.Code)
		}
		if c.PercentOff > 100 {
			return fmt.Errorf("seed: coupon %s: percent_off above 100", c.Code)
		}
	}
	return nil
}

// Apply brings stock up to the listed levels and upserts prices and coupons.
// Stock is only ever raised, so applying the same file twice changes nothing.
// A nil writer skips its section.
func Apply(ctx context.Context, f *File, ledger StockLedger, prices PriceWriter, coupons CouponWriter) (Summary, error) {
	sum := Summary{Restocked: make(map[string]int)}
	for _, p := range f.Products {
		current, err := ledger.Available(ctx, p.ID)
		switch {
		case errors.Is(err, dominv.ErrNotFound):
			current = 0
		case err != nil:
			return sum, fmt.Errorf("seed: stock of %s: %w", p.ID, err)
		}
		if p.Stock <= current {
			continue
		}
		if _, err := ledger.Restock(ctx, p.ID, p.Stock-current, "seed"); err != nil {
			return sum, fmt.Errorf("seed: restock %s: %w", p.ID, err)
		}
		sum.Restocked[p.ID] = p.Stock - current
	}
	if prices != nil {
		for _, p := range f.Products {
			if p.UnitPrice == 0 {
				continue
			}
			currency := strings.ToUpper(p.Currency)
			if currency == "" {
				currency = defaultCurrency
			}
			if err := prices.PutPrice(ctx, domcatalog.Price{ProductID: p.ID, UnitPrice: p.UnitPrice, Currency: currency}); err != nil {
				return sum, fmt.Errorf("seed: price of %s: %w", p.ID, err)
			}
			sum.Prices++
		}
	}
	if coupons == nil {
		return sum, nil
	}
	for _, c := range f.Coupons {
		active := true
		if c.Active != nil {
			active = *c.Active
		}
		code := strings.ToUpper(strings.TrimSpace(c.Code))
		if err := coupons.Put(ctx, domcoupon.Coupon{
			ID:         uuid.NewSHA1(uuid.NameSpaceOID, []byte("coupon:"+code)).String(),
			Code:       code,
			Active:     active,
			PercentOff: c.PercentOff,
			AmountOff:  c.AmountOff,
		}); err != nil {
			return sum, fmt.Errorf("seed: coupon %s: %w", c.Code, err)
		}
		sum.Coupons++
	}
	return sum, nil
}
