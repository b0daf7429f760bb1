// Package bootstrap assembles stores and use cases from configuration for the
// service binary and the operator CLI.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/Zhima-Mochi/minishop-checkout/internal/config"
	domaudit "github.com/Zhima-Mochi/minishop-checkout/internal/domain/audit"
	domcatalog "github.com/Zhima-Mochi/minishop-checkout/internal/domain/catalog"
	domcoupon "github.com/Zhima-Mochi/minishop-checkout/internal/domain/coupon"
	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/dynamo"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/sqlstore"
)

// CouponStore is what both coupon stores offer.
type CouponStore interface {
	domcoupon.Repository
	Put(ctx context.Context, c domcoupon.Coupon) error
}

type Stores struct {
	Orders    domorder.Repository
	Inventory dominv.Repository
	Dedup     dompay.DeduplicationStore
	Coupons   CouponStore
	Audit     domaudit.Store
	Inbox     dompay.Inbox
	Catalog   domcatalog.Repository
	// Durable is false for the in-memory driver.
	Durable bool
	closers []func() error
}

// OpenStores selects the store driver and the dedup backend from cfg.
func OpenStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	s := &Stores{}
	switch cfg.StoreDriver {
	case config.StoreMemory:
		s.Orders = memory.NewOrderRepository()
		s.Inventory = memory.NewInventoryRepository()
		s.Dedup = memory.NewProcessedPaymentRepository()
		s.Coupons = memory.NewCouponRepository()
		s.Audit = memory.NewAuditRepository()
		s.Inbox = memory.NewWebhookInbox()
		s.Catalog = memory.NewCatalogRepository()
	case config.StoreSQLite, config.StorePostgres:
		db, err := sqlstore.Open(ctx, cfg.StoreDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s.Orders = db.Orders()
		s.Inventory = db.Inventory()
		s.Dedup = db.Payments()
		s.Coupons = db.Coupons()
		s.Audit = db.Audit()
		s.Inbox = db.Inbox()
		s.Catalog = db.Catalog()
		s.Durable = true
		s.closers = append(s.closers, db.Close)
	default:
		return nil, fmt.Errorf("bootstrap: unknown store driver %q", cfg.StoreDriver)
	}

	if cfg.DedupBackend == config.DedupDynamoDB {
		client, err := dynamo.NewClient(ctx, cfg.AWSRegion, cfg.DynamoDBEndpoint)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.Dedup = dynamo.NewProcessedPaymentStore(client, cfg.DynamoDBTable)
	}
	return s, nil
}

func (s *Stores) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}
