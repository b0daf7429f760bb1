package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store owns the connection pool shared by every SQL repository.
type Store struct {
	db       *sql.DB
	postgres bool
}

// Open connects and creates the schema when missing. driver is "sqlite" or
// "postgres"; dsn is passed to modernc.org/sqlite or pgx unchanged, except that
// sqlite gets a busy timeout when the dsn sets no pragma.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		if !strings.Contains(dsn, "_pragma=") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "_pragma=busy_timeout(5000)"
		}
		db, err = sql.Open("sqlite", dsn)
		if err == nil {
			// One writer at a time; sqlite serializes writes anyway.
			db.SetMaxOpenConns(1)
		}
	case DriverPostgres:
		db, err = sql.Open("pgx", dsn)
		if err == nil {
			db.SetMaxOpenConns(16)
			db.SetConnMaxIdleTime(5 * time.Minute)
		}
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}

	s := &Store{db: db, postgres: driver == DriverPostgres}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: ping: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Orders() *OrderRepository              { return &OrderRepository{s: s} }
func (s *Store) Inventory() *InventoryRepository       { return &InventoryRepository{s: s} }
func (s *Store) Payments() *ProcessedPaymentRepository { return &ProcessedPaymentRepository{s: s} }
func (s *Store) Coupons() *CouponRepository            { return &CouponRepository{s: s} }
func (s *Store) Audit() *AuditRepository               { return &AuditRepository{s: s} }
func (s *Store) Inbox() *WebhookInbox                  { return &WebhookInbox{s: s} }
func (s *Store) Catalog() *CatalogRepository           { return &CatalogRepository{s: s} }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		idempotency_key TEXT NOT NULL DEFAULT '',
		items TEXT NOT NULL,
		currency TEXT NOT NULL,
		subtotal BIGINT NOT NULL,
		coupon_code TEXT NOT NULL DEFAULT '',
		discount_amount BIGINT NOT NULL DEFAULT 0,
		amount BIGINT NOT NULL,
		payment_ref TEXT NOT NULL DEFAULT '',
		capture_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		version BIGINT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS orders_idempotency ON orders (customer_id, idempotency_key) WHERE idempotency_key <> ''`,
	`CREATE INDEX IF NOT EXISTS orders_payment_ref ON orders (payment_ref)`,
	`CREATE INDEX IF NOT EXISTS orders_capture_id ON orders (capture_id)`,
	`CREATE TABLE IF NOT EXISTS stock (
		product_id TEXT PRIMARY KEY,
		available BIGINT NOT NULL CHECK (available >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		direction TEXT NOT NULL,
		quantity BIGINT NOT NULL CHECK (quantity > 0),
		cause_id TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		UNIQUE (order_id, cause_id, product_id, direction)
	)`,
	`CREATE INDEX IF NOT EXISTS stock_movements_order ON stock_movements (order_id)`,
	`CREATE TABLE IF NOT EXISTS product_prices (
		product_id TEXT PRIMARY KEY,
		unit_price BIGINT NOT NULL CHECK (unit_price > 0),
		currency TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS processed_payments (
		provider TEXT NOT NULL,
		payment_id TEXT NOT NULL,
		order_id TEXT NOT NULL,
		amount BIGINT NOT NULL,
		processed_at BIGINT NOT NULL,
		PRIMARY KEY (provider, payment_id)
	)`,
	`CREATE TABLE IF NOT EXISTS coupons (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		active BOOLEAN NOT NULL,
		percent_off INTEGER NOT NULL DEFAULT 0,
		amount_off BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS coupon_usages (
		order_id TEXT PRIMARY KEY,
		coupon_id TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		discount_amount BIGINT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		actor TEXT NOT NULL,
		metadata TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS audit_log_resource ON audit_log (resource_type, resource_id)`,
	`CREATE TABLE IF NOT EXISTS webhook_events (
		event_id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		received_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS webhook_events_status ON webhook_events (status, received_at)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: migrate: %w", err)
		}
	}
	return nil
}

// q rewrites ? placeholders to $n for postgres.
func (s *Store) q(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// insertIgnoring runs an INSERT ... ON CONFLICT DO NOTHING and reports whether
// a row was written.
func (s *Store) insertIgnoring(ctx context.Context, ex execer, query string, args ...any) (bool, error) {
	res, err := ex.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }
