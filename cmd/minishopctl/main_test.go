package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/sqlstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func setupDB(t *testing.T) string {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "ctl.db")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", dsn)
	t.Setenv("DEDUP_BACKEND", "store")
	t.Setenv("PAYPAL_MODE", "sandbox")
	return dsn
}

func runCtl(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSeedRestockAudit(t *testing.T) {
	setupDB(t)
	file := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(file, []byte("products:\n  - id: A\n    stock: 3\n    unit_price: 1250\ncoupons:\n  - code: TEN\n    percent_off: 10\n"), 0o600))

	out, err := runCtl(t, "seed", file)
	require.NoError(t, err)
	var seeded struct {
		Restocked map[string]int `yaml:"restocked"`
		Prices    int            `yaml:"prices"`
		Coupons   int            `yaml:"coupons"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &seeded))
	assert.Equal(t, map[string]int{"A": 3}, seeded.Restocked)
	assert.Equal(t, 1, seeded.Prices)
	assert.Equal(t, 1, seeded.Coupons)

	out, err = runCtl(t, "restock", "A", "2", "--reason", "delivery", "--actor", "bob")
	require.NoError(t, err)
	var restocked restockOutput
	require.NoError(t, yaml.Unmarshal([]byte(out), &restocked))
	assert.Equal(t, 5, restocked.Available)

	out, err = runCtl(t, "audit", "A", "--resource", "product")
	require.NoError(t, err)
	var trail []auditOutput
	require.NoError(t, yaml.Unmarshal([]byte(out), &trail))
	require.Len(t, trail, 1)
	assert.Equal(t, "stock.restocked", trail[0].Action)
	assert.Equal(t, "operator:bob", trail[0].Actor)

	_, err = runCtl(t, "restock", "A", "zero")
	require.Error(t, err)
}

func TestReconcileFlaggedOrder(t *testing.T) {
	dsn := setupDB(t)
	ctx := context.Background()

	store, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, dsn)
	require.NoError(t, err)
	o, err := domorder.New("ord-1", "cust-1", "", "USD", []domorder.Item{{ProductID: "A", Quantity: 2, UnitPrice: 500}}, "", 0)
	require.NoError(t, err)
	require.NoError(t, o.AttachPaymentRef("5O1"))
	require.NoError(t, store.Orders().Insert(ctx, o))
	require.NoError(t, o.PaymentCapturedShort("CAP-1", "insufficient stock: A"))
	require.NoError(t, store.Orders().Update(ctx, o))
	require.NoError(t, store.Close())

	out, err := runCtl(t, "reconcile", "ord-1")
	require.NoError(t, err)
	var res reconcileOutput
	require.NoError(t, yaml.Unmarshal([]byte(out), &res))
	assert.Equal(t, "insufficient_stock", res.Outcome)
	require.Len(t, res.Shortages, 1)
	assert.Equal(t, "A", res.Shortages[0].ProductID)

	_, err = runCtl(t, "restock", "A", "2")
	require.NoError(t, err)

	out, err = runCtl(t, "reconcile", "ord-1", "--actor", "alice")
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal([]byte(out), &res))
	assert.Equal(t, "applied", res.Outcome)
	assert.Equal(t, "paid", res.PaymentStatus)

	out, err = runCtl(t, "audit", "ord-1")
	require.NoError(t, err)
	var trail []auditOutput
	require.NoError(t, yaml.Unmarshal([]byte(out), &trail))
	actions := make([]string, 0, len(trail))
	for _, e := range trail {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, "payment.reconciled")

	_, err = runCtl(t, "reconcile", "missing")
	require.Error(t, err)
}

func TestMemoryStoreRejected(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	_, err := runCtl(t, "audit", "ord-1")
	require.ErrorContains(t, err, "memory")
}
