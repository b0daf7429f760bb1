package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	domaudit "github.com/Zhima-Mochi/minishop-checkout/internal/domain/audit"
	domcatalog "github.com/Zhima-Mochi/minishop-checkout/internal/domain/catalog"
	domcoupon "github.com/Zhima-Mochi/minishop-checkout/internal/domain/coupon"
	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "checkout.db")
	s, err := Open(context.Background(), DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func movement(orderID, causeID, productID string, dir dominv.Direction, qty int) dominv.Movement {
	return dominv.Movement{
		ID:        orderID + "-" + causeID + "-" + productID + "-" + string(dir),
		OrderID:   orderID,
		ProductID: productID,
		Direction: dir,
		Quantity:  qty,
		CauseID:   causeID,
		CreatedAt: time.Now().UTC(),
	}
}

func TestOpenIsRepeatable(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "checkout.db")
	for range 2 {
		s, err := Open(context.Background(), DriverSQLite, dsn)
		require.NoError(t, err)
		require.NoError(t, s.Ping(context.Background()))
		require.NoError(t, s.Close())
	}

	_, err := Open(context.Background(), "mysql", "x")
	assert.ErrorContains(t, err, "unsupported driver")
}

func TestPlaceholderRebind(t *testing.T) {
	lite := &Store{}
	pg := &Store{postgres: true}
	query := `UPDATE stock SET available = available - ? WHERE product_id = ? AND available >= ?`
	assert.Equal(t, query, lite.q(query))
	assert.Equal(t, `UPDATE stock SET available = available - $1 WHERE product_id = $2 AND available >= $3`, pg.q(query))
}

func TestInventoryApply(t *testing.T) {
	ctx := context.Background()
	inv := openTestStore(t).Inventory()

	require.NoError(t, inv.Apply(ctx, []dominv.Movement{
		movement("", "restock-1", "A", dominv.DirectionIn, 5),
		movement("", "restock-1", "B", dominv.DirectionIn, 1),
	}))

	require.NoError(t, inv.Apply(ctx, []dominv.Movement{movement("order-1", "CAP-1", "A", dominv.DirectionOut, 2)}))
	a, err := inv.Available(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 3, a)

	t.Run("replayed cause is rejected", func(t *testing.T) {
		err := inv.Apply(ctx, []dominv.Movement{movement("order-1", "CAP-1", "A", dominv.DirectionOut, 2)})
		assert.ErrorIs(t, err, dominv.ErrDuplicateMovement)
		a, err := inv.Available(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 3, a)
	})

	t.Run("every shortage is listed and nothing moves", func(t *testing.T) {
		err := inv.Apply(ctx, []dominv.Movement{
			movement("order-2", "CAP-2", "A", dominv.DirectionOut, 1),
			movement("order-2", "CAP-2", "B", dominv.DirectionOut, 2),
			movement("order-2", "CAP-2", "C", dominv.DirectionOut, 1),
		})
		var short *dominv.ShortageError
		require.ErrorAs(t, err, &short)
		assert.Equal(t, []dominv.Shortage{
			{ProductID: "B", Requested: 2, Available: 1},
			{ProductID: "C", Requested: 1, Available: 0},
		}, short.Shortages)

		a, err := inv.Available(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 3, a)
		moved, err := inv.MovementsByOrder(ctx, "order-2")
		require.NoError(t, err)
		assert.Empty(t, moved)

		// The rolled back movements do not block a later attempt with the same cause.
		require.NoError(t, inv.Apply(ctx, []dominv.Movement{movement("order-2", "CAP-2", "A", dominv.DirectionOut, 1)}))
	})

	t.Run("return restores stock", func(t *testing.T) {
		require.NoError(t, inv.Apply(ctx, []dominv.Movement{movement("order-1", "REF-1", "A", dominv.DirectionIn, 2)}))
		moved, err := inv.MovementsByOrder(ctx, "order-1")
		require.NoError(t, err)
		assert.Empty(t, dominv.NetOutflow(moved))
	})

	_, err = inv.Available(ctx, "missing")
	assert.ErrorIs(t, err, dominv.ErrNotFound)
}

func TestOrderRepository(t *testing.T) {
	ctx := context.Background()
	orders := openTestStore(t).Orders()

	o, err := domorder.New("order-1", "cust-1", "key-1", "USD",
		[]domorder.Item{{ProductID: "A", Quantity: 2, UnitPrice: 750}}, "SAVE", 100)
	require.NoError(t, err)
	require.NoError(t, orders.Insert(ctx, o))
	assert.ErrorIs(t, orders.Insert(ctx, o), domorder.ErrConflict)

	dup, err := domorder.New("order-2", "cust-1", "key-1", "USD", o.Items, "", 0)
	require.NoError(t, err)
	assert.ErrorIs(t, orders.Insert(ctx, dup), domorder.ErrConflict, "idempotency key is unique per customer")

	byKey, err := orders.FindByIdempotency(ctx, "cust-1", "key-1")
	require.NoError(t, err)
	assert.Equal(t, o.Items, byKey.Items)
	assert.Equal(t, int64(1400), byKey.Amount)
	assert.Equal(t, "SAVE", byKey.CouponCode)

	require.NoError(t, o.AttachPaymentRef("PP-1"))
	require.NoError(t, orders.Update(ctx, o))
	require.NoError(t, o.PaymentCaptured("CAP-1"))
	require.NoError(t, orders.UpdateIfPaymentStatus(ctx, o, domorder.PaymentPending))
	assert.Equal(t, int64(3), o.Version)

	for _, ref := range []string{"PP-1", "CAP-1"} {
		found, err := orders.FindByPaymentRef(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, "order-1", found.ID)
		assert.Equal(t, domorder.PaymentPaid, found.PaymentStatus)
		assert.Equal(t, domorder.StatusProcessing, found.Status)
	}

	stale := o.Clone()
	assert.ErrorIs(t, orders.UpdateIfPaymentStatus(ctx, stale, domorder.PaymentPending), domorder.ErrConflict)

	missing := o.Clone()
	missing.ID = "nope"
	assert.ErrorIs(t, orders.UpdateIfPaymentStatus(ctx, missing, domorder.PaymentPending), domorder.ErrNotFound)
	assert.ErrorIs(t, orders.Update(ctx, missing), domorder.ErrNotFound)
	_, err = orders.FindByPaymentRef(ctx, "")
	assert.ErrorIs(t, err, domorder.ErrNotFound)
}

func TestProcessedPayments(t *testing.T) {
	ctx := context.Background()
	payments := openTestStore(t).Payments()

	ok, err := payments.IsProcessed(ctx, dompay.ProviderPayPal, "CAP-1")
	require.NoError(t, err)
	assert.False(t, ok)

	p := dompay.ProcessedPayment{Provider: dompay.ProviderPayPal, PaymentID: "CAP-1", OrderID: "order-1", Amount: 1000, ProcessedAt: time.Now()}
	require.NoError(t, payments.MarkProcessed(ctx, p))
	assert.ErrorIs(t, payments.MarkProcessed(ctx, p), dompay.ErrAlreadyProcessed)

	ok, err = payments.IsProcessed(ctx, dompay.ProviderPayPal, "CAP-1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = payments.IsProcessed(ctx, dompay.Provider("stripe"), "CAP-1")
	require.NoError(t, err)
	assert.False(t, ok, "payment ids are scoped by provider")
}

func TestCouponRepository(t *testing.T) {
	ctx := context.Background()
	coupons := openTestStore(t).Coupons()

	require.NoError(t, coupons.Put(ctx, domcoupon.Coupon{ID: "c-1", Code: "spring", Active: true, PercentOff: 10}))
	require.NoError(t, coupons.Put(ctx, domcoupon.Coupon{ID: "c-1", Code: "spring", Active: false, PercentOff: 20}))

	c, err := coupons.FindByCode(ctx, "SPRING")
	require.NoError(t, err)
	assert.Equal(t, domcoupon.Coupon{ID: "c-1", Code: "SPRING", Active: false, PercentOff: 20}, *c)

	u := domcoupon.Usage{CouponID: "c-1", OrderID: "order-1", UserID: "cust-1", DiscountAmount: 200, CreatedAt: time.Now()}
	require.NoError(t, coupons.RecordUsage(ctx, u))
	assert.ErrorIs(t, coupons.RecordUsage(ctx, u), domcoupon.ErrUsageExists)
	usages, err := coupons.UsagesByOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, usages, 1)
	assert.Equal(t, int64(200), usages[0].DiscountAmount)

	require.NoError(t, coupons.Delete(ctx, "spring"))
	_, err = coupons.FindByCode(ctx, "SPRING")
	assert.ErrorIs(t, err, domcoupon.ErrNotFound)
}

func TestAuditRepository(t *testing.T) {
	ctx := context.Background()
	audit := openTestStore(t).Audit()

	for i, action := range []domaudit.Action{domaudit.ActionPaymentInsufficientStock, domaudit.ActionPaymentReconciled} {
		require.NoError(t, audit.Append(ctx, domaudit.Entry{
			ID:           []string{"01A", "01B"}[i],
			Action:       action,
			ResourceType: domaudit.ResourceOrder,
			ResourceID:   "order-1",
			Actor:        "operator:ops",
			Metadata:     map[string]any{"amount": 1000, "stock_decremented": i == 1},
			CreatedAt:    time.Now(),
		}))
	}

	entries, err := audit.List(ctx, domaudit.ResourceOrder, "order-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domaudit.ActionPaymentInsufficientStock, entries[0].Action)
	assert.Equal(t, domaudit.ActionPaymentReconciled, entries[1].Action)
	assert.Equal(t, true, entries[1].Metadata["stock_decremented"])
	assert.InDelta(t, 1000, entries[1].Metadata["amount"], 0)

	other, err := audit.List(ctx, domaudit.ResourceProduct, "order-1")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestOrderUpdateRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	orders := openTestStore(t).Orders()

	o, err := domorder.New("order-1", "cust-1", "", "USD",
		[]domorder.Item{{ProductID: "A", Quantity: 1, UnitPrice: 500}}, "", 0)
	require.NoError(t, err)
	require.NoError(t, orders.Insert(ctx, o))

	first, err := orders.Get(ctx, "order-1")
	require.NoError(t, err)
	second, err := orders.Get(ctx, "order-1")
	require.NoError(t, err)

	require.NoError(t, first.CancelUnpaid("customer abandoned checkout"))
	require.NoError(t, orders.Update(ctx, first))

	// The cancellation left the payment status pending; only the version moved.
	require.NoError(t, second.PaymentCaptured("CAP-1"))
	assert.ErrorIs(t, orders.UpdateIfPaymentStatus(ctx, second, domorder.PaymentPending), domorder.ErrConflict)

	stored, err := orders.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusCancelled, stored.Status)
	assert.Equal(t, domorder.PaymentPending, stored.PaymentStatus)
	assert.Empty(t, stored.CaptureID)
}

func TestWebhookInbox(t *testing.T) {
	ctx := context.Background()
	inbox := openTestStore(t).Inbox()
	received := time.Now().Add(-time.Minute)

	n := dompay.Notification{EventID: "WH-1", Kind: dompay.NotificationCaptured, Provider: dompay.ProviderPayPal,
		PaymentID: "CAP-1", OrderRef: "order-1", Amount: 1000, Currency: "USD"}
	created, err := inbox.Save(ctx, n, received)
	require.NoError(t, err)
	assert.True(t, created)
	created, err = inbox.Save(ctx, n, time.Now())
	require.NoError(t, err)
	assert.False(t, created, "redelivery keeps the first entry")

	_, err = inbox.Save(ctx, dompay.Notification{EventID: "WH-2", Kind: dompay.NotificationDenied, PaymentID: "CAP-2"}, received.Add(time.Second))
	require.NoError(t, err)

	require.NoError(t, inbox.MarkFailed(ctx, "WH-1", "dedup store unavailable", false))
	pending, err := inbox.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, n, pending[0].Notification)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "dedup store unavailable", pending[0].LastError)

	require.NoError(t, inbox.MarkDone(ctx, "WH-1"))
	require.NoError(t, inbox.MarkFailed(ctx, "WH-1", "late failure", true), "a done entry stays done")
	require.NoError(t, inbox.MarkFailed(ctx, "WH-2", "order not found", true))
	pending, err = inbox.Pending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.ErrorIs(t, inbox.MarkDone(ctx, "WH-9"), dompay.ErrInboxEntryNotFound)
	assert.ErrorIs(t, inbox.MarkFailed(ctx, "WH-9", "x", false), dompay.ErrInboxEntryNotFound)
}

func TestCatalogRepository(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	repo := s.Catalog()

	_, err := repo.PriceOf(ctx, "A")
	assert.ErrorIs(t, err, domcatalog.ErrNotFound)

	require.NoError(t, repo.PutPrice(ctx, domcatalog.Price{ProductID: "A", UnitPrice: 1250, Currency: "usd"}))
	require.NoError(t, repo.PutPrice(ctx, domcatalog.Price{ProductID: "A", UnitPrice: 1300, Currency: "usd"}))
	p, err := repo.PriceOf(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, domcatalog.Price{ProductID: "A", UnitPrice: 1300, Currency: "USD"}, *p)

	assert.ErrorIs(t, repo.PutPrice(ctx, domcatalog.Price{ProductID: "B", Currency: "USD"}), domcatalog.ErrInvalidPrice)
}
