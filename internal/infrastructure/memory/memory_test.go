package memory_test

import (
	"context"
	"testing"
	"time"

	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderUpdateRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	orders := memory.NewOrderRepository()

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
	assert.Equal(t, int64(2), first.Version)

	require.NoError(t, second.PaymentCaptured("CAP-1"))
	assert.ErrorIs(t, orders.UpdateIfPaymentStatus(ctx, second, domorder.PaymentPending), domorder.ErrConflict)

	stored, err := orders.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusCancelled, stored.Status)
	assert.Empty(t, stored.CaptureID)
}

func TestWebhookInbox(t *testing.T) {
	ctx := context.Background()
	inbox := memory.NewWebhookInbox()
	start := time.Now()

	for i, id := range []string{"WH-2", "WH-1"} {
		created, err := inbox.Save(ctx, dompay.Notification{EventID: id, Kind: dompay.NotificationCaptured},
			start.Add(time.Duration(-i)*time.Second))
		require.NoError(t, err)
		assert.True(t, created)
	}
	created, err := inbox.Save(ctx, dompay.Notification{EventID: "WH-1"}, start)
	require.NoError(t, err)
	assert.False(t, created)

	pending, err := inbox.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "WH-1", pending[0].Notification.EventID, "oldest first")

	limited, err := inbox.Pending(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, inbox.MarkFailed(ctx, "WH-1", "timeout", false))
	require.NoError(t, inbox.MarkFailed(ctx, "WH-2", "order not found", true))
	e, ok := inbox.Entry("WH-1")
	require.True(t, ok)
	assert.Equal(t, dompay.InboxPending, e.Status)
	assert.Equal(t, 1, e.Attempts)

	require.NoError(t, inbox.MarkDone(ctx, "WH-1"))
	pending, err = inbox.Pending(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	e, _ = inbox.Entry("WH-2")
	assert.Equal(t, dompay.InboxDead, e.Status)
	assert.ErrorIs(t, inbox.MarkDone(ctx, "WH-9"), dompay.ErrInboxEntryNotFound)
}
