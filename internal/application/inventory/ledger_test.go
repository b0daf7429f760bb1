package inventory_test

import (
	"context"
	"testing"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	appinv "github.com/Zhima-Mochi/minishop-checkout/internal/application/inventory"
	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedger(t *testing.T, stock map[string]int) *appinv.Ledger {
	t.Helper()
	l := appinv.NewLedger(memory.NewInventoryRepository(), nil)
	for id, qty := range stock {
		_, err := l.Restock(context.Background(), id, qty, "")
		require.NoError(t, err)
	}
	return l
}

func lines(pairs ...any) []dominv.Line {
	out := make([]dominv.Line, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, dominv.Line{ProductID: pairs[i].(string), Quantity: pairs[i+1].(int)})
	}
	return out
}

func TestDecreaseMergesLinesAndRecordsMovements(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, map[string]int{"A": 5, "B": 2})

	moved, err := l.Decrease(ctx, lines("B", 1, "A", 1, "A", 2), "order-1", "CAP-1")
	require.NoError(t, err)
	require.Len(t, moved, 2)
	assert.Equal(t, "A", moved[0].ProductID)
	assert.Equal(t, 3, moved[0].Quantity)
	assert.Equal(t, dominv.DirectionOut, moved[0].Direction)
	assert.Equal(t, "CAP-1", moved[0].CauseID)
	assert.NotEmpty(t, moved[0].ID)

	a, err := l.Available(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 2, a)
	b, err := l.Available(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 1, b)
}

func TestDecreaseIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, map[string]int{"A": 5, "B": 1})

	_, err := l.Decrease(ctx, lines("A", 2, "B", 3, "C", 1), "order-1", "CAP-1")
	var short *dominv.ShortageError
	require.ErrorAs(t, err, &short)
	assert.ErrorIs(t, err, dominv.ErrInsufficientStock)
	assert.Equal(t, []dominv.Shortage{
		{ProductID: "B", Requested: 3, Available: 1},
		{ProductID: "C", Requested: 1, Available: 0},
	}, short.Shortages)

	a, err := l.Available(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 5, a, "no product moves when any product is short")

	moved, err := l.Movements(ctx, "order-1")
	require.NoError(t, err)
	assert.Empty(t, moved)
}

func TestDecreaseRejectsReplayedCause(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, map[string]int{"A": 5})

	_, err := l.Decrease(ctx, lines("A", 1), "order-1", "CAP-1")
	require.NoError(t, err)
	_, err = l.Decrease(ctx, lines("A", 1), "order-1", "CAP-1")
	assert.ErrorIs(t, err, dominv.ErrDuplicateMovement)

	a, err := l.Available(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 4, a)
}

func TestNetOutflowAfterPartialReturn(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, map[string]int{"A": 5, "B": 5})

	_, err := l.Decrease(ctx, lines("A", 3, "B", 1), "order-1", "CAP-1")
	require.NoError(t, err)
	_, err = l.Increase(ctx, lines("A", 1), "order-1", "REF-1", "partial refund")
	require.NoError(t, err)

	held, err := l.NetOutflow(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, lines("A", 2, "B", 1), held)

	_, err = l.Increase(ctx, held, "order-1", "REF-2", "refund")
	require.NoError(t, err)
	held, err = l.NetOutflow(ctx, "order-1")
	require.NoError(t, err)
	assert.Empty(t, held)
}

func TestLedgerValidation(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, nil)

	_, err := l.Decrease(ctx, lines("A", 1), "order-1", "")
	assert.ErrorIs(t, err, application.ErrValidation)

	_, err = l.Decrease(ctx, nil, "order-1", "CAP-1")
	assert.ErrorIs(t, err, application.ErrValidation)

	_, err = l.Decrease(ctx, lines("A", 0), "order-1", "CAP-1")
	assert.ErrorIs(t, err, dominv.ErrInvalidQuantity)

	_, err = l.Restock(ctx, "A", -1, "")
	assert.ErrorIs(t, err, dominv.ErrInvalidQuantity)
}

func TestRestockAccumulates(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, nil)

	first, err := l.Restock(ctx, "A", 2, "delivery")
	require.NoError(t, err)
	_, err = l.Restock(ctx, "A", 3, "delivery")
	require.NoError(t, err)
	assert.Equal(t, "delivery", first.Reason)
	assert.Equal(t, dominv.DirectionIn, first.Direction)

	a, err := l.Available(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 5, a)
}
