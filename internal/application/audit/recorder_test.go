package audit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	appaudit "github.com/Zhima-Mochi/minishop-checkout/internal/application/audit"
	domaudit "github.com/Zhima-Mochi/minishop-checkout/internal/domain/audit"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingStore struct {
	release chan struct{}
	mu      sync.Mutex
	writes  int
}

func (s *blockingStore) Append(ctx context.Context, _ domaudit.Entry) error {
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
	return nil
}

func (s *blockingStore) List(context.Context, string, string) ([]domaudit.Entry, error) {
	return nil, nil
}

type failingStore struct{}

func (failingStore) Append(context.Context, domaudit.Entry) error { return errors.New("disk full") }

func (failingStore) List(context.Context, string, string) ([]domaudit.Entry, error) { return nil, nil }

func TestRecordFillsDefaults(t *testing.T) {
	store := memory.NewAuditRepository()
	r := appaudit.NewRecorder(store, nil)

	meta := map[string]any{"payment_id": "CAP-1"}
	r.Record(context.Background(), domaudit.Entry{
		Action:       domaudit.ActionPaymentCaptured,
		ResourceType: domaudit.ResourceOrder,
		ResourceID:   "order-1",
		Metadata:     meta,
	})
	meta["payment_id"] = "mutated"
	r.Flush()

	entries, err := r.List(context.Background(), domaudit.ResourceOrder, "order-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, domaudit.ActorSystem, e.Actor)
	assert.False(t, e.CreatedAt.IsZero())
	assert.Equal(t, "CAP-1", e.Metadata["payment_id"])
}

func TestRecordDoesNotBlockCaller(t *testing.T) {
	store := &blockingStore{release: make(chan struct{})}
	r := appaudit.NewRecorder(store, nil)

	done := make(chan struct{})
	go func() {
		r.Record(context.Background(), domaudit.Entry{Action: domaudit.ActionPaymentDenied, ResourceID: "order-1"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on the store")
	}

	close(store.release)
	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, 1, store.writes)
}

func TestRecordSurvivesCancelledRequest(t *testing.T) {
	store := memory.NewAuditRepository()
	r := appaudit.NewRecorder(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	r.Record(ctx, domaudit.Entry{Action: domaudit.ActionPaymentCaptured, ResourceID: "order-1"})
	cancel()
	r.Flush()

	assert.Equal(t, 1, store.CountAction(domaudit.ActionPaymentCaptured))
}

func TestCloseDropsLaterEntries(t *testing.T) {
	store := memory.NewAuditRepository()
	r := appaudit.NewRecorder(store, nil)
	require.NoError(t, r.Close(context.Background()))

	r.Record(context.Background(), domaudit.Entry{Action: domaudit.ActionPaymentCaptured, ResourceID: "order-1"})
	r.Flush()
	assert.Zero(t, store.CountAction(domaudit.ActionPaymentCaptured))
}

func TestCloseHonoursDeadline(t *testing.T) {
	store := &blockingStore{release: make(chan struct{})}
	r := appaudit.NewRecorder(store, nil)
	r.SetTimeout(time.Minute)
	r.Record(context.Background(), domaudit.Entry{Action: domaudit.ActionPaymentCaptured})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Close(ctx), context.DeadlineExceeded)
	close(store.release)
	r.Flush()
}

func TestWriteFailureIsSwallowed(t *testing.T) {
	r := appaudit.NewRecorder(failingStore{}, nil)
	r.SetTimeout(50 * time.Millisecond)
	assert.NotPanics(t, func() {
		r.Record(context.Background(), domaudit.Entry{Action: domaudit.ActionPaymentCaptured})
		r.Flush()
	})
}
