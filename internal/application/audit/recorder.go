package audit

import (
	"context"
	"maps"
	"sync"
	"time"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/audit"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"

	"github.com/oklog/ulid/v2"
)

const (
	auditComponent      = "audit"
	defaultWriteTimeout = 2 * time.Second
)

// Recorder writes audit entries off the caller's path. A failed write is logged
// and counted; it never fails the business operation that produced it.
type Recorder struct {
	store    domain.Store
	log      observability.Logger
	failures observability.Counter // audit_write_failures_total{action}
	timeout  time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewRecorder(store domain.Store, tel observability.Observability) *Recorder {
	logger, _, metrics := observability.Resolve(tel)
	return &Recorder{
		store:    store,
		log:      logger.With(observability.F("component", auditComponent)),
		failures: metrics.Counter(observability.MAuditWriteFailures),
		timeout:  defaultWriteTimeout,
	}
}

// SetTimeout changes the per-write deadline.
func (r *Recorder) SetTimeout(d time.Duration) {
	if d > 0 {
		r.timeout = d
	}
}

// Record fills id, actor and time when missing and writes e in the background.
func (r *Recorder) Record(ctx context.Context, e domain.Entry) {
	if r == nil || r.store == nil {
		return
	}
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.Actor == "" {
		e.Actor = domain.ActorSystem
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.Metadata = maps.Clone(e.Metadata)

	logger := logctx.FromOr(ctx, r.log)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		logger.Warn("audit_dropped_after_close", observability.F("action", string(e.Action)))
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	// The write outlives the request; keep its values, drop its cancellation.
	detached := context.WithoutCancel(ctx)
	go func() {
		defer r.wg.Done()
		wctx, cancel := context.WithTimeout(detached, r.timeout)
		defer cancel()

		if err := r.store.Append(wctx, e); err != nil {
			r.failures.Add(1, observability.L("action", string(e.Action)))
			logger.Error("audit_write_failed",
				observability.F("action", string(e.Action)),
				observability.F("resource_type", e.ResourceType),
				observability.F("resource_id", e.ResourceID),
				observability.F("error", err),
			)
		}
	}()
}

// Close stops accepting entries and waits for in-flight writes or ctx.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush waits for writes issued so far without closing the recorder.
func (r *Recorder) Flush() {
	r.wg.Wait()
}

func (r *Recorder) List(ctx context.Context, resourceType, resourceID string) ([]domain.Entry, error) {
	return r.store.List(ctx, resourceType, resourceID)
}
