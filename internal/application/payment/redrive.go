package payment

import (
	"context"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
)

const (
	redriveService = "payment-redrive"

	defaultRedriveInterval = 15 * time.Second
	defaultRedriveBackoff  = 5 * time.Second
	maxRedriveBackoff      = 10 * time.Minute
	defaultRedriveBatch    = 100
)

// Redriver reruns inbox entries that are still pending: notifications whose
// worker run failed and those whose queue message never arrived.
type Redriver struct {
	inbox    dompay.Inbox
	worker   *Worker
	interval time.Duration
	backoff  time.Duration
	batch    int
	now      func() time.Time
	in       application.Instruments
}

type RedriveOption func(*Redriver)

func WithRedriveInterval(d time.Duration) RedriveOption {
	return func(r *Redriver) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithRedriveBackoff sets the base delay before an entry is retried; it doubles
// per failed attempt. Zero retries on every pass.
func WithRedriveBackoff(d time.Duration) RedriveOption {
	return func(r *Redriver) {
		if d >= 0 {
			r.backoff = d
		}
	}
}

func WithRedriveClock(now func() time.Time) RedriveOption {
	return func(r *Redriver) { r.now = now }
}

func NewRedriver(inbox dompay.Inbox, worker *Worker, tel observability.Observability, opts ...RedriveOption) *Redriver {
	r := &Redriver{
		inbox:    inbox,
		worker:   worker,
		interval: defaultRedriveInterval,
		backoff:  defaultRedriveBackoff,
		batch:    defaultRedriveBatch,
		now:      time.Now,
		in:       application.NewInstruments(tel, redriveService),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run redrives until ctx is done.
func (r *Redriver) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.in.Log.Warn("webhook_redrive_failed", observability.F("error", err))
			}
		}
	}
}

// RunOnce reruns the due pending entries and reports how many succeeded.
func (r *Redriver) RunOnce(ctx context.Context) (int, error) {
	entries, err := r.inbox.Pending(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	now := r.now()
	applied := 0
	redrives := r.in.Counter(observability.MWebhookRedrives)
	for _, e := range entries {
		if ctx.Err() != nil {
			return applied, ctx.Err()
		}
		if now.Before(e.UpdatedAt.Add(r.delay(e.Attempts))) {
			continue
		}
		if err := r.worker.Process(ctx, e.Notification, e.ReceivedAt, e.Attempts); err != nil {
			redrives.Add(1, observability.L("outcome", "failed"))
			r.in.Log.Info("webhook_redrive_attempt_failed",
				observability.F("webhook_event_id", e.Notification.EventID),
				observability.F("attempts", e.Attempts+1),
				observability.F("error", err),
			)
			continue
		}
		redrives.Add(1, observability.L("outcome", "applied"))
		applied++
	}
	if applied > 0 {
		r.in.Log.Info("webhook_redrive_applied", observability.F("count", applied))
	}
	return applied, nil
}

func (r *Redriver) delay(attempts int) time.Duration {
	// An entry with no failed attempt may still be on the queue; it waits one backoff too.
	if r.backoff == 0 {
		return 0
	}
	d := r.backoff
	for i := 1; i < attempts && d < maxRedriveBackoff; i++ {
		d *= 2
	}
	if d > maxRedriveBackoff {
		d = maxRedriveBackoff
	}
	return d
}
