package bootstrap

import (
	"context"
	"errors"
	"slices"

	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
)

// Buses keeps webhook notifications and customer notifications on separate
// dispatch loops, so a slow notifier never holds back payment processing.
type Buses struct {
	Webhooks      *outbox.Bus
	Notifications *outbox.Bus
}

func NewBuses(tel observability.Observability, opts ...outbox.Option) *Buses {
	return &Buses{
		Webhooks:      outbox.NewBus(tel, slices.Concat(opts, []outbox.Option{outbox.WithName("webhooks")})...),
		Notifications: outbox.NewBus(tel, slices.Concat(opts, []outbox.Option{outbox.WithName("notifications")})...),
	}
}

func (b *Buses) Start(ctx context.Context) {
	b.Webhooks.Start(ctx)
	b.Notifications.Start(ctx)
}

// Stop drains the webhook bus first; its handlers publish notifications.
func (b *Buses) Stop(ctx context.Context) error {
	return errors.Join(b.Webhooks.Stop(ctx), b.Notifications.Stop(ctx))
}
