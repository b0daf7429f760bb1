package workerpresentation

import (
	"context"

	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// WithEventContext puts an event-scoped logger on ctx for a handler run.
// eventID falls back to a fresh uuid so every run can be pivoted on; the span
// ids are added when ctx carries a valid span.
func WithEventContext(ctx context.Context, base observability.Logger, eventName, eventID string) context.Context {
	if base == nil {
		base = observability.NopLogger()
	}
	if eventID == "" {
		eventID = uuid.NewString()
	}

	fields := []observability.Field{
		observability.F("event", eventName),
		observability.F("event_id", eventID),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	return logctx.With(ctx, base.With(fields...))
}

// Subscriber decorates a bus subscriber so every handler run starts with an
// event-scoped logger, the way HTTP requests start with a request-scoped one.
type Subscriber struct {
	next domoutbox.Subscriber
	base observability.Logger
}

// NewSubscriber uses base when set and the logger of tel otherwise.
func NewSubscriber(next domoutbox.Subscriber, base observability.Logger, tel observability.Observability) *Subscriber {
	if base == nil {
		base, _, _ = observability.Resolve(tel)
	}
	return &Subscriber{next: next, base: base}
}

func (s *Subscriber) Subscribe(eventName string, h domoutbox.Handler) {
	s.next.Subscribe(eventName, func(ctx context.Context, e domoutbox.Event) error {
		var id string
		if ided, ok := e.(domoutbox.Identified); ok {
			id = ided.EventID()
		}
		return h(WithEventContext(ctx, s.base, e.EventName(), id), e)
	})
}
