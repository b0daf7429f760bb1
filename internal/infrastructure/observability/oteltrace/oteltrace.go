package oteltrace

import (
	"context"

	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultScope = "minishop-checkout"

type tracer struct {
	t     trace.Tracer
	scope attribute.KeyValue
}

// New returns a tracer backed by the global otel provider. Without an
// sdktrace.TracerProvider installed the spans are non-recording, but span
// contexts still propagate so log lines carry trace ids from inbound headers.
func New(scope, version string) observability.Tracer {
	if scope == "" {
		scope = defaultScope
	}
	var opts []trace.TracerOption
	if version != "" {
		opts = append(opts, trace.WithInstrumentationVersion(version))
	}
	return &tracer{
		t:     otel.Tracer(scope, opts...),
		scope: attribute.String("component", scope),
	}
}

// Start opens an internal span; use case spans are children of the HTTP server
// span or of the worker span that dispatched them.
func (t *tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.t.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(append(attrs, t.scope)...),
	)
}
