package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	SpanPrefix     = "UC."
	PublishPeer    = "outbox"
	PublishTimeout = 300 * time.Millisecond
)

// ErrValidation marks input errors; callers map it to a 400 with no side effects.
var ErrValidation = errors.New("validation")

type UseCase[C any, R any] interface {
	Execute(ctx context.Context, cmd C) (R, error)
}

func NewValidation(scope, msg string) error {
	return fmt.Errorf("%s: %w: %s", scope, ErrValidation, msg)
}

// Instruments is the observability kit every use case is built with: a base
// logger with the service field prebound, a tracer, and the RED instruments.
type Instruments struct {
	Log          observability.Logger
	Tracer       observability.Tracer
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint}
	metrics      observability.Metrics
}

func NewInstruments(tel observability.Observability, service string) Instruments {
	logger, tracer, metrics := observability.Resolve(tel)
	return Instruments{
		Log:          logger.With(observability.F("service", service)),
		Tracer:       tracer,
		reqCounter:   metrics.Counter(observability.MUsecaseRequests),
		durHistogram: metrics.Histogram(observability.MUsecaseDuration),
		extCounter:   metrics.Counter(observability.MExternalRequests),
		extHistogram: metrics.Histogram(observability.MExternalRequestDuration),
		metrics:      metrics,
	}
}

// Counter exposes an extra domain counter from the same metrics provider.
func (in Instruments) Counter(key observability.MetricKey) observability.Counter {
	if in.metrics == nil {
		return observability.NopCounter()
	}
	return in.metrics.Counter(key)
}

// Done closes a use case run: span status, RED metrics and the single
// use_case_done log line.
func (in Instruments) Done(ctx context.Context, span trace.Span, logger observability.Logger, useCase, outcome, statusText string, start time.Time, err error, extra ...observability.Field) {
	lat := time.Since(start).Seconds()

	if span != nil {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()
	}

	if in.reqCounter != nil {
		in.reqCounter.Add(1,
			observability.L("use_case", useCase),
			observability.L("outcome", outcome),
		)
	}
	if in.durHistogram != nil {
		in.durHistogram.Observe(lat,
			observability.L("use_case", useCase),
		)
	}

	fields := []observability.Field{
		observability.F("outcome", outcome),
		observability.F("status", statusText),
		observability.F("latency_seconds", lat),
	}
	fields = append(fields, logctx.TraceFields(ctx)...)
	fields = append(fields, extra...)
	if err != nil {
		fields = append(fields, observability.F("error", err.Error()))
	}
	logger.Info("use_case_done", fields...)
}

// ObserveExternal records one outbound call.
func (in Instruments) ObserveExternal(peer, endpoint, outcome string, start time.Time) {
	if in.extCounter != nil {
		in.extCounter.Add(1,
			observability.L("peer", peer),
			observability.L("endpoint", endpoint),
			observability.L("outcome", outcome),
		)
	}
	if in.extHistogram != nil {
		in.extHistogram.Observe(time.Since(start).Seconds(),
			observability.L("peer", peer),
			observability.L("endpoint", endpoint),
		)
	}
}

// Publish hands e to the outbox with a short timeout. It is best effort: the
// error is returned for logging and never undoes the caller's work.
func (in Instruments) Publish(ctx context.Context, publisher domoutbox.Publisher, e domoutbox.Event) error {
	if publisher == nil || e == nil {
		return nil
	}
	pubCtx, cancel := context.WithTimeout(ctx, PublishTimeout)
	defer cancel()

	start := time.Now()
	outcome := "success"
	err := publisher.Publish(pubCtx, e)
	if err != nil {
		outcome = "error"
	} else if pubCtx.Err() != nil {
		outcome = "canceled"
		err = pubCtx.Err()
	}
	in.ObserveExternal(PublishPeer, e.EventName(), outcome, start)
	return err
}
