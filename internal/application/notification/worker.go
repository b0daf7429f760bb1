package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
)

const (
	workerService = "notification-worker"
	notifierPeer  = "notifier"
)

// Notifier delivers customer and operator notifications.
type Notifier interface {
	OrderConfirmed(ctx context.Context, e domorder.OrderConfirmedEvent) error
	OrderFlagged(ctx context.Context, e domorder.OrderFlaggedEvent) error
}

// Worker forwards order events to the notifier. Delivery is best effort: a
// failure is logged and never touches the order.
type Worker struct {
	subscriber domoutbox.Subscriber
	notifier   Notifier
	in         application.Instruments
}

func NewWorker(subscriber domoutbox.Subscriber, notifier Notifier, tel observability.Observability) *Worker {
	return &Worker{
		subscriber: subscriber,
		notifier:   notifier,
		in:         application.NewInstruments(tel, workerService),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.notifier == nil {
		return
	}
	w.subscriber.Subscribe(domorder.OrderConfirmedEvent{}.EventName(), w.handleOrderConfirmed)
	w.subscriber.Subscribe(domorder.OrderFlaggedEvent{}.EventName(), w.handleOrderFlagged)
}

func (w *Worker) handleOrderConfirmed(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(domorder.OrderConfirmedEvent)
	if !ok {
		return nil
	}
	return w.run(ctx, "notification.order_confirmed", evt.OrderID, func(ctx context.Context) error {
		return w.notifier.OrderConfirmed(ctx, evt)
	})
}

func (w *Worker) handleOrderFlagged(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(domorder.OrderFlaggedEvent)
	if !ok {
		return nil
	}
	return w.run(ctx, "notification.order_flagged", evt.OrderID, func(ctx context.Context) error {
		return w.notifier.OrderFlagged(ctx, evt)
	})
}

func (w *Worker) run(ctx context.Context, useCase, orderID string, send func(context.Context) error) (err error) {
	ctx, span := w.in.Tracer.Start(ctx, application.SpanPrefix+"Notify",
		attribute.String("use_case", useCase),
		attribute.String("order.id", orderID),
	)
	logger := logctx.FromOr(ctx, w.in.Log).With(
		observability.F("use_case", useCase),
		observability.F("order_id", orderID),
	)
	logger = logger.With(logctx.TraceFields(ctx)...)
	ctx = logctx.With(ctx, logger)

	start := time.Now()
	outcome, status := "success", "OK"
	defer func() {
		w.in.Done(ctx, span, logger, useCase, outcome, status, start, err)
	}()

	sendStart := time.Now()
	sendErr := send(ctx)
	extOutcome := "success"
	if sendErr != nil {
		extOutcome = "error"
	}
	w.in.ObserveExternal(notifierPeer, useCase, extOutcome, sendStart)
	if sendErr != nil {
		outcome, status = "error", "NOTIFY_FAILED"
		return fmt.Errorf("notification: %w", sendErr)
	}
	return nil
}
