package notify

import (
	"context"

	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"
)

// LogNotifier only logs; it stands in when no broker is configured.
type LogNotifier struct {
	log observability.Logger
}

func NewLogNotifier(logger observability.Logger) *LogNotifier {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &LogNotifier{log: logger.With(observability.F("component", "log_notifier"))}
}

func (n *LogNotifier) OrderConfirmed(ctx context.Context, e domorder.OrderConfirmedEvent) error {
	logctx.FromOr(ctx, n.log).Info("order_confirmation_notified",
		observability.F("order_id", e.OrderID),
		observability.F("customer_id", e.CustomerID),
		observability.F("amount", e.Amount),
	)
	return nil
}

func (n *LogNotifier) OrderFlagged(ctx context.Context, e domorder.OrderFlaggedEvent) error {
	logctx.FromOr(ctx, n.log).Warn("order_flagged_notified",
		observability.F("order_id", e.OrderID),
		observability.F("reason", e.Reason),
	)
	return nil
}
