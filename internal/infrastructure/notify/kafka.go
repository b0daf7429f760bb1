package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	kindOrderConfirmed = "order.confirmed"
	kindOrderFlagged   = "order.flagged"
	writeTimeout       = 10 * time.Second
)

// MessageWriter is the kafka-go writer surface the notifier uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Message is the JSON body published for every notification.
type Message struct {
	EventID    string    `json:"event_id"`
	Kind       string    `json:"kind"`
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id,omitempty"`
	PaymentID  string    `json:"payment_id,omitempty"`
	Amount     int64     `json:"amount,omitempty"`
	Currency   string    `json:"currency,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Items      []Item    `json:"items,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Item struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// KafkaNotifier publishes notifications keyed by order id so one order's
// messages stay in one partition.
type KafkaNotifier struct {
	writer MessageWriter
	log    observability.Logger
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

func NewKafkaNotifier(writer MessageWriter, logger observability.Logger) *KafkaNotifier {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &KafkaNotifier{writer: writer, log: logger.With(observability.F("component", "kafka_notifier"))}
}

func (n *KafkaNotifier) OrderConfirmed(ctx context.Context, e domorder.OrderConfirmedEvent) error {
	items := make([]Item, 0, len(e.Items))
	for _, it := range e.Items {
		items = append(items, Item{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return n.publish(ctx, Message{
		EventID:    uuid.NewString(),
		Kind:       kindOrderConfirmed,
		OrderID:    e.OrderID,
		CustomerID: e.CustomerID,
		PaymentID:  e.PaymentID,
		Amount:     e.Amount,
		Currency:   e.Currency,
		Items:      items,
		OccurredAt: e.OccurredAt,
	})
}

func (n *KafkaNotifier) OrderFlagged(ctx context.Context, e domorder.OrderFlaggedEvent) error {
	return n.publish(ctx, Message{
		EventID:    uuid.NewString(),
		Kind:       kindOrderFlagged,
		OrderID:    e.OrderID,
		PaymentID:  e.PaymentID,
		Reason:     e.Reason,
		OccurredAt: e.OccurredAt,
	})
}

func (n *KafkaNotifier) publish(ctx context.Context, m Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("notify: marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	logger := logctx.FromOr(ctx, n.log)
	if err := n.writer.WriteMessages(ctx, kafka.Message{Key: []byte(m.OrderID), Value: body}); err != nil {
		logger.Error("notification_publish_failed",
			observability.F("kind", m.Kind),
			observability.F("order_id", m.OrderID),
			observability.F("error", err),
		)
		return fmt.Errorf("notify: write %s: %w", m.Kind, err)
	}
	logger.Info("notification_published",
		observability.F("kind", m.Kind),
		observability.F("order_id", m.OrderID),
		observability.F("event_id", m.EventID),
	)
	return nil
}

func (n *KafkaNotifier) Close() error {
	if n.writer != nil {
		return n.writer.Close()
	}
	return nil
}
