package order

import "time"

// OrderConfirmedEvent is published once payment and stock were both applied.
// The notification worker turns it into the customer confirmation.
type OrderConfirmedEvent struct {
	OrderID    string
	CustomerID string
	PaymentID  string
	Amount     int64
	Currency   string
	Items      []Item
	OccurredAt time.Time
}

func (OrderConfirmedEvent) EventName() string { return "order.confirmed" }

func NewOrderConfirmedEvent(o *Order) OrderConfirmedEvent {
	return OrderConfirmedEvent{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		PaymentID:  o.CaptureID,
		Amount:     o.Amount,
		Currency:   o.Currency,
		Items:      append([]Item(nil), o.Items...),
		OccurredAt: time.Now().UTC(),
	}
}

// OrderFlaggedEvent is published when a captured order needs an operator.
type OrderFlaggedEvent struct {
	OrderID    string
	PaymentID  string
	Reason     string
	OccurredAt time.Time
}

func (OrderFlaggedEvent) EventName() string { return "order.flagged" }

func NewOrderFlaggedEvent(o *Order, reason string) OrderFlaggedEvent {
	return OrderFlaggedEvent{
		OrderID:    o.ID,
		PaymentID:  o.CaptureID,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
}
