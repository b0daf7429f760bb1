package order

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound               = errors.New("order: not found")
	ErrConflict               = errors.New("order: conflict")
	ErrNoItems                = errors.New("order: at least one item is required")
	ErrInvalidQuantity        = errors.New("order: quantity must be greater than zero")
	ErrInvalidAmount          = errors.New("order: amount must be zero or greater")
	ErrInvalidDiscount        = errors.New("order: discount exceeds subtotal")
	ErrInvalidStateTransition = errors.New("order: invalid state transition")
)

// Status is the fulfilment lifecycle of an order.
type Status string

const (
	StatusCreated Status = "created"
	// StatusPending marks an order whose payment was captured but which could not be
	// fulfilled automatically and waits for an operator.
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// PaymentStatus tracks the money side of the order independently of fulfilment.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	// PaymentCompleted means funds were captured but stock was not decremented.
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Item is a purchased line. Items never change once the order exists.
type Item struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type Order struct {
	ID             string
	CustomerID     string
	IdempotencyKey string
	Items          []Item
	Currency       string
	Subtotal       int64
	CouponCode     string
	DiscountAmount int64
	Amount         int64
	// PaymentRef is the provider order id created at checkout.
	PaymentRef string
	// CaptureID is the provider payment id once funds are captured.
	CaptureID     string
	Status        Status
	PaymentStatus PaymentStatus
	Notes         string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func New(id, customerID, idempotencyKey, currency string, items []Item, couponCode string, discount int64) (*Order, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	var subtotal int64
	copied := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if it.UnitPrice < 0 {
			return nil, ErrInvalidAmount
		}
		subtotal += int64(it.Quantity) * it.UnitPrice
		copied = append(copied, it)
	}
	if discount < 0 {
		return nil, ErrInvalidAmount
	}
	if discount > subtotal {
		return nil, ErrInvalidDiscount
	}
	if discount == 0 {
		couponCode = ""
	}

	now := time.Now().UTC()
	return &Order{
		ID:             id,
		CustomerID:     customerID,
		IdempotencyKey: idempotencyKey,
		Items:          copied,
		Currency:       strings.ToUpper(currency),
		Subtotal:       subtotal,
		CouponCode:     couponCode,
		DiscountAmount: discount,
		Amount:         subtotal - discount,
		Status:         StatusCreated,
		PaymentStatus:  PaymentPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// AttachPaymentRef records the provider order created for this checkout.
func (o *Order) AttachPaymentRef(ref string) error {
	if o.PaymentStatus != PaymentPending {
		return ErrInvalidStateTransition
	}
	o.PaymentRef = ref
	o.touch()
	return nil
}

// HasCoupon reports whether a redemption must be recorded once the order is paid.
func (o *Order) HasCoupon() bool {
	return o.CouponCode != "" && o.DiscountAmount > 0
}

// PaymentSettled reports whether funds for this order were already captured.
func (o *Order) PaymentSettled() bool {
	return o.PaymentStatus == PaymentPaid || o.PaymentStatus == PaymentCompleted
}

// AwaitingReview reports whether the order was flagged after a capture it could not fulfil.
func (o *Order) AwaitingReview() bool {
	return o.PaymentStatus == PaymentCompleted && o.Status == StatusPending
}

// AppendNote adds an operational note; notes are never rewritten.
func (o *Order) AppendNote(note string) {
	note = strings.TrimSpace(note)
	if note == "" {
		return
	}
	if o.Notes == "" {
		o.Notes = note
	} else {
		o.Notes += "\n" + note
	}
	o.touch()
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Items = append([]Item(nil), o.Items...)
	return &clone
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}
