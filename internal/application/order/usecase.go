package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	domcatalog "github.com/Zhima-Mochi/minishop-checkout/internal/domain/catalog"
	domcoupon "github.com/Zhima-Mochi/minishop-checkout/internal/domain/coupon"
	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	orderService       = "order-service"
	useCaseOrderCreate = "order.create"
	providerPeer       = "payment_provider"
)

var (
	ErrConflict   = domain.ErrConflict
	ErrNotFound   = domain.ErrNotFound
	ErrRepository = errors.New("order: repository failure")
)

// CreateOrderUseCase opens a checkout: it stores the provisional order and the
// provider order the buyer is sent to approve.
type CreateOrderUseCase struct {
	repo        domain.Repository
	prices      PriceLookup
	coupons     CouponLookup
	gateway     dompay.Gateway
	idGenerator IDGenerator
	returnURL   string
	cancelURL   string
	in          application.Instruments
}

// NewCreateOrderUseCase wires the dependencies required to execute the use case.
func NewCreateOrderUseCase(
	repo domain.Repository,
	prices PriceLookup,
	coupons CouponLookup,
	gateway dompay.Gateway,
	idGen IDGenerator,
	returnURL, cancelURL string,
	tel observability.Observability,
) *CreateOrderUseCase {
	return &CreateOrderUseCase{
		repo:        repo,
		prices:      prices,
		coupons:     coupons,
		gateway:     gateway,
		idGenerator: idGen,
		returnURL:   returnURL,
		cancelURL:   cancelURL,
		in:          application.NewInstruments(tel, orderService),
	}
}

// ItemInput names a product and a quantity. A non-zero UnitPrice is the price
// the client was shown; it must match the catalog.
type ItemInput struct {
	ProductID string
	Quantity  int
	UnitPrice int64
}

type CreateOrderInput struct {
	IdempotencyKey string
	CustomerID     string
	Items          []ItemInput
	Currency       string
	CouponCode     string
}

type CreateOrderResult struct {
	OrderID         string
	Status          domain.Status
	PaymentStatus   domain.PaymentStatus
	Amount          int64
	DiscountAmount  int64
	ProviderOrderID string
	ApproveURL      string
	Replayed        bool
}

var _ application.UseCase[CreateOrderInput, *CreateOrderResult] = (*CreateOrderUseCase)(nil)

// Execute performs the checkout flow.
func (uc *CreateOrderUseCase) Execute(ctx context.Context, cmd CreateOrderInput) (_ *CreateOrderResult, err error) {
	logger := logctx.FromOr(ctx, uc.in.Log).With(observability.F("use_case", useCaseOrderCreate))

	var orderID string
	ctx, span := uc.in.Tracer.Start(ctx, application.SpanPrefix+"CreateOrder",
		attribute.String("use_case", useCaseOrderCreate),
		attribute.String("order.customer_id", cmd.CustomerID),
		attribute.Int("order.items", len(cmd.Items)),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"

	defer func() {
		uc.in.Done(ctx, span, logger, useCaseOrderCreate, outcome, statusText, start, err,
			observability.F("order_id", orderID),
		)
	}()

	if cmd.CustomerID == "" {
		outcome, statusText = "error", "CUSTOMER_ID_REQUIRED"
		return nil, application.NewValidation("order", "customer id is required")
	}
	if len(cmd.Items) == 0 {
		outcome, statusText = "error", "ITEMS_REQUIRED"
		return nil, application.NewValidation("order", "at least one item is required")
	}
	for _, it := range cmd.Items {
		if it.ProductID == "" {
			outcome, statusText = "error", "PRODUCT_ID_REQUIRED"
			return nil, application.NewValidation("order", "product id is required")
		}
		if it.Quantity <= 0 {
			outcome, statusText = "error", "QUANTITY_INVALID"
			return nil, application.NewValidation("order", "quantity must be greater than zero")
		}
		if it.UnitPrice < 0 {
			outcome, statusText = "error", "UNIT_PRICE_INVALID"
			return nil, application.NewValidation("order", "unit price must be zero or greater")
		}
	}
	if len(cmd.Currency) != 3 {
		outcome, statusText = "error", "CURRENCY_INVALID"
		return nil, application.NewValidation("order", "currency must be a three letter code")
	}
	if err := ctx.Err(); err != nil {
		outcome, statusText = "error", "CONTEXT_CANCELED"
		return nil, err
	}

	if cmd.IdempotencyKey != "" {
		existing, repoErr := uc.repo.FindByIdempotency(ctx, cmd.CustomerID, cmd.IdempotencyKey)
		switch {
		case repoErr == nil:
			orderID = existing.ID
			statusText = "IDEMPOTENT_REPLAY"
			uc.replayed(span, existing)
			return resultFor(existing, "", true), nil
		case errors.Is(repoErr, domain.ErrNotFound):
			// continue
		default:
			outcome, statusText = "error", "IDEMPOTENCY_LOOKUP_FAILED"
			return nil, wrapRepositoryError(repoErr)
		}
	}

	items, subtotal, code, err := uc.priceItems(ctx, cmd.Items, cmd.Currency)
	if err != nil {
		outcome, statusText = "error", code
		return nil, err
	}

	couponCode := strings.ToUpper(strings.TrimSpace(cmd.CouponCode))
	var discount int64
	if couponCode != "" {
		discount, err = uc.discountFor(ctx, couponCode, subtotal)
		if err != nil {
			outcome, statusText = "error", "COUPON_REJECTED"
			return nil, err
		}
	}

	orderID = uc.idGenerator.NewID()
	entity, derr := domain.New(orderID, cmd.CustomerID, cmd.IdempotencyKey, cmd.Currency, items, couponCode, discount)
	if derr != nil {
		outcome, statusText = "error", "DOMAIN_CONSTRUCTION_FAILED"
		return nil, fmt.Errorf("order: construct: %w: %w", application.ErrValidation, derr)
	}
	if entity.Amount <= 0 {
		outcome, statusText = "error", "AMOUNT_INVALID"
		return nil, application.NewValidation("order", "amount after discount must be greater than zero")
	}
	if err := uc.repo.Insert(ctx, entity); err != nil {
		if errors.Is(err, domain.ErrConflict) && cmd.IdempotencyKey != "" {
			if existing, lookupErr := uc.repo.FindByIdempotency(ctx, cmd.CustomerID, cmd.IdempotencyKey); lookupErr == nil {
				orderID = existing.ID
				statusText = "IDEMPOTENT_REPLAY"
				uc.replayed(span, existing)
				return resultFor(existing, "", true), nil
			}
		}
		outcome, statusText = "error", "REPO_INSERT_FAILED"
		return nil, wrapRepositoryError(err)
	}

	providerStart := time.Now()
	checkout, gwErr := uc.gateway.CreateCheckout(ctx, dompay.CheckoutRequest{
		OrderID:   entity.ID,
		Amount:    entity.Amount,
		Currency:  entity.Currency,
		ReturnURL: uc.returnURL,
		CancelURL: uc.cancelURL,
	})
	providerOutcome := "success"
	if gwErr != nil {
		providerOutcome = "error"
	}
	uc.in.ObserveExternal(providerPeer, "orders.create", providerOutcome, providerStart)
	if gwErr != nil {
		// The provisional order stays; it never reaches the provider and is never paid.
		outcome, statusText = "error", "PROVIDER_CHECKOUT_FAILED"
		return nil, fmt.Errorf("order: create provider checkout: %w", gwErr)
	}

	if err := entity.AttachPaymentRef(checkout.ProviderOrderID); err != nil {
		outcome, statusText = "error", "STATE_TRANSITION_FAILED"
		return nil, err
	}
	if err := uc.repo.Update(ctx, entity); err != nil {
		outcome, statusText = "error", "REPO_UPDATE_FAILED"
		return nil, wrapRepositoryError(err)
	}

	span.SetAttributes(attribute.String("order.status", string(entity.Status)))
	span.AddEvent("order.created",
		trace.WithAttributes(
			attribute.String("order.id", orderID),
			attribute.String("payment.provider_order_id", checkout.ProviderOrderID),
		),
	)

	return resultFor(entity, checkout.ApproveURL, false), nil
}

// priceItems charges every item at its catalog price. The returned code names
// the failure for the use case status.
func (uc *CreateOrderUseCase) priceItems(ctx context.Context, in []ItemInput, currency string) ([]domain.Item, int64, string, error) {
	if uc.prices == nil {
		return nil, 0, "CATALOG_UNAVAILABLE", fmt.Errorf("order: %w: no price catalog", ErrRepository)
	}
	items := make([]domain.Item, 0, len(in))
	var subtotal int64
	for _, it := range in {
		p, err := uc.prices.PriceOf(ctx, it.ProductID)
		switch {
		case errors.Is(err, domcatalog.ErrNotFound):
			return nil, 0, "PRODUCT_UNKNOWN", application.NewValidation("order", "product "+it.ProductID+" is not for sale")
		case err != nil:
			return nil, 0, "PRICE_LOOKUP_FAILED", fmt.Errorf("%w: price lookup: %w", ErrRepository, err)
		}
		if !strings.EqualFold(p.Currency, currency) {
			return nil, 0, "CURRENCY_MISMATCH", application.NewValidation("order",
				fmt.Sprintf("product %s is priced in %s", it.ProductID, p.Currency))
		}
		if it.UnitPrice != 0 && it.UnitPrice != p.UnitPrice {
			return nil, 0, "PRICE_CHANGED", application.NewValidation("order",
				fmt.Sprintf("product %s costs %d", it.ProductID, p.UnitPrice))
		}
		items = append(items, domain.Item{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: p.UnitPrice})
		subtotal += int64(it.Quantity) * p.UnitPrice
	}
	return items, subtotal, "", nil
}

func (uc *CreateOrderUseCase) discountFor(ctx context.Context, code string, subtotal int64) (int64, error) {
	if uc.coupons == nil {
		return 0, application.NewValidation("order", "coupons are not accepted")
	}
	c, err := uc.coupons.FindByCode(ctx, code)
	switch {
	case errors.Is(err, domcoupon.ErrNotFound):
		return 0, application.NewValidation("order", "unknown coupon "+code)
	case err != nil:
		return 0, fmt.Errorf("order: coupon lookup: %w", err)
	}
	discount, err := c.Discount(subtotal)
	if err != nil {
		return 0, fmt.Errorf("order: %w: %w", application.ErrValidation, err)
	}
	return discount, nil
}

func (uc *CreateOrderUseCase) replayed(span trace.Span, existing *domain.Order) {
	span.SetAttributes(attribute.String("order.status", string(existing.Status)))
	span.AddEvent("order.idempotent_replay",
		trace.WithAttributes(attribute.String("order.id", existing.ID)),
	)
}

func resultFor(o *domain.Order, approveURL string, replayed bool) *CreateOrderResult {
	return &CreateOrderResult{
		OrderID:         o.ID,
		Status:          o.Status,
		PaymentStatus:   o.PaymentStatus,
		Amount:          o.Amount,
		DiscountAmount:  o.DiscountAmount,
		ProviderOrderID: o.PaymentRef,
		ApproveURL:      approveURL,
		Replayed:        replayed,
	}
}

func wrapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, domain.ErrConflict):
		return ErrConflict
	default:
		return fmt.Errorf("%w: %w", ErrRepository, err)
	}
}
