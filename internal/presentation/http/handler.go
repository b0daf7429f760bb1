package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	appOrder "github.com/Zhima-Mochi/minishop-checkout/internal/application/order"
	appPayment "github.com/Zhima-Mochi/minishop-checkout/internal/application/payment"
	domainInventory "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domainOrder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	"github.com/go-chi/chi/v5"
)

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
	headerTenantID       = "X-Tenant-ID"
	maxWebhookBytes      = 1 << 20
)

// OrderReader serves GET /orders/{id}.
type OrderReader interface {
	Execute(ctx context.Context, id string) (*domainOrder.Order, error)
}

// UseCases are the application entry points the HTTP surface calls.
type UseCases struct {
	CreateOrder application.UseCase[appOrder.CreateOrderInput, *appOrder.CreateOrderResult]
	GetOrder    OrderReader
	Capture     application.UseCase[appPayment.CapturePaymentInput, *appPayment.ConfirmPaymentResult]
	Webhook     application.UseCase[appPayment.WebhookInput, *appPayment.WebhookResult]
	Reconcile   application.UseCase[appPayment.ReconcileOrderInput, *appPayment.ConfirmPaymentResult]
}

type Options struct {
	AdminJWTSecret   []byte
	WebhookRateRPS   float64
	WebhookRateBurst int
}

type Handler struct {
	uc        UseCases
	opts      Options
	limiter   *ipRateLimiter
	log       observability.Logger
	requests  observability.Counter
	durations observability.Histogram
}

func NewHandler(uc UseCases, opts Options, tel observability.Observability) *Handler {
	logger, _, metrics := observability.Resolve(tel)
	return &Handler{
		uc:        uc,
		opts:      opts,
		limiter:   newIPRateLimiter(opts.WebhookRateRPS, opts.WebhookRateBurst),
		log:       logger.With(observability.F("component", componentHTTPHandler)),
		requests:  metrics.Counter(observability.MHTTPRequests),
		durations: metrics.Histogram(observability.MHTTPRequestDuration),
	}
}

// Router wires each route with middlewares:
// Trace → ObservabilityMiddleware (request logger) → Access log → HTTP metrics → route guards → Handler
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	h.handle(r, http.MethodPost, "/checkout/orders", h.handleCreateOrder)
	h.handle(r, http.MethodGet, "/orders/{id}", h.handleGetOrder)
	h.handle(r, http.MethodPost, "/payments/capture", h.handleCapture)
	h.handle(r, http.MethodPost, "/webhooks/paypal", h.handleWebhook, h.limiter.middleware)
	h.handle(r, http.MethodPost, "/admin/orders/{id}/reconcile", h.handleReconcile, requireOperator(h.opts.AdminJWTSecret))
	h.handle(r, http.MethodGet, "/health", h.handleHealth)

	return r
}

func (h *Handler) handle(r chi.Router, method, route string, handler http.HandlerFunc, guards ...func(http.Handler) http.Handler) {
	var inner http.Handler = handler
	for i := len(guards) - 1; i >= 0; i-- {
		inner = guards[i](inner)
	}

	wrapped := h.withTrace(
		ObservabilityMiddleware(
			h.log,
			func(r *http.Request) string {
				return r.Header.Get(headerRequestID)
			},
			func(r *http.Request) string {
				return r.Header.Get(headerTenantID)
			},
		)(
			h.withAccessLog(
				h.withHTTPMetrics(inner),
			),
		),
	)

	r.Method(method, route, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		// Store stable route template for low-cardinality labels
		wrapped.ServeHTTP(w, req.WithContext(contextWithRoute(req.Context(), route)))
	}))
}

type itemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price,omitempty"`
}

type createOrderRequest struct {
	CustomerID     string        `json:"customer_id"`
	IdempotencyKey string        `json:"idempotency_key"`
	Items          []itemRequest `json:"items"`
	Currency       string        `json:"currency"`
	CouponCode     string        `json:"coupon_code"`
}

type createOrderResponse struct {
	OrderID         string                    `json:"order_id"`
	Status          domainOrder.Status        `json:"status"`
	PaymentStatus   domainOrder.PaymentStatus `json:"payment_status"`
	Amount          int64                     `json:"amount"`
	DiscountAmount  int64                     `json:"discount_amount"`
	ProviderOrderID string                    `json:"provider_order_id"`
	ApproveURL      string                    `json:"approve_url,omitempty"`
	Replayed        bool                      `json:"replayed,omitempty"`
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	items := make([]appOrder.ItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, appOrder.ItemInput{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	result, err := h.uc.CreateOrder.Execute(r.Context(), appOrder.CreateOrderInput{
		IdempotencyKey: req.IdempotencyKey,
		CustomerID:     req.CustomerID,
		Items:          items,
		Currency:       req.Currency,
		CouponCode:     req.CouponCode,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, createOrderResponse{
		OrderID:         result.OrderID,
		Status:          result.Status,
		PaymentStatus:   result.PaymentStatus,
		Amount:          result.Amount,
		DiscountAmount:  result.DiscountAmount,
		ProviderOrderID: result.ProviderOrderID,
		ApproveURL:      result.ApproveURL,
		Replayed:        result.Replayed,
	})
}

type orderResponse struct {
	OrderID         string                    `json:"order_id"`
	CustomerID      string                    `json:"customer_id"`
	Status          domainOrder.Status        `json:"status"`
	PaymentStatus   domainOrder.PaymentStatus `json:"payment_status"`
	Items           []domainOrder.Item        `json:"items"`
	Currency        string                    `json:"currency"`
	Subtotal        int64                     `json:"subtotal"`
	DiscountAmount  int64                     `json:"discount_amount"`
	Amount          int64                     `json:"amount"`
	CouponCode      string                    `json:"coupon_code,omitempty"`
	ProviderOrderID string                    `json:"provider_order_id,omitempty"`
	CaptureID       string                    `json:"capture_id,omitempty"`
	Notes           string                    `json:"notes,omitempty"`
	UpdatedAt       time.Time                 `json:"updated_at"`
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.uc.GetOrder.Execute(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{
		OrderID:         o.ID,
		CustomerID:      o.CustomerID,
		Status:          o.Status,
		PaymentStatus:   o.PaymentStatus,
		Items:           o.Items,
		Currency:        o.Currency,
		Subtotal:        o.Subtotal,
		DiscountAmount:  o.DiscountAmount,
		Amount:          o.Amount,
		CouponCode:      o.CouponCode,
		ProviderOrderID: o.PaymentRef,
		CaptureID:       o.CaptureID,
		Notes:           o.Notes,
		UpdatedAt:       o.UpdatedAt,
	})
}

type captureRequest struct {
	ProviderOrderID string `json:"provider_order_id"`
}

type paymentResponse struct {
	Outcome       appPayment.Outcome         `json:"outcome"`
	OrderID       string                     `json:"order_id,omitempty"`
	Status        domainOrder.Status         `json:"status,omitempty"`
	PaymentStatus domainOrder.PaymentStatus  `json:"payment_status,omitempty"`
	Shortages     []domainInventory.Shortage `json:"shortages,omitempty"`
}

func (h *Handler) handleCapture(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.ProviderOrderID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "provider_order_id is required")
		return
	}

	result, err := h.uc.Capture.Execute(r.Context(), appPayment.CapturePaymentInput{ProviderOrderID: req.ProviderOrderID})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writePaymentResult(w, result)
}

type webhookResponse struct {
	Accepted bool   `json:"accepted"`
	EventID  string `json:"event_id,omitempty"`
	Kind     string `json:"kind,omitempty"`
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	result, err := h.uc.Webhook.Execute(r.Context(), appPayment.WebhookInput{Header: r.Header, Body: body})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, webhookResponse{
		Accepted: result.Accepted,
		EventID:  result.EventID,
		Kind:     string(result.Kind),
	})
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	result, err := h.uc.Reconcile.Execute(r.Context(), appPayment.ReconcileOrderInput{
		OrderID: chi.URLParam(r, "id"),
		Actor:   "operator:" + operatorFromContext(r.Context()),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writePaymentResult(w, result)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writePaymentResult(w http.ResponseWriter, result *appPayment.ConfirmPaymentResult) {
	status := http.StatusOK
	switch result.Outcome {
	case appPayment.OutcomeInsufficientStock:
		status = http.StatusConflict
	case appPayment.OutcomePending:
		status = http.StatusAccepted
	case appPayment.OutcomeDenied:
		status = http.StatusPaymentRequired
	}
	writeJSON(w, status, paymentResponse{
		Outcome:       result.Outcome,
		OrderID:       result.OrderID,
		Status:        result.Status,
		PaymentStatus: result.PaymentStatus,
		Shortages:     result.Shortages,
	})
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}
