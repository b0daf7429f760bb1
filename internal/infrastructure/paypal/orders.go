package paypal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
)

const (
	ordersPath            = "/v2/checkout/orders"
	issueAlreadyCaptured  = "ORDER_ALREADY_CAPTURED"
	captureStatusDeclined = "DECLINED"
	captureStatusFailed   = "FAILED"
)

type link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method,omitempty"`
}

type purchaseUnitRequest struct {
	ReferenceID string `json:"reference_id"`
	CustomID    string `json:"custom_id"`
	Amount      money  `json:"amount"`
}

type applicationContext struct {
	ReturnURL          string `json:"return_url,omitempty"`
	CancelURL          string `json:"cancel_url,omitempty"`
	UserAction         string `json:"user_action"`
	ShippingPreference string `json:"shipping_preference"`
}

type createOrderRequest struct {
	Intent             string                `json:"intent"`
	PurchaseUnits      []purchaseUnitRequest `json:"purchase_units"`
	ApplicationContext applicationContext    `json:"application_context"`
}

type captureResource struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   money  `json:"amount"`
	CustomID string `json:"custom_id"`
}

type orderResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Links         []link `json:"links"`
	PurchaseUnits []struct {
		ReferenceID string `json:"reference_id"`
		CustomID    string `json:"custom_id"`
		Payments    struct {
			Captures []captureResource `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

func (c *Client) CreateCheckout(ctx context.Context, req dompay.CheckoutRequest) (*dompay.Checkout, error) {
	body := createOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []purchaseUnitRequest{{
			ReferenceID: req.OrderID,
			CustomID:    req.OrderID,
			Amount:      formatAmount(req.Amount, req.Currency),
		}},
		ApplicationContext: applicationContext{
			ReturnURL:          req.ReturnURL,
			CancelURL:          req.CancelURL,
			UserAction:         "PAY_NOW",
			ShippingPreference: "NO_SHIPPING",
		},
	}
	var out orderResponse
	if err := c.do(ctx, http.MethodPost, ordersPath, "checkout-"+req.OrderID, body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("paypal: create order: %w: empty order id", dompay.ErrProviderUnavailable)
	}
	checkout := &dompay.Checkout{ProviderOrderID: out.ID}
	for _, l := range out.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			checkout.ApproveURL = l.Href
			break
		}
	}
	return checkout, nil
}

func (c *Client) CaptureOrder(ctx context.Context, providerOrderID string) (*dompay.Capture, error) {
	if providerOrderID == "" {
		return nil, errors.New("paypal: provider order id is required")
	}
	path := ordersPath + "/" + url.PathEscape(providerOrderID) + "/capture"
	var out orderResponse
	err := c.do(ctx, http.MethodPost, path, "capture-"+providerOrderID, struct{}{}, &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity && apiErr.HasIssue(issueAlreadyCaptured) {
			return nil, fmt.Errorf("paypal: %s: %w", providerOrderID, dompay.ErrAlreadyCaptured)
		}
		return nil, err
	}
	return captureFrom(&out)
}

func (c *Client) GetCapture(ctx context.Context, providerOrderID string) (*dompay.Capture, error) {
	if providerOrderID == "" {
		return nil, errors.New("paypal: provider order id is required")
	}
	var out orderResponse
	if err := c.do(ctx, http.MethodGet, ordersPath+"/"+url.PathEscape(providerOrderID), "", nil, &out); err != nil {
		return nil, err
	}
	return captureFrom(&out)
}

// captureFrom reads the first capture of the first purchase unit; checkout
// always opens exactly one.
func captureFrom(o *orderResponse) (*dompay.Capture, error) {
	capture := &dompay.Capture{ProviderOrderID: o.ID, Status: dompay.CapturePending}
	if len(o.PurchaseUnits) == 0 {
		return capture, nil
	}
	pu := o.PurchaseUnits[0]
	capture.CustomID = pu.CustomID
	if len(pu.Payments.Captures) == 0 {
		return capture, nil
	}
	cr := pu.Payments.Captures[0]
	amount, err := parseAmount(cr.Amount)
	if err != nil {
		return nil, err
	}
	capture.CaptureID = cr.ID
	capture.Amount = amount
	capture.Currency = cr.Amount.CurrencyCode
	if cr.CustomID != "" {
		capture.CustomID = cr.CustomID
	}
	switch cr.Status {
	case string(dompay.CaptureCompleted):
		capture.Status = dompay.CaptureCompleted
	case captureStatusDeclined, captureStatusFailed:
		capture.Status = dompay.CaptureDeclined
	default:
		capture.Status = dompay.CapturePending
	}
	return capture, nil
}
