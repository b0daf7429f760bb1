package paypal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"

	"github.com/xeipuuv/gojsonschema"
)

const (
	verifyPath = "/v1/notifications/verify-webhook-signature"

	EventCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
	EventCaptureDenied    = "PAYMENT.CAPTURE.DENIED"
	EventCaptureDeclined  = "PAYMENT.CAPTURE.DECLINED"
	EventCaptureRefunded  = "PAYMENT.CAPTURE.REFUNDED"
)

var transmissionHeaders = []string{
	"PAYPAL-AUTH-ALGO",
	"PAYPAL-CERT-URL",
	"PAYPAL-TRANSMISSION-ID",
	"PAYPAL-TRANSMISSION-SIG",
	"PAYPAL-TRANSMISSION-TIME",
}

// webhookEventSchema covers the envelope and the capture/refund resource
// fields the service reads.
const webhookEventSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "event_type", "resource"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "event_type": {"type": "string", "minLength": 1},
    "resource_type": {"type": "string"},
    "resource": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "status": {"type": "string"},
        "custom_id": {"type": "string"},
        "amount": {
          "type": "object",
          "required": ["currency_code", "value"],
          "properties": {
            "currency_code": {"type": "string", "minLength": 3, "maxLength": 3},
            "value": {"type": "string", "pattern": "^[0-9]+(\\.[0-9]+)?$"}
          }
        },
        "supplementary_data": {
          "type": "object",
          "properties": {
            "related_ids": {
              "type": "object",
              "properties": {"order_id": {"type": "string"}}
            }
          }
        },
        "links": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["href", "rel"],
            "properties": {"href": {"type": "string"}, "rel": {"type": "string"}}
          }
        }
      }
    }
  }
}`

type webhookSchema struct {
	schema *gojsonschema.Schema
}

func newWebhookSchema() (*webhookSchema, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(webhookEventSchema))
	if err != nil {
		return nil, fmt.Errorf("paypal: compile webhook schema: %w", err)
	}
	return &webhookSchema{schema: s}, nil
}

func (s *webhookSchema) validate(body []byte) error {
	res, err := s.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", dompay.ErrMalformedWebhook, err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", dompay.ErrMalformedWebhook, strings.Join(msgs, "; "))
}

type webhookEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID                string `json:"id"`
		Status            string `json:"status"`
		CustomID          string `json:"custom_id"`
		Amount            money  `json:"amount"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
		Links []link `json:"links"`
	} `json:"resource"`
}

// DecodeWebhook validates the body and maps the capture events the service
// acts on. Other event types decode to nil.
func (c *Client) DecodeWebhook(body []byte) (*dompay.Notification, error) {
	if err := c.schema.validate(body); err != nil {
		return nil, err
	}
	var ev webhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", dompay.ErrMalformedWebhook, err)
	}

	n := &dompay.Notification{
		EventID:   ev.ID,
		Provider:  dompay.ProviderPayPal,
		PaymentID: ev.Resource.ID,
		OrderRef:  ev.Resource.CustomID,
		Currency:  ev.Resource.Amount.CurrencyCode,
	}
	if n.OrderRef == "" {
		n.OrderRef = ev.Resource.SupplementaryData.RelatedIDs.OrderID
	}
	amount, err := parseAmount(ev.Resource.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dompay.ErrMalformedWebhook, err)
	}
	n.Amount = amount

	switch ev.EventType {
	case EventCaptureCompleted:
		n.Kind = dompay.NotificationCaptured
	case EventCaptureDenied, EventCaptureDeclined:
		n.Kind = dompay.NotificationDenied
	case EventCaptureRefunded:
		n.Kind = dompay.NotificationRefunded
		n.CaptureID = refundedCaptureID(ev.Resource.Links)
		if n.CaptureID == "" {
			return nil, fmt.Errorf("%w: refund %s has no capture link", dompay.ErrMalformedWebhook, ev.Resource.ID)
		}
	default:
		return nil, nil
	}
	return n, nil
}

// refundedCaptureID reads the capture id from the refund's "up" link.
func refundedCaptureID(links []link) string {
	for _, l := range links {
		if l.Rel != "up" {
			continue
		}
		u, err := url.Parse(l.Href)
		if err != nil {
			return ""
		}
		if id := path.Base(u.Path); id != "." && id != "/" {
			return id
		}
	}
	return ""
}

type verifyRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

type verifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}

// VerifyWebhook asks PayPal to check the transmission signature.
func (c *Client) VerifyWebhook(ctx context.Context, header http.Header, body []byte) error {
	if c.webhookID == "" {
		return fmt.Errorf("%w: webhook id not configured", dompay.ErrInvalidSignature)
	}
	for _, h := range transmissionHeaders {
		if header.Get(h) == "" {
			return fmt.Errorf("%w: missing %s", dompay.ErrInvalidSignature, h)
		}
	}
	if !json.Valid(body) {
		return fmt.Errorf("%w: body is not json", dompay.ErrMalformedWebhook)
	}
	req := verifyRequest{
		AuthAlgo:         header.Get("PAYPAL-AUTH-ALGO"),
		CertURL:          header.Get("PAYPAL-CERT-URL"),
		TransmissionID:   header.Get("PAYPAL-TRANSMISSION-ID"),
		TransmissionSig:  header.Get("PAYPAL-TRANSMISSION-SIG"),
		TransmissionTime: header.Get("PAYPAL-TRANSMISSION-TIME"),
		WebhookID:        c.webhookID,
		WebhookEvent:     json.RawMessage(body),
	}
	var out verifyResponse
	if err := c.do(ctx, http.MethodPost, verifyPath, "", req, &out); err != nil {
		return err
	}
	if out.VerificationStatus != "SUCCESS" {
		return fmt.Errorf("%w: verification status %q", dompay.ErrInvalidSignature, out.VerificationStatus)
	}
	return nil
}
