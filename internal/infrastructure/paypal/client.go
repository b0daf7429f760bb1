// Package paypal implements the payment gateway against the PayPal REST API.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	SandboxBaseURL = "https://api-m.sandbox.paypal.com"
	LiveBaseURL    = "https://api-m.paypal.com"

	tokenPath      = "/v1/oauth2/token"
	defaultTimeout = 5 * time.Second
	maxBodyBytes   = 1 << 20
)

type Options struct {
	// Mode is sandbox or live. BaseURL overrides it when set.
	Mode         string
	BaseURL      string
	ClientID     string
	ClientSecret string
	WebhookID    string
	Timeout      time.Duration
	// HTTPClient is the transport used for token and API calls.
	HTTPClient *http.Client
}

// Client talks to one PayPal environment. Token and API calls share the base URL.
type Client struct {
	baseURL   string
	webhookID string
	http      *http.Client
	schema    *webhookSchema
}

var _ dompay.Gateway = (*Client)(nil)

func BaseURLFor(mode string) string {
	if strings.EqualFold(mode, "live") {
		return LiveBaseURL
	}
	return SandboxBaseURL
}

func New(opts Options) (*Client, error) {
	if opts.ClientID == "" || opts.ClientSecret == "" {
		return nil, errors.New("paypal: client id and secret are required")
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = BaseURLFor(opts.Mode)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	baseHTTP := opts.HTTPClient
	if baseHTTP == nil {
		baseHTTP = &http.Client{Timeout: timeout}
	}

	schema, err := newWebhookSchema()
	if err != nil {
		return nil, err
	}

	cc := clientcredentials.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		TokenURL:     base + tokenPath,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	// The token source outlives any single request; it only borrows the transport.
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, baseHTTP)
	authed := cc.Client(tokenCtx)
	authed.Timeout = timeout

	return &Client{
		baseURL:   base,
		webhookID: opts.WebhookID,
		http:      authed,
		schema:    schema,
	}, nil
}

func (c *Client) Provider() dompay.Provider { return dompay.ProviderPayPal }

// APIError is a non-2xx answer from the PayPal API.
type APIError struct {
	StatusCode int           `json:"-"`
	Name       string        `json:"name"`
	Message    string        `json:"message"`
	DebugID    string        `json:"debug_id"`
	Details    []ErrorDetail `json:"details"`
}

type ErrorDetail struct {
	Field       string `json:"field"`
	Issue       string `json:"issue"`
	Description string `json:"description"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("paypal: %d %s", e.StatusCode, e.Name)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.DebugID != "" {
		msg += " (debug_id " + e.DebugID + ")"
	}
	return msg
}

// Unwrap classifies the answer: server side and throttling are retryable.
func (e *APIError) Unwrap() error {
	if e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests {
		return dompay.ErrProviderUnavailable
	}
	return dompay.ErrProviderRejected
}

// HasIssue reports whether any detail carries the given issue code.
func (e *APIError) HasIssue(issue string) bool {
	for _, d := range e.Details {
		if d.Issue == issue {
			return true
		}
	}
	return false
}

func (c *Client) do(ctx context.Context, method, path, requestID string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("paypal: encode %s: %w", path, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("paypal: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil && rerr.Response.StatusCode < 500 {
			return fmt.Errorf("paypal: token: %w: %v", dompay.ErrProviderRejected, err)
		}
		return fmt.Errorf("paypal: %s %s: %w: %v", method, path, dompay.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("paypal: read %s: %w: %v", path, dompay.ErrProviderUnavailable, err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(raw, apiErr)
		if apiErr.Name == "" {
			apiErr.Name = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("paypal: decode %s: %w", path, err)
	}
	return nil
}
