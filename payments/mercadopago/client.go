// Package mercadopago is a minimal Mercado Pago REST client covering the
// three calls the payment flow needs: preference creation, payment lookup
// and merchant-order expansion.
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/m3rciful/charmbot/core/telegram/netutil"
)

const (
	// StatusApproved is the only status that grants an entitlement.
	StatusApproved = "approved"

	defaultTimeout = 10 * time.Second
	maxAttempts    = 3
	retryBackoff   = 500 * time.Millisecond
)

// TerminalFailure reports whether the status means the payment will never
// complete (the pending checkout should be dropped).
func TerminalFailure(status string) bool {
	switch status {
	case "rejected", "cancelled", "refunded", "charged_back":
		return true
	}
	return false
}

// Client talks to the Mercado Pago API with a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a client for the given API base URL and access token.
// A nil httpClient gets a default with a bounded timeout.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{baseURL: baseURL, token: token, http: httpClient}
}

// PreferenceItem is one line item of a checkout preference.
type PreferenceItem struct {
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id,omitempty"`
}

// PreferenceRequest creates a hosted checkout for one purchase attempt.
// ExternalReference carries the session id and is the preferred correlation
// key when the payment notification comes back.
type PreferenceRequest struct {
	Items             []PreferenceItem  `json:"items"`
	ExternalReference string            `json:"external_reference"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	NotificationURL   string            `json:"notification_url,omitempty"`
}

// Preference is the provider-issued checkout object.
type Preference struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point,omitempty"`
}

// Payment is the authoritative payment object fetched by id.
type Payment struct {
	ID                int64             `json:"id"`
	Status            string            `json:"status"`
	TransactionAmount float64           `json:"transaction_amount"`
	ExternalReference string            `json:"external_reference"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	Order             struct {
		ID int64 `json:"id"`
	} `json:"order"`
}

// MerchantOrder groups the payments behind an order-level notification.
type MerchantOrder struct {
	ID                int64  `json:"id"`
	PreferenceID      string `json:"preference_id"`
	ExternalReference string `json:"external_reference"`
	Payments          []struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	} `json:"payments"`
}

// APIError carries a non-2xx provider response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mercadopago: http %d: %s", e.StatusCode, e.Body)
}

// CreatePreference creates a checkout preference. The request is tagged with
// a fresh X-Idempotency-Key so a retried call cannot open two checkouts.
func (c *Client) CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("mercadopago: encode preference: %w", err)
	}

	var pref Preference
	headers := map[string]string{"X-Idempotency-Key": uuid.NewString()}
	if err := c.do(ctx, http.MethodPost, "/checkout/preferences", body, headers, &pref); err != nil {
		return nil, err
	}
	if pref.ID == "" {
		return nil, fmt.Errorf("mercadopago: preference response missing id")
	}
	return &pref, nil
}

// GetPayment fetches the authoritative payment object by id.
func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	var p Payment
	if err := c.do(ctx, http.MethodGet, "/v1/payments/"+id, nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetMerchantOrder fetches an order and its constituent payments.
func (c *Client) GetMerchantOrder(ctx context.Context, id string) (*MerchantOrder, error) {
	var mo MerchantOrder
	if err := c.do(ctx, http.MethodGet, "/merchant_orders/"+id, nil, nil, &mo); err != nil {
		return nil, err
	}
	return &mo, nil
}

// do runs one API call with bounded retry on 429/503.
func (c *Client) do(ctx context.Context, method, path string, body []byte, headers map[string]string, out interface{}) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := retryBackoff * time.Duration(attempt-1)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := c.once(ctx, method, path, body, headers, out)
		if err == nil {
			return nil
		}
		lastErr = err

		apiErr, ok := err.(*APIError)
		if !ok || !netutil.RetryableStatus(apiErr.StatusCode) {
			return err
		}
	}
	return fmt.Errorf("mercadopago: retries exhausted: %w", lastErr)
}

func (c *Client) once(ctx context.Context, method, path string, body []byte, headers map[string]string, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("mercadopago: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mercadopago: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("mercadopago: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: truncate(string(data), 256)}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("mercadopago: decode response: %w", err)
		}
	}
	return nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

// FormatID renders a numeric provider id the way webhook payloads carry it.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
