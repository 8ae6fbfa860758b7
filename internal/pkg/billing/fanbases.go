package billing

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

	"github.com/growthdeskhq/GrowthDesk/internal/pkg/env"
)

const defaultFanbasesAPIBaseURL = "https://api.fanbases.io/v1"

// rebillingNotAllowedMarker is the documented failure string Fanbases returns
// when a stored payment method cannot be charged server-side. It is pattern
// matched until the processor exposes a structured error code.
const rebillingNotAllowedMarker = "Manual rebilling is not allowed"

// ErrRebillingNotAllowed is the known, expected rejection class of the
// one-click charge endpoint, distinguished from hard processor failures.
var ErrRebillingNotAllowed = errors.New("fanbases: manual rebilling not allowed for payment method")

type FanbasesClient struct {
	APIKey        string
	APIBaseURL    string
	WebhookSecret string
	WebhookURL    string

	HTTPClient *http.Client
}

func NewFanbasesClientFromEnv() *FanbasesClient {
	base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/")
	webhookURL := strings.TrimSpace(env.GetEnv("FANBASES_WEBHOOK_URL", ""))
	if webhookURL == "" && base != "" {
		webhookURL = base + "/webhooks/fanbases"
	}

	return &FanbasesClient{
		APIKey:        strings.TrimSpace(env.GetEnv("FANBASES_API_KEY", "")),
		APIBaseURL:    strings.TrimRight(env.GetEnv("FANBASES_API_BASE_URL", defaultFanbasesAPIBaseURL), "/"),
		WebhookSecret: env.GetEnv("FANBASES_WEBHOOK_SECRET", ""),
		WebhookURL:    webhookURL,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// CheckoutSessionRequest is the outbound payload for creating a hosted
// checkout session. Metadata is opaque to Fanbases and echoed back on
// completion; it is the primary reconciliation key.
type CheckoutSessionRequest struct {
	ProductID  string            `json:"product_id"`
	Metadata   map[string]string `json:"metadata"`
	SuccessURL string            `json:"success_url"`
	CancelURL  string            `json:"cancel_url"`
	WebhookURL string            `json:"webhook_url,omitempty"`
	// Recurrence is set for subscription products; this system bills on a
	// fixed 30-day cycle.
	Recurrence *RecurrenceDescriptor `json:"recurrence,omitempty"`
}

type RecurrenceDescriptor struct {
	IntervalDays int `json:"interval_days"`
}

type CheckoutSessionResponse struct {
	CheckoutSessionID string `json:"checkout_session_id"`
	PaymentLink       string `json:"payment_link"`
}

// ChargeRequest attempts a direct charge against a stored payment method.
type ChargeRequest struct {
	ProductID   string            `json:"product_id"`
	AmountCents int               `json:"amount_cents,omitempty"`
	Metadata    map[string]string `json:"metadata"`
}

type ChargeResponse struct {
	ChargeID string `json:"charge_id"`
	Status   string `json:"status"`
}

// CreateCheckoutSession opens a hosted checkout session with Fanbases.
func (c *FanbasesClient) CreateCheckoutSession(ctx context.Context, req *CheckoutSessionRequest) (*CheckoutSessionResponse, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, errors.New("FANBASES_API_KEY is not configured")
	}

	var out CheckoutSessionResponse
	if err := c.post(ctx, "/checkout-sessions", req, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.CheckoutSessionID) == "" || strings.TrimSpace(out.PaymentLink) == "" {
		return nil, errors.New("fanbases checkout response missing session id or payment link")
	}
	return &out, nil
}

// ChargeCustomer charges a stored payment method directly. Returns
// ErrRebillingNotAllowed when Fanbases rejects server-side rebilling for the
// payment method, which callers treat as "open a checkout session instead".
func (c *FanbasesClient) ChargeCustomer(ctx context.Context, customerID string, req *ChargeRequest) (*ChargeResponse, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, errors.New("FANBASES_API_KEY is not configured")
	}
	if strings.TrimSpace(customerID) == "" {
		return nil, errors.New("customer id is required")
	}

	var out ChargeResponse
	err := c.post(ctx, "/customers/"+customerID+"/charges", req, &out)
	if err != nil {
		var procErr *ProcessorError
		if errors.As(err, &procErr) && strings.Contains(procErr.Body, rebillingNotAllowedMarker) {
			return nil, ErrRebillingNotAllowed
		}
		return nil, err
	}
	if strings.TrimSpace(out.ChargeID) == "" {
		return nil, errors.New("fanbases charge response missing charge id")
	}
	return &out, nil
}

func (c *FanbasesClient) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ProcessorError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("fanbases response decode failed: %w", err)
	}
	return nil
}
