package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client sends signed webhook POSTs.
type Client struct {
	httpClient *http.Client
	secret     string
	userAgent  string
}

// NewClient creates a Client that signs every payload with secret and
// identifies itself as userAgent (e.g. "partnerstestapi/1.0").
func NewClient(secret, userAgent string) *Client {
	return &Client{httpClient: &http.Client{}, secret: secret, userAgent: userAgent}
}

// DeliveryResult is the outcome of a single POST attempt.
type DeliveryResult struct {
	Success         bool
	HTTPStatus      int
	ResponseExcerpt string
	Err             error
}

// Deliver signs payload, POSTs it to targetURL with a per-attempt timeout
// (10s on the initial attempt, 15s on retries), and reports the outcome.
func (c *Client) Deliver(ctx context.Context, targetURL string, payload Payload, attempt int, correlationID string) DeliveryResult {
	canonical, err := payload.CanonicalJSON()
	if err != nil {
		return DeliveryResult{Err: fmt.Errorf("encoding canonical payload: %w", err)}
	}
	payload.Signature = Sign(c.secret, canonical)

	body, err := json.Marshal(payload)
	if err != nil {
		return DeliveryResult{Err: fmt.Errorf("encoding signed payload: %w", err)}
	}

	timeout := 10 * time.Second
	if attempt > 0 {
		timeout = 15 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return DeliveryResult{Err: fmt.Errorf("building webhook request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", payload.Signature)
	req.Header.Set("X-Correlation-ID", correlationID)
	req.Header.Set("X-Retry-Attempt", fmt.Sprintf("%d", attempt))
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return DeliveryResult{Err: fmt.Errorf("delivering webhook: %w", err)}
	}
	defer resp.Body.Close()

	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 500))

	return DeliveryResult{
		Success:         resp.StatusCode >= 200 && resp.StatusCode < 300,
		HTTPStatus:      resp.StatusCode,
		ResponseExcerpt: string(excerpt),
	}
}
