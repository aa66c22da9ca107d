package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Outcome of one posted frame.
type Outcome string

const (
	OutcomeAccepted     Outcome = "accepted"
	OutcomeUnauthorized Outcome = "unauthorized"
	OutcomeFailed       Outcome = "failed"
)

// HTTPClient posts frames to the ingress endpoint.
type HTTPClient struct {
	client *http.Client
	url    string
}

func newHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{client: &http.Client{Timeout: timeout}, url: baseURL + "/"}
}

// Post sends one frame.
func (c *HTTPClient) Post(ctx context.Context, f Frame) (Outcome, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to marshal frame: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.client.Do(req)
	if err != nil {
		return OutcomeFailed, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return OutcomeAccepted, nil
	case http.StatusUnauthorized:
		return OutcomeUnauthorized, nil
	default:
		return OutcomeFailed, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

// Get performs a GET request relative to the base URL.
func (c *HTTPClient) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url[:len(c.url)-1]+path, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.client.Do(req)
}
