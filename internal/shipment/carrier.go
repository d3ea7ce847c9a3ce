package shipment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPCarrier queries a carrier tracking gateway over HTTP.
type HTTPCarrier struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPCarrier constructs a carrier client.
func NewHTTPCarrier(baseURL string, timeout time.Duration) *HTTPCarrier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPCarrier{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Track fetches the current status of one consignment.
func (c *HTTPCarrier) Track(ctx context.Context, carrier, trackingNumber string) (Tracking, error) {
	endpoint := fmt.Sprintf("%s/v1/track/%s/%s", c.baseURL, url.PathEscape(carrier), url.PathEscape(trackingNumber))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Tracking{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Tracking{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Tracking{}, fmt.Errorf("carrier returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out Tracking
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Tracking{}, fmt.Errorf("decode carrier response: %w", err)
	}
	return out, nil
}
