// Package listingstore writes marketplace listings to the external listing
// service over HTTP.
package listingstore

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

	"fenixbot/internal/domain"
	"fenixbot/internal/store"
)

var errRetryable = errors.New("retryable listing store failure")

type Client struct {
	endpoint   string
	httpClient *http.Client
	maxRetries int
	retryBase  time.Duration
	retryMax   time.Duration
}

func NewClient(endpoint string, timeout time.Duration, maxRetries int, retryBase, retryMax time.Duration) *Client {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if retryBase <= 0 {
		retryBase = 500 * time.Millisecond
	}
	if retryMax < retryBase {
		retryMax = retryBase
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		retryBase:  retryBase,
		retryMax:   retryMax,
	}
}

// CreateListing posts the listing and returns the id assigned by the listing
// service. The request id travels as X-Idempotency-Key so retried writes for
// one request resolve to the same listing.
func (c *Client) CreateListing(ctx context.Context, listing domain.Listing) (string, error) {
	if c.endpoint == "" {
		return "", errors.New("listing store endpoint not configured")
	}
	body, err := json.Marshal(listing)
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		id, err := c.post(ctx, listing.RequestID, body)
		if err == nil {
			return id, nil
		}
		lastErr = err
		if !errors.Is(err, errRetryable) || attempt == c.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.backoff(attempt)):
		}
	}
	return "", lastErr
}

func (c *Client) post(ctx context.Context, requestID string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/listings", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errRetryable, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: status %d: %s", errRetryable, resp.StatusCode, strings.TrimSpace(string(raw)))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		if resp.StatusCode != http.StatusConflict {
			return "", fmt.Errorf("listing store rejected listing with status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		}
	}

	var out struct {
		ListingID string `json:"listing_id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode listing store response: %w", err)
	}
	if out.ListingID == "" {
		return "", errors.New("listing store response missing listing_id")
	}
	return out.ListingID, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.retryBase << attempt
	if d <= 0 || d > c.retryMax {
		return c.retryMax
	}
	return d
}

var _ store.ListingWriter = (*Client)(nil)
