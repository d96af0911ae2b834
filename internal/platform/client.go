// Package platform talks to the trading platform's web API on behalf of a
// single bot account.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"fenixbot/internal/domain"
)

var (
	ErrRateLimited        = errors.New("platform rate limit exceeded")
	ErrInvalidCredentials = errors.New("platform rejected credentials")
	ErrTwoFactorRejected  = errors.New("platform rejected two-factor code")
	ErrUnauthorized       = errors.New("platform session expired")
	ErrOfferNotFound      = errors.New("trade offer not found")
)

type Config struct {
	BaseURL        string
	InspectBaseURL string
	Timeout        time.Duration
	RatePerSec     float64
	AppID          int
	ContextID      string
	HTTPClient     *http.Client
}

// Client is owned by one bot. Calls are serialised and rate limited so a
// bot never issues concurrent requests under the same session cookies.
type Client struct {
	baseURL        string
	inspectBaseURL string
	appID          int
	contextID      string
	httpClient     *http.Client
	limiter        *rate.Limiter

	mu sync.Mutex
}

func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		inspectBaseURL: strings.TrimRight(cfg.InspectBaseURL, "/"),
		appID:          cfg.AppID,
		contextID:      cfg.ContextID,
		httpClient:     httpClient,
		limiter:        rate.NewLimiter(limit, 1),
	}
}

// AssetRef builds a reference to an item in the platform's default app context.
func (c *Client) AssetRef(assetID string) domain.AssetRef {
	return domain.AssetRef{AppID: c.appID, ContextID: c.contextID, AssetID: assetID}
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, req *http.Request, cookies []*http.Cookie) (*http.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	req.Header.Set("Accept", "application/json")
	return c.httpClient.Do(req)
}

func (c *Client) getJSON(ctx context.Context, url string, cookies []*http.Cookie, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return c.roundTrip(ctx, req, cookies, out)
}

func (c *Client) postJSON(ctx context.Context, url string, cookies []*http.Cookie, body, out interface{}) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.roundTrip(ctx, req, cookies, out)
}

func (c *Client) roundTrip(ctx context.Context, req *http.Request, cookies []*http.Cookie, out interface{}) error {
	resp, err := c.do(ctx, req, cookies)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	var body apiError
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &body)
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrOfferNotFound
	}
	msg := body.Message
	if msg == "" {
		msg = body.Error
	}
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	return fmt.Errorf("platform request failed with status %d: %s", resp.StatusCode, msg)
}
