package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

type Credentials struct {
	AccountName   string
	Password      string
	TwoFactorCode string
}

type LoginResult struct {
	SessionID string
	Cookies   []*http.Cookie
}

// Login exchanges credentials and a two-factor code for web session cookies.
func (c *Client) Login(ctx context.Context, creds Credentials) (LoginResult, error) {
	values := url.Values{}
	values.Set("account_name", creds.AccountName)
	values.Set("password", creds.Password)
	values.Set("two_factor_code", creds.TwoFactorCode)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", strings.NewReader(values.Encode()))
	if err != nil {
		return LoginResult{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(ctx, req, nil)
	if err != nil {
		return LoginResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return LoginResult{}, ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		var body apiError
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(raw, &body)
		if body.Error == "invalid_two_factor_code" {
			return LoginResult{}, ErrTwoFactorRejected
		}
		return LoginResult{}, ErrInvalidCredentials
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return LoginResult{}, fmt.Errorf("login failed with status %d", resp.StatusCode)
	}

	var body struct {
		Success   bool   `json:"success"`
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return LoginResult{}, fmt.Errorf("decode login response: %w", err)
	}
	cookies := resp.Cookies()
	if !body.Success || len(cookies) == 0 {
		return LoginResult{}, fmt.Errorf("login response missing session cookies")
	}
	return LoginResult{SessionID: body.SessionID, Cookies: cookies}, nil
}
