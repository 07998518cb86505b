// Package broker provides the Tastytrade API client used to place vertical
// spread orders. It covers session authentication, OCC option symbol
// resolution, and the two-leg order lifecycle.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	productionBaseURL = "https://api.tastyworks.com"
	sandboxBaseURL    = "https://api.cert.tastyworks.com"

	userAgent = "spreadbot/1.0 (+tastytrade)"

	defaultTimeout = 10 * time.Second
)

// SessionConfig carries everything needed to open a brokerage session.
type SessionConfig struct {
	// BaseURL overrides the sandbox/production default when non-empty.
	BaseURL   string
	Sandbox   bool
	Username  string
	Password  string
	AccountID string
	// Timeout applies to every HTTP round-trip. Zero means defaultTimeout.
	Timeout time.Duration
	// HTTPClient overrides the default client (tests, custom transport).
	HTTPClient *http.Client
}

// Session is an authenticated brokerage session. The token is obtained once
// during NewSession and never refreshed; sessions are valid for roughly 24
// hours and there is no explicit logout. A Session is safe for concurrent use
// once constructed: all fields are written exactly once.
type Session struct {
	client    *http.Client
	baseURL   string
	accountID string
	token     string
}

// NewSession authenticates against the session endpoint and returns a usable
// session. Any non-201 response surfaces as *AuthError.
func NewSession(ctx context.Context, cfg SessionConfig) (*Session, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.Sandbox {
			baseURL = sandboxBaseURL
		} else {
			baseURL = productionBaseURL
		}
	}
	baseURL = strings.TrimRight(baseURL, "/")

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	s := &Session{
		client:    client,
		baseURL:   baseURL,
		accountID: cfg.AccountID,
	}

	token, err := s.connect(ctx, cfg.Username, cfg.Password)
	if err != nil {
		return nil, err
	}
	s.token = token
	return s, nil
}

// AccountID returns the account the session operates on.
func (s *Session) AccountID() string { return s.accountID }

// connect trades credentials for a session token.
func (s *Session) connect(ctx context.Context, username, password string) (string, error) {
	creds := map[string]string{
		"login":    username,
		"password": password,
	}
	body, err := json.Marshal(creds)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/sessions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusCreated {
		return "", &AuthError{Status: resp.StatusCode, Body: errorBody(resp)}
	}

	var parsed struct {
		Data struct {
			SessionToken string `json:"session-token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil && err != io.EOF {
		return "", fmt.Errorf("decoding session response: %w", err)
	}
	if parsed.Data.SessionToken == "" {
		return "", fmt.Errorf("%w: data.session-token missing", ErrMalformedResponse)
	}
	return parsed.Data.SessionToken, nil
}

// request issues an authenticated call and decodes the JSON response into out
// (which may be nil). Expected-success codes are 201 for POST and 200 for
// GET/DELETE; anything else yields *APIError. There is no automatic retry —
// callers decide.
func (s *Session) request(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp)

	expected := http.StatusOK
	if method == http.MethodPost {
		expected = http.StatusCreated
	}
	if resp.StatusCode != expected {
		return &APIError{Status: resp.StatusCode, Body: errorBody(resp)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// GetBalance reads the account's cash balance. The API quotes decimals as
// strings, so the field is parsed leniently; a missing or non-numeric value
// yields ErrMalformedResponse.
func (s *Session) GetBalance(ctx context.Context) (float64, error) {
	var resp struct {
		Data struct {
			CashBalance json.RawMessage `json:"cash-balance"`
		} `json:"data"`
	}
	if err := s.request(ctx, http.MethodGet, "/accounts/"+s.accountID+"/balances", nil, &resp); err != nil {
		return 0, err
	}

	raw := bytes.TrimSpace(resp.Data.CashBalance)
	if len(raw) == 0 {
		return 0, fmt.Errorf("%w: data.cash-balance missing", ErrMalformedResponse)
	}
	raw = bytes.Trim(raw, `"`)
	balance, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: data.cash-balance %s is not numeric", ErrMalformedResponse, resp.Data.CashBalance)
	}
	return balance, nil
}

// SubmitOrder posts an order payload and returns the broker-assigned order id.
func (s *Session) SubmitOrder(ctx context.Context, payload OrderPayload) (int, error) {
	var resp struct {
		Data struct {
			Order struct {
				ID int `json:"id"`
			} `json:"order"`
		} `json:"data"`
	}
	if err := s.request(ctx, http.MethodPost, "/accounts/"+s.accountID+"/orders", payload, &resp); err != nil {
		return 0, err
	}
	if resp.Data.Order.ID <= 0 {
		return 0, fmt.Errorf("%w: data.order.id missing", ErrMalformedResponse)
	}
	return resp.Data.Order.ID, nil
}

// CancelOrder cancels a previously submitted order by id.
func (s *Session) CancelOrder(ctx context.Context, orderID int) error {
	return s.request(ctx, http.MethodDelete, fmt.Sprintf("/accounts/%s/orders/%d", s.accountID, orderID), nil, nil)
}

// LiveOrder is one entry of the account's live order list.
type LiveOrder struct {
	ID               int    `json:"id"`
	Status           string `json:"status"`
	UnderlyingSymbol string `json:"underlying-symbol"`
	OrderType        string `json:"order-type"`
	PriceEffect      string `json:"price-effect"`
}

// LiveOrders lists the account's currently live orders.
func (s *Session) LiveOrders(ctx context.Context) ([]LiveOrder, error) {
	var resp struct {
		Data struct {
			Items []LiveOrder `json:"items"`
		} `json:"data"`
	}
	if err := s.request(ctx, http.MethodGet, "/accounts/"+s.accountID+"/orders/live", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data.Items, nil
}

// errorBody extracts an error response body: verbatim when the content type
// declares JSON, the noResponseBody sentinel otherwise. Reads are capped to
// avoid huge payloads.
func errorBody(resp *http.Response) string {
	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(ct, "application/json") {
		return noResponseBody
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return noResponseBody
	}
	return string(body)
}

func closeBody(resp *http.Response) {
	_ = resp.Body.Close()
}
