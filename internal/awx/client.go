package awx

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	defaultTimeout = 30 * time.Second

	// Retry policy for connection-level failures: 3 attempts total with
	// exponential backoff between them.
	maxAttempts      = 3
	retryInitialWait = 2 * time.Second
	retryMaxWait     = 10 * time.Second
)

// ClientConfig configures a controller client. Exactly one of Token or
// Username/Password must be set.
type ClientConfig struct {
	BaseURL   string
	Username  string
	Password  string
	Token     string
	VerifySSL bool
	Timeout   time.Duration

	// Retry wait bounds, overridable for tests. Zero means the defaults.
	RetryInitialWait time.Duration
	RetryMaxWait     time.Duration
}

// Client talks to one AWX/AAP controller under one credential. It holds no
// mutable state beyond the HTTP connection pool and is safe for concurrent
// use; independent controllers get independent clients.
type Client struct {
	baseURL    string
	httpClient *http.Client
	username   string
	password   string
	basicAuth  bool
	retryWait  time.Duration
	retryCap   time.Duration
	logger     zerolog.Logger
}

// NewClient builds a controller client bound to the config's base URL,
// TLS-verification setting and credential for its whole lifetime.
func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("awx base url is required")
	}
	if cfg.Token == "" && cfg.Password == "" {
		return nil, fmt.Errorf("awx credential is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: !cfg.VerifySSL}

	httpClient := &http.Client{Timeout: timeout, Transport: transport}

	c := &Client{
		baseURL:   base,
		username:  cfg.Username,
		password:  cfg.Password,
		retryWait: cfg.RetryInitialWait,
		retryCap:  cfg.RetryMaxWait,
		logger:    log.With().Str("component", "awx-client").Logger(),
	}
	if c.retryWait <= 0 {
		c.retryWait = retryInitialWait
	}
	if c.retryCap <= 0 {
		c.retryCap = retryMaxWait
	}

	if cfg.Token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
		c.httpClient = oauth2.NewClient(ctx, src)
		c.httpClient.Timeout = timeout
	} else {
		c.basicAuth = true
		c.httpClient = httpClient
	}

	return c, nil
}

// Ping checks that the controller is reachable and the credential works.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.request(ctx, http.MethodGet, "/api/v2/ping/", nil, nil)
	return err
}

// Me returns the authenticated user record.
func (c *Client) Me(ctx context.Context) (map[string]interface{}, error) {
	return c.requestMap(ctx, http.MethodGet, "/api/v2/me/", nil, nil)
}

// SystemConfig returns the controller's configuration document.
func (c *Client) SystemConfig(ctx context.Context) (map[string]interface{}, error) {
	return c.requestMap(ctx, http.MethodGet, "/api/v2/config/", nil, nil)
}

// Dashboard returns the controller's dashboard summary.
func (c *Client) Dashboard(ctx context.Context) (map[string]interface{}, error) {
	return c.requestMap(ctx, http.MethodGet, "/api/v2/dashboard/", nil, nil)
}

// Settings returns the controller's settings index.
func (c *Client) Settings(ctx context.Context) (map[string]interface{}, error) {
	return c.requestMap(ctx, http.MethodGet, "/api/v2/settings/", nil, nil)
}

// request performs one authenticated API call and decodes the response as
// JSON. Connection-level failures are retried with exponential backoff;
// application responses (any status) are returned on the first attempt.
func (c *Client) request(ctx context.Context, method, endpoint string, params url.Values, body interface{}) (json.RawMessage, error) {
	var result json.RawMessage

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryWait
	bo.Multiplier = 2
	bo.MaxInterval = c.retryCap
	bo.RandomizationFactor = 0

	attempt := 0
	operation := func() error {
		attempt++
		raw, err := c.do(ctx, method, endpoint, params, body)
		if err != nil {
			var connErr *ConnectionError
			if errors.As(err, &connErr) {
				c.logger.Warn().
					Str("endpoint", endpoint).
					Int("attempt", attempt).
					Err(err).
					Msg("Connection error, will retry")
				return err
			}
			// Deterministic application errors are not transient.
			return backoff.Permanent(err)
		}
		result = raw
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, maxAttempts-1), ctx))
	if err != nil {
		return nil, err
	}
	return result, nil
}

// do performs a single call with no retry. The response body is read exactly
// once; error details are extracted from a JSON "detail" field when the body
// parses, and fall back to the raw text when it does not.
func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, body interface{}) (json.RawMessage, error) {
	status, _, text, err := c.doRaw(ctx, method, endpoint, params, body)
	if err != nil {
		return nil, err
	}

	if apiErr := c.checkStatus(status, endpoint, text); apiErr != nil {
		return nil, apiErr
	}

	if strings.TrimSpace(text) == "" {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(text), nil
}

// doRaw issues the HTTP call and returns status, content type and the body
// as text. Network failures come back as ConnectionError.
func (c *Client) doRaw(ctx context.Context, method, endpoint string, params url.Values, body interface{}) (int, string, string, error) {
	u := c.baseURL + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, "", "", fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return 0, "", "", fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.basicAuth {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", "", &ConnectionError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", "", &ConnectionError{Endpoint: endpoint, Err: err}
	}

	return resp.StatusCode, resp.Header.Get("Content-Type"), string(raw), nil
}

// checkStatus maps an HTTP status onto the error taxonomy. nil for 2xx.
func (c *Client) checkStatus(status int, endpoint, body string) error {
	switch {
	case status == http.StatusUnauthorized:
		return &AuthError{Detail: "authentication failed"}
	case status == http.StatusForbidden:
		return &AuthError{Detail: "permission denied"}
	case status == http.StatusNotFound:
		detail := extractDetail(body)
		c.logger.Error().Str("endpoint", endpoint).Str("detail", detail).Msg("AWX API 404")
		return &NotFoundError{Endpoint: endpoint, Detail: detail}
	case status >= 400:
		detail := extractDetail(body)
		c.logger.Error().Str("endpoint", endpoint).Int("status", status).Str("detail", detail).Msg("AWX API error")
		return &APIError{StatusCode: status, Endpoint: endpoint, Detail: detail}
	}
	return nil
}

func (c *Client) requestMap(ctx context.Context, method, endpoint string, params url.Values, body interface{}) (map[string]interface{}, error) {
	raw, err := c.request(ctx, method, endpoint, params, body)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode response from %s: %w", endpoint, err)
	}
	return m, nil
}

// results unwraps the paginated list envelope and returns only the results
// array. Count and next/previous links are discarded; pagination is always
// caller-driven.
func (c *Client) results(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	raw, err := c.request(ctx, http.MethodGet, endpoint, params, nil)
	if err != nil {
		return nil, err
	}
	var envelope struct {
		Results json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode list envelope from %s: %w", endpoint, err)
	}
	if envelope.Results == nil {
		return json.RawMessage("[]"), nil
	}
	return envelope.Results, nil
}

// extractDetail pulls the conventional {"detail": "..."} message out of an
// error body, keeping the raw text when the body is not that shape.
func extractDetail(body string) string {
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err == nil && payload.Detail != "" {
		return payload.Detail
	}
	return strings.TrimSpace(body)
}
