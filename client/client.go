package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/farmd/api"
)

const headerCorrelationID = "X-Correlation-Id"

const (
	// DefaultHTTPTimeout bounds individual HTTP attempts.
	DefaultHTTPTimeout = 30 * time.Second
	// DefaultFailureRetries is how many times connection-level failures are retried.
	DefaultFailureRetries = 2
	// DefaultRetryBackoff paces connection-failure retries.
	DefaultRetryBackoff = 250 * time.Millisecond
)

// APIError carries a structured error response from the server.
type APIError struct {
	Status    int
	ErrorCode string
	Detail    string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("farmd: %s (%d): %s", e.ErrorCode, e.Status, e.Detail)
	}
	return fmt.Sprintf("farmd: %s (%d)", e.ErrorCode, e.Status)
}

// Client talks to a farmd server over REST.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     pslog.Logger
	retries    int
	backoff    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(cli *http.Client) Option {
	return func(c *Client) {
		if cli != nil {
			c.httpClient = cli
		}
	}
}

// WithLogger supplies a custom logger.
func WithLogger(logger pslog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithFailureRetries sets how many connection-level failures are retried per call.
func WithFailureRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.retries = n
		}
	}
}

// WithHTTPTimeout bounds each HTTP attempt.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRetryBackoff sets the delay between connection-failure retries.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.backoff = d
		}
	}
}

// New constructs a client for the given base endpoint, for example
// "http://127.0.0.1:9441".
func New(endpoint string, opts ...Option) (*Client, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("client: endpoint required")
	}
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		logger:     pslog.NoopLogger(),
		retries:    DefaultFailureRetries,
		backoff:    DefaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SubmitFood banks food on the farm.
func (c *Client) SubmitFood(ctx context.Context, amount float64) (api.SubmitResult, error) {
	return c.submit(ctx, "/v1/submit/food", amount)
}

// SubmitWater banks water on the farm.
func (c *Client) SubmitWater(ctx context.Context, amount float64) (api.SubmitResult, error) {
	return c.submit(ctx, "/v1/submit/water", amount)
}

// Status fetches the current farm state.
func (c *Client) Status(ctx context.Context) (api.FarmStatus, error) {
	var status api.FarmStatus
	err := c.do(ctx, http.MethodGet, "/v1/status", nil, &status)
	return status, err
}

func (c *Client) submit(ctx context.Context, path string, amount float64) (api.SubmitResult, error) {
	var result api.SubmitResult
	body := strconv.FormatFloat(amount, 'f', -1, 64)
	err := c.do(ctx, http.MethodPost, path, []byte(body), &result)
	return result, err
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying request",
				"method", method,
				"path", path,
				"attempt", attempt,
				"error", lastErr,
			)
			select {
			case <-time.After(c.backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err := c.doOnce(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) {
			return err
		}
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if corr := CorrelationIDFromContext(ctx); corr != "" {
		req.Header.Set(headerCorrelationID, corr)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp api.ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errResp); decodeErr != nil || errResp.ErrorCode == "" {
			return &APIError{Status: resp.StatusCode, ErrorCode: "unexpected_status"}
		}
		return &APIError{
			Status:    resp.StatusCode,
			ErrorCode: errResp.ErrorCode,
			Detail:    errResp.Detail,
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

// retryable reports whether the error looks like a connection-level failure
// rather than a server verdict.
func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= http.StatusInternalServerError
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
