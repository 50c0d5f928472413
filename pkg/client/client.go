// Package client provides the HTTP transport for the monday.com GraphQL API.
//
// The client is the retry boundary of the system: the pagination layer above
// it never retries, it only distinguishes "page fetch failed" from "no more
// pages". Errors are classified into client / server / network transport
// classes so callers can branch without inspecting status codes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeanboutros/monday-grabber/pkg/errors"
)

// DefaultEndpoint is the monday.com v2 GraphQL endpoint.
const DefaultEndpoint = "https://api.monday.com/v2"

const defaultMaxAttempts = 3

// Options configures the HTTP client.
type Options struct {
	// Endpoint overrides DefaultEndpoint, mainly for tests.
	Endpoint string
	// Token is the API bearer token. Required.
	Token string
	// APIVersion pins the API-Version request header when set.
	APIVersion string
	// MaxAttempts bounds retries on transient failures; 0 means 3.
	MaxAttempts int
	// Timeout is the per-request timeout; 0 means 2 minutes.
	Timeout time.Duration
	// HTTPClient substitutes the underlying client, mainly for tests.
	HTTPClient *http.Client
}

// Client is the HTTP transport for GraphQL requests.
type Client struct {
	endpoint    string
	token       string
	apiVersion  string
	maxAttempts int
	baseDelay   time.Duration
	httpClient  *http.Client
	logger      zerolog.Logger
}

// New creates a client. The token must be non-empty.
func New(opts Options, logger zerolog.Logger) (*Client, error) {
	if opts.Token == "" {
		return nil, errors.New(errors.CodeConfigInvalid, "API token is required")
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 2 * time.Minute
		}
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &Client{
		endpoint:    endpoint,
		token:       opts.Token,
		apiVersion:  opts.APIVersion,
		maxAttempts: attempts,
		baseDelay:   2 * time.Second,
		httpClient:  httpClient,
		logger:      logger.With().Str("component", "client").Logger(),
	}, nil
}

// Post executes a GraphQL request and returns the raw decoded payload.
// Transient failures (429/5xx and retryable application codes) are retried
// up to MaxAttempts with backoff, honoring Retry-After.
func (c *Client) Post(ctx context.Context, document string, variables map[string]interface{}) (map[string]interface{}, error) {
	resp, err := c.post(ctx, document, variables)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) post(ctx context.Context, document string, variables map[string]interface{}) (*APIResponse, error) {
	body := map[string]interface{}{"query": document}
	if len(variables) > 0 {
		body["variables"] = variables
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "encode request body")
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err := c.doRequest(ctx, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !c.shouldRetry(err) || attempt == c.maxAttempts {
			return nil, err
		}
		delay := c.retryDelay(err, attempt)
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("transient API failure, retrying")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.CodeCanceled, "request canceled during retry wait")
		}
	}
	return nil, lastErr
}

func (c *Client) doRequest(ctx context.Context, payload []byte) (*APIResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	if c.apiVersion != "" {
		req.Header.Set("API-Version", c.apiVersion)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), errors.CodeCanceled, "request canceled")
		}
		return nil, errors.Wrap(err, errors.CodeTransportNetwork, "POST failed")
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeTransportNetwork, "read response body")
	}
	c.logger.Debug().
		Int("status", httpResp.StatusCode).
		Int("bytes", len(raw)).
		Dur("elapsed", time.Since(start)).
		Msg("API response")

	resp := &APIResponse{RetryAfter: parseRetryAfter(httpResp.Header)}
	if err := json.Unmarshal(raw, resp); err != nil {
		if httpResp.StatusCode != http.StatusOK {
			return nil, classifyStatus(httpResp.StatusCode, resp.RetryAfter,
				fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode, truncate(raw, 200)))
		}
		return nil, errors.Wrap(err, errors.CodeTransportServer, "invalid JSON in response")
	}

	if httpResp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("HTTP %d", httpResp.StatusCode)
		if len(resp.Errors) > 0 {
			msg = fmt.Sprintf("%s: %s", msg, resp.Errors[0].Message)
		}
		return nil, classifyStatus(httpResp.StatusCode, resp.RetryAfter, msg)
	}
	if resp.HasErrors() {
		return nil, classifyApplication(resp)
	}
	return resp, nil
}

// shouldRetry limits retries to server-class and transient failures.
// Client errors are never retried; the request itself is wrong.
func (c *Client) shouldRetry(err error) bool {
	switch errors.Code(err) {
	case errors.CodeTransportServer, errors.CodeTransportNetwork:
		return true
	case errors.CodeTransportClient:
		var hint *retryHintError
		if stderrors.As(err, &hint) {
			return hint.retryable
		}
		return false
	}
	return false
}

// retryHintError decorates a transport error with retry metadata from the
// response (Retry-After seconds, retryable application code).
type retryHintError struct {
	*errors.GrabError
	retryAfter int
	retryable  bool
}

func (e *retryHintError) Unwrap() error { return e.GrabError }

func (c *Client) retryDelay(err error, attempt int) time.Duration {
	var hint *retryHintError
	if stderrors.As(err, &hint) && hint.retryAfter > 0 {
		return time.Duration(hint.retryAfter) * time.Second
	}
	return time.Duration(attempt) * c.baseDelay
}

func classifyStatus(status, retryAfter int, msg string) error {
	var code string
	switch {
	case status >= 500:
		code = errors.CodeTransportServer
	case status >= 400:
		code = errors.CodeTransportClient
	default:
		code = errors.CodeTransportNetwork
	}
	ge := errors.New(code, msg)
	// 429 is a client-class status but transient.
	if status == http.StatusTooManyRequests {
		return &retryHintError{GrabError: ge, retryAfter: retryAfter, retryable: true}
	}
	if retryAfter > 0 {
		return &retryHintError{GrabError: ge, retryAfter: retryAfter, retryable: status >= 500}
	}
	return ge
}

func classifyApplication(resp *APIResponse) error {
	first := resp.Errors[0]
	msg := first.Message
	if first.Extensions.Code != "" {
		msg = fmt.Sprintf("%s (%s)", msg, first.Extensions.Code)
	}
	if id := resp.RequestID(); id != "" {
		msg = fmt.Sprintf("%s [request_id=%s]", msg, id)
	}
	code := errors.CodeTransportClient
	if first.Extensions.Code == "InternalServerError" {
		code = errors.CodeTransportServer
	}
	ge := errors.New(code, msg)
	if resp.Retryable() {
		return &retryHintError{GrabError: ge, retryAfter: resp.RetryAfter, retryable: true}
	}
	return ge
}

func parseRetryAfter(h http.Header) int {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return secs
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
