// Package net is the HTTP client used to talk to anchors: retries with exponential
// backoff on transport failures and 5xx answers, plus a circuit breaker per host so a
// failing anchor does not trip requests to other services.
//
// Requests that create state on the server side must be sent with WithoutRetry: a
// replayed POST to an interactive withdrawal endpoint opens a second anchor session.
//
// Example usage:
//
//	client := net.NewClient(
//	    net.WithTimeout(20*time.Second),
//	    net.WithMaxRetries(5),
//	    net.WithRetryBackoff(2*time.Second),
//	)
//	resp, err := client.Get(ctx, "https://horizon.stellar.org/...", net.WithBearer(token))
package net

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/marwen-abid/offramp-go/errors"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxRetries   = 3
	defaultBackoff      = 1 * time.Second
	defaultFailureLimit = 5
	defaultResetTimeout = 60 * time.Second
)

// Client is an HTTP client with retries, timeouts and per-host circuit breakers.
type Client struct {
	httpClient   *http.Client
	maxRetries   int
	retryBackoff time.Duration
	logger       logrus.FieldLogger

	mu       sync.Mutex
	breakers map[string]*circuitBreaker
}

type ClientOption func(*Client)

// WithTimeout sets the per-attempt timeout (default 30s).
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithMaxRetries sets how many times a failed request is retried (default 3).
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) { c.maxRetries = n }
}

// WithRetryBackoff sets the first backoff delay; it doubles per retry (default 1s).
func WithRetryBackoff(d time.Duration) ClientOption {
	return func(c *Client) { c.retryBackoff = d }
}

// WithHTTPClient replaces the underlying *http.Client, e.g. one that trusts a test server.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger used to report retries.
func WithLogger(logger logrus.FieldLogger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:   &http.Client{Timeout: defaultTimeout},
		maxRetries:   defaultMaxRetries,
		retryBackoff: defaultBackoff,
		logger:       logrus.StandardLogger(),
		breakers:     make(map[string]*circuitBreaker),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Response wraps an HTTP response.
type Response struct {
	*http.Response
}

// ReadBody reads at most limit bytes of the body, trimmed. Anchor error payloads are
// quoted in error messages this way.
func (r *Response) ReadBody(limit int64) string {
	body, _ := io.ReadAll(io.LimitReader(r.Body, limit))
	return strings.TrimSpace(string(body))
}

type requestConfig struct {
	bearer  string
	noRetry bool
	headers http.Header
}

// RequestOption configures a single request.
type RequestOption func(*requestConfig)

// WithBearer sets an Authorization: Bearer header.
func WithBearer(token string) RequestOption {
	return func(rc *requestConfig) { rc.bearer = token }
}

// WithoutRetry sends the request exactly once. Use it for non-idempotent calls.
func WithoutRetry() RequestOption {
	return func(rc *requestConfig) { rc.noRetry = true }
}

// WithHeader sets an extra request header.
func WithHeader(key, value string) RequestOption {
	return func(rc *requestConfig) {
		if rc.headers == nil {
			rc.headers = make(http.Header)
		}
		rc.headers.Set(key, value)
	}
}

func (c *Client) Get(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.send(ctx, http.MethodGet, url, nil, "", opts)
}

// Post sends a JSON body.
func (c *Client) Post(ctx context.Context, url string, body io.Reader, opts ...RequestOption) (*Response, error) {
	return c.send(ctx, http.MethodPost, url, body, "application/json", opts)
}

// PostForm sends url-encoded form data.
func (c *Client) PostForm(ctx context.Context, urlStr string, data url.Values, opts ...RequestOption) (*Response, error) {
	return c.send(ctx, http.MethodPost, urlStr, strings.NewReader(data.Encode()), "application/x-www-form-urlencoded", opts)
}

func (c *Client) send(ctx context.Context, method, target string, body io.Reader, contentType string, opts []RequestOption) (*Response, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = io.ReadAll(body); err != nil {
			return nil, errors.NewCoreError(errors.NETWORK_ERROR, "failed to read request body", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, errors.NewCoreError(errors.NETWORK_ERROR, fmt.Sprintf("failed to create %s request", method), err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	var rc requestConfig
	for _, opt := range opts {
		opt(&rc)
	}
	if rc.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+rc.bearer)
	}
	for k := range rc.headers {
		req.Header.Set(k, rc.headers.Get(k))
	}
	retries := c.maxRetries
	if rc.noRetry {
		retries = 0
	}
	return c.do(req, payload, retries)
}

func (c *Client) do(req *http.Request, payload []byte, retries int) (*Response, error) {
	cb := c.breaker(req.URL.Host)
	if !cb.allow() {
		return nil, errors.NewCoreError(errors.NETWORK_ERROR, "circuit breaker is open", nil).With("host", req.URL.Host)
	}

	ctx := req.Context()
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewCoreError(errors.NETWORK_ERROR, "request cancelled", err)
		}
		if payload != nil {
			req.Body = io.NopCloser(bytes.NewReader(payload))
			req.ContentLength = int64(len(payload))
		}

		resp, err := c.httpClient.Do(req)
		status := 0
		if err == nil {
			if resp.StatusCode < 500 {
				// 4xx answers are the caller's to interpret.
				cb.success()
				return &Response{resp}, nil
			}
			status = resp.StatusCode
			resp.Body.Close()
			err = fmt.Errorf("server error: %s", resp.Status)
		}

		if attempt >= retries {
			cb.failure()
			e := errors.NewCoreError(errors.NETWORK_ERROR, fmt.Sprintf("request failed after %d attempts", attempt+1), err)
			if status != 0 {
				e = e.With("status", status)
			}
			return nil, e
		}
		c.logRetry(req, attempt, err)
		if err := c.wait(ctx, attempt); err != nil {
			return nil, errors.NewCoreError(errors.NETWORK_ERROR, "request cancelled", err)
		}
	}
}

func (c *Client) logRetry(req *http.Request, attempt int, err error) {
	c.logger.WithFields(logrus.Fields{
		"method":  req.Method,
		"host":    req.URL.Host,
		"path":    req.URL.Path,
		"attempt": attempt + 1,
	}).WithError(err).Warn("http request failed, retrying")
}

// wait sleeps retryBackoff * 2^attempt unless ctx ends first.
func (c *Client) wait(ctx context.Context, attempt int) error {
	t := time.NewTimer(c.retryBackoff << uint(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) breaker(host string) *circuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.breakers[host]
	if !ok {
		cb = &circuitBreaker{limit: defaultFailureLimit, reset: defaultResetTimeout}
		c.breakers[host] = cb
	}
	return cb
}

// circuitBreaker opens after limit consecutive failed requests and lets requests through again
// once reset has passed since the last failure.
type circuitBreaker struct {
	mu       sync.Mutex
	failures int
	lastFail time.Time
	limit    int
	reset    time.Duration
}

func (cb *circuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures < cb.limit || time.Since(cb.lastFail) > cb.reset
}

func (cb *circuitBreaker) success() {
	cb.mu.Lock()
	cb.failures = 0
	cb.mu.Unlock()
}

func (cb *circuitBreaker) failure() {
	cb.mu.Lock()
	cb.failures++
	cb.lastFail = time.Now()
	cb.mu.Unlock()
}
