// Package dirclient provides the HTTP client shared by the directory source adapters with:
// - JSON decoding of directory documents
// - Retries with exponential backoff
// - Per-source rate limiting
// - Standardized error mapping (404, timeouts, 5xx)
// - Circuit breaking
package dirclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"apidirectory/internal/core"
	"apidirectory/internal/httpclient"
)

// maxBodySize caps a single directory document. list.json of the public directory is ~40MB.
const maxBodySize = 128 << 20

// Config holds configuration for the directory client
type Config struct {
	// SourceName identifies the source for error messages
	SourceName string

	// BaseURL is the directory base URL
	BaseURL string

	// Retry configuration
	MaxRetries     int           // Maximum number of retry attempts (default: 3)
	InitialBackoff time.Duration // Initial backoff duration (default: 500ms)
	MaxBackoff     time.Duration // Maximum backoff duration (default: 10s)

	// RateLimit is the sustained request rate per second; zero disables limiting
	RateLimit float64
	// RateBurst is the limiter burst size (default: 1)
	RateBurst int

	// Circuit breaker configuration
	CircuitBreaker *CircuitBreakerConfig
}

// CircuitBreakerConfig holds circuit breaker settings
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of failures before opening the circuit
	FailureThreshold int
	// SuccessThreshold is the number of successes needed to close an open circuit
	SuccessThreshold int
	// Timeout is how long to wait before attempting to close an open circuit
	Timeout time.Duration
}

// DefaultConfig returns default client configuration
func DefaultConfig(sourceName, baseURL string) Config {
	return Config{
		SourceName:     sourceName,
		BaseURL:        baseURL,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		RateLimit:      10,
		RateBurst:      5,
		CircuitBreaker: &CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
		},
	}
}

// Client fetches directory documents over HTTP
type Client struct {
	httpClient     *http.Client
	config         Config
	limiter        *rate.Limiter
	circuitBreaker *circuitBreaker
}

// New creates a new directory client with a pooled HTTP client
func New(config Config) *Client {
	return NewWithHTTPClient(httpclient.NewDefaultHTTPClient(), config)
}

// NewWithHTTPClient creates a new directory client with a custom HTTP client
func NewWithHTTPClient(httpClient *http.Client, config Config) *Client {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	c := &Client{
		httpClient: httpClient,
		config:     config,
	}

	if config.RateLimit > 0 {
		burst := config.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}

	if config.CircuitBreaker != nil {
		c.circuitBreaker = newCircuitBreaker(
			config.CircuitBreaker.FailureThreshold,
			config.CircuitBreaker.SuccessThreshold,
			config.CircuitBreaker.Timeout,
		)
	}

	return c
}

// BaseURL returns the current base URL
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// URL joins endpoint onto the base URL
func (c *Client) URL(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	return c.config.BaseURL + "/" + strings.TrimLeft(endpoint, "/")
}

// GetJSON fetches endpoint and unmarshals the response into result
func (c *Client) GetJSON(ctx context.Context, endpoint string, result interface{}) error {
	body, err := c.GetRaw(ctx, endpoint)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, result); err != nil {
		return core.NewNetworkError(c.config.SourceName, http.StatusBadGateway, "failed to unmarshal response: "+err.Error(), err)
	}
	return nil
}

// GetRaw fetches endpoint with rate limiting, retries and circuit breaking
func (c *Client) GetRaw(ctx context.Context, endpoint string) ([]byte, error) {
	if c.circuitBreaker != nil && !c.circuitBreaker.Allow() {
		return nil, core.NewNetworkError(c.config.SourceName, http.StatusServiceUnavailable,
			"circuit breaker is open - source temporarily unavailable", nil)
	}

	url := c.URL(endpoint)
	expBackoff := backoff.NewExponentialBackOff()
	if c.config.InitialBackoff > 0 {
		expBackoff.InitialInterval = c.config.InitialBackoff
	}
	if c.config.MaxBackoff > 0 {
		expBackoff.MaxInterval = c.config.MaxBackoff
	}
	maxTries := c.config.MaxRetries + 1
	if maxTries < 1 {
		maxTries = 1
	}

	operation := func() ([]byte, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, backoff.Permanent(core.ClassifyTransportError(c.config.SourceName, err))
			}
		}

		status, body, err := c.doRequest(ctx, url)
		if err != nil {
			c.recordFailure()
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}

		switch {
		case status == http.StatusOK:
			c.recordSuccess()
			return body, nil
		case isRetryable(status):
			c.recordFailure()
			return nil, core.ParseSourceError(c.config.SourceName, status, body, nil)
		default:
			if status >= 500 {
				c.recordFailure()
			}
			return nil, backoff.Permanent(core.ParseSourceError(c.config.SourceName, status, body, nil))
		}
	}

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(uint(maxTries)),
		backoff.WithNotify(func(err error, d time.Duration) {
			slog.Debug("retrying directory request", "source", c.config.SourceName, "url", url, "delay", d, "error", err)
		}),
	)
	if err != nil {
		var dirErr *core.DirectoryError
		if errors.As(err, &dirErr) {
			return nil, dirErr
		}
		return nil, core.ClassifyTransportError(c.config.SourceName, err)
	}
	return body, nil
}

// doRequest executes a single GET without retries
func (c *Client) doRequest(ctx context.Context, url string) (int, []byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, backoff.Permanent(core.NewValidationError(fmt.Sprintf("invalid request URL %q: %v", url, err)))
	}
	httpReq.Header.Set("Accept", "application/json, application/yaml;q=0.9, */*;q=0.5")
	if id := core.RequestID(ctx); id != "" {
		httpReq.Header.Set(core.RequestIDHeader, id)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, core.ClassifyTransportError(c.config.SourceName, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return 0, nil, core.NewNetworkError(c.config.SourceName, http.StatusBadGateway, "failed to read response: "+err.Error(), err)
	}
	return resp.StatusCode, body, nil
}

func (c *Client) recordFailure() {
	if c.circuitBreaker != nil {
		c.circuitBreaker.RecordFailure()
	}
}

func (c *Client) recordSuccess() {
	if c.circuitBreaker != nil {
		c.circuitBreaker.RecordSuccess()
	}
}

// isRetryable returns true if the status code indicates a retryable error
func isRetryable(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusBadGateway ||
		statusCode == http.StatusGatewayTimeout
}

// circuitBreaker implements a simple circuit breaker pattern
type circuitBreaker struct {
	mu               sync.RWMutex
	state            circuitState
	failures         int
	successes        int
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	lastFailure      time.Time
}

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

func newCircuitBreaker(failureThreshold, successThreshold int, timeout time.Duration) *circuitBreaker {
	return &circuitBreaker{
		state:            circuitClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
	}
}

// Allow checks if a request should be allowed through the circuit breaker
func (cb *circuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitOpen:
		if time.Since(cb.lastFailure) > cb.timeout {
			cb.state = circuitHalfOpen
			cb.successes = 0
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess records a successful request
func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.state = circuitClosed
			cb.failures = 0
		}
	case circuitClosed:
		cb.failures = 0
	}
}

// RecordFailure records a failed request
func (cb *circuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()

	switch cb.state {
	case circuitClosed:
		if cb.failures >= cb.failureThreshold {
			cb.state = circuitOpen
		}
	case circuitHalfOpen:
		cb.state = circuitOpen
		cb.successes = 0
	}
}

// State returns the current circuit state (for testing/monitoring)
func (cb *circuitBreaker) State() string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	switch cb.state {
	case circuitClosed:
		return "closed"
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half-open"
	}
	return "unknown"
}
