// Package httpclient builds the pooled *http.Client used to reach directory hosts.
package httpclient

import (
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"apidirectory/internal/version"
)

// ClientConfig tunes the transport and timeouts of a client
type ClientConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	// Timeout bounds a whole request including reading the body
	Timeout               time.Duration
	DialTimeout           time.Duration
	KeepAlive             time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration

	// UserAgent is sent on every request (default "apidirectory/<version>").
	// Some static hosts reject requests without one.
	UserAgent string
}

// getEnvDuration reads key as integer seconds or a Go duration string, falling back to def
func getEnvDuration(key string, def time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	return def
}

// DefaultConfig returns settings for fetching static directory documents.
// HTTP_TIMEOUT (default 30s) and HTTP_RESPONSE_HEADER_TIMEOUT (default 15s) override the timeouts.
func DefaultConfig() ClientConfig {
	return ClientConfig{
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		Timeout:               getEnvDuration("HTTP_TIMEOUT", 30*time.Second),
		DialTimeout:           10 * time.Second,
		KeepAlive:             30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: getEnvDuration("HTTP_RESPONSE_HEADER_TIMEOUT", 15*time.Second),
		UserAgent:             "apidirectory/" + version.Version,
	}
}

// WithTimeout returns DefaultConfig with an explicit overall timeout, capping the
// response header timeout to it. Zero keeps the default.
func WithTimeout(timeout time.Duration) ClientConfig {
	cfg := DefaultConfig()
	if timeout > 0 {
		cfg.Timeout = timeout
		cfg.ResponseHeaderTimeout = min(cfg.ResponseHeaderTimeout, timeout)
	}
	return cfg
}

// NewHTTPClient creates a client from config; nil uses DefaultConfig.
func NewHTTPClient(config *ClientConfig) *http.Client {
	if config == nil {
		cfg := DefaultConfig()
		config = &cfg
	}

	var transport http.RoundTripper = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAlive,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: time.Second,
	}
	if config.UserAgent != "" {
		transport = &userAgent{next: transport, value: config.UserAgent}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   config.Timeout,
	}
}

// NewDefaultHTTPClient is NewHTTPClient(nil)
func NewDefaultHTTPClient() *http.Client {
	return NewHTTPClient(nil)
}

// userAgent sets the User-Agent header unless the request already has one
type userAgent struct {
	next  http.RoundTripper
	value string
}

func (u *userAgent) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return u.next.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", u.value)
	return u.next.RoundTrip(req)
}
