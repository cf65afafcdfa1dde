package api

import (
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// HeaderSource produces the authentication headers for every request.
type HeaderSource interface {
	Headers() (http.Header, error)
}

// Client defaults.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = time.Second
)

// Client provides access to the realtime REST endpoints.
type Client struct {
	baseURL    string
	headers    HeaderSource
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client. headers may be nil for unauthenticated use.
func NewClient(baseURL string, headers HeaderSource, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		headers: headers,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger:       slog.Default(),
		maxRetries:   DefaultMaxRetries,
		retryBackoff: DefaultRetryBackoff,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration for idempotent reads.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithHTTP2 switches the transport to HTTP/2 over TLS 1.2+.
func WithHTTP2() ClientOption {
	return func(c *Client) {
		c.httpClient.Transport = &http2.Transport{
			TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		}
	}
}
