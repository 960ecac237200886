package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Common errors.
var (
	ErrNotFound     = errors.New("http: resource not found")
	ErrForbidden    = errors.New("http: access forbidden")
	ErrUnauthorized = errors.New("http: unauthorized")
	ErrServerError  = errors.New("http: server error")
)

// StatusError is returned for non-success status codes that have no
// dedicated sentinel. It unwraps to ErrServerError for 5xx codes.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http: unexpected status %s", e.Status)
}

func (e *StatusError) Unwrap() error {
	if e.Code >= 500 {
		return ErrServerError
	}
	return nil
}

// Options configures the HTTP client.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 32
	MaxIdleConnsPerHost int

	// Timeout bounds connection setup (TCP dial and TLS handshake) and the
	// wait for response headers. It does not bound reading the body, which
	// may be arbitrarily large. Zero means no timeout.
	// Default: 30s
	Timeout time.Duration

	// UserAgent is sent with every request when non-empty.
	UserAgent string

	// Transport overrides the default transport (used by tests to
	// instrument requests).
	Transport http.RoundTripper
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 32,
		Timeout:             30 * time.Second,
		UserAgent:           "cdnmirror",
	}
}

// Response is a streaming response. Callers must close Body.
type Response struct {
	Body            io.ReadCloser
	ContentLength   int64
	ContentEncoding string
}

// Client is an HTTP client for streaming CDN downloads.
type Client struct {
	client *http.Client
	opts   Options
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	transport := opts.Transport
	if transport == nil {
		dialer := &net.Dialer{
			Timeout:   opts.Timeout,
			KeepAlive: 30 * time.Second,
		}
		transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
			MaxIdleConns:          opts.MaxIdleConnsPerHost * 2,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: opts.Timeout,
			TLSHandshakeTimeout:   opts.Timeout,
			// Files are written byte for byte as served.
			DisableCompression: true,
		}
	}

	return &Client{
		client: &http.Client{Transport: transport},
		opts:   opts,
	}
}

// Get performs a streaming GET request. The body is not read; a non-success
// status closes it and returns an error.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}

	if err := checkStatus(resp); err != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, err
	}

	return &Response{
		Body:            resp.Body,
		ContentLength:   resp.ContentLength,
		ContentEncoding: strings.ToLower(resp.Header.Get("Content-Encoding")),
	}, nil
}

// checkStatus returns an appropriate error for non-success status codes.
func checkStatus(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	default:
		return &StatusError{Code: code, Status: resp.Status}
	}
}
