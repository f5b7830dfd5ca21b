// Package transport is the HTTP transport collaborator used by the fetch
// pipeline. Fetch makes exactly one attempt per call: retry/backoff
// ownership belongs entirely to the backoff engine, which decides
// re-queue timing from the domain state table rather than blocking a
// worker goroutine in a sleep loop.
package transport

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"time"
)

// Config configures the default Transport implementation.
type Config struct {
	Timeout         time.Duration
	UserAgent       string
	FollowRedirects bool
	MaxRedirects    int
	MaxIdleConns    int
	IdleConnTimeout time.Duration

	// MaxBytes caps how much of a response body Fetch will read off the
	// wire, stream-truncating rather than buffering an unbounded body
	// before the fetch pipeline gets a chance to reject it. 0 means
	// unbounded.
	MaxBytes int64
}

// Response is one fetch attempt's outcome. StatusCode is 0 and Err is
// non-nil on a transport-level failure (DNS, connect, TLS, timeout);
// callers pass Err.Error() to errtype.Classify to determine the failure
// type.
type Response struct {
	StatusCode    int
	Body          []byte
	Headers       http.Header
	FinalURL      string
	ContentType   string
	RedirectCount int
	Elapsed       time.Duration
	ETag          string
	LastModified  string
	ServerDate    string
	Err           error
}

// Transport performs one HTTP GET per call, no retries.
type Transport interface {
	Fetch(ctx context.Context, rawURL string) *Response
}

// Client is the default net/http-backed Transport.
type Client struct {
	http      *http.Client
	userAgent string
	maxBytes  int64
}

// New builds a Client from Config, applying connection pooling and
// redirect-policy defaults.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = 10
	}

	rt := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: false},
	}

	httpClient := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: rt,
	}

	if cfg.FollowRedirects {
		httpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.MaxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		}
	} else {
		httpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return &Client{http: httpClient, userAgent: cfg.UserAgent, maxBytes: cfg.MaxBytes}
}

// Fetch performs a single GET request and reports the result, never
// retrying internally.
func (c *Client) Fetch(ctx context.Context, rawURL string) *Response {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &Response{Err: err, Elapsed: time.Since(start)}
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	// Accept-Encoding is left to net/http, which then requests gzip and
	// transparently decompresses the response body.

	resp, err := c.http.Do(req)
	if err != nil {
		return &Response{Err: err, Elapsed: time.Since(start)}
	}
	defer resp.Body.Close()

	reader := io.Reader(resp.Body)
	if c.maxBytes > 0 {
		// Read one byte past the cap so a body that exceeds it is still
		// distinguishable from one that exactly fits, without ever
		// buffering more than MaxBytes+1 bytes in memory.
		reader = io.LimitReader(resp.Body, c.maxBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return &Response{Err: err, Elapsed: time.Since(start)}
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	redirectCount := countRedirects(resp)

	return &Response{
		StatusCode:    resp.StatusCode,
		Body:          body,
		Headers:       resp.Header,
		FinalURL:      finalURL,
		ContentType:   resp.Header.Get("Content-Type"),
		RedirectCount: redirectCount,
		Elapsed:       time.Since(start),
		ETag:          resp.Header.Get("ETag"),
		LastModified:  resp.Header.Get("Last-Modified"),
		ServerDate:    resp.Header.Get("Date"),
	}
}

// countRedirects walks the response's chain of prior responses, set by
// net/http when CheckRedirect allows the chain to be followed.
func countRedirects(resp *http.Response) int {
	n := 0
	for r := resp; r != nil && r.Request != nil; {
		prior := r.Request.Response
		if prior == nil {
			break
		}
		n++
		r = prior
	}
	return n
}
