package source

//go:generate mockgen -destination=mocks/mock_fetcher.go -package=mocks -source=fetch.go Fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

const (
	// DefaultTimeout bounds a single fetch, including reading the body.
	DefaultTimeout = 10 * time.Second

	// maxBodySize caps the response body. The bulk exit list is the
	// largest payload and stays well below this.
	maxBodySize = 1 << 20
)

// Session is a network path a request is sent over.
// *http.Client satisfies it.
type Session interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher performs a single GET over a session and returns the raw body.
type Fetcher interface {
	Fetch(ctx context.Context, session Session, rawURL string) (string, error)
}

// Client is the default Fetcher. It is stateless and safe for concurrent use.
type Client struct {
	timeout   time.Duration
	userAgent string
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the per-fetch timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithUserAgent sets the User-Agent header sent with every fetch.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient returns a Client with the default timeout.
func NewClient(opts ...Option) *Client {
	c := &Client{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch GETs rawURL over session and returns the response body unparsed.
// Every non-nil error is an *Error.
func (c *Client) Fetch(ctx context.Context, session Session, rawURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &Error{Kind: KindUnknown, URL: rawURL, Err: err}
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := session.Do(req)
	if err != nil {
		return "", &Error{Kind: classify(err), URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	// 401/403 take precedence over the generic status check.
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", &Error{Kind: KindAuthentication, URL: rawURL, StatusCode: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &Error{Kind: KindCommunication, URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", &Error{Kind: classify(err), URL: rawURL, Err: fmt.Errorf("failed to read body: %w", err)}
	}
	return string(body), nil
}

// classify maps a transport error onto a Kind.
func classify(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindCommunication
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindCommunication
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindCommunication
	}

	// The SOCKS5 dialer reports proxy failures as *net.OpError, which is
	// covered above. Any other client-side failure surfaces as *url.Error.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return KindCommunication
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return KindCommunication
	}

	return KindUnknown
}
