package tor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/net/proxy"
)

const (
	// DefaultHost and DefaultPort locate a system Tor SOCKS listener.
	DefaultHost = "localhost"
	DefaultPort = 9050

	// checkProxyTimeout bounds the SOCKS5 handshake probe.
	checkProxyTimeout = 2 * time.Second

	// maxRedirects caps redirects followed by either session.
	maxRedirects = 10
)

// Client is a Tor SOCKS5 endpoint and the dialer that reaches it.
type Client struct {
	// proxyAddress is "host:port" of the SOCKS5 listener.
	proxyAddress string

	dialer proxy.Dialer

	// timeout is applied to HTTP clients created by this client.
	timeout time.Duration
}

// NewClient validates proxyAddress and prepares a SOCKS5 dialer for it.
// Nothing is dialed until a request is made; use CheckConnection to probe.
func NewClient(proxyAddress string, timeout time.Duration) (*Client, error) {
	if !isValidProxyAddress(proxyAddress) {
		return nil, ErrInvalidProxyAddress
	}

	// Tor's SOCKS port does not require authentication.
	dialer, err := proxy.SOCKS5("tcp", proxyAddress, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}

	return &Client{
		proxyAddress: proxyAddress,
		dialer:       dialer,
		timeout:      timeout,
	}, nil
}

// NewClientFromHostPort is NewClient for separately configured host and port.
func NewClientFromHostPort(host string, port int, timeout time.Duration) (*Client, error) {
	return NewClient(JoinHostPort(host, port), timeout)
}

// JoinHostPort formats a proxy address, bracketing IPv6 literals.
func JoinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// isValidProxyAddress reports whether address is host:port with a
// non-empty host and a port in 1..65535.
func isValidProxyAddress(address string) bool {
	host, port, err := net.SplitHostPort(address)
	if err != nil || host == "" || port == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return false
	}
	return n >= 1 && n <= 65535
}

// ProxyAddress returns the configured proxy address.
func (c *Client) ProxyAddress() string {
	return c.proxyAddress
}

// ProxyURL returns the proxy address as a socks5 URL.
func (c *Client) ProxyURL() string {
	return "socks5://" + c.proxyAddress
}

// Dialer returns the underlying SOCKS5 dialer.
func (c *Client) Dialer() proxy.Dialer {
	return c.dialer
}

// DialContext dials address through Tor.
//
// The x/net SOCKS5 dialer supports contexts directly. For any other dialer
// the dial runs in a goroutine and is abandoned when ctx is done.
func (c *Client) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if cd, ok := c.dialer.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, address)
	}

	type dialResult struct {
		conn net.Conn
		err  error
	}
	resultCh := make(chan dialResult, 1)

	go func() {
		conn, err := c.dialer.Dial(network, address)
		resultCh <- dialResult{conn, err}
	}()

	select {
	case result := <-resultCh:
		return result.conn, result.err
	case <-ctx.Done():
		go func() {
			if result := <-resultCh; result.conn != nil {
				_ = result.conn.Close() //nolint:errcheck // abandoned dial
			}
		}()
		return nil, ctx.Err()
	}
}

// NewHTTPClient returns the Tor-proxied session.
//
// The pool is kept small because every connection occupies a Tor circuit,
// and compression is disabled so response sizes do not leak content.
func (c *Client) NewHTTPClient() *http.Client {
	transport := &http.Transport{
		DialContext:         c.DialContext,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,
		DisableCompression:  true,
	}

	return &http.Client{
		Transport:     transport,
		Timeout:       c.timeout,
		CheckRedirect: limitRedirects,
	}
}

// NewDirectHTTPClient returns the direct session: an HTTP client that
// ignores proxy environment variables so it always egresses normally.
func NewDirectHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy: nil,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: timeout,
	}

	return &http.Client{
		Transport:     transport,
		Timeout:       timeout,
		CheckRedirect: limitRedirects,
	}
}

func limitRedirects(_ *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return http.ErrUseLastResponse
	}
	return nil
}

// SOCKS5 protocol constants
const (
	socks5Version         = 0x05
	socks5AuthNone        = 0x00
	socks5AuthUserPass    = 0x02
	socks5AuthNoAccept    = 0xFF
	socks5CmdConnect      = 0x01
	socks5AddrTypeDomName = 0x03

	// probeHost is the CONNECT target of the handshake probe. The connection
	// itself may fail; only a well-formed SOCKS5 reply matters.
	probeHost = "check.torproject.org"
	probePort = 443
)

// CheckConnection probes the proxy with a SOCKS5 greeting and a CONNECT
// request and reports what it found. It never sends application data.
func (c *Client) CheckConnection(ctx context.Context) ProxyStatus {
	ctx, cancel := context.WithTimeout(ctx, checkProxyTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.proxyAddress)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ProxyStatusTimeout
		}
		return ProxyStatusCannotConnect
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(checkProxyTimeout)); err != nil {
		return ProxyStatusCannotConnect
	}

	// Greeting: version, one method, "no authentication".
	if _, err := conn.Write([]byte{socks5Version, 0x01, socks5AuthNone}); err != nil {
		return ProxyStatusCannotConnect
	}

	authResp := make([]byte, 2)
	if _, err := io.ReadFull(conn, authResp); err != nil {
		if isTimeout(err) {
			return ProxyStatusTimeout
		}
		return ProxyStatusWrongType
	}
	if authResp[0] != socks5Version {
		return ProxyStatusWrongType
	}
	switch authResp[1] {
	case socks5AuthNone:
	case socks5AuthNoAccept, socks5AuthUserPass:
		return ProxyStatusAuthRequired
	default:
		return ProxyStatusWrongType
	}

	connectReq := []byte{
		socks5Version,
		socks5CmdConnect,
		0x00, // reserved
		socks5AddrTypeDomName,
		byte(len(probeHost)),
	}
	connectReq = append(connectReq, probeHost...)
	connectReq = append(connectReq, byte(probePort>>8), byte(probePort&0xFF))

	if _, err := conn.Write(connectReq); err != nil {
		return ProxyStatusCannotConnect
	}

	// version, reply, reserved, address type
	connectResp := make([]byte, 4)
	if _, err := io.ReadFull(conn, connectResp); err != nil {
		if isTimeout(err) {
			return ProxyStatusTimeout
		}
		return ProxyStatusWrongType
	}
	if connectResp[0] != socks5Version {
		return ProxyStatusWrongType
	}

	// Any reply code means the proxy processed the request.
	return ProxyStatusOK
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
