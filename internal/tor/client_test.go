package tor

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// TestNewClient tests the Client constructor.
func TestNewClient(t *testing.T) {
	t.Parallel()

	t.Run("valid proxy address creates client", func(t *testing.T) {
		t.Parallel()

		client, err := NewClient("127.0.0.1:9050", 10*time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if client.ProxyAddress() != "127.0.0.1:9050" {
			t.Errorf("ProxyAddress() = %q, expected %q", client.ProxyAddress(), "127.0.0.1:9050")
		}
		if client.ProxyURL() != "socks5://127.0.0.1:9050" {
			t.Errorf("ProxyURL() = %q, expected %q", client.ProxyURL(), "socks5://127.0.0.1:9050")
		}
		if client.Dialer() == nil {
			t.Error("expected non-nil dialer")
		}
	})

	t.Run("host and port are joined", func(t *testing.T) {
		t.Parallel()

		client, err := NewClientFromHostPort(DefaultHost, DefaultPort, 10*time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if client.ProxyAddress() != "localhost:9050" {
			t.Errorf("ProxyAddress() = %q, expected localhost:9050", client.ProxyAddress())
		}
	})

	t.Run("invalid addresses return ErrInvalidProxyAddress", func(t *testing.T) {
		t.Parallel()

		for _, addr := range []string{"", "127.0.0.1", ":9050", "127.0.0.1:", "127.0.0.1:0", "127.0.0.1:65536"} {
			if _, err := NewClient(addr, time.Second); !errors.Is(err, ErrInvalidProxyAddress) {
				t.Errorf("NewClient(%q) error = %v, expected ErrInvalidProxyAddress", addr, err)
			}
		}
	})

	t.Run("out of range port from host and port", func(t *testing.T) {
		t.Parallel()

		if _, err := NewClientFromHostPort("localhost", 70000, time.Second); !errors.Is(err, ErrInvalidProxyAddress) {
			t.Errorf("expected ErrInvalidProxyAddress, got %v", err)
		}
	})
}

// TestIsValidProxyAddress tests the proxy address validation function.
func TestIsValidProxyAddress(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		address  string
		expected bool
	}{
		{"valid IPv4 with port", "127.0.0.1:9050", true},
		{"valid localhost with port", "localhost:9050", true},
		{"valid hostname with port", "tor.example.com:9150", true},
		{"valid bracketed IPv6", "[::1]:9050", true},
		{"lowest port", "localhost:1", true},
		{"highest port", "localhost:65535", true},
		{"empty string", "", false},
		{"no port", "127.0.0.1", false},
		{"empty host", ":9050", false},
		{"empty port", "127.0.0.1:", false},
		{"port zero", "127.0.0.1:0", false},
		{"port too large", "127.0.0.1:65536", false},
		{"non-numeric port", "127.0.0.1:tor", false},
		{"multiple colons", "127.0.0.1:9050:extra", false},
		{"only colon", ":", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			result := isValidProxyAddress(tc.address)
			if result != tc.expected {
				t.Errorf("isValidProxyAddress(%q) = %v, expected %v", tc.address, result, tc.expected)
			}
		})
	}
}

// TestJoinHostPort tests proxy address formatting.
func TestJoinHostPort(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		host     string
		port     int
		expected string
	}{
		{"localhost", 9050, "localhost:9050"},
		{"10.0.0.2", 9150, "10.0.0.2:9150"},
		{"::1", 9050, "[::1]:9050"},
	}

	for _, tc := range testCases {
		if got := JoinHostPort(tc.host, tc.port); got != tc.expected {
			t.Errorf("JoinHostPort(%q, %d) = %q, expected %q", tc.host, tc.port, got, tc.expected)
		}
	}
}

// TestNewHTTPClient tests the Tor-proxied session configuration.
func TestNewHTTPClient(t *testing.T) {
	t.Parallel()

	client, err := NewClient("127.0.0.1:9050", 10*time.Second)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	httpClient := client.NewHTTPClient()

	if httpClient.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, expected 10s", httpClient.Timeout)
	}
	if httpClient.CheckRedirect == nil {
		t.Error("expected CheckRedirect to be set")
	}

	transport, ok := httpClient.Transport.(*http.Transport)
	if !ok {
		t.Fatal("expected transport to be *http.Transport")
	}
	if transport.MaxIdleConns != 10 {
		t.Errorf("expected MaxIdleConns 10, got %d", transport.MaxIdleConns)
	}
	if transport.MaxIdleConnsPerHost != 2 {
		t.Errorf("expected MaxIdleConnsPerHost 2, got %d", transport.MaxIdleConnsPerHost)
	}
	if !transport.DisableCompression {
		t.Error("expected compression to be disabled")
	}
	if transport.TLSClientConfig != nil && transport.TLSClientConfig.InsecureSkipVerify {
		t.Error("certificate verification must stay enabled")
	}
}

// TestNewDirectHTTPClient tests the direct session configuration.
func TestNewDirectHTTPClient(t *testing.T) {
	t.Parallel()

	httpClient := NewDirectHTTPClient(10 * time.Second)
	if httpClient.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, expected 10s", httpClient.Timeout)
	}

	transport, ok := httpClient.Transport.(*http.Transport)
	if !ok {
		t.Fatal("expected transport to be *http.Transport")
	}
	if transport.Proxy != nil {
		t.Error("direct session must not honor proxy environment variables")
	}
}

// TestLimitRedirects tests the redirect policy shared by both sessions.
func TestLimitRedirects(t *testing.T) {
	t.Parallel()

	via := make([]*http.Request, maxRedirects-1)
	if err := limitRedirects(nil, via); err != nil {
		t.Errorf("expected redirect to be followed, got %v", err)
	}
	via = append(via, nil)
	if err := limitRedirects(nil, via); !errors.Is(err, http.ErrUseLastResponse) {
		t.Errorf("expected ErrUseLastResponse, got %v", err)
	}
}

// TestProxyStatus tests ProxyStatus String, Error and Category methods.
func TestProxyStatus(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		status      ProxyStatus
		str         string
		expectedErr error
		category    string
	}{
		{ProxyStatusOK, "OK", nil, "ok"},
		{ProxyStatusWrongType, "wrong type (not Tor)", ErrProxyNotTor, "unknown"},
		{ProxyStatusCannotConnect, "cannot connect", ErrProxyCannotConnect, "cannot_connect"},
		{ProxyStatusTimeout, "timeout", ErrProxyTimeout, "cannot_connect"},
		{ProxyStatusAuthRequired, "authentication required", ErrProxyAuthRequired, "invalid_auth"},
	}

	for _, tc := range testCases {
		t.Run(tc.str, func(t *testing.T) {
			t.Parallel()

			if tc.status.String() != tc.str {
				t.Errorf("String() = %q, expected %q", tc.status.String(), tc.str)
			}
			if err := tc.status.Error(); !errors.Is(err, tc.expectedErr) {
				t.Errorf("Error() = %v, expected %v", err, tc.expectedErr)
			}
			if tc.status.Category() != tc.category {
				t.Errorf("Category() = %q, expected %q", tc.status.Category(), tc.category)
			}
		})
	}

	t.Run("unknown status", func(t *testing.T) {
		t.Parallel()

		unknown := ProxyStatus(99)
		if unknown.String() != "unknown" {
			t.Errorf("String() = %q, expected unknown", unknown.String())
		}
		if unknown.Error() == nil {
			t.Error("expected error for unknown status")
		}
		if unknown.Category() != "unknown" {
			t.Errorf("Category() = %q, expected unknown", unknown.Category())
		}
	})
}

// startMockServer accepts one connection and hands it to handle.
func startMockServer(t *testing.T, handle func(conn net.Conn)) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0") //nolint:noctx // test code
	if err != nil {
		t.Fatalf("failed to start mock server: %v", err)
	}
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}()

	return listener.Addr().String()
}

// TestCheckConnection tests the SOCKS5 proxy verification.
func TestCheckConnection(t *testing.T) {
	t.Parallel()

	t.Run("returns CannotConnect for non-existent proxy", func(t *testing.T) {
		t.Parallel()

		listener, err := net.Listen("tcp", "127.0.0.1:0") //nolint:noctx // test code
		if err != nil {
			t.Fatalf("failed to reserve port: %v", err)
		}
		addr := listener.Addr().String()
		_ = listener.Close()

		client, err := NewClient(addr, 10*time.Second)
		if err != nil {
			t.Fatalf("failed to create client: %v", err)
		}
		if status := client.CheckConnection(context.Background()); status != ProxyStatusCannotConnect {
			t.Errorf("expected ProxyStatusCannotConnect, got %v", status)
		}
	})

	t.Run("returns WrongType for non-SOCKS5 server", func(t *testing.T) {
		t.Parallel()

		addr := startMockServer(t, func(conn net.Conn) {
			buf := make([]byte, 3)
			_, _ = conn.Read(buf)
			_, _ = conn.Write([]byte("HTTP/1.1 200 OK\r\n\r\n"))
		})

		client, err := NewClient(addr, 10*time.Second)
		if err != nil {
			t.Fatalf("failed to create client: %v", err)
		}
		if status := client.CheckConnection(context.Background()); status != ProxyStatusWrongType {
			t.Errorf("expected ProxyStatusWrongType, got %v", status)
		}
	})

	t.Run("returns AuthRequired when no method is acceptable", func(t *testing.T) {
		t.Parallel()

		addr := startMockServer(t, func(conn net.Conn) {
			buf := make([]byte, 3)
			_, _ = conn.Read(buf)
			_, _ = conn.Write([]byte{0x05, 0xFF})
		})

		client, err := NewClient(addr, 10*time.Second)
		if err != nil {
			t.Fatalf("failed to create client: %v", err)
		}
		if status := client.CheckConnection(context.Background()); status != ProxyStatusAuthRequired {
			t.Errorf("expected ProxyStatusAuthRequired, got %v", status)
		}
	})

	t.Run("returns OK for valid SOCKS5 proxy", func(t *testing.T) {
		t.Parallel()

		requested := make(chan string, 1)
		addr := startMockServer(t, func(conn net.Conn) {
			buf := make([]byte, 3)
			_, _ = io.ReadFull(conn, buf)
			_, _ = conn.Write([]byte{0x05, 0x00})

			header := make([]byte, 5)
			_, _ = io.ReadFull(conn, header)
			host := make([]byte, int(header[4])+2)
			_, _ = io.ReadFull(conn, host)
			requested <- string(host[:len(host)-2])

			// Host unreachable is still a valid SOCKS5 reply.
			_, _ = conn.Write([]byte{0x05, 0x04, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
		})

		client, err := NewClient(addr, 10*time.Second)
		if err != nil {
			t.Fatalf("failed to create client: %v", err)
		}
		if status := client.CheckConnection(context.Background()); status != ProxyStatusOK {
			t.Errorf("expected ProxyStatusOK, got %v", status)
		}
		if got := <-requested; got != probeHost {
			t.Errorf("probe requested %q, expected %q", got, probeHost)
		}
	})

	t.Run("returns WrongType for wrong version in CONNECT response", func(t *testing.T) {
		t.Parallel()

		addr := startMockServer(t, func(conn net.Conn) {
			buf := make([]byte, 3)
			_, _ = conn.Read(buf)
			_, _ = conn.Write([]byte{0x05, 0x00})
			connectBuf := make([]byte, 256)
			_, _ = conn.Read(connectBuf)
			_, _ = conn.Write([]byte{0x04, 0x00, 0x00, 0x01})
		})

		client, err := NewClient(addr, 10*time.Second)
		if err != nil {
			t.Fatalf("failed to create client: %v", err)
		}
		if status := client.CheckConnection(context.Background()); status != ProxyStatusWrongType {
			t.Errorf("expected ProxyStatusWrongType, got %v", status)
		}
	})

	t.Run("handles context cancellation", func(t *testing.T) {
		t.Parallel()

		client, err := NewClient("127.0.0.1:59998", 10*time.Second)
		if err != nil {
			t.Fatalf("failed to create client: %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		status := client.CheckConnection(ctx)
		if status != ProxyStatusCannotConnect && status != ProxyStatusTimeout {
			t.Errorf("expected ProxyStatusCannotConnect or ProxyStatusTimeout, got %v", status)
		}
	})
}

// socksRelay is a minimal SOCKS5 server that forwards every CONNECT to
// target and records the requested host.
type socksRelay struct {
	target string

	mu    sync.Mutex
	hosts []string
}

func (r *socksRelay) requestedHosts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.hosts...)
}

func (r *socksRelay) serve(t *testing.T) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0") //nolint:noctx // test code
	if err != nil {
		t.Fatalf("failed to start relay: %v", err)
	}
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go r.handle(conn)
		}
	}()
	return listener.Addr().String()
}

func (r *socksRelay) handle(conn net.Conn) {
	defer conn.Close()

	greeting := make([]byte, 2)
	if _, err := io.ReadFull(conn, greeting); err != nil {
		return
	}
	methods := make([]byte, greeting[1])
	if _, err := io.ReadFull(conn, methods); err != nil {
		return
	}
	_, _ = conn.Write([]byte{0x05, 0x00})

	header := make([]byte, 4)
	if _, err := io.ReadFull(conn, header); err != nil {
		return
	}
	var host string
	switch header[3] {
	case 0x03:
		size := make([]byte, 1)
		_, _ = io.ReadFull(conn, size)
		name := make([]byte, size[0])
		_, _ = io.ReadFull(conn, name)
		host = string(name)
	case 0x01:
		ip := make([]byte, 4)
		_, _ = io.ReadFull(conn, ip)
		host = net.IP(ip).String()
	default:
		return
	}
	port := make([]byte, 2)
	if _, err := io.ReadFull(conn, port); err != nil {
		return
	}

	r.mu.Lock()
	r.hosts = append(r.hosts, host)
	r.mu.Unlock()

	upstream, err := net.Dial("tcp", r.target) //nolint:noctx // test code
	if err != nil {
		_, _ = conn.Write([]byte{0x05, 0x05, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
		return
	}
	defer upstream.Close()
	_, _ = conn.Write([]byte{0x05, 0x00, 0x00, 0x01, 127, 0, 0, 1, 0, 0})

	done := make(chan struct{}, 2)
	go func() { _, _ = io.Copy(upstream, conn); done <- struct{}{} }()
	go func() { _, _ = io.Copy(conn, upstream); done <- struct{}{} }()
	<-done
}

// TestHTTPClientThroughProxy tests that the proxied session sends
// requests through SOCKS5 and leaves name resolution to the proxy.
func TestHTTPClientThroughProxy(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("185.220.101.1"))
	}))
	defer server.Close()

	relay := &socksRelay{target: strings.TrimPrefix(server.URL, "http://")}
	client, err := NewClient(relay.serve(t), 5*time.Second)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	httpClient := client.NewHTTPClient()
	defer httpClient.CloseIdleConnections()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://address.invalid/", nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		t.Fatalf("request through relay failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "185.220.101.1" {
		t.Errorf("body = %q, expected 185.220.101.1", body)
	}

	hosts := relay.requestedHosts()
	if len(hosts) != 1 || hosts[0] != "address.invalid" {
		t.Errorf("relay saw hosts %v, expected the unresolved hostname", hosts)
	}
}

// TestDialContext tests the DialContext method.
func TestDialContext(t *testing.T) {
	t.Parallel()

	client, err := NewClient("127.0.0.1:59997", 10*time.Second)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.DialContext(ctx, "tcp", "check.torproject.org:443"); err == nil {
		t.Error("expected error for cancelled context")
	}
}
