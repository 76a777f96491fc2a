package main

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// Addresses served by the fake lookup services.
const (
	testRealAddress = "203.0.113.7"
	testTorAddress  = "185.220.101.1"
)

// socksRelay is a minimal SOCKS5 server that forwards every CONNECT to
// target, whatever the requested host.
type socksRelay struct {
	target string
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
	var skip int
	switch header[3] {
	case 0x01:
		skip = 4
	case 0x03:
		size := make([]byte, 1)
		if _, err := io.ReadFull(conn, size); err != nil {
			return
		}
		skip = int(size[0])
	case 0x04:
		skip = 16
	default:
		return
	}
	// Destination address and port.
	if _, err := io.ReadFull(conn, make([]byte, skip+2)); err != nil {
		return
	}

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

// testNetwork is a fake Internet: direct requests reach the direct server,
// and everything sent through the SOCKS5 relay reaches the exit server.
type testNetwork struct {
	exitListURL string
	addressURL  string
	proxyAddr   string
}

// newTestNetwork starts both servers and the relay. exitListStatus is the
// status code of the exit list endpoint.
func newTestNetwork(t *testing.T, exitListStatus int) testNetwork {
	t.Helper()

	direct := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/exits":
			w.WriteHeader(exitListStatus)
			fmt.Fprintf(w, "%s\n198.51.100.20\n", testTorAddress)
		case "/ip":
			_, _ = w.Write([]byte(testRealAddress))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(direct.Close)

	exit := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ip" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(testTorAddress))
	}))
	t.Cleanup(exit.Close)

	relay := &socksRelay{target: strings.TrimPrefix(exit.URL, "http://")}
	return testNetwork{
		exitListURL: direct.URL + "/exits",
		addressURL:  direct.URL + "/ip",
		proxyAddr:   relay.serve(t),
	}
}

// writeTestConfig writes a configuration file pointing at n with history
// in its own directory, and returns the file and history paths.
func writeTestConfig(t *testing.T, n testNetwork) (string, string) {
	t.Helper()

	host, port, err := net.SplitHostPort(n.proxyAddr)
	if err != nil {
		t.Fatalf("bad proxy address: %v", err)
	}

	dir := t.TempDir()
	historyDir := filepath.Join(dir, "history")
	content := fmt.Sprintf(`tor_host: %s
tor_port: %s
timeout: 5s
exit_list_url: %s
address_url: %s
history:
  enabled: true
  dir: %s
`, host, port, n.exitListURL, n.addressURL, historyDir)

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path, historyDir
}

// executeRoot runs the root command with args and returns stdout.
func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	if err != nil {
		t.Logf("stderr: %s", stderr.String())
	}
	return stdout.String(), err
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	n, err := strconv.Atoi(s)
	if err != nil {
		t.Fatalf("not a number: %q", s)
	}
	return n
}
