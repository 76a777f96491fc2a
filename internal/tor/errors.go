package tor

import "errors"

// Proxy errors, returned by ProxyStatus.Error and NewClient.
var (
	// ErrProxyNotTor means the address answered but not as a SOCKS5 proxy,
	// e.g. an HTTP proxy or an unrelated service on the port.
	ErrProxyNotTor = errors.New("proxy is not a Tor SOCKS5 proxy")

	// ErrProxyAuthRequired means the proxy refused unauthenticated access.
	// Tor's SOCKS port never does this, so the configuration points
	// somewhere else.
	ErrProxyAuthRequired = errors.New("proxy requires authentication")

	// ErrProxyCannotConnect means no TCP connection could be made. Tor is
	// usually not running or the host/port is wrong.
	ErrProxyCannotConnect = errors.New("cannot connect to Tor proxy")

	// ErrProxyTimeout means the proxy did not answer in time.
	ErrProxyTimeout = errors.New("timeout connecting to Tor proxy")

	// ErrInvalidProxyAddress is returned for malformed host:port values.
	ErrInvalidProxyAddress = errors.New("invalid proxy address format: expected host:port with port 1-65535")

	// ErrEmbeddedNotRunning is returned when asking a stopped embedded
	// daemon for a client.
	ErrEmbeddedNotRunning = errors.New("embedded Tor daemon is not running")
)

// ProxyStatus is the outcome of CheckConnection.
type ProxyStatus int

const (
	// ProxyStatusOK indicates a working SOCKS5 proxy.
	ProxyStatusOK ProxyStatus = iota

	// ProxyStatusWrongType indicates something other than SOCKS5 answered.
	ProxyStatusWrongType

	// ProxyStatusCannotConnect indicates the TCP connection failed.
	ProxyStatusCannotConnect

	// ProxyStatusTimeout indicates the probe timed out.
	ProxyStatusTimeout

	// ProxyStatusAuthRequired indicates a SOCKS5 proxy that insists on credentials.
	ProxyStatusAuthRequired
)

// String returns a human-readable description of the proxy status.
func (s ProxyStatus) String() string {
	switch s {
	case ProxyStatusOK:
		return "OK"
	case ProxyStatusWrongType:
		return "wrong type (not Tor)"
	case ProxyStatusCannotConnect:
		return "cannot connect"
	case ProxyStatusTimeout:
		return "timeout"
	case ProxyStatusAuthRequired:
		return "authentication required"
	default:
		return "unknown"
	}
}

// Error returns the error for this status, or nil if OK.
func (s ProxyStatus) Error() error {
	switch s {
	case ProxyStatusOK:
		return nil
	case ProxyStatusWrongType:
		return ErrProxyNotTor
	case ProxyStatusCannotConnect:
		return ErrProxyCannotConnect
	case ProxyStatusTimeout:
		return ErrProxyTimeout
	case ProxyStatusAuthRequired:
		return ErrProxyAuthRequired
	default:
		return errors.New("unknown proxy status")
	}
}

// Category buckets a status the way configuration validation reports it:
// "ok", "invalid_auth", "cannot_connect", or "unknown".
func (s ProxyStatus) Category() string {
	switch s {
	case ProxyStatusOK:
		return "ok"
	case ProxyStatusAuthRequired:
		return "invalid_auth"
	case ProxyStatusCannotConnect, ProxyStatusTimeout:
		return "cannot_connect"
	default:
		return "unknown"
	}
}
