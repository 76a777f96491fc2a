package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate returns the first problem found, wrapped around one of the
// package's sentinel errors.
func (c *Config) Validate() error {
	if !c.EmbeddedTor {
		if strings.TrimSpace(c.TorHost) == "" {
			return ErrInvalidHost
		}
		if c.TorPort < 1 || c.TorPort > 65535 {
			return fmt.Errorf("%w: got %d", ErrInvalidPort, c.TorPort)
		}
	}

	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.UpdateInterval <= 0 {
		return ErrInvalidInterval
	}
	if c.ExitListTTL <= 0 {
		return fmt.Errorf("%w: exit_list_ttl", ErrInvalidTTL)
	}
	if c.AddressTTL <= 0 {
		return fmt.Errorf("%w: address_ttl", ErrInvalidTTL)
	}

	if err := validateURL(c.ExitListURL); err != nil {
		return fmt.Errorf("exit_list_url: %w", err)
	}
	if err := validateURL(c.AddressURL); err != nil {
		return fmt.Errorf("address_url: %w", err)
	}

	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidListen, c.Listen)
	}

	if (c.Telegram.Token == "") != (c.Telegram.ChatID == 0) {
		return ErrIncompleteTelegram
	}

	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}

	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return nil
}

// ProxyAddress returns the Tor SOCKS5 proxy as host:port.
func (c *Config) ProxyAddress() string {
	return net.JoinHostPort(c.TorHost, fmt.Sprint(c.TorPort))
}

// ProxyURL returns the Tor SOCKS5 proxy as a socks5:// URL.
func (c *Config) ProxyURL() string {
	return "socks5://" + c.ProxyAddress()
}
