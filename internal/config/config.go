package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// AppName is used for XDG directory paths.
	AppName = "torcheck"

	// DefaultTorHost and DefaultTorPort locate a system Tor SOCKS listener.
	DefaultTorHost = "localhost"
	DefaultTorPort = 9050

	// DefaultTimeout bounds each remote fetch.
	DefaultTimeout = 10 * time.Second

	// DefaultUpdateInterval is the period between scheduled refreshes.
	DefaultUpdateInterval = 5 * time.Minute

	// DefaultExitListTTL keeps the bulk exit list for a day; it changes
	// slowly and the endpoint is rate-limited.
	DefaultExitListTTL = 24 * time.Hour

	// DefaultAddressTTL applies to both address lookups.
	DefaultAddressTTL = 15 * time.Minute

	// DefaultExitListURL is the Tor Project's bulk exit list.
	DefaultExitListURL = "https://check.torproject.org/cgi-bin/TorBulkExitList.py?ip=1.1.1.1"

	// DefaultAddressURL returns the caller's address as plain text.
	DefaultAddressURL = "https://api.ipify.org"

	// DefaultListen is the status API address used by serve.
	DefaultListen = "127.0.0.1:8080"

	// DefaultTorStartupTimeout bounds embedded Tor bootstrapping.
	DefaultTorStartupTimeout = 3 * time.Minute

	// DefaultUserAgent identifies torcheck to the lookup services.
	DefaultUserAgent = "torcheck (+https://github.com/nao1215/torcheck)"

	// DefaultHistoryLimit is how many checks `history` lists by default.
	DefaultHistoryLimit = 20
)

// Config is the complete runtime configuration.
type Config struct {
	// TorHost and TorPort locate the Tor SOCKS5 proxy used for the overlay
	// session. They are ignored when EmbeddedTor is set.
	TorHost string `yaml:"tor_host"`
	TorPort int    `yaml:"tor_port"`

	// EmbeddedTor starts a private tor daemon instead of using TorHost:TorPort.
	// Bootstrapping takes one to three minutes.
	EmbeddedTor bool `yaml:"embedded_tor"`

	// TorStartupTimeout bounds embedded Tor bootstrapping.
	TorStartupTimeout time.Duration `yaml:"tor_startup_timeout"`

	// Timeout bounds each remote fetch.
	Timeout time.Duration `yaml:"timeout"`

	// UpdateInterval is the period between scheduled refreshes in serve.
	UpdateInterval time.Duration `yaml:"update_interval"`

	// ExitListTTL and AddressTTL are the cache lifetimes.
	ExitListTTL time.Duration `yaml:"exit_list_ttl"`
	AddressTTL  time.Duration `yaml:"address_ttl"`

	// ExitListURL must answer with a whitespace-separated address list.
	ExitListURL string `yaml:"exit_list_url"`

	// AddressURL answers with the caller's address. When AddressJSONField is
	// set, the body is JSON and the field (a gjson path) holds the address.
	AddressURL       string `yaml:"address_url"`
	AddressJSONField string `yaml:"address_json_field"`

	// UserAgent is sent with every fetch.
	UserAgent string `yaml:"user_agent"`

	// Listen is the status API address used by serve.
	Listen string `yaml:"listen"`

	// LogLevel is debug, info, warn, or error. Verbose forces debug.
	LogLevel string `yaml:"log_level"`

	// RevealAddresses logs the real address instead of masking it.
	RevealAddresses bool `yaml:"reveal_addresses"`

	History  HistoryConfig  `yaml:"history"`
	Telegram TelegramConfig `yaml:"telegram"`

	// Verbose is set from the --verbose flag only.
	Verbose bool `yaml:"-"`

	// ConfigFilePath is the file the configuration was loaded from, if any.
	ConfigFilePath string `yaml:"-"`
}

// HistoryConfig controls the SQLite check history.
type HistoryConfig struct {
	// Enabled records every refresh outcome.
	Enabled bool `yaml:"enabled"`

	// Dir holds torcheck.db. Defaults to the XDG data directory.
	Dir string `yaml:"dir"`
}

// TelegramConfig controls state-change alerts.
type TelegramConfig struct {
	// Token is the bot token. Alerts are disabled when empty.
	Token string `yaml:"token"`

	// ChatID is the chat that receives alerts.
	ChatID int64 `yaml:"chat_id"`
}

// Enabled reports whether alerts should be sent.
func (t TelegramConfig) Enabled() bool {
	return t.Token != ""
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		TorHost:           DefaultTorHost,
		TorPort:           DefaultTorPort,
		TorStartupTimeout: DefaultTorStartupTimeout,
		Timeout:           DefaultTimeout,
		UpdateInterval:    DefaultUpdateInterval,
		ExitListTTL:       DefaultExitListTTL,
		AddressTTL:        DefaultAddressTTL,
		ExitListURL:       DefaultExitListURL,
		AddressURL:        DefaultAddressURL,
		UserAgent:         DefaultUserAgent,
		Listen:            DefaultListen,
		History: HistoryConfig{
			Enabled: true,
			Dir:     XDGDataDir(),
		},
	}
}

// XDGDataDir returns the XDG data directory for torcheck,
// e.g. ~/.local/share/torcheck on Linux.
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for torcheck,
// e.g. ~/.config/torcheck on Linux.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// XDGConfigFile returns the default config file location.
func XDGConfigFile() string {
	return filepath.Join(XDGConfigDir(), DefaultXDGConfigFile)
}
