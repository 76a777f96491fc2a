package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. TORCHECK_TOR_PORT.
const EnvPrefix = "TORCHECK"

// Keys shared by flags (with dashes) and environment variables.
const (
	KeyTorHost          = "tor_host"
	KeyTorPort          = "tor_port"
	KeyEmbeddedTor      = "embedded_tor"
	KeyTimeout          = "timeout"
	KeyUpdateInterval   = "update_interval"
	KeyExitListTTL      = "exit_list_ttl"
	KeyAddressTTL       = "address_ttl"
	KeyExitListURL      = "exit_list_url"
	KeyAddressURL       = "address_url"
	KeyAddressJSONField = "address_json_field"
	KeyListen           = "listen"
	KeyLogLevel         = "log_level"
	KeyHistoryDir       = "history_dir"
	KeyNoHistory        = "no_history"
	KeyTelegramToken    = "telegram_token"
	KeyTelegramChatID   = "telegram_chat_id"
)

// NewViper returns a viper instance that reads TORCHECK_* variables.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds every flag in fs to the key of the same name with dashes
// replaced by underscores.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if bindErr != nil {
			return
		}
		key := strings.ReplaceAll(f.Name, "-", "_")
		if err := v.BindPFlag(key, f); err != nil {
			bindErr = fmt.Errorf("failed to bind flag %s: %w", f.Name, err)
		}
	})
	return bindErr
}

// Overlay applies every key that is explicitly set in v (a changed flag or
// a present environment variable) on top of c.
func (c *Config) Overlay(v *viper.Viper) {
	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	setString(KeyTorHost, &c.TorHost)
	if v.IsSet(KeyTorPort) {
		c.TorPort = v.GetInt(KeyTorPort)
	}
	if v.IsSet(KeyEmbeddedTor) {
		c.EmbeddedTor = v.GetBool(KeyEmbeddedTor)
	}

	for key, dst := range map[string]*time.Duration{
		KeyTimeout:        &c.Timeout,
		KeyUpdateInterval: &c.UpdateInterval,
		KeyExitListTTL:    &c.ExitListTTL,
		KeyAddressTTL:     &c.AddressTTL,
	} {
		if v.IsSet(key) {
			*dst = v.GetDuration(key)
		}
	}

	setString(KeyExitListURL, &c.ExitListURL)
	setString(KeyAddressURL, &c.AddressURL)
	setString(KeyAddressJSONField, &c.AddressJSONField)
	setString(KeyListen, &c.Listen)
	setString(KeyLogLevel, &c.LogLevel)
	setString(KeyHistoryDir, &c.History.Dir)
	if v.IsSet(KeyNoHistory) && v.GetBool(KeyNoHistory) {
		c.History.Enabled = false
	}
	setString(KeyTelegramToken, &c.Telegram.Token)
	if v.IsSet(KeyTelegramChatID) {
		c.Telegram.ChatID = v.GetInt64(KeyTelegramChatID)
	}
}
