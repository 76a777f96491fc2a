package config

import "errors"

// Validation errors returned by Config.Validate.
var (
	// ErrInvalidHost is returned when the Tor host is empty.
	ErrInvalidHost = errors.New("invalid tor host: must not be empty")

	// ErrInvalidPort is returned when the Tor port is outside 1-65535.
	ErrInvalidPort = errors.New("invalid tor port: must be between 1 and 65535")

	// ErrInvalidTimeout is returned when the fetch timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidInterval is returned when the update interval is not positive.
	ErrInvalidInterval = errors.New("invalid update interval: must be positive")

	// ErrInvalidTTL is returned when a cache lifetime is not positive.
	ErrInvalidTTL = errors.New("invalid ttl: must be positive")

	// ErrInvalidURL is returned for endpoint URLs that are not absolute http(s) URLs.
	ErrInvalidURL = errors.New("invalid endpoint url: must be an absolute http or https URL")

	// ErrInvalidListen is returned when the listen address is not host:port.
	ErrInvalidListen = errors.New("invalid listen address: expected host:port")

	// ErrIncompleteTelegram is returned when a bot token is set without a chat.
	ErrIncompleteTelegram = errors.New("incomplete telegram config: token and chat_id must both be set")

	// ErrInvalidLogLevel is returned for unknown log level names.
	ErrInvalidLogLevel = errors.New("invalid log level: must be debug, info, warn, or error")
)
