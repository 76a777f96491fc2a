// Package log builds torcheck's slog loggers.
//
// Every logger is wrapped in a SecureHandler that masks secrets before they
// reach the output: Telegram bot tokens (including ones embedded in API
// URLs inside error messages), proxy credentials, and other credential-like
// attributes. The machine's real egress address is masked as well unless
// the caller explicitly opts in, since logs are often shared when asking
// for help and the address identifies the user.
//
//	logger := log.New(os.Stderr, log.Options{Level: slog.LevelDebug})
//	logger.Info("refresh completed", "real_address", "203.0.113.9") // real_address=***REDACTED***
package log
