package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
)

// MaskValue replaces sensitive values.
const MaskValue = "***REDACTED***"

// sensitiveKeys are attribute keys whose values are always masked.
var sensitiveKeys = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"cookie":              true,
	"password":            true,
	"secret":              true,
	"token":               true,
	"bot_token":           true,
	"telegram_token":      true,
	"chat_id":             true,
	"api_key":             true,
	"credentials":         true,
}

// sensitiveKeywords mask any key that contains them.
var sensitiveKeywords = []string{
	"password", "passwd", "secret", "token", "credential", "auth",
}

// addressKeys carry the real egress address.
var addressKeys = map[string]bool{
	"real_address": true,
	"my_ip":        true,
	"real_ip":      true,
}

// sensitivePatterns mask a whole string value when it matches.
var sensitivePatterns = []*regexp.Regexp{
	// Telegram bot token
	regexp.MustCompile(`^\d{6,}:[A-Za-z0-9_-]{30,}$`),

	// Bearer and basic credentials
	regexp.MustCompile(`(?i)^bearer\s+.+`),
	regexp.MustCompile(`(?i)^basic\s+[A-Za-z0-9+/=]+$`),
}

// embeddedPatterns are masked in place inside longer strings such as error
// messages. The telegram client puts the token in the request path.
var embeddedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`bot\d{6,}:[A-Za-z0-9_-]{30,}`),
	regexp.MustCompile(`socks5h?://[^:@/\s]+:[^@/\s]+@`),
}

// SecureHandler masks sensitive attributes before delegating to another
// slog.Handler.
type SecureHandler struct {
	handler         slog.Handler
	revealAddresses bool
}

// NewSecureHandler wraps handler. A nil handler wraps slog.Default's.
func NewSecureHandler(handler slog.Handler) *SecureHandler {
	if handler == nil {
		handler = slog.Default().Handler()
	}
	return &SecureHandler{handler: handler}
}

// RevealAddresses returns a copy of h that logs real addresses verbatim.
func (h *SecureHandler) RevealAddresses() *SecureHandler {
	return &SecureHandler{handler: h.handler, revealAddresses: true}
}

// Enabled implements slog.Handler.
func (h *SecureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *SecureHandler) Handle(ctx context.Context, r slog.Record) error {
	sanitized := slog.NewRecord(r.Time, r.Level, maskEmbedded(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		sanitized.AddAttrs(h.sanitizeAttr(a))
		return true
	})
	return h.handler.Handle(ctx, sanitized)
}

// WithAttrs implements slog.Handler. Attributes are sanitized up front.
func (h *SecureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	sanitized := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		sanitized[i] = h.sanitizeAttr(a)
	}
	return &SecureHandler{handler: h.handler.WithAttrs(sanitized), revealAddresses: h.revealAddresses}
}

// WithGroup implements slog.Handler.
func (h *SecureHandler) WithGroup(name string) slog.Handler {
	return &SecureHandler{handler: h.handler.WithGroup(name), revealAddresses: h.revealAddresses}
}

func (h *SecureHandler) sanitizeAttr(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()

	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		sanitized := make([]slog.Attr, len(attrs))
		for i, ga := range attrs {
			sanitized[i] = h.sanitizeAttr(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(sanitized...)}
	}

	key := strings.ToLower(a.Key)
	if isSensitiveKey(key) {
		return slog.String(a.Key, MaskValue)
	}
	if !h.revealAddresses && addressKeys[key] {
		if a.Value.Kind() == slog.KindString && a.Value.String() == "" {
			return a
		}
		return slog.String(a.Key, MaskValue)
	}

	switch a.Value.Kind() {
	case slog.KindString:
		s := a.Value.String()
		if isSensitiveValue(s) {
			return slog.String(a.Key, MaskValue)
		}
		if masked := maskEmbedded(s); masked != s {
			return slog.String(a.Key, masked)
		}
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok && err != nil {
			msg := err.Error()
			if masked := maskEmbedded(msg); masked != msg {
				return slog.String(a.Key, masked)
			}
		}
	}
	return a
}

func isSensitiveKey(key string) bool {
	if sensitiveKeys[key] {
		return true
	}
	for _, kw := range sensitiveKeywords {
		if strings.Contains(key, kw) {
			return true
		}
	}
	return false
}

func isSensitiveValue(value string) bool {
	for _, p := range sensitivePatterns {
		if p.MatchString(value) {
			return true
		}
	}
	return false
}

func maskEmbedded(s string) string {
	for _, p := range embeddedPatterns {
		s = p.ReplaceAllStringFunc(s, func(match string) string {
			switch {
			case strings.HasPrefix(match, "bot"):
				return "bot" + MaskValue
			case strings.HasPrefix(match, "socks5"):
				scheme, _, _ := strings.Cut(match, "://")
				return scheme + "://" + MaskValue + "@"
			default:
				return MaskValue
			}
		})
	}
	return s
}

// Options configures New.
type Options struct {
	// Level is the minimum level written.
	Level slog.Level

	// JSON selects JSON output instead of text.
	JSON bool

	// RevealAddresses logs the real egress address verbatim.
	RevealAddresses bool
}

// New returns a logger writing to w through a SecureHandler.
func New(w io.Writer, opts Options) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}

	var base slog.Handler
	if opts.JSON {
		base = slog.NewJSONHandler(w, handlerOpts)
	} else {
		base = slog.NewTextHandler(w, handlerOpts)
	}

	secure := NewSecureHandler(base)
	if opts.RevealAddresses {
		secure = secure.RevealAddresses()
	}
	return slog.New(secure)
}

// NewSecureLogger returns a text logger at Warn, or Debug when verbose.
func NewSecureLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return New(w, Options{Level: level})
}

// ParseLevel maps a level name (debug, info, warn, error) to a slog.Level.
// The empty string is Warn.
func ParseLevel(s string) (slog.Level, error) {
	if strings.TrimSpace(s) == "" {
		return slog.LevelWarn, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelWarn, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}
