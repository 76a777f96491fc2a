// Package notify sends alerts when the check changes state.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender delivers a text message.
type Sender interface {
	Send(ctx context.Context, msg string) error
}

// NoopSender discards every message. It is used when alerts are disabled.
type NoopSender struct{}

// Send implements Sender.
func (NoopSender) Send(context.Context, string) error { return nil }

// ErrEmptyToken is returned by NewTelegramSender for an empty token.
var ErrEmptyToken = errors.New("telegram token is empty")

const (
	defaultSendTimeout = 10 * time.Second
	defaultRetries     = 2
	retryDelay         = 200 * time.Millisecond
)

// TelegramSender posts messages to one chat through the Bot API.
type TelegramSender struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	retries int
	timeout time.Duration
}

// TelegramOption configures a TelegramSender.
type TelegramOption func(*telegramOptions)

type telegramOptions struct {
	endpoint string
	client   tgbotapi.HTTPClient
	retries  int
	timeout  time.Duration
}

// WithAPIEndpoint overrides the Bot API endpoint. The value is a format
// string taking the token and the method, like tgbotapi.APIEndpoint.
func WithAPIEndpoint(endpoint string) TelegramOption {
	return func(o *telegramOptions) {
		o.endpoint = endpoint
	}
}

// WithHTTPClient sets the client used to reach the Bot API.
func WithHTTPClient(client tgbotapi.HTTPClient) TelegramOption {
	return func(o *telegramOptions) {
		if client != nil {
			o.client = client
		}
	}
}

// WithRetries sets how many times a failed send is retried.
func WithRetries(n int) TelegramOption {
	return func(o *telegramOptions) {
		if n >= 0 {
			o.retries = n
		}
	}
}

// WithSendTimeout bounds a single send attempt.
func WithSendTimeout(d time.Duration) TelegramOption {
	return func(o *telegramOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// NewTelegramSender validates the token against the Bot API and returns a
// sender bound to chatID.
func NewTelegramSender(token string, chatID int64, opts ...TelegramOption) (*TelegramSender, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}

	o := telegramOptions{
		endpoint: tgbotapi.APIEndpoint,
		client:   &http.Client{Timeout: defaultSendTimeout},
		retries:  defaultRetries,
		timeout:  defaultSendTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	bot, err := tgbotapi.NewBotAPIWithClient(token, o.endpoint, o.client)
	if err != nil {
		return nil, fmt.Errorf("failed to connect telegram bot: %w", err)
	}

	return &TelegramSender{
		bot:     bot,
		chatID:  chatID,
		retries: o.retries,
		timeout: o.timeout,
	}, nil
}

// Send posts msg to the configured chat, retrying failed attempts.
func (s *TelegramSender) Send(ctx context.Context, msg string) error {
	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * retryDelay):
			}
		}

		lastErr = s.sendOnce(ctx, tgbotapi.NewMessage(s.chatID, msg))
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("failed to send telegram message: %w", lastErr)
}

// sendOnce runs one attempt. The Bot API client takes no context, so the
// call runs in a goroutine and is abandoned on timeout.
func (s *TelegramSender) sendOnce(ctx context.Context, msg tgbotapi.MessageConfig) error {
	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		_, err := s.bot.Send(msg)
		result <- err
	}()

	select {
	case <-sendCtx.Done():
		return sendCtx.Err()
	case err := <-result:
		return err
	}
}
