package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nao1215/torcheck/internal/report"
	"github.com/nao1215/torcheck/internal/scheduler"
)

// Notifier is a scheduler.Observer that sends a message whenever the state
// or the routed flag changes. The first observation only alerts when the
// check starts out unhealthy.
type Notifier struct {
	sender          Sender
	logger          *slog.Logger
	revealAddresses bool
}

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) NotifierOption {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithRevealAddresses includes the real address in messages.
func WithRevealAddresses(reveal bool) NotifierOption {
	return func(n *Notifier) {
		n.revealAddresses = reveal
	}
}

// NewNotifier returns a Notifier. A nil sender discards messages.
func NewNotifier(sender Sender, opts ...NotifierOption) *Notifier {
	if sender == nil {
		sender = NoopSender{}
	}
	n := &Notifier{
		sender: sender,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Observe implements scheduler.Observer.
func (n *Notifier) Observe(ctx context.Context, prev, cur scheduler.Status) error {
	if !shouldNotify(prev, cur) {
		return nil
	}

	msg := n.format(prev, cur)
	if err := n.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}
	n.logger.Debug("alert sent", "run_id", cur.RunID, "state", cur.State)
	return nil
}

func healthy(s scheduler.Status) bool {
	return s.State == scheduler.StateAvailable && s.Result.RoutedViaOverlay
}

func shouldNotify(prev, cur scheduler.Status) bool {
	if prev.IsZero() {
		return !healthy(cur)
	}
	return prev.State != cur.State ||
		prev.Result.RoutedViaOverlay != cur.Result.RoutedViaOverlay
}

func (n *Notifier) format(prev, cur scheduler.Status) string {
	var sb strings.Builder

	sb.WriteString("torcheck: ")
	switch {
	case prev.IsZero():
		sb.WriteString("initial check is unhealthy")
	case prev.State != cur.State:
		fmt.Fprintf(&sb, "state changed %s -> %s",
			report.StateLabel(prev.State.String()), report.StateLabel(cur.State.String()))
	default:
		fmt.Fprintf(&sb, "%s changed %s -> %s", report.LabelTorConnected,
			yesNo(prev.Result.RoutedViaOverlay), yesNo(cur.Result.RoutedViaOverlay))
	}
	sb.WriteString("\n\n")

	realAddr := "hidden"
	if n.revealAddresses {
		realAddr = orUnknown(cur.Result.RealAddress)
	}
	fmt.Fprintf(&sb, "State: %s\n", report.StateLabel(cur.State.String()))
	fmt.Fprintf(&sb, "%s: %s\n", report.LabelRealIP, realAddr)
	fmt.Fprintf(&sb, "%s: %s\n", report.LabelTorIP, orUnknown(cur.Result.OverlayAddress))
	fmt.Fprintf(&sb, "%s: %s\n", report.LabelTorConnected, yesNo(cur.Result.RoutedViaOverlay))
	if cur.Message != "" {
		fmt.Fprintf(&sb, "Error: %s\n", cur.Message)
	}
	fmt.Fprintf(&sb, "Checked: %s", cur.CheckedAt.UTC().Format("2006-01-02 15:04:05 MST"))

	return sb.String()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
