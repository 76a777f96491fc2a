package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nao1215/torcheck/internal/database"
	"github.com/nao1215/torcheck/internal/scheduler"
)

const timeLayout = "2006-01-02 15:04:05 MST"

// SimpleWriter outputs human-readable text reports.
// Plain ASCII formatting keeps the output pipe-friendly.
type SimpleWriter struct {
	baseWriter

	// verbose adds run metadata and the exit list digest.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Write outputs the status in human-readable format.
func (w *SimpleWriter) Write(status scheduler.Status) (int, error) {
	var sb strings.Builder

	writeRule(&sb, "=")
	sb.WriteString("                          TORCHECK REPORT\n")
	writeRule(&sb, "=")
	sb.WriteString("\n")

	fmt.Fprintf(&sb, "%-15s %s\n", "State:", StateLabel(status.State.String()))
	fmt.Fprintf(&sb, "%-15s %s\n", "Checked:", formatTime(status.CheckedAt))
	fmt.Fprintf(&sb, "%-15s %s\n", LabelRealIP+":", orUnknown(status.Result.RealAddress))
	fmt.Fprintf(&sb, "%-15s %s\n", LabelTorIP+":", orUnknown(status.Result.OverlayAddress))
	fmt.Fprintf(&sb, "%-15s %s\n", LabelTorConnected+":", yesNo(status.Result.RoutedViaOverlay))
	fmt.Fprintf(&sb, "%-15s %d\n", "Exit relays:", len(status.Result.ExitIdentifiers))

	if status.Message != "" {
		fmt.Fprintf(&sb, "%-15s %s\n", "Error:", status.Message)
	}

	if w.verbose {
		sb.WriteString("\n")
		fmt.Fprintf(&sb, "%-15s %s\n", "Run ID:", status.RunID)
		fmt.Fprintf(&sb, "%-15s %s\n", "Duration:", status.Duration.Round(time.Millisecond))
		if digest := database.ExitDigest(status.Result.ExitIdentifiers); digest != "" {
			fmt.Fprintf(&sb, "%-15s %s\n", "Exit digest:", digest)
		}
	}

	sb.WriteString("\n")
	writeRule(&sb, "=")

	return w.output.Write([]byte(sb.String()))
}

// WriteHistory outputs one line per check.
func (w *SimpleWriter) WriteHistory(checks []database.Check) (int, error) {
	var sb strings.Builder

	if len(checks) == 0 {
		sb.WriteString("No checks recorded\n")
		return w.output.Write([]byte(sb.String()))
	}

	fmt.Fprintf(&sb, "%-23s  %-15s  %-15s  %-15s  %-13s  %s\n",
		"CHECKED", "STATE", LabelRealIP, LabelTorIP, LabelTorConnected, "EXITS")
	writeRule(&sb, "-")
	for _, c := range checks {
		fmt.Fprintf(&sb, "%-23s  %-15s  %-15s  %-15s  %-13s  %d\n",
			formatTime(c.CheckedAt),
			StateLabel(c.State),
			orUnknown(c.RealAddress),
			orUnknown(c.OverlayAddress),
			yesNo(c.Routed),
			c.ExitCount,
		)
		if w.verbose && c.Error != "" {
			fmt.Fprintf(&sb, "  error: %s\n", c.Error)
		}
	}

	return w.output.Write([]byte(sb.String()))
}

func writeRule(sb *strings.Builder, ch string) {
	sb.WriteString(strings.Repeat(ch, 70))
	sb.WriteString("\n")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(timeLayout)
}
