package report

import (
	"io"
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/torcheck/internal/database"
	"github.com/nao1215/torcheck/internal/scheduler"
)

// MarkdownWriter outputs reports in Markdown format.
// This format is designed for documentation and sharing.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the status in Markdown format.
func (w *MarkdownWriter) Write(status scheduler.Status) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H1("torcheck Report")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"State", stateEmoji(status.State.String()) + " " + StateLabel(status.State.String())},
			{"Checked", formatTime(status.CheckedAt)},
			{LabelRealIP, code(status.Result.RealAddress)},
			{LabelTorIP, code(status.Result.OverlayAddress)},
			{LabelTorConnected, yesNo(status.Result.RoutedViaOverlay)},
			{"Exit relays", strconv.Itoa(len(status.Result.ExitIdentifiers))},
		},
	})
	md.PlainText("")

	w.writeAlert(md, status)

	if status.Message != "" {
		md.Details("Error", status.Message)
		md.PlainText("")
	}

	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// writeAlert summarizes the outcome in a GitHub alert.
func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, status scheduler.Status) {
	switch {
	case status.State == scheduler.StateReauthRequired:
		md.Caution("An endpoint rejected the request. Fix the configuration before the next check.")
	case status.State == scheduler.StateUnavailable:
		md.Important("The last check failed. Values shown are from the last successful check.")
	case status.Result.RoutedViaOverlay:
		md.Tip("Traffic leaves through a known Tor exit relay.")
	case status.Result.OverlayAddress != "":
		md.Warningf("%s %s is not a known Tor exit relay.", LabelTorIP, status.Result.OverlayAddress)
	default:
		md.Note("The Tor-observed address is not known yet.")
	}
	md.PlainText("")
}

// WriteHistory outputs a history table with a state distribution chart.
func (w *MarkdownWriter) WriteHistory(checks []database.Check) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H1("torcheck History")
	md.PlainText("")

	if len(checks) == 0 {
		md.PlainText("No checks recorded.")
		md.PlainText("")
		w.writeFooter(md)
		return len(md.String()), md.Build()
	}

	rows := make([][]string, len(checks))
	counts := map[string]uint64{}
	order := []string{}
	for i, c := range checks {
		rows[i] = []string{
			formatTime(c.CheckedAt),
			stateEmoji(c.State) + " " + StateLabel(c.State),
			code(c.RealAddress),
			code(c.OverlayAddress),
			yesNo(c.Routed),
			strconv.Itoa(c.ExitCount),
		}
		if _, seen := counts[c.State]; !seen {
			order = append(order, c.State)
		}
		counts[c.State]++
	}

	md.Table(markdown.TableSet{
		Header: []string{"Checked", "State", LabelRealIP, LabelTorIP, LabelTorConnected, "Exit relays"},
		Rows:   rows,
	})
	md.PlainText("")

	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Check States"),
		piechart.WithShowData(true),
	)
	for _, state := range order {
		chart.LabelAndIntValue(StateLabel(state), counts[state])
	}
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")

	w.writeFooter(md)
	return len(md.String()), md.Build()
}

// writeFooter writes the report footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [torcheck](https://github.com/nao1215/torcheck)*")
}

// stateEmoji marks a state name read back from history. Names written by
// an older or newer build get a neutral marker.
func stateEmoji(name string) string {
	state, err := scheduler.ParseState(name)
	if err != nil {
		return "❔"
	}
	switch state {
	case scheduler.StateAvailable:
		return "✅"
	case scheduler.StateUnavailable:
		return "⚠️"
	case scheduler.StateReauthRequired:
		return "❌"
	default:
		return "❔"
	}
}

// code formats an address as inline code, or "-" when absent.
func code(s string) string {
	if s == "" {
		return "-"
	}
	return "`" + s + "`"
}
