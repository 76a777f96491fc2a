package report

import (
	"io"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nao1215/torcheck/internal/database"
	"github.com/nao1215/torcheck/internal/scheduler"
)

// User-facing field labels.
const (
	LabelRealIP       = "Real IP"
	LabelTorIP        = "TOR IP"
	LabelTorConnected = "TOR connected"
)

// Writer defines the interface for report output.
//
// Design decision: Writers take a scheduler.Status rather than a bare
// coordinator.Result. The status carries the state and the last error next
// to the last known result, so a report of a failed check still shows the
// addresses from the previous successful refresh and says why it is stale.
type Writer interface {
	// Write outputs a single check status.
	// Returns the number of bytes written and any error encountered.
	Write(status scheduler.Status) (int, error)

	// WriteHistory outputs recorded checks, newest first.
	WriteHistory(checks []database.Check) (int, error)
}

// MultiWriter writes to multiple Writers simultaneously.
// This is useful for outputting to both terminal and file.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs the status to all configured Writers.
// Returns the total bytes written across all writers.
// Stops on first error encountered.
func (m *MultiWriter) Write(status scheduler.Status) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(status)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// WriteHistory outputs the history to all configured Writers.
func (m *MultiWriter) WriteHistory(checks []database.Check) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.WriteHistory(checks)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

// newBaseWriter creates a baseWriter with the given output destination.
func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

var titleCaser = cases.Title(language.English)

// StateLabel turns a state name such as "reauth_required" into
// "Reauth Required".
func StateLabel(state string) string {
	return titleCaser.String(strings.ReplaceAll(state, "_", " "))
}

// orUnknown substitutes a placeholder for an absent address.
func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// yesNo formats the routed flag.
func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
