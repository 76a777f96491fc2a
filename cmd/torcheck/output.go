package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nao1215/torcheck/internal/report"
)

// outputFormat selects a report writer.
type outputFormat int

const (
	formatSimple outputFormat = iota
	formatJSON
	formatMarkdown
)

// addReportFlags registers --json and --markdown.
func addReportFlags(cmd *cobra.Command) {
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown (mutually exclusive with --json)")
	cmd.MarkFlagsMutuallyExclusive("json", "markdown")
}

// getOutputFormat reads --json and --markdown.
func getOutputFormat(cmd *cobra.Command) (outputFormat, error) {
	jsonOut, err := cmd.Flags().GetBool("json")
	if err != nil {
		return formatSimple, err
	}
	markdownOut, err := cmd.Flags().GetBool("markdown")
	if err != nil {
		return formatSimple, err
	}
	switch {
	case jsonOut && markdownOut:
		return formatSimple, errors.New("--json and --markdown are mutually exclusive")
	case jsonOut:
		return formatJSON, nil
	case markdownOut:
		return formatMarkdown, nil
	default:
		return formatSimple, nil
	}
}

// newReportWriter returns the writer for format. JSON statuses carry the
// torcheck version.
func newReportWriter(w io.Writer, format outputFormat, verbose bool) report.Writer {
	switch format {
	case formatJSON:
		return report.NewFullJSONWriter(w, getVersion(), report.WithPrettyPrint())
	case formatMarkdown:
		return report.NewMarkdownWriter(w)
	default:
		return report.NewSimpleWriter(w, report.WithVerbose(verbose))
	}
}

// createReportFile creates path and its parent directories.
// Reports include the real address, so the file is private to the owner.
func createReportFile(path string) (*os.File, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600) //nolint:gosec // User-provided output path is intentional
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, nil
}
