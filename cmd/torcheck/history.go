package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/torcheck/internal/config"
)

// maxHistoryLimit caps --limit.
const maxHistoryLimit = 1000

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent checks",
		Long: `History lists the checks recorded by "torcheck check" and "torcheck serve",
newest first.

Examples:
  # Show the last 20 checks
  torcheck history

  # Show the last 5 checks as JSON
  torcheck history -n 5 --json`,
		Args: cobra.NoArgs,
		RunE: runHistoryCmd,
	}

	cmd.Flags().IntP("limit", "n", config.DefaultHistoryLimit,
		fmt.Sprintf("Number of checks to list (1-%d)", maxHistoryLimit))
	addReportFlags(cmd)
	addHistoryFlags(cmd)

	return cmd
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}
	if limit < 1 || limit > maxHistoryLimit {
		return fmt.Errorf("--limit must be between 1 and %d, got %d", maxHistoryLimit, limit)
	}

	format, err := getOutputFormat(cmd)
	if err != nil {
		return err
	}

	db, err := openHistory(cfg, false)
	if err != nil {
		return err
	}
	defer db.Close()

	checks, err := db.List(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("failed to list checks: %w", err)
	}

	writer := newReportWriter(cmd.OutOrStdout(), format, cfg.Verbose)
	if _, err := writer.WriteHistory(checks); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	return nil
}
