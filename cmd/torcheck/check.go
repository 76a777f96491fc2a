package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nao1215/torcheck/internal/config"
	"github.com/nao1215/torcheck/internal/report"
	"github.com/nao1215/torcheck/internal/scheduler"
	"github.com/nao1215/torcheck/internal/tor"
)

// errProbeEmbedded is returned by check --probe with the embedded daemon,
// which has no pre-existing proxy to probe.
var errProbeEmbedded = errors.New("--probe checks an existing proxy and cannot be combined with --embedded-tor")

// NewCheckCmd creates the check command.
func NewCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check once whether traffic is routed through Tor",
		Long: `Check fetches the Tor exit list, the address seen through the Tor proxy
and the address seen over a direct connection, then reports whether the
Tor address is a known exit relay.

The exit status is non-zero when the check could not be completed or the
remote service rejected the credentials.

Examples:
  # Check using the tor service on localhost:9050
  torcheck check

  # Check through Tor Browser's proxy
  torcheck check --tor-port 9150

  # Only verify that the proxy speaks SOCKS5
  torcheck check --probe

  # Write a JSON report to a file
  torcheck check --json -o report.json`,
		Args: cobra.NoArgs,
		RunE: runCheckCmd,
	}

	addTorFlags(cmd)
	addReportFlags(cmd)
	cmd.Flags().StringP("output", "o", "",
		"Write the report to the specified file (a summary is still printed)")
	cmd.Flags().Bool("probe", false,
		"Only verify the SOCKS5 proxy, without contacting the lookup services")

	return cmd
}

// runCheckCmd executes the check command.
func runCheckCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	probeOnly, err := cmd.Flags().GetBool("probe")
	if err != nil {
		return err
	}
	if probeOnly {
		return runProbe(ctx, cfg, cmd.OutOrStdout())
	}

	format, err := getOutputFormat(cmd)
	if err != nil {
		return err
	}
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	status, err := runCheck(ctx, cfg, logger, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	if err := writeCheckReport(cmd.OutOrStdout(), outputPath, format, cfg.Verbose, status); err != nil {
		return err
	}
	return checkError(status)
}

// runCheck performs one refresh and records it when history is enabled.
func runCheck(ctx context.Context, cfg *config.Config, logger *slog.Logger, progress io.Writer) (scheduler.Status, error) {
	stack, err := newTorStack(ctx, cfg, logger, progress, stackOptions{})
	if err != nil {
		return scheduler.Status{}, err
	}
	defer func() {
		if err := stack.Close(); err != nil {
			logger.Warn("failed to release Tor sessions", "error", err)
		}
	}()

	var observers []scheduler.Observer
	if cfg.History.Enabled {
		db, err := openHistory(cfg, true)
		if err != nil {
			// A check is still useful without its history entry.
			logger.Warn("history disabled for this check", "error", err)
		} else {
			defer db.Close()
			observers = append(observers, db)
		}
	}

	sched := scheduler.New(stack.coord,
		scheduler.WithLogger(logger),
		scheduler.WithObservers(observers...),
	)
	status := sched.RefreshNow(ctx)
	if err := ctx.Err(); err != nil {
		return scheduler.Status{}, fmt.Errorf("check interrupted: %w", err)
	}
	return status, nil
}

// runProbe reports the outcome of a SOCKS5 handshake with the proxy.
func runProbe(ctx context.Context, cfg *config.Config, out io.Writer) error {
	if cfg.EmbeddedTor {
		return errProbeEmbedded
	}
	client, err := tor.NewClient(cfg.ProxyAddress(), cfg.Timeout)
	if err != nil {
		return fmt.Errorf("failed to create Tor client: %w", err)
	}
	if err := probeProxy(ctx, client); err != nil {
		return err
	}
	fmt.Fprintf(out, "Tor proxy at %s: %s\n", client.ProxyAddress(), tor.ProxyStatusOK.Category())
	return nil
}

// writeCheckReport prints status to out, or writes it to outputPath in
// format and prints a plain summary to out.
func writeCheckReport(out io.Writer, outputPath string, format outputFormat, verbose bool, status scheduler.Status) error {
	var writer report.Writer
	if outputPath == "" {
		writer = newReportWriter(out, format, verbose)
	} else {
		f, err := createReportFile(outputPath)
		if err != nil {
			return err
		}
		defer f.Close()
		writer = report.NewMultiWriter(
			newReportWriter(f, format, verbose),
			newReportWriter(out, formatSimple, verbose),
		)
	}

	if _, err := writer.Write(status); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// checkError turns an unsuccessful status into the command's error.
func checkError(status scheduler.Status) error {
	if status.OK() {
		return nil
	}
	if status.Err != nil {
		return fmt.Errorf("check %s: %w", status.State, status.Err)
	}
	return fmt.Errorf("check %s", status.State)
}
