package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/nao1215/torcheck/internal/config"
	"github.com/nao1215/torcheck/internal/coordinator"
	"github.com/nao1215/torcheck/internal/database"
	torlog "github.com/nao1215/torcheck/internal/log"
	"github.com/nao1215/torcheck/internal/source"
	"github.com/nao1215/torcheck/internal/tor"
)

// addTorFlags registers the flags shared by every command that talks to Tor.
// Defaults mirror config.NewConfig; only flags the user changes override
// the file and environment.
func addTorFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.String("tor-host", config.DefaultTorHost, "Tor SOCKS5 proxy host")
	fs.Int("tor-port", config.DefaultTorPort, "Tor SOCKS5 proxy port (Tor Browser uses 9150)")
	fs.Bool("embedded-tor", false, "Start a private tor daemon instead of using --tor-host/--tor-port")
	fs.DurationP("timeout", "t", config.DefaultTimeout, "Timeout for each remote request")
	fs.Duration("exit-list-ttl", config.DefaultExitListTTL, "How long the exit list is cached")
	fs.Duration("address-ttl", config.DefaultAddressTTL, "How long looked-up addresses are cached")
	fs.String("exit-list-url", config.DefaultExitListURL, "Endpoint returning the Tor exit list")
	fs.String("address-url", config.DefaultAddressURL, "Endpoint returning the caller's address")
	fs.String("address-json-field", "", "JSON path of the address when --address-url answers with JSON")
	fs.String("log-level", "", "Log level: debug, info, warn or error (default warn)")
	fs.Bool("no-history", false, "Do not record checks in the history database")
	addHistoryFlags(cmd)
}

// addHistoryFlags registers the flags that locate the history database.
func addHistoryFlags(cmd *cobra.Command) {
	cmd.Flags().String("history-dir", "", "Directory holding torcheck.db (default: XDG data directory)")
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// getConfigFlag retrieves the --config flag from the command or its parent.
func getConfigFlag(cmd *cobra.Command) string {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		path, err = cmd.Root().PersistentFlags().GetString("config")
		if err != nil {
			return ""
		}
	}
	return path
}

// loadConfig layers the configuration file, TORCHECK_* environment
// variables and changed flags, then validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(getConfigFlag(cmd))
	if err != nil {
		return nil, err
	}

	v := config.NewViper()
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	cfg.Overlay(v)
	cfg.Verbose = getVerboseFlag(cmd)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// newLogger returns the secure logger configured by cfg.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level, err := torlog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelWarn
	}
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	return torlog.New(w, torlog.Options{
		Level:           level,
		RevealAddresses: cfg.RevealAddresses,
	})
}

// torStack is everything a refresh needs. The coordinator owns both
// sessions; the embedded daemon, when used, outlives them.
type torStack struct {
	client   *tor.Client
	embedded *tor.EmbeddedTor
	coord    *coordinator.Coordinator
}

// Close releases the sessions and stops the embedded daemon.
func (s *torStack) Close() error {
	var err error
	if s.coord != nil {
		err = s.coord.Close()
	}
	if s.embedded != nil {
		err = multierr.Append(err, s.embedded.Stop())
	}
	return err
}

// stackOptions adjusts how newTorStack builds the coordinator.
type stackOptions struct {
	// wrapFetcher decorates the fetcher, e.g. with metrics.
	wrapFetcher func(source.Fetcher) source.Fetcher

	// tolerateProxyDown logs a failed handshake with the external proxy
	// instead of returning it. The overlay steps then fail as
	// communication errors on every refresh until the proxy comes up.
	tolerateProxyDown bool
}

// newTorStack connects to Tor and builds the coordinator. Progress messages
// for the embedded daemon go to out.
func newTorStack(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer, opts stackOptions) (*torStack, error) {
	stack := &torStack{}

	if cfg.EmbeddedTor {
		client, embedded, err := startEmbeddedTor(ctx, cfg, logger, out)
		if err != nil {
			return nil, err
		}
		stack.client = client
		stack.embedded = embedded
	} else {
		client, err := tor.NewClient(cfg.ProxyAddress(), cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to create Tor client: %w", err)
		}
		if err := probeProxy(ctx, client); err != nil {
			if !opts.tolerateProxyDown {
				return nil, err
			}
			logger.Warn("Tor proxy unreachable, overlay address will be unknown", "error", err)
		} else {
			logger.Info("Tor proxy connection verified", "address", cfg.ProxyAddress())
		}
		stack.client = client
	}

	var fetcher source.Fetcher = source.NewClient(
		source.WithTimeout(cfg.Timeout),
		source.WithUserAgent(cfg.UserAgent),
	)
	if opts.wrapFetcher != nil {
		fetcher = opts.wrapFetcher(fetcher)
	}

	coord, err := coordinator.New(
		tor.NewDirectHTTPClient(cfg.Timeout),
		stack.client.NewHTTPClient(),
		coordinator.WithFetcher(fetcher),
		coordinator.WithLogger(logger),
		coordinator.WithEndpoints(cfg.ExitListURL, cfg.AddressURL),
		coordinator.WithAddressField(cfg.AddressJSONField),
		coordinator.WithTTLs(cfg.ExitListTTL, cfg.AddressTTL),
	)
	if err != nil {
		_ = stack.Close() //nolint:errcheck // Best effort cleanup
		return nil, fmt.Errorf("failed to create coordinator: %w", err)
	}
	stack.coord = coord

	return stack, nil
}

// probeProxy performs a SOCKS5 handshake and reports a failure with its
// category (invalid_auth, cannot_connect or unknown).
func probeProxy(ctx context.Context, client *tor.Client) error {
	status := client.CheckConnection(ctx)
	if status == tor.ProxyStatusOK {
		return nil
	}
	return fmt.Errorf("tor proxy check failed at %s (%s): %w",
		client.ProxyAddress(), status.Category(), status.Error())
}

// startEmbeddedTor starts an embedded Tor daemon using tornago.
func startEmbeddedTor(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) (*tor.Client, *tor.EmbeddedTor, error) {
	fmt.Fprintln(out, "Starting embedded Tor daemon...")
	fmt.Fprintf(out, "This may take 1-3 minutes while Tor bootstraps and connects to the network.\n\n")

	embedded := tor.NewEmbeddedTor(
		tor.WithStartupTimeout(cfg.TorStartupTimeout),
		tor.WithEmbeddedLogger(logger),
	)
	if err := embedded.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to start embedded Tor: %w", err)
	}

	logger.Info("embedded Tor daemon started",
		"socksAddr", embedded.SocksAddr(),
		"controlAddr", embedded.ControlAddr(),
	)
	fmt.Fprintf(out, "Embedded Tor daemon started (SOCKS proxy %s)\n\n", embedded.SocksAddr())

	client, err := embedded.NewClient(cfg.Timeout)
	if err != nil {
		_ = embedded.Stop() //nolint:errcheck // Best effort cleanup
		return nil, nil, fmt.Errorf("failed to create Tor client: %w", err)
	}

	if err := probeProxy(ctx, client); err != nil {
		_ = embedded.Stop() //nolint:errcheck // Best effort cleanup
		return nil, nil, fmt.Errorf("embedded %w", err)
	}

	return client, embedded, nil
}

// openHistory opens the history database in cfg.History.Dir. With create
// unset a missing database is an error.
func openHistory(cfg *config.Config, create bool) (*database.HistoryDB, error) {
	opts := database.DefaultOptions()
	opts.CreateIfNotExists = create
	db, err := database.Open(cfg.History.Dir, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return db, nil
}
