package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for torcheck.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "torcheck",
		Short: "Check whether traffic is routed through Tor",
		Long: `torcheck compares the address seen over a direct connection with the
address seen through a Tor SOCKS5 proxy and checks the latter against the
Tor Project's exit list.

Use "torcheck check" for a one-shot check or "torcheck serve" to keep the
status fresh and expose it over HTTP.

Settings come from a YAML file (see "torcheck init"), TORCHECK_*
environment variables, and flags, in increasing order of precedence.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().StringP("config", "c", "",
		"Configuration file path (default: ./.torcheck.yaml, then the XDG config file)")

	cmd.AddCommand(NewCheckCmd())
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
