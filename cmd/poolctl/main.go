// Command poolctl is the operator CLI for a running relaypool server. It
// speaks the management API under /admin and renders pool state in the
// terminal.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		serverURL string
		timeout   time.Duration
	)

	rootCmd := &cobra.Command{
		Use:           "poolctl",
		Short:         "Manage a relaypool server from the terminal",
		Long:          "poolctl drives the relaypool management API: register and toggle upstream accounts, inspect quota snapshots, apply rate limit windows, and summarize relayed usage.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		envOrDefault("POOLCTL_SERVER", "http://localhost:8080"), "relaypool server base URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")

	api := &client{}
	rootCmd.PersistentPreRun = func(_ *cobra.Command, _ []string) {
		*api = *newClient(serverURL, timeout)
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newAccountsCmd(api),
		newQuotaCmd(api),
		newRateLimitCmd(api),
		newCacheCmd(api),
		newStatusCmd(api),
		newUsageCmd(api),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
