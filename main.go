// Package main provides the entry point for the spyglass server.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spyglass-view/spyglass/backend"
	"github.com/spyglass-view/spyglass/backend/config"
)

// Populated at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configPath string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "spyglass",
		Short: "Spyglass - live log, metric and trace aggregation server",
		Long: `Spyglass aggregates logs, watches, streams and traces from producer
applications over a binary TCP protocol and fans them out to browser
subscribers over websockets.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to settings file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the aggregation server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := config.LoadSettings(configPath)
			if err != nil {
				return err
			}

			logger := backend.NewLogger(os.Stderr, backend.ParseLogLevel(logLevel), 1000)
			logger.Info(fmt.Sprintf("spyglass %s starting", version), "Main")

			server, err := backend.NewServer(settings, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.Run(ctx)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "spyglass %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
