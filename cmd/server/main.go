package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"semaphore/liveclass/internal/config"
	"semaphore/liveclass/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:           "liveclass",
	Short:         "Live classroom collaboration service",
	Long:          `HTTP, websocket and gRPC health API for tag-team sessions. Commands: serve, migrate, cleanup, token.`,
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().Bool("migrate", false, "apply pending migrations before serving")
	rootCmd.AddCommand(serveCmd, migrateCmd, cleanupCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap loads configuration and builds the process logger.
func bootstrap() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("config: %w", err)
	}
	logger, err := logging.New(cfg.Development(), cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, logger, nil
}
