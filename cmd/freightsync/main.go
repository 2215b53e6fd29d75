/*
main.go - freightsync entry point

PURPOSE:
  One binary, three commands:

  serve   run the trip store API (SQLite or in-memory)
  watch   run the synchronization engine against a store API, with its
          poller and the engine HTTP API
  pay     run one payment change through the engine and print the
          transaction record

CONFIGURATION:
  --config points at a TOML file (see config/config.go). Every key has a
  default and a FREIGHTSYNC_* environment override.

EXAMPLES:
  # Store server with an in-memory database
  freightsync serve --db=":memory:"

  # Engine against that store, cache in Redis
  FREIGHTSYNC_CACHE_BACKEND=redis freightsync watch

  # Move a trip's advance to its next status
  freightsync pay FT-1001 --field advance

SEE ALSO:
  - api/server.go: Router configuration
  - freight/engine.go: The engine
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/freight-sync/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "freightsync",
	Short: "Freight payment and trip status synchronization",
	Long: `freightsync keeps a trip's payment installments and its lifecycle
status consistent against an authoritative store. Run "serve" for the
store API and "watch" for the engine.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config and builds the process logger.
func loadConfig() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return cfg, logger, nil
}
