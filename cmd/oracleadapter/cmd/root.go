// Package cmd holds the oracleadapter command tree.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/oracleadapter/internal/app"
	"github.com/alanyoungcy/oracleadapter/internal/client"
	"github.com/alanyoungcy/oracleadapter/internal/config"
	"github.com/alanyoungcy/oracleadapter/internal/crypto"
	"github.com/alanyoungcy/oracleadapter/internal/retry"
)

// noConfig marks commands that run without loading config.toml.
const noConfig = "no-config"

var (
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "oracleadapter",
	Short: "Price oracle adapter for Chainlink aggregators and job oracles",
	Long: `oracleadapter maps price identifiers to Chainlink oracles and serves
prices to protocol callers. Aggregator bindings are read synchronously;
job-based bindings go through a request/fulfill cycle.

Run "oracleadapter serve" to start the API, or use the operator commands
against a running instance.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.toml", "path to configuration file")
}

// setup loads and validates configuration and installs the JSON logger at
// the configured level.
func setup(cmd *cobra.Command, _ []string) error {
	logger = newLogger(slog.LevelInfo)
	slog.SetDefault(logger)
	if cmd.Annotations[noConfig] != "" {
		return nil
	}

	loaded, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", configPath),
			slog.String("error", err.Error()),
		)
		return err
	}

	var level slog.Level
	switch loaded.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = newLogger(level)
	slog.SetDefault(logger)

	if err := loaded.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return err
	}
	cfg = loaded
	return nil
}

// Logs go to stderr so command output on stdout stays machine-readable.
func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// apiClient builds a client for the configured API. The wallet key signs
// admin and fulfillment calls; without one only unsigned calls work.
func apiClient() (*client.Client, error) {
	var signer *crypto.Signer
	if key := app.WalletKey(cfg); key.Configured() {
		s, err := crypto.LoadSigner(key, cfg.Chain.ChainID)
		if err != nil {
			return nil, fmt.Errorf("load wallet: %w", err)
		}
		signer = s
	}
	return client.New(client.Config{
		BaseURL:      cfg.Adapter.APIURL,
		APIKey:       cfg.Server.APIKey,
		Timeout:      30 * time.Second,
		SignatureTTL: cfg.Adapter.SignatureTTL.Duration,
		Retry:        retry.DefaultConfig(),
	}, signer, logger), nil
}

// commandContext bounds one-shot operator commands.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 2*time.Minute)
}
