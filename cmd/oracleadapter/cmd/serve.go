package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/oracleadapter/internal/app"
	"github.com/alanyoungcy/oracleadapter/internal/config"
)

var serveMode string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the adapter in the configured mode",
	Long: `Start the adapter. The mode decides what runs:

  server   HTTP and WebSocket API, holding the writer lease
  archive  periodic export of fulfilled requests and registry snapshots
  full     both in one process`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveMode, "mode", "", "override the configured mode (server, archive, full)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	if serveMode != "" {
		cfg.Mode = serveMode
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	redacted := config.RedactedConfig(cfg)
	logger.Info("oracle adapter starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", configPath),
		slog.Any("settings", redacted),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
			return nil
		}
		logger.Error("application exited with error", slog.String("error", err.Error()))
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("oracle adapter stopped")
	return nil
}

// printJSON writes v to the command's stdout.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
