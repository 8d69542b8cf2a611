package cmd

import (
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/oracleadapter/internal/app"
	"github.com/alanyoungcy/oracleadapter/internal/domain"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Export fulfilled requests and registry snapshots to S3",
}

var archiveRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one archive cycle now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		application, deps, err := wireArchive(cmd)
		if err != nil {
			return err
		}
		defer application.Close()

		ctx, cancel := commandContext(cmd)
		defer cancel()
		return application.ArchiveOnce(ctx, deps)
	},
}

var archiveSnapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Write a registry snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		application, deps, err := wireArchive(cmd)
		if err != nil {
			return err
		}
		defer application.Close()

		ctx, cancel := commandContext(cmd)
		defer cancel()
		path, err := deps.Oracle.Snapshot(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var archiveListCmd = &cobra.Command{
	Use:   "ls [prefix]",
	Short: "List archived objects",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		application, deps, err := wireArchive(cmd)
		if err != nil {
			return err
		}
		defer application.Close()

		prefix := ""
		if len(args) == 1 {
			prefix = args[0]
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		blobs, err := deps.BlobReader.List(ctx, prefix)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PATH\tSIZE\tMODIFIED")
		for _, b := range blobs {
			fmt.Fprintf(tw, "%s\t%d\t%s\n", b.Path, b.Size, b.LastModified.Format("2006-01-02 15:04:05"))
		}
		return tw.Flush()
	},
}

func init() {
	archiveCmd.AddCommand(archiveRunCmd, archiveSnapshotCmd, archiveListCmd)
	rootCmd.AddCommand(archiveCmd)
}

// wireArchive builds the dependencies a one-shot archive command needs.
func wireArchive(cmd *cobra.Command) (*app.App, *app.Dependencies, error) {
	if !cfg.Archive.Enabled {
		return nil, nil, fmt.Errorf("archive: %w: set archive.enabled", domain.ErrNotConfigured)
	}
	application := app.New(cfg, logger)
	deps, err := application.Wire(cmd.Context())
	if err != nil {
		application.Close()
		return nil, nil, err
	}
	logger.Debug("archive dependencies ready", slog.String("bucket", cfg.S3.Bucket))
	return application, deps, nil
}
