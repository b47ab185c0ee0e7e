package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/lychee-technology/strata"
	"github.com/lychee-technology/strata/factory"
	"github.com/lychee-technology/strata/internal"
	"github.com/lychee-technology/strata/internal/archive"
	"github.com/spf13/cobra"
)

func newArchiveCmd(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "archive-history",
		Short: "Export aged field history to Parquet on S3 and prune it from the store",
		Example: `  strata-tools archive-history --bucket my-archive --older-than 720h
  strata-tools archive-history --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := a.cfg.Store

			source, err := openHistorySource(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer source.Close()

			client, err := factory.NewS3Client(ctx, cfg.Archive.S3Region, cfg.Archive.S3Endpoint)
			if err != nil {
				return err
			}
			archiver, err := archive.New(ctx, cfg.Archive, cfg.Database.Dialect, source, manager.NewUploader(client))
			if err != nil {
				return err
			}
			defer archiver.Close()

			result, err := archiver.Run(ctx, dryRun)
			if result != nil {
				if werr := writeJSON(cmd.OutOrStdout(), result); werr != nil && err == nil {
					err = werr
				}
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "export and upload one batch without deleting it")
	cmd.Flags().Duration("older-than", 0, "archive history older than this age")
	cmd.Flags().Int("batch-size", 0, "rows per Parquet file")
	cmd.Flags().String("bucket", "", "destination S3 bucket")
	return cmd
}

// openHistorySource connects to the store's database. Postgres goes through lib/pq
// so the archiver holds a plain database/sql pool next to the store's pgx pool.
func openHistorySource(ctx context.Context, db strata.DatabaseConfig) (internal.Session, error) {
	if db.Dialect == strata.DialectPostgres {
		session, err := archive.OpenPostgresSource(db, factory.ResolvePassword(ctx, db))
		if err != nil {
			return nil, fmt.Errorf("open history source: %w", err)
		}
		return session, nil
	}
	return factory.OpenSession(ctx, db)
}
