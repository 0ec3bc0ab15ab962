package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethpandaops/greinmirror/pkg/config"
	"github.com/ethpandaops/greinmirror/pkg/datasetstore"
	"github.com/ethpandaops/greinmirror/pkg/upload"
	"github.com/spf13/cobra"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Upload a database snapshot to S3",
	Long: `Write a consistent snapshot of the SQLite database and upload it to the
configured S3-compatible bucket, then point latest.json at it.`,
	RunE: runPublish,
}

func init() {
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	if err := cfg.ValidatePublish(); err != nil {
		return fmt.Errorf("validating publish config: %w", err)
	}

	ctx, stop := withSignals(cmd.Context())
	defer stop()

	store := datasetstore.NewStore(log, &cfg.Database)
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := store.Stop(); err != nil {
			log.WithError(err).Warn("Failed to close store")
		}
	}()

	return publishSnapshot(ctx, cfg, store)
}

// publishSnapshot snapshots the store into a temporary file, uploads it
// and updates the manifest.
func publishSnapshot(
	ctx context.Context, cfg *config.Config, store datasetstore.Store,
) error {
	uploader, err := upload.NewS3Uploader(log, cfg.Publish.S3)
	if err != nil {
		return fmt.Errorf("creating S3 uploader: %w", err)
	}

	if err := uploader.Preflight(ctx); err != nil {
		return fmt.Errorf("s3 preflight: %w", err)
	}

	tmpDir, err := os.MkdirTemp("", "greinmirror-snapshot-")
	if err != nil {
		return fmt.Errorf("creating temp dir: %w", err)
	}

	defer func() { _ = os.RemoveAll(tmpDir) }()

	snapshotPath := filepath.Join(tmpDir, filepath.Base(cfg.Database.SQLite.Path))

	if err := store.Snapshot(ctx, snapshotPath); err != nil {
		return err
	}

	info, err := os.Stat(snapshotPath)
	if err != nil {
		return fmt.Errorf("stat snapshot: %w", err)
	}

	counts, err := store.CountByStatus(ctx)
	if err != nil {
		return err
	}

	key, err := uploader.UploadFile(ctx, snapshotPath)
	if err != nil {
		return fmt.Errorf("uploading snapshot: %w", err)
	}

	if err := uploader.WriteManifest(ctx, &upload.Manifest{
		Key:         key,
		Size:        info.Size(),
		PublishedAt: time.Now().UTC(),
		Available:   counts[datasetstore.StatusAvailable],
		Unavailable: counts[datasetstore.StatusUnavailable],
	}); err != nil {
		return err
	}

	log.WithField("key", key).Info("Snapshot published")

	return nil
}
