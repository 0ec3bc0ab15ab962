package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethpandaops/greinmirror/pkg/config"
	"github.com/ethpandaops/greinmirror/pkg/datasetstore"
	"github.com/ethpandaops/greinmirror/pkg/grein"
	"github.com/ethpandaops/greinmirror/pkg/ingest"
	"github.com/spf13/cobra"
)

const logProgressEvery = 100

var (
	updateDatabase     string
	updateMaxDatasets  int
	updateConcurrency  int
	updateMaxRetries   int
	updateRetryDelay   time.Duration
	updateFetchTimeout time.Duration
	updatePublish      bool
	updateProgress     string
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Mirror datasets missing from the local database",
	Long: `Compare the remote GREIN catalog with the local database and fetch every
dataset that is not stored yet. Datasets the source reports as unavailable
are recorded so they are not requested again. Datasets that fail for other
reasons are skipped and retried on the next run.`,
	RunE: runUpdate,
}

func init() {
	rootCmd.AddCommand(updateCmd)

	flags := updateCmd.Flags()
	flags.StringVarP(&updateDatabase, "database", "d", "",
		"SQLite database path (overrides database.sqlite.path)")
	flags.IntVarP(&updateMaxDatasets, "max-datasets", "m", 0,
		"maximum number of catalog entries to consider")
	flags.IntVar(&updateConcurrency, "concurrency", 0,
		"number of parallel fetch workers")
	flags.IntVar(&updateMaxRetries, "max-retries", 0,
		"maximum fetch attempts per dataset")
	flags.DurationVar(&updateRetryDelay, "retry-delay", 0,
		"delay between fetch attempts")
	flags.DurationVar(&updateFetchTimeout, "fetch-timeout", 0,
		"wall-clock bound of a single fetch attempt")
	flags.BoolVar(&updatePublish, "publish", false,
		"publish a database snapshot to S3 after the run")
	flags.StringVar(&updateProgress, "progress", "auto",
		"progress reporting (auto, bar, log, none)")
}

// applyUpdateFlags overrides configuration values with explicitly set
// flags.
func applyUpdateFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	if flags.Changed("database") {
		cfg.Database.Driver = "sqlite"
		cfg.Database.SQLite.Path = updateDatabase
	}

	if flags.Changed("max-datasets") {
		cfg.Ingest.MaxDatasets = updateMaxDatasets
	}

	if flags.Changed("concurrency") {
		cfg.Ingest.Concurrency = updateConcurrency
	}

	if flags.Changed("max-retries") {
		cfg.Ingest.MaxRetries = updateMaxRetries
	}

	if flags.Changed("retry-delay") {
		cfg.Ingest.RetryDelay = updateRetryDelay.String()
	}

	if flags.Changed("fetch-timeout") {
		cfg.Ingest.FetchTimeout = updateFetchTimeout.String()
	}
}

func runUpdate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	applyUpdateFlags(cmd, cfg)

	if err := cfg.ValidateIngest(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	if updatePublish {
		if err := cfg.ValidatePublish(); err != nil {
			return fmt.Errorf("validating publish config: %w", err)
		}
	}

	progress, err := newProgress(updateProgress, os.Stderr)
	if err != nil {
		return err
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

	client := grein.NewClient(log, &cfg.Source)

	ingester := ingest.NewIngester(
		log, ingest.ConfigFromSettings(&cfg.Ingest), store, client, progress,
	)

	summary, err := ingester.Run(ctx)
	if summary != nil {
		printSummary(cmd.OutOrStdout(), summary)

		log.WithFields(summary.Fields()).Info("Ingestion finished")

		if ferr := summary.FailureError(); ferr != nil {
			log.WithError(ferr).Warn("Some datasets were skipped and will be retried on the next run")
		}
	}

	if err != nil {
		return err
	}

	if updatePublish {
		if err := publishSnapshot(ctx, cfg, store); err != nil {
			return fmt.Errorf("publishing snapshot: %w", err)
		}
	}

	return nil
}

// newProgress selects the progress reporter. In auto mode the bar is
// only drawn when out is a terminal.
func newProgress(mode string, out *os.File) (ingest.Progress, error) {
	switch mode {
	case "auto":
		if isTerminal(out) {
			return ingest.NewBarProgress(out), nil
		}

		return ingest.NewLogProgress(log, logProgressEvery), nil
	case "bar":
		return ingest.NewBarProgress(out), nil
	case "log":
		return ingest.NewLogProgress(log, logProgressEvery), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported progress mode %q", mode)
	}
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}

	return info.Mode()&os.ModeCharDevice != 0
}

func printSummary(w io.Writer, s *ingest.Summary) {
	fmt.Fprintf(w, "Datasets in catalog:      %d\n", s.RemoteTotal)
	fmt.Fprintf(w, "Already present:          %d\n", s.AlreadyPresent)
	fmt.Fprintf(w, "Newly available:          %d\n", s.Available)
	fmt.Fprintf(w, "Newly unavailable:        %d\n", s.Unavailable)
	fmt.Fprintf(w, "Failed (retry next run):  %d\n", len(s.Failed))
	fmt.Fprintf(w, "Duration:                 %s\n", s.Duration.Round(time.Second))
}

// withSignals returns a context cancelled on SIGINT or SIGTERM.
func withSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}
