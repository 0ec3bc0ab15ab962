package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/greinmirror/pkg/config"
	"github.com/ethpandaops/greinmirror/pkg/datasetstore"
	"github.com/ethpandaops/greinmirror/pkg/grein"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Catalog enumerates the remote catalog.
type Catalog interface {
	ListDatasets(ctx context.Context, limit int) ([]grein.CatalogEntry, error)
}

// Source is the remote catalog together with its dataset endpoint.
type Source interface {
	Catalog
	Fetcher
}

// Config holds the settings of a single ingestion run.
type Config struct {
	MaxDatasets  int
	MaxRetries   int
	RetryDelay   time.Duration
	FetchTimeout time.Duration
	Concurrency  int
}

// ConfigFromSettings converts the file configuration into a run Config.
func ConfigFromSettings(cfg *config.IngestConfig) Config {
	return Config{
		MaxDatasets:  cfg.MaxDatasets,
		MaxRetries:   cfg.MaxRetries,
		RetryDelay:   cfg.GetRetryDelay(),
		FetchTimeout: cfg.GetFetchTimeout(),
		Concurrency:  cfg.Concurrency,
	}
}

// Ingester mirrors the datasets missing from the store.
type Ingester interface {
	// Run performs one incremental pass. Per-dataset failures are
	// reported in the Summary; only run-level failures return an error,
	// always wrapping ErrRunFatal.
	Run(ctx context.Context) (*Summary, error)
}

// Compile-time interface check.
var _ Ingester = (*ingester)(nil)

type ingester struct {
	log      logrus.FieldLogger
	cfg      Config
	store    Store
	source   Source
	governor *Governor
	writer   *RecordWriter
	progress Progress
}

// NewIngester creates an Ingester. A nil progress disables reporting.
func NewIngester(
	log logrus.FieldLogger,
	cfg Config,
	store Store,
	source Source,
	progress Progress,
) Ingester {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	if progress == nil {
		progress = noopProgress{}
	}

	log = log.WithField("component", "ingester")

	return &ingester{
		log:      log,
		cfg:      cfg,
		store:    store,
		source:   source,
		governor: NewGovernor(log, source, cfg),
		writer:   NewRecordWriter(store),
		progress: progress,
	}
}

// fetchResult is what a worker hands back to the committing goroutine.
type fetchResult struct {
	accession string
	outcome   *Outcome
	err       error
}

// Run diffs the catalog against the store and fetches what is missing.
func (ing *ingester) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()

	local, err := ing.store.ListAccessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: listing stored accessions: %w", ErrRunFatal, err)
	}

	ing.log.WithField("count", len(local)).Info("Datasets available in database")

	entries, err := ing.source.ListDatasets(ctx, ing.cfg.MaxDatasets)
	if err != nil {
		return nil, fmt.Errorf("%w: enumerating catalog: %w", ErrRunFatal, err)
	}

	remote := make([]string, 0, len(entries))
	for _, e := range entries {
		remote = append(remote, e.Accession)
	}

	work := Diff(remote, local)

	summary := &Summary{
		RemoteTotal: len(Diff(remote, nil)),
		Queued:      len(work),
	}
	summary.AlreadyPresent = summary.RemoteTotal - summary.Queued

	ing.log.WithFields(logrus.Fields{
		"remote":          summary.RemoteTotal,
		"already_present": summary.AlreadyPresent,
		"new":             summary.Queued,
	}).Info("Catalog enumerated")

	if len(work) == 0 {
		ing.log.Info("Database up to date")

		summary.Duration = time.Since(start)

		return summary, nil
	}

	ing.log.WithFields(logrus.Fields{
		"concurrency":   ing.cfg.Concurrency,
		"max_attempts":  ing.governor.Attempts(),
		"retry_delay":   ing.cfg.RetryDelay,
		"fetch_timeout": ing.cfg.FetchTimeout,
	}).Info("Loading new datasets")

	err = ing.process(ctx, work, summary)

	summary.Duration = time.Since(start)

	return summary, err
}

// process fans the work list out to a bounded worker pool and commits
// each outcome on the calling goroutine in completion order. Store
// writes therefore never run concurrently.
func (ing *ingester) process(
	ctx context.Context, work []string, summary *Summary,
) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan fetchResult)

	ing.progress.Start(len(work))
	defer ing.progress.Finish()

	go func() {
		defer close(results)

		var g errgroup.Group
		g.SetLimit(ing.cfg.Concurrency)

		for _, accession := range work {
			if runCtx.Err() != nil {
				break
			}

			g.Go(func() error {
				if runCtx.Err() != nil {
					return nil
				}

				outcome, err := ing.governor.Fetch(runCtx, accession)

				select {
				case results <- fetchResult{
					accession: accession,
					outcome:   outcome,
					err:       err,
				}:
				case <-runCtx.Done():
				}

				return nil
			})
		}

		_ = g.Wait()
	}()

	var fatal error

	for res := range results {
		if fatal != nil {
			continue
		}

		if err := ing.commit(runCtx, res, summary); err != nil {
			ing.log.WithError(err).
				WithField("accession", res.accession).
				Error("Aborting ingestion run")

			fatal = err

			cancel()
		}
	}

	if fatal != nil {
		return fmt.Errorf("%w: %w", ErrRunFatal, fatal)
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrRunFatal, err)
	}

	return nil
}

// commit handles one finished work item. It returns an error only when
// the run must stop.
func (ing *ingester) commit(
	ctx context.Context, res fetchResult, summary *Summary,
) error {
	log := ing.log.WithField("accession", res.accession)

	if res.err != nil {
		if ctx.Err() != nil {
			// Cancelled mid-flight, not a dataset failure.
			return nil
		}

		log.WithError(res.err).Error("Failed to load dataset, skipping")

		summary.Failed = append(summary.Failed, ItemFailure{
			Accession: res.accession,
			Err:       res.err,
		})

		ing.progress.Increment()

		return nil
	}

	log.WithField("status", res.outcome.Status).
		Debug("Saving dataset into database")

	if err := ing.writer.Write(ctx, res.outcome); err != nil {
		if errors.Is(err, datasetstore.ErrInvalidRecord) {
			log.WithError(err).Error("Rejected dataset record, skipping")

			summary.Failed = append(summary.Failed, ItemFailure{
				Accession: res.accession,
				Err:       err,
			})

			ing.progress.Increment()

			return nil
		}

		return err
	}

	summary.Committed = append(summary.Committed, res.accession)

	switch res.outcome.Status {
	case datasetstore.StatusAvailable:
		summary.Available++

		log.WithField("attempts", res.outcome.Attempts).Info("Dataset mirrored")
	case datasetstore.StatusUnavailable:
		summary.Unavailable++

		log.WithError(res.outcome.Reason).Warn("Dataset not available, recorded")
	}

	ing.progress.Increment()

	return nil
}
