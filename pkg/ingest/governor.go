package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/ethpandaops/greinmirror/pkg/datasetstore"
	"github.com/ethpandaops/greinmirror/pkg/grein"
	"github.com/sirupsen/logrus"
)

// Fetcher downloads a single dataset from the remote source.
type Fetcher interface {
	FetchDataset(ctx context.Context, accession string) (*grein.Dataset, error)
}

// idleCloser is implemented by fetchers that pool connections.
type idleCloser interface {
	CloseIdleConnections()
}

// Outcome is the terminal result of fetching one accession that gets
// recorded: either the dataset, or the confirmation that the source
// cannot provide it.
type Outcome struct {
	Accession string
	Status    datasetstore.Status
	Dataset   *grein.Dataset
	Attempts  int
	// Reason wraps ErrNotAvailable and the source error behind an
	// unavailable outcome.
	Reason error
}

// Governor drives the bounded retry loop around single fetch attempts.
type Governor struct {
	log          logrus.FieldLogger
	fetcher      Fetcher
	maxAttempts  int
	retryDelay   time.Duration
	fetchTimeout time.Duration
}

// NewGovernor creates a Governor from the run configuration.
func NewGovernor(log logrus.FieldLogger, fetcher Fetcher, cfg Config) *Governor {
	attempts := cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	return &Governor{
		log:          log.WithField("component", "governor"),
		fetcher:      fetcher,
		maxAttempts:  attempts,
		retryDelay:   cfg.RetryDelay,
		fetchTimeout: cfg.FetchTimeout,
	}
}

// Fetch attempts the accession until it succeeds, fails permanently or
// runs out of attempts. Success and permanent failure both return an
// Outcome. Exhausted retries return ErrRetryLimitExceeded, errors
// outside the taxonomy return ErrUnclassified after a single attempt.
func (g *Governor) Fetch(ctx context.Context, accession string) (*Outcome, error) {
	var (
		dataset  *grein.Dataset
		attempts int
	)

	log := g.log.WithField("accession", accession)

	err := retry.Do(
		func() error {
			attempts++

			ds, err := RunWithDeadline(ctx, g.fetchTimeout,
				func(callCtx context.Context) (*grein.Dataset, error) {
					return g.fetcher.FetchDataset(callCtx, accession)
				},
			)
			if err != nil {
				return err
			}

			dataset = ds

			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(g.maxAttempts)),
		retry.Delay(g.retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return Classify(err) == ClassTransient
		}),
		retry.OnRetry(func(n uint, err error) {
			g.resetConnections()

			if int(n)+1 < g.maxAttempts {
				log.WithError(err).
					WithField("attempt", n+1).
					WithField("delay", g.retryDelay).
					Warn("Transient fetch failure, retrying")
			}
		}),
	)

	if err == nil {
		return &Outcome{
			Accession: accession,
			Status:    datasetstore.StatusAvailable,
			Dataset:   dataset,
			Attempts:  attempts,
		}, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	switch Classify(err) {
	case ClassPermanent:
		log.WithError(err).Debug("Dataset not available at source")

		return &Outcome{
			Accession: accession,
			Status:    datasetstore.StatusUnavailable,
			Attempts:  attempts,
			Reason:    fmt.Errorf("%w: %w", ErrNotAvailable, err),
		}, nil
	case ClassTransient:
		return nil, fmt.Errorf(
			"%w after %d attempts: %w", ErrRetryLimitExceeded, attempts, err,
		)
	default:
		return nil, fmt.Errorf("%w: %w", ErrUnclassified, err)
	}
}

// Attempts returns the configured attempt bound.
func (g *Governor) Attempts() int {
	return g.maxAttempts
}

// resetConnections drops pooled connections after a transient failure.
func (g *Governor) resetConnections() {
	if c, ok := g.fetcher.(idleCloser); ok {
		c.CloseIdleConnections()
	}
}
