package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/greinmirror/pkg/datasetstore"
	"github.com/ethpandaops/greinmirror/pkg/grein"
)

func TestIngester_MirrorsNewDatasets(t *testing.T) {
	s := setupStore(t)
	src := newFakeSource("GSE3", "GSE1", "GSE2")
	progress := &recordingProgress{}

	summary, err := NewIngester(testLogger(), testConfig(), s, src, progress).
		Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.RemoteTotal)
	assert.Equal(t, 0, summary.AlreadyPresent)
	assert.Equal(t, 3, summary.Queued)
	assert.Equal(t, 3, summary.Available)
	assert.Empty(t, summary.Failed)
	assert.ElementsMatch(t, []string{"GSE1", "GSE2", "GSE3"}, summary.Committed)
	require.NoError(t, summary.FailureError())

	assert.Equal(t, 3, progress.total)
	assert.Equal(t, 3, progress.increments)
	assert.True(t, progress.finished)

	accessions, err := s.ListAccessions(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"GSE1", "GSE2", "GSE3"}, accessions)
}

func TestIngester_Idempotent(t *testing.T) {
	s := setupStore(t)
	src := newFakeSource("GSE1", "GSE2")
	ctx := context.Background()

	_, err := NewIngester(testLogger(), testConfig(), s, src, nil).Run(ctx)
	require.NoError(t, err)

	callsAfterFirst := src.totalCalls()

	summary, err := NewIngester(testLogger(), testConfig(), s, src, nil).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Queued)
	assert.Equal(t, 2, summary.AlreadyPresent)
	assert.Empty(t, summary.Committed)
	assert.Equal(t, callsAfterFirst, src.totalCalls())

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[datasetstore.StatusAvailable])
}

func TestIngester_IncrementalRun(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, err := NewIngester(testLogger(), testConfig(), s, newFakeSource("GSE1"), nil).Run(ctx)
	require.NoError(t, err)

	src := newFakeSource("GSE1", "GSE2")

	summary, err := NewIngester(testLogger(), testConfig(), s, src, nil).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"GSE2"}, summary.Committed)
	assert.Equal(t, 0, src.callCount("GSE1"))
	assert.Equal(t, 1, src.callCount("GSE2"))
}

func TestIngester_MixedBatch(t *testing.T) {
	s := setupStore(t)
	src := newFakeSource("GSE1", "GSE2", "GSE3")
	src.fetchFn = func(_ context.Context, accession string) (*grein.Dataset, error) {
		switch accession {
		case "GSE2":
			return nil, fmt.Errorf("%w: GSE2 returned status 404", grein.ErrDatasetNotFound)
		case "GSE3":
			return nil, fmt.Errorf("%w: connection refused", grein.ErrConnection)
		default:
			return sampleDataset(accession), nil
		}
	}

	cfg := testConfig()
	cfg.MaxRetries = 2

	summary, err := NewIngester(testLogger(), cfg, s, src, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Available)
	assert.Equal(t, 1, summary.Unavailable)
	require.Len(t, summary.Failed, 1)
	assert.Equal(t, "GSE3", summary.Failed[0].Accession)
	require.ErrorIs(t, summary.Failed[0].Err, ErrRetryLimitExceeded)
	require.ErrorIs(t, summary.FailureError(), ErrRetryLimitExceeded)

	assert.Equal(t, 1, src.callCount("GSE2"))
	assert.Equal(t, 2, src.callCount("GSE3"))

	ctx := context.Background()

	available, err := s.GetDataset(ctx, "GSE1")
	require.NoError(t, err)
	assert.Equal(t, datasetstore.StatusAvailable, available.Status)
	assert.NotNil(t, available.Metadata)
	assert.NotNil(t, available.RawCounts)

	unavailable, err := s.GetDataset(ctx, "GSE2")
	require.NoError(t, err)
	assert.Equal(t, datasetstore.StatusUnavailable, unavailable.Status)
	assert.Nil(t, unavailable.Metadata)
	assert.Nil(t, unavailable.RawCounts)

	_, err = s.GetDataset(ctx, "GSE3")
	require.ErrorIs(t, err, datasetstore.ErrNotFound)

	// The skipped item is picked up again by the next run.
	src.fetchFn = func(_ context.Context, accession string) (*grein.Dataset, error) {
		return sampleDataset(accession), nil
	}

	summary, err = NewIngester(testLogger(), cfg, s, src, nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"GSE3"}, summary.Committed)
}

func TestIngester_SequentialOrder(t *testing.T) {
	s := setupStore(t)
	src := newFakeSource("GSE5", "GSE2", "GSE4", "GSE1", "GSE3")

	cfg := testConfig()
	cfg.Concurrency = 1

	summary, err := NewIngester(testLogger(), cfg, s, src, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"GSE1", "GSE2", "GSE3", "GSE4", "GSE5"}, summary.Committed)
}

func TestIngester_ConcurrencyBound(t *testing.T) {
	s := setupStore(t)

	catalog := make([]string, 0, 20)
	for i := range 20 {
		catalog = append(catalog, fmt.Sprintf("GSE%02d", i))
	}

	var inFlight, peak atomic.Int32

	src := newFakeSource(catalog...)
	src.fetchFn = func(_ context.Context, accession string) (*grein.Dataset, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)

		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}

		time.Sleep(10 * time.Millisecond)

		return sampleDataset(accession), nil
	}

	cfg := testConfig()
	cfg.Concurrency = 3

	summary, err := NewIngester(testLogger(), cfg, s, src, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, summary.Committed, 20)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Positive(t, peak.Load())
}

func TestIngester_HungFetchDoesNotStallRun(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	s := setupStore(t)
	src := newFakeSource("GSE1", "GSE2", "GSE3")
	src.fetchFn = func(_ context.Context, accession string) (*grein.Dataset, error) {
		if accession == "GSE2" {
			<-release

			return nil, errors.New("released")
		}

		return sampleDataset(accession), nil
	}

	cfg := testConfig()
	cfg.Concurrency = 1
	cfg.MaxRetries = 2
	cfg.FetchTimeout = 40 * time.Millisecond

	start := time.Now()

	summary, err := NewIngester(testLogger(), cfg, s, src, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, []string{"GSE1", "GSE3"}, summary.Committed)
	require.Len(t, summary.Failed, 1)
	require.ErrorIs(t, summary.Failed[0].Err, ErrTimeoutExceeded)
}

func TestIngester_UnclassifiedErrorSkipsItem(t *testing.T) {
	s := setupStore(t)
	src := newFakeSource("GSE1", "GSE2")
	src.fetchFn = func(_ context.Context, accession string) (*grein.Dataset, error) {
		if accession == "GSE1" {
			return nil, errors.New("decoding dataset GSE1: unexpected EOF")
		}

		return sampleDataset(accession), nil
	}

	summary, err := NewIngester(testLogger(), testConfig(), s, src, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"GSE2"}, summary.Committed)
	require.Len(t, summary.Failed, 1)
	require.ErrorIs(t, summary.Failed[0].Err, ErrUnclassified)
	assert.Equal(t, 1, src.callCount("GSE1"))
}

// staleStore hides some stored accessions from ListAccessions so the
// work list contains an accession that already has a record.
type staleStore struct {
	datasetstore.Store
	hidden map[string]bool
}

func (s *staleStore) ListAccessions(ctx context.Context) ([]string, error) {
	all, err := s.Store.ListAccessions(ctx)
	if err != nil {
		return nil, err
	}

	visible := make([]string, 0, len(all))

	for _, a := range all {
		if !s.hidden[a] {
			visible = append(visible, a)
		}
	}

	return visible, nil
}

func TestIngester_IntegrityViolationAborts(t *testing.T) {
	base := setupStore(t)
	ctx := context.Background()

	require.NoError(t, base.CreateDataset(ctx, &datasetstore.Dataset{
		Accession: "GSE1",
		Status:    datasetstore.StatusUnavailable,
	}))

	s := &staleStore{Store: base, hidden: map[string]bool{"GSE1": true}}
	src := newFakeSource("GSE1", "GSE2", "GSE3")

	cfg := testConfig()
	cfg.Concurrency = 1

	summary, err := NewIngester(testLogger(), cfg, s, src, nil).Run(ctx)
	require.ErrorIs(t, err, ErrRunFatal)
	require.ErrorIs(t, err, ErrIntegrity)
	require.NotNil(t, summary)
	assert.Empty(t, summary.Committed)

	got, err := base.GetDataset(ctx, "GSE1")
	require.NoError(t, err)
	assert.Equal(t, datasetstore.StatusUnavailable, got.Status)

	_, err = base.GetDataset(ctx, "GSE3")
	require.ErrorIs(t, err, datasetstore.ErrNotFound)
}

// failingStore rejects every write.
type failingStore struct {
	datasetstore.Store
}

func (failingStore) CreateDataset(context.Context, *datasetstore.Dataset) error {
	return errors.New("database is locked")
}

func TestIngester_StoreErrorAborts(t *testing.T) {
	s := failingStore{Store: setupStore(t)}
	src := newFakeSource("GSE1", "GSE2")

	summary, err := NewIngester(testLogger(), testConfig(), s, src, nil).Run(context.Background())
	require.ErrorIs(t, err, ErrRunFatal)
	assert.Empty(t, summary.Committed)
}

func TestIngester_CatalogFailureAborts(t *testing.T) {
	s := setupStore(t)
	src := newFakeSource()
	src.listErr = fmt.Errorf("%w: dial tcp: refused", grein.ErrConnection)

	summary, err := NewIngester(testLogger(), testConfig(), s, src, nil).Run(context.Background())
	require.ErrorIs(t, err, ErrRunFatal)
	require.ErrorIs(t, err, grein.ErrConnection)
	assert.Nil(t, summary)
}

func TestIngester_MaxDatasetsLimitsCatalog(t *testing.T) {
	s := setupStore(t)
	src := newFakeSource("GSE1", "GSE2", "GSE3", "GSE4")

	cfg := testConfig()
	cfg.MaxDatasets = 2

	summary, err := NewIngester(testLogger(), cfg, s, src, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.RemoteTotal)
	assert.ElementsMatch(t, []string{"GSE1", "GSE2"}, summary.Committed)
}

func TestIngester_ParentCancellation(t *testing.T) {
	s := setupStore(t)
	src := newFakeSource("GSE1", "GSE2", "GSE3")

	ctx, cancel := context.WithCancel(context.Background())

	src.fetchFn = func(fetchCtx context.Context, accession string) (*grein.Dataset, error) {
		if accession == "GSE2" {
			cancel()
			<-fetchCtx.Done()

			return nil, fetchCtx.Err()
		}

		return sampleDataset(accession), nil
	}

	cfg := testConfig()
	cfg.Concurrency = 1

	summary, err := NewIngester(testLogger(), cfg, s, src, nil).Run(ctx)
	require.ErrorIs(t, err, ErrRunFatal)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{"GSE1"}, summary.Committed)
	assert.Empty(t, summary.Failed)
	assert.Equal(t, 0, src.callCount("GSE3"))
}
