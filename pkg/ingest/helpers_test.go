package ingest

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/greinmirror/pkg/config"
	"github.com/ethpandaops/greinmirror/pkg/datasetstore"
	"github.com/ethpandaops/greinmirror/pkg/grein"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

func testConfig() Config {
	return Config{
		MaxDatasets:  100,
		MaxRetries:   3,
		RetryDelay:   5 * time.Millisecond,
		FetchTimeout: time.Second,
		Concurrency:  4,
	}
}

func setupStore(t *testing.T) datasetstore.Store {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	}

	s := datasetstore.NewStore(testLogger(), cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func sampleDataset(accession string) *grein.Dataset {
	return &grein.Dataset{
		Accession: accession,
		Description: grein.Description{
			Title:   "Title " + accession,
			Species: "Homo sapiens",
		},
		Metadata: map[string]any{
			"GSM1": map[string]any{"source_name": "liver"},
		},
		RawCounts: &grein.CountsTable{
			Columns: []string{"gene", "GSM1"},
			Rows:    [][]string{{"ENSG00000000003", "42"}},
		},
	}
}

type fetchFunc func(ctx context.Context, accession string) (*grein.Dataset, error)

// fakeSource serves a fixed catalog and delegates fetches to fetchFn.
type fakeSource struct {
	catalog []string
	listErr error
	fetchFn fetchFunc

	mu         sync.Mutex
	calls      map[string]int
	idleClosed int
}

func newFakeSource(catalog ...string) *fakeSource {
	return &fakeSource{
		catalog: catalog,
		calls:   make(map[string]int),
		fetchFn: func(_ context.Context, accession string) (*grein.Dataset, error) {
			return sampleDataset(accession), nil
		},
	}
}

func (f *fakeSource) ListDatasets(
	_ context.Context, limit int,
) ([]grein.CatalogEntry, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}

	entries := make([]grein.CatalogEntry, 0, len(f.catalog))

	for _, accession := range f.catalog {
		if len(entries) >= limit {
			break
		}

		entries = append(entries, grein.CatalogEntry{Accession: accession})
	}

	return entries, nil
}

func (f *fakeSource) FetchDataset(
	ctx context.Context, accession string,
) (*grein.Dataset, error) {
	f.mu.Lock()
	f.calls[accession]++
	fn := f.fetchFn
	f.mu.Unlock()

	return fn(ctx, accession)
}

func (f *fakeSource) CloseIdleConnections() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.idleClosed++
}

func (f *fakeSource) callCount(accession string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[accession]
}

func (f *fakeSource) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	total := 0
	for _, n := range f.calls {
		total += n
	}

	return total
}

// recordingProgress captures progress callbacks.
type recordingProgress struct {
	mu         sync.Mutex
	total      int
	increments int
	finished   bool
}

func (p *recordingProgress) Start(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total = total
}

func (p *recordingProgress) Increment() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.increments++
}

func (p *recordingProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.finished = true
}
