package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/greinmirror/pkg/config"
	"github.com/ethpandaops/greinmirror/pkg/ingest"
)

func TestApplyUpdateFlags(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	flags := updateCmd.Flags()
	require.NoError(t, flags.Set("database", "/tmp/mirror.db"))
	require.NoError(t, flags.Set("concurrency", "8"))
	require.NoError(t, flags.Set("retry-delay", "250ms"))

	applyUpdateFlags(updateCmd, cfg)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/mirror.db", cfg.Database.SQLite.Path)
	assert.Equal(t, 8, cfg.Ingest.Concurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Ingest.GetRetryDelay())

	// Unset flags keep configured values.
	assert.Equal(t, config.DefaultMaxRetries, cfg.Ingest.MaxRetries)
	assert.Equal(t, config.DefaultMaxDatasets, cfg.Ingest.MaxDatasets)
}

func TestNewProgress(t *testing.T) {
	for _, mode := range []string{"bar", "log", "none", "auto"} {
		t.Run(mode, func(t *testing.T) {
			_, err := newProgress(mode, nil)
			require.NoError(t, err)
		})
	}

	_, err := newProgress("fancy", nil)
	require.Error(t, err)
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer

	printSummary(&buf, &ingest.Summary{
		RemoteTotal:    10,
		AlreadyPresent: 6,
		Available:      2,
		Unavailable:    1,
		Failed:         []ingest.ItemFailure{{Accession: "GSE9"}},
	})

	out := buf.String()
	assert.Contains(t, out, "Already present:          6")
	assert.Contains(t, out, "Newly available:          2")
	assert.Contains(t, out, "Newly unavailable:        1")
	assert.Contains(t, out, "Failed (retry next run):  1")
}
