package ingest

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// ItemFailure records a work item skipped in this run.
type ItemFailure struct {
	Accession string
	Err       error
}

// Summary reports the counts of one ingestion run.
type Summary struct {
	// RemoteTotal is the number of distinct accessions in the catalog.
	RemoteTotal int
	// AlreadyPresent counts catalog accessions that were already stored.
	AlreadyPresent int
	// Queued is the size of the work list.
	Queued int
	// Available counts newly written Available records.
	Available int
	// Unavailable counts newly written Unavailable records.
	Unavailable int
	// Failed lists work items that were skipped.
	Failed []ItemFailure
	// Committed lists accessions in the order their records were written.
	Committed []string
	Duration  time.Duration
}

// FailureError aggregates the per-item failures, or returns nil.
func (s *Summary) FailureError() error {
	var result *multierror.Error

	for _, f := range s.Failed {
		result = multierror.Append(result, fmt.Errorf("%s: %w", f.Accession, f.Err))
	}

	return result.ErrorOrNil()
}

// Fields returns the summary counts as log fields.
func (s *Summary) Fields() logrus.Fields {
	return logrus.Fields{
		"remote":          s.RemoteTotal,
		"already_present": s.AlreadyPresent,
		"queued":          s.Queued,
		"available":       s.Available,
		"unavailable":     s.Unavailable,
		"failed":          len(s.Failed),
		"duration":        s.Duration.Round(time.Millisecond),
	}
}
