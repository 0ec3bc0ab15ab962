package ingest

import (
	"errors"

	"github.com/ethpandaops/greinmirror/pkg/grein"
)

var (
	// ErrTimeoutExceeded is returned when a single fetch attempt did not
	// finish within its deadline. It is transient.
	ErrTimeoutExceeded = errors.New("timeout exceeded")

	// ErrNotAvailable marks a dataset the source reported as permanently
	// unavailable. It is a normal outcome and gets recorded.
	ErrNotAvailable = errors.New("dataset not available")

	// ErrRetryLimitExceeded is returned when every attempt failed with a
	// transient error. The item is skipped for this run.
	ErrRetryLimitExceeded = errors.New("retry limit exceeded")

	// ErrUnclassified wraps fetch errors outside the known taxonomy.
	// They are not retried and the item is skipped for this run.
	ErrUnclassified = errors.New("unclassified fetch error")

	// ErrIntegrity is returned when a record for the accession already
	// exists. It aborts the run.
	ErrIntegrity = errors.New("integrity violation")

	// ErrRunFatal wraps every error that aborts a run.
	ErrRunFatal = errors.New("ingestion run aborted")
)

// ErrorClass is the retry classification of a fetch error.
type ErrorClass int

const (
	// ClassUnknown errors are neither retried nor recorded.
	ClassUnknown ErrorClass = iota
	// ClassTransient errors are retried up to the configured bound.
	ClassTransient
	// ClassPermanent errors are recorded as unavailable after one attempt.
	ClassPermanent
)

// String returns a lowercase label used in logs.
func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Classify maps a fetch error onto its retry class.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassUnknown
	case errors.Is(err, grein.ErrDatasetNotFound),
		errors.Is(err, grein.ErrDatasetUnavailable):
		return ClassPermanent
	case errors.Is(err, grein.ErrConnection),
		errors.Is(err, ErrTimeoutExceeded):
		return ClassTransient
	default:
		return ClassUnknown
	}
}
