package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethpandaops/greinmirror/pkg/datasetstore"
)

// Store is the subset of the dataset store used by ingestion.
type Store interface {
	ListAccessions(ctx context.Context) ([]string, error)
	CreateDataset(ctx context.Context, d *datasetstore.Dataset) error
}

// RecordWriter turns outcomes into records and commits them one at a
// time.
type RecordWriter struct {
	store Store
}

// NewRecordWriter creates a RecordWriter on top of store.
func NewRecordWriter(store Store) *RecordWriter {
	return &RecordWriter{store: store}
}

// Write commits the record for one outcome. A record that already
// exists yields ErrIntegrity. Outcomes that cannot form a valid record
// yield datasetstore.ErrInvalidRecord and nothing is written.
func (w *RecordWriter) Write(ctx context.Context, o *Outcome) error {
	record, err := BuildRecord(o)
	if err != nil {
		return err
	}

	if err := w.store.CreateDataset(ctx, record); err != nil {
		if errors.Is(err, datasetstore.ErrDuplicateAccession) {
			return fmt.Errorf("%w: %w", ErrIntegrity, err)
		}

		return err
	}

	return nil
}

// BuildRecord maps an outcome onto the record that represents it.
func BuildRecord(o *Outcome) (*datasetstore.Dataset, error) {
	record := &datasetstore.Dataset{
		Accession: o.Accession,
		Status:    o.Status,
	}

	if o.Status == datasetstore.StatusAvailable {
		if o.Dataset == nil {
			return nil, fmt.Errorf(
				"%w: %s: available outcome without dataset",
				datasetstore.ErrInvalidRecord, o.Accession,
			)
		}

		metadata, err := json.Marshal(o.Dataset.Metadata)
		if err != nil {
			return nil, fmt.Errorf(
				"%w: %s: encoding metadata: %v",
				datasetstore.ErrInvalidRecord, o.Accession, err,
			)
		}

		rawCounts, err := json.Marshal(o.Dataset.RawCounts)
		if err != nil {
			return nil, fmt.Errorf(
				"%w: %s: encoding raw counts: %v",
				datasetstore.ErrInvalidRecord, o.Accession, err,
			)
		}

		title := o.Dataset.Description.Title
		species := o.Dataset.Description.Species

		record.Title = &title
		record.Species = &species
		record.Metadata = metadata
		record.RawCounts = rawCounts
	}

	if err := record.Validate(); err != nil {
		return nil, err
	}

	return record, nil
}
