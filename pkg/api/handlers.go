package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ethpandaops/greinmirror/pkg/datasetstore"
	"github.com/ethpandaops/greinmirror/pkg/grein"
	"github.com/go-chi/chi/v5"
	"github.com/patrickmn/go-cache"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// statusResponse describes a stored record. Title and species are null
// for unavailable datasets.
type statusResponse struct {
	Accession string              `json:"accession"`
	Status    datasetstore.Status `json:"status"`
	Title     *string             `json:"title"`
	Species   *string             `json:"species"`
}

// unknownStatus is returned for accessions without a record.
const unknownStatus = "Unknown"

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus reports whether an accession is mirrored.
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	accession := chi.URLParam(r, "accession")

	d, err := s.lookup(r.Context(), accession)
	if errors.Is(err, datasetstore.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]string{
			"accession": accession,
			"status":    unknownStatus,
		})

		return
	}

	if err != nil {
		s.internalError(w, accession, err)

		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Accession: d.Accession,
		Status:    d.Status,
		Title:     d.Title,
		Species:   d.Species,
	})
}

// handleMetadata returns the stored sample metadata object.
func (s *server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	accession := chi.URLParam(r, "accession")

	d, ok := s.availableDataset(w, r, accession)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	_, _ = w.Write(d.Metadata)
}

// handleRawCounts returns the raw counts table as a TSV download.
func (s *server) handleRawCounts(w http.ResponseWriter, r *http.Request) {
	accession := chi.URLParam(r, "accession")

	d, ok := s.availableDataset(w, r, accession)
	if !ok {
		return
	}

	var table grein.CountsTable
	if err := json.Unmarshal(d.RawCounts, &table); err != nil {
		s.internalError(w, accession, fmt.Errorf("decoding raw counts: %w", err))

		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s.tsv", accession))
	w.WriteHeader(http.StatusOK)

	if err := writeTSV(w, &table); err != nil {
		s.log.WithError(err).
			WithField("accession", accession).
			Warn("Failed to write raw counts")
	}
}

// writeTSV writes the header row followed by every data row.
func writeTSV(w http.ResponseWriter, table *grein.CountsTable) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'

	if err := cw.Write(table.Columns); err != nil {
		return err
	}

	return cw.WriteAll(table.Rows)
}

// availableDataset looks up an accession and writes a 404 when it is
// absent or unavailable. The earlier GREIN proxy answered unavailable
// datasets with 500; clients written against it must check for 404.
func (s *server) availableDataset(
	w http.ResponseWriter, r *http.Request, accession string,
) (*datasetstore.Dataset, bool) {
	d, err := s.lookup(r.Context(), accession)
	if errors.Is(err, datasetstore.ErrNotFound) {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"unknown identifier passed"})

		return nil, false
	}

	if err != nil {
		s.internalError(w, accession, err)

		return nil, false
	}

	if d.Status != datasetstore.StatusAvailable {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"dataset not available in GREIN"})

		return nil, false
	}

	return d, true
}

// lookup returns the record for an accession. Records never change once
// written, so found records are cached and misses are not.
func (s *server) lookup(
	ctx context.Context, accession string,
) (*datasetstore.Dataset, error) {
	if v, found := s.cache.Get(accession); found {
		s.metrics.lookup("hit")

		return v.(*datasetstore.Dataset), nil
	}

	d, err := s.store.GetDataset(ctx, accession)
	if err != nil {
		if errors.Is(err, datasetstore.ErrNotFound) {
			s.metrics.lookup("absent")
		}

		return nil, err
	}

	s.metrics.lookup("miss")
	s.cache.Set(accession, d, cache.DefaultExpiration)

	return d, nil
}

func (s *server) internalError(w http.ResponseWriter, accession string, err error) {
	s.log.WithError(err).
		WithField("accession", accession).
		Error("Failed to serve dataset")

	writeJSON(w, http.StatusInternalServerError,
		errorResponse{"internal server error"})
}
