package grein

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CatalogEntry is one dataset listed by the remote catalog.
type CatalogEntry struct {
	Accession string `json:"geo_accession"`
	Title     string `json:"title,omitempty"`
	Species   string `json:"species,omitempty"`
}

// Description holds the descriptive fields of a dataset. Keys the
// mirror does not interpret are kept in Extra.
type Description struct {
	Title   string         `mapstructure:"Title"`
	Species string         `mapstructure:"Species"`
	Extra   map[string]any `mapstructure:",remain"`
}

// CountsTable is a tabular numeric dataset. The first column holds the
// gene identifiers, the remaining columns one sample each.
type CountsTable struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Dataset is the full payload fetched for one accession.
type Dataset struct {
	Accession   string
	Description Description
	Metadata    map[string]any
	RawCounts   *CountsTable
}

// UnmarshalJSON accepts both string and numeric cells. Numbers keep
// their textual representation so counts round-trip without float
// conversion.
func (t *CountsTable) UnmarshalJSON(data []byte) error {
	var raw struct {
		Columns []string            `json:"columns"`
		Rows    [][]json.RawMessage `json:"rows"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	rows := make([][]string, 0, len(raw.Rows))

	for i, r := range raw.Rows {
		if len(raw.Columns) > 0 && len(r) != len(raw.Columns) {
			return fmt.Errorf(
				"row %d has %d cells, expected %d", i, len(r), len(raw.Columns),
			)
		}

		row := make([]string, len(r))

		for j, cell := range r {
			cell = bytes.TrimSpace(cell)

			if len(cell) > 0 && cell[0] == '"' {
				if err := json.Unmarshal(cell, &row[j]); err != nil {
					return fmt.Errorf("row %d cell %d: %w", i, j, err)
				}

				continue
			}

			if string(cell) != "null" {
				row[j] = string(cell)
			}
		}

		rows = append(rows, row)
	}

	t.Columns = raw.Columns
	t.Rows = rows

	return nil
}
