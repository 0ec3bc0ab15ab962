package datasetstore

import (
	"errors"
	"fmt"
	"time"
)

// Status records whether the remote source could deliver a dataset.
type Status int

const (
	// StatusUnavailable marks an accession the source reported as not
	// retrievable. No data columns are set.
	StatusUnavailable Status = 0

	// StatusAvailable marks a fully mirrored dataset. All data columns
	// are set.
	StatusAvailable Status = 1
)

// String returns a lowercase label used in logs.
func (s Status) String() string {
	switch s {
	case StatusUnavailable:
		return "unavailable"
	case StatusAvailable:
		return "available"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ErrInvalidRecord is returned when a record breaks the coupling between
// status and data columns.
var ErrInvalidRecord = errors.New("invalid dataset record")

// Dataset is the durable outcome of mirroring one accession.
type Dataset struct {
	Accession        string  `gorm:"primaryKey;type:text"`
	Status           Status  `gorm:"not null;index"`
	Title            *string `gorm:"type:text"`
	Species          *string `gorm:"type:text"`
	Metadata         []byte
	RawCounts        []byte
	NormalisedCounts []byte
	CreatedAt        time.Time
}

// TableName keeps the table name compatible with existing mirrors.
func (Dataset) TableName() string {
	return "dataset"
}

// Validate checks that Available records carry all data columns and
// Unavailable records carry none.
func (d *Dataset) Validate() error {
	if d.Accession == "" {
		return fmt.Errorf("%w: empty accession", ErrInvalidRecord)
	}

	if d.NormalisedCounts != nil {
		return fmt.Errorf(
			"%w: %s: normalised counts are not produced", ErrInvalidRecord, d.Accession,
		)
	}

	switch d.Status {
	case StatusAvailable:
		if d.Title == nil || d.Species == nil ||
			d.Metadata == nil || d.RawCounts == nil {
			return fmt.Errorf(
				"%w: %s: available record is missing data", ErrInvalidRecord, d.Accession,
			)
		}
	case StatusUnavailable:
		if d.Title != nil || d.Species != nil ||
			d.Metadata != nil || d.RawCounts != nil {
			return fmt.Errorf(
				"%w: %s: unavailable record carries data", ErrInvalidRecord, d.Accession,
			)
		}
	default:
		return fmt.Errorf(
			"%w: %s: unknown status %d", ErrInvalidRecord, d.Accession, d.Status,
		)
	}

	return nil
}
