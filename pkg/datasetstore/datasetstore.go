package datasetstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/greinmirror/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrNotFound is returned when no record exists for an accession.
	ErrNotFound = errors.New("dataset not found")

	// ErrDuplicateAccession is returned when a record for the accession
	// already exists. Records are created exactly once.
	ErrDuplicateAccession = errors.New("duplicate accession")
)

// sqliteBusyTimeout bounds how long a writer waits on a locked database.
const sqliteBusyTimeout = 5 * time.Second

// Store provides persistence for mirrored dataset records.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// ListAccessions returns every accession present in the store.
	ListAccessions(ctx context.Context) ([]string, error)

	// CreateDataset inserts a new record in its own transaction. It never
	// overwrites: an existing accession yields ErrDuplicateAccession.
	CreateDataset(ctx context.Context, d *Dataset) error

	// GetDataset returns the record for an accession or ErrNotFound.
	GetDataset(ctx context.Context, accession string) (*Dataset, error)

	// CountByStatus returns the number of records per status.
	CountByStatus(ctx context.Context) (map[Status]int64, error)

	// Snapshot writes a consistent copy of the database to path. Only
	// the sqlite driver supports it.
	Snapshot(ctx context.Context, path string) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new dataset Store backed by the configured driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "datasetstore"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger:         logger.Discard,
		TranslateError: true,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening dataset database: %w", err)
	}

	s.db = db

	if s.cfg.Driver == "sqlite" {
		// A single connection keeps ":memory:" databases shared and
		// serializes writers.
		sqlDB, err := s.db.DB()
		if err != nil {
			return fmt.Errorf("getting underlying db: %w", err)
		}

		sqlDB.SetMaxOpenConns(1)

		// WAL lets a serving process read while ingestion writes.
		for _, pragma := range []string{
			fmt.Sprintf("PRAGMA busy_timeout = %d", sqliteBusyTimeout.Milliseconds()),
			"PRAGMA journal_mode = WAL",
		} {
			if err := s.db.WithContext(ctx).Exec(pragma).Error; err != nil {
				return fmt.Errorf("applying %q: %w", pragma, err)
			}
		}
	}

	if err := s.db.WithContext(ctx).AutoMigrate(&Dataset{}); err != nil {
		return fmt.Errorf("running dataset migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).
		Info("Dataset database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// ListAccessions returns every stored accession.
func (s *store) ListAccessions(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&Dataset{}).
		Pluck("accession", &ids).Error; err != nil {
		return nil, fmt.Errorf("listing accessions: %w", err)
	}

	return ids, nil
}

// CreateDataset validates and inserts a record. The existence check and
// the insert share one transaction; the primary key catches any writer
// that slips past the check.
func (s *store) CreateDataset(ctx context.Context, d *Dataset) error {
	if err := d.Validate(); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Dataset{}).
			Where("accession = ?", d.Accession).
			Count(&count).Error; err != nil {
			return fmt.Errorf("checking accession: %w", err)
		}

		if count > 0 {
			return fmt.Errorf("%w: %s", ErrDuplicateAccession, d.Accession)
		}

		if err := tx.Create(d).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: %s", ErrDuplicateAccession, d.Accession)
			}

			return fmt.Errorf("inserting dataset: %w", err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("creating dataset %s: %w", d.Accession, err)
	}

	return nil
}

// GetDataset returns a single record by accession.
func (s *store) GetDataset(
	ctx context.Context, accession string,
) (*Dataset, error) {
	var d Dataset
	if err := s.db.WithContext(ctx).
		Where("accession = ?", accession).
		First(&d).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, accession)
		}

		return nil, fmt.Errorf("getting dataset: %w", err)
	}

	return &d, nil
}

// CountByStatus returns the number of records per status.
func (s *store) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	var rows []struct {
		Status Status
		Count  int64
	}

	if err := s.db.WithContext(ctx).
		Model(&Dataset{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("counting datasets: %w", err)
	}

	counts := make(map[Status]int64, 2)
	for _, r := range rows {
		counts[r.Status] = r.Count
	}

	return counts, nil
}

// Snapshot copies a SQLite database into a fresh file at path using
// VACUUM INTO, which is safe while the source is open.
func (s *store) Snapshot(ctx context.Context, path string) error {
	if s.cfg.Driver != "sqlite" {
		return fmt.Errorf("snapshots require the sqlite driver, got %q", s.cfg.Driver)
	}

	if err := s.db.WithContext(ctx).Exec("VACUUM INTO ?", path).Error; err != nil {
		return fmt.Errorf("writing snapshot to %s: %w", path, err)
	}

	return nil
}
