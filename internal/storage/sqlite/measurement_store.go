// Package sqlite stores measurements in a single-file SQLite database.
package sqlite

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/JakeFAU/pageweight/internal/storage/migrate"
	"github.com/JakeFAU/pageweight/internal/tracker"
)

// Config controls the SQLite database.
type Config struct {
	// DSN is a modernc.org/sqlite data source, e.g. "file:pageweight.db" or ":memory:".
	DSN string
	// AutoMigrate applies the embedded schema on open.
	AutoMigrate bool
}

// MeasurementStore implements tracker.MeasurementStore on SQLite.
type MeasurementStore struct {
	db *sqlx.DB
}

// Open opens the database and optionally migrates it.
func Open(ctx context.Context, cfg Config) (*MeasurementStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.sqlite.dsn is required")
	}
	raw, err := migrate.Open(migrate.DriverSQLite, cfg.DSN)
	if err != nil {
		return nil, err
	}
	db := sqlx.NewDb(raw, "sqlite")
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if cfg.AutoMigrate {
		if _, err := migrate.Up(ctx, raw, migrate.DriverSQLite); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return &MeasurementStore{db: db}, nil
}

// Close closes the database.
func (s *MeasurementStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *MeasurementStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Append inserts one measurement row.
func (s *MeasurementStore) Append(ctx context.Context, m tracker.Measurement) error {
	if m.ID == "" {
		return fmt.Errorf("measurement id is required")
	}
	// Stored in UTC so text ordering of measured_at matches time ordering.
	m.Timestamp = m.Timestamp.UTC()
	_, err := s.db.NamedExecContext(ctx, `
INSERT INTO measurements (id, measured_at, site_url, page_bytes, total_bytes, css_bytes, js_bytes, commit_id)
VALUES (:id, :measured_at, :site_url, :page_bytes, :total_bytes, :css_bytes, :js_bytes, :commit_id)`, m)
	if err != nil {
		return fmt.Errorf("insert measurement: %w", err)
	}
	return nil
}

// Recent returns up to limit rows for siteURL, newest first.
func (s *MeasurementStore) Recent(ctx context.Context, siteURL string, limit int) ([]tracker.Measurement, error) {
	out := make([]tracker.Measurement, 0, limit)
	err := s.db.SelectContext(ctx, &out, `
SELECT id, measured_at, site_url, page_bytes, total_bytes, css_bytes, js_bytes, commit_id
FROM measurements
WHERE site_url = ?
ORDER BY measured_at DESC
LIMIT ?`, siteURL, limit)
	if err != nil {
		return nil, fmt.Errorf("query measurements: %w", err)
	}
	return out, nil
}
