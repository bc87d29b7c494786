// Package postgres provides the Postgres-backed measurement store.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/pageweight/internal/tracker"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "measurements"

// Config controls the Postgres connection pool used for measurements.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Ping(context.Context) error
	Close()
}

// MeasurementStore appends and reads measurement rows.
type MeasurementStore struct {
	pool  pool
	table string
}

// New creates a pooled MeasurementStore using the provided config.
func New(ctx context.Context, cfg Config) (*MeasurementStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &MeasurementStore{pool: p, table: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*MeasurementStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &MeasurementStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *MeasurementStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies connectivity for readiness checks.
func (s *MeasurementStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Append inserts one measurement row.
func (s *MeasurementStore) Append(ctx context.Context, m tracker.Measurement) error {
	if m.ID == "" {
		return fmt.Errorf("measurement id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	measured_at,
	site_url,
	page_bytes,
	total_bytes,
	css_bytes,
	js_bytes,
	commit_id
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)`, s.table)

	args := []any{
		m.ID,
		m.Timestamp,
		m.SiteURL,
		m.PageBytes,
		m.TotalBytes,
		m.CSSBytes,
		m.JSBytes,
		m.CommitID,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert measurement: %w", err)
	}
	return nil
}

// Recent returns up to limit rows for siteURL, newest first.
func (s *MeasurementStore) Recent(ctx context.Context, siteURL string, limit int) ([]tracker.Measurement, error) {
	query := fmt.Sprintf(`
SELECT id, measured_at, site_url, page_bytes, total_bytes, css_bytes, js_bytes, commit_id
FROM %s
WHERE site_url = $1
ORDER BY measured_at DESC
LIMIT $2`, s.table)

	rows, err := s.pool.Query(ctx, query, siteURL, limit)
	if err != nil {
		return nil, fmt.Errorf("query measurements: %w", err)
	}
	defer rows.Close()

	out := make([]tracker.Measurement, 0, limit)
	for rows.Next() {
		var m tracker.Measurement
		if err := rows.Scan(
			&m.ID,
			&m.Timestamp,
			&m.SiteURL,
			&m.PageBytes,
			&m.TotalBytes,
			&m.CSSBytes,
			&m.JSBytes,
			&m.CommitID,
		); err != nil {
			return nil, fmt.Errorf("scan measurement: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate measurements: %w", err)
	}
	return out, nil
}
