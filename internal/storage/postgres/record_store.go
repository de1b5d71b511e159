// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/zipcrawler/internal/crawler"
)

const (
	defaultTable = "zip_records"
	// Keeps each INSERT well under the 65535 bind-parameter limit.
	rowsPerInsert = 500
	columnsPerRow = 10
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RecordStoreConfig controls the Postgres connection pool used for parsed records.
type RecordStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

// RecordStore writes parsed zip records into Postgres.
type RecordStore struct {
	pool  execCloser
	table string
}

// NewRecordStore creates a Postgres-backed RecordStore using the provided config.
func NewRecordStore(ctx context.Context, cfg RecordStoreConfig) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := resolveTable(cfg.Table)
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RecordStore{
		pool:  pool,
		table: table,
	}, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(pool execCloser, table string) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := resolveTable(table)
	if err != nil {
		return nil, err
	}
	return &RecordStore{pool: pool, table: table}, nil
}

func resolveTable(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *RecordStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureTable creates the records table when it does not exist.
func (s *RecordStore) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id         TEXT        NOT NULL,
	row_index      INTEGER     NOT NULL,
	zip_code       TEXT        NOT NULL DEFAULT '',
	classification TEXT        NOT NULL DEFAULT '',
	city_type      TEXT        NOT NULL DEFAULT '',
	time_zone      TEXT        NOT NULL DEFAULT '',
	city           TEXT        NOT NULL DEFAULT '',
	state          TEXT        NOT NULL DEFAULT '',
	status         TEXT        NOT NULL,
	missing_labels TEXT[]      NOT NULL DEFAULT '{}',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, row_index)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// SaveRecords inserts the run's records in multi-row batches. Rows already
// present for (run_id, row_index) are left untouched.
func (s *RecordStore) SaveRecords(ctx context.Context, runID string, records []crawler.ParsedRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("record store is not configured")
	}
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	for start := 0; start < len(records); start += rowsPerInsert {
		end := min(start+rowsPerInsert, len(records))
		query, args := s.buildInsert(runID, records[start:end])
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert records %d-%d: %w", start, end-1, err)
		}
	}
	return nil
}

func (s *RecordStore) buildInsert(runID string, records []crawler.ParsedRecord) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, `INSERT INTO %s (
	run_id,
	row_index,
	zip_code,
	classification,
	city_type,
	time_zone,
	city,
	state,
	status,
	missing_labels
) VALUES `, s.table)

	args := make([]any, 0, len(records)*columnsPerRow)
	for i, rec := range records {
		if i > 0 {
			b.WriteString(",")
		}
		base := i * columnsPerRow
		b.WriteString("(")
		for c := 1; c <= columnsPerRow; c++ {
			if c > 1 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, "$%d", base+c)
		}
		b.WriteString(")")
		args = append(args,
			runID,
			rec.Index,
			rec.ZipCode,
			rec.Classification,
			rec.CityType,
			rec.TimeZone,
			rec.City,
			rec.State,
			string(rec.Status),
			missingLabels(rec.MissingLabels),
		)
	}
	b.WriteString(" ON CONFLICT (run_id, row_index) DO NOTHING")
	return b.String(), args
}

func missingLabels(labels []string) []string {
	if labels == nil {
		return []string{}
	}
	return labels
}
