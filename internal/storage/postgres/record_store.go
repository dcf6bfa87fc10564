// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/storage"
)

const defaultTable = "books"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RecordStoreConfig controls the Postgres connection pool used for record rows.
type RecordStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	SendBatch(context.Context, *pgx.Batch) pgx.BatchResults
	Close()
}

// RecordStore writes catalog records into Postgres.
type RecordStore struct {
	pool  execCloser
	table string
}

// NewRecordStore creates a Postgres-backed RecordStore using the provided config.
func NewRecordStore(ctx context.Context, cfg RecordStoreConfig) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RecordStore{pool: pool, table: table}, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(pool execCloser, table string) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RecordStore{pool: pool, table: name}, nil
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
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the record table and its lookup indexes if missing.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	title TEXT NOT NULL,
	price TEXT NOT NULL,
	in_stock BOOLEAN NOT NULL,
	parse_date TIMESTAMPTZ NOT NULL,
	UNIQUE (title, parse_date)
)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_title_idx ON %[1]s (title)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_parse_date_idx ON %[1]s (parse_date)`, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Insert implements crawler.Sink. Rows already present are skipped. The page
// is sent as one batch; a batch runs in a single implicit transaction, so when
// any row fails the rows are retried one by one and a failing row does not
// stop the others.
func (s *RecordStore) Insert(ctx context.Context, observedAt time.Time, records []catalog.Record) (int, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("record store is not configured")
	}
	docs := storage.NewDocuments(observedAt, records)
	if len(docs) == 0 {
		return 0, nil
	}
	query := s.insertQuery()

	batch := &pgx.Batch{}
	for _, doc := range docs {
		batch.Queue(query, doc.Title, doc.Price, doc.InStock, doc.ParseDate)
	}
	inserted, err := s.sendBatch(ctx, batch, len(docs))
	if err == nil {
		return inserted, nil
	}
	if ctx.Err() != nil {
		return 0, fmt.Errorf("insert batch: %w", err)
	}
	return s.insertEach(ctx, query, docs)
}

func (s *RecordStore) insertQuery() string {
	return fmt.Sprintf(`
INSERT INTO %s (
	title,
	price,
	in_stock,
	parse_date
) VALUES (
	$1,$2,$3,$4
) ON CONFLICT (title, parse_date) DO NOTHING`, s.table)
}

func (s *RecordStore) sendBatch(ctx context.Context, batch *pgx.Batch, n int) (int, error) {
	br := s.pool.SendBatch(ctx, batch)
	var (
		inserted int
		execErr  error
	)
	for range n {
		tag, err := br.Exec()
		if err != nil {
			execErr = err
			break
		}
		inserted += int(tag.RowsAffected())
	}
	if err := errors.Join(execErr, br.Close()); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *RecordStore) insertEach(ctx context.Context, query string, docs []storage.Document) (int, error) {
	var (
		inserted int
		errs     []error
	)
	for _, doc := range docs {
		tag, err := s.pool.Exec(ctx, query, doc.Title, doc.Price, doc.InStock, doc.ParseDate)
		if err != nil {
			errs = append(errs, fmt.Errorf("insert record %q: %w", doc.Title, err))
			continue
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, errors.Join(errs...)
}
