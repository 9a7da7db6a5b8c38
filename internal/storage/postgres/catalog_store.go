// Package postgres stores harvested datasets in a Postgres catalog table.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/JakeFAU/geospaas-harvester/internal/harvest"
	"github.com/JakeFAU/geospaas-harvester/internal/telemetry"
)

const (
	defaultTable    = "datasets"
	uniqueViolation = "23505"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool. MaxConns is the share of the
// catalog's connection ceiling this process may hold.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// CatalogStore writes datasets keyed by entry_id. Writing an existing
// identifier changes nothing and reports harvest.ErrDuplicate.
type CatalogStore struct {
	pool   dbPool
	table  string
	tracer trace.Tracer
}

// NewCatalogStore connects a pool using cfg.
func NewCatalogStore(ctx context.Context, cfg Config) (*CatalogStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("catalog.dsn is required")
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
	store, err := NewCatalogStoreWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewCatalogStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewCatalogStoreWithPool(pool dbPool, table string) (*CatalogStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &CatalogStore{pool: pool, table: table, tracer: telemetry.Tracer("catalog")}, nil
}

// EnsureSchema creates the catalog table when it does not exist.
func (s *CatalogStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	entry_id            TEXT PRIMARY KEY,
	title               TEXT NOT NULL DEFAULT '',
	summary             TEXT NOT NULL DEFAULT '',
	uri                 TEXT NOT NULL,
	target              TEXT NOT NULL DEFAULT '',
	time_coverage_start TIMESTAMPTZ,
	time_coverage_end   TIMESTAMPTZ,
	location            TEXT NOT NULL DEFAULT '',
	metadata            JSONB NOT NULL DEFAULT '{}'::jsonb,
	harvested_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS %[1]s_time_coverage_idx ON %[1]s (time_coverage_start, time_coverage_end);
CREATE INDEX IF NOT EXISTS %[1]s_uri_idx ON %[1]s (uri)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create catalog schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *CatalogStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Write implements harvest.Catalog.
func (s *CatalogStore) Write(ctx context.Context, ds harvest.Dataset) (err error) {
	if ds.EntryID == "" {
		return fmt.Errorf("dataset entry id is required")
	}
	ctx, span := s.tracer.Start(ctx, "catalog.write", trace.WithAttributes(
		attribute.String("catalog.table", s.table),
		attribute.String("dataset.entry_id", ds.EntryID),
	))
	defer func() {
		if err != nil && !errors.Is(err, harvest.ErrDuplicate) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	metadata, err := json.Marshal(nonNilMetadata(ds.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	entry_id,
	title,
	summary,
	uri,
	target,
	time_coverage_start,
	time_coverage_end,
	location,
	metadata
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
) ON CONFLICT (entry_id) DO NOTHING`, s.table)

	tag, err := s.pool.Exec(ctx, query,
		ds.EntryID,
		ds.Title,
		ds.Summary,
		ds.URI,
		ds.Target,
		nullableTime(ds.TimeCoverageStart),
		nullableTime(ds.TimeCoverageEnd),
		ds.Location,
		metadata,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("insert dataset %s: %w", ds.EntryID, harvest.ErrDuplicate)
		}
		return fmt.Errorf("insert dataset %s: %w", ds.EntryID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("insert dataset %s: %w", ds.EntryID, harvest.ErrDuplicate)
	}
	return nil
}

// Exists implements harvest.ExistenceChecker.
func (s *CatalogStore) Exists(ctx context.Context, uri string) (bool, error) {
	var found bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE uri = $1)`, s.table)
	if err := s.pool.QueryRow(ctx, query, uri).Scan(&found); err != nil {
		return false, fmt.Errorf("look up dataset %s: %w", uri, err)
	}
	return found, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nonNilMetadata(md map[string]any) map[string]any {
	if md == nil {
		return map[string]any{}
	}
	return md
}
