// Package sqlite stores harvested datasets in a SQLite file, for single-host
// deployments and local runs.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	// Registers the pure-Go "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/geospaas-harvester/internal/harvest"
)

const defaultTable = "datasets"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config selects the database file and write concurrency.
type Config struct {
	DSN      string
	Table    string
	MaxConns int
}

// CatalogStore writes datasets keyed by entry_id with INSERT OR IGNORE.
type CatalogStore struct {
	db    *sql.DB
	table string
}

// Open opens the database named by cfg.DSN.
func Open(cfg Config) (*CatalogStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("catalog.dsn is required")
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	store, err := NewCatalogStoreWithDB(db, cfg.Table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewCatalogStoreWithDB wraps an open database (primarily for testing).
func NewCatalogStoreWithDB(db *sql.DB, table string) (*CatalogStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &CatalogStore{db: db, table: table}, nil
}

// EnsureSchema creates the catalog table when it does not exist.
func (s *CatalogStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	entry_id            TEXT PRIMARY KEY,
	title               TEXT NOT NULL DEFAULT '',
	summary             TEXT NOT NULL DEFAULT '',
	uri                 TEXT NOT NULL,
	target              TEXT NOT NULL DEFAULT '',
	time_coverage_start TEXT,
	time_coverage_end   TEXT,
	location            TEXT NOT NULL DEFAULT '',
	metadata            TEXT NOT NULL DEFAULT '{}',
	harvested_at        TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
)`, s.table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create catalog schema: %w", err)
	}
	index := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_uri_idx ON %[1]s (uri)`, s.table)
	if _, err := s.db.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("create catalog uri index: %w", err)
	}
	return nil
}

// Write implements harvest.Catalog.
func (s *CatalogStore) Write(ctx context.Context, ds harvest.Dataset) error {
	if ds.EntryID == "" {
		return fmt.Errorf("dataset entry id is required")
	}
	md := ds.Metadata
	if md == nil {
		md = map[string]any{}
	}
	metadata, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	query := fmt.Sprintf(`INSERT OR IGNORE INTO %s (
	entry_id, title, summary, uri, target,
	time_coverage_start, time_coverage_end, location, metadata
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)

	res, err := s.db.ExecContext(ctx, query,
		ds.EntryID,
		ds.Title,
		ds.Summary,
		ds.URI,
		ds.Target,
		timeText(ds.TimeCoverageStart),
		timeText(ds.TimeCoverageEnd),
		ds.Location,
		string(metadata),
	)
	if err != nil {
		return fmt.Errorf("insert dataset %s: %w", ds.EntryID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert dataset %s: rows affected: %w", ds.EntryID, err)
	}
	if n == 0 {
		return fmt.Errorf("insert dataset %s: %w", ds.EntryID, harvest.ErrDuplicate)
	}
	return nil
}

// Exists implements harvest.ExistenceChecker.
func (s *CatalogStore) Exists(ctx context.Context, uri string) (bool, error) {
	var found bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE uri = ?)`, s.table)
	if err := s.db.QueryRowContext(ctx, query, uri).Scan(&found); err != nil {
		return false, fmt.Errorf("look up dataset %s: %w", uri, err)
	}
	return found, nil
}

// Count returns the number of stored datasets.
func (s *CatalogStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count datasets: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *CatalogStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

func timeText(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
