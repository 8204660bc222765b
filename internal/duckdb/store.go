// Package duckdb is the evidence store: accepted log bundles and their
// messages, kept append-only in DuckDB.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tinytelemetry/tracevault/internal/duckdb/migrate"
)

const defaultQueryTimeout = 30 * time.Second

// Store manages the DuckDB connection. Writes take the exclusive lock;
// report queries share the read lock.
type Store struct {
	db           *sql.DB
	mu           sync.RWMutex
	dbPath       string
	QueryTimeout time.Duration
}

// NewStore opens or creates a DuckDB database and applies migrations.
// If dbPath is empty, an in-memory database is used.
func NewStore(dbPath string, queryTimeout ...time.Duration) (*Store, error) {
	dsn := ""
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("duckdb: mkdir: %w", err)
		}
		dsn = dbPath
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("duckdb: open: %w", err)
	}

	qt := defaultQueryTimeout
	if len(queryTimeout) > 0 && queryTimeout[0] > 0 {
		qt = queryTimeout[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), qt)
	defer cancel()
	if err := migrate.NewRunner(db).Run(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("duckdb: migrate: %w", err)
	}

	return &Store{
		db:           db,
		dbPath:       dbPath,
		QueryTimeout: qt,
	}, nil
}

// queryCtx bounds ctx by the store's query timeout.
func (s *Store) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.QueryTimeout)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}
