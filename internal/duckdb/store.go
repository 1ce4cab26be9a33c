// Package duckdb keeps the export ledger: one row per attempted hour window.
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
	"github.com/tinytelemetry/lotus-export/internal/duckdb/migrate"
)

// MemoryPath selects an in-memory ledger.
const MemoryPath = ":memory:"

const defaultQueryTimeout = 30 * time.Second

// Store wraps the ledger database.
type Store struct {
	db           *sql.DB
	mu           sync.Mutex // serializes writers
	dbPath       string
	QueryTimeout time.Duration
}

// NewStore opens or creates the ledger at dbPath and applies pending
// migrations. An empty path or MemoryPath opens an in-memory database.
func NewStore(dbPath string, queryTimeout ...time.Duration) (*Store, error) {
	dsn := ""
	if dbPath != "" && dbPath != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("duckdb: create ledger dir: %w", err)
		}
		dsn = dbPath
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("duckdb: open %q: %w", dbPath, err)
	}
	if err := migrate.NewRunner(db).Run(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	qt := defaultQueryTimeout
	if len(queryTimeout) > 0 && queryTimeout[0] > 0 {
		qt = queryTimeout[0]
	}
	return &Store{db: db, dbPath: dsn, QueryTimeout: qt}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the on-disk path. Empty means in-memory.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.QueryTimeout)
}
