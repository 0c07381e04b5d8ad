// Package sqlite implements the storage adapter on the pure-Go SQLite
// build. No cgo: the engine runs as WASM under wazero, so a single static
// binary works across platforms.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	"github.com/untoldecay/waggle/internal/storage"
)

// Store is the SQLite-backed storage adapter.
type Store struct {
	db     *sql.DB
	dbPath string
	memory bool
	closed atomic.Bool
}

var _ storage.Adapter = (*Store)(nil)

// setupWASMCache points go-sqlite3's wazero runtime at a persistent
// compilation cache so the engine compiles once per wazero version
// instead of on every process start. Falls back to an in-memory cache
// when the cache directory cannot be created.
func setupWASMCache() {
	var cache wazero.CompilationCache
	if userCache, err := os.UserCacheDir(); err == nil {
		dir := filepath.Join(userCache, "waggle", "wasm")
		if c, err := wazero.NewCompilationCacheWithDir(dir); err == nil {
			cache = c
		}
	}
	if cache == nil {
		cache = wazero.NewCompilationCache()
	}
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
}

func init() {
	setupWASMCache()
	storage.Register("sqlite", func(ctx context.Context, path string) (storage.Adapter, error) {
		return New(ctx, path)
	})
}

// New opens a SQLite store at path. ":memory:" opens a private in-memory
// database pinned to a single connection; in-memory databases are isolated
// per connection, so a pool would split the data.
func New(ctx context.Context, path string) (*Store, error) {
	const pragmas = "_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"

	var connStr string
	isMemory := path == ":memory:" ||
		(strings.HasPrefix(path, "file:") && strings.Contains(path, "mode=memory"))
	switch {
	case path == ":memory:":
		connStr = "file:waggledb?mode=memory&cache=shared&_pragma=journal_mode(MEMORY)&" + pragmas
	case strings.HasPrefix(path, "file:"):
		connStr = path
		if !strings.Contains(path, "_pragma=foreign_keys") {
			sep := "?"
			if strings.Contains(path, "?") {
				sep = "&"
			}
			connStr += sep + pragmas
		}
	default:
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		connStr = "file:" + path + "?" + pragmas
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if isMemory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		// WAL allows one writer plus concurrent readers; cap the pool so
		// write contention queues instead of piling up connections.
		db.SetMaxOpenConns(runtime.NumCPU() + 1)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(0)
	}

	if !isMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, dbPath: path, memory: isMemory}, nil
}

// ExecContext runs a statement outside any transaction.
func (s *Store) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

// QueryContext runs a query outside any transaction.
func (s *Store) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query outside any transaction.
func (s *Store) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

// Checkpoint truncates the WAL back into the main database file. No-op
// for in-memory databases.
func (s *Store) Checkpoint(ctx context.Context) error {
	if s.memory {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("failed to checkpoint WAL: %w", err)
	}
	return nil
}

// Close releases the database. Safe to call more than once.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// Path returns the path the store was opened with.
func (s *Store) Path() string {
	return s.dbPath
}

// Dialect returns "sqlite".
func (s *Store) Dialect() string {
	return "sqlite"
}

// UnderlyingDB exposes the raw connection pool.
func (s *Store) UnderlyingDB() *sql.DB {
	return s.db
}

// UnderlyingConn leases one connection from the pool. Callers must close it.
func (s *Store) UnderlyingConn(ctx context.Context) (*sql.Conn, error) {
	if s.closed.Load() {
		return nil, storage.ErrNotOpen
	}
	return s.db.Conn(ctx)
}
