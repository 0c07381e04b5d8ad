// Package storage defines the adapter interface over the embedded store
// and the registry through which backends are selected. Domain packages
// speak SQL through these interfaces; only the adapter knows which engine
// is underneath.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotOpen is returned when using an adapter after Close.
var ErrNotOpen = errors.New("storage adapter is closed")

// IsNoRows reports whether err is the empty-result sentinel, including
// when wrapped.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// Querier is the query surface shared by the adapter and its transactions.
// *sql.DB, *sql.Tx and *sql.Conn all satisfy it, so helpers can be written
// once and run inside or outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Tx is the querier handed to transactional callbacks. All statements run
// on one connection inside an open transaction.
//
//   - If the callback returns nil, the transaction is committed
//   - If the callback returns an error, the transaction is rolled back
//   - If the callback panics, the transaction is rolled back and the
//     panic re-raised
type Tx interface {
	Querier
}

// Adapter is a handle on one open store.
type Adapter interface {
	Querier

	// InTransaction executes fn inside a single write transaction. For
	// SQLite the transaction opens with BEGIN IMMEDIATE so the write lock
	// is taken up front instead of at first write.
	InTransaction(ctx context.Context, fn func(tx Tx) error) error

	// Checkpoint flushes durable state (for SQLite, a WAL checkpoint).
	Checkpoint(ctx context.Context) error

	// Close releases the underlying database.
	Close() error

	// Path returns the location the adapter was opened with.
	Path() string

	// Dialect names the backend this adapter was registered under.
	Dialect() string

	// UnderlyingDB exposes the raw pool for callers that need to manage
	// their own statements (migration runner, analytics). Direct use
	// bypasses the adapter's transaction discipline.
	UnderlyingDB() *sql.DB

	// UnderlyingConn leases one connection from the pool. The caller must
	// close it to return it.
	UnderlyingConn(ctx context.Context) (*sql.Conn, error)
}

// OpenFunc constructs an adapter for a path.
type OpenFunc func(ctx context.Context, path string) (Adapter, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]OpenFunc)
)

// Register makes a backend available under the given dialect name.
// Backends register from their package init, mirroring database/sql
// driver registration. Registering the same dialect twice panics.
func Register(dialect string, open OpenFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if open == nil {
		panic("storage: Register with nil OpenFunc")
	}
	if _, dup := registry[dialect]; dup {
		panic("storage: Register called twice for dialect " + dialect)
	}
	registry[dialect] = open
}

// Open constructs an adapter using the backend registered under dialect.
func Open(ctx context.Context, dialect, path string) (Adapter, error) {
	registryMu.RLock()
	open, ok := registry[dialect]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: unknown dialect %q (registered: %v)", dialect, Dialects())
	}
	return open(ctx, path)
}

// Dialects lists the registered backend names, sorted.
func Dialects() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ClearRegistry removes every registered backend. Tests use it to start
// from a clean slate before registering fakes; production code never
// calls it.
func ClearRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]OpenFunc)
}
