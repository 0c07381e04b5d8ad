package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/untoldecay/waggle/internal/storage"
)

// InTransaction executes fn inside a write transaction on one dedicated
// connection.
//
// Lifecycle:
//  1. Lease a connection from the pool
//  2. BEGIN IMMEDIATE with retry on SQLITE_BUSY
//  3. Run fn against that connection
//  4. nil return commits; error or panic rolls back
//
// BEGIN IMMEDIATE takes the write lock up front. With deferred
// transactions two writers can both progress to their first write and
// deadlock on lock upgrade; IMMEDIATE serializes them at entry.
func (s *Store) InTransaction(ctx context.Context, fn func(tx storage.Tx) error) error {
	if s.closed.Load() {
		return storage.ErrNotOpen
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for transaction: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := beginImmediateWithRetry(ctx, conn, 5, 10*time.Millisecond); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			// Background context so rollback still runs when ctx is done.
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(conn); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// beginImmediateWithRetry starts an IMMEDIATE transaction, retrying with
// doubling delay while another writer holds the lock past busy_timeout.
func beginImmediateWithRetry(ctx context.Context, conn *sql.Conn, attempts int, delay time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		_, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err == nil {
			return nil
		}
		lastErr = err
		if !isBusyError(err) {
			return err
		}
	}
	return fmt.Errorf("database busy after %d attempts: %w", attempts, lastErr)
}

// isBusyError matches SQLITE_BUSY / SQLITE_LOCKED by message; the driver
// error types are not stable across wrappers.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "busy")
}

// IsUniqueConstraintError reports whether err is a UNIQUE constraint
// violation. Used by callers that treat duplicates as idempotent success.
func IsUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}
