package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/untoldecay/waggle/internal/storage"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := New(context.Background(), path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "test.db")
	store := openTestStore(t, path)
	if store.Path() != path {
		t.Errorf("Path() = %q, want %q", store.Path(), path)
	}
	if store.Dialect() != "sqlite" {
		t.Errorf("Dialect() = %q", store.Dialect())
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	store := openTestStore(t, path)
	if _, err := store.ExecContext(ctx, `CREATE TABLE pollen (id INTEGER PRIMARY KEY, note TEXT)`); err != nil {
		t.Fatalf("create table failed: %v", err)
	}
	if _, err := store.ExecContext(ctx, `INSERT INTO pollen (note) VALUES ('south field')`); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened := openTestStore(t, path)
	var note string
	if err := reopened.QueryRowContext(ctx, `SELECT note FROM pollen`).Scan(&note); err != nil {
		t.Fatalf("query after reopen failed: %v", err)
	}
	if note != "south field" {
		t.Errorf("note = %q", note)
	}
}

func TestInTransactionCommit(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "test.db"))
	ctx := context.Background()
	if _, err := store.ExecContext(ctx, `CREATE TABLE n (v INTEGER)`); err != nil {
		t.Fatalf("create table failed: %v", err)
	}

	err := store.InTransaction(ctx, func(tx storage.Tx) error {
		for i := 0; i < 3; i++ {
			if _, err := tx.ExecContext(ctx, `INSERT INTO n (v) VALUES (?)`, i); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	var count int
	if err := store.QueryRowContext(ctx, `SELECT COUNT(*) FROM n`).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestInTransactionRollsBackOnError(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "test.db"))
	ctx := context.Background()
	if _, err := store.ExecContext(ctx, `CREATE TABLE n (v INTEGER)`); err != nil {
		t.Fatalf("create table failed: %v", err)
	}

	boom := errors.New("boom")
	err := store.InTransaction(ctx, func(tx storage.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO n (v) VALUES (1)`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	var count int
	if err := store.QueryRowContext(ctx, `SELECT COUNT(*) FROM n`).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d after rollback, want 0", count)
	}
}

func TestInTransactionRollsBackOnPanic(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "test.db"))
	ctx := context.Background()
	if _, err := store.ExecContext(ctx, `CREATE TABLE n (v INTEGER)`); err != nil {
		t.Fatalf("create table failed: %v", err)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected the panic to propagate")
			}
		}()
		_ = store.InTransaction(ctx, func(tx storage.Tx) error {
			if _, err := tx.ExecContext(ctx, `INSERT INTO n (v) VALUES (1)`); err != nil {
				return err
			}
			panic("mid-transaction")
		})
	}()

	var count int
	if err := store.QueryRowContext(ctx, `SELECT COUNT(*) FROM n`).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d after panic, want 0", count)
	}
}

func TestInTransactionAfterClose(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "test.db"))
	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	err := store.InTransaction(context.Background(), func(tx storage.Tx) error { return nil })
	if !errors.Is(err, storage.ErrNotOpen) {
		t.Errorf("err = %v, want ErrNotOpen", err)
	}
	// Close is idempotent.
	if err := store.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
}

func TestCheckpoint(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "test.db"))
	ctx := context.Background()
	if _, err := store.ExecContext(ctx, `CREATE TABLE n (v INTEGER)`); err != nil {
		t.Fatalf("create table failed: %v", err)
	}
	if err := store.Checkpoint(ctx); err != nil {
		t.Errorf("checkpoint failed: %v", err)
	}
}

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, ":memory:")
	if _, err := store.ExecContext(ctx, `CREATE TABLE n (v INTEGER)`); err != nil {
		t.Fatalf("create table failed: %v", err)
	}
	err := store.InTransaction(ctx, func(tx storage.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO n (v) VALUES (1)`)
		return err
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
	if err := store.Checkpoint(ctx); err != nil {
		t.Errorf("in-memory checkpoint should be a no-op, got %v", err)
	}
}

func TestIsUniqueConstraintError(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "test.db"))
	ctx := context.Background()
	if _, err := store.ExecContext(ctx, `CREATE TABLE u (k TEXT PRIMARY KEY)`); err != nil {
		t.Fatalf("create table failed: %v", err)
	}
	if _, err := store.ExecContext(ctx, `INSERT INTO u (k) VALUES ('x')`); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	_, err := store.ExecContext(ctx, `INSERT INTO u (k) VALUES ('x')`)
	if err == nil {
		t.Fatal("duplicate insert succeeded")
	}
	if !IsUniqueConstraintError(err) {
		t.Errorf("IsUniqueConstraintError(%v) = false", err)
	}
	if IsUniqueConstraintError(nil) {
		t.Error("IsUniqueConstraintError(nil) = true")
	}
}
