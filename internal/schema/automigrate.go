package schema

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/untoldecay/waggle/internal/storage"
)

// RelocateLegacy moves a project-local database left behind by older
// versions to the global store path. The copy goes through VACUUM INTO so
// WAL content is folded in, then the legacy file is renamed aside as a
// backup. A file lock on a sidecar next to the destination serializes
// concurrent processes racing to migrate the same store.
//
// Returns true when a relocation happened. Both paths existing is not an
// error: the global store wins and the legacy file is left untouched.
func RelocateLegacy(ctx context.Context, open storage.OpenFunc, legacyPath, globalPath string, logger *slog.Logger) (bool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := os.Stat(globalPath); err == nil {
		return false, nil
	}
	if _, err := os.Stat(legacyPath); err != nil {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(globalPath), 0o750); err != nil {
		return false, fmt.Errorf("failed to create store directory: %w", err)
	}

	lock := flock.New(globalPath + ".migrate.lock")
	lockCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	locked, err := lock.TryLockContext(lockCtx, 250*time.Millisecond)
	if err != nil {
		return false, fmt.Errorf("failed to lock store for relocation: %w", err)
	}
	if !locked {
		return false, fmt.Errorf("another process holds the relocation lock for %s", globalPath)
	}
	defer func() {
		_ = lock.Unlock()
		_ = os.Remove(lock.Path())
	}()

	// Re-check under the lock: a concurrent process may have finished
	// the relocation while we waited.
	if _, err := os.Stat(globalPath); err == nil {
		return false, nil
	}

	src, err := open(ctx, legacyPath)
	if err != nil {
		return false, fmt.Errorf("failed to open legacy store %s: %w", legacyPath, err)
	}
	_, copyErr := src.ExecContext(ctx, "VACUUM INTO ?", globalPath)
	if closeErr := src.Close(); closeErr != nil && copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(globalPath)
		return false, fmt.Errorf("failed to copy legacy store: %w", copyErr)
	}

	backup := fmt.Sprintf("%s.backup-%d", legacyPath, time.Now().Unix())
	if err := os.Rename(legacyPath, backup); err != nil {
		logger.Warn("relocated store but could not rename legacy file", "legacy", legacyPath, "error", err)
	} else {
		logger.Info("relocated legacy store", "from", legacyPath, "to", globalPath, "backup", backup)
	}
	return true, nil
}
