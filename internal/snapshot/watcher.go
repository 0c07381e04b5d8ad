package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow collapses editor write bursts and git checkouts into a
// single change notification.
const debounceWindow = 500 * time.Millisecond

// pollInterval paces the fallback when fsnotify is unavailable.
const pollInterval = 5 * time.Second

// Debouncer coalesces triggers: fn fires once, debounceWindow after the
// last Trigger.
type Debouncer struct {
	mu     sync.Mutex
	window time.Duration
	timer  *time.Timer
	fn     func()
}

// NewDebouncer creates a trailing-edge debouncer around fn.
func NewDebouncer(window time.Duration, fn func()) *Debouncer {
	return &Debouncer{window: window, fn: fn}
}

// Trigger schedules fn, resetting the window if a run is pending.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.fn)
}

// Cancel drops any pending run.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Watcher fires onChange when a snapshot file is created, rewritten or
// replaced, debounced. It watches the parent directory too, so atomic
// rename-into-place writes and files that do not exist yet are caught.
// When fsnotify cannot start it degrades to stat polling unless
// WAGGLE_WATCHER_FALLBACK=false.
type Watcher struct {
	path      string
	parentDir string
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	logger    *slog.Logger

	pollingMode bool
	lastExists  bool
	lastModTime time.Time
	lastSize    int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher builds a watcher for path; Start begins delivery.
func NewWatcher(path string, onChange func(), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		path:      path,
		parentDir: filepath.Dir(path),
		debouncer: NewDebouncer(debounceWindow, onChange),
		logger:    logger,
	}
	if stat, err := os.Stat(path); err == nil {
		w.lastExists = true
		w.lastModTime = stat.ModTime()
		w.lastSize = stat.Size()
	}

	fallback := os.Getenv("WAGGLE_WATCHER_FALLBACK")
	fallbackDisabled := fallback == "false" || fallback == "0"

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		if fallbackDisabled {
			return nil, fmt.Errorf("fsnotify unavailable and WAGGLE_WATCHER_FALLBACK disabled: %w", err)
		}
		logger.Warn("snapshot: fsnotify unavailable, polling instead",
			"error", err, "interval", pollInterval)
		w.pollingMode = true
		return w, nil
	}
	w.watcher = fsw

	if err := fsw.Add(w.parentDir); err != nil {
		_ = fsw.Close()
		if fallbackDisabled {
			return nil, fmt.Errorf("failed to watch %s and WAGGLE_WATCHER_FALLBACK disabled: %w", w.parentDir, err)
		}
		logger.Warn("snapshot: directory watch failed, polling instead",
			"dir", w.parentDir, "error", err, "interval", pollInterval)
		w.pollingMode = true
		w.watcher = nil
		return w, nil
	}

	// The file itself may not exist yet; the parent watch catches its
	// creation.
	if err := fsw.Add(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("snapshot: file watch failed, relying on directory events",
			"path", path, "error", err)
	}
	return w, nil
}

// Start launches the delivery goroutine. Call once.
func (w *Watcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	if w.pollingMode {
		w.startPolling(ctx)
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handleEvent(ctx, event)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("snapshot: watcher error", "error", err)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if event.Name != w.path {
		return
	}
	switch {
	case event.Op&fsnotify.Create != 0:
		// Creation covers both first write and atomic rename-into-place.
		_ = w.watcher.Add(w.path)
		w.logger.Debug("snapshot: file created", "path", event.Name)
		w.debouncer.Trigger()
	case event.Op&(fsnotify.Write|fsnotify.Chmod) != 0:
		w.logger.Debug("snapshot: file changed", "path", event.Name)
		w.debouncer.Trigger()
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.logger.Debug("snapshot: file removed, re-establishing watch", "path", event.Name)
		_ = w.watcher.Remove(w.path)
		w.reEstablish(ctx)
	}
}

// reEstablish re-adds the file watch with backoff; a git checkout can
// remove the file briefly before rewriting it.
func (w *Watcher) reEstablish(ctx context.Context) {
	for _, delay := range []time.Duration{
		50 * time.Millisecond, 100 * time.Millisecond,
		200 * time.Millisecond, 400 * time.Millisecond,
	} {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
			if err := w.watcher.Add(w.path); err != nil {
				if os.IsNotExist(err) {
					continue
				}
				w.logger.Warn("snapshot: failed to re-watch file", "path", w.path, "error", err)
				return
			}
			w.debouncer.Trigger()
			return
		}
	}
	w.logger.Warn("snapshot: file did not reappear, relying on directory events", "path", w.path)
}

func (w *Watcher) startPolling(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if w.pollOnce() {
					w.debouncer.Trigger()
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// pollOnce compares the file against the last observed state and
// reports whether it changed.
func (w *Watcher) pollOnce() bool {
	stat, err := os.Stat(w.path)
	if err != nil {
		if os.IsNotExist(err) && w.lastExists {
			w.lastExists = false
			w.lastModTime = time.Time{}
			w.lastSize = 0
			return true
		}
		return false
	}
	if !w.lastExists {
		w.lastExists = true
		w.lastModTime = stat.ModTime()
		w.lastSize = stat.Size()
		return true
	}
	if !stat.ModTime().Equal(w.lastModTime) || stat.Size() != w.lastSize {
		w.lastModTime = stat.ModTime()
		w.lastSize = stat.Size()
		return true
	}
	return false
}

// Close stops delivery and releases the underlying watcher.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.debouncer.Cancel()
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
