package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncerCoalesces(t *testing.T) {
	var fired atomic.Int32
	d := NewDebouncer(40*time.Millisecond, func() { fired.Add(1) })
	defer d.Cancel()

	for i := 0; i < 5; i++ {
		d.Trigger()
	}
	time.Sleep(150 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("burst fired %d times, want 1", got)
	}

	d.Trigger()
	time.Sleep(150 * time.Millisecond)
	if got := fired.Load(); got != 2 {
		t.Fatalf("second trigger fired %d times total, want 2", got)
	}
}

func TestDebouncerCancelDropsPending(t *testing.T) {
	var fired atomic.Int32
	d := NewDebouncer(40*time.Millisecond, func() { fired.Add(1) })

	d.Trigger()
	d.Cancel()
	time.Sleep(120 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Fatalf("cancelled debouncer fired %d times", got)
	}
}

func TestWatcherSeesAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cells.jsonl")

	changed := make(chan struct{}, 4)
	w, err := NewWatcher(path, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}, nil)
	if err != nil {
		t.Fatalf("new watcher failed: %v", err)
	}
	if w.pollingMode {
		t.Skip("fsnotify unavailable on this runner")
	}
	defer func() { _ = w.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	// Write via temp file + rename, the exporter's pattern.
	temp := path + ".tmp.1"
	if err := os.WriteFile(temp, []byte(`{"id":"wag-aaa"}`+"\n"), 0o644); err != nil {
		t.Fatalf("write temp failed: %v", err)
	}
	if err := os.Rename(temp, path); err != nil {
		t.Fatalf("rename failed: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification after atomic replace")
	}

	// A plain append to the existing file notifies too.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := f.WriteString(`{"id":"wag-bbb"}` + "\n"); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	_ = f.Close()

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification after append")
	}
}

func TestPollOnceTracksFileState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cells.jsonl")
	w := &Watcher{path: path}

	if w.pollOnce() {
		t.Fatal("absent file with no prior state should not report change")
	}

	if err := os.WriteFile(path, []byte("one\n"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if !w.pollOnce() {
		t.Fatal("file appearance should report change")
	}
	if w.pollOnce() {
		t.Fatal("unchanged file should not report change")
	}

	if err := os.WriteFile(path, []byte("one\ntwo\n"), 0o644); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	if !w.pollOnce() {
		t.Fatal("size change should report change")
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if !w.pollOnce() {
		t.Fatal("file disappearance should report change")
	}
	if w.pollOnce() {
		t.Fatal("still-absent file should not report change again")
	}
}
