package waggle_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/untoldecay/waggle"
)

func TestOpen(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "waggle.db")

	ctx := context.Background()
	log, err := waggle.Open(ctx, dbPath, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer log.DB().Close()

	// Round trip a cell through the hive service to prove the log,
	// migrations and projections are all wired.
	h := waggle.NewHive(log, "facade", nil)
	created, err := h.Create(ctx, &waggle.Cell{
		Title:      "Verify public API",
		ProjectKey: waggle.ProjectKey(tmpDir),
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	got, err := h.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Title != "Verify public API" {
		t.Errorf("Title = %q, want %q", got.Title, "Verify public API")
	}
	if got.Status != waggle.StatusOpen {
		t.Errorf("Status = %q, want %q", got.Status, waggle.StatusOpen)
	}
}

func TestOpenAppendRead(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "waggle.db")

	ctx := context.Background()
	log, err := waggle.Open(ctx, dbPath, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer log.DB().Close()

	key := waggle.ProjectKey(tmpDir)
	mailSvc := waggle.NewMail(log, 0)
	if _, err := mailSvc.Init(ctx, "sess-1", tmpDir, "drone"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	events, err := log.Read(ctx, waggle.EventFilter{ProjectKey: key})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("expected at least one event after agent init")
	}
	if events[0].Type != waggle.EventAgentRegistered {
		t.Errorf("first event = %q, want %q", events[0].Type, waggle.EventAgentRegistered)
	}
}

func TestDefaultDBPath(t *testing.T) {
	// Resolves from config or the user config dir; just verify it
	// produces something without panicking.
	path, err := waggle.DefaultDBPath()
	if err == nil && path == "" {
		t.Error("expected non-empty path when no error")
	}
}

func TestDiscoverSlug(t *testing.T) {
	slug := waggle.DiscoverSlug(t.TempDir())
	if slug == "" {
		t.Error("expected non-empty slug")
	}
}

// Test that exported constants have correct values
func TestConstants(t *testing.T) {
	// Status constants
	if waggle.StatusOpen != "open" {
		t.Errorf("StatusOpen = %q, want %q", waggle.StatusOpen, "open")
	}
	if waggle.StatusInProgress != "in_progress" {
		t.Errorf("StatusInProgress = %q, want %q", waggle.StatusInProgress, "in_progress")
	}
	if waggle.StatusBlocked != "blocked" {
		t.Errorf("StatusBlocked = %q, want %q", waggle.StatusBlocked, "blocked")
	}
	if waggle.StatusClosed != "closed" {
		t.Errorf("StatusClosed = %q, want %q", waggle.StatusClosed, "closed")
	}

	// CellType constants
	if waggle.TypeBug != "bug" {
		t.Errorf("TypeBug = %q, want %q", waggle.TypeBug, "bug")
	}
	if waggle.TypeEpic != "epic" {
		t.Errorf("TypeEpic = %q, want %q", waggle.TypeEpic, "epic")
	}

	// DependencyType constants
	if waggle.DepBlocks != "blocks" {
		t.Errorf("DepBlocks = %q, want %q", waggle.DepBlocks, "blocks")
	}
	if waggle.DepParentChild != "parent-child" {
		t.Errorf("DepParentChild = %q, want %q", waggle.DepParentChild, "parent-child")
	}

	// Coordination constants
	if waggle.DeferredPending != "pending" {
		t.Errorf("DeferredPending = %q, want %q", waggle.DeferredPending, "pending")
	}
	if waggle.ImportanceUrgent != "urgent" {
		t.Errorf("ImportanceUrgent = %q, want %q", waggle.ImportanceUrgent, "urgent")
	}

	// Memory constants
	if waggle.OpAdd != "ADD" {
		t.Errorf("OpAdd = %q, want %q", waggle.OpAdd, "ADD")
	}
	if waggle.LinkSupersedes != "supersedes" {
		t.Errorf("LinkSupersedes = %q, want %q", waggle.LinkSupersedes, "supersedes")
	}
}
