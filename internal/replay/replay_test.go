package replay

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/untoldecay/waggle/internal/eventlog"
	"github.com/untoldecay/waggle/internal/schema"
	"github.com/untoldecay/waggle/internal/storage"
	"github.com/untoldecay/waggle/internal/storage/sqlite"
	"github.com/untoldecay/waggle/internal/types"
)

func setupTestLog(t *testing.T) (*eventlog.Log, storage.Adapter) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	store, err := sqlite.New(context.Background(), path)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := schema.Migrate(context.Background(), store, nil); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return eventlog.New(store, nil), store
}

// seedEpic writes an epic with two children and one unrelated cell.
// Events are appended out of chronological order on purpose; replay
// must sort by timestamp, not by sequence.
func seedEpic(t *testing.T, log *eventlog.Log, store storage.Adapter) (string, time.Time) {
	t.Helper()
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)

	for _, id := range []string{"wag-epic", "wag-a", "wag-b", "wag-x"} {
		_, err := store.ExecContext(ctx, `
			INSERT INTO cells (id, title, status) VALUES (?, ?, 'open')
		`, id, "cell "+id)
		if err != nil {
			t.Fatalf("failed to insert cell %s: %v", id, err)
		}
	}
	for _, child := range []string{"wag-a", "wag-b"} {
		_, err := store.ExecContext(ctx, `
			INSERT INTO cell_dependencies (cell_id, depends_on_id, type)
			VALUES (?, 'wag-epic', ?)
		`, child, types.DepParentChild)
		if err != nil {
			t.Fatalf("failed to insert child edge %s: %v", child, err)
		}
	}

	events := []*types.Event{
		{Type: types.EventCellStatusChanged, EntityID: "wag-a", Actor: "muncher", Timestamp: base.Add(250 * time.Millisecond)},
		{Type: types.EventCellCreated, EntityID: "wag-epic", Actor: "queen", Timestamp: base},
		{Type: types.EventCellCreated, EntityID: "wag-x", Actor: "queen", Timestamp: base.Add(50 * time.Millisecond)},
		{Type: types.EventCellCreated, EntityID: "wag-b", Actor: "queen", Timestamp: base.Add(400 * time.Millisecond)},
		{Type: types.EventCellCreated, EntityID: "wag-a", Actor: "queen", Timestamp: base.Add(100 * time.Millisecond)},
		{Type: types.EventCellStatusChanged, EntityID: "wag-b", Actor: "scout", Timestamp: base.Add(900 * time.Millisecond)},
	}
	for _, ev := range events {
		ev.ProjectKey = "proj"
		if _, err := log.Append(ctx, ev); err != nil {
			t.Fatalf("failed to append %s for %s: %v", ev.Type, ev.EntityID, err)
		}
	}
	return "wag-epic", base
}

func TestFetchEpicEventsOrdersAndAnnotates(t *testing.T) {
	log, store := setupTestLog(t)
	epicID, _ := seedEpic(t, log, store)

	events, err := FetchEpicEvents(context.Background(), log, epicID)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}

	wantEntities := []string{"wag-epic", "wag-a", "wag-a", "wag-b", "wag-b"}
	wantDeltas := []int64{0, 100, 150, 150, 500}
	for i, ev := range events {
		if ev.EntityID == "wag-x" {
			t.Fatalf("unrelated cell leaked into the timeline at %d", i)
		}
		if ev.EntityID != wantEntities[i] {
			t.Errorf("event %d: entity = %s, want %s", i, ev.EntityID, wantEntities[i])
		}
		if ev.DeltaMS != wantDeltas[i] {
			t.Errorf("event %d: delta = %dms, want %dms", i, ev.DeltaMS, wantDeltas[i])
		}
	}
}

func TestFetchEpicEventsUnknownID(t *testing.T) {
	log, _ := setupTestLog(t)

	_, err := FetchEpicEvents(context.Background(), log, "wag-missing")
	if !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFetchEpicEventsWithoutChildren(t *testing.T) {
	log, _ := setupTestLog(t)
	ctx := context.Background()

	_, err := log.Append(ctx, &types.Event{
		Type:       types.EventCellCreated,
		ProjectKey: "proj",
		EntityID:   "wag-solo",
		Actor:      "queen",
	})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}

	events, err := FetchEpicEvents(ctx, log, "wag-solo")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(events) != 1 || events[0].DeltaMS != 0 {
		t.Fatalf("expected a single zero-delta event, got %+v", events)
	}
}

func TestFilterEventsByType(t *testing.T) {
	log, store := setupTestLog(t)
	epicID, _ := seedEpic(t, log, store)
	events, err := FetchEpicEvents(context.Background(), log, epicID)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	got := FilterEvents(events, Filter{Types: []string{types.EventCellStatusChanged}})
	if len(got) != 2 {
		t.Fatalf("expected 2 status changes, got %d", len(got))
	}
	if got[0].DeltaMS != 0 {
		t.Errorf("first delta should reset to 0, got %d", got[0].DeltaMS)
	}
	if got[1].DeltaMS != 650 {
		t.Errorf("delta should span the surviving gap: got %dms, want 650ms", got[1].DeltaMS)
	}
}

func TestFilterEventsCombinesCriteria(t *testing.T) {
	log, store := setupTestLog(t)
	epicID, base := seedEpic(t, log, store)
	events, err := FetchEpicEvents(context.Background(), log, epicID)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	if got := FilterEvents(events, Filter{Actor: "queen"}); len(got) != 3 {
		t.Errorf("actor filter: got %d events, want 3", len(got))
	}
	if got := FilterEvents(events, Filter{Since: base.Add(200 * time.Millisecond)}); len(got) != 3 {
		t.Errorf("since filter: got %d events, want 3", len(got))
	}
	if got := FilterEvents(events, Filter{Until: base.Add(300 * time.Millisecond)}); len(got) != 3 {
		t.Errorf("until filter: got %d events, want 3", len(got))
	}
	got := FilterEvents(events, Filter{
		Actor: "queen",
		Since: base.Add(50 * time.Millisecond),
	})
	if len(got) != 2 {
		t.Fatalf("combined filter: got %d events, want 2", len(got))
	}
	if got[0].EntityID != "wag-a" || got[1].EntityID != "wag-b" {
		t.Errorf("combined filter kept wrong events: %s, %s", got[0].EntityID, got[1].EntityID)
	}

	if got := FilterEvents(events, Filter{}); len(got) != len(events) {
		t.Errorf("empty filter should keep everything: got %d, want %d", len(got), len(events))
	}
}

// timeline builds an annotated in-memory timeline from gap lengths.
func timeline(deltas ...int64) []*types.TimedEvent {
	base := time.Now().UTC()
	out := make([]*types.TimedEvent, len(deltas))
	var cum int64
	for i, d := range deltas {
		cum += d
		out[i] = &types.TimedEvent{
			Event: &types.Event{
				Sequence:  int64(i + 1),
				Type:      types.EventCellUpdated,
				EntityID:  "wag-1",
				Timestamp: base.Add(time.Duration(cum) * time.Millisecond),
			},
			DeltaMS: d,
		}
	}
	return out
}

func TestPlayerInstantSuppressesWaits(t *testing.T) {
	player := ReplayWithTiming(timeline(0, 5000, 5000), SpeedInstant)

	start := time.Now()
	var seen int
	err := player.Play(context.Background(), func(ev *types.TimedEvent) error {
		seen++
		return nil
	})
	if err != nil {
		t.Fatalf("play failed: %v", err)
	}
	if seen != 3 {
		t.Fatalf("expected 3 events, got %d", seen)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("instant replay took %v", elapsed)
	}
	if _, err := player.Next(context.Background()); err != io.EOF {
		t.Errorf("expected io.EOF after the timeline, got %v", err)
	}
}

func TestPlayerPacesRealtime(t *testing.T) {
	player := ReplayWithTiming(timeline(0, 60, 60), SpeedRealtime)

	start := time.Now()
	if err := player.Play(context.Background(), func(*types.TimedEvent) error { return nil }); err != nil {
		t.Fatalf("play failed: %v", err)
	}
	// 120ms of recorded gaps minus the scheduler allowance per wait.
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("realtime replay finished in %v, want >= 100ms", elapsed)
	}
}

func TestPlayerDoubleSpeedHalvesGaps(t *testing.T) {
	player := ReplayWithTiming(timeline(0, 200), SpeedDouble)

	start := time.Now()
	if err := player.Play(context.Background(), func(*types.TimedEvent) error { return nil }); err != nil {
		t.Fatalf("play failed: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < 80*time.Millisecond {
		t.Errorf("2x replay finished in %v, want >= 80ms", elapsed)
	}
	if elapsed > 190*time.Millisecond {
		t.Errorf("2x replay took %v, should undercut the recorded 200ms gap", elapsed)
	}
}

func TestPlayerHonorsCancellation(t *testing.T) {
	player := ReplayWithTiming(timeline(0, 5000), SpeedRealtime)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := player.Next(ctx); err != nil {
		t.Fatalf("first event should yield immediately: %v", err)
	}
	start := time.Now()
	_, err := player.Next(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("cancellation took %v to take effect", elapsed)
	}
}

func TestPlayerResetRestarts(t *testing.T) {
	events := timeline(0, 10, 20)
	player := ReplayWithTiming(events, SpeedInstant)
	ctx := context.Background()

	drain := func() []int64 {
		var seqs []int64
		for {
			ev, err := player.Next(ctx)
			if err == io.EOF {
				return seqs
			}
			if err != nil {
				t.Fatalf("next failed: %v", err)
			}
			seqs = append(seqs, ev.Sequence)
		}
	}

	first := drain()
	if player.Remaining() != 0 {
		t.Errorf("remaining after drain = %d, want 0", player.Remaining())
	}
	player.Reset()
	if player.Remaining() != player.Len() {
		t.Errorf("remaining after reset = %d, want %d", player.Remaining(), player.Len())
	}
	second := drain()

	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("drains returned %d and %d events, want 3 each", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("event %d: first run saw seq %d, second saw %d", i, first[i], second[i])
		}
	}
}

func TestParseSpeed(t *testing.T) {
	cases := []struct {
		in      string
		want    Speed
		wantErr bool
	}{
		{"", SpeedRealtime, false},
		{"1x", SpeedRealtime, false},
		{"2x", SpeedDouble, false},
		{"2X", SpeedDouble, false},
		{"instant", SpeedInstant, false},
		{" Instant ", SpeedInstant, false},
		{"3x", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseSpeed(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseSpeed(%q) should fail", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSpeed(%q) failed: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseSpeed(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
