package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/untoldecay/waggle/internal/types"
)

func TestGetStatusIcon(t *testing.T) {
	tests := []struct {
		status string
		want   string
	}{
		{"open", "○"},
		{"in_progress", "◐"},
		{"blocked", "⊘"},
		{"closed", "●"},
		{"tombstone", "✗"},
		{"bogus", "·"},
	}
	for _, tt := range tests {
		if got := GetStatusIcon(tt.status); got != tt.want {
			t.Errorf("GetStatusIcon(%q) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestRenderPriorityTags(t *testing.T) {
	for p := 0; p <= 4; p++ {
		got := RenderPriority(p)
		if !strings.Contains(got, "P") {
			t.Errorf("RenderPriority(%d) = %q, missing P tag", p, got)
		}
	}
}

func TestCompactDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{3 * time.Minute, "3m"},
		{5 * time.Hour, "5h"},
		{72 * time.Hour, "3d"},
	}
	for _, tt := range tests {
		if got := compactDuration(tt.d); got != tt.want {
			t.Errorf("compactDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestHumanizeTimes(t *testing.T) {
	if got := humanizeSince(time.Time{}); got != "never" {
		t.Errorf("humanizeSince(zero) = %q, want never", got)
	}
	if got := humanizeSince(time.Now().Add(-2 * time.Minute)); !strings.HasSuffix(got, " ago") {
		t.Errorf("humanizeSince(past) = %q, want ago suffix", got)
	}
	if got := humanizeUntil(time.Now().Add(-time.Second)); got != "expired" {
		t.Errorf("humanizeUntil(past) = %q, want expired", got)
	}
	if got := humanizeUntil(time.Now().Add(90 * time.Second)); !strings.HasPrefix(got, "in ") {
		t.Errorf("humanizeUntil(future) = %q, want in prefix", got)
	}
}

func TestRenderCellTable(t *testing.T) {
	if got := RenderCellTable(nil, 80); !strings.Contains(got, "No cells match") {
		t.Errorf("empty table = %q, want hint", got)
	}

	cells := []*types.Cell{
		{ID: "wag-abc", Title: "Fix the dance floor", Status: types.StatusOpen, Priority: 1, CellType: types.TypeBug},
		{ID: "wag-def", Title: strings.Repeat("long ", 40), Status: types.StatusClosed, Priority: 3, CellType: types.TypeTask},
	}
	out := RenderCellTable(cells, 80)
	if !strings.Contains(out, "wag-abc") || !strings.Contains(out, "wag-def") {
		t.Errorf("table missing cell ids:\n%s", out)
	}
	if !strings.Contains(out, "Fix the dance floor") {
		t.Errorf("table missing title:\n%s", out)
	}
	if !strings.Contains(out, "...") {
		t.Errorf("long title not truncated:\n%s", out)
	}
}

func TestBuildCellTreeNesting(t *testing.T) {
	root := &types.Cell{ID: "wag-epic", Title: "Epic", Status: types.StatusOpen}
	children := map[string][]*types.Cell{
		"wag-epic": {
			{ID: "wag-a", Title: "First", Status: types.StatusClosed},
			{ID: "wag-b", Title: "Second", Status: types.StatusOpen},
		},
		"wag-a": {
			{ID: "wag-a1", Title: "Nested", Status: types.StatusInProgress},
		},
	}

	out := RenderCellTree(root, children)
	for _, id := range []string{"wag-epic", "wag-a", "wag-b", "wag-a1"} {
		if !strings.Contains(out, id) {
			t.Errorf("tree missing %s:\n%s", id, out)
		}
	}
	// The grandchild nests under wag-a, so it appears before wag-b's line.
	if strings.Index(out, "wag-a1") > strings.Index(out, "wag-b") {
		t.Errorf("wag-a1 should render under wag-a, before wag-b:\n%s", out)
	}

	if got := RenderCellTree(nil, nil); !strings.Contains(got, "No cells found") {
		t.Errorf("nil tree = %q, want hint", got)
	}
}

func TestRenderInboxTable(t *testing.T) {
	empty := &types.Inbox{Agent: "scout-1"}
	if got := RenderInboxTable(empty, 80); !strings.Contains(got, "Inbox empty") {
		t.Errorf("empty inbox = %q, want hint", got)
	}

	inbox := &types.Inbox{
		Agent:  "scout-1",
		Unread: 1,
		Total:  2,
		Entries: []*types.InboxEntry{
			{ID: 7, Sender: "queen", Subject: "nectar report", Importance: "urgent", AckRequired: true, CreatedAt: time.Now()},
			{ID: 3, Sender: "muncher", Subject: "done", Importance: "info", Read: true, Acked: true, CreatedAt: time.Now()},
		},
	}
	out := RenderInboxTable(inbox, 100)
	if !strings.Contains(out, "1 unread of 2") {
		t.Errorf("header missing counts:\n%s", out)
	}
	if !strings.Contains(out, "queen") || !strings.Contains(out, "nectar report") {
		t.Errorf("table missing entry fields:\n%s", out)
	}
}

func TestRenderMemoryHits(t *testing.T) {
	out := RenderMemoryHits("deploy steps", nil, 80)
	if !strings.Contains(out, "No memories matched") {
		t.Errorf("no-results view = %q", out)
	}

	results := []*types.MemorySearchResult{
		{Memory: &types.Memory{ID: "mem-1", Information: "use the blue pipeline"}, Score: 0.91, MatchedVia: "embedding"},
	}
	out = RenderMemoryHits("deploy steps", results, 90)
	if !strings.Contains(out, "mem-1") || !strings.Contains(out, "0.91") {
		t.Errorf("hit table missing fields:\n%s", out)
	}
}

func TestRenderConflictTable(t *testing.T) {
	out := RenderConflictTable(nil, 80)
	if !strings.Contains(out, "No conflicts") {
		t.Errorf("empty conflicts = %q", out)
	}

	conflicts := []*types.ReservationConflict{
		{Path: "src/api/*.go", Holders: []string{"muncher"}, Patterns: []string{"src/**"}},
	}
	out = RenderConflictTable(conflicts, 90)
	if !strings.Contains(out, "src/api/*.go") || !strings.Contains(out, "muncher") {
		t.Errorf("conflict table missing fields:\n%s", out)
	}
}
