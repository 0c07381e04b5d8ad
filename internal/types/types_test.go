package types

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestCellValidation(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		cell    Cell
		wantErr string
	}{
		{
			name: "valid cell",
			cell: Cell{Title: "Wire retry into fetcher", Priority: 2, Status: StatusOpen, CellType: TypeTask},
		},
		{
			name:    "empty title",
			cell:    Cell{Priority: 2},
			wantErr: "title cannot be empty",
		},
		{
			name:    "whitespace title",
			cell:    Cell{Title: "   ", Priority: 2},
			wantErr: "title cannot be empty",
		},
		{
			name:    "title too long",
			cell:    Cell{Title: strings.Repeat("x", MaxTitleLength+1)},
			wantErr: "exceeds 500 characters",
		},
		{
			name:    "priority below range",
			cell:    Cell{Title: "t", Priority: -1},
			wantErr: "priority must be 0-4",
		},
		{
			name:    "priority above range",
			cell:    Cell{Title: "t", Priority: 5},
			wantErr: "priority must be 0-4",
		},
		{
			name:    "unknown status",
			cell:    Cell{Title: "t", Status: Status("parked")},
			wantErr: "invalid cell status",
		},
		{
			name:    "unknown cell type",
			cell:    Cell{Title: "t", CellType: CellType("saga")},
			wantErr: "invalid cell type",
		},
		{
			name:    "closed without closed_at",
			cell:    Cell{Title: "t", Status: StatusClosed},
			wantErr: "must have closed_at",
		},
		{
			name: "closed with closed_at",
			cell: Cell{Title: "t", Status: StatusClosed, ClosedAt: timePtr(now)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cell.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusOpen, StatusOpen, true},
		{StatusOpen, StatusInProgress, true},
		{StatusOpen, StatusClosed, true},
		{StatusOpen, StatusTombstone, false},
		{StatusOpen, Status("parked"), false},
		{StatusInProgress, StatusBlocked, true},
		{StatusBlocked, StatusInProgress, true},
		{StatusClosed, StatusOpen, true},
		{StatusClosed, StatusInProgress, false},
		{StatusClosed, StatusClosed, true},
		{StatusTombstone, StatusOpen, false},
		{StatusTombstone, StatusTombstone, true},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStatusIsTerminal(t *testing.T) {
	for _, s := range []Status{StatusOpen, StatusInProgress, StatusBlocked} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	for _, s := range []Status{StatusClosed, StatusTombstone} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestContentHashIgnoresTimestamps(t *testing.T) {
	a := Cell{ID: "w-1", Title: "Same", Description: "body", Priority: 1, CreatedAt: time.Unix(100, 0), UpdatedAt: time.Unix(100, 0)}
	b := Cell{ID: "w-1", Title: "Same", Description: "body", Priority: 1, CreatedAt: time.Unix(999, 0), UpdatedAt: time.Unix(999, 0)}
	if a.ContentHash() != b.ContentHash() {
		t.Error("timestamp-only difference changed the content hash")
	}

	b.Title = "Changed"
	if a.ContentHash() == b.ContentHash() {
		t.Error("title change should change the content hash")
	}
}

func TestContentHashFieldBoundaries(t *testing.T) {
	a := Cell{Title: "ab", Description: "c"}
	b := Cell{Title: "a", Description: "bc"}
	if a.ContentHash() == b.ContentHash() {
		t.Error("content shifted across field boundaries should hash differently")
	}
}

func TestProjectKeyCanonical(t *testing.T) {
	if got := ProjectKey("/tmp/work/../hive"); got != filepath.Clean("/tmp/hive") {
		t.Errorf("ProjectKey did not resolve dot-dot: %q", got)
	}
	if got := ProjectKey("/tmp/hive/"); got != filepath.Clean("/tmp/hive") {
		t.Errorf("ProjectKey did not strip trailing separator: %q", got)
	}
	if got := ProjectKey("relative/path"); !filepath.IsAbs(got) {
		t.Errorf("ProjectKey should absolutize relative paths, got %q", got)
	}
}

func TestDependencyValidate(t *testing.T) {
	ok := Dependency{CellID: "w-1", DependsOnID: "w-2", Type: DepBlocks}
	if err := ok.Validate(); err != nil {
		t.Errorf("valid dependency rejected: %v", err)
	}

	tests := []struct {
		name string
		dep  Dependency
	}{
		{"empty endpoint", Dependency{CellID: "w-1", Type: DepBlocks}},
		{"self dependency", Dependency{CellID: "w-1", DependsOnID: "w-1", Type: DepBlocks}},
		{"unknown type", Dependency{CellID: "w-1", DependsOnID: "w-2", Type: DependencyType("follows")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.dep.Validate() == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestAffectsReadiness(t *testing.T) {
	if !DepBlocks.AffectsReadiness() {
		t.Error("blocks edges must affect readiness")
	}
	for _, d := range []DependencyType{DepParentChild, DepRelated, DepDiscoveredFrom} {
		if d.AffectsReadiness() {
			t.Errorf("%s edges must not affect readiness", d)
		}
	}
}

func TestStreamForEventType(t *testing.T) {
	tests := []struct {
		eventType string
		stream    string
	}{
		{EventAgentRegistered, StreamAgent},
		{EventMessageSent, StreamMessage},
		{EventFileReserved, StreamReservation},
		{EventCellCreated, StreamTask},
		{EventCheckpointSaved, StreamCheckpoint},
		{EventEpicDecomposed, StreamDecomposition},
		{EventOutcomeRecorded, StreamOutcome},
	}
	for _, tt := range tests {
		got, err := StreamForEventType(tt.eventType)
		if err != nil {
			t.Errorf("StreamForEventType(%s) error: %v", tt.eventType, err)
			continue
		}
		if got != tt.stream {
			t.Errorf("StreamForEventType(%s) = %s, want %s", tt.eventType, got, tt.stream)
		}
	}

	if _, err := StreamForEventType("cell_archived"); err == nil {
		t.Error("unknown event type should be rejected")
	}
}

func TestEventValidate(t *testing.T) {
	ev := Event{Type: EventCellCreated}
	if err := ev.Validate(); err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}
	if ev.Stream != StreamTask {
		t.Errorf("Validate should fill in the stream, got %q", ev.Stream)
	}

	wrong := Event{Type: EventCellCreated, Stream: StreamMessage}
	if wrong.Validate() == nil {
		t.Error("mismatched stream should be rejected")
	}

	badPayload := Event{Type: EventCellCreated, Payload: []byte("{not json")}
	if badPayload.Validate() == nil {
		t.Error("invalid JSON payload should be rejected")
	}

	unknown := Event{Type: "cell_exploded"}
	if unknown.Validate() == nil {
		t.Error("unknown type should be rejected")
	}
}

func TestMemoryValidate(t *testing.T) {
	ok := Memory{Information: "auth uses jwt", Confidence: 0.8}
	if err := ok.Validate(); err != nil {
		t.Errorf("valid memory rejected: %v", err)
	}

	from := time.Unix(200, 0)
	until := time.Unix(100, 0)
	tests := []struct {
		name string
		mem  Memory
	}{
		{"empty information", Memory{Confidence: 0.5}},
		{"confidence above 1", Memory{Information: "x", Confidence: 1.5}},
		{"confidence below 0", Memory{Information: "x", Confidence: -0.1}},
		{"wrong embedding dims", Memory{Information: "x", Embedding: make([]float32, 3)}},
		{"inverted validity window", Memory{Information: "x", ValidFrom: &from, ValidUntil: &until}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.mem.Validate() == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestMemoryValidAt(t *testing.T) {
	from := time.Unix(100, 0)
	until := time.Unix(200, 0)

	open := Memory{Information: "x"}
	if !open.ValidAt(time.Unix(0, 0)) || !open.ValidAt(time.Unix(1<<40, 0)) {
		t.Error("memory without bounds should be valid at any instant")
	}

	windowed := Memory{Information: "x", ValidFrom: &from, ValidUntil: &until}
	if windowed.ValidAt(time.Unix(99, 0)) {
		t.Error("instant before valid_from should be invalid")
	}
	if !windowed.ValidAt(time.Unix(100, 0)) {
		t.Error("valid_from itself should be valid")
	}
	if !windowed.ValidAt(time.Unix(150, 0)) {
		t.Error("instant inside the window should be valid")
	}
	if windowed.ValidAt(time.Unix(200, 0)) {
		t.Error("valid_until is exclusive")
	}
}

func TestMemoryLinkValidate(t *testing.T) {
	ok := MemoryLink{SourceID: "m-1", TargetID: "m-2", Type: LinkRelated, Strength: 0.7}
	if err := ok.Validate(); err != nil {
		t.Errorf("valid link rejected: %v", err)
	}

	tests := []struct {
		name string
		link MemoryLink
	}{
		{"empty endpoint", MemoryLink{SourceID: "m-1", Type: LinkRelated}},
		{"self link", MemoryLink{SourceID: "m-1", TargetID: "m-1", Type: LinkRelated}},
		{"unknown type", MemoryLink{SourceID: "m-1", TargetID: "m-2", Type: LinkType("echoes")}},
		{"strength above 1", MemoryLink{SourceID: "m-1", TargetID: "m-2", Type: LinkRelated, Strength: 1.2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.link.Validate() == nil {
				t.Error("expected validation error")
			}
		})
	}
}
