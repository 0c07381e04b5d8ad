// Package types defines the core domain types shared across the waggle
// coordination substrate: hive cells and their relationships, swarm mail,
// file reservations, the event log record, semantic memory, and the
// structured results returned to agent callers.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ProjectKey canonicalizes a project path so every process working in
// the same checkout lands on the same key, regardless of working
// directory.
func ProjectKey(projectPath string) string {
	if abs, err := filepath.Abs(projectPath); err == nil {
		return filepath.Clean(abs)
	}
	return filepath.Clean(projectPath)
}

// Status represents the workflow state of a cell.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusClosed     Status = "closed"
	StatusTombstone  Status = "tombstone"
)

// IsValid checks if the status is a known value.
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusBlocked, StatusClosed, StatusTombstone:
		return true
	}
	return false
}

// IsTerminal reports whether the status ends the cell's active life.
func (s Status) IsTerminal() bool {
	return s == StatusClosed || s == StatusTombstone
}

// CellType categorizes a cell.
type CellType string

const (
	TypeTask    CellType = "task"
	TypeBug     CellType = "bug"
	TypeFeature CellType = "feature"
	TypeEpic    CellType = "epic"
	TypeChore   CellType = "chore"
)

// IsValid checks if the cell type is a known value.
func (t CellType) IsValid() bool {
	switch t {
	case TypeTask, TypeBug, TypeFeature, TypeEpic, TypeChore:
		return true
	}
	return false
}

// DependencyType represents the kind of edge between two cells.
type DependencyType string

const (
	// DepBlocks gates the ready queue: the dependent cell is not ready
	// until the cell it depends on is closed.
	DepBlocks DependencyType = "blocks"
	// DepParentChild attaches a child cell to its epic.
	DepParentChild DependencyType = "parent-child"
	// DepRelated is informational only.
	DepRelated DependencyType = "related"
	// DepDiscoveredFrom records that work on one cell surfaced another.
	DepDiscoveredFrom DependencyType = "discovered-from"
)

// IsValid checks if the dependency type is a known value.
func (d DependencyType) IsValid() bool {
	switch d {
	case DepBlocks, DepParentChild, DepRelated, DepDiscoveredFrom:
		return true
	}
	return false
}

// AffectsReadiness reports whether edges of this type participate in
// blocking semantics.
func (d DependencyType) AffectsReadiness() bool {
	return d == DepBlocks
}

// Cell is a unit of work in the hive. Epics are cells of type epic with
// parent-child edges to their children.
type Cell struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Description        string     `json:"description,omitempty"`
	Design             string     `json:"design,omitempty"`
	AcceptanceCriteria string     `json:"acceptance_criteria,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	Status             Status     `json:"status"`
	Priority           int        `json:"priority"`
	CellType           CellType   `json:"cell_type"`
	Assignee           string     `json:"assignee,omitempty"`
	ProjectKey         string     `json:"project_key,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	CreatedBy          string     `json:"created_by,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
	ClosedAt           *time.Time `json:"closed_at,omitempty"`
	CloseReason        string     `json:"close_reason,omitempty"`
	DeletedAt          *time.Time `json:"deleted_at,omitempty"`
	DeleteReason       string     `json:"delete_reason,omitempty"`

	// Populated by queries that join, not stored on the cell row.
	Labels       []string      `json:"labels,omitempty"`
	Dependencies []*Dependency `json:"dependencies,omitempty"`
}

// MaxTitleLength bounds cell titles; matches the schema CHECK constraint.
const MaxTitleLength = 500

// Validate checks that the cell satisfies its field invariants.
func (c *Cell) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("cell title cannot be empty")
	}
	if len(c.Title) > MaxTitleLength {
		return fmt.Errorf("cell title exceeds %d characters (got %d)", MaxTitleLength, len(c.Title))
	}
	if c.Priority < 0 || c.Priority > 4 {
		return fmt.Errorf("cell priority must be 0-4 (got %d)", c.Priority)
	}
	if c.Status != "" && !c.Status.IsValid() {
		return fmt.Errorf("invalid cell status: %s", c.Status)
	}
	if c.CellType != "" && !c.CellType.IsValid() {
		return fmt.Errorf("invalid cell type: %s", c.CellType)
	}
	if c.Status == StatusClosed && c.ClosedAt == nil {
		return fmt.Errorf("closed cell must have closed_at timestamp")
	}
	return nil
}

// ContentHash computes a stable hash over the cell's exportable content.
// Timestamp-only changes keep the same hash, which lets snapshot export
// skip rewriting lines whose content did not move.
func (c *Cell) ContentHash() string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	write(c.ID)
	write(c.Title)
	write(c.Description)
	write(c.Design)
	write(c.AcceptanceCriteria)
	write(c.Notes)
	write(string(c.Status))
	write(fmt.Sprintf("%d", c.Priority))
	write(string(c.CellType))
	write(c.Assignee)
	write(c.CloseReason)
	write(strings.Join(c.Labels, ","))
	return hex.EncodeToString(h.Sum(nil))
}

// CanTransition reports whether a status change is allowed by the
// workflow machine. Reopening a closed cell targets open; tombstones
// never transition.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusTombstone:
		return false
	case StatusClosed:
		return to == StatusOpen
	default:
		return to.IsValid() && to != StatusTombstone
	}
}

// Dependency is a typed edge from a cell to the cell it depends on.
type Dependency struct {
	CellID      string         `json:"cell_id"`
	DependsOnID string         `json:"depends_on_id"`
	Type        DependencyType `json:"type"`
	CreatedAt   time.Time      `json:"created_at"`
	CreatedBy   string         `json:"created_by,omitempty"`
}

// Validate checks the dependency edge invariants.
func (d *Dependency) Validate() error {
	if d.CellID == "" || d.DependsOnID == "" {
		return fmt.Errorf("dependency endpoints cannot be empty")
	}
	if d.CellID == d.DependsOnID {
		return fmt.Errorf("cell cannot depend on itself: %s", d.CellID)
	}
	if !d.Type.IsValid() {
		return fmt.Errorf("invalid dependency type: %s", d.Type)
	}
	return nil
}

// Comment is a discussion entry on a cell.
type Comment struct {
	ID        int64     `json:"id"`
	CellID    string    `json:"cell_id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// BlockedCell pairs a blocked cell with the open blockers holding it.
type BlockedCell struct {
	*Cell
	BlockedBy []string `json:"blocked_by"`
}

// EpicProgress summarizes an epic's children for closure eligibility.
type EpicProgress struct {
	Epic           *Cell `json:"epic"`
	TotalChildren  int   `json:"total_children"`
	ClosedChildren int   `json:"closed_children"`
	Eligible       bool  `json:"eligible"`
}

// CellFilter narrows cell list queries. Zero values mean "no constraint".
type CellFilter struct {
	ProjectKey        string
	Status            Status
	CellType          CellType
	Assignee          string
	Labels            []string
	Priority          *int
	TitleLike         string
	Limit             int
	IncludeTombstones bool
}

// StaleFilter selects in-progress cells that have not been touched recently.
type StaleFilter struct {
	ProjectKey string
	OlderThan  time.Duration
	Limit      int
}

// Statistics aggregates hive counts for a project.
type Statistics struct {
	Total         int `json:"total"`
	Open          int `json:"open"`
	InProgress    int `json:"in_progress"`
	Blocked       int `json:"blocked"`
	Closed        int `json:"closed"`
	Tombstones    int `json:"tombstones"`
	Ready         int `json:"ready"`
	Epics         int `json:"epics"`
	EligibleEpics int `json:"eligible_epics"`
}
