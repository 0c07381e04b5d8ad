package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors shared across packages. Callers branch with errors.Is.
var (
	// ErrNotInitialized is returned by mail operations before the agent
	// has registered a session for the project.
	ErrNotInitialized = errors.New("agent not initialized for project")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrLockTimeout is returned when lock acquisition exhausts its retry
	// budget without winning the resource.
	ErrLockTimeout = errors.New("lock acquisition timed out")

	// ErrLockNotHeld is returned when releasing a lock the caller does
	// not currently hold.
	ErrLockNotHeld = errors.New("lock not held by caller")

	// ErrDeferredSettled is returned when resolving a deferred that has
	// already been settled by another writer. It matches ErrNotFound under
	// errors.Is: a settled deferred and a vanished one read the same to a
	// caller that only asks whether it can still settle.
	ErrDeferredSettled = fmt.Errorf("deferred already settled: %w", ErrNotFound)

	// ErrInferenceUnavailable signals that no inference backend is
	// configured or reachable. Callers degrade rather than fail.
	ErrInferenceUnavailable = errors.New("inference backend unavailable")
)

// ValidationError reports rejected input. The message is safe to surface
// to agent callers verbatim.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// CycleError reports a dependency edge that would close a cycle. Path
// lists the cell IDs along the would-be cycle, ending where it started.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency would create cycle: %s", strings.Join(e.Path, " -> "))
}

// TimeoutError reports an await that ran out of time.
type TimeoutError struct {
	Op      string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Elapsed)
}

// SchemaDriftError reports a live table whose column types disagree with
// the declared schema while holding data the runner refuses to destroy.
type SchemaDriftError struct {
	Table string
	Rows  int64
}

func (e *SchemaDriftError) Error() string {
	return fmt.Sprintf("table %s has %d rows and a schema that differs destructively; refusing automatic recreate", e.Table, e.Rows)
}

// OpContext is the situational block attached to structured operation
// results so an agent can orient without extra queries.
type OpContext struct {
	Agent        string    `json:"agent,omitempty"`
	ProjectKey   string    `json:"project_key,omitempty"`
	CellID       string    `json:"cell_id,omitempty"`
	EpicID       string    `json:"epic_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Sequence     int64     `json:"sequence,omitempty"`
	RecentEvents []*Event  `json:"recent_events,omitempty"`
	Suggestions  []string  `json:"suggestions,omitempty"`
}

// MaxRecentEvents bounds the recent-event tail carried on OpContext.
const MaxRecentEvents = 5
