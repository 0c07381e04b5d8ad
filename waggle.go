// Package waggle provides a minimal public API for embedding the
// coordination substrate in custom swarm orchestrators.
//
// Agent-facing workflows should go through the wag CLI. This package
// exports only the store opener, the service constructors and the core
// types needed by Go programs that drive the event log programmatically.
package waggle

import (
	"context"
	"log/slog"
	"time"

	"github.com/untoldecay/waggle/internal/config"
	"github.com/untoldecay/waggle/internal/deferred"
	"github.com/untoldecay/waggle/internal/eventlog"
	"github.com/untoldecay/waggle/internal/hive"
	"github.com/untoldecay/waggle/internal/idgen"
	"github.com/untoldecay/waggle/internal/inference"
	"github.com/untoldecay/waggle/internal/lock"
	"github.com/untoldecay/waggle/internal/mail"
	"github.com/untoldecay/waggle/internal/memory"
	"github.com/untoldecay/waggle/internal/projection"
	"github.com/untoldecay/waggle/internal/reservation"
	"github.com/untoldecay/waggle/internal/schema"
	"github.com/untoldecay/waggle/internal/snapshot"
	"github.com/untoldecay/waggle/internal/storage"
	"github.com/untoldecay/waggle/internal/storage/sqlite"
	"github.com/untoldecay/waggle/internal/types"
)

// Storage is the adapter over the SQLite store. Close it when done.
type Storage = storage.Adapter

// Log is the append-only event log every projection folds from.
type Log = eventlog.Log

// Open opens (creating if needed) the store at dbPath, runs migrations
// and returns an event log with all projections attached. Close the
// store via Log.DB().Close(). A nil logger selects slog.Default.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Log, error) {
	db, err := sqlite.New(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	if err := schema.Migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}
	log := eventlog.New(db, logger)
	projection.AttachAll(log)
	return log, nil
}

// DefaultDBPath resolves the store location the wag CLI would use: an
// explicit db.path setting, or the shared store under the user config
// directory.
func DefaultDBPath() (string, error) {
	return config.DBPath()
}

// ProjectKey canonicalizes a project path into the key events and
// projection rows are scoped by.
func ProjectKey(path string) string {
	return types.ProjectKey(path)
}

// DiscoverSlug derives the cell-ID prefix for a project directory from
// its go.mod or package.json.
func DiscoverSlug(dir string) string {
	return idgen.DiscoverSlug(dir)
}

// Services. Each is safe for concurrent use by goroutines sharing the
// process; cross-process coordination happens through the store.
type (
	Mail         = mail.Service
	Reservations = reservation.Service
	Locks        = lock.Service
	Deferreds    = deferred.Service
	Hive         = hive.Service
	Memories     = memory.Service
	Snapshots    = snapshot.Service
	Inference    = inference.Client

	MemoryParams    = memory.Params
	InferenceConfig = inference.Config
)

// Operation request and result types.
type (
	InitResult  = mail.InitResult
	SendRequest = mail.SendRequest

	ReserveRequest = reservation.ReserveRequest
	ReleaseRequest = reservation.ReleaseRequest

	AcquireOptions = lock.AcquireOptions

	StoreOptions  = memory.StoreOptions
	UpsertOptions = memory.UpsertOptions
	UpsertResult  = memory.UpsertResult

	SnapshotReport = snapshot.Report
	LineError      = snapshot.LineError
)

// NewMail returns the swarm mail service. maxInboxLimit caps the default
// inbox page; zero uses the service default.
func NewMail(log *Log, maxInboxLimit int) *Mail {
	return mail.New(log, mail.NewRegistry(), maxInboxLimit)
}

// NewReservations returns the path reservation service.
func NewReservations(log *Log) *Reservations {
	return reservation.New(log)
}

// NewLocks returns the CAS lock service backed by db.
func NewLocks(db Storage, logger *slog.Logger) *Locks {
	return lock.New(db, logger)
}

// NewDeferreds returns the deferred-value service. pollInterval paces
// Await; zero uses the service default.
func NewDeferreds(db Storage, logger *slog.Logger, pollInterval time.Duration) *Deferreds {
	return deferred.New(db, logger, pollInterval)
}

// NewHive returns the work item service. slug prefixes generated cell IDs.
func NewHive(log *Log, slug string, logger *slog.Logger) *Hive {
	return hive.New(log, slug, logger)
}

// NewInference returns an Ollama-compatible inference client; memory
// enrichment degrades gracefully when the backend is unreachable.
func NewInference(cfg InferenceConfig, logger *slog.Logger) *Inference {
	return inference.New(cfg, logger)
}

// NewMemories returns the semantic memory service. Zero-valued params
// fall back to the package defaults.
func NewMemories(db Storage, inf *Inference, params MemoryParams, logger *slog.Logger) *Memories {
	return memory.New(db, inf, params, logger)
}

// NewSnapshots returns the JSONL snapshot service.
func NewSnapshots(log *Log, mem *Memories, logger *slog.Logger) *Snapshots {
	return snapshot.New(log, mem, logger)
}

// Core types from internal/types
type (
	Event       = types.Event
	EventFilter = types.EventFilter
	TimedEvent  = types.TimedEvent

	Agent       = types.Agent
	Message     = types.Message
	Inbox       = types.Inbox
	InboxEntry  = types.InboxEntry
	InboxFilter = types.InboxFilter

	Reservation         = types.Reservation
	ReservationConflict = types.ReservationConflict
	ReserveResult       = types.ReserveResult

	Cell           = types.Cell
	CellType       = types.CellType
	CellFilter     = types.CellFilter
	Status         = types.Status
	Dependency     = types.Dependency
	DependencyType = types.DependencyType
	Comment        = types.Comment
	BlockedCell    = types.BlockedCell
	EpicProgress   = types.EpicProgress
	Statistics     = types.Statistics
	StaleFilter    = types.StaleFilter

	LockHandle    = types.LockHandle
	Deferred      = types.Deferred
	DeferredState = types.DeferredState

	Memory             = types.Memory
	MemoryLink         = types.MemoryLink
	LinkType           = types.LinkType
	MemorySearchResult = types.MemorySearchResult
	MemorySearchFilter = types.MemorySearchFilter
	SmartOp            = types.SmartOp
	SmartDecision      = types.SmartDecision
	Entity             = types.Entity
	Relationship       = types.Relationship
)

// Sentinel errors
var (
	ErrNotInitialized       = types.ErrNotInitialized
	ErrNotFound             = types.ErrNotFound
	ErrLockTimeout          = types.ErrLockTimeout
	ErrLockNotHeld          = types.ErrLockNotHeld
	ErrDeferredSettled      = types.ErrDeferredSettled
	ErrInferenceUnavailable = types.ErrInferenceUnavailable
)

// Status constants
const (
	StatusOpen       = types.StatusOpen
	StatusInProgress = types.StatusInProgress
	StatusBlocked    = types.StatusBlocked
	StatusClosed     = types.StatusClosed
	StatusTombstone  = types.StatusTombstone
)

// CellType constants
const (
	TypeTask    = types.TypeTask
	TypeBug     = types.TypeBug
	TypeFeature = types.TypeFeature
	TypeEpic    = types.TypeEpic
	TypeChore   = types.TypeChore
)

// DependencyType constants
const (
	DepBlocks         = types.DepBlocks
	DepParentChild    = types.DepParentChild
	DepRelated        = types.DepRelated
	DepDiscoveredFrom = types.DepDiscoveredFrom
)

// Message importance constants
const (
	ImportanceLow    = types.ImportanceLow
	ImportanceNormal = types.ImportanceNormal
	ImportanceHigh   = types.ImportanceHigh
	ImportanceUrgent = types.ImportanceUrgent
)

// DeferredState constants
const (
	DeferredPending  = types.DeferredPending
	DeferredResolved = types.DeferredResolved
	DeferredRejected = types.DeferredRejected
)

// SmartOp constants
const (
	OpAdd    = types.OpAdd
	OpUpdate = types.OpUpdate
	OpDelete = types.OpDelete
	OpNoop   = types.OpNoop
)

// Memory link constants
const (
	LinkRelated     = types.LinkRelated
	LinkContradicts = types.LinkContradicts
	LinkSupersedes  = types.LinkSupersedes
	LinkElaborates  = types.LinkElaborates
)

// Stream constants
const (
	StreamAgent         = types.StreamAgent
	StreamMessage       = types.StreamMessage
	StreamReservation   = types.StreamReservation
	StreamTask          = types.StreamTask
	StreamCheckpoint    = types.StreamCheckpoint
	StreamDecomposition = types.StreamDecomposition
	StreamOutcome       = types.StreamOutcome
)

// Event type constants
const (
	EventAgentRegistered = types.EventAgentRegistered
	EventAgentActive     = types.EventAgentActive

	EventMessageSent  = types.EventMessageSent
	EventMessageRead  = types.EventMessageRead
	EventMessageAcked = types.EventMessageAcked

	EventFileReserved = types.EventFileReserved
	EventFileReleased = types.EventFileReleased
	EventFileConflict = types.EventFileConflict

	EventCellCreated           = types.EventCellCreated
	EventCellUpdated           = types.EventCellUpdated
	EventCellStatusChanged     = types.EventCellStatusChanged
	EventCellClosed            = types.EventCellClosed
	EventCellReopened          = types.EventCellReopened
	EventCellDeleted           = types.EventCellDeleted
	EventCellDependencyAdded   = types.EventCellDependencyAdded
	EventCellDependencyRemoved = types.EventCellDependencyRemoved

	EventCheckpointSaved    = types.EventCheckpointSaved
	EventCheckpointRestored = types.EventCheckpointRestored
	EventEpicDecomposed     = types.EventEpicDecomposed
	EventOutcomeRecorded    = types.EventOutcomeRecorded
)
