package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is one record in the append-only log. Sequence is assigned by the
// log at append time and is monotonic across the whole store. Payload holds
// the type-specific body as JSON.
type Event struct {
	ID         int64           `json:"id"`
	Sequence   int64           `json:"sequence"`
	Stream     string          `json:"stream"`
	ProjectKey string          `json:"project_key,omitempty"`
	EntityID   string          `json:"entity_id,omitempty"`
	Type       string          `json:"type"`
	Actor      string          `json:"actor,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Streams group event types into the families the log accepts. Projections
// subscribe by stream; cursors checkpoint by stream.
const (
	StreamAgent             = "agent"
	StreamMessage           = "message"
	StreamReservation       = "reservation"
	StreamTask              = "task"
	StreamCheckpoint        = "checkpoint"
	StreamDecomposition     = "decomposition"
	StreamOutcome           = "outcome"
	StreamFeedback          = "feedback"
	StreamValidation        = "validation"
	StreamContextCompaction = "context_compaction"
)

// Event types, grouped by stream.
const (
	// agent
	EventAgentRegistered = "agent_registered"
	EventAgentActive     = "agent_active"

	// message
	EventMessageSent  = "message_sent"
	EventMessageRead  = "message_read"
	EventMessageAcked = "message_acked"

	// reservation
	EventFileReserved = "file_reserved"
	EventFileReleased = "file_released"
	EventFileConflict = "file_conflict"

	// task
	EventCellCreated           = "cell_created"
	EventCellUpdated           = "cell_updated"
	EventCellStatusChanged     = "cell_status_changed"
	EventCellClosed            = "cell_closed"
	EventCellReopened          = "cell_reopened"
	EventCellDeleted           = "cell_deleted"
	EventCellDependencyAdded   = "cell_dependency_added"
	EventCellDependencyRemoved = "cell_dependency_removed"
	EventCellLabelAdded        = "cell_label_added"
	EventCellLabelRemoved      = "cell_label_removed"
	EventCellCommentAdded      = "cell_comment_added"
	EventCellCommentUpdated    = "cell_comment_updated"
	EventCellCommentDeleted    = "cell_comment_deleted"
	EventCellEpicChildAdded    = "cell_epic_child_added"
	EventCellEpicChildRemoved  = "cell_epic_child_removed"

	// checkpoint
	EventCheckpointSaved    = "checkpoint_saved"
	EventCheckpointRestored = "checkpoint_restored"

	// decomposition
	EventEpicDecomposed = "epic_decomposed"

	// outcome
	EventOutcomeRecorded = "outcome_recorded"

	// feedback
	EventFeedbackRecorded = "feedback_recorded"

	// validation
	EventValidationRecorded = "validation_recorded"

	// context_compaction
	EventContextCompacted = "context_compacted"
)

// eventStreams maps every accepted event type to its stream.
var eventStreams = map[string]string{
	EventAgentRegistered: StreamAgent,
	EventAgentActive:     StreamAgent,

	EventMessageSent:  StreamMessage,
	EventMessageRead:  StreamMessage,
	EventMessageAcked: StreamMessage,

	EventFileReserved: StreamReservation,
	EventFileReleased: StreamReservation,
	EventFileConflict: StreamReservation,

	EventCellCreated:           StreamTask,
	EventCellUpdated:           StreamTask,
	EventCellStatusChanged:     StreamTask,
	EventCellClosed:            StreamTask,
	EventCellReopened:          StreamTask,
	EventCellDeleted:           StreamTask,
	EventCellDependencyAdded:   StreamTask,
	EventCellDependencyRemoved: StreamTask,
	EventCellLabelAdded:        StreamTask,
	EventCellLabelRemoved:      StreamTask,
	EventCellCommentAdded:      StreamTask,
	EventCellCommentUpdated:    StreamTask,
	EventCellCommentDeleted:    StreamTask,
	EventCellEpicChildAdded:    StreamTask,
	EventCellEpicChildRemoved:  StreamTask,

	EventCheckpointSaved:    StreamCheckpoint,
	EventCheckpointRestored: StreamCheckpoint,

	EventEpicDecomposed: StreamDecomposition,

	EventOutcomeRecorded: StreamOutcome,

	EventFeedbackRecorded: StreamFeedback,

	EventValidationRecorded: StreamValidation,

	EventContextCompacted: StreamContextCompaction,
}

// StreamForEventType returns the stream an event type belongs to, or an
// error for unknown types. The log rejects appends of unknown types so a
// replayer never meets a payload it cannot interpret.
func StreamForEventType(eventType string) (string, error) {
	stream, ok := eventStreams[eventType]
	if !ok {
		return "", fmt.Errorf("unknown event type: %q", eventType)
	}
	return stream, nil
}

// KnownEventTypes returns all accepted event types. Useful for analytics
// and validation surfaces.
func KnownEventTypes() []string {
	out := make([]string, 0, len(eventStreams))
	for t := range eventStreams {
		out = append(out, t)
	}
	return out
}

// Validate checks the event is acceptable for append: a known type whose
// stream matches (or fills in) the Stream field.
func (e *Event) Validate() error {
	stream, err := StreamForEventType(e.Type)
	if err != nil {
		return err
	}
	if e.Stream == "" {
		e.Stream = stream
	} else if e.Stream != stream {
		return fmt.Errorf("event type %q belongs to stream %q, not %q", e.Type, stream, e.Stream)
	}
	if len(e.Payload) > 0 && !json.Valid(e.Payload) {
		return fmt.Errorf("event payload is not valid JSON")
	}
	return nil
}

// EventFilter narrows log reads and replays.
type EventFilter struct {
	Stream     string
	ProjectKey string
	EntityID   string
	Types      []string
	Actor      string
	Since      time.Time
	Until      time.Time
	FromSeq    int64
	ToSeq      int64
	Limit      int
	Offset     int
}

// TimedEvent is an event annotated with the gap to its predecessor, used
// by session replay.
type TimedEvent struct {
	*Event
	DeltaMS int64 `json:"delta_ms"`
}
