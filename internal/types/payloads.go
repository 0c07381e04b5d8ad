package types

import "time"

// Event payload bodies. Services write these; projections and replay
// read them back. Fields are stable: replaying an old log must keep
// working, so payloads only grow.

// AgentPayload is the body of agent_registered and agent_active.
type AgentPayload struct {
	Name     string `json:"name"`
	Program  string `json:"program,omitempty"`
	Model    string `json:"model,omitempty"`
	TaskInfo string `json:"task_info,omitempty"`
}

// MessagePayload is the body of message_sent.
type MessagePayload struct {
	Sender      string   `json:"sender"`
	To          []string `json:"to"`
	CC          []string `json:"cc,omitempty"`
	Subject     string   `json:"subject"`
	Body        string   `json:"body"`
	ThreadID    string   `json:"thread_id,omitempty"`
	Importance  string   `json:"importance"`
	AckRequired bool     `json:"ack_required,omitempty"`
	CellID      string   `json:"cell_id,omitempty"`
}

// MessageStatePayload is the body of message_read and message_acked.
type MessageStatePayload struct {
	MessageID int64  `json:"message_id"`
	Agent     string `json:"agent"`
}

// ReservationPayload is the body of file_reserved, one event per granted
// path pattern.
type ReservationPayload struct {
	PathPattern string    `json:"path_pattern"`
	Agent       string    `json:"agent"`
	Exclusive   bool      `json:"exclusive"`
	Reason      string    `json:"reason,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ReleasePayload is the body of file_released. IDs list the reservation
// rows stamped released, resolved before the event is appended so replay
// is deterministic.
type ReleasePayload struct {
	Agent string   `json:"agent"`
	IDs   []int64  `json:"ids"`
	Paths []string `json:"paths,omitempty"`
	All   bool     `json:"all,omitempty"`
}

// ConflictPayload is the body of file_conflict.
type ConflictPayload struct {
	PathPattern string   `json:"path_pattern"`
	Agent       string   `json:"agent"`
	Holders     []string `json:"holders"`
	Patterns    []string `json:"patterns,omitempty"`
}

// CellUpdatePayload is the body of cell_updated: the changed fields only.
type CellUpdatePayload struct {
	ID     string                 `json:"id"`
	Fields map[string]interface{} `json:"fields"`
}

// CellStatusPayload is the body of cell_status_changed, cell_closed and
// cell_reopened.
type CellStatusPayload struct {
	ID     string `json:"id"`
	From   Status `json:"from"`
	To     Status `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// CellDeletePayload is the body of cell_deleted. Deletion is a tombstone
// transition, not a row removal.
type CellDeletePayload struct {
	ID     string `json:"id"`
	Reason string `json:"reason,omitempty"`
}

// DependencyPayload is the body of cell_dependency_added and _removed.
type DependencyPayload struct {
	CellID      string         `json:"cell_id"`
	DependsOnID string         `json:"depends_on_id"`
	Type        DependencyType `json:"type"`
}

// LabelPayload is the body of cell_label_added and _removed.
type LabelPayload struct {
	CellID string `json:"cell_id"`
	Label  string `json:"label"`
}

// CommentPayload is the body of the cell_comment events. CommentID is
// zero on add (the projection keys the row by the event id) and set for
// update and delete.
type CommentPayload struct {
	CellID    string `json:"cell_id"`
	CommentID int64  `json:"comment_id,omitempty"`
	Author    string `json:"author,omitempty"`
	Text      string `json:"text,omitempty"`
}

// DecompositionPayload is the body of epic_decomposed.
type DecompositionPayload struct {
	EpicID   string   `json:"epic_id"`
	ChildIDs []string `json:"child_ids"`
}

// OutcomePayload is the body of outcome_recorded.
type OutcomePayload struct {
	CellID  string `json:"cell_id"`
	Agent   string `json:"agent,omitempty"`
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
}

// CheckpointPayload is the body of checkpoint_saved and _restored.
type CheckpointPayload struct {
	Name     string `json:"name"`
	CellID   string `json:"cell_id,omitempty"`
	Snapshot string `json:"snapshot,omitempty"`
}
