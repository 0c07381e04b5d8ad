package types

import (
	"fmt"
	"time"
)

// Agent is a registered mailbox identity within a project.
type Agent struct {
	Name         string    `json:"name"`
	ProjectKey   string    `json:"project_key"`
	Program      string    `json:"program,omitempty"`
	Model        string    `json:"model,omitempty"`
	TaskInfo     string    `json:"task_info,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// Importance levels for messages. Urgent messages survive inbox
// truncation filters.
const (
	ImportanceLow    = "low"
	ImportanceNormal = "normal"
	ImportanceHigh   = "high"
	ImportanceUrgent = "urgent"
)

// ValidImportance checks a message importance level.
func ValidImportance(s string) bool {
	switch s {
	case ImportanceLow, ImportanceNormal, ImportanceHigh, ImportanceUrgent:
		return true
	}
	return false
}

// Message is one piece of swarm mail. Recipients are stored per recipient
// so read/ack state is tracked independently.
type Message struct {
	ID          int64     `json:"id"`
	ProjectKey  string    `json:"project_key"`
	Sender      string    `json:"sender"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body,omitempty"`
	ThreadID    string    `json:"thread_id,omitempty"`
	Importance  string    `json:"importance"`
	AckRequired bool      `json:"ack_required,omitempty"`
	CellID      string    `json:"cell_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	// Recipient-facing state, populated for inbox/read queries.
	To      []string   `json:"to,omitempty"`
	CC      []string   `json:"cc,omitempty"`
	ReadAt  *time.Time `json:"read_at,omitempty"`
	AckedAt *time.Time `json:"acked_at,omitempty"`
}

// Validate checks message invariants before send.
func (m *Message) Validate() error {
	if m.Sender == "" {
		return fmt.Errorf("message sender cannot be empty")
	}
	if len(m.To) == 0 {
		return fmt.Errorf("message must have at least one recipient")
	}
	if m.Subject == "" {
		return fmt.Errorf("message subject cannot be empty")
	}
	if m.Importance != "" && !ValidImportance(m.Importance) {
		return fmt.Errorf("invalid message importance: %s", m.Importance)
	}
	return nil
}

// InboxEntry is a summarized message as listed by inbox: headers only,
// the body stays in the store until read_message fetches it.
type InboxEntry struct {
	ID          int64     `json:"id"`
	Sender      string    `json:"from"`
	Subject     string    `json:"subject"`
	ThreadID    string    `json:"thread_id,omitempty"`
	Importance  string    `json:"importance"`
	AckRequired bool      `json:"ack_required,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Read        bool      `json:"read"`
	Acked       bool      `json:"acked"`
	Note        string    `json:"note,omitempty"`
}

// Inbox is the result of an inbox listing.
type Inbox struct {
	Agent     string        `json:"agent"`
	Entries   []*InboxEntry `json:"messages"`
	Unread    int           `json:"unread"`
	Total     int           `json:"total"`
	Truncated bool          `json:"truncated,omitempty"`
}

// InboxFilter narrows inbox queries.
type InboxFilter struct {
	UnreadOnly bool
	UrgentOnly bool
	ThreadID   string
	Limit      int
}

// Reservation is a TTL lease over a path pattern. A released or expired
// reservation stays on disk for audit; liveness is released_at IS NULL and
// expires_at in the future.
type Reservation struct {
	ID          int64      `json:"id"`
	ProjectKey  string     `json:"project_key"`
	PathPattern string     `json:"path_pattern"`
	Agent       string     `json:"agent"`
	Exclusive   bool       `json:"exclusive"`
	Reason      string     `json:"reason,omitempty"`
	ReservedAt  time.Time  `json:"reserved_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	ReleasedAt  *time.Time `json:"released_at,omitempty"`
}

// Active reports liveness at the given instant.
func (r *Reservation) Active(now time.Time) bool {
	return r.ReleasedAt == nil && r.ExpiresAt.After(now)
}

// ReservationConflict reports an overlap between a requested path and
// existing live reservations held by other agents.
type ReservationConflict struct {
	Path     string   `json:"path"`
	Holders  []string `json:"holders"`
	Patterns []string `json:"patterns,omitempty"`
}

// ReserveResult is the outcome of a reserve call: what was granted plus
// the conflicts observed. Grants are not withheld on conflict; callers
// decide how to proceed.
type ReserveResult struct {
	Granted   []*Reservation         `json:"granted"`
	Conflicts []*ReservationConflict `json:"conflicts,omitempty"`
	Warning   string                 `json:"warning,omitempty"`
}
