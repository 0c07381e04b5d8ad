// Package mail implements swarm mail: agent registration and a mailbox
// with a deliberately small inbox. Inbox listings cap at MaxInboxLimit
// and omit bodies so a polling agent cannot blow its context window on
// a backlog; read_message fetches one full body at a time.
package mail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/untoldecay/waggle/internal/eventlog"
	"github.com/untoldecay/waggle/internal/namegen"
	"github.com/untoldecay/waggle/internal/storage"
	"github.com/untoldecay/waggle/internal/types"
)

// DefaultMaxInbox is the inbox ceiling when config does not override it.
const DefaultMaxInbox = 5

// nameAttempts bounds collision re-rolls for generated agent names.
const nameAttempts = 10

// Service exposes the mailbox operations. All durable writes go through
// the event log so mail state replays with everything else.
type Service struct {
	log      *eventlog.Log
	db       storage.Adapter
	registry *Registry
	maxInbox int
}

// New creates a mail service. maxInbox <= 0 selects DefaultMaxInbox.
func New(log *eventlog.Log, registry *Registry, maxInbox int) *Service {
	if maxInbox <= 0 {
		maxInbox = DefaultMaxInbox
	}
	return &Service{log: log, db: log.DB(), registry: registry, maxInbox: maxInbox}
}

// InitResult reports the identity bound to a session.
type InitResult struct {
	Agent              string `json:"agent"`
	ProjectKey         string `json:"project_key"`
	AlreadyInitialized bool   `json:"already_initialized,omitempty"`
}

// Init registers the calling agent for a project and binds it to
// sessionKey. An empty agentName gets a generated adjective-noun name.
// Re-initializing an existing session returns the same identity with
// AlreadyInitialized set.
func (s *Service) Init(ctx context.Context, sessionKey, projectPath, agentName string) (*InitResult, error) {
	projectKey := types.ProjectKey(projectPath)

	if sess, ok := s.registry.Get(sessionKey); ok && sess.ProjectKey == projectKey {
		_, err := s.log.Append(ctx, &types.Event{
			Type:       types.EventAgentActive,
			ProjectKey: projectKey,
			EntityID:   sess.Agent,
			Actor:      sess.Agent,
			Payload:    eventlog.Payload(types.AgentPayload{Name: sess.Agent}),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to touch agent activity: %w", err)
		}
		return &InitResult{Agent: sess.Agent, ProjectKey: projectKey, AlreadyInitialized: true}, nil
	}

	name := strings.TrimSpace(agentName)
	if name == "" {
		generated, err := s.generateName(ctx, projectKey)
		if err != nil {
			return nil, err
		}
		name = generated
	}

	_, err := s.log.Append(ctx, &types.Event{
		Type:       types.EventAgentRegistered,
		ProjectKey: projectKey,
		EntityID:   name,
		Actor:      name,
		Payload:    eventlog.Payload(types.AgentPayload{Name: name}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register agent: %w", err)
	}

	s.registry.Put(&Session{
		Key:        sessionKey,
		ProjectKey: projectKey,
		Agent:      name,
		StartedAt:  time.Now().UTC(),
	})
	return &InitResult{Agent: name, ProjectKey: projectKey}, nil
}

// generateName rolls adjective-noun names until one is free in the
// project. Exhausting the attempts means the name space is effectively
// full for this project, which is worth an error rather than a loop.
func (s *Service) generateName(ctx context.Context, projectKey string) (string, error) {
	for i := 0; i < nameAttempts; i++ {
		candidate := namegen.New()
		var taken int
		err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM agents WHERE project_key = ? AND name = ?
		`, projectKey, candidate).Scan(&taken)
		if err != nil {
			return "", fmt.Errorf("failed to check agent name: %w", err)
		}
		if taken == 0 {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("failed to generate an unused agent name after %d attempts", nameAttempts)
}

func (s *Service) session(sessionKey string) (*Session, error) {
	sess, ok := s.registry.Get(sessionKey)
	if !ok {
		return nil, fmt.Errorf("session %q: %w", sessionKey, types.ErrNotInitialized)
	}
	return sess, nil
}

// SendRequest is the input to Send.
type SendRequest struct {
	To          []string `json:"to"`
	CC          []string `json:"cc,omitempty"`
	Subject     string   `json:"subject"`
	Body        string   `json:"body"`
	ThreadID    string   `json:"thread_id,omitempty"`
	Importance  string   `json:"importance,omitempty"`
	AckRequired bool     `json:"ack_required,omitempty"`
	CellID      string   `json:"cell_id,omitempty"`
}

// Send appends a message_sent event; the projection writes the message
// row plus one recipient row per addressee in the same transaction.
func (s *Service) Send(ctx context.Context, sessionKey string, req SendRequest) (*types.Message, error) {
	sess, err := s.session(sessionKey)
	if err != nil {
		return nil, err
	}

	importance := req.Importance
	if importance == "" {
		importance = types.ImportanceNormal
	}
	msg := &types.Message{
		ProjectKey:  sess.ProjectKey,
		Sender:      sess.Agent,
		Subject:     req.Subject,
		Body:        req.Body,
		ThreadID:    req.ThreadID,
		Importance:  importance,
		AckRequired: req.AckRequired,
		CellID:      req.CellID,
		To:          req.To,
		CC:          req.CC,
	}
	if err := msg.Validate(); err != nil {
		return nil, &types.ValidationError{Field: "message", Msg: err.Error()}
	}

	evs, err := s.log.Append(ctx, &types.Event{
		Type:       types.EventMessageSent,
		ProjectKey: sess.ProjectKey,
		EntityID:   sess.Agent,
		Actor:      sess.Agent,
		Payload: eventlog.Payload(types.MessagePayload{
			Sender:      msg.Sender,
			To:          msg.To,
			CC:          msg.CC,
			Subject:     msg.Subject,
			Body:        msg.Body,
			ThreadID:    msg.ThreadID,
			Importance:  msg.Importance,
			AckRequired: msg.AckRequired,
			CellID:      msg.CellID,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	msg.ID = evs[0].ID
	msg.CreatedAt = evs[0].Timestamp
	return msg, nil
}

// Inbox lists the caller's messages, newest first, capped at
// MIN(filter.Limit, the configured ceiling). Bodies are omitted; each
// entry carries a note pointing at ReadMessage.
func (s *Service) Inbox(ctx context.Context, sessionKey string, filter types.InboxFilter) (*types.Inbox, error) {
	sess, err := s.session(sessionKey)
	if err != nil {
		return nil, err
	}

	limit := s.maxInbox
	if filter.Limit > 0 && filter.Limit < limit {
		limit = filter.Limit
	}

	where := []string{"r.recipient = ?", "m.project_key = ?"}
	args := []interface{}{sess.Agent, sess.ProjectKey}
	if filter.UrgentOnly {
		where = append(where, "m.importance = ?")
		args = append(args, types.ImportanceUrgent)
	}
	if filter.ThreadID != "" {
		where = append(where, "m.thread_id = ?")
		args = append(args, filter.ThreadID)
	}
	if filter.UnreadOnly {
		where = append(where, "r.read_at IS NULL")
	}
	cond := strings.Join(where, " AND ")

	inbox := &types.Inbox{Agent: sess.Agent}
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN r.read_at IS NULL THEN 1 ELSE 0 END), 0)
		FROM messages m
		JOIN message_recipients r ON r.message_id = m.id
		WHERE `+cond, args...).Scan(&inbox.Total, &inbox.Unread)
	if err != nil {
		return nil, fmt.Errorf("failed to count inbox: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.sender, m.subject, m.thread_id, m.importance, m.ack_required,
			m.created_at, r.read_at, r.acked_at
		FROM messages m
		JOIN message_recipients r ON r.message_id = m.id
		WHERE `+cond+`
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?`, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list inbox: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e types.InboxEntry
		var ackRequired int
		var readAt, ackedAt *time.Time
		err := rows.Scan(&e.ID, &e.Sender, &e.Subject, &e.ThreadID, &e.Importance,
			&ackRequired, &e.CreatedAt, &readAt, &ackedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan inbox entry: %w", err)
		}
		e.AckRequired = ackRequired != 0
		e.Read = readAt != nil
		e.Acked = ackedAt != nil
		e.Note = fmt.Sprintf("body omitted; use read_message %d", e.ID)
		inbox.Entries = append(inbox.Entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate inbox: %w", err)
	}
	inbox.Truncated = inbox.Total > len(inbox.Entries)
	return inbox, nil
}

// ReadMessage returns the full message, body included, and records a
// message_read event the first time the calling recipient reads it.
func (s *Service) ReadMessage(ctx context.Context, sessionKey string, messageID int64) (*types.Message, error) {
	sess, err := s.session(sessionKey)
	if err != nil {
		return nil, err
	}

	msg, isRecipient, err := s.fetchMessage(ctx, sess, messageID)
	if err != nil {
		return nil, err
	}

	if isRecipient && msg.ReadAt == nil {
		evs, err := s.log.Append(ctx, &types.Event{
			Type:       types.EventMessageRead,
			ProjectKey: sess.ProjectKey,
			EntityID:   sess.Agent,
			Actor:      sess.Agent,
			Payload:    eventlog.Payload(types.MessageStatePayload{MessageID: messageID, Agent: sess.Agent}),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to record read: %w", err)
		}
		ts := evs[0].Timestamp
		msg.ReadAt = &ts
	}
	return msg, nil
}

// Ack records a message_acked event for the calling recipient. Acking
// twice is a no-op; the first ack also counts as a read.
func (s *Service) Ack(ctx context.Context, sessionKey string, messageID int64) error {
	sess, err := s.session(sessionKey)
	if err != nil {
		return err
	}

	msg, isRecipient, err := s.fetchMessage(ctx, sess, messageID)
	if err != nil {
		return err
	}
	if !isRecipient {
		return fmt.Errorf("message %d is not addressed to %s: %w", messageID, sess.Agent, types.ErrNotFound)
	}
	if msg.AckedAt != nil {
		return nil
	}

	_, err = s.log.Append(ctx, &types.Event{
		Type:       types.EventMessageAcked,
		ProjectKey: sess.ProjectKey,
		EntityID:   sess.Agent,
		Actor:      sess.Agent,
		Payload:    eventlog.Payload(types.MessageStatePayload{MessageID: messageID, Agent: sess.Agent}),
	})
	if err != nil {
		return fmt.Errorf("failed to record ack: %w", err)
	}
	return nil
}

func (s *Service) fetchMessage(ctx context.Context, sess *Session, messageID int64) (*types.Message, bool, error) {
	msg := &types.Message{}
	var ackRequired int
	var readAt, ackedAt *time.Time
	var recipientRows int
	err := s.db.QueryRowContext(ctx, `
		SELECT m.id, m.project_key, m.sender, m.subject, m.body, m.thread_id,
			m.importance, m.ack_required, m.cell_id, m.created_at,
			r.read_at, r.acked_at,
			(SELECT COUNT(*) FROM message_recipients WHERE message_id = m.id AND recipient = ?)
		FROM messages m
		LEFT JOIN message_recipients r ON r.message_id = m.id AND r.recipient = ?
		WHERE m.id = ? AND m.project_key = ?
	`, sess.Agent, sess.Agent, messageID, sess.ProjectKey).Scan(
		&msg.ID, &msg.ProjectKey, &msg.Sender, &msg.Subject, &msg.Body, &msg.ThreadID,
		&msg.Importance, &ackRequired, &msg.CellID, &msg.CreatedAt,
		&readAt, &ackedAt, &recipientRows)
	if err != nil {
		if storage.IsNoRows(err) {
			return nil, false, fmt.Errorf("message %d: %w", messageID, types.ErrNotFound)
		}
		return nil, false, fmt.Errorf("failed to fetch message %d: %w", messageID, err)
	}
	msg.AckRequired = ackRequired != 0
	msg.ReadAt = readAt
	msg.AckedAt = ackedAt

	to, cc, err := s.recipients(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	msg.To, msg.CC = to, cc
	return msg, recipientRows > 0, nil
}

func (s *Service) recipients(ctx context.Context, messageID int64) (to, cc []string, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT recipient, kind FROM message_recipients WHERE message_id = ? ORDER BY recipient
	`, messageID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var recipient, kind string
		if err := rows.Scan(&recipient, &kind); err != nil {
			return nil, nil, fmt.Errorf("failed to scan recipient: %w", err)
		}
		if kind == "cc" {
			cc = append(cc, recipient)
		} else {
			to = append(to, recipient)
		}
	}
	return to, cc, rows.Err()
}

// ListAgents returns the registered agents for a project, most recently
// active first.
func (s *Service) ListAgents(ctx context.Context, projectPath string) ([]*types.Agent, error) {
	projectKey := types.ProjectKey(projectPath)
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, project_key, program, model, task_info, registered_at, last_active_at
		FROM agents
		WHERE project_key = ?
		ORDER BY last_active_at DESC, name ASC
	`, projectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []*types.Agent
	for rows.Next() {
		a := &types.Agent{}
		err := rows.Scan(&a.Name, &a.ProjectKey, &a.Program, &a.Model, &a.TaskInfo,
			&a.RegisteredAt, &a.LastActiveAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}
