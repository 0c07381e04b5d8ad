package projection

import (
	"context"
	"fmt"

	"github.com/untoldecay/waggle/internal/storage"
	"github.com/untoldecay/waggle/internal/types"
)

// Messages materializes mailboxes from the message stream. The message
// row id is the event id of its message_sent, so replays regenerate the
// same ids and read/ack events can address messages stably.
type Messages struct{}

// NewMessages creates the messages projection.
func NewMessages() *Messages { return &Messages{} }

func (p *Messages) Name() string      { return "messages" }
func (p *Messages) Streams() []string { return []string{types.StreamMessage} }

func (p *Messages) Truncate(ctx context.Context, tx storage.Tx) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM message_recipients`); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM messages`)
	return err
}

func (p *Messages) Apply(ctx context.Context, tx storage.Tx, ev *types.Event) error {
	switch ev.Type {
	case types.EventMessageSent:
		return p.applySent(ctx, tx, ev)
	case types.EventMessageRead:
		return p.applyStamp(ctx, tx, ev, "read_at")
	case types.EventMessageAcked:
		return p.applyStamp(ctx, tx, ev, "acked_at")
	}
	return nil
}

func (p *Messages) applySent(ctx context.Context, tx storage.Tx, ev *types.Event) error {
	var body types.MessagePayload
	if err := unmarshalPayload(ev, &body); err != nil {
		return err
	}
	ackRequired := 0
	if body.AckRequired {
		ackRequired = 1
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, project_key, sender, subject, body, thread_id, importance, ack_required, cell_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.ProjectKey, body.Sender, body.Subject, body.Body, body.ThreadID,
		body.Importance, ackRequired, body.CellID, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	for _, to := range body.To {
		if err := p.insertRecipient(ctx, tx, ev.ID, to, "to"); err != nil {
			return err
		}
	}
	for _, cc := range body.CC {
		if err := p.insertRecipient(ctx, tx, ev.ID, cc, "cc"); err != nil {
			return err
		}
	}
	return nil
}

func (p *Messages) insertRecipient(ctx context.Context, tx storage.Tx, messageID int64, recipient, kind string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO message_recipients (message_id, recipient, kind)
		VALUES (?, ?, ?)
		ON CONFLICT (message_id, recipient) DO NOTHING
	`, messageID, recipient, kind)
	if err != nil {
		return fmt.Errorf("failed to insert recipient %s: %w", recipient, err)
	}
	return nil
}

// applyStamp records read/ack state. First stamp wins: re-reading a
// message does not move its read timestamp.
func (p *Messages) applyStamp(ctx context.Context, tx storage.Tx, ev *types.Event, column string) error {
	var body types.MessageStatePayload
	if err := unmarshalPayload(ev, &body); err != nil {
		return err
	}
	// #nosec G201 -- column is one of two compile-time constants
	query := fmt.Sprintf(`
		UPDATE message_recipients SET %s = ?
		WHERE message_id = ? AND recipient = ? AND %s IS NULL
	`, column, column)
	if _, err := tx.ExecContext(ctx, query, ev.Timestamp, body.MessageID, body.Agent); err != nil {
		return fmt.Errorf("failed to stamp %s: %w", column, err)
	}
	if column == "acked_at" {
		// Ack implies read.
		_, err := tx.ExecContext(ctx, `
			UPDATE message_recipients SET read_at = ?
			WHERE message_id = ? AND recipient = ? AND read_at IS NULL
		`, ev.Timestamp, body.MessageID, body.Agent)
		if err != nil {
			return fmt.Errorf("failed to stamp read on ack: %w", err)
		}
	}
	return nil
}
