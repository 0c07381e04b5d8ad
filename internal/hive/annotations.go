package hive

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/untoldecay/waggle/internal/eventlog"
	"github.com/untoldecay/waggle/internal/storage"
	"github.com/untoldecay/waggle/internal/types"
)

// AddLabel tags a cell. Already-present labels are a no-op.
func (s *Service) AddLabel(ctx context.Context, cellID, label, actor string) error {
	label = strings.TrimSpace(label)
	if label == "" {
		return &types.ValidationError{Field: "label", Msg: "cannot be empty"}
	}
	return s.db.InTransaction(ctx, func(tx storage.Tx) error {
		cell, err := getCell(ctx, tx, cellID)
		if err != nil {
			return err
		}
		has, err := hasLabel(ctx, tx, cellID, label)
		if err != nil {
			return err
		}
		if has {
			return nil
		}
		_, err = s.log.AppendTx(ctx, tx, &types.Event{
			Type:       types.EventCellLabelAdded,
			ProjectKey: cell.ProjectKey,
			EntityID:   cellID,
			Actor:      actor,
			Payload:    eventlog.Payload(types.LabelPayload{CellID: cellID, Label: label}),
		})
		return err
	})
}

// RemoveLabel untags a cell. Absent labels are a no-op.
func (s *Service) RemoveLabel(ctx context.Context, cellID, label, actor string) error {
	return s.db.InTransaction(ctx, func(tx storage.Tx) error {
		cell, err := getCell(ctx, tx, cellID)
		if err != nil {
			return err
		}
		has, err := hasLabel(ctx, tx, cellID, label)
		if err != nil {
			return err
		}
		if !has {
			return nil
		}
		_, err = s.log.AppendTx(ctx, tx, &types.Event{
			Type:       types.EventCellLabelRemoved,
			ProjectKey: cell.ProjectKey,
			EntityID:   cellID,
			Actor:      actor,
			Payload:    eventlog.Payload(types.LabelPayload{CellID: cellID, Label: label}),
		})
		return err
	})
}

func hasLabel(ctx context.Context, q storage.Querier, cellID, label string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM cell_labels WHERE cell_id = ? AND label = ?`, cellID, label).Scan(&one)
	if storage.IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check label: %w", err)
	}
	return true, nil
}

// AddComment records a comment. The comment id is the id of the
// cell_comment_added event, so it is stable across replay.
func (s *Service) AddComment(ctx context.Context, cellID, author, text string) (*types.Comment, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &types.ValidationError{Field: "text", Msg: "cannot be empty"}
	}
	var comment *types.Comment
	err := s.db.InTransaction(ctx, func(tx storage.Tx) error {
		cell, err := getCell(ctx, tx, cellID)
		if err != nil {
			return err
		}
		evs, err := s.log.AppendTx(ctx, tx, &types.Event{
			Type:       types.EventCellCommentAdded,
			ProjectKey: cell.ProjectKey,
			EntityID:   cellID,
			Actor:      author,
			Payload:    eventlog.Payload(types.CommentPayload{CellID: cellID, Author: author, Text: text}),
		})
		if err != nil {
			return err
		}
		comment = &types.Comment{
			ID:        evs[0].ID,
			CellID:    cellID,
			Author:    author,
			Text:      text,
			CreatedAt: evs[0].Timestamp,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return comment, nil
}

// UpdateComment rewrites a comment's text. The comment must belong to
// the named cell.
func (s *Service) UpdateComment(ctx context.Context, cellID string, commentID int64, text, actor string) error {
	if strings.TrimSpace(text) == "" {
		return &types.ValidationError{Field: "text", Msg: "cannot be empty"}
	}
	return s.db.InTransaction(ctx, func(tx storage.Tx) error {
		cell, err := getCell(ctx, tx, cellID)
		if err != nil {
			return err
		}
		if err := requireComment(ctx, tx, cellID, commentID); err != nil {
			return err
		}
		_, err = s.log.AppendTx(ctx, tx, &types.Event{
			Type:       types.EventCellCommentUpdated,
			ProjectKey: cell.ProjectKey,
			EntityID:   cellID,
			Actor:      actor,
			Payload:    eventlog.Payload(types.CommentPayload{CellID: cellID, CommentID: commentID, Text: text}),
		})
		return err
	})
}

// DeleteComment removes a comment from a cell.
func (s *Service) DeleteComment(ctx context.Context, cellID string, commentID int64, actor string) error {
	return s.db.InTransaction(ctx, func(tx storage.Tx) error {
		cell, err := getCell(ctx, tx, cellID)
		if err != nil {
			return err
		}
		if err := requireComment(ctx, tx, cellID, commentID); err != nil {
			return err
		}
		_, err = s.log.AppendTx(ctx, tx, &types.Event{
			Type:       types.EventCellCommentDeleted,
			ProjectKey: cell.ProjectKey,
			EntityID:   cellID,
			Actor:      actor,
			Payload:    eventlog.Payload(types.CommentPayload{CellID: cellID, CommentID: commentID}),
		})
		return err
	})
}

// Comments lists a cell's comments, oldest first.
func (s *Service) Comments(ctx context.Context, cellID string) ([]*types.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cell_id, author, text, created_at
		FROM cell_comments WHERE cell_id = ? ORDER BY created_at, id
	`, cellID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments for %s: %w", cellID, err)
	}
	defer rows.Close()

	var out []*types.Comment
	for rows.Next() {
		c := &types.Comment{}
		if err := rows.Scan(&c.ID, &c.CellID, &c.Author, &c.Text, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func requireComment(ctx context.Context, q storage.Querier, cellID string, commentID int64) error {
	var one int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM cell_comments WHERE id = ? AND cell_id = ?`, commentID, cellID).Scan(&one)
	if storage.IsNoRows(err) {
		return fmt.Errorf("comment %d on cell %s: %w", commentID, cellID, types.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check comment: %w", err)
	}
	return nil
}

// RecordOutcome appends an outcome_recorded event for a cell: what an
// agent's attempt produced, win or wipe. Outcomes live only in the log;
// there is no projection to fold.
func (s *Service) RecordOutcome(ctx context.Context, cellID, agent, outcome, detail string) error {
	if strings.TrimSpace(outcome) == "" {
		return &types.ValidationError{Field: "outcome", Msg: "cannot be empty"}
	}
	cell, err := getCell(ctx, s.db, cellID)
	if err != nil {
		return err
	}
	_, err = s.log.Append(ctx, &types.Event{
		Type:       types.EventOutcomeRecorded,
		ProjectKey: cell.ProjectKey,
		EntityID:   cellID,
		Actor:      agent,
		Payload:    eventlog.Payload(types.OutcomePayload{CellID: cellID, Agent: agent, Outcome: outcome, Detail: detail}),
	})
	return err
}

// SaveCheckpoint records a named checkpoint, optionally tied to a cell.
// Snapshot carries whatever state blob the agent wants to find again.
func (s *Service) SaveCheckpoint(ctx context.Context, projectKey, name, cellID, snapshot, actor string) error {
	if strings.TrimSpace(name) == "" {
		return &types.ValidationError{Field: "name", Msg: "cannot be empty"}
	}
	_, err := s.log.Append(ctx, &types.Event{
		Type:       types.EventCheckpointSaved,
		ProjectKey: projectKey,
		EntityID:   cellID,
		Actor:      actor,
		Payload:    eventlog.Payload(types.CheckpointPayload{Name: name, CellID: cellID, Snapshot: snapshot}),
	})
	return err
}

// RestoreCheckpoint finds the newest checkpoint_saved with the given
// name and records the restoration. Returns the saved payload.
func (s *Service) RestoreCheckpoint(ctx context.Context, projectKey, name, actor string) (*types.CheckpointPayload, error) {
	events, err := s.log.Read(ctx, types.EventFilter{
		ProjectKey: projectKey,
		Types:      []string{types.EventCheckpointSaved},
	})
	if err != nil {
		return nil, err
	}
	// Read returns ascending sequence; the last name match is the newest.
	for i := len(events) - 1; i >= 0; i-- {
		var cp types.CheckpointPayload
		if err := json.Unmarshal(events[i].Payload, &cp); err != nil || cp.Name != name {
			continue
		}
		_, err = s.log.Append(ctx, &types.Event{
			Type:       types.EventCheckpointRestored,
			ProjectKey: projectKey,
			EntityID:   cp.CellID,
			Actor:      actor,
			Payload:    eventlog.Payload(cp),
		})
		if err != nil {
			return nil, err
		}
		return &cp, nil
	}
	return nil, fmt.Errorf("checkpoint %q: %w", name, types.ErrNotFound)
}
