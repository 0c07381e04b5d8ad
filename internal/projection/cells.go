package projection

import (
	"context"
	"fmt"
	"strings"

	"github.com/untoldecay/waggle/internal/storage"
	"github.com/untoldecay/waggle/internal/types"
)

// Cells materializes the hive work-item tables from the task stream:
// cells, dependencies, labels, comments, the dirty set, and the blocked
// cache. Comment ids are the event ids of their cell_comment_added.
type Cells struct{}

// NewCells creates the cells projection.
func NewCells() *Cells { return &Cells{} }

func (p *Cells) Name() string      { return "cells" }
func (p *Cells) Streams() []string { return []string{types.StreamTask} }

func (p *Cells) Truncate(ctx context.Context, tx storage.Tx) error {
	for _, table := range []string{
		"cell_comments", "cell_labels", "cell_dependencies",
		"blocked_cells_cache", "dirty_cells", "cells",
	} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table, err)
		}
	}
	return nil
}

// AllowedCellFields guards cell_updated folds against unknown columns.
// The hive service validates update requests against the same set so a
// rejected field fails before any event is appended.
var AllowedCellFields = map[string]bool{
	"title":               true,
	"description":         true,
	"design":              true,
	"acceptance_criteria": true,
	"notes":               true,
	"status":              true,
	"priority":            true,
	"cell_type":           true,
	"assignee":            true,
	"content_hash":        true,
}

func (p *Cells) Apply(ctx context.Context, tx storage.Tx, ev *types.Event) error {
	var err error
	switch ev.Type {
	case types.EventCellCreated:
		err = p.applyCreated(ctx, tx, ev)
	case types.EventCellUpdated:
		err = p.applyUpdated(ctx, tx, ev)
	case types.EventCellStatusChanged:
		err = p.applyStatusChanged(ctx, tx, ev)
	case types.EventCellClosed:
		err = p.applyClosed(ctx, tx, ev)
	case types.EventCellReopened:
		err = p.applyReopened(ctx, tx, ev)
	case types.EventCellDeleted:
		err = p.applyDeleted(ctx, tx, ev)
	case types.EventCellDependencyAdded, types.EventCellDependencyRemoved,
		types.EventCellEpicChildAdded, types.EventCellEpicChildRemoved:
		err = p.applyDependency(ctx, tx, ev)
	case types.EventCellLabelAdded, types.EventCellLabelRemoved:
		err = p.applyLabel(ctx, tx, ev)
	case types.EventCellCommentAdded, types.EventCellCommentUpdated, types.EventCellCommentDeleted:
		err = p.applyComment(ctx, tx, ev)
	default:
		return nil
	}
	if err != nil {
		return err
	}

	if ev.EntityID != "" {
		if err := markCellDirty(ctx, tx, ev.EntityID, ev); err != nil {
			return err
		}
	}

	if affectsBlocking(ev.Type) {
		return RebuildBlockedCache(ctx, tx, ev.ProjectKey)
	}
	return nil
}

func affectsBlocking(eventType string) bool {
	switch eventType {
	case types.EventCellStatusChanged, types.EventCellClosed, types.EventCellReopened,
		types.EventCellDeleted, types.EventCellDependencyAdded, types.EventCellDependencyRemoved:
		return true
	}
	return false
}

func (p *Cells) applyCreated(ctx context.Context, tx storage.Tx, ev *types.Event) error {
	var cell types.Cell
	if err := unmarshalPayload(ev, &cell); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cells (id, project_key, content_hash, title, description, design,
			acceptance_criteria, notes, status, priority, cell_type, assignee,
			created_at, created_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cell.ID, ev.ProjectKey, cell.ContentHash(), cell.Title, cell.Description, cell.Design,
		cell.AcceptanceCriteria, cell.Notes, cell.Status, cell.Priority, cell.CellType,
		cell.Assignee, cell.CreatedAt, cell.CreatedBy, cell.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert cell %s: %w", cell.ID, err)
	}
	return nil
}

func (p *Cells) applyUpdated(ctx context.Context, tx storage.Tx, ev *types.Event) error {
	var body types.CellUpdatePayload
	if err := unmarshalPayload(ev, &body); err != nil {
		return err
	}
	setClauses := []string{"updated_at = ?"}
	args := []interface{}{ev.Timestamp}
	for field, value := range body.Fields {
		if !AllowedCellFields[field] {
			return fmt.Errorf("cell_updated carries unknown field %q", field)
		}
		setClauses = append(setClauses, field+" = ?")
		args = append(args, value)
	}
	args = append(args, body.ID)
	// #nosec G201 -- field names validated against the allow list above
	query := fmt.Sprintf("UPDATE cells SET %s WHERE id = ?", strings.Join(setClauses, ", "))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update cell %s: %w", body.ID, err)
	}
	return nil
}

func (p *Cells) applyStatusChanged(ctx context.Context, tx storage.Tx, ev *types.Event) error {
	var body types.CellStatusPayload
	if err := unmarshalPayload(ev, &body); err != nil {
		return err
	}
	if body.To == types.StatusClosed {
		_, err := tx.ExecContext(ctx, `
			UPDATE cells SET status = ?, closed_at = ?, updated_at = ? WHERE id = ?
		`, body.To, ev.Timestamp, ev.Timestamp, body.ID)
		if err != nil {
			return fmt.Errorf("failed to change cell status: %w", err)
		}
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE cells SET status = ?, updated_at = ? WHERE id = ?
	`, body.To, ev.Timestamp, body.ID)
	if err != nil {
		return fmt.Errorf("failed to change cell status: %w", err)
	}
	return nil
}

func (p *Cells) applyClosed(ctx context.Context, tx storage.Tx, ev *types.Event) error {
	var body types.CellStatusPayload
	if err := unmarshalPayload(ev, &body); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE cells SET status = ?, closed_at = ?, close_reason = ?, updated_at = ?
		WHERE id = ?
	`, types.StatusClosed, ev.Timestamp, body.Reason, ev.Timestamp, body.ID)
	if err != nil {
		return fmt.Errorf("failed to close cell %s: %w", body.ID, err)
	}
	return nil
}

func (p *Cells) applyReopened(ctx context.Context, tx storage.Tx, ev *types.Event) error {
	var body types.CellStatusPayload
	if err := unmarshalPayload(ev, &body); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE cells SET status = ?, closed_at = NULL, close_reason = '', updated_at = ?
		WHERE id = ?
	`, types.StatusOpen, ev.Timestamp, body.ID)
	if err != nil {
		return fmt.Errorf("failed to reopen cell %s: %w", body.ID, err)
	}
	return nil
}

func (p *Cells) applyDeleted(ctx context.Context, tx storage.Tx, ev *types.Event) error {
	var body types.CellDeletePayload
	if err := unmarshalPayload(ev, &body); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE cells SET status = ?, deleted_at = ?, delete_reason = ?, updated_at = ?
		WHERE id = ?
	`, types.StatusTombstone, ev.Timestamp, body.Reason, ev.Timestamp, body.ID)
	if err != nil {
		return fmt.Errorf("failed to tombstone cell %s: %w", body.ID, err)
	}
	return nil
}

// applyDependency folds both the generic dependency events and the epic
// child events; the latter are parent-child edges from child to epic.
func (p *Cells) applyDependency(ctx context.Context, tx storage.Tx, ev *types.Event) error {
	var body types.DependencyPayload
	if err := unmarshalPayload(ev, &body); err != nil {
		return err
	}
	if body.Type == "" {
		body.Type = types.DepParentChild
	}
	if ev.Type == types.EventCellDependencyAdded || ev.Type == types.EventCellEpicChildAdded {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cell_dependencies (cell_id, depends_on_id, type, created_at, created_by)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (cell_id, depends_on_id) DO NOTHING
		`, body.CellID, body.DependsOnID, body.Type, ev.Timestamp, ev.Actor)
		if err != nil {
			return fmt.Errorf("failed to insert dependency: %w", err)
		}
	} else {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM cell_dependencies WHERE cell_id = ? AND depends_on_id = ?
		`, body.CellID, body.DependsOnID)
		if err != nil {
			return fmt.Errorf("failed to delete dependency: %w", err)
		}
	}
	// Both endpoints change shape for export purposes.
	return markCellDirty(ctx, tx, body.DependsOnID, ev)
}

func (p *Cells) applyLabel(ctx context.Context, tx storage.Tx, ev *types.Event) error {
	var body types.LabelPayload
	if err := unmarshalPayload(ev, &body); err != nil {
		return err
	}
	if ev.Type == types.EventCellLabelAdded {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cell_labels (cell_id, label) VALUES (?, ?)
			ON CONFLICT (cell_id, label) DO NOTHING
		`, body.CellID, body.Label)
		if err != nil {
			return fmt.Errorf("failed to add label: %w", err)
		}
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		DELETE FROM cell_labels WHERE cell_id = ? AND label = ?
	`, body.CellID, body.Label)
	if err != nil {
		return fmt.Errorf("failed to remove label: %w", err)
	}
	return nil
}

func (p *Cells) applyComment(ctx context.Context, tx storage.Tx, ev *types.Event) error {
	var body types.CommentPayload
	if err := unmarshalPayload(ev, &body); err != nil {
		return err
	}
	switch ev.Type {
	case types.EventCellCommentAdded:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cell_comments (id, cell_id, author, text, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, ev.ID, body.CellID, body.Author, body.Text, ev.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to insert comment: %w", err)
		}
	case types.EventCellCommentUpdated:
		_, err := tx.ExecContext(ctx, `
			UPDATE cell_comments SET text = ?, updated_at = ? WHERE id = ?
		`, body.Text, ev.Timestamp, body.CommentID)
		if err != nil {
			return fmt.Errorf("failed to update comment %d: %w", body.CommentID, err)
		}
	case types.EventCellCommentDeleted:
		_, err := tx.ExecContext(ctx, `
			DELETE FROM cell_comments WHERE id = ?
		`, body.CommentID)
		if err != nil {
			return fmt.Errorf("failed to delete comment %d: %w", body.CommentID, err)
		}
	}
	return nil
}

// RebuildBlockedCache recomputes the blocked set from scratch inside the
// current transaction. Incremental maintenance of blocking state has too
// many edges (status flips, edge removal, tombstones); a full rebuild is
// a few milliseconds at realistic hive sizes and cannot drift.
func RebuildBlockedCache(ctx context.Context, tx storage.Tx, projectKey string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM blocked_cells_cache`); err != nil {
		return fmt.Errorf("failed to clear blocked cache: %w", err)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO blocked_cells_cache (cell_id, blocker_ids, computed_at)
		SELECT d.cell_id, json_group_array(d.depends_on_id), CURRENT_TIMESTAMP
		FROM cell_dependencies d
		JOIN cells blocker ON blocker.id = d.depends_on_id
		JOIN cells c ON c.id = d.cell_id
		WHERE d.type = 'blocks'
		  AND blocker.status IN ('open', 'in_progress', 'blocked')
		  AND c.status NOT IN ('closed', 'tombstone')
		GROUP BY d.cell_id
	`)
	if err != nil {
		return fmt.Errorf("failed to rebuild blocked cache: %w", err)
	}
	return nil
}
