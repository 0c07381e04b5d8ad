// Package hive manages cells, the unit of work agents coordinate around.
// Every mutation appends an event to the task stream and folds the cell
// projections in the same transaction, so hive state replays with the
// rest of the log. Reads go straight to the projections.
package hive

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/untoldecay/waggle/internal/eventlog"
	"github.com/untoldecay/waggle/internal/idgen"
	"github.com/untoldecay/waggle/internal/projection"
	"github.com/untoldecay/waggle/internal/storage"
	"github.com/untoldecay/waggle/internal/types"
)

// Service exposes the hive operations.
type Service struct {
	log    *eventlog.Log
	db     storage.Adapter
	slug   string
	logger *slog.Logger
}

// New creates a hive service. slug seeds minted cell IDs; empty selects
// idgen.DefaultSlug. A nil logger selects slog.Default.
func New(log *eventlog.Log, slug string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{log: log, db: log.DB(), slug: slug, logger: logger}
}

// Create mints and records a new cell. Zero-value status, type and
// priority select open/task/2. An empty ID is minted from the service
// slug; a caller-supplied ID must be well formed.
func (s *Service) Create(ctx context.Context, cell *types.Cell) (*types.Cell, error) {
	ev, err := s.prepareCreate(cell)
	if err != nil {
		return nil, err
	}
	if _, err := s.log.Append(ctx, ev); err != nil {
		return nil, fmt.Errorf("failed to create cell: %w", err)
	}
	return cell, nil
}

// prepareCreate fills cell defaults, mints an ID when needed, and builds
// the cell_created event. Shared by Create and Decompose.
func (s *Service) prepareCreate(cell *types.Cell) (*types.Event, error) {
	now := time.Now().UTC()
	if cell.Status == "" {
		cell.Status = types.StatusOpen
	}
	if cell.CellType == "" {
		cell.CellType = types.TypeTask
	}
	if cell.CreatedAt.IsZero() {
		cell.CreatedAt = now
	}
	cell.UpdatedAt = cell.CreatedAt
	// Caller-supplied IDs are kept as-is so imports preserve identity
	// across stores; they just cannot carry whitespace.
	if cell.ID == "" {
		cell.ID = idgen.New(s.slug, cell.ProjectKey, now)
	} else if strings.ContainsAny(cell.ID, " \t\n") {
		return nil, &types.ValidationError{Field: "id", Msg: fmt.Sprintf("malformed cell id %q", cell.ID)}
	}
	if err := cell.Validate(); err != nil {
		return nil, &types.ValidationError{Field: "cell", Msg: err.Error()}
	}
	return &types.Event{
		Type:       types.EventCellCreated,
		ProjectKey: cell.ProjectKey,
		EntityID:   cell.ID,
		Actor:      cell.CreatedBy,
		Payload:    eventlog.Payload(cell),
	}, nil
}

// Get loads one cell with its labels and dependencies.
func (s *Service) Get(ctx context.Context, id string) (*types.Cell, error) {
	cell, err := getCell(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if err := attachLabels(ctx, s.db, cell); err != nil {
		return nil, err
	}
	if err := attachDependencies(ctx, s.db, cell); err != nil {
		return nil, err
	}
	return cell, nil
}

// Update applies a partial field update. Status is managed by SetStatus,
// Close and Reopen and is rejected here; unknown fields are rejected
// before any event is appended.
func (s *Service) Update(ctx context.Context, id string, fields map[string]interface{}, actor string) (*types.Cell, error) {
	if len(fields) == 0 {
		return nil, &types.ValidationError{Field: "fields", Msg: "no fields to update"}
	}
	for field := range fields {
		if field == "status" {
			return nil, &types.ValidationError{Field: "status", Msg: "status changes go through the status operations"}
		}
		if !projection.AllowedCellFields[field] {
			return nil, &types.ValidationError{Field: field, Msg: "unknown cell field"}
		}
	}
	if title, ok := fields["title"].(string); ok {
		if strings.TrimSpace(title) == "" {
			return nil, &types.ValidationError{Field: "title", Msg: "cannot be empty"}
		}
		if len(title) > types.MaxTitleLength {
			return nil, &types.ValidationError{Field: "title", Msg: fmt.Sprintf("exceeds %d characters", types.MaxTitleLength)}
		}
	}

	var updated *types.Cell
	err := s.db.InTransaction(ctx, func(tx storage.Tx) error {
		cell, err := getCell(ctx, tx, id)
		if err != nil {
			return err
		}
		if cell.Status == types.StatusTombstone {
			return &types.ValidationError{Field: "id", Msg: fmt.Sprintf("cell %s is deleted", id)}
		}
		_, err = s.log.AppendTx(ctx, tx, &types.Event{
			Type:       types.EventCellUpdated,
			ProjectKey: cell.ProjectKey,
			EntityID:   id,
			Actor:      actor,
			Payload:    eventlog.Payload(types.CellUpdatePayload{ID: id, Fields: fields}),
		})
		if err != nil {
			return err
		}
		updated, err = getCell(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetStatus drives the workflow machine. Transitions to closed emit
// cell_closed, closed-to-open emits cell_reopened, everything else emits
// cell_status_changed. Disallowed transitions are rejected with no event.
func (s *Service) SetStatus(ctx context.Context, id string, to types.Status, reason, actor string) (*types.Cell, error) {
	if !to.IsValid() {
		return nil, &types.ValidationError{Field: "status", Msg: fmt.Sprintf("invalid status %q", to)}
	}
	if to == types.StatusTombstone {
		return nil, &types.ValidationError{Field: "status", Msg: "tombstoning goes through delete"}
	}

	var updated *types.Cell
	err := s.db.InTransaction(ctx, func(tx storage.Tx) error {
		cell, err := getCell(ctx, tx, id)
		if err != nil {
			return err
		}
		from := cell.Status
		if from == to {
			updated = cell
			return nil
		}
		if !types.CanTransition(from, to) {
			return &types.ValidationError{
				Field: "status",
				Msg:   fmt.Sprintf("cell %s cannot transition from %s to %s", id, from, to),
			}
		}

		eventType := types.EventCellStatusChanged
		switch {
		case to == types.StatusClosed:
			eventType = types.EventCellClosed
		case from == types.StatusClosed && to == types.StatusOpen:
			eventType = types.EventCellReopened
		}
		_, err = s.log.AppendTx(ctx, tx, &types.Event{
			Type:       eventType,
			ProjectKey: cell.ProjectKey,
			EntityID:   id,
			Actor:      actor,
			Payload:    eventlog.Payload(types.CellStatusPayload{ID: id, From: from, To: to, Reason: reason}),
		})
		if err != nil {
			return err
		}
		updated, err = getCell(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Close closes the cell, recording the reason.
func (s *Service) Close(ctx context.Context, id, reason, actor string) (*types.Cell, error) {
	return s.SetStatus(ctx, id, types.StatusClosed, reason, actor)
}

// Reopen returns a closed cell to open.
func (s *Service) Reopen(ctx context.Context, id, actor string) (*types.Cell, error) {
	return s.SetStatus(ctx, id, types.StatusOpen, "", actor)
}

// Delete tombstones a cell. The row survives for history and replay;
// deleting an already-deleted cell is a no-op.
func (s *Service) Delete(ctx context.Context, id, reason, actor string) error {
	return s.db.InTransaction(ctx, func(tx storage.Tx) error {
		cell, err := getCell(ctx, tx, id)
		if err != nil {
			return err
		}
		if cell.Status == types.StatusTombstone {
			return nil
		}
		_, err = s.log.AppendTx(ctx, tx, &types.Event{
			Type:       types.EventCellDeleted,
			ProjectKey: cell.ProjectKey,
			EntityID:   id,
			Actor:      actor,
			Payload:    eventlog.Payload(types.CellDeletePayload{ID: id, Reason: reason}),
		})
		return err
	})
}

// List returns cells matching the filter, newest first. Tombstones are
// excluded unless the filter asks for them.
func (s *Service) List(ctx context.Context, filter types.CellFilter) ([]*types.Cell, error) {
	where := []string{"1=1"}
	var args []interface{}
	if !filter.IncludeTombstones {
		where = append(where, "c.status != 'tombstone'")
	}
	if filter.ProjectKey != "" {
		where = append(where, "c.project_key = ?")
		args = append(args, filter.ProjectKey)
	}
	if filter.Status != "" {
		where = append(where, "c.status = ?")
		args = append(args, filter.Status)
	}
	if filter.CellType != "" {
		where = append(where, "c.cell_type = ?")
		args = append(args, filter.CellType)
	}
	if filter.Assignee != "" {
		where = append(where, "c.assignee = ?")
		args = append(args, filter.Assignee)
	}
	if filter.Priority != nil {
		where = append(where, "c.priority = ?")
		args = append(args, *filter.Priority)
	}
	if filter.TitleLike != "" {
		where = append(where, "c.title LIKE ?")
		args = append(args, "%"+filter.TitleLike+"%")
	}
	for _, label := range filter.Labels {
		where = append(where, "EXISTS (SELECT 1 FROM cell_labels l WHERE l.cell_id = c.id AND l.label = ?)")
		args = append(args, label)
	}

	query := "SELECT " + cellColumns("c.") + " FROM cells c WHERE " +
		strings.Join(where, " AND ") + " ORDER BY c.created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cells: %w", err)
	}
	defer rows.Close()
	return scanCells(rows)
}

// cellColumns lists the cells projection columns with an optional prefix,
// in the order scanCell reads them.
func cellColumns(prefix string) string {
	cols := []string{
		"id", "project_key", "title", "description", "design", "acceptance_criteria",
		"notes", "status", "priority", "cell_type", "assignee",
		"created_at", "created_by", "updated_at",
		"closed_at", "close_reason", "deleted_at", "delete_reason",
	}
	if prefix == "" {
		return strings.Join(cols, ", ")
	}
	prefixed := make([]string, len(cols))
	for i, c := range cols {
		prefixed[i] = prefix + c
	}
	return strings.Join(prefixed, ", ")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCell(row rowScanner) (*types.Cell, error) {
	cell := &types.Cell{}
	var closedAt, deletedAt sql.NullTime
	err := row.Scan(
		&cell.ID, &cell.ProjectKey, &cell.Title, &cell.Description, &cell.Design,
		&cell.AcceptanceCriteria, &cell.Notes, &cell.Status, &cell.Priority,
		&cell.CellType, &cell.Assignee, &cell.CreatedAt, &cell.CreatedBy,
		&cell.UpdatedAt, &closedAt, &cell.CloseReason, &deletedAt, &cell.DeleteReason,
	)
	if err != nil {
		return nil, err
	}
	if closedAt.Valid {
		t := closedAt.Time
		cell.ClosedAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		cell.DeletedAt = &t
	}
	return cell, nil
}

func scanCells(rows *sql.Rows) ([]*types.Cell, error) {
	var out []*types.Cell
	for rows.Next() {
		cell, err := scanCell(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cell row: %w", err)
		}
		out = append(out, cell)
	}
	return out, rows.Err()
}

func getCell(ctx context.Context, q storage.Querier, id string) (*types.Cell, error) {
	row := q.QueryRowContext(ctx, "SELECT "+cellColumns("")+" FROM cells WHERE id = ?", id)
	cell, err := scanCell(row)
	if storage.IsNoRows(err) {
		return nil, fmt.Errorf("cell %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cell %s: %w", id, err)
	}
	return cell, nil
}

func attachLabels(ctx context.Context, q storage.Querier, cell *types.Cell) error {
	rows, err := q.QueryContext(ctx,
		`SELECT label FROM cell_labels WHERE cell_id = ? ORDER BY label`, cell.ID)
	if err != nil {
		return fmt.Errorf("failed to read labels for %s: %w", cell.ID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return fmt.Errorf("failed to scan label: %w", err)
		}
		cell.Labels = append(cell.Labels, label)
	}
	return rows.Err()
}

func attachDependencies(ctx context.Context, q storage.Querier, cell *types.Cell) error {
	rows, err := q.QueryContext(ctx, `
		SELECT cell_id, depends_on_id, type, created_at, created_by
		FROM cell_dependencies WHERE cell_id = ? ORDER BY created_at
	`, cell.ID)
	if err != nil {
		return fmt.Errorf("failed to read dependencies for %s: %w", cell.ID, err)
	}
	defer rows.Close()
	for rows.Next() {
		dep := &types.Dependency{}
		if err := rows.Scan(&dep.CellID, &dep.DependsOnID, &dep.Type, &dep.CreatedAt, &dep.CreatedBy); err != nil {
			return fmt.Errorf("failed to scan dependency: %w", err)
		}
		cell.Dependencies = append(cell.Dependencies, dep)
	}
	return rows.Err()
}
