package hive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/untoldecay/waggle/internal/storage"
	"github.com/untoldecay/waggle/internal/types"
)

// ReadyQueue returns open cells with no live blocks dependency, highest
// priority first (lowest number), oldest first within a priority. The
// ready_cells view carries the recursive blocking walk, including
// blocking inherited from epic parents.
func (s *Service) ReadyQueue(ctx context.Context, projectKey string, limit int) ([]*types.Cell, error) {
	query := "SELECT " + cellColumns("") + ` FROM ready_cells`
	var args []interface{}
	if projectKey != "" {
		query += " WHERE project_key = ?"
		args = append(args, projectKey)
	}
	query += " ORDER BY priority ASC, created_at ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read ready queue: %w", err)
	}
	defer rows.Close()
	return scanCells(rows)
}

// Next returns the single cell an idle agent should pick up, or
// ErrNotFound when nothing is ready.
func (s *Service) Next(ctx context.Context, projectKey string) (*types.Cell, error) {
	cells, err := s.ReadyQueue(ctx, projectKey, 1)
	if err != nil {
		return nil, err
	}
	if len(cells) == 0 {
		return nil, fmt.Errorf("no ready cells: %w", types.ErrNotFound)
	}
	return cells[0], nil
}

// Blocked lists cells currently held by unclosed blockers, straight from
// the blocked cache so the check stays O(1) per cell.
func (s *Service) Blocked(ctx context.Context, projectKey string) ([]*types.BlockedCell, error) {
	query := "SELECT " + cellColumns("c.") + `, b.blocker_ids
		FROM blocked_cells_cache b
		JOIN cells c ON c.id = b.cell_id`
	var args []interface{}
	if projectKey != "" {
		query += " WHERE c.project_key = ?"
		args = append(args, projectKey)
	}
	query += " ORDER BY c.priority ASC, c.created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read blocked cells: %w", err)
	}
	defer rows.Close()

	var out []*types.BlockedCell
	for rows.Next() {
		cell := &types.Cell{}
		var closedAt, deletedAt sql.NullTime
		var blockerJSON string
		err := rows.Scan(
			&cell.ID, &cell.ProjectKey, &cell.Title, &cell.Description, &cell.Design,
			&cell.AcceptanceCriteria, &cell.Notes, &cell.Status, &cell.Priority,
			&cell.CellType, &cell.Assignee, &cell.CreatedAt, &cell.CreatedBy,
			&cell.UpdatedAt, &closedAt, &cell.CloseReason, &deletedAt, &cell.DeleteReason,
			&blockerJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan blocked cell: %w", err)
		}
		if closedAt.Valid {
			t := closedAt.Time
			cell.ClosedAt = &t
		}
		if deletedAt.Valid {
			t := deletedAt.Time
			cell.DeletedAt = &t
		}
		blocked := &types.BlockedCell{Cell: cell}
		if err := json.Unmarshal([]byte(blockerJSON), &blocked.BlockedBy); err != nil {
			return nil, fmt.Errorf("failed to decode blocker list for %s: %w", cell.ID, err)
		}
		out = append(out, blocked)
	}
	return out, rows.Err()
}

// IsBlocked reports whether a cell sits in the blocked cache.
func (s *Service) IsBlocked(ctx context.Context, cellID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM blocked_cells_cache WHERE cell_id = ?`, cellID).Scan(&one)
	if err == nil {
		return true, nil
	}
	if storage.IsNoRows(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check blocked cache: %w", err)
}

// Statistics aggregates hive counts for a project; empty projectKey
// covers the whole store.
func (s *Service) Statistics(ctx context.Context, projectKey string) (*types.Statistics, error) {
	stats := &types.Statistics{}
	where := ""
	var args []interface{}
	if projectKey != "" {
		where = " WHERE project_key = ?"
		args = append(args, projectKey)
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status != 'tombstone' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'open' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'in_progress' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'blocked' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'closed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'tombstone' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN cell_type = 'epic' AND status != 'tombstone' THEN 1 ELSE 0 END), 0)
		FROM cells`+where, args...,
	).Scan(&stats.Total, &stats.Open, &stats.InProgress, &stats.Blocked,
		&stats.Closed, &stats.Tombstones, &stats.Epics)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate cell counts: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ready_cells`+where, args...).Scan(&stats.Ready)
	if err != nil {
		return nil, fmt.Errorf("failed to count ready cells: %w", err)
	}

	eligible, err := s.EligibleEpics(ctx, projectKey)
	if err != nil {
		return nil, err
	}
	stats.EligibleEpics = len(eligible)
	return stats, nil
}

// StaleCells returns in-progress cells whose projection row has not been
// touched within filter.OlderThan, most stale first. Agents sweep these
// for work that died with its owner.
func (s *Service) StaleCells(ctx context.Context, filter types.StaleFilter) ([]*types.Cell, error) {
	if filter.OlderThan <= 0 {
		return nil, &types.ValidationError{Field: "older_than", Msg: "must be positive"}
	}
	cutoff := time.Now().UTC().Add(-filter.OlderThan)

	query := "SELECT " + cellColumns("") + ` FROM cells
		WHERE status = 'in_progress' AND updated_at < ?`
	args := []interface{}{cutoff}
	if filter.ProjectKey != "" {
		query += " AND project_key = ?"
		args = append(args, filter.ProjectKey)
	}
	query += " ORDER BY updated_at ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale cells: %w", err)
	}
	defer rows.Close()
	return scanCells(rows)
}
