package hive

import (
	"context"
	"fmt"

	"github.com/untoldecay/waggle/internal/eventlog"
	"github.com/untoldecay/waggle/internal/storage"
	"github.com/untoldecay/waggle/internal/types"
)

// AddEpicChild attaches childID to an epic with a parent-child edge.
// Re-attaching an existing child is a no-op.
func (s *Service) AddEpicChild(ctx context.Context, epicID, childID, actor string) error {
	if epicID == childID {
		return &types.ValidationError{Field: "child", Msg: "epic cannot be its own child"}
	}
	return s.db.InTransaction(ctx, func(tx storage.Tx) error {
		epic, err := requireEpic(ctx, tx, epicID)
		if err != nil {
			return err
		}
		if _, err := getCell(ctx, tx, childID); err != nil {
			return err
		}
		exists, err := edgeExists(ctx, tx, childID, epicID)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		_, err = s.log.AppendTx(ctx, tx, &types.Event{
			Type:       types.EventCellEpicChildAdded,
			ProjectKey: epic.ProjectKey,
			EntityID:   childID,
			Actor:      actor,
			Payload: eventlog.Payload(types.DependencyPayload{
				CellID: childID, DependsOnID: epicID, Type: types.DepParentChild,
			}),
		})
		return err
	})
}

// RemoveEpicChild detaches childID from its epic. A missing edge is
// ErrNotFound.
func (s *Service) RemoveEpicChild(ctx context.Context, epicID, childID, actor string) error {
	return s.db.InTransaction(ctx, func(tx storage.Tx) error {
		epic, err := requireEpic(ctx, tx, epicID)
		if err != nil {
			return err
		}
		exists, err := edgeExists(ctx, tx, childID, epicID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("epic child %s -> %s: %w", childID, epicID, types.ErrNotFound)
		}
		_, err = s.log.AppendTx(ctx, tx, &types.Event{
			Type:       types.EventCellEpicChildRemoved,
			ProjectKey: epic.ProjectKey,
			EntityID:   childID,
			Actor:      actor,
			Payload: eventlog.Payload(types.DependencyPayload{
				CellID: childID, DependsOnID: epicID, Type: types.DepParentChild,
			}),
		})
		return err
	})
}

// Decompose creates the child cells of an epic, wires their parent-child
// edges, and records the decomposition, all in one transaction. Children
// inherit the epic's project key when they carry none.
func (s *Service) Decompose(ctx context.Context, epicID string, children []*types.Cell, actor string) ([]*types.Cell, error) {
	if len(children) == 0 {
		return nil, &types.ValidationError{Field: "children", Msg: "decomposition needs at least one child"}
	}

	err := s.db.InTransaction(ctx, func(tx storage.Tx) error {
		epic, err := requireEpic(ctx, tx, epicID)
		if err != nil {
			return err
		}

		events := make([]*types.Event, 0, 2*len(children)+1)
		childIDs := make([]string, 0, len(children))
		for _, child := range children {
			if child.ProjectKey == "" {
				child.ProjectKey = epic.ProjectKey
			}
			if child.CreatedBy == "" {
				child.CreatedBy = actor
			}
			ev, err := s.prepareCreate(child)
			if err != nil {
				return err
			}
			events = append(events, ev)
			childIDs = append(childIDs, child.ID)
		}
		for _, child := range children {
			events = append(events, &types.Event{
				Type:       types.EventCellEpicChildAdded,
				ProjectKey: epic.ProjectKey,
				EntityID:   child.ID,
				Actor:      actor,
				Payload: eventlog.Payload(types.DependencyPayload{
					CellID: child.ID, DependsOnID: epicID, Type: types.DepParentChild,
				}),
			})
		}
		events = append(events, &types.Event{
			Type:       types.EventEpicDecomposed,
			ProjectKey: epic.ProjectKey,
			EntityID:   epicID,
			Actor:      actor,
			Payload:    eventlog.Payload(types.DecompositionPayload{EpicID: epicID, ChildIDs: childIDs}),
		})

		_, err = s.log.AppendTx(ctx, tx, events...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return children, nil
}

// EpicProgress reports closure progress for one epic. An epic is
// eligible to close when it is still open-ish, has children, and every
// child is closed. Eligibility is advisory: Close does not enforce it.
func (s *Service) EpicProgress(ctx context.Context, epicID string) (*types.EpicProgress, error) {
	epic, err := requireEpic(ctx, s.db, epicID)
	if err != nil {
		return nil, err
	}

	progress := &types.EpicProgress{Epic: epic}
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN c.status = 'closed' THEN 1 ELSE 0 END), 0)
		FROM cell_dependencies d
		JOIN cells c ON c.id = d.cell_id
		WHERE d.depends_on_id = ? AND d.type = ?
	`, epicID, types.DepParentChild).Scan(&progress.TotalChildren, &progress.ClosedChildren)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate epic children: %w", err)
	}
	progress.Eligible = !epic.Status.IsTerminal() &&
		progress.TotalChildren > 0 &&
		progress.ClosedChildren == progress.TotalChildren
	return progress, nil
}

// EpicChildren lists an epic's children, oldest first.
func (s *Service) EpicChildren(ctx context.Context, epicID string) ([]*types.Cell, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cellColumns("c.")+`
		FROM cell_dependencies d
		JOIN cells c ON c.id = d.cell_id
		WHERE d.depends_on_id = ? AND d.type = ?
		ORDER BY c.created_at ASC
	`, epicID, types.DepParentChild)
	if err != nil {
		return nil, fmt.Errorf("failed to list epic children: %w", err)
	}
	defer rows.Close()
	return scanCells(rows)
}

// EligibleEpics returns epics whose every child is closed and which are
// themselves still closable.
func (s *Service) EligibleEpics(ctx context.Context, projectKey string) ([]*types.Cell, error) {
	query := `
		WITH epic_children AS (
			SELECT d.depends_on_id AS epic_id, c.status AS child_status
			FROM cell_dependencies d
			JOIN cells c ON c.id = d.cell_id
			WHERE d.type = 'parent-child'
		),
		epic_stats AS (
			SELECT epic_id,
			       COUNT(*) AS total_children,
			       SUM(CASE WHEN child_status = 'closed' THEN 1 ELSE 0 END) AS closed_children
			FROM epic_children
			GROUP BY epic_id
		)
		SELECT ` + cellColumns("e.") + `
		FROM cells e
		JOIN epic_stats es ON es.epic_id = e.id
		WHERE e.cell_type = 'epic'
		  AND e.status NOT IN ('closed', 'tombstone')
		  AND es.total_children > 0
		  AND es.closed_children = es.total_children`
	var args []interface{}
	if projectKey != "" {
		query += " AND e.project_key = ?"
		args = append(args, projectKey)
	}
	query += " ORDER BY e.created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible epics: %w", err)
	}
	defer rows.Close()
	return scanCells(rows)
}

func requireEpic(ctx context.Context, q storage.Querier, epicID string) (*types.Cell, error) {
	epic, err := getCell(ctx, q, epicID)
	if err != nil {
		return nil, err
	}
	if epic.CellType != types.TypeEpic {
		return nil, &types.ValidationError{Field: "epic", Msg: fmt.Sprintf("cell %s is a %s, not an epic", epicID, epic.CellType)}
	}
	return epic, nil
}
