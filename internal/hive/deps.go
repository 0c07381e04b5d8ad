package hive

import (
	"context"
	"fmt"

	"github.com/untoldecay/waggle/internal/eventlog"
	"github.com/untoldecay/waggle/internal/storage"
	"github.com/untoldecay/waggle/internal/types"
)

// maxCycleDepth bounds the cycle walk; a chain this deep is already
// pathological for a hive.
const maxCycleDepth = 500

// AddDependency records a typed edge from cellID to dependsOnID. Blocks
// edges are checked for cycles first and rejected with CycleError before
// any event is written. Adding an edge that already exists is a no-op.
func (s *Service) AddDependency(ctx context.Context, cellID, dependsOnID string, depType types.DependencyType, actor string) error {
	dep := &types.Dependency{CellID: cellID, DependsOnID: dependsOnID, Type: depType}
	if err := dep.Validate(); err != nil {
		return &types.ValidationError{Field: "dependency", Msg: err.Error()}
	}

	return s.db.InTransaction(ctx, func(tx storage.Tx) error {
		cell, err := getCell(ctx, tx, cellID)
		if err != nil {
			return err
		}
		if _, err := getCell(ctx, tx, dependsOnID); err != nil {
			return err
		}

		exists, err := edgeExists(ctx, tx, cellID, dependsOnID)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}

		if depType.AffectsReadiness() {
			if path, err := findPath(ctx, tx, dependsOnID, cellID); err != nil {
				return err
			} else if path != nil {
				return &types.CycleError{Path: append([]string{cellID}, path...)}
			}
		}

		_, err = s.log.AppendTx(ctx, tx, &types.Event{
			Type:       types.EventCellDependencyAdded,
			ProjectKey: cell.ProjectKey,
			EntityID:   cellID,
			Actor:      actor,
			Payload:    eventlog.Payload(types.DependencyPayload{CellID: cellID, DependsOnID: dependsOnID, Type: depType}),
		})
		return err
	})
}

// RemoveDependency deletes the edge from cellID to dependsOnID. A missing
// edge is ErrNotFound.
func (s *Service) RemoveDependency(ctx context.Context, cellID, dependsOnID, actor string) error {
	return s.db.InTransaction(ctx, func(tx storage.Tx) error {
		cell, err := getCell(ctx, tx, cellID)
		if err != nil {
			return err
		}
		exists, err := edgeExists(ctx, tx, cellID, dependsOnID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("dependency %s -> %s: %w", cellID, dependsOnID, types.ErrNotFound)
		}
		_, err = s.log.AppendTx(ctx, tx, &types.Event{
			Type:       types.EventCellDependencyRemoved,
			ProjectKey: cell.ProjectKey,
			EntityID:   cellID,
			Actor:      actor,
			Payload:    eventlog.Payload(types.DependencyPayload{CellID: cellID, DependsOnID: dependsOnID}),
		})
		return err
	})
}

// Dependencies returns the outgoing edges of a cell.
func (s *Service) Dependencies(ctx context.Context, cellID string) ([]*types.Dependency, error) {
	cell := &types.Cell{ID: cellID}
	if err := attachDependencies(ctx, s.db, cell); err != nil {
		return nil, err
	}
	return cell.Dependencies, nil
}

// Dependents returns the cells that depend on cellID (incoming edges).
func (s *Service) Dependents(ctx context.Context, cellID string) ([]*types.Dependency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cell_id, depends_on_id, type, created_at, created_by
		FROM cell_dependencies WHERE depends_on_id = ? ORDER BY created_at
	`, cellID)
	if err != nil {
		return nil, fmt.Errorf("failed to read dependents of %s: %w", cellID, err)
	}
	defer rows.Close()

	var out []*types.Dependency
	for rows.Next() {
		dep := &types.Dependency{}
		if err := rows.Scan(&dep.CellID, &dep.DependsOnID, &dep.Type, &dep.CreatedAt, &dep.CreatedBy); err != nil {
			return nil, fmt.Errorf("failed to scan dependent: %w", err)
		}
		out = append(out, dep)
	}
	return out, rows.Err()
}

func edgeExists(ctx context.Context, q storage.Querier, cellID, dependsOnID string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM cell_dependencies WHERE cell_id = ? AND depends_on_id = ?`,
		cellID, dependsOnID).Scan(&one)
	if storage.IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check dependency edge: %w", err)
	}
	return true, nil
}

// findPath walks blocks edges depth-first from start looking for target.
// It returns the path start..target when one exists, nil otherwise. Run
// before inserting target->start, a hit means the new edge closes a loop.
func findPath(ctx context.Context, q storage.Querier, start, target string) ([]string, error) {
	adj, err := blocksAdjacency(ctx, q)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{}
	var path []string
	var dfs func(node string, depth int) bool
	dfs = func(node string, depth int) bool {
		if depth > maxCycleDepth || visited[node] {
			return false
		}
		visited[node] = true
		path = append(path, node)
		if node == target {
			return true
		}
		for _, next := range adj[node] {
			if dfs(next, depth+1) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}
	if dfs(start, 0) {
		return path, nil
	}
	return nil, nil
}

// blocksAdjacency loads the blocks edge list in one query; cycle checks
// then walk in memory instead of issuing a query per hop.
func blocksAdjacency(ctx context.Context, q storage.Querier) (map[string][]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT cell_id, depends_on_id FROM cell_dependencies WHERE type = ?`, types.DepBlocks)
	if err != nil {
		return nil, fmt.Errorf("failed to load dependency graph: %w", err)
	}
	defer rows.Close()

	adj := map[string][]string{}
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		adj[from] = append(adj[from], to)
	}
	return adj, rows.Err()
}
