// Package snapshot moves hive cells and memories between the store and
// canonical JSONL files, one object per line, sorted by id so the files
// diff cleanly under version control. Export drains the dirty set;
// import folds foreign rows back through the event log so a rebuilt
// projection still knows about them. Embeddings never leave the store:
// they are large and recomputable.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/untoldecay/waggle/internal/eventlog"
	"github.com/untoldecay/waggle/internal/memory"
	"github.com/untoldecay/waggle/internal/storage"
	"github.com/untoldecay/waggle/internal/types"
)

// Service reads and writes JSONL snapshots.
type Service struct {
	log    *eventlog.Log
	mem    *memory.Service
	db     storage.Adapter
	logger *slog.Logger
}

// New creates a snapshot service. mem may be nil when only cell
// snapshots are needed.
func New(log *eventlog.Log, mem *memory.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{log: log, mem: mem, db: log.DB(), logger: logger}
}

// cellRecord is the cell line shape: the cell row plus its stored
// content hash. Labels and dependencies ride along so a snapshot is
// self-contained.
type cellRecord struct {
	types.Cell
	ContentHash string `json:"content_hash,omitempty"`
}

// dirtyMark is one captured dirty-set row; draining matches both fields
// so a cell re-marked mid-export stays dirty.
type dirtyMark struct {
	cellID   string
	markedAt time.Time
}

// WriteCells streams every cell, tombstones included, to w as JSONL.
func (s *Service) WriteCells(ctx context.Context, w io.Writer) (int, error) {
	cells, err := s.loadCells(ctx)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(w)
	for _, rec := range cells {
		if err := enc.Encode(rec); err != nil {
			return 0, fmt.Errorf("failed to encode cell %s: %w", rec.ID, err)
		}
	}
	return len(cells), nil
}

// ExportCells writes a full cell snapshot to path atomically and drains
// the dirty marks that were present when the export started.
func (s *Service) ExportCells(ctx context.Context, path string) (int, error) {
	marks, err := s.dirtyMarks(ctx)
	if err != nil {
		return 0, err
	}
	count, err := s.writeAtomic(path, func(w io.Writer) (int, error) {
		return s.WriteCells(ctx, w)
	})
	if err != nil {
		return 0, err
	}
	if err := s.drain(ctx, marks); err != nil {
		return count, err
	}
	s.logger.Debug("snapshot: exported cells", "path", path, "count", count, "drained", len(marks))
	return count, nil
}

// WriteMemories streams every memory to w as JSONL. Embeddings are
// excluded by the type's marshalling.
func (s *Service) WriteMemories(ctx context.Context, w io.Writer) (int, error) {
	if s.mem == nil {
		return 0, fmt.Errorf("snapshot: memory service not configured")
	}
	memories, err := s.mem.List(ctx, "", 0)
	if err != nil {
		return 0, err
	}
	sort.Slice(memories, func(i, j int) bool { return memories[i].ID < memories[j].ID })
	enc := json.NewEncoder(w)
	for _, m := range memories {
		if err := enc.Encode(m); err != nil {
			return 0, fmt.Errorf("failed to encode memory %s: %w", m.ID, err)
		}
	}
	return len(memories), nil
}

// ExportMemories writes a full memory snapshot to path atomically.
func (s *Service) ExportMemories(ctx context.Context, path string) (int, error) {
	count, err := s.writeAtomic(path, func(w io.Writer) (int, error) {
		return s.WriteMemories(ctx, w)
	})
	if err != nil {
		return 0, err
	}
	s.logger.Debug("snapshot: exported memories", "path", path, "count", count)
	return count, nil
}

// DirtyCount reports how many cells changed since the last drain.
func (s *Service) DirtyCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dirty_cells`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count dirty cells: %w", err)
	}
	return n, nil
}

// DirtyCells lists the ids awaiting export, oldest mark first.
func (s *Service) DirtyCells(ctx context.Context) ([]string, error) {
	marks, err := s.dirtyMarks(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(marks))
	for i, m := range marks {
		ids[i] = m.cellID
	}
	return ids, nil
}

func (s *Service) dirtyMarks(ctx context.Context) ([]dirtyMark, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cell_id, marked_at FROM dirty_cells ORDER BY marked_at, cell_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list dirty cells: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var marks []dirtyMark
	for rows.Next() {
		var m dirtyMark
		if err := rows.Scan(&m.cellID, &m.markedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dirty cell: %w", err)
		}
		marks = append(marks, m)
	}
	return marks, rows.Err()
}

// drain removes exactly the captured marks. A cell re-marked during the
// export carries a newer marked_at and survives for the next run.
func (s *Service) drain(ctx context.Context, marks []dirtyMark) error {
	if len(marks) == 0 {
		return nil
	}
	return s.db.InTransaction(ctx, func(tx storage.Tx) error {
		for _, m := range marks {
			_, err := tx.ExecContext(ctx, `
				DELETE FROM dirty_cells WHERE cell_id = ? AND marked_at = ?
			`, m.cellID, m.markedAt)
			if err != nil {
				return fmt.Errorf("failed to drain dirty mark %s: %w", m.cellID, err)
			}
		}
		return nil
	})
}

// writeAtomic writes through a temp file in the target directory and
// renames into place, so readers never observe a half-written snapshot.
func (s *Service) writeAtomic(path string, write func(io.Writer) (int, error)) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tempPath := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())
	f, err := os.Create(tempPath) // #nosec G304 -- tempPath derived from the caller's snapshot path
	if err != nil {
		return 0, fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	defer func() {
		if f != nil {
			_ = f.Close()
			_ = os.Remove(tempPath)
		}
	}()

	count, err := write(f)
	if err != nil {
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temp snapshot: %w", err)
	}
	f = nil
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return 0, fmt.Errorf("failed to move snapshot into place: %w", err)
	}
	return count, nil
}

// loadCells reads every cell row with its labels and dependencies in
// three queries, sorted by id for stable output.
func (s *Service) loadCells(ctx context.Context) ([]*cellRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_key, content_hash, title, description, design,
		       acceptance_criteria, notes, status, priority, cell_type, assignee,
		       created_at, created_by, updated_at, closed_at, close_reason,
		       deleted_at, delete_reason
		FROM cells
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cells: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*cellRecord
	byID := make(map[string]*cellRecord)
	for rows.Next() {
		var rec cellRecord
		var closedAt, deletedAt sql.NullTime
		err := rows.Scan(
			&rec.ID, &rec.ProjectKey, &rec.ContentHash, &rec.Title, &rec.Description,
			&rec.Design, &rec.AcceptanceCriteria, &rec.Notes, &rec.Status, &rec.Priority,
			&rec.CellType, &rec.Assignee, &rec.CreatedAt, &rec.CreatedBy, &rec.UpdatedAt,
			&closedAt, &rec.CloseReason, &deletedAt, &rec.DeleteReason,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cell: %w", err)
		}
		if closedAt.Valid {
			rec.ClosedAt = &closedAt.Time
		}
		if deletedAt.Valid {
			rec.DeletedAt = &deletedAt.Time
		}
		records = append(records, &rec)
		byID[rec.ID] = &rec
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.attachLabels(ctx, byID); err != nil {
		return nil, err
	}
	if err := s.attachDependencies(ctx, byID); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Service) attachLabels(ctx context.Context, byID map[string]*cellRecord) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cell_id, label FROM cell_labels ORDER BY cell_id, label
	`)
	if err != nil {
		return fmt.Errorf("failed to query labels: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var cellID, label string
		if err := rows.Scan(&cellID, &label); err != nil {
			return fmt.Errorf("failed to scan label: %w", err)
		}
		if rec, ok := byID[cellID]; ok {
			rec.Labels = append(rec.Labels, label)
		}
	}
	return rows.Err()
}

func (s *Service) attachDependencies(ctx context.Context, byID map[string]*cellRecord) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cell_id, depends_on_id, type, created_at, created_by
		FROM cell_dependencies
		ORDER BY cell_id, depends_on_id
	`)
	if err != nil {
		return fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var dep types.Dependency
		if err := rows.Scan(&dep.CellID, &dep.DependsOnID, &dep.Type, &dep.CreatedAt, &dep.CreatedBy); err != nil {
			return fmt.Errorf("failed to scan dependency: %w", err)
		}
		if rec, ok := byID[dep.CellID]; ok {
			rec.Dependencies = append(rec.Dependencies, &dep)
		}
	}
	return rows.Err()
}
