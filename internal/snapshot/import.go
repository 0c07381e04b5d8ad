package snapshot

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/untoldecay/waggle/internal/eventlog"
	"github.com/untoldecay/waggle/internal/memory"
	"github.com/untoldecay/waggle/internal/types"
)

// maxLineSize bounds a single snapshot line; cells with pasted design
// docs can get large.
const maxLineSize = 10 * 1024 * 1024

// LineError records one rejected snapshot line.
type LineError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Report summarizes an import. Failed lines never abort the batch.
type Report struct {
	Imported int         `json:"imported"`
	Skipped  int         `json:"skipped"`
	Failed   []LineError `json:"failed,omitempty"`
}

func (r *Report) fail(line int, err error) {
	r.Failed = append(r.Failed, LineError{Line: line, Reason: err.Error()})
}

// ImportCells reads a cell snapshot and folds each new cell into the
// event log as a synthetic history (created, labels, dependencies,
// close, delete), so projections rebuilt from the log keep the imported
// rows. Existing ids are skipped; each line succeeds or fails alone.
func (s *Service) ImportCells(ctx context.Context, r io.Reader, actor string) (*Report, error) {
	if actor == "" {
		actor = "snapshot-import"
	}
	report := &Report{}

	err := scanLines(r, func(line int, data []byte) {
		var rec cellRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			report.fail(line, fmt.Errorf("invalid JSON: %w", err))
			return
		}
		if rec.ID == "" {
			report.fail(line, fmt.Errorf("cell has no id"))
			return
		}
		if err := rec.Cell.Validate(); err != nil {
			report.fail(line, err)
			return
		}

		exists, err := s.cellExists(ctx, rec.ID)
		if err != nil {
			report.fail(line, err)
			return
		}
		if exists {
			report.Skipped++
			return
		}

		if _, err := s.log.Append(ctx, importEvents(&rec, actor)...); err != nil {
			report.fail(line, fmt.Errorf("failed to fold cell %s: %w", rec.ID, err))
			return
		}
		report.Imported++
	})
	if err != nil {
		return report, err
	}

	s.logger.Debug("snapshot: imported cells",
		"imported", report.Imported, "skipped", report.Skipped, "failed", len(report.Failed))
	return report, nil
}

// ImportMemories reads a memory snapshot. Rows insert through the
// memory service, so ids and timestamps already in the file are kept
// and embeddings are regenerated when a backend is reachable.
func (s *Service) ImportMemories(ctx context.Context, r io.Reader) (*Report, error) {
	if s.mem == nil {
		return nil, fmt.Errorf("snapshot: memory service not configured")
	}
	report := &Report{}

	err := scanLines(r, func(line int, data []byte) {
		var m types.Memory
		if err := json.Unmarshal(data, &m); err != nil {
			report.fail(line, fmt.Errorf("invalid JSON: %w", err))
			return
		}
		if m.ID == "" {
			report.fail(line, fmt.Errorf("memory has no id"))
			return
		}
		if m.Information == "" {
			report.fail(line, fmt.Errorf("memory %s has no information", m.ID))
			return
		}
		if m.CreatedAt.IsZero() {
			report.fail(line, fmt.Errorf("memory %s has no created_at", m.ID))
			return
		}

		exists, err := s.memoryExists(ctx, m.ID)
		if err != nil {
			report.fail(line, err)
			return
		}
		if exists {
			report.Skipped++
			return
		}

		if _, err := s.mem.Store(ctx, &m, memory.StoreOptions{}); err != nil {
			report.fail(line, err)
			return
		}
		report.Imported++
	})
	if err != nil {
		return report, err
	}

	s.logger.Debug("snapshot: imported memories",
		"imported", report.Imported, "skipped", report.Skipped, "failed", len(report.Failed))
	return report, nil
}

// scanLines walks r line by line, skipping blanks and # comments, and
// hands each remaining line to fn with its 1-based line number.
func scanLines(r io.Reader, fn func(line int, data []byte)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fn(line, []byte(text))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	return nil
}

func (s *Service) cellExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cells WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check cell %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *Service) memoryExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check memory %s: %w", id, err)
	}
	return n > 0, nil
}

// importEvents synthesizes the event history for one imported cell.
// Timestamps come from the snapshot so the folded projection reproduces
// the original created_at, closed_at and deleted_at.
func importEvents(rec *cellRecord, actor string) []*types.Event {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	if rec.Status == "" {
		rec.Status = types.StatusOpen
	}

	base := rec.Cell
	base.Labels = nil
	base.Dependencies = nil

	events := []*types.Event{{
		Type:       types.EventCellCreated,
		ProjectKey: rec.ProjectKey,
		EntityID:   rec.ID,
		Actor:      actor,
		Timestamp:  rec.CreatedAt,
		Payload:    eventlog.Payload(&base),
	}}

	for _, label := range rec.Labels {
		events = append(events, &types.Event{
			Type:       types.EventCellLabelAdded,
			ProjectKey: rec.ProjectKey,
			EntityID:   rec.ID,
			Actor:      actor,
			Timestamp:  rec.CreatedAt,
			Payload:    eventlog.Payload(&types.LabelPayload{CellID: rec.ID, Label: label}),
		})
	}

	for _, dep := range rec.Dependencies {
		evType := types.EventCellDependencyAdded
		if dep.Type == types.DepParentChild {
			evType = types.EventCellEpicChildAdded
		}
		ts := dep.CreatedAt
		if ts.IsZero() {
			ts = rec.CreatedAt
		}
		events = append(events, &types.Event{
			Type:       evType,
			ProjectKey: rec.ProjectKey,
			EntityID:   rec.ID,
			Actor:      actor,
			Timestamp:  ts,
			Payload: eventlog.Payload(&types.DependencyPayload{
				CellID:      rec.ID,
				DependsOnID: dep.DependsOnID,
				Type:        dep.Type,
			}),
		})
	}

	if rec.ClosedAt != nil {
		events = append(events, &types.Event{
			Type:       types.EventCellClosed,
			ProjectKey: rec.ProjectKey,
			EntityID:   rec.ID,
			Actor:      actor,
			Timestamp:  *rec.ClosedAt,
			Payload: eventlog.Payload(&types.CellStatusPayload{
				ID:     rec.ID,
				To:     types.StatusClosed,
				Reason: rec.CloseReason,
			}),
		})
	}

	if rec.DeletedAt != nil {
		events = append(events, &types.Event{
			Type:       types.EventCellDeleted,
			ProjectKey: rec.ProjectKey,
			EntityID:   rec.ID,
			Actor:      actor,
			Timestamp:  *rec.DeletedAt,
			Payload: eventlog.Payload(&types.CellDeletePayload{
				ID:     rec.ID,
				Reason: rec.DeleteReason,
			}),
		})
	}
	return events
}
