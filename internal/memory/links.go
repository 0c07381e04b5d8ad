package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/untoldecay/waggle/internal/storage"
	"github.com/untoldecay/waggle/internal/types"
)

// chainLimit bounds supersession walks against corrupted pointers.
const chainLimit = 100

// AddLink inserts a typed edge between two memories. Duplicate edges on
// the same (source, target, type) are silently kept as-is. Zero strength
// takes the schema default.
func (s *Service) AddLink(ctx context.Context, l *types.MemoryLink) error {
	if l == nil {
		return &types.ValidationError{Field: "link", Msg: "cannot be nil"}
	}
	if l.Strength == 0 {
		l.Strength = 0.5
	}
	if err := l.Validate(); err != nil {
		return &types.ValidationError{Field: "link", Msg: err.Error()}
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}

	if _, err := getMemory(ctx, s.db, l.SourceID); err != nil {
		return err
	}
	if _, err := getMemory(ctx, s.db, l.TargetID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO memory_links (source_id, target_id, type, strength, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		l.SourceID, l.TargetID, string(l.Type), l.Strength, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("link %s -> %s: %w", l.SourceID, l.TargetID, err)
	}
	return nil
}

// RemoveLink deletes one edge.
func (s *Service) RemoveLink(ctx context.Context, sourceID, targetID string, linkType types.LinkType) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_links WHERE source_id = ? AND target_id = ? AND type = ?`,
		sourceID, targetID, string(linkType))
	if err != nil {
		return fmt.Errorf("remove link: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("link %s -> %s (%s): %w", sourceID, targetID, linkType, types.ErrNotFound)
	}
	return nil
}

// Links lists the edges touching a memory in either direction.
func (s *Service) Links(ctx context.Context, memoryID string) ([]*types.MemoryLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, target_id, type, strength, created_at
		FROM memory_links
		WHERE source_id = ? OR target_id = ?
		ORDER BY created_at, source_id, target_id`,
		memoryID, memoryID)
	if err != nil {
		return nil, fmt.Errorf("list links for %s: %w", memoryID, err)
	}
	defer rows.Close()

	var out []*types.MemoryLink
	for rows.Next() {
		var l types.MemoryLink
		var typ string
		if err := rows.Scan(&l.SourceID, &l.TargetID, &typ, &l.Strength, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Type = types.LinkType(typ)
		out = append(out, &l)
	}
	return out, rows.Err()
}

// autoLink connects a fresh memory to its nearest neighbors. Failures
// only cost the links, never the memory.
func (s *Service) autoLink(ctx context.Context, m *types.Memory) {
	neighbors, err := s.similarByVector(ctx, m.Embedding, m.ProjectKey, s.params.LinkThreshold, s.params.LinkLimit, m.ID)
	if err != nil {
		s.logger.Debug("memory: auto-link skipped", "id", m.ID, "err", err)
		return
	}
	for _, n := range neighbors {
		strength := n.RawScore
		if strength > 1 {
			strength = 1
		}
		link := &types.MemoryLink{
			SourceID: m.ID,
			TargetID: n.Memory.ID,
			Type:     types.LinkRelated,
			Strength: strength,
		}
		if err := s.AddLink(ctx, link); err != nil {
			s.logger.Debug("memory: auto-link failed", "source", m.ID, "target", n.Memory.ID, "err", err)
		}
	}
}

// Supersede marks old as replaced by new: the old memory's validity
// window closes now, the new one's opens, and a supersedes link records
// the hop. Re-superseding an already-replaced memory is rejected, as is
// any assignment that would bend a chain into a cycle.
func (s *Service) Supersede(ctx context.Context, oldID, newID string) error {
	if oldID == newID {
		return &types.ValidationError{Field: "supersede", Msg: "memory cannot supersede itself"}
	}

	now := time.Now().UTC()
	err := s.db.InTransaction(ctx, func(tx storage.Tx) error {
		old, err := getMemory(ctx, tx, oldID)
		if err != nil {
			return err
		}
		if _, err := getMemory(ctx, tx, newID); err != nil {
			return err
		}
		if old.SupersededBy == newID {
			return nil
		}
		if old.SupersededBy != "" {
			return &types.ValidationError{Field: "supersede", Msg: fmt.Sprintf("memory %s is already superseded by %s", oldID, old.SupersededBy)}
		}
		onChain, err := chainContains(ctx, tx, newID, oldID)
		if err != nil {
			return err
		}
		if onChain {
			return &types.ValidationError{Field: "supersede", Msg: "supersession would create a cycle"}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE memories SET superseded_by = ?, valid_until = ?, updated_at = ? WHERE id = ?`,
			newID, now, now, oldID); err != nil {
			return fmt.Errorf("close out %s: %w", oldID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE memories SET valid_from = ?, updated_at = ? WHERE id = ?`,
			now, now, newID); err != nil {
			return fmt.Errorf("open %s: %w", newID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO memory_links (source_id, target_id, type, strength, created_at)
			VALUES (?, ?, ?, 1.0, ?)`,
			newID, oldID, string(types.LinkSupersedes), now)
		return err
	})
	if err != nil {
		return fmt.Errorf("supersede %s by %s: %w", oldID, newID, err)
	}
	return nil
}

// chainContains walks superseded_by pointers from startID looking for
// wantID.
func chainContains(ctx context.Context, q storage.Querier, startID, wantID string) (bool, error) {
	id := startID
	for i := 0; i < chainLimit; i++ {
		var next sql.NullString
		err := q.QueryRowContext(ctx, `SELECT superseded_by FROM memories WHERE id = ?`, id).Scan(&next)
		if storage.IsNoRows(err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if !next.Valid || next.String == "" {
			return false, nil
		}
		if next.String == wantID {
			return true, nil
		}
		id = next.String
	}
	return false, fmt.Errorf("supersession chain from %s exceeds %d hops", startID, chainLimit)
}

// SupersessionChain returns the chronological family of a memory: its
// unique ancestors (oldest first), itself, then everything it was
// replaced by.
func (s *Service) SupersessionChain(ctx context.Context, id string) ([]*types.Memory, error) {
	start, err := getMemory(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{start.ID: true}
	chain := []*types.Memory{start}

	// Ancestors: predecessors pointing at the current head. Stop when
	// the hop is ambiguous; a memory may replace several at once.
	cur := start.ID
	for len(chain) < chainLimit {
		rows, err := s.db.QueryContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE superseded_by = ?`, cur)
		if err != nil {
			return nil, fmt.Errorf("chain predecessors of %s: %w", cur, err)
		}
		preds, err := scanMemories(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		if len(preds) != 1 || seen[preds[0].ID] {
			break
		}
		chain = append([]*types.Memory{preds[0]}, chain...)
		seen[preds[0].ID] = true
		cur = preds[0].ID
	}

	// Successors: follow the forward pointers. A dangling pointer ends
	// the walk rather than failing it.
	cur = start.SupersededBy
	for cur != "" && !seen[cur] && len(chain) < chainLimit {
		m, err := getMemory(ctx, s.db, cur)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				break
			}
			return nil, err
		}
		chain = append(chain, m)
		seen[cur] = true
		cur = m.SupersededBy
	}
	return chain, nil
}
