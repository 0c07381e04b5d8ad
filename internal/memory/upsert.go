package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/untoldecay/waggle/internal/types"
)

// Heuristic thresholds used when the decider cannot run: near-identical
// content is a no-op, very similar content updates in place.
const (
	heuristicNoop   = 0.98
	heuristicUpdate = 0.92
)

// UpsertOptions controls the smart-upsert pipeline.
type UpsertOptions struct {
	StoreOptions
	UseSmartOps bool
}

// UpsertResult reports what the upsert did. Memory is the row written or
// matched; nil after a DELETE.
type UpsertResult struct {
	Memory   *types.Memory        `json:"memory,omitempty"`
	Decision *types.SmartDecision `json:"decision"`
}

// Upsert stores new information through the smart-op pipeline: embed,
// gather similar memories, ask the decider whether to add, overwrite,
// remove, or skip, then execute its verdict. Any inference failure
// degrades to a plain ADD with the reason recorded on the decision.
func (s *Service) Upsert(ctx context.Context, m *types.Memory, opts UpsertOptions) (*UpsertResult, error) {
	if m == nil || m.Information == "" {
		return nil, &types.ValidationError{Field: "information", Msg: "cannot be empty"}
	}

	if !opts.UseSmartOps {
		stored, err := s.Store(ctx, m, opts.StoreOptions)
		if err != nil {
			return nil, err
		}
		return &UpsertResult{Memory: stored, Decision: &types.SmartDecision{Op: types.OpAdd, Reason: "smart ops disabled"}}, nil
	}

	var vec []float32
	if s.inf != nil {
		v, err := s.inf.Embed(ctx, m.Information)
		if err == nil {
			vec = v
		} else if !errors.Is(err, types.ErrInferenceUnavailable) {
			return nil, err
		}
	}
	if vec == nil {
		stored, err := s.Store(ctx, m, opts.StoreOptions)
		if err != nil {
			return nil, err
		}
		return &UpsertResult{Memory: stored, Decision: &types.SmartDecision{Op: types.OpAdd, Reason: "inference unavailable; degraded to add"}}, nil
	}
	m.Embedding = vec

	candidates, err := s.similarByVector(ctx, vec, m.ProjectKey, s.params.UpsertFloor, s.params.UpsertTopK, "")
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		stored, err := s.Store(ctx, m, opts.StoreOptions)
		if err != nil {
			return nil, err
		}
		return &UpsertResult{Memory: stored, Decision: &types.SmartDecision{Op: types.OpAdd, Reason: "no similar memories"}}, nil
	}

	decision, err := s.inf.DecideUpsert(ctx, m.Information, candidates)
	if err != nil {
		s.logger.Debug("memory: decider failed, using similarity heuristic", "err", err)
		decision = heuristicDecision(candidates[0])
	}

	return s.execute(ctx, m, decision, opts)
}

// heuristicDecision is the decider fallback: judge by the best raw
// similarity alone.
func heuristicDecision(top *types.MemorySearchResult) *types.SmartDecision {
	switch {
	case top.RawScore >= heuristicNoop:
		return &types.SmartDecision{
			Op:       types.OpNoop,
			TargetID: top.Memory.ID,
			Reason:   fmt.Sprintf("heuristic: similarity %.2f, already stored", top.RawScore),
		}
	case top.RawScore >= heuristicUpdate:
		return &types.SmartDecision{
			Op:       types.OpUpdate,
			TargetID: top.Memory.ID,
			Reason:   fmt.Sprintf("heuristic: similarity %.2f, refreshing existing memory", top.RawScore),
		}
	default:
		return &types.SmartDecision{
			Op:     types.OpAdd,
			Reason: fmt.Sprintf("heuristic: best similarity %.2f below update threshold", top.RawScore),
		}
	}
}

func (s *Service) execute(ctx context.Context, m *types.Memory, d *types.SmartDecision, opts UpsertOptions) (*UpsertResult, error) {
	switch d.Op {
	case types.OpAdd:
		stored, err := s.Store(ctx, m, opts.StoreOptions)
		if err != nil {
			return nil, err
		}
		return &UpsertResult{Memory: stored, Decision: d}, nil

	case types.OpUpdate:
		updated, err := s.overwrite(ctx, d.TargetID, m)
		if errors.Is(err, types.ErrNotFound) {
			// Target vanished between the candidate query and now.
			d = &types.SmartDecision{Op: types.OpAdd, Reason: d.Reason + " (target gone; added instead)"}
			stored, serr := s.Store(ctx, m, opts.StoreOptions)
			if serr != nil {
				return nil, serr
			}
			return &UpsertResult{Memory: stored, Decision: d}, nil
		}
		if err != nil {
			return nil, err
		}
		return &UpsertResult{Memory: updated, Decision: d}, nil

	case types.OpDelete:
		if err := s.Delete(ctx, d.TargetID); err != nil && !errors.Is(err, types.ErrNotFound) {
			return nil, err
		}
		return &UpsertResult{Decision: d}, nil

	case types.OpNoop:
		res := &UpsertResult{Decision: d}
		if d.TargetID != "" {
			if existing, err := s.Get(ctx, d.TargetID); err == nil {
				res.Memory = existing
			}
		}
		return res, nil
	}
	return nil, fmt.Errorf("unknown smart op %q", d.Op)
}

// overwrite replaces a memory's content and embedding in place.
func (s *Service) overwrite(ctx context.Context, id string, m *types.Memory) (*types.Memory, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET information = ?, embedding = ?, updated_at = ?
		WHERE id = ?`,
		m.Information, encodeEmbedding(m.Embedding), now, id)
	if err != nil {
		return nil, fmt.Errorf("update memory %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("memory %s: %w", id, types.ErrNotFound)
	}
	return s.Get(ctx, id)
}
