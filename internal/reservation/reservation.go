// Package reservation implements soft file leases. Reservations are
// advisory: a reserve call always grants, but reports which live
// exclusive reservations held by other agents overlap the requested
// patterns, so the swarm coordinates without a hard gate in the way.
package reservation

import (
	"context"
	"fmt"
	"time"

	"github.com/untoldecay/waggle/internal/eventlog"
	"github.com/untoldecay/waggle/internal/storage"
	"github.com/untoldecay/waggle/internal/types"
)

// DefaultTTL is the reservation lifetime when none is requested.
const DefaultTTL = 3600 * time.Second

// Service exposes the reservation operations.
type Service struct {
	log *eventlog.Log
	db  storage.Adapter
}

// New creates a reservation service over the shared log.
func New(log *eventlog.Log) *Service {
	return &Service{log: log, db: log.DB()}
}

// ReserveRequest is the input to Reserve. Reservations are exclusive
// unless Shared is set. A zero TTL selects DefaultTTL.
type ReserveRequest struct {
	Paths  []string      `json:"paths"`
	Reason string        `json:"reason,omitempty"`
	Shared bool          `json:"shared,omitempty"`
	TTL    time.Duration `json:"-"`
}

// Reserve grants one reservation per requested path pattern and reports
// conflicts with live exclusive reservations held by other agents. The
// grants, and a file_conflict event per conflicting path, land in one
// transaction.
func (s *Service) Reserve(ctx context.Context, projectKey, agent string, req ReserveRequest) (*types.ReserveResult, error) {
	if agent == "" {
		return nil, &types.ValidationError{Field: "agent", Msg: "cannot be empty"}
	}
	if len(req.Paths) == 0 {
		return nil, &types.ValidationError{Field: "paths", Msg: "at least one path pattern required"}
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now().UTC()
	expires := now.Add(ttl)
	exclusive := !req.Shared

	result := &types.ReserveResult{}
	err := s.db.InTransaction(ctx, func(tx storage.Tx) error {
		live, err := s.liveReservations(ctx, tx, projectKey, now)
		if err != nil {
			return err
		}

		for _, p := range req.Paths {
			var holders, patterns []string
			seen := make(map[string]bool)
			for _, r := range live {
				if r.Agent == agent || !r.Exclusive {
					continue
				}
				if PatternsOverlap(p, r.PathPattern) {
					if !seen[r.Agent] {
						holders = append(holders, r.Agent)
						seen[r.Agent] = true
					}
					patterns = append(patterns, r.PathPattern)
				}
			}
			if len(holders) > 0 {
				result.Conflicts = append(result.Conflicts, &types.ReservationConflict{
					Path: p, Holders: holders, Patterns: patterns,
				})
			}
		}

		events := make([]*types.Event, 0, len(req.Paths)+len(result.Conflicts))
		for _, p := range req.Paths {
			events = append(events, &types.Event{
				Type:       types.EventFileReserved,
				ProjectKey: projectKey,
				EntityID:   agent,
				Actor:      agent,
				Payload: eventlog.Payload(types.ReservationPayload{
					PathPattern: p,
					Agent:       agent,
					Exclusive:   exclusive,
					Reason:      req.Reason,
					ExpiresAt:   expires,
				}),
			})
		}
		for _, c := range result.Conflicts {
			events = append(events, &types.Event{
				Type:       types.EventFileConflict,
				ProjectKey: projectKey,
				EntityID:   agent,
				Actor:      agent,
				Payload: eventlog.Payload(types.ConflictPayload{
					PathPattern: c.Path,
					Agent:       agent,
					Holders:     c.Holders,
					Patterns:    c.Patterns,
				}),
			})
		}

		appended, err := s.log.AppendTx(ctx, tx, events...)
		if err != nil {
			return err
		}
		for i, p := range req.Paths {
			ev := appended[i]
			result.Granted = append(result.Granted, &types.Reservation{
				ID:          ev.ID,
				ProjectKey:  projectKey,
				PathPattern: p,
				Agent:       agent,
				Exclusive:   exclusive,
				Reason:      req.Reason,
				ReservedAt:  ev.Timestamp,
				ExpiresAt:   expires,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reserve: %w", err)
	}

	if n := len(result.Conflicts); n > 0 {
		result.Warning = fmt.Sprintf("%d of %d requested patterns overlap reservations held by other agents", n, len(req.Paths))
	}
	return result, nil
}

// ReleaseRequest narrows Release. With neither Paths nor IDs set, all of
// the agent's live reservations are released.
type ReleaseRequest struct {
	Paths []string `json:"paths,omitempty"`
	IDs   []int64  `json:"reservation_ids,omitempty"`
}

// Release stamps the agent's matching live reservations released and
// appends a single file_released event carrying the affected row ids,
// so a replay stamps exactly the same rows.
func (s *Service) Release(ctx context.Context, projectKey, agent string, req ReleaseRequest) (int, error) {
	if agent == "" {
		return 0, &types.ValidationError{Field: "agent", Msg: "cannot be empty"}
	}
	now := time.Now().UTC()

	var released int
	err := s.db.InTransaction(ctx, func(tx storage.Tx) error {
		live, err := s.liveReservations(ctx, tx, projectKey, now)
		if err != nil {
			return err
		}

		wantPath := make(map[string]bool, len(req.Paths))
		for _, p := range req.Paths {
			wantPath[p] = true
		}
		wantID := make(map[int64]bool, len(req.IDs))
		for _, id := range req.IDs {
			wantID[id] = true
		}
		all := len(req.Paths) == 0 && len(req.IDs) == 0

		var ids []int64
		for _, r := range live {
			if r.Agent != agent {
				continue
			}
			if all || wantPath[r.PathPattern] || wantID[r.ID] {
				ids = append(ids, r.ID)
			}
		}
		released = len(ids)
		if released == 0 {
			return nil
		}

		_, err = s.log.AppendTx(ctx, tx, &types.Event{
			Type:       types.EventFileReleased,
			ProjectKey: projectKey,
			EntityID:   agent,
			Actor:      agent,
			Payload: eventlog.Payload(types.ReleasePayload{
				Agent: agent,
				IDs:   ids,
				Paths: req.Paths,
				All:   all,
			}),
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to release: %w", err)
	}
	return released, nil
}

// List returns the project's reservations, live ones first. With
// activeOnly set, released and expired rows are dropped.
func (s *Service) List(ctx context.Context, projectKey string, activeOnly bool) ([]*types.Reservation, error) {
	now := time.Now().UTC()
	query := `
		SELECT id, project_key, path_pattern, agent, exclusive, reason,
			reserved_at, expires_at, released_at
		FROM reservations
		WHERE project_key = ?`
	args := []interface{}{projectKey}
	if activeOnly {
		query += ` AND released_at IS NULL AND expires_at > ?`
		args = append(args, now)
	}
	query += ` ORDER BY released_at IS NULL DESC, reserved_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	defer rows.Close()

	var out []*types.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Conflicts recomputes the live conflict table: every requested pattern
// that overlaps an exclusive reservation held by a different agent.
func (s *Service) Conflicts(ctx context.Context, projectKey string) ([]*types.ReservationConflict, error) {
	now := time.Now().UTC()
	var live []*types.Reservation
	err := s.db.InTransaction(ctx, func(tx storage.Tx) error {
		var err error
		live, err = s.liveReservations(ctx, tx, projectKey, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	var out []*types.ReservationConflict
	for _, r := range live {
		var holders, patterns []string
		seen := make(map[string]bool)
		for _, other := range live {
			if other.Agent == r.Agent || !other.Exclusive {
				continue
			}
			if PatternsOverlap(r.PathPattern, other.PathPattern) {
				if !seen[other.Agent] {
					holders = append(holders, other.Agent)
					seen[other.Agent] = true
				}
				patterns = append(patterns, other.PathPattern)
			}
		}
		if len(holders) > 0 {
			out = append(out, &types.ReservationConflict{
				Path: r.PathPattern, Holders: holders, Patterns: patterns,
			})
		}
	}
	return out, nil
}

// Sweep deletes reservations released or expired for longer than
// olderThan. Disk hygiene only: a projection rebuild resurrects swept
// rows from the log, which is harmless because they are inert.
func (s *Service) Sweep(ctx context.Context, projectKey string, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM reservations
		WHERE project_key = ?
		  AND (released_at < ? OR expires_at < ?)
	`, projectKey, cutoff, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep reservations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count swept rows: %w", err)
	}
	return n, nil
}

func (s *Service) liveReservations(ctx context.Context, tx storage.Tx, projectKey string, now time.Time) ([]*types.Reservation, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, project_key, path_pattern, agent, exclusive, reason,
			reserved_at, expires_at, released_at
		FROM reservations
		WHERE project_key = ? AND released_at IS NULL AND expires_at > ?
		ORDER BY id
	`, projectKey, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query live reservations: %w", err)
	}
	defer rows.Close()

	var out []*types.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReservation(row rowScanner) (*types.Reservation, error) {
	r := &types.Reservation{}
	var exclusive int
	err := row.Scan(&r.ID, &r.ProjectKey, &r.PathPattern, &r.Agent, &exclusive,
		&r.Reason, &r.ReservedAt, &r.ExpiresAt, &r.ReleasedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan reservation: %w", err)
	}
	r.Exclusive = exclusive != 0
	return r, nil
}
