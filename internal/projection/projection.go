// Package projection materializes read models from the event log. Each
// projection folds one stream family into tables the query paths read
// directly; folding happens inside the appending transaction, and any
// projection can be rebuilt from scratch by replaying the log.
package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/untoldecay/waggle/internal/eventlog"
	"github.com/untoldecay/waggle/internal/storage"
	"github.com/untoldecay/waggle/internal/types"
)

// Projection extends the log's applier contract with the ability to
// discard and rebuild its tables.
type Projection interface {
	eventlog.Applier
	// Truncate clears the projection's tables inside tx.
	Truncate(ctx context.Context, tx storage.Tx) error
}

// All returns the standard projection set in fold order.
func All() []Projection {
	return []Projection{
		NewAgents(),
		NewMessages(),
		NewReservations(),
		NewCells(),
	}
}

// AttachAll registers the standard projections on a log.
func AttachAll(log *eventlog.Log) []Projection {
	ps := All()
	for _, p := range ps {
		log.Attach(p)
	}
	return ps
}

// Rebuild truncates the given projections and re-folds their streams from
// the log, all inside one transaction. The event rows are untouched;
// only derived state is rebuilt. Safe to run on a live store: writers
// queue behind the rebuild transaction.
func Rebuild(ctx context.Context, db storage.Adapter, projections ...Projection) (int, error) {
	if len(projections) == 0 {
		return 0, nil
	}

	streamSet := make(map[string]bool)
	byStream := make(map[string][]Projection)
	for _, p := range projections {
		for _, s := range p.Streams() {
			streamSet[s] = true
			byStream[s] = append(byStream[s], p)
		}
	}
	streams := make([]string, 0, len(streamSet))
	for s := range streamSet {
		streams = append(streams, s)
	}

	applied := 0
	err := db.InTransaction(ctx, func(tx storage.Tx) error {
		for _, p := range projections {
			if err := p.Truncate(ctx, tx); err != nil {
				return fmt.Errorf("failed to truncate projection %s: %w", p.Name(), err)
			}
		}

		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(streams)), ", ")
		query := `SELECT id, sequence, stream, project_key, entity_id, type, actor, created_at, payload
			FROM events WHERE stream IN (` + placeholders + `) ORDER BY sequence ASC`
		args := make([]interface{}, len(streams))
		for i, s := range streams {
			args[i] = s
		}

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to read events for rebuild: %w", err)
		}
		defer func() { _ = rows.Close() }()

		var events []*types.Event
		for rows.Next() {
			var ev types.Event
			var payload string
			if err := rows.Scan(&ev.ID, &ev.Sequence, &ev.Stream, &ev.ProjectKey, &ev.EntityID,
				&ev.Type, &ev.Actor, &ev.Timestamp, &payload); err != nil {
				return fmt.Errorf("failed to scan event during rebuild: %w", err)
			}
			if payload != "" {
				ev.Payload = json.RawMessage(payload)
			}
			events = append(events, &ev)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		// The cursor must be drained before the appliers issue their own
		// statements on this connection.
		_ = rows.Close()

		for _, ev := range events {
			for _, p := range byStream[ev.Stream] {
				if err := p.Apply(ctx, tx, ev); err != nil {
					return fmt.Errorf("rebuild of %s halted at sequence %d: %w", p.Name(), ev.Sequence, err)
				}
			}
			applied++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}

func unmarshalPayload(ev *types.Event, v interface{}) error {
	if len(ev.Payload) == 0 {
		return fmt.Errorf("event %s (seq %d) has no payload", ev.Type, ev.Sequence)
	}
	if err := json.Unmarshal(ev.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", ev.Type, err)
	}
	return nil
}

// markCellDirty records a cell for the next incremental snapshot export.
func markCellDirty(ctx context.Context, tx storage.Tx, cellID string, ev *types.Event) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO dirty_cells (cell_id, marked_at)
		VALUES (?, ?)
		ON CONFLICT (cell_id) DO UPDATE SET marked_at = excluded.marked_at
	`, cellID, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to mark cell dirty: %w", err)
	}
	return nil
}
