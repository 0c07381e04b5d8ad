// Package eventlog implements the append-only event log at the base of
// the store. Every coordination fact is an event row; materialized tables
// are projections folded from this log inside the same transaction that
// appends, so readers never observe an event without its projection or a
// projection without its event.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/untoldecay/waggle/internal/debug"
	"github.com/untoldecay/waggle/internal/storage"
	"github.com/untoldecay/waggle/internal/types"
)

// Applier folds events into a materialized view. Implementations live in
// the projection package; the log only knows the contract.
type Applier interface {
	// Name identifies the applier in logs and errors.
	Name() string
	// Streams lists the streams the applier consumes.
	Streams() []string
	// Apply folds one event, inside the appending transaction.
	Apply(ctx context.Context, tx storage.Tx, ev *types.Event) error
}

// Log is the append/read surface over the events table.
type Log struct {
	db       storage.Adapter
	appliers []Applier
	byStream map[string][]Applier
	logger   *slog.Logger
}

// New creates a log over the adapter. Attach projections before the
// first append.
func New(db storage.Adapter, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		db:       db,
		byStream: make(map[string][]Applier),
		logger:   logger,
	}
}

// Attach registers a projection applier for its streams.
func (l *Log) Attach(a Applier) {
	l.appliers = append(l.appliers, a)
	for _, s := range a.Streams() {
		l.byStream[s] = append(l.byStream[s], a)
	}
}

// Appliers returns the attached appliers in registration order.
func (l *Log) Appliers() []Applier {
	return l.appliers
}

// DB exposes the underlying adapter for callers composing log appends
// with their own table writes in one transaction.
func (l *Log) DB() storage.Adapter {
	return l.db
}

// Payload marshals an event body.
func Payload(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// Payload structs are plain data; a marshal failure is a
		// programming error worth failing loudly on.
		panic(fmt.Sprintf("eventlog: unmarshalable payload: %v", err))
	}
	return data
}

// Append validates and appends events in one transaction, folding all
// attached projections. Returned events carry their assigned ID and
// sequence.
func (l *Log) Append(ctx context.Context, events ...*types.Event) ([]*types.Event, error) {
	var out []*types.Event
	err := l.db.InTransaction(ctx, func(tx storage.Tx) error {
		var err error
		out, err = l.AppendTx(ctx, tx, events...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AppendTx appends within a caller-owned transaction. Sequence numbers
// are read and assigned under the transaction's write lock, which makes
// them store-wide monotonic without a counter table.
func (l *Log) AppendTx(ctx context.Context, tx storage.Tx, events ...*types.Event) ([]*types.Event, error) {
	if len(events) == 0 {
		return nil, nil
	}
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			return nil, &types.ValidationError{Field: "event", Msg: err.Error()}
		}
	}

	var next int64
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) + 1 FROM events`).Scan(&next)
	if err != nil {
		return nil, fmt.Errorf("failed to read log sequence: %w", err)
	}

	now := time.Now().UTC()
	for _, ev := range events {
		if ev.Timestamp.IsZero() {
			ev.Timestamp = now
		}
		ev.Sequence = next
		next++

		payload := string(ev.Payload)
		if payload == "" {
			payload = "{}"
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO events (sequence, stream, project_key, entity_id, type, actor, created_at, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, ev.Sequence, ev.Stream, ev.ProjectKey, ev.EntityID, ev.Type, ev.Actor, ev.Timestamp, payload)
		if err != nil {
			return nil, fmt.Errorf("failed to append event %s: %w", ev.Type, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("failed to read appended event id: %w", err)
		}
		ev.ID = id

		for _, a := range l.byStream[ev.Stream] {
			if err := a.Apply(ctx, tx, ev); err != nil {
				return nil, fmt.Errorf("projection %s failed on %s: %w", a.Name(), ev.Type, err)
			}
		}
		debug.Logf("eventlog: appended seq=%d type=%s entity=%s\n", ev.Sequence, ev.Type, ev.EntityID)
	}
	return events, nil
}

// Read returns events matching the filter in ascending sequence order.
func (l *Log) Read(ctx context.Context, filter types.EventFilter) ([]*types.Event, error) {
	where, args := buildWhere(filter)
	query := `SELECT id, sequence, stream, project_key, entity_id, type, actor, created_at, payload FROM events` +
		where + ` ORDER BY sequence ASC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows)
}

// Replay streams matching events through apply in sequence order,
// returning the count applied. Reads only; state reconstruction is the
// caller's business.
func (l *Log) Replay(ctx context.Context, filter types.EventFilter, apply func(*types.Event) error) (int, error) {
	where, args := buildWhere(filter)
	query := `SELECT id, sequence, stream, project_key, entity_id, type, actor, created_at, payload FROM events` +
		where + ` ORDER BY sequence ASC`

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to read events for replay: %w", err)
	}
	defer func() { _ = rows.Close() }()

	applied := 0
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return applied, err
		}
		if err := apply(ev); err != nil {
			return applied, fmt.Errorf("replay halted at sequence %d: %w", ev.Sequence, err)
		}
		applied++
	}
	return applied, rows.Err()
}

// RecentForProject returns the newest events for a project, newest first,
// capped at limit. Used to populate operation context tails.
func (l *Log) RecentForProject(ctx context.Context, projectKey string, limit int) ([]*types.Event, error) {
	if limit <= 0 || limit > types.MaxRecentEvents {
		limit = types.MaxRecentEvents
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, sequence, stream, project_key, entity_id, type, actor, created_at, payload
		FROM events WHERE project_key = ?
		ORDER BY sequence DESC LIMIT ?
	`, projectKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read recent events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows)
}

// Head returns the highest assigned sequence, 0 for an empty log.
func (l *Log) Head(ctx context.Context) (int64, error) {
	var head int64
	err := l.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM events`).Scan(&head)
	if err != nil {
		return 0, fmt.Errorf("failed to read log head: %w", err)
	}
	return head, nil
}

func buildWhere(filter types.EventFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if filter.Stream != "" {
		conds = append(conds, "stream = ?")
		args = append(args, filter.Stream)
	}
	if filter.ProjectKey != "" {
		conds = append(conds, "project_key = ?")
		args = append(args, filter.ProjectKey)
	}
	if filter.EntityID != "" {
		conds = append(conds, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if len(filter.Types) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(filter.Types)), ", ")
		conds = append(conds, "type IN ("+placeholders+")")
		for _, t := range filter.Types {
			args = append(args, t)
		}
	}
	if filter.Actor != "" {
		conds = append(conds, "actor = ?")
		args = append(args, filter.Actor)
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, filter.Until)
	}
	if filter.FromSeq > 0 {
		conds = append(conds, "sequence >= ?")
		args = append(args, filter.FromSeq)
	}
	if filter.ToSeq > 0 {
		conds = append(conds, "sequence <= ?")
		args = append(args, filter.ToSeq)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*types.Event, error) {
	var ev types.Event
	var payload string
	err := row.Scan(&ev.ID, &ev.Sequence, &ev.Stream, &ev.ProjectKey, &ev.EntityID,
		&ev.Type, &ev.Actor, &ev.Timestamp, &payload)
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}
	if payload != "" {
		ev.Payload = json.RawMessage(payload)
	}
	return &ev, nil
}

func scanEvents(rows *sql.Rows) ([]*types.Event, error) {
	var events []*types.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
