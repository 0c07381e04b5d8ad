package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/untoldecay/waggle/internal/types"
)

// Cursor returns the saved position for a (stream, checkpoint) pair, 0
// when the consumer has never checkpointed. Cursor rows are bookkeeping:
// losing one means re-reading, so consumers must tolerate replays.
func (l *Log) Cursor(ctx context.Context, stream, checkpoint string) (int64, error) {
	var pos int64
	err := l.db.QueryRowContext(ctx,
		`SELECT position FROM cursors WHERE stream = ? AND checkpoint = ?`,
		stream, checkpoint).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cursor %s/%s: %w", stream, checkpoint, err)
	}
	return pos, nil
}

// AdvanceCursor moves a consumer's position forward. Positions never move
// backward; a stale advance is ignored.
func (l *Log) AdvanceCursor(ctx context.Context, stream, checkpoint string, position int64) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO cursors (stream, checkpoint, position, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (stream, checkpoint) DO UPDATE SET
			position = MAX(position, excluded.position),
			updated_at = excluded.updated_at
	`, stream, checkpoint, position, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to advance cursor %s/%s: %w", stream, checkpoint, err)
	}
	return nil
}

// ReadSince returns events on a stream after the cursor position, oldest
// first, up to limit. Pairs with AdvanceCursor for at-least-once tailing.
func (l *Log) ReadSince(ctx context.Context, stream, checkpoint string, limit int) ([]*types.Event, error) {
	pos, err := l.Cursor(ctx, stream, checkpoint)
	if err != nil {
		return nil, err
	}
	query := `SELECT id, sequence, stream, project_key, entity_id, type, actor, created_at, payload
		FROM events WHERE stream = ? AND sequence > ? ORDER BY sequence ASC`
	args := []interface{}{stream, pos}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to tail stream %s: %w", stream, err)
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}
