package projection

import (
	"context"
	"fmt"

	"github.com/untoldecay/waggle/internal/storage"
	"github.com/untoldecay/waggle/internal/types"
)

// Reservations materializes path leases from the reservation stream.
// Rows are never deleted by events; release stamps released_at and
// expiry is evaluated at query time, so the table doubles as an audit
// trail of who held what.
type Reservations struct{}

// NewReservations creates the reservations projection.
func NewReservations() *Reservations { return &Reservations{} }

func (p *Reservations) Name() string      { return "reservations" }
func (p *Reservations) Streams() []string { return []string{types.StreamReservation} }

func (p *Reservations) Truncate(ctx context.Context, tx storage.Tx) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM reservations`)
	return err
}

func (p *Reservations) Apply(ctx context.Context, tx storage.Tx, ev *types.Event) error {
	switch ev.Type {
	case types.EventFileReserved:
		var body types.ReservationPayload
		if err := unmarshalPayload(ev, &body); err != nil {
			return err
		}
		exclusive := 0
		if body.Exclusive {
			exclusive = 1
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reservations (id, project_key, path_pattern, agent, exclusive, reason, reserved_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, ev.ID, ev.ProjectKey, body.PathPattern, body.Agent, exclusive, body.Reason,
			ev.Timestamp, body.ExpiresAt)
		if err != nil {
			return fmt.Errorf("failed to insert reservation: %w", err)
		}

	case types.EventFileReleased:
		var body types.ReleasePayload
		if err := unmarshalPayload(ev, &body); err != nil {
			return err
		}
		for _, id := range body.IDs {
			_, err := tx.ExecContext(ctx, `
				UPDATE reservations SET released_at = ?
				WHERE id = ? AND released_at IS NULL
			`, ev.Timestamp, id)
			if err != nil {
				return fmt.Errorf("failed to stamp release on reservation %d: %w", id, err)
			}
		}

	case types.EventFileConflict:
		// Conflicts are observations, not state: the event itself is the
		// record.
	}
	return nil
}
