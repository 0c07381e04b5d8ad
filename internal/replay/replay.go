// Package replay reconstructs epic timelines from the event log and
// plays them back with their original pacing. Fetch pulls the epic's
// events plus those of every child cell, Filter narrows the timeline,
// and ReplayWithTiming yields events against the wall clock so a viewer
// sees the swarm's rhythm, not just its order.
package replay

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/untoldecay/waggle/internal/eventlog"
	"github.com/untoldecay/waggle/internal/types"
)

// schedAllowance is shaved off each wait to absorb timer and scheduler
// overhead; without it every yield lands a little late and the drift
// compounds over long timelines.
const schedAllowance = 3 * time.Millisecond

// FetchEpicEvents returns the epic's own events and those of its child
// cells, oldest first, annotated with the millisecond gap to the
// previous event. An id that never appears in the log is ErrNotFound.
func FetchEpicEvents(ctx context.Context, log *eventlog.Log, epicID string) ([]*types.TimedEvent, error) {
	ids := []string{epicID}

	rows, err := log.DB().QueryContext(ctx, `
		SELECT cell_id FROM cell_dependencies
		WHERE depends_on_id = ? AND type = ?
	`, epicID, types.DepParentChild)
	if err != nil {
		return nil, fmt.Errorf("failed to list epic children: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan epic child: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var events []*types.Event
	for _, id := range ids {
		evs, err := log.Read(ctx, types.EventFilter{EntityID: id})
		if err != nil {
			return nil, err
		}
		events = append(events, evs...)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("epic %s: %w", epicID, types.ErrNotFound)
	}

	sortByTime(events)
	return annotate(events), nil
}

// Filter narrows a timeline. Zero fields do not constrain; set fields
// are ANDed together.
type Filter struct {
	// Types keeps only events whose type is listed.
	Types []string
	// Actor keeps only events written by this agent.
	Actor string
	// Since drops events before this instant.
	Since time.Time
	// Until drops events after this instant.
	Until time.Time
}

// FilterEvents applies the filter and re-annotates deltas, so pacing
// reflects the gaps between surviving events rather than the original
// neighbours.
func FilterEvents(events []*types.TimedEvent, f Filter) []*types.TimedEvent {
	var kept []*types.Event
	for _, te := range events {
		if !f.matches(te.Event) {
			continue
		}
		kept = append(kept, te.Event)
	}
	return annotate(kept)
}

func (f Filter) matches(ev *types.Event) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if ev.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Actor != "" && ev.Actor != f.Actor {
		return false
	}
	if !f.Since.IsZero() && ev.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && ev.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// Speed selects the playback rate.
type Speed int

const (
	// SpeedRealtime plays gaps at their recorded length.
	SpeedRealtime Speed = iota
	// SpeedDouble halves every gap.
	SpeedDouble
	// SpeedInstant suppresses waits entirely.
	SpeedInstant
)

// ParseSpeed reads the CLI spellings 1x, 2x and instant. Empty means
// realtime.
func ParseSpeed(s string) (Speed, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "1x":
		return SpeedRealtime, nil
	case "2x":
		return SpeedDouble, nil
	case "instant":
		return SpeedInstant, nil
	default:
		return 0, fmt.Errorf("unknown replay speed %q (want 1x, 2x or instant)", s)
	}
}

func (s Speed) String() string {
	switch s {
	case SpeedDouble:
		return "2x"
	case SpeedInstant:
		return "instant"
	default:
		return "1x"
	}
}

// divisor scales recorded gaps down; instant is handled before division.
func (s Speed) divisor() int64 {
	if s == SpeedDouble {
		return 2
	}
	return 1
}

// Player yields a timeline event by event, pacing each yield against
// the wall clock. It is lazy (nothing happens until Next) and
// restartable (Reset rewinds to the first event).
type Player struct {
	events []*types.TimedEvent
	speed  Speed

	pos     int
	started time.Time
	cumMS   int64
}

// ReplayWithTiming builds a player over an annotated timeline.
func ReplayWithTiming(events []*types.TimedEvent, speed Speed) *Player {
	return &Player{events: events, speed: speed}
}

// Next blocks until the next event is due and returns it. The end of
// the timeline is io.EOF. Pacing is cumulative from the first Next, so
// a slow consumer does not stretch the overall runtime.
func (p *Player) Next(ctx context.Context) (*types.TimedEvent, error) {
	if p.pos >= len(p.events) {
		return nil, io.EOF
	}
	if p.pos == 0 {
		p.started = time.Now()
		p.cumMS = 0
	}

	ev := p.events[p.pos]
	p.cumMS += ev.DeltaMS

	if p.speed != SpeedInstant {
		due := p.started.Add(time.Duration(p.cumMS/p.speed.divisor()) * time.Millisecond)
		if wait := time.Until(due) - schedAllowance; wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}

	p.pos++
	return ev, nil
}

// Play drains the player through fn.
func (p *Player) Play(ctx context.Context, fn func(*types.TimedEvent) error) error {
	for {
		ev, err := p.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

// Reset rewinds the player to the start of the timeline.
func (p *Player) Reset() {
	p.pos = 0
	p.cumMS = 0
	p.started = time.Time{}
}

// Remaining reports how many events have not been yielded yet.
func (p *Player) Remaining() int {
	return len(p.events) - p.pos
}

// Len reports the timeline length.
func (p *Player) Len() int {
	return len(p.events)
}

func sortByTime(events []*types.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Sequence < events[j].Sequence
		}
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}

// annotate wraps events with the gap to their predecessor. The first
// event's delta is zero.
func annotate(events []*types.Event) []*types.TimedEvent {
	out := make([]*types.TimedEvent, len(events))
	for i, ev := range events {
		var delta int64
		if i > 0 {
			delta = ev.Timestamp.Sub(events[i-1].Timestamp).Milliseconds()
			if delta < 0 {
				delta = 0
			}
		}
		out[i] = &types.TimedEvent{Event: ev, DeltaMS: delta}
	}
	return out
}
