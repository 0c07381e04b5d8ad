package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/waggle/internal/types"
	"github.com/untoldecay/waggle/internal/ui"
)

var eventsCmd = &cobra.Command{
	Use:     "events",
	GroupID: "data",
	Short:   "Inspect the event log",
	Long: `Inspect the append-only event log every table is folded from.

Examples:
  wag events tail
  wag events tail --follow
  wag events tail --stream message --checkpoint triage --follow`,
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show recent events, optionally following",
	Long: `Show the newest events for this project. With --follow, keep polling
for new ones until interrupted.

A --checkpoint name makes following durable: the position is stored per
stream under that name, so the next tail resumes where this one left
off. Checkpoints require --stream.

Examples:
  wag events tail --limit 50
  wag events tail --type cell_closed --type cell_created
  wag events tail --actor red-panda --since "2 hours ago"
  wag events tail --stream message --checkpoint triage --follow`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		follow, _ := cmd.Flags().GetBool("follow")
		stream, _ := cmd.Flags().GetString("stream")
		checkpoint, _ := cmd.Flags().GetString("checkpoint")
		eventTypes, _ := cmd.Flags().GetStringSlice("type")
		actorFilter, _ := cmd.Flags().GetString("by")

		if checkpoint != "" && stream == "" {
			FatalErrorRespectJSON("--checkpoint requires --stream")
		}

		filter := types.EventFilter{
			ProjectKey: projectKey,
			Stream:     stream,
			Types:      eventTypes,
			Actor:      actorFilter,
			Limit:      limit,
		}
		if v, _ := cmd.Flags().GetString("since"); v != "" {
			t, err := parseTimeFlag(v)
			if err != nil {
				FatalErrorRespectJSON("%v", err)
			}
			filter.Since = t
		}

		if checkpoint != "" {
			tailCheckpointed(stream, checkpoint, limit, follow)
			return
		}

		head, err := evlog.Head(rootCtx)
		if err != nil {
			FatalErrorRespectJSON("reading log head: %v", err)
		}
		if limit > 0 && filter.Since.IsZero() {
			// Tail semantics: the last N, not the first N.
			filter.FromSeq = head - int64(limit) + 1
		}

		events, err := evlog.Read(rootCtx, filter)
		if err != nil {
			FatalErrorRespectJSON("reading events: %v", err)
		}
		printEvents(events)

		if !follow {
			return
		}
		lastSeq := head
		for _, ev := range events {
			if ev.Sequence > lastSeq {
				lastSeq = ev.Sequence
			}
		}
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
			}
			filter.FromSeq = lastSeq + 1
			filter.Limit = 0
			events, err := evlog.Read(rootCtx, filter)
			if err != nil {
				FatalErrorRespectJSON("reading events: %v", err)
			}
			printEvents(events)
			for _, ev := range events {
				if ev.Sequence > lastSeq {
					lastSeq = ev.Sequence
				}
			}
		}
	},
}

// tailCheckpointed follows one stream through a durable cursor, so a
// later tail under the same checkpoint resumes after the last event
// this one printed.
func tailCheckpointed(stream, checkpoint string, limit int, follow bool) {
	if limit <= 0 {
		limit = 100
	}
	for {
		events, err := evlog.ReadSince(rootCtx, stream, checkpoint, limit)
		if err != nil {
			FatalErrorRespectJSON("reading %s stream: %v", stream, err)
		}
		printEvents(events)
		if len(events) > 0 {
			last := events[len(events)-1].Sequence
			if err := evlog.AdvanceCursor(rootCtx, stream, checkpoint, last); err != nil {
				FatalErrorRespectJSON("advancing checkpoint: %v", err)
			}
		}
		if !follow {
			return
		}
		select {
		case <-rootCtx.Done():
			return
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func printEvents(events []*types.Event) {
	if jsonOutput {
		for _, ev := range events {
			outputJSON(ev)
		}
		return
	}
	for _, ev := range events {
		line := fmt.Sprintf("%s %s %s %s",
			ui.RenderMuted(ev.Timestamp.Format("01-02 15:04:05")),
			ui.RenderMuted(fmt.Sprintf("#%d", ev.Sequence)),
			ui.RenderAccent(ev.Type),
			ev.EntityID)
		if ev.Actor != "" {
			line += ui.RenderMuted(" by " + ev.Actor)
		}
		if len(ev.Payload) > 0 && len(ev.Payload) <= 120 {
			line += " " + ui.RenderMuted(strings.TrimSpace(string(ev.Payload)))
		}
		fmt.Println(line)
	}
}

func init() {
	eventsTailCmd.Flags().Int("limit", 20, "Max events in the initial window")
	eventsTailCmd.Flags().BoolP("follow", "f", false, "Keep polling for new events")
	eventsTailCmd.Flags().String("stream", "", "Only events on this stream")
	eventsTailCmd.Flags().String("checkpoint", "", "Durable resume position name (needs --stream)")
	eventsTailCmd.Flags().StringSlice("type", nil, "Only these event types")
	eventsTailCmd.Flags().String("by", "", "Only events by this actor")
	eventsTailCmd.Flags().String("since", "", "Only events after this time")

	eventsCmd.AddCommand(eventsTailCmd)
	rootCmd.AddCommand(eventsCmd)
}
