package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/waggle/internal/replay"
	"github.com/untoldecay/waggle/internal/types"
	"github.com/untoldecay/waggle/internal/ui"
)

var replayCmd = &cobra.Command{
	Use:     "replay <epic-id>",
	GroupID: "data",
	Short:   "Replay an epic's event timeline",
	Long: `Replay the events of an epic and its children in order, paced by the
gaps at which they originally happened. Speeds divide the gaps; instant
prints everything at once. Long idle stretches are compressed.

Examples:
  wag replay wag-a1b2c3
  wag replay wag-a1b2c3 --speed 10x
  wag replay wag-a1b2c3 --speed instant --type cell_closed
  wag replay wag-a1b2c3 --by red-panda --since "last monday"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		speedStr, _ := cmd.Flags().GetString("speed")
		eventTypes, _ := cmd.Flags().GetStringSlice("type")
		actorFilter, _ := cmd.Flags().GetString("by")

		speed, err := replay.ParseSpeed(speedStr)
		if err != nil {
			FatalErrorRespectJSON("%v", err)
		}
		if jsonOutput {
			speed = replay.SpeedInstant
		}

		filter := replay.Filter{Types: eventTypes, Actor: actorFilter}
		if v, _ := cmd.Flags().GetString("since"); v != "" {
			filter.Since, err = parseTimeFlag(v)
			if err != nil {
				FatalErrorRespectJSON("%v", err)
			}
		}
		if v, _ := cmd.Flags().GetString("until"); v != "" {
			filter.Until, err = parseTimeFlag(v)
			if err != nil {
				FatalErrorRespectJSON("%v", err)
			}
		}

		events, err := replay.FetchEpicEvents(rootCtx, evlog, args[0])
		if err != nil {
			FatalErrorRespectJSON("fetching timeline: %v", err)
		}
		events = replay.FilterEvents(events, filter)
		if len(events) == 0 {
			if jsonOutput {
				outputJSON([]*types.TimedEvent{})
				return
			}
			fmt.Println("No events match.")
			return
		}

		if jsonOutput {
			collected := make([]*types.TimedEvent, 0, len(events))
			player := replay.ReplayWithTiming(events, speed)
			err = player.Play(rootCtx, func(te *types.TimedEvent) error {
				collected = append(collected, te)
				return nil
			})
			if err != nil {
				FatalErrorRespectJSON("replaying: %v", err)
			}
			outputJSON(collected)
			return
		}

		fmt.Printf("Replaying %d events at %s\n\n", len(events), speed)
		player := replay.ReplayWithTiming(events, speed)
		err = player.Play(rootCtx, func(te *types.TimedEvent) error {
			gap := ""
			if te.DeltaMS > 0 {
				gap = ui.RenderMuted(fmt.Sprintf("  (+%s)", compactGap(te.DeltaMS)))
			}
			fmt.Printf("%s %s %s%s\n",
				ui.RenderMuted(te.Timestamp.Format("01-02 15:04:05")),
				ui.RenderAccent(te.Type),
				te.EntityID,
				gap)
			return nil
		})
		if err != nil {
			FatalErrorRespectJSON("replaying: %v", err)
		}
	},
}

// compactGap renders an inter-event gap in the largest sensible unit.
func compactGap(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", ms)
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%.1fm", d.Minutes())
	default:
		return fmt.Sprintf("%.1fh", d.Hours())
	}
}

func init() {
	replayCmd.Flags().String("speed", "1x", "Playback speed: 1x, 2x, 10x, 100x, instant")
	replayCmd.Flags().StringSlice("type", nil, "Only these event types")
	replayCmd.Flags().String("by", "", "Only events by this actor")
	replayCmd.Flags().String("since", "", "Drop events before this time")
	replayCmd.Flags().String("until", "", "Drop events after this time")

	rootCmd.AddCommand(replayCmd)
}
