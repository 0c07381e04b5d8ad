package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/untoldecay/waggle/internal/types"
	"github.com/untoldecay/waggle/internal/ui"
)

var cellReadyCmd = &cobra.Command{
	Use:   "ready",
	Short: "Show the ready queue",
	Long: `Show open cells with no open blocking dependencies, ordered by
priority then age. This is the swarm's pull queue.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		limit, _ := cmd.Flags().GetInt("limit")

		cells, err := hiveSvc.ReadyQueue(rootCtx, projectKey, limit)
		if err != nil {
			FatalErrorRespectJSON("reading ready queue: %v", err)
		}

		if jsonOutput {
			outputJSON(cells)
			return
		}
		fmt.Println(ui.RenderCellTable(cells, ui.GetWidth()))
	},
}

var cellNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Show the single best cell to pick up",
	Args:  cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		cell, err := hiveSvc.Next(rootCtx, projectKey)
		if errors.Is(err, types.ErrNotFound) {
			if jsonOutput {
				outputJSON(nil)
				return
			}
			fmt.Println("Nothing ready.")
			return
		}
		if err != nil {
			FatalErrorRespectJSON("picking next cell: %v", err)
		}

		if jsonOutput {
			outputJSON(cell)
			return
		}
		fmt.Println(renderCellDetail(cell))
	},
}

var cellBlockedCmd = &cobra.Command{
	Use:   "blocked",
	Short: "Show blocked cells and what blocks them",
	Args:  cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		blocked, err := hiveSvc.Blocked(rootCtx, projectKey)
		if err != nil {
			FatalErrorRespectJSON("listing blocked cells: %v", err)
		}

		if jsonOutput {
			outputJSON(blocked)
			return
		}
		if len(blocked) == 0 {
			fmt.Println("No blocked cells.")
			return
		}
		for _, b := range blocked {
			fmt.Printf("%s %s %s\n", ui.RenderStatusIcon(string(b.Status)),
				ui.RenderID(b.ID), b.Title)
			fmt.Printf("  %s %s\n", ui.RenderMuted("blocked by:"),
				ui.RenderFail(strings.Join(b.BlockedBy, ", ")))
		}
	},
}

var cellStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show hive counts for this project",
	Args:  cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		stats, err := hiveSvc.Statistics(rootCtx, projectKey)
		if err != nil {
			FatalErrorRespectJSON("computing statistics: %v", err)
		}

		if jsonOutput {
			outputJSON(stats)
			return
		}
		fmt.Printf("%s %d cells\n", ui.RenderBold("Total:"), stats.Total)
		fmt.Printf("  %s %d   %s %d   %s %d   %s %d\n",
			ui.RenderStatus("open"), stats.Open,
			ui.RenderStatus("in_progress"), stats.InProgress,
			ui.RenderStatus("blocked"), stats.Blocked,
			ui.RenderStatus("closed"), stats.Closed)
		fmt.Printf("  %s %d   %s %d (%d eligible to close)   %s %d\n",
			ui.RenderPass("ready"), stats.Ready,
			ui.RenderType("epic"), stats.Epics, stats.EligibleEpics,
			ui.RenderMuted("tombstones"), stats.Tombstones)
	},
}

var cellStaleCmd = &cobra.Command{
	Use:   "stale",
	Short: "Show in-progress cells nobody has touched lately",
	Long: `Show in-progress cells with no updates inside the window. Stale cells
usually mean an agent died holding work; reassign or reopen them.

Examples:
  wag cell stale
  wag cell stale --than 48h --limit 10`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		thanStr, _ := cmd.Flags().GetString("than")
		limit, _ := cmd.Flags().GetInt("limit")

		than, err := parseDurationFlag(thanStr)
		if err != nil {
			FatalErrorRespectJSON("%v", err)
		}

		cells, err := hiveSvc.StaleCells(rootCtx, types.StaleFilter{
			ProjectKey: projectKey,
			OlderThan:  than,
			Limit:      limit,
		})
		if err != nil {
			FatalErrorRespectJSON("listing stale cells: %v", err)
		}

		if jsonOutput {
			outputJSON(cells)
			return
		}
		fmt.Println(ui.RenderCellTable(cells, ui.GetWidth()))
	},
}

func init() {
	cellReadyCmd.Flags().Int("limit", 0, "Max cells")
	cellStaleCmd.Flags().String("than", "72h", "Staleness window")
	cellStaleCmd.Flags().Int("limit", 0, "Max cells")

	cellCmd.AddCommand(cellReadyCmd)
	cellCmd.AddCommand(cellNextCmd)
	cellCmd.AddCommand(cellBlockedCmd)
	cellCmd.AddCommand(cellStatsCmd)
	cellCmd.AddCommand(cellStaleCmd)
}
