package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/untoldecay/waggle/internal/types"
	"github.com/untoldecay/waggle/internal/ui"
)

var cellUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update cell fields",
	Long: `Update one or more fields on a cell. Status is not a field; it moves
through the status, close and reopen commands so every transition is
validated and lands in the event log with a reason.

Examples:
  wag cell update wag-a1b2c3 --title "Wire retry budget into fetcher"
  wag cell update wag-a1b2c3 -p 0 --assignee red-panda
  wag cell update wag-a1b2c3 --notes "blocked on upstream fix"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fields := map[string]interface{}{}
		for flag, column := range map[string]string{
			"title":       "title",
			"description": "description",
			"design":      "design",
			"acceptance":  "acceptance_criteria",
			"notes":       "notes",
			"assignee":    "assignee",
			"type":        "cell_type",
		} {
			if cmd.Flags().Changed(flag) {
				v, _ := cmd.Flags().GetString(flag)
				fields[column] = v
			}
		}
		if cmd.Flags().Changed("priority") {
			p, _ := cmd.Flags().GetInt("priority")
			if p < 0 || p > 4 {
				FatalErrorRespectJSON("priority %d out of range 0-4", p)
			}
			fields["priority"] = p
		}

		updated, err := hiveSvc.Update(rootCtx, args[0], fields, actor)
		if err != nil {
			FatalErrorRespectJSON("updating cell: %v", err)
		}

		if jsonOutput {
			outputJSON(updated)
			return
		}
		fmt.Printf("%s Updated %s (%d field(s))\n", ui.RenderPassIcon(), ui.RenderID(updated.ID), len(fields))
	},
}

var cellStatusCmd = &cobra.Command{
	Use:   "status <id> <status>",
	Short: "Move a cell through the workflow",
	Long: `Move a cell to open, in_progress, blocked or closed. Invalid
transitions are rejected; nothing is recorded for them.

Examples:
  wag cell status wag-a1b2c3 in_progress
  wag cell status wag-a1b2c3 blocked --reason "waiting on schema freeze"`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		reason, _ := cmd.Flags().GetString("reason")

		cell, err := hiveSvc.SetStatus(rootCtx, args[0], types.Status(args[1]), reason, actor)
		if err != nil {
			FatalErrorRespectJSON("setting status: %v", err)
		}

		if jsonOutput {
			outputJSON(cell)
			return
		}
		fmt.Printf("%s %s is now %s\n", ui.RenderPassIcon(), ui.RenderID(cell.ID),
			ui.RenderStatus(string(cell.Status)))
	},
}

var cellCloseCmd = &cobra.Command{
	Use:   "close <id> [id...]",
	Short: "Close one or more cells",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		reason, _ := cmd.Flags().GetString("reason")

		var closed []*types.Cell
		for _, id := range args {
			cell, err := hiveSvc.Close(rootCtx, id, reason, actor)
			if err != nil {
				FatalErrorRespectJSON("closing %s: %v", id, err)
			}
			closed = append(closed, cell)
		}

		if jsonOutput {
			outputJSON(closed)
			return
		}
		for _, cell := range closed {
			fmt.Printf("%s Closed %s: %s\n", ui.RenderPassIcon(), ui.RenderID(cell.ID), cell.Title)
		}
	},
}

var cellReopenCmd = &cobra.Command{
	Use:   "reopen <id>",
	Short: "Reopen a closed cell",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		cell, err := hiveSvc.Reopen(rootCtx, args[0], actor)
		if err != nil {
			FatalErrorRespectJSON("reopening %s: %v", args[0], err)
		}

		if jsonOutput {
			outputJSON(cell)
			return
		}
		fmt.Printf("%s Reopened %s: %s\n", ui.RenderPassIcon(), ui.RenderID(cell.ID), cell.Title)
	},
}

var cellDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Tombstone a cell",
	Long: `Tombstone a cell. The row stays on disk for history and replay; it
drops out of listings, the ready queue and snapshots of live work.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		reason, _ := cmd.Flags().GetString("reason")
		force, _ := cmd.Flags().GetBool("force")

		if !force && !ui.PromptYesNo(fmt.Sprintf("Tombstone %s?", args[0]), false) {
			fmt.Println("Aborted.")
			return
		}

		if err := hiveSvc.Delete(rootCtx, args[0], reason, actor); err != nil {
			FatalErrorRespectJSON("deleting %s: %v", args[0], err)
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{"deleted": args[0]})
			return
		}
		fmt.Printf("%s Tombstoned %s\n", ui.RenderPassIcon(), ui.RenderID(args[0]))
	},
}

func init() {
	cellUpdateCmd.Flags().String("title", "", "New title")
	cellUpdateCmd.Flags().StringP("description", "d", "", "New description")
	cellUpdateCmd.Flags().String("design", "", "New design notes")
	cellUpdateCmd.Flags().String("acceptance", "", "New acceptance criteria")
	cellUpdateCmd.Flags().String("notes", "", "New notes")
	cellUpdateCmd.Flags().StringP("assignee", "a", "", "New assignee")
	cellUpdateCmd.Flags().StringP("type", "t", "", "New cell type")
	cellUpdateCmd.Flags().IntP("priority", "p", 2, "New priority 0-4")

	cellStatusCmd.Flags().String("reason", "", "Why the status changed")
	cellCloseCmd.Flags().String("reason", "", "Why the cell is closed")
	cellDeleteCmd.Flags().String("reason", "", "Why the cell is deleted")
	cellDeleteCmd.Flags().BoolP("force", "f", false, "Skip confirmation")

	cellCmd.AddCommand(cellUpdateCmd)
	cellCmd.AddCommand(cellStatusCmd)
	cellCmd.AddCommand(cellCloseCmd)
	cellCmd.AddCommand(cellReopenCmd)
	cellCmd.AddCommand(cellDeleteCmd)
}
