package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/untoldecay/waggle/internal/ui"
)

var cellDepCmd = &cobra.Command{
	Use:   "dep",
	Short: "Manage cell dependencies",
	Long: `Manage typed dependency edges between cells.

Edge types: blocks (gates the ready queue), related, parent-child,
discovered-from. Cycles among blocking edges are rejected.`,
}

var cellDepAddCmd = &cobra.Command{
	Use:   "add <id> <depends-on-id>",
	Short: "Add a dependency edge",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		spec, err := parseDepSpec(args[1])
		if err != nil {
			FatalErrorRespectJSON("%v", err)
		}
		if cmd.Flags().Changed("type") {
			t, _ := cmd.Flags().GetString("type")
			tmp, err := parseDepSpec(t + ":" + spec.ID)
			if err != nil {
				FatalErrorRespectJSON("%v", err)
			}
			spec.Type = tmp.Type
		}

		if err := hiveSvc.AddDependency(rootCtx, args[0], spec.ID, spec.Type, actor); err != nil {
			FatalErrorRespectJSON("adding dependency: %v", err)
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{
				"cell_id":       args[0],
				"depends_on_id": spec.ID,
				"type":          spec.Type,
			})
			return
		}
		fmt.Printf("%s %s now %s %s\n", ui.RenderPassIcon(), ui.RenderID(args[0]),
			ui.RenderMuted(string(spec.Type)), ui.RenderID(spec.ID))
	},
}

var cellDepRemoveCmd = &cobra.Command{
	Use:     "remove <id> <depends-on-id>",
	Aliases: []string{"rm"},
	Short:   "Remove a dependency edge",
	Args:    cobra.ExactArgs(2),
	Run: func(_ *cobra.Command, args []string) {
		if err := hiveSvc.RemoveDependency(rootCtx, args[0], args[1], actor); err != nil {
			FatalErrorRespectJSON("removing dependency: %v", err)
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{"cell_id": args[0], "removed": args[1]})
			return
		}
		fmt.Printf("%s Removed %s -> %s\n", ui.RenderPassIcon(), ui.RenderID(args[0]), ui.RenderID(args[1]))
	},
}

var cellDepListCmd = &cobra.Command{
	Use:   "list <id>",
	Short: "List a cell's dependencies",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		reverse, _ := cmd.Flags().GetBool("reverse")

		deps, err := hiveSvc.Dependencies(rootCtx, args[0])
		if !reverse && err != nil {
			FatalErrorRespectJSON("listing dependencies: %v", err)
		}
		if reverse {
			deps, err = hiveSvc.Dependents(rootCtx, args[0])
			if err != nil {
				FatalErrorRespectJSON("listing dependents: %v", err)
			}
		}

		if jsonOutput {
			outputJSON(deps)
			return
		}
		if len(deps) == 0 {
			fmt.Println("No dependencies.")
			return
		}
		for _, d := range deps {
			if reverse {
				fmt.Printf("  %s %s this cell\n", ui.RenderID(d.CellID), ui.RenderMuted(string(d.Type)))
				continue
			}
			fmt.Printf("  %s %s\n", ui.RenderMuted(string(d.Type)), ui.RenderID(d.DependsOnID))
		}
	},
}

var cellLabelCmd = &cobra.Command{
	Use:   "label <id> <label> [label...]",
	Short: "Add labels to a cell",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		remove, _ := cmd.Flags().GetBool("remove")

		for _, label := range args[1:] {
			var err error
			if remove {
				err = hiveSvc.RemoveLabel(rootCtx, args[0], label, actor)
			} else {
				err = hiveSvc.AddLabel(rootCtx, args[0], label, actor)
			}
			if err != nil {
				FatalErrorRespectJSON("labeling %s: %v", args[0], err)
			}
		}

		verb := "Labeled"
		if remove {
			verb = "Unlabeled"
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"cell_id": args[0], "labels": args[1:], "removed": remove})
			return
		}
		fmt.Printf("%s %s %s\n", ui.RenderPassIcon(), verb, ui.RenderID(args[0]))
	},
}

var cellCommentCmd = &cobra.Command{
	Use:   "comment <id> [text]",
	Short: "Comment on a cell",
	Long: `Add a comment to a cell, or list its comments when no text is given.

Examples:
  wag cell comment wag-a1b2c3 "root cause is the stale cursor"
  wag cell comment wag-a1b2c3
  wag cell comment wag-a1b2c3 --delete 4`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("delete") {
			id, _ := cmd.Flags().GetInt64("delete")
			if err := hiveSvc.DeleteComment(rootCtx, args[0], id, actor); err != nil {
				FatalErrorRespectJSON("deleting comment: %v", err)
			}
			if jsonOutput {
				outputJSON(map[string]interface{}{"cell_id": args[0], "deleted": id})
				return
			}
			fmt.Printf("%s Deleted comment #%d\n", ui.RenderPassIcon(), id)
			return
		}

		if len(args) == 1 {
			comments, err := hiveSvc.Comments(rootCtx, args[0])
			if err != nil {
				FatalErrorRespectJSON("listing comments: %v", err)
			}
			if jsonOutput {
				outputJSON(comments)
				return
			}
			if len(comments) == 0 {
				fmt.Println("No comments.")
				return
			}
			for _, c := range comments {
				fmt.Printf("%s %s\n", ui.RenderMuted(fmt.Sprintf("#%d %s %s:",
					c.ID, c.CreatedAt.Format("01-02 15:04"), c.Author)), c.Text)
			}
			return
		}

		if cmd.Flags().Changed("edit") {
			id, _ := cmd.Flags().GetInt64("edit")
			if err := hiveSvc.UpdateComment(rootCtx, args[0], id, args[1], actor); err != nil {
				FatalErrorRespectJSON("editing comment: %v", err)
			}
			if jsonOutput {
				outputJSON(map[string]interface{}{"cell_id": args[0], "edited": id})
				return
			}
			fmt.Printf("%s Edited comment #%d\n", ui.RenderPassIcon(), id)
			return
		}

		comment, err := hiveSvc.AddComment(rootCtx, args[0], actor, args[1])
		if err != nil {
			FatalErrorRespectJSON("commenting: %v", err)
		}
		if jsonOutput {
			outputJSON(comment)
			return
		}
		fmt.Printf("%s Comment #%d on %s\n", ui.RenderPassIcon(), comment.ID, ui.RenderID(args[0]))
	},
}

func init() {
	cellDepAddCmd.Flags().StringP("type", "t", "", "Edge type (default blocks)")
	cellDepListCmd.Flags().Bool("reverse", false, "List cells that depend on this one")

	cellLabelCmd.Flags().Bool("remove", false, "Remove the labels instead")

	cellCommentCmd.Flags().Int64("edit", 0, "Comment ID to edit with the given text")
	cellCommentCmd.Flags().Int64("delete", 0, "Comment ID to delete")

	cellDepCmd.AddCommand(cellDepAddCmd)
	cellDepCmd.AddCommand(cellDepRemoveCmd)
	cellDepCmd.AddCommand(cellDepListCmd)
	cellCmd.AddCommand(cellDepCmd)
	cellCmd.AddCommand(cellLabelCmd)
	cellCmd.AddCommand(cellCommentCmd)
}
