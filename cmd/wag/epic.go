package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/untoldecay/waggle/internal/types"
	"github.com/untoldecay/waggle/internal/ui"
)

var epicCmd = &cobra.Command{
	Use:     "epic",
	GroupID: "hive",
	Short:   "Manage epics and their children",
	Long: `Manage epics, cells that aggregate child work.

Children attach through parent-child dependencies. An epic becomes
eligible to close once every child is closed; eligibility is advisory,
closing stays a deliberate act.

Examples:
  wag epic show wag-a1b2c3
  wag epic add wag-a1b2c3 wag-d4e5f6
  wag epic decompose wag-a1b2c3 --child "Write schema" --child "Wire API"`,
}

var epicListCmd = &cobra.Command{
	Use:   "list",
	Short: "List epics",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		eligibleOnly, _ := cmd.Flags().GetBool("eligible")

		var (
			epics []*types.Cell
			err   error
		)
		if eligibleOnly {
			epics, err = hiveSvc.EligibleEpics(rootCtx, projectKey)
		} else {
			epics, err = hiveSvc.List(rootCtx, types.CellFilter{
				ProjectKey: projectKey,
				CellType:   types.TypeEpic,
			})
		}
		if err != nil {
			FatalErrorRespectJSON("listing epics: %v", err)
		}

		if jsonOutput {
			outputJSON(epics)
			return
		}
		fmt.Println(ui.RenderCellTable(epics, ui.GetWidth()))
	},
}

var epicShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an epic with its child tree",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		progress, err := hiveSvc.EpicProgress(rootCtx, args[0])
		if err != nil {
			FatalErrorRespectJSON("reading epic: %v", err)
		}
		children, err := hiveSvc.EpicChildren(rootCtx, args[0])
		if err != nil {
			FatalErrorRespectJSON("reading epic children: %v", err)
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{
				"progress": progress,
				"children": children,
			})
			return
		}

		fmt.Println(ui.RenderCellTree(progress.Epic, map[string][]*types.Cell{
			progress.Epic.ID: children,
		}))
		line := fmt.Sprintf("%d/%d children closed", progress.ClosedChildren, progress.TotalChildren)
		if progress.Eligible {
			fmt.Printf("%s %s, eligible to close\n", ui.RenderPassIcon(), line)
			return
		}
		fmt.Println(ui.RenderMuted(line))
	},
}

var epicAddCmd = &cobra.Command{
	Use:   "add <epic-id> <child-id> [child-id...]",
	Short: "Attach existing cells to an epic",
	Args:  cobra.MinimumNArgs(2),
	Run: func(_ *cobra.Command, args []string) {
		for _, child := range args[1:] {
			if err := hiveSvc.AddEpicChild(rootCtx, args[0], child, actor); err != nil {
				FatalErrorRespectJSON("attaching %s: %v", child, err)
			}
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{"epic": args[0], "added": args[1:]})
			return
		}
		fmt.Printf("%s Attached %d cell(s) to %s\n", ui.RenderPassIcon(), len(args)-1, ui.RenderID(args[0]))
	},
}

var epicRemoveCmd = &cobra.Command{
	Use:     "remove <epic-id> <child-id>",
	Aliases: []string{"rm"},
	Short:   "Detach a child from an epic",
	Args:    cobra.ExactArgs(2),
	Run: func(_ *cobra.Command, args []string) {
		if err := hiveSvc.RemoveEpicChild(rootCtx, args[0], args[1], actor); err != nil {
			FatalErrorRespectJSON("detaching %s: %v", args[1], err)
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{"epic": args[0], "removed": args[1]})
			return
		}
		fmt.Printf("%s Detached %s from %s\n", ui.RenderPassIcon(), ui.RenderID(args[1]), ui.RenderID(args[0]))
	},
}

var epicDecomposeCmd = &cobra.Command{
	Use:   "decompose <epic-id>",
	Short: "Create child cells under an epic in one step",
	Long: `Create child cells under an epic atomically: either every child is
created and attached, or nothing is.

Examples:
  wag epic decompose wag-a1b2c3 --child "Write schema" --child "Wire API"
  wag epic decompose wag-a1b2c3 --child "Spike parser" --priority 1`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		titles, _ := cmd.Flags().GetStringArray("child")
		priority, _ := cmd.Flags().GetInt("priority")

		if len(titles) == 0 {
			FatalErrorRespectJSON("decompose needs at least one --child")
		}

		children := make([]*types.Cell, 0, len(titles))
		for _, title := range titles {
			children = append(children, &types.Cell{
				Title:      title,
				CellType:   types.TypeTask,
				Priority:   priority,
				ProjectKey: projectKey,
				CreatedBy:  actor,
			})
		}

		created, err := hiveSvc.Decompose(rootCtx, args[0], children, actor)
		if err != nil {
			FatalErrorRespectJSON("decomposing %s: %v", args[0], err)
		}

		if jsonOutput {
			outputJSON(created)
			return
		}
		fmt.Printf("%s Decomposed %s into %d cells:\n", ui.RenderPassIcon(), ui.RenderID(args[0]), len(created))
		for _, c := range created {
			fmt.Printf("  %s %s\n", ui.RenderID(c.ID), c.Title)
		}
	},
}

func init() {
	epicListCmd.Flags().Bool("eligible", false, "Only epics whose children are all closed")
	epicDecomposeCmd.Flags().StringArray("child", nil, "Child cell title (repeatable)")
	epicDecomposeCmd.Flags().IntP("priority", "p", 2, "Priority for the created children")

	epicCmd.AddCommand(epicListCmd)
	epicCmd.AddCommand(epicShowCmd)
	epicCmd.AddCommand(epicAddCmd)
	epicCmd.AddCommand(epicRemoveCmd)
	epicCmd.AddCommand(epicDecomposeCmd)
	rootCmd.AddCommand(epicCmd)
}
