package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/untoldecay/waggle/internal/types"
	"github.com/untoldecay/waggle/internal/ui"
)

var cellCmd = &cobra.Command{
	Use:     "cell",
	GroupID: "hive",
	Short:   "Manage hive work items",
	Long: `Manage cells, the hive's work items.

A cell is a task, bug, feature, epic or chore with a status workflow
(open, in_progress, blocked, closed) and typed dependencies. Blocking
dependencies gate the ready queue; epics aggregate children.

Examples:
  wag cell create "Wire retry budget into fetcher" -p 1
  wag cell list --status open --assignee red-panda
  wag cell show wag-a1b2c3
  wag cell close wag-a1b2c3 --reason "shipped in 4f2c1d"`,
}

var cellCreateCmd = &cobra.Command{
	Use:   "create [title]",
	Short: "Create a cell",
	Long: `Create a cell in the hive.

With a title argument the cell is created directly from flags. With
--interactive (or no title) a form collects the fields instead.

Examples:
  wag cell create "Fix flaky watcher test" --type bug -p 1
  wag cell create "Auth epic" --type epic
  wag cell create "Split importer" --parent wag-a1b2c3 --label refactor
  wag cell create --interactive`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		interactive, _ := cmd.Flags().GetBool("interactive")

		var (
			values *createFormValues
			err    error
		)
		if interactive || len(args) == 0 {
			values, err = runCreateForm()
			if err != nil {
				FatalErrorRespectJSON("%v", err)
			}
			if values == nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "Canceled.")
				return
			}
		} else {
			values, err = createValuesFromFlags(cmd, args[0])
			if err != nil {
				FatalErrorRespectJSON("%v", err)
			}
		}

		cell := &types.Cell{
			Title:              values.Title,
			Description:        values.Description,
			Design:             values.Design,
			AcceptanceCriteria: values.AcceptanceCriteria,
			Notes:              values.Notes,
			CellType:           values.CellType,
			Priority:           values.Priority,
			Assignee:           values.Assignee,
			ProjectKey:         projectKey,
			CreatedBy:          actor,
		}
		created, err := hiveSvc.Create(rootCtx, cell)
		if err != nil {
			FatalErrorRespectJSON("creating cell: %v", err)
		}

		for _, label := range values.Labels {
			if err := hiveSvc.AddLabel(rootCtx, created.ID, label, actor); err != nil {
				FatalErrorRespectJSON("labeling %s: %v", created.ID, err)
			}
		}
		for _, dep := range values.Dependencies {
			if err := hiveSvc.AddDependency(rootCtx, created.ID, dep.ID, dep.Type, actor); err != nil {
				FatalErrorRespectJSON("adding dependency on %s: %v", dep.ID, err)
			}
		}
		if values.Parent != "" {
			if err := hiveSvc.AddEpicChild(rootCtx, values.Parent, created.ID, actor); err != nil {
				FatalErrorRespectJSON("attaching to epic %s: %v", values.Parent, err)
			}
		}

		if jsonOutput {
			final, err := hiveSvc.Get(rootCtx, created.ID)
			if err != nil {
				final = created
			}
			outputJSON(final)
			return
		}
		fmt.Printf("%s Created %s %s\n", ui.RenderPassIcon(), ui.RenderID(created.ID),
			ui.RenderMuted(fmt.Sprintf("(%s, P%d)", created.CellType, created.Priority)))
	},
}

var cellListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cells",
	Long: `List cells, newest first. Tombstones are hidden unless asked for.

Examples:
  wag cell list
  wag cell list --status in_progress --type bug
  wag cell list --label auth --priority 1
  wag cell list --title-like "importer"`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		filter := types.CellFilter{ProjectKey: projectKey}
		if s, _ := cmd.Flags().GetString("status"); s != "" {
			filter.Status = types.Status(s)
		}
		if t, _ := cmd.Flags().GetString("type"); t != "" {
			filter.CellType = types.CellType(t)
		}
		filter.Assignee, _ = cmd.Flags().GetString("assignee")
		filter.Labels, _ = cmd.Flags().GetStringSlice("label")
		filter.TitleLike, _ = cmd.Flags().GetString("title-like")
		filter.Limit, _ = cmd.Flags().GetInt("limit")
		filter.IncludeTombstones, _ = cmd.Flags().GetBool("tombstones")
		if cmd.Flags().Changed("priority") {
			p, _ := cmd.Flags().GetInt("priority")
			filter.Priority = &p
		}

		cells, err := hiveSvc.List(rootCtx, filter)
		if err != nil {
			FatalErrorRespectJSON("listing cells: %v", err)
		}

		if jsonOutput {
			outputJSON(cells)
			return
		}
		fmt.Println(ui.RenderCellTable(cells, ui.GetWidth()))
	},
}

var cellShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a cell in full",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		cell, err := hiveSvc.Get(rootCtx, args[0])
		if err != nil {
			FatalErrorRespectJSON("showing cell: %v", err)
		}
		deps, err := hiveSvc.Dependencies(rootCtx, cell.ID)
		if err == nil {
			cell.Dependencies = deps
		}

		if jsonOutput {
			outputJSON(cell)
			return
		}
		fmt.Println(renderCellDetail(cell))

		comments, err := hiveSvc.Comments(rootCtx, cell.ID)
		if err == nil && len(comments) > 0 {
			fmt.Println(ui.RenderBold("Comments"))
			for _, c := range comments {
				fmt.Printf("  %s %s\n", ui.RenderMuted(fmt.Sprintf("#%d %s %s:",
					c.ID, c.CreatedAt.Format("01-02 15:04"), c.Author)), c.Text)
			}
		}
	},
}

// renderCellDetail formats a cell for the terminal. Long-form fields are
// rendered as markdown.
func renderCellDetail(cell *types.Cell) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s %s\n", ui.RenderStatusIcon(string(cell.Status)),
		ui.RenderID(cell.ID), ui.RenderBold(cell.Title)))
	meta := fmt.Sprintf("%s · %s · %s", ui.RenderStatus(string(cell.Status)),
		ui.RenderPriority(cell.Priority), ui.RenderType(string(cell.CellType)))
	if cell.Assignee != "" {
		meta += " · " + cell.Assignee
	}
	b.WriteString(meta + "\n")
	b.WriteString(ui.RenderMuted(fmt.Sprintf("created %s by %s · updated %s",
		cell.CreatedAt.Format("2006-01-02"), cell.CreatedBy,
		cell.UpdatedAt.Format("2006-01-02 15:04"))) + "\n")
	if len(cell.Labels) > 0 {
		b.WriteString(ui.RenderMuted("labels: "+strings.Join(cell.Labels, ", ")) + "\n")
	}
	if cell.ClosedAt != nil {
		line := "closed " + cell.ClosedAt.Format("2006-01-02 15:04")
		if cell.CloseReason != "" {
			line += ": " + cell.CloseReason
		}
		b.WriteString(ui.RenderMuted(line) + "\n")
	}
	if len(cell.Dependencies) > 0 {
		b.WriteString(ui.RenderBold("Dependencies") + "\n")
		for _, d := range cell.Dependencies {
			b.WriteString(fmt.Sprintf("  %s %s %s\n", ui.RenderID(d.DependsOnID),
				ui.RenderMuted(string(d.Type)), ui.RenderMuted("added by "+d.CreatedBy)))
		}
	}
	for _, section := range []struct {
		title, body string
	}{
		{"Description", cell.Description},
		{"Design", cell.Design},
		{"Acceptance Criteria", cell.AcceptanceCriteria},
		{"Notes", cell.Notes},
	} {
		if section.body == "" {
			continue
		}
		b.WriteString("\n" + ui.RenderBold(section.title) + "\n")
		b.WriteString(ui.RenderMarkdown(section.body) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func init() {
	cellCreateCmd.Flags().StringP("type", "t", "task", "Cell type: task, bug, feature, epic, chore")
	cellCreateCmd.Flags().IntP("priority", "p", 2, "Priority 0 (critical) to 4 (backlog)")
	cellCreateCmd.Flags().StringP("description", "d", "", "What needs doing and why")
	cellCreateCmd.Flags().String("design", "", "Implementation notes")
	cellCreateCmd.Flags().String("acceptance", "", "Acceptance criteria")
	cellCreateCmd.Flags().String("notes", "", "Freeform notes")
	cellCreateCmd.Flags().StringP("assignee", "a", "", "Agent responsible")
	cellCreateCmd.Flags().StringSliceP("label", "l", nil, "Labels to attach")
	cellCreateCmd.Flags().StringSlice("deps", nil, "Dependencies as id or type:id (blocks, related, discovered-from)")
	cellCreateCmd.Flags().String("parent", "", "Epic to attach this cell to")
	cellCreateCmd.Flags().BoolP("interactive", "i", false, "Collect fields with a form")

	cellListCmd.Flags().String("status", "", "Filter by status")
	cellListCmd.Flags().StringP("type", "t", "", "Filter by cell type")
	cellListCmd.Flags().StringP("assignee", "a", "", "Filter by assignee")
	cellListCmd.Flags().StringSliceP("label", "l", nil, "Filter by labels (all must match)")
	cellListCmd.Flags().IntP("priority", "p", 0, "Filter by exact priority")
	cellListCmd.Flags().String("title-like", "", "Filter by title substring")
	cellListCmd.Flags().Int("limit", 0, "Max cells")
	cellListCmd.Flags().Bool("tombstones", false, "Include deleted cells")

	cellCmd.AddCommand(cellCreateCmd)
	cellCmd.AddCommand(cellListCmd)
	cellCmd.AddCommand(cellShowCmd)
	rootCmd.AddCommand(cellCmd)
}
