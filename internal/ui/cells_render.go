package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/lipgloss/tree"

	"github.com/untoldecay/waggle/internal/types"
)

// RenderCellTable renders cells as a bordered table for wag cell list.
func RenderCellTable(cells []*types.Cell, width int) string {
	if len(cells) == 0 {
		return TableHintStyle.Render("No cells match.")
	}

	maxTitleWidth := width - 40
	if maxTitleWidth < 10 {
		maxTitleWidth = 10
	}

	rows := [][]string{}
	for _, c := range cells {
		title := c.Title
		if len(title) > maxTitleWidth {
			title = title[:maxTitleWidth-3] + "..."
		}
		rows = append(rows, []string{
			RenderStatusIcon(string(c.Status)),
			RenderID(c.ID),
			RenderPriority(c.Priority),
			RenderType(string(c.CellType)),
			title,
		})
	}

	return table.New().
		Headers("", "ID", "Pri", "Type", "Title").
		Border(lipgloss.RoundedBorder()).
		BorderStyle(TableBorderStyle).
		Width(width).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			style := lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Left)
			if col == 0 {
				style = style.Width(3)
			}
			return style
		}).
		String()
}

// BuildCellTree constructs a lipgloss/tree rooted at a cell, nesting its
// descendants from the children adjacency map (parent id to child cells).
func BuildCellTree(root *types.Cell, children map[string][]*types.Cell) *tree.Tree {
	if root == nil {
		return nil
	}

	t := tree.New().Root(cellNodeLabel(root))
	t.EnumeratorStyle(lipgloss.NewStyle().Foreground(ColorAccent))
	t.RootStyle(lipgloss.NewStyle().Bold(true))

	var attach func(parent *tree.Tree, id string)
	attach = func(parent *tree.Tree, id string) {
		for _, child := range children[id] {
			node := tree.New().Root(cellNodeLabel(child))
			node.EnumeratorStyle(lipgloss.NewStyle().Foreground(ColorAccent))
			parent.Child(node)
			attach(node, child.ID)
		}
	}
	attach(t, root.ID)

	return t
}

// RenderCellTree renders an epic and its children using lipgloss/tree.
func RenderCellTree(root *types.Cell, children map[string][]*types.Cell) string {
	t := BuildCellTree(root, children)
	if t == nil {
		return TableHintStyle.Render("No cells found.")
	}
	return t.String()
}

func cellNodeLabel(c *types.Cell) string {
	title := c.Title
	if len(title) > 60 {
		title = title[:57] + "..."
	}
	return fmt.Sprintf("%s %s %s", RenderStatusIcon(string(c.Status)), RenderID(c.ID), title)
}
