package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/untoldecay/waggle/internal/types"
)

// RenderMemoryHits renders ranked memory search results with their decayed
// scores for wag mem search.
func RenderMemoryHits(query string, results []*types.MemorySearchResult, width int) string {
	var sections []string

	header := fmt.Sprintf("🔍 Memory search: %q", query)
	sections = append(sections, TableHeaderStyle.Render(header))
	sections = append(sections, "")

	if len(results) == 0 {
		sections = append(sections, TableWarningStyle.Render("  ⚠ No memories matched."))
		sections = append(sections, TableHintStyle.Render("  Try a broader query, or lower --min-score."))
		return lipgloss.JoinVertical(lipgloss.Left, sections...)
	}

	maxInfoWidth := width - 38
	if maxInfoWidth < 10 {
		maxInfoWidth = 10
	}

	rows := [][]string{}
	for i, r := range results {
		info := r.Memory.Information
		if len(info) > maxInfoWidth {
			info = info[:maxInfoWidth-3] + "..."
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d.", i+1),
			fmt.Sprintf("%.2f", r.Score),
			RenderID(r.Memory.ID),
			info,
			r.MatchedVia,
		})
	}

	t := table.New().
		Headers("", "Score", "ID", "Information", "Via").
		Border(lipgloss.RoundedBorder()).
		BorderStyle(TableBorderStyle).
		Width(width).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			style := lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Left)
			switch col {
			case 1:
				style = style.Foreground(ColorPass)
			case 4:
				style = style.Foreground(ColorMuted)
			}
			return style
		})
	sections = append(sections, t.String())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// RenderMemoryLinks renders the auto-linked neighbors of a memory as a
// single-column table, for wag mem get and wag mem chain.
func RenderMemoryLinks(title string, links []string, width int) string {
	if len(links) == 0 {
		return ""
	}

	rows := [][]string{}
	for i, l := range links {
		rows = append(rows, []string{fmt.Sprintf("%d. %s", i+1, l)})
	}

	return table.New().
		Headers(title).
		Border(lipgloss.RoundedBorder()).
		BorderStyle(TableBorderStyle).
		Width(width).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle.Width(width - 2)
			}
			return lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Left)
		}).
		String()
}
