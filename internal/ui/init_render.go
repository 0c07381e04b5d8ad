package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/list"
	"github.com/charmbracelet/lipgloss/table"
)

// InitResult aggregates all information from wag init for rendering.
type InitResult struct {
	DBPath        string
	ProjectKey    string
	Actor         string
	ConfigPath    string
	ConfigCreated bool

	// Non-empty when a legacy project-local store was relocated; holds
	// the backup filename left behind.
	LegacyBackup string

	QuickstartCommands []string
}

// RenderInitReport generates the Lipgloss report for the init command.
func RenderInitReport(res InitResult, width int) string {
	var sections []string

	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorPass).
		Render("✓ waggle initialized")
	sections = append(sections, header, "")

	// Progress list with checkmarks
	l := list.New().
		Enumerator(func(_ list.Items, i int) string {
			return RenderPass("✓")
		}).
		EnumeratorStyle(lipgloss.NewStyle().MarginRight(1))

	if res.ConfigCreated {
		l.Item("Config scaffold written: " + res.ConfigPath)
	} else {
		l.Item("Config found: " + res.ConfigPath)
	}
	l.Item("Store ready: " + res.DBPath)
	if res.LegacyBackup != "" {
		l.Item("Legacy store relocated (backup: " + res.LegacyBackup + ")")
	}

	sections = append(sections, l.String(), "")

	// Summary table
	detailsRows := [][]string{
		{"Database", res.DBPath},
		{"Project", res.ProjectKey},
		{"Actor", res.Actor},
		{"Cell IDs", res.ProjectKey + "-<hash>"},
	}

	summaryTable := table.New().
		Headers("Component", "Configuration").
		Rows(detailsRows...).
		Border(lipgloss.RoundedBorder()).
		BorderStyle(TableBorderStyle).
		Width(width).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				if col == 0 {
					return TableHeaderStyle.Width(20)
				}
				return TableHeaderStyle.Width(width - 20 - 3)
			}
			style := lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Left)
			if col == 0 {
				style = style.Bold(true).Foreground(ColorAccent)
			}
			return style
		})

	sections = append(sections, summaryTable.String(), "")

	// Next steps
	if len(res.QuickstartCommands) > 0 {
		sections = append(sections, lipgloss.NewStyle().Bold(true).Render("Next Steps:"))
		for _, cmd := range res.QuickstartCommands {
			sections = append(sections, "  • "+RenderCommand(cmd))
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
