package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	statusBoxStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorMuted).
		Padding(0, 1).
		Margin(1, 0)

	statusTitleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorAccent)

	statusSectionStyle = lipgloss.NewStyle().
		Border(lipgloss.NormalBorder(), true, false, false, false).
		BorderForeground(ColorMuted)
)

// StatusViewModel holds data for rendering the wag status box.
type StatusViewModel struct {
	Actor              string
	ProjectKey         string
	DBPath             string
	EmbedderReady      bool
	EmbedModel         string
	OpenCells          int
	UnreadMail         int
	ActiveReservations int
	PendingDeferreds   int
	Warnings           []string
}

// RenderStatusBox renders the swarm status summary box.
func RenderStatusBox(vm StatusViewModel) string {
	var sections []string

	header := fmt.Sprintf("🐝 waggle · %s @ %s", vm.Actor, vm.ProjectKey)
	sections = append(sections, statusTitleStyle.Render(header))

	var lines []string
	lines = append(lines, fmt.Sprintf("Store: %s", vm.DBPath))

	if vm.EmbedderReady {
		lines = append(lines, fmt.Sprintf("%s Embedder ready (%s)", RenderPassIcon(), vm.EmbedModel))
	} else {
		lines = append(lines, fmt.Sprintf("%s Embedder offline, memory search degrades to keyword match", RenderWarnIcon()))
	}

	lines = append(lines, fmt.Sprintf("Open cells: %d  ·  Unread mail: %d  ·  Reservations: %d  ·  Deferred: %d",
		vm.OpenCells, vm.UnreadMail, vm.ActiveReservations, vm.PendingDeferreds))

	for _, w := range vm.Warnings {
		lines = append(lines, RenderWarn(IconWarn+" "+w))
	}

	sections = append(sections, statusSectionStyle.Render(strings.Join(lines, "\n")))

	return statusBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}
