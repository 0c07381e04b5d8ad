package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/untoldecay/waggle/internal/types"
)

// RenderInboxTable renders an inbox listing for wag inbox. Unread entries
// are bold; urgent importance and pending acks get warning marks.
func RenderInboxTable(inbox *types.Inbox, width int) string {
	var sections []string

	header := fmt.Sprintf("📬 Inbox: %s (%d unread of %d)", inbox.Agent, inbox.Unread, inbox.Total)
	sections = append(sections, TableHeaderStyle.Render(header))
	sections = append(sections, "")

	if len(inbox.Entries) == 0 {
		sections = append(sections, TableHintStyle.Render("  Inbox empty."))
		return lipgloss.JoinVertical(lipgloss.Left, sections...)
	}

	maxSubjectWidth := width - 45
	if maxSubjectWidth < 10 {
		maxSubjectWidth = 10
	}

	rows := [][]string{}
	unread := map[int]bool{}
	for i, e := range inbox.Entries {
		mark := " "
		if !e.Read {
			mark = "●"
			unread[i] = true
		}
		flags := string(e.Importance)
		if e.AckRequired && !e.Acked {
			flags += " " + IconWarn + "ack"
		}
		subject := e.Subject
		if len(subject) > maxSubjectWidth {
			subject = subject[:maxSubjectWidth-3] + "..."
		}
		rows = append(rows, []string{
			mark,
			fmt.Sprintf("%d", e.ID),
			e.Sender,
			subject,
			flags,
			e.CreatedAt.Format("01-02 15:04"),
		})
	}

	t := table.New().
		Headers("", "ID", "From", "Subject", "Flags", "Sent").
		Border(lipgloss.RoundedBorder()).
		BorderStyle(TableBorderStyle).
		Width(width).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			style := lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Left)
			if unread[row] {
				style = style.Bold(true)
			}
			return style
		})
	sections = append(sections, t.String())

	if inbox.Truncated {
		sections = append(sections, TableHintStyle.Render("  (older messages truncated, raise --limit to see more)"))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// RenderAgentTable renders the swarm roster for wag agents.
func RenderAgentTable(agents []*types.Agent, width int) string {
	if len(agents) == 0 {
		return TableHintStyle.Render("No agents registered.")
	}

	rows := [][]string{}
	for _, a := range agents {
		program := a.Program
		if a.Model != "" {
			program = strings.TrimSpace(program + " " + a.Model)
		}
		rows = append(rows, []string{
			RenderAccent(a.Name),
			program,
			a.TaskInfo,
			humanizeSince(a.LastActiveAt),
		})
	}

	return table.New().
		Headers("Agent", "Program", "Task", "Last Active").
		Border(lipgloss.RoundedBorder()).
		BorderStyle(TableBorderStyle).
		Width(width).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			return lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Left)
		}).
		String()
}

// RenderReservationTable renders live path reservations for wag conflicts.
func RenderReservationTable(reservations []*types.Reservation, width int) string {
	if len(reservations) == 0 {
		return TableHintStyle.Render("No active reservations.")
	}

	rows := [][]string{}
	for _, r := range reservations {
		mode := "shared"
		if r.Exclusive {
			mode = "exclusive"
		}
		rows = append(rows, []string{
			r.PathPattern,
			RenderAccent(r.Agent),
			mode,
			humanizeUntil(r.ExpiresAt),
		})
	}

	return table.New().
		Headers("Path", "Held By", "Mode", "Expires").
		Border(lipgloss.RoundedBorder()).
		BorderStyle(TableBorderStyle).
		Width(width).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			style := lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Left)
			if col == 2 {
				style = style.Foreground(ColorWarn)
			}
			return style
		}).
		String()
}

// RenderConflictTable renders reservation conflicts returned by a reserve
// call: which paths overlap and who holds them.
func RenderConflictTable(conflicts []*types.ReservationConflict, width int) string {
	title := fmt.Sprintf("⚠ Reservation conflicts (%d)", len(conflicts))

	if len(conflicts) == 0 {
		return table.New().
			Headers("Reservations").
			Rows([]string{"(No conflicts)"}).
			Border(lipgloss.RoundedBorder()).
			BorderStyle(TableBorderStyle).
			Width(width).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return TableHeaderStyle.Width(width - 2)
				}
				return lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Left).Foreground(ColorMuted)
			}).
			String()
	}

	rows := [][]string{}
	for _, c := range conflicts {
		rows = append(rows, []string{
			c.Path,
			strings.Join(c.Holders, ", "),
			strings.Join(c.Patterns, ", "),
		})
	}

	return table.New().
		Headers(title, "Holders", "Patterns").
		Rows(rows...).
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorWarn)).
		Width(width).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			style := lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Left)
			if col == 1 {
				style = style.Foreground(ColorWarn)
			}
			return style
		}).
		String()
}

// humanizeSince renders a past timestamp as a compact age ("3m ago").
func humanizeSince(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return compactDuration(time.Since(t)) + " ago"
}

// humanizeUntil renders a future timestamp as a compact countdown ("in 42s").
func humanizeUntil(t time.Time) string {
	d := time.Until(t)
	if d <= 0 {
		return "expired"
	}
	return "in " + compactDuration(d)
}

func compactDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
