// Package ui provides terminal styling and output helpers for the wag CLI.
// Uses the Ayu color theme with adaptive light/dark mode support.
package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/untoldecay/waggle/internal/types"
)

// Ayu theme color palette
// Dark: https://terminalcolors.com/themes/ayu/dark/
// Light: https://terminalcolors.com/themes/ayu/light/
var (
	ColorPass = lipgloss.AdaptiveColor{
		Light: "#86b300", // ayu light bright green
		Dark:  "#c2d94c", // ayu dark bright green
	}
	ColorWarn = lipgloss.AdaptiveColor{
		Light: "#f2ae49", // ayu light bright yellow
		Dark:  "#ffb454", // ayu dark bright yellow
	}
	ColorFail = lipgloss.AdaptiveColor{
		Light: "#f07171", // ayu light bright red
		Dark:  "#f07178", // ayu dark bright red
	}
	ColorMuted = lipgloss.AdaptiveColor{
		Light: "#828c99", // ayu light muted
		Dark:  "#6c7680", // ayu dark muted
	}
	ColorAccent = lipgloss.AdaptiveColor{
		Light: "#399ee6", // ayu light bright blue
		Dark:  "#59c2ff", // ayu dark bright blue
	}
)

// Base styles - consistent across all commands
var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	BoldStyle   = lipgloss.NewStyle().Bold(true)
)

// Cell status styles
var (
	StatusOpenStyle       = lipgloss.NewStyle().Foreground(ColorAccent)
	StatusInProgressStyle = lipgloss.NewStyle().Foreground(ColorWarn)
	StatusBlockedStyle    = lipgloss.NewStyle().Foreground(ColorFail)
	StatusClosedStyle     = lipgloss.NewStyle().Foreground(ColorPass)
	StatusTombstoneStyle  = lipgloss.NewStyle().Foreground(ColorMuted).Strikethrough(true)
)

// Cell type styles
var (
	TypeEpicStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	TypeBugStyle  = lipgloss.NewStyle().Foreground(ColorFail)
)

// Status icons - consistent semantic indicators
const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
	IconInfo = "ℹ"
)

// Separators
const SeparatorLight = "──────────────────────────────────────────"

// RenderPass renders text with pass (green) styling
func RenderPass(s string) string {
	return PassStyle.Render(s)
}

// RenderWarn renders text with warning (yellow) styling
func RenderWarn(s string) string {
	return WarnStyle.Render(s)
}

// RenderFail renders text with fail (red) styling
func RenderFail(s string) string {
	return FailStyle.Render(s)
}

// RenderMuted renders text with muted (gray) styling
func RenderMuted(s string) string {
	return MutedStyle.Render(s)
}

// RenderAccent renders text with accent (blue) styling
func RenderAccent(s string) string {
	return AccentStyle.Render(s)
}

// RenderBold renders text in bold
func RenderBold(s string) string {
	return BoldStyle.Render(s)
}

// RenderID renders a cell or memory id with accent styling
func RenderID(s string) string {
	return AccentStyle.Render(s)
}

// RenderCommand renders a wag command suggestion with accent styling
func RenderCommand(s string) string {
	return AccentStyle.Render(s)
}

// RenderSeparator renders the light separator line in muted color
func RenderSeparator() string {
	return MutedStyle.Render(SeparatorLight)
}

// RenderPassIcon renders the pass icon with styling
func RenderPassIcon() string {
	return PassStyle.Render(IconPass)
}

// RenderWarnIcon renders the warning icon with styling
func RenderWarnIcon() string {
	return WarnStyle.Render(IconWarn)
}

// RenderFailIcon renders the fail icon with styling
func RenderFailIcon() string {
	return FailStyle.Render(IconFail)
}

// RenderInfoIcon renders the info icon with styling
func RenderInfoIcon() string {
	return AccentStyle.Render(IconInfo)
}

// GetStatusIcon returns the unstyled icon for a cell status.
func GetStatusIcon(status string) string {
	switch types.Status(status) {
	case types.StatusOpen:
		return "○"
	case types.StatusInProgress:
		return "◐"
	case types.StatusBlocked:
		return "⊘"
	case types.StatusClosed:
		return "●"
	case types.StatusTombstone:
		return "✗"
	default:
		return "·"
	}
}

// GetStatusStyle returns the style for a cell status.
func GetStatusStyle(status string) lipgloss.Style {
	switch types.Status(status) {
	case types.StatusOpen:
		return StatusOpenStyle
	case types.StatusInProgress:
		return StatusInProgressStyle
	case types.StatusBlocked:
		return StatusBlockedStyle
	case types.StatusClosed:
		return StatusClosedStyle
	case types.StatusTombstone:
		return StatusTombstoneStyle
	default:
		return MutedStyle
	}
}

// RenderStatus renders a status word in its semantic color.
func RenderStatus(status string) string {
	return GetStatusStyle(status).Render(status)
}

// RenderStatusIcon renders the status icon in its semantic color.
func RenderStatusIcon(status string) string {
	return GetStatusStyle(status).Render(GetStatusIcon(status))
}

// RenderPriority renders a P0-P4 priority tag. P0 and P1 are urgent (red),
// P2 is elevated (yellow), the rest are muted.
func RenderPriority(priority int) string {
	tag := fmt.Sprintf("P%d", priority)
	switch {
	case priority <= 1:
		return FailStyle.Render(tag)
	case priority == 2:
		return WarnStyle.Render(tag)
	default:
		return MutedStyle.Render(tag)
	}
}

// RenderType renders a cell type tag. Epics and bugs stand out; the
// remaining types stay muted.
func RenderType(cellType string) string {
	switch types.CellType(cellType) {
	case types.TypeEpic:
		return TypeEpicStyle.Render(cellType)
	case types.TypeBug:
		return TypeBugStyle.Render(cellType)
	default:
		return MutedStyle.Render(cellType)
	}
}
