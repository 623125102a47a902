// Package ui provides terminal styling for pmx CLI output.
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/planmux/planmux/internal/types"
)

// Semantic status colors (adaptive light/dark)
var (
	ColorPass = lipgloss.AdaptiveColor{
		Light: "#86b300",
		Dark:  "#c2d94c",
	}
	ColorWarn = lipgloss.AdaptiveColor{
		Light: "#f2ae49",
		Dark:  "#ffb454",
	}
	ColorFail = lipgloss.AdaptiveColor{
		Light: "#f07171",
		Dark:  "#f07178",
	}
	ColorMuted = lipgloss.AdaptiveColor{
		Light: "#828c99",
		Dark:  "#6c7680",
	}
	ColorAccent = lipgloss.AdaptiveColor{
		Light: "#399ee6",
		Dark:  "#59c2ff",
	}
)

// Status styles - consistent across all commands
var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
)

// CategoryStyle for section headers - bold with accent color
var CategoryStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)

// Status icons
const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
	IconSkip = "-"
)

// RenderStatus renders a task status with its semantic color.
func RenderStatus(s types.Status) string {
	if !ShouldUseColor() {
		return string(s)
	}
	switch s {
	case types.StatusCompleted:
		return PassStyle.Render(string(s))
	case types.StatusBlocked:
		return FailStyle.Render(string(s))
	case types.StatusClaimed, types.StatusInProgress:
		return WarnStyle.Render(string(s))
	default:
		return MutedStyle.Render(string(s))
	}
}

// RenderPass renders text with pass (green) styling
func RenderPass(s string) string {
	if !ShouldUseColor() {
		return s
	}
	return PassStyle.Render(s)
}

// RenderFail renders text with fail (red) styling
func RenderFail(s string) string {
	if !ShouldUseColor() {
		return s
	}
	return FailStyle.Render(s)
}

// RenderMuted renders text with muted (gray) styling
func RenderMuted(s string) string {
	if !ShouldUseColor() {
		return s
	}
	return MutedStyle.Render(s)
}

// RenderCategory renders a section header in uppercase with accent color
func RenderCategory(s string) string {
	if !ShouldUseColor() {
		return strings.ToUpper(s)
	}
	return CategoryStyle.Render(strings.ToUpper(s))
}
