// Package theme holds the Lip Gloss palette for the status view.
package theme

import "github.com/charmbracelet/lipgloss"

var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
	ColorPlaying = lipgloss.Color("#3b82f6")
)

var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)
)

// PauseGlyph renders mpv's pause property.
func PauseGlyph(pause string) string {
	switch pause {
	case "yes":
		return lipgloss.NewStyle().Foreground(ColorWarning).Render("❚❚ paused")
	case "no":
		return lipgloss.NewStyle().Foreground(ColorPlaying).Render("▶ playing")
	default:
		return StyleDimmed.Render("· unknown")
	}
}
