// Package theme holds the terminal color palette and the pre-built styles the
// CLI renders tasks with.
package theme

import (
	"strings"
	"sync"

	"charm.land/glamour/v2"
	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/x/ansi"
)

// Theme defines the color palette.
type Theme struct {
	Name string

	Primary   string
	Secondary string

	FgMuted string
	FgBase  string
	BgBase  string

	Success string
	Warning string
	Error   string
	Info    string

	styles     *Styles
	stylesOnce sync.Once
}

// Styles contains the pre-built lipgloss styles for this theme.
type Styles struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Failure lipgloss.Style
	Badge   lipgloss.Style
}

// NewCatppuccinMocha creates the default Catppuccin Mocha theme.
func NewCatppuccinMocha() *Theme {
	return &Theme{
		Name:      "catppuccin-mocha",
		Primary:   "#cba6f7", // Mauve
		Secondary: "#89b4fa", // Blue
		FgMuted:   "#6c7086",
		FgBase:    "#cdd6f4",
		BgBase:    "#1e1e2e",
		Success:   "#a6e3a1",
		Warning:   "#f9e2af",
		Error:     "#f38ba8",
		Info:      "#89dceb",
	}
}

// S returns the pre-built styles. Styles are built on first use.
func (t *Theme) S() *Styles {
	t.stylesOnce.Do(func() {
		t.styles = &Styles{
			Title:   lipgloss.NewStyle().Foreground(lipgloss.Color(t.Primary)).Bold(true),
			Label:   lipgloss.NewStyle().Foreground(lipgloss.Color(t.Secondary)).Bold(true),
			Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color(t.FgMuted)),
			Success: lipgloss.NewStyle().Foreground(lipgloss.Color(t.Success)),
			Failure: lipgloss.NewStyle().Foreground(lipgloss.Color(t.Error)),
			Badge:   lipgloss.NewStyle().Foreground(lipgloss.Color(t.BgBase)).Bold(true).Padding(0, 1),
		}
	})
	return t.styles
}

// PhaseColor maps a task phase to a palette color.
func (t *Theme) PhaseColor(phase string) string {
	switch phase {
	case "completed":
		return t.Success
	case "failed", "rejected":
		return t.Error
	case "stopped", "awaiting_approval":
		return t.Warning
	case "executing", "planning":
		return t.Info
	default:
		return t.FgMuted
	}
}

// PhaseBadge renders phase as a colored badge.
func (t *Theme) PhaseBadge(phase string) string {
	return t.S().Badge.Background(lipgloss.Color(t.PhaseColor(phase))).Render(strings.ReplaceAll(phase, "_", " "))
}

// ApplyGradient colors each rune of text along a gradient from colorA to colorB.
func ApplyGradient(text, colorA, colorB string) string {
	runes := []rune(text)
	if len(runes) == 0 {
		return ""
	}
	var b strings.Builder
	for i, r := range runes {
		pos := 0.0
		if len(runes) > 1 {
			pos = float64(i) / float64(len(runes)-1)
		}
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(InterpolateColor(colorA, colorB, pos))).Render(string(r)))
	}
	return b.String()
}

// RenderMarkdown renders markdown for the terminal without the blank margin
// lines glamour adds around the document. Falls back to the plain text if
// rendering fails.
func RenderMarkdown(content string, width int) string {
	if width <= 0 || width > 120 {
		width = 120
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}
	rendered, err := r.Render(content)
	if err != nil {
		return content
	}
	lines := strings.Split(rendered, "\n")
	for len(lines) > 0 && blank(lines[0]) {
		lines = lines[1:]
	}
	for len(lines) > 0 && blank(lines[len(lines)-1]) {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

func blank(line string) bool {
	return strings.TrimSpace(ansi.Strip(line)) == ""
}
