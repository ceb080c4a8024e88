package ui

import (
	"sort"

	"github.com/charmbracelet/lipgloss"
)

// Theme styles the now-playing screen.
type Theme struct {
	Name     string
	Accent   lipgloss.Style
	Dim      lipgloss.Style
	Text     lipgloss.Style
	Title    lipgloss.Style
	Error    lipgloss.Style
	Liked    lipgloss.Style
	Progress lipgloss.Style
	Border   lipgloss.Style
}

var themeRegistry = map[string]func() Theme{
	"rainbow": Rainbow,
	"mono":    Monochrome,
	"amber":   Amber,
	"nocolor": NoColor,
}

// ThemeNames returns the available theme names in sorted order.
func ThemeNames() []string {
	names := make([]string, 0, len(themeRegistry))
	for name := range themeRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetTheme returns a theme by name, falling back to Rainbow. noColor wins
// over the name.
func GetTheme(name string, noColor bool) Theme {
	if noColor {
		return NoColor()
	}
	if fn, ok := themeRegistry[name]; ok {
		return fn()
	}
	return Rainbow()
}

func ValidTheme(name string) bool {
	_, ok := themeRegistry[name]
	return ok
}

func Rainbow() Theme {
	return Theme{
		Name:     "rainbow",
		Accent:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6FF7")),
		Dim:      lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6F93")),
		Text:     lipgloss.NewStyle().Foreground(lipgloss.Color("#E6E6FA")),
		Title:    lipgloss.NewStyle().Foreground(lipgloss.Color("#8EEBFF")).Bold(true),
		Error:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F56")).Bold(true),
		Liked:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4F81")).Bold(true),
		Progress: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD166")),
		Border:   lipgloss.NewStyle().Foreground(lipgloss.Color("#7C7CFF")),
	}
}

func Monochrome() Theme {
	return Theme{
		Name:     "mono",
		Accent:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Bold(true),
		Dim:      lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),
		Text:     lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC")),
		Title:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Bold(true),
		Error:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Bold(true).Underline(true),
		Liked:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Bold(true),
		Progress: lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA")),
		Border:   lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
	}
}

// Amber mimics an old amber phosphor terminal.
func Amber() Theme {
	bright := lipgloss.Color("#FFB000")
	medium := lipgloss.Color("#CC8C00")
	dark := lipgloss.Color("#664600")
	return Theme{
		Name:     "amber",
		Accent:   lipgloss.NewStyle().Foreground(bright).Bold(true),
		Dim:      lipgloss.NewStyle().Foreground(dark),
		Text:     lipgloss.NewStyle().Foreground(medium),
		Title:    lipgloss.NewStyle().Foreground(bright).Bold(true),
		Error:    lipgloss.NewStyle().Foreground(bright).Bold(true).Reverse(true),
		Liked:    lipgloss.NewStyle().Foreground(bright).Bold(true),
		Progress: lipgloss.NewStyle().Foreground(medium),
		Border:   lipgloss.NewStyle().Foreground(dark),
	}
}

// NoColor uses only bold and reverse, for NO_COLOR environments.
func NoColor() Theme {
	reset := lipgloss.NewStyle()
	return Theme{
		Name:     "nocolor",
		Accent:   reset.Bold(true),
		Dim:      reset,
		Text:     reset,
		Title:    reset.Bold(true),
		Error:    reset.Bold(true),
		Liked:    reset.Bold(true),
		Progress: reset,
		Border:   reset,
	}
}

// Glyphs are the status symbols shown next to the track.
type Glyphs struct {
	Playing string
	Paused  string
	Loading string
	Liked   string
	Error   string
}

func GetGlyphs(noEmoji bool) Glyphs {
	if noEmoji {
		return Glyphs{Playing: ">", Paused: "||", Loading: "...", Liked: "<3", Error: "!"}
	}
	return Glyphs{Playing: "▶", Paused: "⏸", Loading: "⏳", Liked: "♥", Error: "⚠"}
}
