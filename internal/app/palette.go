package app

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/sahilm/fuzzy"
)

const paletteRows = 8

// PaletteState is the fuzzy command palette overlay.
type PaletteState struct {
	input    []rune
	matches  fuzzy.Matches
	selected int
	registry *CommandRegistry
}

func NewPaletteState(registry *CommandRegistry) *PaletteState {
	return &PaletteState{registry: registry}
}

func (p *PaletteState) Input() string { return string(p.input) }

func (p *PaletteState) InsertChar(ch rune) {
	p.input = append(p.input, ch)
	p.updateMatches()
}

func (p *PaletteState) Backspace() {
	if len(p.input) == 0 {
		return
	}
	p.input = p.input[:len(p.input)-1]
	p.updateMatches()
}

func (p *PaletteState) SelectUp() {
	if p.selected > 0 {
		p.selected--
	}
}

func (p *PaletteState) SelectDown() {
	if p.selected < p.visibleCount()-1 {
		p.selected++
	}
}

func (p *PaletteState) visibleCount() int {
	if len(p.input) == 0 {
		return len(p.registry.commands)
	}
	return len(p.matches)
}

// SelectedCommand returns the highlighted command, or nil when nothing
// matches.
func (p *PaletteState) SelectedCommand() *Command {
	if len(p.input) == 0 {
		if p.selected < len(p.registry.commands) {
			return &p.registry.commands[p.selected]
		}
		return nil
	}
	if p.selected < len(p.matches) {
		return &p.registry.commands[p.matches[p.selected].Index]
	}
	return nil
}

func (p *PaletteState) updateMatches() {
	p.selected = 0
	if len(p.input) == 0 {
		p.matches = nil
		return
	}
	p.matches = fuzzy.Find(string(p.input), p.registry.SearchableNames())
}

func (p *PaletteState) Render(m *Model) string {
	var b strings.Builder
	b.WriteString(m.theme.Title.Render("Commands") + "\n")
	b.WriteString(m.theme.Border.Render("> ") + string(p.input) + "│\n\n")

	type row struct {
		cmd     Command
		matched []int
	}
	var rows []row
	if len(p.input) == 0 {
		for _, c := range p.registry.commands {
			rows = append(rows, row{cmd: c})
		}
	} else {
		for _, match := range p.matches {
			rows = append(rows, row{cmd: p.registry.commands[match.Index], matched: match.MatchedIndexes})
		}
	}
	if len(rows) == 0 {
		b.WriteString(m.theme.Dim.Render("  No matching commands") + "\n")
	}

	start := 0
	if p.selected >= paletteRows {
		start = p.selected - paletteRows + 1
	}
	end := min(start+paletteRows, len(rows))
	for i := start; i < end; i++ {
		r := rows[i]
		name := highlightMatches(r.cmd.Name, r.matched, m.theme.Accent)
		prefix := "  "
		if i == p.selected {
			prefix = m.theme.Accent.Render("▸ ")
		}
		line := prefix + name
		if r.cmd.Keybinding != "" {
			line += m.theme.Dim.Render(" [" + r.cmd.Keybinding + "]")
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\n" + m.theme.Dim.Render("↑↓ select  enter run  esc close"))

	box := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1).Render(b.String())
	if m.width == 0 || m.height == 0 {
		return box
	}
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

// highlightMatches styles the matched byte offsets of s.
func highlightMatches(s string, indices []int, style lipgloss.Style) string {
	if len(indices) == 0 {
		return s
	}
	hit := make(map[int]bool, len(indices))
	for _, idx := range indices {
		hit[idx] = true
	}
	var out strings.Builder
	for i, ch := range s {
		if hit[i] {
			out.WriteString(style.Render(string(ch)))
		} else {
			out.WriteRune(ch)
		}
	}
	return out.String()
}
