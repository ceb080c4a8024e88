// Package app is the terminal now-playing screen for a station.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/olaradio/olaradio/internal/artwork"
	"github.com/olaradio/olaradio/internal/player"
	"github.com/olaradio/olaradio/internal/track"
	"github.com/olaradio/olaradio/internal/ui"
)

// Controller is the part of player.Controller the screen drives.
type Controller interface {
	Updates() <-chan player.Update
	Play(ctx context.Context) error
	Toggle(ctx context.Context) error
	Skip(ctx context.Context) error
	Like(ctx context.Context) error
	Dislike(ctx context.Context) error
	Seek(deltaSeconds float64) error
	SetVolume(delta float64) error
	Lyrics(ctx context.Context) (string, error)
}

// Artwork renders cover images for the now-playing panel.
type Artwork interface {
	Render(ctx context.Context, url string, width, height int) (string, error)
}

const (
	artCols = 20
	artRows = 10
)

type Options struct {
	StationID   string
	Theme       ui.Theme
	Glyphs      ui.Glyphs
	VolumeStep  int
	SeekSeconds int
	// Autoplay starts the station as soon as the screen opens.
	Autoplay bool
	// CommandTimeout bounds each station command.
	CommandTimeout time.Duration
	// Artwork is optional; without it no cover is drawn.
	Artwork Artwork
}

type Model struct {
	ctrl  Controller
	opts  Options
	theme ui.Theme

	last       player.Update
	status     string
	errorMsg   string
	lyrics     string
	art        string
	showLyrics bool
	showHelp   bool
	palette    *PaletteState
	registry   *CommandRegistry
	width      int
	height     int
}

func New(ctrl Controller, opts Options) Model {
	if opts.VolumeStep <= 0 {
		opts.VolumeStep = 5
	}
	if opts.SeekSeconds <= 0 {
		opts.SeekSeconds = 10
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 2 * time.Minute
	}
	if opts.Theme.Name == "" {
		opts.Theme = ui.Rainbow()
	}
	if opts.Glyphs.Playing == "" {
		opts.Glyphs = ui.GetGlyphs(false)
	}
	m := Model{
		ctrl:   ctrl,
		opts:   opts,
		theme:  opts.Theme,
		status: "Press space to start the station",
	}
	m.registry = NewCommandRegistry(opts)
	return m
}

type updateMsg player.Update

type errMsg struct{ err error }

type lyricsMsg struct {
	text string
	err  error
}

type artworkMsg struct {
	playID string
	art    string
}

type clearErrorMsg struct{}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.watchUpdatesCmd()}
	if m.opts.Autoplay {
		cmds = append(cmds, m.runCmd(m.ctrl.Play))
	}
	return tea.Batch(cmds...)
}

func (m Model) watchUpdatesCmd() tea.Cmd {
	updates := m.ctrl.Updates()
	return func() tea.Msg {
		u, ok := <-updates
		if !ok {
			return nil
		}
		return updateMsg(u)
	}
}

// runCmd runs a blocking station command off the UI goroutine.
func (m Model) runCmd(fn func(context.Context) error) tea.Cmd {
	timeout := m.opts.CommandTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			return errMsg{err: err}
		}
		return nil
	}
}

func (m Model) lyricsCmd() tea.Cmd {
	timeout := m.opts.CommandTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		text, err := m.ctrl.Lyrics(ctx)
		return lyricsMsg{text: text, err: err}
	}
}

func (m Model) artworkCmd(playID, url string) tea.Cmd {
	art := m.opts.Artwork
	timeout := m.opts.CommandTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		text, err := art.Render(ctx, url, artCols, artRows)
		if err != nil {
			return nil
		}
		return artworkMsg{playID: playID, art: text}
	}
}

func (m Model) clearErrorCmd() tea.Cmd {
	return tea.Tick(4*time.Second, func(time.Time) tea.Msg {
		return clearErrorMsg{}
	})
}

func (m Model) setError(err error) (Model, tea.Cmd) {
	m.errorMsg = player.Describe(err)
	return m, m.clearErrorCmd()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil
	case updateMsg:
		prevID := trackID(m.last.Track)
		m.last = player.Update(msg)
		if m.last.Message != "" {
			m.status = m.last.Message
		} else if m.last.State == player.StatePlaying {
			m.status = ""
		}
		cmds := []tea.Cmd{m.watchUpdatesCmd()}
		if id := trackID(m.last.Track); id != prevID {
			m.lyrics = ""
			m.art = ""
			if m.showLyrics && id != "" {
				cmds = append(cmds, m.lyricsCmd())
			}
			if m.opts.Artwork != nil && id != "" && m.last.Track.ArtworkURL != "" {
				cmds = append(cmds, m.artworkCmd(id, m.last.Track.ArtworkURL))
			}
		}
		return m, tea.Batch(cmds...)
	case artworkMsg:
		if msg.playID == trackID(m.last.Track) {
			m.art = msg.art
		}
		return m, nil
	case errMsg:
		if errors.Is(msg.err, context.Canceled) {
			return m, nil
		}
		return m.setError(msg.err)
	case lyricsMsg:
		if msg.err != nil {
			m.lyrics = ""
			return m.setError(msg.err)
		}
		m.lyrics = msg.text
		return m, nil
	case clearErrorMsg:
		m.errorMsg = ""
		return m, nil
	case tea.KeyMsg:
		if m.palette != nil {
			return m.handlePaletteKey(msg)
		}
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "?":
		m.showHelp = !m.showHelp
		return m, nil
	case "esc":
		m.showHelp = false
		m.showLyrics = false
		return m, nil
	case "ctrl+p", ":":
		m.palette = NewPaletteState(m.registry)
		return m, nil
	}
	if cmd := m.registry.ByKey(msg.String()); cmd != nil {
		return cmd.Handler(&m)
	}
	return m, nil
}

func (m Model) handlePaletteKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc, tea.KeyCtrlC:
		m.palette = nil
		return m, nil
	case tea.KeyEnter:
		cmd := m.palette.SelectedCommand()
		m.palette = nil
		if cmd == nil {
			return m, nil
		}
		return cmd.Handler(&m)
	case tea.KeyUp:
		m.palette.SelectUp()
	case tea.KeyDown:
		m.palette.SelectDown()
	case tea.KeyBackspace:
		m.palette.Backspace()
	case tea.KeyRunes, tea.KeySpace:
		for _, r := range msg.Runes {
			m.palette.InsertChar(r)
		}
	}
	return m, nil
}

func (m Model) toggleLyrics() (Model, tea.Cmd) {
	m.showLyrics = !m.showLyrics
	if m.showLyrics && m.lyrics == "" && m.last.Track != nil {
		return m, m.lyricsCmd()
	}
	return m, nil
}

func (m Model) adjustVolume(delta float64) (Model, tea.Cmd) {
	if err := m.ctrl.SetVolume(delta); err != nil {
		return m.setError(err)
	}
	return m, nil
}

func (m Model) seek(delta float64) (Model, tea.Cmd) {
	if err := m.ctrl.Seek(delta); err != nil {
		return m.setError(err)
	}
	return m, nil
}

func trackID(s *track.Snapshot) string {
	if s == nil {
		return ""
	}
	return s.PlayID
}

func (m Model) View() string {
	if m.palette != nil {
		return m.palette.Render(&m)
	}
	if m.showHelp {
		return m.renderHelp()
	}
	station := m.opts.StationID
	if station == "" {
		station = "radio"
	}
	top := m.theme.Title.Render("olaradio ▸ " + station)
	main := m.renderNowPlaying()
	if m.showLyrics {
		main = lipgloss.JoinVertical(lipgloss.Left, main, m.renderLyrics())
	}
	status := m.theme.Dim.Render(m.status)
	if m.errorMsg != "" {
		status = m.theme.Error.Render(m.opts.Glyphs.Error + " " + m.errorMsg)
	}
	help := m.theme.Dim.Render("space play/pause · n skip · l like · d dislike · y lyrics · ? help · q quit")
	return lipgloss.JoinVertical(lipgloss.Left, top, "", main, "", status, help)
}

func (m Model) stateGlyph() string {
	switch m.last.State {
	case player.StatePlaying:
		return m.opts.Glyphs.Playing
	case player.StatePaused:
		return m.opts.Glyphs.Paused
	case player.StateLoading:
		return m.opts.Glyphs.Loading
	case player.StateError:
		return m.opts.Glyphs.Error
	default:
		return " "
	}
}

func (m Model) renderNowPlaying() string {
	var b strings.Builder
	tr := m.last.Track
	if tr == nil {
		if m.last.State == player.StateLoading {
			b.WriteString(m.theme.Dim.Render(m.opts.Glyphs.Loading+" Tuning in…") + "\n")
		} else {
			b.WriteString(m.theme.Dim.Render("Nothing playing") + "\n")
		}
	} else {
		title := m.theme.Accent.Render(tr.Title)
		if tr.Liked {
			title += " " + m.theme.Liked.Render(m.opts.Glyphs.Liked)
		}
		b.WriteString(m.stateGlyph() + " " + title + "\n")
		b.WriteString("  " + m.theme.Text.Render(tr.Artist) + "\n")
		if tr.Album != "" {
			b.WriteString("  " + m.theme.Dim.Render(tr.Album) + "\n")
		}
		b.WriteString("\n")
		b.WriteString("  " + m.theme.Progress.Render(progressBar(m.last.Position, tr.Duration, m.barWidth())) + "\n")
		b.WriteString("  " + m.theme.Dim.Render(fmt.Sprintf("%s / %s", formatDuration(m.last.Position), formatDuration(tr.Duration))))
		b.WriteString(m.theme.Dim.Render(fmt.Sprintf("   Vol: %.0f%%", m.last.Volume)) + "\n")
	}

	b.WriteString("\n" + m.theme.Title.Render("Up Next") + "\n")
	if next := m.last.UpNext; next != nil {
		b.WriteString("  " + m.theme.Text.Render(fmt.Sprintf("%s - %s", next.Artist, next.Title)) + "\n")
	} else {
		b.WriteString("  " + m.theme.Dim.Render("(choosing…)") + "\n")
	}
	if m.opts.Artwork == nil {
		return b.String()
	}
	cover := m.art
	if cover == "" {
		cover = m.theme.Dim.Render(artwork.Placeholder(artCols, artRows))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cover, "  ", b.String())
}

func (m Model) renderLyrics() string {
	head := m.theme.Title.Render("Lyrics")
	if m.lyrics == "" {
		return head + "\n" + m.theme.Dim.Render("  (loading…)")
	}
	width := m.width - 4
	if width < 20 {
		width = 60
	}
	return head + "\n" + m.theme.Text.Render(wordwrap.String(m.lyrics, width))
}

func (m Model) renderHelp() string {
	lines := []string{m.theme.Title.Render("Help"), ""}
	for _, cmd := range m.registry.Commands() {
		key := cmd.Keybinding
		if key == " " {
			key = "space"
		}
		lines = append(lines, fmt.Sprintf("  %-8s %s", key, cmd.Description))
	}
	lines = append(lines,
		fmt.Sprintf("  %-8s %s", "ctrl+p", "Open the command palette"),
		fmt.Sprintf("  %-8s %s", "?", "Toggle help"),
		fmt.Sprintf("  %-8s %s", "q", "Quit"),
	)
	return strings.Join(lines, "\n")
}

func (m Model) barWidth() int {
	w := m.width - 4
	if m.opts.Artwork != nil {
		w -= artCols + 2
	}
	if w < 10 {
		return 40
	}
	return w
}

func progressBar(pos, total, width int) string {
	filled := 0
	if total > 0 {
		filled = width * min(pos, total) / total
	}
	return strings.Repeat("━", filled) + strings.Repeat("─", width-filled)
}

func formatDuration(sec int) string {
	if sec < 0 {
		sec = 0
	}
	return fmt.Sprintf("%d:%02d", sec/60, sec%60)
}
