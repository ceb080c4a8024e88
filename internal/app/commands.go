package app

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// Command is an action reachable from a key or the command palette.
type Command struct {
	ID          string
	Name        string
	Description string
	Category    string
	Keybinding  string
	// Keys are the bubbletea key strings that trigger the command.
	Keys    []string
	Handler func(m *Model) (Model, tea.Cmd)
}

type CommandRegistry struct {
	commands []Command
	byKey    map[string]int
}

// NewCommandRegistry builds the station commands. Volume and seek steps come
// from opts.
func NewCommandRegistry(opts Options) *CommandRegistry {
	r := &CommandRegistry{byKey: make(map[string]int)}
	vol := float64(opts.VolumeStep)
	seek := float64(opts.SeekSeconds)

	r.register(Command{
		ID:          "playback.toggle",
		Name:        "Play/Pause",
		Description: "Start the station or toggle pause",
		Category:    "Playback",
		Keybinding:  "space",
		Keys:        []string{" ", "p"},
		Handler: func(m *Model) (Model, tea.Cmd) {
			return *m, m.runCmd(m.ctrl.Toggle)
		},
	})
	r.register(Command{
		ID:          "playback.skip",
		Name:        "Skip Track",
		Description: "Skip to the next track",
		Category:    "Playback",
		Keybinding:  "n",
		Keys:        []string{"n"},
		Handler: func(m *Model) (Model, tea.Cmd) {
			m.status = "Skipping…"
			return *m, m.runCmd(m.ctrl.Skip)
		},
	})
	r.register(Command{
		ID:          "station.like",
		Name:        "Like",
		Description: "Like the current track, or remove the like",
		Category:    "Station",
		Keybinding:  "l",
		Keys:        []string{"l"},
		Handler: func(m *Model) (Model, tea.Cmd) {
			return *m, m.runCmd(m.ctrl.Like)
		},
	})
	r.register(Command{
		ID:          "station.dislike",
		Name:        "Dislike",
		Description: "Dislike the current track and skip it",
		Category:    "Station",
		Keybinding:  "d",
		Keys:        []string{"d"},
		Handler: func(m *Model) (Model, tea.Cmd) {
			m.status = "Disliked, skipping…"
			return *m, m.runCmd(m.ctrl.Dislike)
		},
	})
	r.register(Command{
		ID:          "view.lyrics",
		Name:        "Toggle Lyrics",
		Description: "Show or hide lyrics for the current track",
		Category:    "View",
		Keybinding:  "y",
		Keys:        []string{"y"},
		Handler: func(m *Model) (Model, tea.Cmd) {
			return m.toggleLyrics()
		},
	})
	r.register(Command{
		ID:          "volume.up",
		Name:        "Volume Up",
		Description: fmt.Sprintf("Raise the volume by %.0f", vol),
		Category:    "Volume",
		Keybinding:  "+",
		Keys:        []string{"+", "="},
		Handler: func(m *Model) (Model, tea.Cmd) {
			return m.adjustVolume(vol)
		},
	})
	r.register(Command{
		ID:          "volume.down",
		Name:        "Volume Down",
		Description: fmt.Sprintf("Lower the volume by %.0f", vol),
		Category:    "Volume",
		Keybinding:  "-",
		Keys:        []string{"-"},
		Handler: func(m *Model) (Model, tea.Cmd) {
			return m.adjustVolume(-vol)
		},
	})
	r.register(Command{
		ID:          "seek.forward",
		Name:        "Seek Forward",
		Description: fmt.Sprintf("Seek forward %.0fs", seek),
		Category:    "Playback",
		Keybinding:  "→",
		Keys:        []string{"right"},
		Handler: func(m *Model) (Model, tea.Cmd) {
			return m.seek(seek)
		},
	})
	r.register(Command{
		ID:          "seek.backward",
		Name:        "Seek Backward",
		Description: fmt.Sprintf("Seek back %.0fs", seek),
		Category:    "Playback",
		Keybinding:  "←",
		Keys:        []string{"left"},
		Handler: func(m *Model) (Model, tea.Cmd) {
			return m.seek(-seek)
		},
	})
	r.register(Command{
		ID:          "app.quit",
		Name:        "Quit",
		Description: "Stop the station and exit",
		Category:    "App",
		Handler: func(m *Model) (Model, tea.Cmd) {
			return *m, tea.Quit
		},
	})
	return r
}

func (r *CommandRegistry) register(cmd Command) {
	idx := len(r.commands)
	r.commands = append(r.commands, cmd)
	for _, k := range cmd.Keys {
		r.byKey[k] = idx
	}
}

func (r *CommandRegistry) Commands() []Command {
	return r.commands
}

// ByKey returns the command bound to a key string, or nil.
func (r *CommandRegistry) ByKey(key string) *Command {
	idx, ok := r.byKey[key]
	if !ok {
		return nil
	}
	return &r.commands[idx]
}

// SearchableNames returns command names for fuzzy matching.
func (r *CommandRegistry) SearchableNames() []string {
	names := make([]string, len(r.commands))
	for i, cmd := range r.commands {
		names[i] = cmd.Name
	}
	return names
}
