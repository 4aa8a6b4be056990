package tui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// File statuses shown in the browser.
const (
	StatusOK     = "ok"
	StatusCached = "cached"
	StatusFailed = "failed"
)

// Entry is one input file as the browser shows it.
type Entry struct {
	Path     string
	Status   string
	FileType string
	Err      string
	// Tags holds the exiftool record for the file; nil on failure.
	Tags map[string]any
}

// keyMap defines key bindings.
type keyMap struct {
	Up       key.Binding
	Down     key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Quit     key.Binding
}

var keys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "previous file"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "next file"),
	),
	PageUp: key.NewBinding(
		key.WithKeys("pgup", "b"),
		key.WithHelp("pgup", "scroll tags up"),
	),
	PageDown: key.NewBinding(
		key.WithKeys("pgdown", "f", " "),
		key.WithHelp("pgdn", "scroll tags down"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c", "esc"),
		key.WithHelp("q", "quit"),
	),
}

// Run opens the record browser over entries and blocks until the user quits.
func Run(entries []Entry) error {
	p := tea.NewProgram(NewBrowserModel(entries), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
