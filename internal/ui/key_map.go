package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the [key.Binding] mapping for the TUI.
type keyMap struct {
	upscale key.Binding
	cancel  key.Binding
	reset   key.Binding
	scale   key.Binding
	ml      key.Binding
	health  key.Binding
	history key.Binding
	quit    key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		upscale: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "upscale")),
		cancel:  key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "cancel")),
		reset:   key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "reset")),
		scale:   key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "scale")),
		ml:      key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "toggle ML")),
		health:  key.NewBinding(key.WithKeys("h"), key.WithHelp("h", "health")),
		history: key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "history")),
		quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.upscale, k.cancel, k.quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.upscale, k.cancel, k.reset},
		{k.scale, k.ml, k.health},
		{k.history, k.quit},
	}
}
