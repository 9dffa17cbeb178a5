package ui

import (
	"github.com/charmbracelet/lipgloss"
)

const (
	accent  = "#7D56F4"
	good    = "#04B575"
	bad     = "#FF0000"
	caution = "#FFA500"
	subtle  = "#626262"
)

var styles = NewPalette(accent, good, bad, caution, subtle)

// struct Palette styles each part of the upscale screen: the header, the server
// and params lines, the session states, and the progress bar gradient.
type Palette struct {
	header   lipgloss.Style // image name
	spinner  lipgloss.Style
	field    lipgloss.Style // "Server", "Params"
	online   lipgloss.Style // backend healthy
	loading  lipgloss.Style // model still loading
	offline  lipgloss.Style
	complete lipgloss.Style
	failed   lipgloss.Style // upscale, save and history errors
	detail   lipgloss.Style // step text, previews, prompts

	barFrom string
	barTo   string
}

// NewPalette builds a [Palette] from an accent color and the colors for good, bad, caution and muted text.
func NewPalette(accent, good, bad, caution, muted string) *Palette {
	return &Palette{
		header:   NewBold(accent).MarginBottom(1),
		spinner:  NewStyle(accent),
		field:    NewStyle(muted).Width(10),
		online:   NewBold(good),
		loading:  NewStyle(caution),
		offline:  NewBold(bad),
		complete: NewBold(good),
		failed:   NewBold(bad),
		detail:   NewEm(muted),
		barFrom:  accent,
		barTo:    good,
	}
}

// server picks the style for the server line.
func (p *Palette) server(connected, modelLoading bool) lipgloss.Style {
	switch {
	case !connected:
		return p.offline
	case modelLoading:
		return p.loading
	default:
		return p.online
	}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}
