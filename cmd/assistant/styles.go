package main

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	accent = lipgloss.Color("#8BC34A")
	info   = lipgloss.Color("#2196F3")
	muted  = lipgloss.Color("#6B7280")
	danger = lipgloss.Color("#E53935")
)

// styles are bound to the renderer of one output, so colour is dropped
// when it is not a terminal.
type styles struct {
	user      lipgloss.Style
	assistant lipgloss.Style
	hint      lipgloss.Style
	err       lipgloss.Style
}

func newStyles(out io.Writer) styles {
	r := lipgloss.NewRenderer(out)
	return styles{
		user:      r.NewStyle().Bold(true).Foreground(info),
		assistant: r.NewStyle().Bold(true).Foreground(accent),
		hint:      r.NewStyle().Foreground(muted).Italic(true),
		err:       r.NewStyle().Foreground(danger),
	}
}
