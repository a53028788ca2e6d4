// Package ui holds the styled-output helpers the CLI commands share.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
)

// colorized reports whether stdout is a terminal; piped output stays plain.
func colorized() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// RenderPass styles a success marker.
func RenderPass(s string) string {
	if !colorized() {
		return s
	}
	return passStyle.Render(s)
}

// RenderFail styles a failure marker.
func RenderFail(s string) string {
	if !colorized() {
		return s
	}
	return failStyle.Render(s)
}

// RenderWarn styles a warning marker.
func RenderWarn(s string) string {
	if !colorized() {
		return s
	}
	return warnStyle.Render(s)
}

// RenderAccent styles an informational marker.
func RenderAccent(s string) string {
	if !colorized() {
		return s
	}
	return accentStyle.Render(s)
}
