package main

import (
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Color palette
var (
	colorPrimary = lipgloss.Color("#3B82F6") // Signal Blue - main accent
	colorText    = lipgloss.Color("#F2F3F3")
	colorMuted   = lipgloss.Color("240")

	colorSuccess = lipgloss.Color("#22C55E")
	colorWarning = lipgloss.Color("#F59E0B")
	colorError   = lipgloss.Color("#EF4444")
)

// Styles
var (
	successStyle = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	valueStyle   = lipgloss.NewStyle().Foreground(colorText)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
)

// Icons
const (
	iconSuccess = "✓"
	iconError   = "✗"
	iconWarning = "⚠"
)

// isTTY returns true if stdout is a terminal
func isTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// printStyled prints a message with an icon, applying style only in TTY mode
func printStyled(w io.Writer, icon string, style lipgloss.Style, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if isTTY() {
		fmt.Fprintf(w, "%s %s\n", style.Render(icon), msg)
	} else {
		fmt.Fprintf(w, "%s %s\n", icon, msg)
	}
}

// printKV prints an aligned label/value pair.
func printKV(w io.Writer, label, value string) {
	if isTTY() {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(label+":"), valueStyle.Render(value))
	} else {
		fmt.Fprintf(w, "  %s: %s\n", label, value)
	}
}

var apiKeyPattern = regexp.MustCompile(`(Bearer\s+|api[_-]?key=)\S+`)

// outputError prints a styled error, scrubbing any API key that leaked into
// the message.
func outputError(w io.Writer, err error) {
	msg := apiKeyPattern.ReplaceAllString(err.Error(), "${1}[redacted]")
	printStyled(w, iconError, errorStyle, "%s", msg)
}
