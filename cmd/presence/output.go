package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorSuccess = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#66bb6a"}
	colorError   = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#ef5350"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#e65100", Dark: "#ffa726"}
	colorInfo    = lipgloss.AdaptiveColor{Light: "#0277bd", Dark: "#4fc3f7"}
	colorAccent  = lipgloss.AdaptiveColor{Light: "#6a1b9a", Dark: "#ce93d8"}
	colorBorder  = lipgloss.AdaptiveColor{Light: "#bdbdbd", Dark: "#616161"}

	styleSuccess = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	styleError   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	styleWarning = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	styleInfo    = lipgloss.NewStyle().Foreground(colorInfo)
	styleAccent  = lipgloss.NewStyle().Foreground(colorAccent)
	styleLabel   = lipgloss.NewStyle().Bold(true).Width(10)
	styleDim     = lipgloss.NewStyle().Faint(true)
	styleBox     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)
)

const (
	symbolSuccess = "✓"
	symbolError   = "✗"
	symbolWarning = "⚠"
	symbolInfo    = "●"
)

func success(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, styleSuccess.Render(symbolSuccess)+" "+fmt.Sprintf(format, args...))
}

func info(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, styleInfo.Render(symbolInfo)+" "+fmt.Sprintf(format, args...))
}

func warn(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, styleWarning.Render(symbolWarning)+" "+fmt.Sprintf(format, args...))
}

// field is one label/value row of a panel.
type field struct {
	label string
	value string
}

// panel renders a titled box of rows, skipping empty values.
func panel(title string, fields ...field) string {
	lines := []string{styleAccent.Bold(true).Render(title)}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		lines = append(lines, styleLabel.Render(f.label)+" "+f.value)
	}
	return styleBox.Render(strings.Join(lines, "\n"))
}
