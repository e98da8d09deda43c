package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"autotool/internal/events"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// Palette
var (
	successColor = lipgloss.Color("#8BC34A")
	errorColor   = lipgloss.Color("#e53935")
	warningColor = lipgloss.Color("#FFC107")
	infoColor    = lipgloss.Color("#2196F3")
	mutedColor   = lipgloss.Color("#9E9E9E")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(infoColor)
	successStyle = lipgloss.NewStyle().Foreground(successColor)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(errorColor)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	codeStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)
)

// renderMarkdown renders md for the terminal, falling back to plain text when
// glamour cannot initialize.
func renderMarkdown(md string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = md
		}
	}()
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return md
	}
	rendered, err := renderer.Render(md)
	if err != nil {
		return md
	}
	return rendered
}

// printEvent writes one bus event in a human form.
func printEvent(w io.Writer, ev events.Event) {
	switch {
	case ev.Name == events.Error:
		fmt.Fprintln(w, errorStyle.Render("✗ "+payloadString(ev.Payload)))
	case ev.Name == events.Info:
		fmt.Fprintln(w, mutedStyle.Render("· "+payloadString(ev.Payload)))
	case ev.Name == events.TaskID:
		fmt.Fprintln(w, titleStyle.Render("▶ "+payloadString(ev.Payload)))
	case ev.Name == events.Text:
		// final answer is rendered separately
	case strings.HasSuffix(ev.Name, "_"+events.SuffixScript):
		if verbose {
			fmt.Fprintln(w, codeStyle.Render(payloadString(ev.Payload)))
		}
	case strings.HasSuffix(ev.Name, "_"+events.SuffixChat):
		fmt.Fprintln(w, "  "+payloadString(ev.Payload))
	case strings.HasSuffix(ev.Name, "_"+events.SuffixResults):
		fmt.Fprintln(w, successStyle.Render("  ✓ "+payloadString(ev.Payload)))
	case strings.HasSuffix(ev.Name, "_"+events.SuffixTask):
		// the task description duplicates the taskId line
	default:
		if verbose {
			fmt.Fprintln(w, mutedStyle.Render(ev.String()))
		}
	}
}

func payloadString(v any) string {
	switch p := v.(type) {
	case string:
		return p
	case nil:
		return ""
	case error:
		return p.Error()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
