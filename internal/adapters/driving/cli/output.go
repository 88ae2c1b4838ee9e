package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// palette mirrors the terminal theme used across the CLI.
var palette = struct {
	Primary, Secondary, Muted, Success, Warning, Error lipgloss.Color
}{
	Primary:   lipgloss.Color("#7C3AED"),
	Secondary: lipgloss.Color("#06B6D4"),
	Muted:     lipgloss.Color("#6C7086"),
	Success:   lipgloss.Color("#A6E3A1"),
	Warning:   lipgloss.Color("#F9E2AF"),
	Error:     lipgloss.Color("#F38BA8"),
}

// styles holds the lipgloss styles for one output stream. Plain styles
// render text unchanged.
type styles struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Passage lipgloss.Style
	width   int
}

// stylesFor returns coloured styles when w is a terminal.
func stylesFor(w io.Writer) styles {
	width, ok := terminalWidth(w)
	if !ok {
		plain := lipgloss.NewStyle()
		return styles{
			Title: plain, Label: plain, Muted: plain, Success: plain,
			Warning: plain, Error: plain, Passage: plain,
		}
	}

	textWidth := min(max(width-8, 40), 100)
	return styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(palette.Primary),
		Label:   lipgloss.NewStyle().Foreground(palette.Secondary),
		Muted:   lipgloss.NewStyle().Foreground(palette.Muted),
		Success: lipgloss.NewStyle().Foreground(palette.Success),
		Warning: lipgloss.NewStyle().Foreground(palette.Warning),
		Error:   lipgloss.NewStyle().Bold(true).Foreground(palette.Error),
		Passage: lipgloss.NewStyle().PaddingLeft(6).Width(textWidth + 6),
		width:   width,
	}
}

// terminalWidth reports the width of w if it is a terminal.
func terminalWidth(w io.Writer) (int, bool) {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0, false
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		width = 80
	}
	return width, true
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// snippet trims text to n runes on a word boundary.
func snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	cut := string(runes[:n])
	if i := strings.LastIndexByte(cut, ' '); i > n/2 {
		cut = cut[:i]
	}
	return cut + "..."
}

// parseAssignments parses key=value flag values.
func parseAssignments(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(values))
	for _, v := range values {
		key, value, ok := strings.Cut(v, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid filter %q: expected key=value", v)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}
