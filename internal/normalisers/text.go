package normalisers

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	blankLines     = regexp.MustCompile(`\n[ \t]*(\n[ \t]*)+\n`)
	trailingSpaces = regexp.MustCompile(`[ \t]+\n`)
)

// Canonical applies the text rules shared by every strategy. Line endings
// become LF, non-breaking spaces become spaces, trailing spaces are trimmed
// and runs of blank lines collapse to a single blank line.
func Canonical(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = trailingSpaces.ReplaceAllString(text, "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// TitleFromURI derives a human-readable title from a file name.
func TitleFromURI(uri string) string {
	if uri == "" {
		return ""
	}
	filename := filepath.Base(uri)
	if ext := filepath.Ext(filename); ext != "" {
		filename = strings.TrimSuffix(filename, ext)
	}
	filename = strings.ReplaceAll(filename, "_", " ")
	filename = strings.ReplaceAll(filename, "-", " ")
	return filename
}

// MetadataString returns a fetcher-supplied string value, or "".
func MetadataString(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
