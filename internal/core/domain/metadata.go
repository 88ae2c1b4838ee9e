package domain

import (
	"slices"
	"strings"
)

// Recognised metadata keys.
const (
	KeyProject  = "project"
	KeySource   = "source"
	KeyDate     = "date"
	KeyTags     = "tags"
	KeyLanguage = "language"
	KeyTitle    = "title"
	KeyAuthors  = "authors"
	KeyURL      = "url"
	KeyDOI      = "doi"
)

// DateLayout is the canonical date format for metadata values.
const DateLayout = "2006-01-02"

// Metadata is a validated metadata record.
// Values are either string or []string; dates are strings in DateLayout.
type Metadata map[string]any

// String returns the string value for key, or "" if absent or not a string.
func (m Metadata) String(key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// Strings returns the list value for key. A scalar string is returned as a
// single-item list.
func (m Metadata) Strings(key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case string:
		return []string{v}
	default:
		return nil
	}
}

// Project returns the project namespace.
func (m Metadata) Project() string {
	return m.String(KeyProject)
}

// Clone returns a deep copy of the record.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		if list, ok := v.([]string); ok {
			out[k] = slices.Clone(list)
			continue
		}
		out[k] = v
	}
	return out
}

// Predicate restricts a vector query to entries whose metadata matches.
// The zero value matches everything.
type Predicate struct {
	// Equals requires each key to equal the value. For list values the
	// value must be one of the items.
	Equals map[string]string

	// Tags requires every listed tag to be present in the "tags" value.
	Tags []string

	// DateFrom is an inclusive lower bound on "date" (DateLayout, "" = open).
	DateFrom string

	// DateTo is an inclusive upper bound on "date" (DateLayout, "" = open).
	DateTo string
}

// WithProject returns a copy of p scoped to the project namespace.
func (p Predicate) WithProject(project string) Predicate {
	eq := make(map[string]string, len(p.Equals)+1)
	for k, v := range p.Equals {
		eq[k] = v
	}
	eq[KeyProject] = project
	p.Equals = eq
	p.Tags = slices.Clone(p.Tags)
	return p
}

// IsZero reports whether the predicate matches everything.
func (p Predicate) IsZero() bool {
	return len(p.Equals) == 0 && len(p.Tags) == 0 && p.DateFrom == "" && p.DateTo == ""
}

// Matches reports whether m satisfies the predicate.
func (p Predicate) Matches(m Metadata) bool {
	for k, want := range p.Equals {
		if !slices.Contains(m.Strings(k), want) {
			return false
		}
	}
	if len(p.Tags) > 0 {
		tags := m.Strings(KeyTags)
		for _, t := range p.Tags {
			if !slices.ContainsFunc(tags, func(s string) bool { return strings.EqualFold(s, t) }) {
				return false
			}
		}
	}
	if p.DateFrom != "" || p.DateTo != "" {
		date := m.String(KeyDate)
		if date == "" {
			return false
		}
		if p.DateFrom != "" && date < p.DateFrom {
			return false
		}
		if p.DateTo != "" && date > p.DateTo {
			return false
		}
	}
	return true
}
