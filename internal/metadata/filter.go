package metadata

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/language"

	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/logger"
)

// dateLayouts are tried in order when parsing date values.
var dateLayouts = []string{
	domain.DateLayout,
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"2006-01",
	"2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"02 Jan 2006",
	time.RFC1123,
	time.RFC1123Z,
	time.RFC822,
}

// Filter validates raw metadata against a schema.
type Filter struct {
	schema Schema
}

// New creates a filter for schema.
func New(schema Schema) *Filter {
	if schema.MaxStringLength <= 0 {
		schema.MaxStringLength = DefaultMaxStringLength
	}
	return &Filter{schema: schema}
}

// NewFromSettings creates a filter for the default schema.
func NewFromSettings(s domain.MetadataSettings) *Filter {
	return New(DefaultSchema(s.RequiredKeys, s.MaxStringLength))
}

// Schema returns the filter's schema.
func (f *Filter) Schema() Schema {
	return f.schema
}

// Apply validates raw and returns the sanitised record plus warnings for
// values that were dropped. Unrecognised keys are dropped. It fails with a
// *domain.SchemaViolationError listing every offending key.
func (f *Filter) Apply(raw map[string]any) (domain.Metadata, []string, error) {
	record := make(domain.Metadata)
	reasons := make(map[string]string)
	var warnings []string

	for _, key := range sortedKeys(raw) {
		if _, known := f.schema.Field(key); !known {
			logger.Debug("metadata: dropping unrecognised key %q", key)
		}
	}

	for _, field := range f.schema.Fields {
		value, present := raw[field.Key]
		if !present || value == nil {
			if field.Required {
				reasons[field.Key] = "required key missing"
			}
			continue
		}

		clean, err := f.sanitise(field, value)
		switch {
		case err != nil && field.Required:
			reasons[field.Key] = err.Error()
		case err != nil && field.Type != TypeString && field.Type != TypeStringList:
			warnings = append(warnings, fmt.Sprintf("%s: dropped: %v", field.Key, err))
		case err != nil:
			reasons[field.Key] = err.Error()
		case clean == nil:
			if field.Required {
				reasons[field.Key] = "required key empty"
			}
		default:
			record[field.Key] = clean
		}
	}

	for _, w := range warnings {
		logger.Warn("metadata: %s", w)
	}
	if len(reasons) > 0 {
		return nil, warnings, &domain.SchemaViolationError{Reasons: reasons}
	}
	return record, warnings, nil
}

// sanitise returns the clean value, nil for an empty value, or an error
// describing why the value is invalid.
func (f *Filter) sanitise(field Field, value any) (any, error) {
	switch field.Type {
	case TypeString:
		s, err := scalarString(value)
		if err != nil {
			return nil, err
		}
		if s = f.cleanString(s); s == "" {
			return nil, nil
		}
		return s, nil

	case TypeStringList:
		items, err := stringList(value)
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(items))
		seen := make(map[string]bool, len(items))
		for _, item := range items {
			item = f.cleanString(item)
			folded := strings.ToLower(item)
			if item == "" || seen[folded] {
				continue
			}
			seen[folded] = true
			out = append(out, item)
		}
		if len(out) == 0 {
			return nil, nil
		}
		return out, nil

	case TypeDate:
		date, err := parseDate(value)
		if err != nil {
			return nil, err
		}
		return date, nil

	case TypeLanguage:
		s, err := scalarString(value)
		if err != nil {
			return nil, err
		}
		s = f.cleanString(s)
		if s == "" {
			return nil, nil
		}
		tag, err := language.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid language tag %q", s)
		}
		return tag.String(), nil
	}
	return nil, fmt.Errorf("unsupported field type %s", field.Type)
}

// cleanString strips non-printable characters, collapses whitespace runs,
// trims and caps the length.
func (f *Filter) cleanString(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if !unicode.IsPrint(r) {
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	out := b.String()
	if utf8.RuneCountInString(out) > f.schema.MaxStringLength {
		out = strings.TrimSpace(string([]rune(out)[:f.schema.MaxStringLength]))
	}
	return out
}

func scalarString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return "", fmt.Errorf("expected string, got %T", value)
	}
}

func stringList(value any) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return v, nil
	case string:
		return strings.Split(v, ","), nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string list, item %d is %T", i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string list, got %T", value)
	}
}

func parseDate(value any) (string, error) {
	switch v := value.(type) {
	case time.Time:
		if v.IsZero() {
			return "", fmt.Errorf("zero date")
		}
		return v.Format(domain.DateLayout), nil
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.Format(domain.DateLayout), nil
			}
		}
		return "", fmt.Errorf("unparseable date %q", s)
	case int:
		if v >= 1000 && v <= 9999 {
			return fmt.Sprintf("%04d-01-01", v), nil
		}
	case int64:
		if v >= 1000 && v <= 9999 {
			return fmt.Sprintf("%04d-01-01", v), nil
		}
	}
	return "", fmt.Errorf("unparseable date %v", value)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
