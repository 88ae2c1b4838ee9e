// Package metadata validates and sanitises passage metadata against a
// schema of recognised keys.
package metadata

import (
	"slices"

	"github.com/custodia-labs/jarvis/internal/core/domain"
)

// Type is the expected value type of a metadata key.
type Type int

// Value types.
const (
	// TypeString is a single string, trimmed and length-capped.
	TypeString Type = iota

	// TypeDate is a date normalised to domain.DateLayout.
	TypeDate

	// TypeStringList is a list of strings (or a comma-separated string).
	TypeStringList

	// TypeLanguage is a BCP 47 language tag.
	TypeLanguage
)

// String returns the type name used in violation messages.
func (t Type) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeDate:
		return "date"
	case TypeStringList:
		return "string list"
	case TypeLanguage:
		return "language tag"
	default:
		return "unknown"
	}
}

// Field describes one recognised key.
type Field struct {
	Key      string
	Type     Type
	Required bool
}

// Schema is the set of recognised keys.
type Schema struct {
	// Fields holds the recognised keys in a stable order.
	Fields []Field

	// MaxStringLength caps string values and list items, in runes.
	MaxStringLength int
}

// DefaultMaxStringLength is used when a schema does not set a cap.
const DefaultMaxStringLength = 512

// DefaultSchema returns the recognised keys with the given keys required.
func DefaultSchema(required []string, maxStringLength int) Schema {
	fields := []Field{
		{Key: domain.KeyProject, Type: TypeString},
		{Key: domain.KeySource, Type: TypeString},
		{Key: domain.KeyDate, Type: TypeDate},
		{Key: domain.KeyTags, Type: TypeStringList},
		{Key: domain.KeyLanguage, Type: TypeLanguage},
		{Key: domain.KeyTitle, Type: TypeString},
		{Key: domain.KeyAuthors, Type: TypeStringList},
		{Key: domain.KeyURL, Type: TypeString},
		{Key: domain.KeyDOI, Type: TypeString},
	}
	for i := range fields {
		fields[i].Required = slices.Contains(required, fields[i].Key)
	}
	if maxStringLength <= 0 {
		maxStringLength = DefaultMaxStringLength
	}
	return Schema{Fields: fields, MaxStringLength: maxStringLength}
}

// Field returns the field for key.
func (s Schema) Field(key string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}
