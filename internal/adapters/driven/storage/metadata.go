package storage

import (
	"encoding/json"
	"fmt"

	"github.com/custodia-labs/jarvis/internal/core/domain"
)

// EncodeMetadata serialises a metadata record as JSON.
func EncodeMetadata(m domain.Metadata) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshalling metadata: %w", err)
	}
	return data, nil
}

// DecodeMetadata parses JSON produced by EncodeMetadata.
func DecodeMetadata(data []byte) (domain.Metadata, error) {
	if len(data) == 0 {
		return domain.Metadata{}, nil
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshalling metadata: %w", err)
	}
	return MetadataFromJSON(raw), nil
}

// MetadataFromJSON restores record value types after a JSON round trip:
// arrays become []string and other scalars become strings.
func MetadataFromJSON(raw map[string]any) domain.Metadata {
	m := make(domain.Metadata, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			m[k] = val
		case []any:
			list := make([]string, 0, len(val))
			for _, item := range val {
				if s, ok := item.(string); ok {
					list = append(list, s)
				}
			}
			m[k] = list
		case nil:
		default:
			m[k] = fmt.Sprint(val)
		}
	}
	return m
}
