package postprocessors

import (
	"fmt"

	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/core/ports/driven"
	"github.com/custodia-labs/jarvis/internal/dedup"
	"github.com/custodia-labs/jarvis/internal/postprocessors/chunker"
)

// RegisterDefaults registers all built-in processors with the registry.
// Call this during application initialisation to enable standard processors.
func RegisterDefaults(r *Registry) {
	r.Register("chunker", buildChunker)
	r.Register("fingerprint", buildFingerprinter)
}

// NewFromSettings builds the standard passage pipeline: chunker, then
// fingerprint.
func NewFromSettings(r *Registry, s domain.ChunkSettings) (*Pipeline, error) {
	chunk, err := r.Build("chunker", map[string]any{
		"chunk_size":         s.Size,
		"overlap":            s.Overlap,
		"boundary_tolerance": s.BoundaryTolerance,
		"unit":               string(s.Unit),
	})
	if err != nil {
		return nil, err
	}
	fp, err := r.Build("fingerprint", nil)
	if err != nil {
		return nil, err
	}
	return NewPipeline(chunk, fp), nil
}

// buildChunker creates a chunker processor from generic config.
// Supported config keys:
//   - chunk_size (int): Passage size (default: 1000)
//   - overlap (float): Fraction shared by adjacent passages (default: 0.1)
//   - boundary_tolerance (float): Fraction a boundary may move (default: 0.1)
//   - unit (string): "chars" or "tokens" (default: chars)
//   - encoding (string): tiktoken encoding for the tokens unit
func buildChunker(cfg map[string]any) (driven.PostProcessor, error) {
	s := domain.DefaultSettings().Chunk

	if cfg != nil {
		if _, ok := cfg["chunk_size"]; ok {
			s.Size = getIntFromConfig(cfg, "chunk_size")
		}
		if v, ok := getFloatFromConfig(cfg, "overlap"); ok {
			s.Overlap = v
		}
		if v, ok := getFloatFromConfig(cfg, "boundary_tolerance"); ok {
			s.BoundaryTolerance = v
		}
		if unit, ok := cfg["unit"].(string); ok && unit != "" {
			s.Unit = domain.ChunkUnit(unit)
		}
	}

	var tokenizer chunker.Tokenizer
	if s.Unit == domain.ChunkUnitTokens {
		encoding, _ := cfg["encoding"].(string)
		counter, err := chunker.NewTiktokenCounter(encoding)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidChunkConfig, err)
		}
		tokenizer = counter
	}

	return chunker.NewFromSettings(s, tokenizer)
}

func buildFingerprinter(_ map[string]any) (driven.PostProcessor, error) {
	return dedup.NewFingerprinter(), nil
}

// getIntFromConfig safely extracts an int from generic config map.
// Handles int, int64, and float64 types that may come from TOML/JSON parsing.
func getIntFromConfig(cfg map[string]any, key string) int {
	val, ok := cfg[key]
	if !ok {
		return 0
	}

	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// getFloatFromConfig extracts a float from generic config map.
func getFloatFromConfig(cfg map[string]any, key string) (float64, bool) {
	switch v := cfg[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
