package chunker

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE encoding used when none is configured.
const DefaultEncoding = "cl100k_base"

// TiktokenCounter counts tokens with a tiktoken BPE encoding.
type TiktokenCounter struct {
	tke *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding, or the encoding used by the
// named model. The encoding files are downloaded on first use unless
// TIKTOKEN_CACHE_DIR already holds them.
func NewTiktokenCounter(modelOrEncoding string) (*TiktokenCounter, error) {
	if modelOrEncoding == "" {
		modelOrEncoding = DefaultEncoding
	}
	tke, err := tiktoken.GetEncoding(modelOrEncoding)
	if err != nil {
		tke, err = tiktoken.EncodingForModel(modelOrEncoding)
		if err != nil {
			return nil, fmt.Errorf("loading tiktoken encoding %q: %w", modelOrEncoding, err)
		}
	}
	return &TiktokenCounter{tke: tke}, nil
}

// Count returns the number of tokens in text.
func (c *TiktokenCounter) Count(text string) int {
	return len(c.tke.Encode(text, nil, nil))
}
