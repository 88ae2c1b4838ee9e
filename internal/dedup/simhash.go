// Package dedup detects near-duplicate passages with SimHash fingerprints.
package dedup

import (
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/unicode/norm"

	"github.com/custodia-labs/jarvis/internal/core/domain"
)

// ShingleSize is the number of words hashed together per feature.
const ShingleSize = 3

// Normalise prepares text for fingerprinting: NFKC folded, lower-cased,
// with punctuation and symbols treated as separators and whitespace
// collapsed to single spaces.
func Normalise(text string) string {
	folded := norm.NFKC.String(text)

	var b strings.Builder
	b.Grow(len(folded))
	separated := true
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(unicode.ToLower(r))
			separated = false
			continue
		}
		if !separated {
			b.WriteByte(' ')
			separated = true
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// Fingerprint computes the 64-bit SimHash of text over word shingles.
// Texts that normalise identically have identical fingerprints; texts that
// differ in a few words differ in a few bits. Text without letters or
// digits is hashed whole, so only identical text shares a fingerprint.
func Fingerprint(text string) domain.Fingerprint {
	words := strings.Fields(Normalise(text))
	if len(words) == 0 {
		raw := strings.TrimSpace(text)
		if raw == "" {
			return 0
		}
		return domain.Fingerprint(xxhash.Sum64String(raw))
	}

	var weights [64]int
	add := func(h uint64) {
		for bit := 0; bit < 64; bit++ {
			if h&(1<<bit) != 0 {
				weights[bit]++
			} else {
				weights[bit]--
			}
		}
	}

	if len(words) < ShingleSize {
		add(xxhash.Sum64String(strings.Join(words, " ")))
	} else {
		for i := 0; i+ShingleSize <= len(words); i++ {
			add(xxhash.Sum64String(strings.Join(words[i:i+ShingleSize], " ")))
		}
	}

	var f uint64
	for bit, w := range weights {
		if w > 0 {
			f |= 1 << bit
		}
	}
	return domain.Fingerprint(f)
}
