package storage

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/custodia-labs/jarvis/internal/core/domain"
)

// Distance returns the distance between a and b under metric. Cosine
// distance is 1 - cos(a, b); a zero vector is at distance 1 from anything.
func Distance(metric domain.DistanceMetric, a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", domain.ErrDimensionMismatch, len(a), len(b))
	}
	switch metric {
	case domain.MetricEuclidean:
		return euclidean(a, b), nil
	case domain.MetricCosine, "":
		return 1 - cosine(a, b), nil
	default:
		return 0, fmt.Errorf("%w: unknown distance metric %q", domain.ErrInvalidInput, metric)
	}
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Candidate is a scored entry with its insertion sequence.
type Candidate struct {
	Hit domain.Hit
	Seq int64
}

// TopK orders candidates by increasing distance, ties by insertion
// sequence, and returns at most k hits.
func TopK(candidates []Candidate, k int) []domain.Hit {
	slices.SortFunc(candidates, func(a, b Candidate) int {
		if c := cmp.Compare(a.Hit.Distance, b.Hit.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
	n := max(0, min(k, len(candidates)))
	hits := make([]domain.Hit, n)
	for i := range n {
		hits[i] = candidates[i].Hit
	}
	return hits
}
