package metadata

import (
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/jarvis/internal/core/domain"
)

// NormaliseDate parses a date in any accepted layout and returns it in
// domain.DateLayout.
func NormaliseDate(s string) (string, error) {
	return parseDate(s)
}

// BuildPredicate assembles a query predicate from user-facing filters.
// Dates may be partial: a bare year or year-month "until" bound covers the
// whole period. The project key is rejected since the namespace is set by
// the request.
func BuildPredicate(where map[string]string, tags []string, since, until string) (domain.Predicate, error) {
	var p domain.Predicate

	for k, v := range where {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" {
			return p, fmt.Errorf("%w: empty filter key", domain.ErrInvalidInput)
		}
		if key == domain.KeyProject {
			return p, fmt.Errorf("%w: filter on project is not allowed, use the project argument", domain.ErrInvalidInput)
		}
		if p.Equals == nil {
			p.Equals = make(map[string]string, len(where))
		}
		p.Equals[key] = strings.TrimSpace(v)
	}

	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			p.Tags = append(p.Tags, t)
		}
	}

	if s := strings.TrimSpace(since); s != "" {
		d, err := parseDate(s)
		if err != nil {
			return p, fmt.Errorf("%w: since: %w", domain.ErrInvalidInput, err)
		}
		p.DateFrom = d
	}
	if s := strings.TrimSpace(until); s != "" {
		d, err := upperBound(s)
		if err != nil {
			return p, fmt.Errorf("%w: until: %w", domain.ErrInvalidInput, err)
		}
		p.DateTo = d
	}
	if p.DateFrom != "" && p.DateTo != "" && p.DateFrom > p.DateTo {
		return p, fmt.Errorf("%w: since %s is after until %s", domain.ErrInvalidInput, p.DateFrom, p.DateTo)
	}
	return p, nil
}

// upperBound parses an inclusive end date, extending partial dates to the
// last day of the year or month.
func upperBound(s string) (string, error) {
	if t, err := time.Parse("2006", s); err == nil {
		return t.AddDate(1, 0, -1).Format(domain.DateLayout), nil
	}
	if t, err := time.Parse("2006-01", s); err == nil {
		return t.AddDate(0, 1, -1).Format(domain.DateLayout), nil
	}
	return parseDate(s)
}
