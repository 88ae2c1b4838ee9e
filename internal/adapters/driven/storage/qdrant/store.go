// Package qdrant provides a driven.VectorStore backed by the Qdrant REST API.
//
// All projects share one collection; every point carries its project in the
// payload and every request filters on it. Passage ids are mapped to UUIDv5
// point ids. Distances are recomputed from the returned vectors so that the
// ranking matches the other adapters, ties broken by the insertion sequence
// kept in the payload.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/custodia-labs/jarvis/internal/adapters/driven/storage"
	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/core/ports/driven"
)

// Ensure Store implements the interface.
var _ driven.VectorStore = (*Store)(nil)

// pointNamespace seeds point ids derived from passage ids.
var pointNamespace = uuid.MustParse("3b8f5c1a-2d4e-5f60-8a7b-9c0d1e2f3a4b")

const (
	// scrollPage is the number of points fetched per scroll request.
	scrollPage = 256

	// tieSlack is how many points beyond k a search page holds. Pages are
	// fetched until the scores tied at the k-th hit are exhausted, so equal
	// scores at the boundary can be ordered by insertion.
	tieSlack = 16
)

// Store is a Qdrant-backed vector store.
type Store struct {
	client     *resty.Client
	collection string
	metric     domain.DistanceMetric

	mu      sync.Mutex
	ready   bool
	lastSeq atomic.Int64
	closed  atomic.Bool
}

// Option configures the store.
type Option func(*Store)

// WithAPIKey sets the api-key header.
func WithAPIKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.client.SetHeader("api-key", key)
		}
	}
}

// WithTimeout bounds every HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.client.SetTimeout(d)
		}
	}
}

// NewStore creates a store for the collection at baseURL.
func NewStore(baseURL, collection string, metric domain.DistanceMetric, opts ...Option) (*Store, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: qdrant url is required", domain.ErrInvalidInput)
	}
	if collection == "" {
		return nil, fmt.Errorf("%w: qdrant collection is required", domain.ErrInvalidInput)
	}
	if metric == "" {
		metric = domain.MetricCosine
	}

	s := &Store{
		client: resty.New().
			SetBaseURL(strings.TrimSuffix(baseURL, "/")).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json"),
		collection: collection,
		metric:     metric,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

// ==================== Wire types ====================

type payload struct {
	PassageID   string         `json:"passage_id"`
	DocumentID  string         `json:"document_id"`
	Project     string         `json:"project"`
	Origin      string         `json:"origin"`
	Ordinal     int            `json:"ordinal"`
	Text        string         `json:"text"`
	Fingerprint string         `json:"fingerprint"`
	Seq         int64          `json:"seq"`
	CreatedAt   string         `json:"created_at"`
	DateNum     *int64         `json:"date_num,omitempty"`
	TagsFolded  []string       `json:"tags_folded,omitempty"`
	Metadata    map[string]any `json:"metadata"`
}

type point struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector,omitempty"`
	Payload payload   `json:"payload"`
}

type condition struct {
	Key   string  `json:"key"`
	Match *match  `json:"match,omitempty"`
	Range *bounds `json:"range,omitempty"`
}

type match struct {
	Value any      `json:"value,omitempty"`
	Any   []string `json:"any,omitempty"`
}

type bounds struct {
	GTE *int64 `json:"gte,omitempty"`
	LTE *int64 `json:"lte,omitempty"`
}

type filter struct {
	Must    []condition `json:"must,omitempty"`
	MustNot []condition `json:"must_not,omitempty"`
}

type response[T any] struct {
	Result T       `json:"result"`
	Status any     `json:"status"`
	Time   float64 `json:"time"`
}

type scrollResult struct {
	Points         []point `json:"points"`
	NextPageOffset *string `json:"next_page_offset"`
}

type countResult struct {
	Count int `json:"count"`
}

// ==================== VectorStore ====================

// Put upserts an entry. The insertion sequence and creation time of an
// existing point are kept.
func (s *Store) Put(ctx context.Context, entry domain.IndexEntry) error {
	if entry.PassageID == "" {
		return fmt.Errorf("%w: passage id is required", domain.ErrInvalidInput)
	}
	if len(entry.Vector) == 0 {
		return fmt.Errorf("%w: entry %s has no vector", domain.ErrInvalidInput, entry.PassageID)
	}
	if s.closed.Load() {
		return domain.ErrStoreUnavailable
	}
	if err := s.ensureCollection(ctx, len(entry.Vector)); err != nil {
		return err
	}

	id := PointID(entry.PassageID)
	existing, err := s.getPoint(ctx, id)
	if err != nil {
		return err
	}

	p := toPayload(entry)
	if existing != nil {
		p.Seq = existing.Seq
		p.CreatedAt = existing.CreatedAt
	} else {
		p.Seq = s.nextSeq()
	}

	body := map[string]any{
		"points": []point{{ID: id, Vector: entry.Vector, Payload: p}},
	}
	resp, err := s.client.R().SetContext(ctx).
		SetQueryParam("wait", "true").
		SetBody(body).
		Put(s.path("points"))
	if err := check(resp, err, "upserting point"); err != nil {
		if resp != nil && resp.StatusCode() == http.StatusBadRequest && strings.Contains(resp.String(), "dimension") {
			return fmt.Errorf("%w: %s", domain.ErrDimensionMismatch, resp.String())
		}
		return err
	}
	return nil
}

// Query returns the k nearest entries matching predicate.
func (s *Store) Query(ctx context.Context, vector []float32, k int, predicate domain.Predicate) ([]domain.Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", domain.ErrInvalidInput, k)
	}
	if s.closed.Load() {
		return nil, domain.ErrStoreUnavailable
	}

	limit := k + tieSlack
	filter := predicateFilter(predicate)
	var candidates []storage.Candidate
	for offset := 0; ; offset += limit {
		var out response[[]point]
		resp, err := s.client.R().SetContext(ctx).
			SetBody(map[string]any{
				"vector":       vector,
				"limit":        limit,
				"offset":       offset,
				"filter":       filter,
				"with_payload": true,
				"with_vector":  true,
			}).
			SetResult(&out).
			Post(s.path("points/search"))
		if isNotFound(resp, err) {
			return nil, nil
		}
		if err := check(resp, err, "searching points"); err != nil {
			return nil, err
		}

		last := math.Inf(1)
		for _, p := range out.Result {
			entry, err := fromPoint(p)
			if err != nil {
				return nil, err
			}
			d, err := storage.Distance(s.metric, vector, entry.Vector)
			if err != nil {
				return nil, err
			}
			last = d
			if !predicate.Matches(entry.Metadata) {
				continue
			}
			candidates = append(candidates, storage.Candidate{
				Hit: domain.Hit{Entry: entry, Distance: d},
				Seq: p.Payload.Seq,
			})
		}

		// A short page is the end of the results. Otherwise keep going
		// while the page still ends on the score of the k-th hit.
		if len(out.Result) < limit {
			break
		}
		top := storage.TopK(candidates, k)
		if len(top) == k && top[k-1].Distance < last {
			break
		}
	}
	return storage.TopK(candidates, k), nil
}

// DeleteByDocument removes the document's entries in project ("" = all).
func (s *Store) DeleteByDocument(ctx context.Context, project, documentID string) (int, error) {
	f := filter{Must: []condition{matchValue("document_id", documentID)}}
	if project != "" {
		f.Must = append(f.Must, matchValue("project", project))
	}
	return s.deleteWhere(ctx, f)
}

// DeleteByProject removes every entry in the project.
func (s *Store) DeleteByProject(ctx context.Context, project string) (int, error) {
	return s.deleteWhere(ctx, filter{Must: []condition{matchValue("project", project)}})
}

func (s *Store) deleteWhere(ctx context.Context, f filter) (int, error) {
	if s.closed.Load() {
		return 0, domain.ErrStoreUnavailable
	}

	n, err := s.count(ctx, f)
	if err != nil || n == 0 {
		return 0, err
	}

	resp, err := s.client.R().SetContext(ctx).
		SetQueryParam("wait", "true").
		SetBody(map[string]any{"filter": f}).
		Post(s.path("points/delete"))
	if err := check(resp, err, "deleting points"); err != nil {
		return 0, err
	}
	return n, nil
}

// Fingerprints returns the project's fingerprints in insertion order,
// skipping the excluded documents.
func (s *Store) Fingerprints(ctx context.Context, project string, exclude []string) ([]domain.StoredFingerprint, error) {
	if s.closed.Load() {
		return nil, domain.ErrStoreUnavailable
	}

	f := filter{Must: []condition{matchValue("project", project)}}
	if len(exclude) > 0 {
		f.MustNot = []condition{{Key: "document_id", Match: &match{Any: exclude}}}
	}

	var points []point
	var offset *string
	for {
		body := map[string]any{
			"filter":       f,
			"limit":        scrollPage,
			"with_payload": []string{"passage_id", "document_id", "fingerprint", "seq"},
			"with_vector":  false,
		}
		if offset != nil {
			body["offset"] = *offset
		}

		var out response[scrollResult]
		resp, err := s.client.R().SetContext(ctx).
			SetBody(body).
			SetResult(&out).
			Post(s.path("points/scroll"))
		if isNotFound(resp, err) {
			return nil, nil
		}
		if err := check(resp, err, "scrolling points"); err != nil {
			return nil, err
		}

		points = append(points, out.Result.Points...)
		if out.Result.NextPageOffset == nil || len(out.Result.Points) == 0 {
			break
		}
		offset = out.Result.NextPageOffset
	}

	slices.SortFunc(points, func(a, b point) int {
		switch {
		case a.Payload.Seq < b.Payload.Seq:
			return -1
		case a.Payload.Seq > b.Payload.Seq:
			return 1
		default:
			return 0
		}
	})

	fps := make([]domain.StoredFingerprint, 0, len(points))
	for _, p := range points {
		bits, err := strconv.ParseUint(p.Payload.Fingerprint, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing fingerprint of %s: %w", p.Payload.PassageID, err)
		}
		fps = append(fps, domain.StoredFingerprint{
			PassageID:   p.Payload.PassageID,
			DocumentID:  p.Payload.DocumentID,
			Fingerprint: domain.Fingerprint(bits),
		})
	}
	return fps, nil
}

// Count returns the number of entries in the project ("" = all).
func (s *Store) Count(ctx context.Context, project string) (int, error) {
	if s.closed.Load() {
		return 0, domain.ErrStoreUnavailable
	}
	var f filter
	if project != "" {
		f.Must = []condition{matchValue("project", project)}
	}
	return s.count(ctx, f)
}

func (s *Store) count(ctx context.Context, f filter) (int, error) {
	var out response[countResult]
	resp, err := s.client.R().SetContext(ctx).
		SetBody(map[string]any{"filter": f, "exact": true}).
		SetResult(&out).
		Post(s.path("points/count"))
	if isNotFound(resp, err) {
		return 0, nil
	}
	if err := check(resp, err, "counting points"); err != nil {
		return 0, err
	}
	return out.Result.Count, nil
}

// ==================== Collection ====================

// ensureCollection creates the collection on first use.
func (s *Store) ensureCollection(ctx context.Context, dims int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	resp, err := s.client.R().SetContext(ctx).Get(s.path(""))
	switch {
	case isNotFound(resp, err):
		distance := "Cosine"
		if s.metric == domain.MetricEuclidean {
			distance = "Euclid"
		}
		resp, err = s.client.R().SetContext(ctx).
			SetBody(map[string]any{
				"vectors": map[string]any{"size": dims, "distance": distance},
			}).
			Put(s.path(""))
		if err := check(resp, err, "creating collection"); err != nil {
			return err
		}
		if err := s.createIndexes(ctx); err != nil {
			return err
		}
	default:
		if err := check(resp, err, "getting collection"); err != nil {
			return err
		}
	}

	s.ready = true
	return nil
}

// createIndexes adds payload indexes for the filtered keys.
func (s *Store) createIndexes(ctx context.Context) error {
	fields := map[string]string{
		"project":     "keyword",
		"document_id": "keyword",
		"date_num":    "integer",
	}
	for _, name := range []string{"project", "document_id", "date_num"} {
		resp, err := s.client.R().SetContext(ctx).
			SetQueryParam("wait", "true").
			SetBody(map[string]any{"field_name": name, "field_schema": fields[name]}).
			Put(s.path("index"))
		if err := check(resp, err, "creating index on "+name); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) getPoint(ctx context.Context, id string) (*payload, error) {
	var out response[point]
	resp, err := s.client.R().SetContext(ctx).
		SetResult(&out).
		Get(s.path("points/" + id))
	if isNotFound(resp, err) {
		return nil, nil
	}
	if err := check(resp, err, "getting point"); err != nil {
		return nil, err
	}
	return &out.Result.Payload, nil
}

func (s *Store) path(suffix string) string {
	p := "/collections/" + s.collection
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

// nextSeq returns a sequence number greater than any handed out before.
// Wall-clock nanoseconds keep the order across processes.
func (s *Store) nextSeq() int64 {
	for {
		last := s.lastSeq.Load()
		next := max(last+1, time.Now().UnixNano())
		if s.lastSeq.CompareAndSwap(last, next) {
			return next
		}
	}
}

// ==================== Helper Functions ====================

// PointID maps a passage id to a Qdrant point id. UUIDs are used as-is.
func PointID(passageID string) string {
	if id, err := uuid.Parse(passageID); err == nil {
		return id.String()
	}
	return uuid.NewSHA1(pointNamespace, []byte(passageID)).String()
}

func toPayload(e domain.IndexEntry) payload {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	p := payload{
		PassageID:   e.PassageID,
		DocumentID:  e.DocumentID,
		Project:     e.Metadata.Project(),
		Origin:      e.Origin,
		Ordinal:     e.Ordinal,
		Text:        e.Text,
		Fingerprint: strconv.FormatUint(uint64(e.Fingerprint), 16),
		CreatedAt:   createdAt.UTC().Format(time.RFC3339Nano),
		Metadata:    map[string]any(e.Metadata.Clone()),
	}
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}
	if n, ok := dateNumber(e.Metadata.String(domain.KeyDate)); ok {
		p.DateNum = &n
	}
	for _, tag := range e.Metadata.Strings(domain.KeyTags) {
		p.TagsFolded = append(p.TagsFolded, strings.ToLower(tag))
	}
	return p
}

func fromPoint(p point) (domain.IndexEntry, error) {
	bits, err := strconv.ParseUint(p.Payload.Fingerprint, 16, 64)
	if err != nil {
		return domain.IndexEntry{}, fmt.Errorf("parsing fingerprint of %s: %w", p.Payload.PassageID, err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, p.Payload.CreatedAt)
	if err != nil {
		return domain.IndexEntry{}, fmt.Errorf("parsing created_at of %s: %w", p.Payload.PassageID, err)
	}
	return domain.IndexEntry{
		PassageID:   p.Payload.PassageID,
		DocumentID:  p.Payload.DocumentID,
		Origin:      p.Payload.Origin,
		Ordinal:     p.Payload.Ordinal,
		Text:        p.Payload.Text,
		Fingerprint: domain.Fingerprint(bits),
		Vector:      p.Vector,
		Metadata:    storage.MetadataFromJSON(p.Payload.Metadata),
		CreatedAt:   createdAt,
	}, nil
}

// predicateFilter translates a predicate into a Qdrant filter. Tags match
// against the lower-cased copy in the payload; results are re-checked with
// the predicate itself.
func predicateFilter(p domain.Predicate) *filter {
	var f filter
	for _, key := range sortedKeys(p.Equals) {
		field := "metadata." + key
		if key == domain.KeyProject {
			field = "project"
		}
		f.Must = append(f.Must, matchValue(field, p.Equals[key]))
	}
	for _, tag := range p.Tags {
		f.Must = append(f.Must, matchValue("tags_folded", strings.ToLower(tag)))
	}
	if p.DateFrom != "" || p.DateTo != "" {
		var b bounds
		if n, ok := dateNumber(p.DateFrom); ok {
			b.GTE = &n
		}
		if n, ok := dateNumber(p.DateTo); ok {
			b.LTE = &n
		}
		f.Must = append(f.Must, condition{Key: "date_num", Range: &b})
	}
	if len(f.Must) == 0 {
		return nil
	}
	return &f
}

func matchValue(key string, value any) condition {
	return condition{Key: key, Match: &match{Value: value}}
}

// dateNumber turns 2006-01-02 into 20060102.
func dateNumber(date string) (int64, bool) {
	t, err := time.Parse(domain.DateLayout, date)
	if err != nil {
		return 0, false
	}
	return int64(t.Year()*10000 + int(t.Month())*100 + t.Day()), true
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func isNotFound(resp *resty.Response, err error) bool {
	return err == nil && resp != nil && resp.StatusCode() == http.StatusNotFound
}

// check turns transport failures and server errors into
// domain.ErrStoreUnavailable and other non-2xx responses into errors.
func check(resp *resty.Response, err error, op string) error {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("%s: %w", op, err)
		}
		return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
	}
	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return nil
	case code >= 500 || code == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w: qdrant returned %d: %s", op, domain.ErrStoreUnavailable, code, resp.String())
	default:
		return fmt.Errorf("%s: qdrant returned %d: %s", op, code, resp.String())
	}
}
