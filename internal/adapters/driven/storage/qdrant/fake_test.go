package qdrant

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
)

// fakeQdrant serves the subset of the Qdrant REST API used by Store.
type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string]*fakeCollection
	apiKey      string
	failures    int
	requests    []string
}

type fakeCollection struct {
	size     int
	distance string
	points   map[string]fakePoint
}

type fakePoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload"`
	Score   float64        `json:"score,omitempty"`
}

func newFakeQdrant(t *testing.T) (*fakeQdrant, *httptest.Server) {
	t.Helper()
	f := &fakeQdrant{collections: make(map[string]*fakeCollection)}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeQdrant) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	if f.apiKey != "" && r.Header.Get("api-key") != f.apiKey {
		writeStatus(w, http.StatusForbidden, "bad api key")
		return
	}
	if f.failures > 0 {
		f.failures--
		writeStatus(w, http.StatusServiceUnavailable, "overloaded")
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "collections" {
		writeStatus(w, http.StatusNotFound, "no route")
		return
	}
	name, rest := parts[1], parts[2:]
	c := f.collections[name]

	var body map[string]any
	if r.Body != nil && r.ContentLength != 0 {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			if c == nil {
				writeStatus(w, http.StatusNotFound, "collection not found")
				return
			}
			writeResult(w, map[string]any{"status": "green"})
		case http.MethodPut:
			vectors, _ := body["vectors"].(map[string]any)
			size, _ := vectors["size"].(float64)
			distance, _ := vectors["distance"].(string)
			f.collections[name] = &fakeCollection{
				size:     int(size),
				distance: distance,
				points:   make(map[string]fakePoint),
			}
			writeResult(w, true)
		}
		return
	}

	if c == nil {
		writeStatus(w, http.StatusNotFound, "collection not found")
		return
	}

	switch {
	case rest[0] == "index":
		writeResult(w, map[string]any{"status": "completed"})
	case len(rest) == 1 && rest[0] == "points" && r.Method == http.MethodPut:
		f.upsert(w, c, body)
	case len(rest) == 2 && rest[0] == "points" && r.Method == http.MethodGet:
		p, ok := c.points[rest[1]]
		if !ok {
			writeStatus(w, http.StatusNotFound, "point not found")
			return
		}
		writeResult(w, p)
	case len(rest) == 2 && rest[1] == "search":
		f.search(w, c, body)
	case len(rest) == 2 && rest[1] == "scroll":
		f.scroll(w, c, body)
	case len(rest) == 2 && rest[1] == "count":
		writeResult(w, map[string]any{"count": len(c.matching(body["filter"]))})
	case len(rest) == 2 && rest[1] == "delete":
		for _, p := range c.matching(body["filter"]) {
			delete(c.points, p.ID)
		}
		writeResult(w, map[string]any{"status": "completed"})
	default:
		writeStatus(w, http.StatusNotFound, "no route")
	}
}

func (f *fakeQdrant) upsert(w http.ResponseWriter, c *fakeCollection, body map[string]any) {
	raw, _ := json.Marshal(body["points"])
	var points []fakePoint
	if err := json.Unmarshal(raw, &points); err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, p := range points {
		if len(p.Vector) != c.size {
			writeStatus(w, http.StatusBadRequest, "Wrong input: Vector dimension error: expected dim: "+
				itoa(c.size)+", got "+itoa(len(p.Vector)))
			return
		}
	}
	for _, p := range points {
		c.points[p.ID] = p
	}
	writeResult(w, map[string]any{"status": "completed"})
}

func (f *fakeQdrant) search(w http.ResponseWriter, c *fakeCollection, body map[string]any) {
	raw, _ := json.Marshal(body["vector"])
	var query []float32
	_ = json.Unmarshal(raw, &query)
	limit, _ := body["limit"].(float64)
	offset, _ := body["offset"].(float64)

	points := c.matching(body["filter"])
	for i := range points {
		points[i].Score = score(c.distance, query, points[i].Vector)
	}
	// Equal scores come back in id order, unrelated to insertion.
	slices.SortFunc(points, func(a, b fakePoint) int { return strings.Compare(a.ID, b.ID) })
	slices.SortStableFunc(points, func(a, b fakePoint) int {
		if c.distance == "Euclid" {
			return cmpFloat(a.Score, b.Score)
		}
		return cmpFloat(b.Score, a.Score)
	})
	points = points[min(int(offset), len(points)):]
	if len(points) > int(limit) {
		points = points[:int(limit)]
	}
	writeResult(w, points)
}

func (f *fakeQdrant) scroll(w http.ResponseWriter, c *fakeCollection, body map[string]any) {
	limit, _ := body["limit"].(float64)
	offset, _ := body["offset"].(string)

	points := c.matching(body["filter"])
	slices.SortFunc(points, func(a, b fakePoint) int { return strings.Compare(a.ID, b.ID) })

	start := 0
	if offset != "" {
		start = slices.IndexFunc(points, func(p fakePoint) bool { return p.ID >= offset })
		if start < 0 {
			start = len(points)
		}
	}
	end := min(start+int(limit), len(points))

	var next any
	if end < len(points) {
		next = points[end].ID
	}
	page := points[start:end]
	for i := range page {
		page[i].Vector = nil
	}
	writeResult(w, map[string]any{"points": page, "next_page_offset": next})
}

// matching returns the points satisfying a filter in arbitrary order.
func (c *fakeCollection) matching(rawFilter any) []fakePoint {
	f, _ := rawFilter.(map[string]any)
	var out []fakePoint
	for _, p := range c.points {
		if matchesAll(p.Payload, f["must"], true) && matchesAll(p.Payload, f["must_not"], false) {
			out = append(out, p)
		}
	}
	return out
}

func matchesAll(payload map[string]any, rawConditions any, want bool) bool {
	conditions, _ := rawConditions.([]any)
	for _, rc := range conditions {
		cond, _ := rc.(map[string]any)
		if matchesCondition(payload, cond) != want {
			return false
		}
	}
	return true
}

func matchesCondition(payload map[string]any, cond map[string]any) bool {
	key, _ := cond["key"].(string)
	value := lookup(payload, key)

	if m, ok := cond["match"].(map[string]any); ok {
		var candidates []any
		if list, ok := value.([]any); ok {
			candidates = list
		} else if value != nil {
			candidates = []any{value}
		}
		if v, ok := m["value"]; ok {
			return slices.Contains(candidates, v)
		}
		if anyOf, ok := m["any"].([]any); ok {
			for _, v := range anyOf {
				if slices.Contains(candidates, v) {
					return true
				}
			}
		}
		return false
	}

	if r, ok := cond["range"].(map[string]any); ok {
		n, ok := value.(float64)
		if !ok {
			return false
		}
		if gte, ok := r["gte"].(float64); ok && n < gte {
			return false
		}
		if lte, ok := r["lte"].(float64); ok && n > lte {
			return false
		}
		return true
	}
	return false
}

func lookup(payload map[string]any, key string) any {
	var current any = payload
	for _, part := range strings.Split(key, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

func score(distance string, a, b []float32) float64 {
	var dot, na, nb, sq float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
		d := float64(a[i]) - float64(b[i])
		sq += d * d
	}
	if distance == "Euclid" {
		return math.Sqrt(sq)
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func itoa(n int) string {
	raw, _ := json.Marshal(n)
	return string(raw)
}

func writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "status": "ok", "time": 0.001})
}

func writeStatus(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": map[string]any{"error": msg}})
}
