package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/jarvis/internal/core/domain"
)

func TestNewEmbeddingService_Defaults(t *testing.T) {
	s := NewEmbeddingService(Config{})
	assert.Equal(t, DefaultModel, s.ModelName())
	assert.Equal(t, DefaultDimensions, s.Dimensions())
	assert.Equal(t, DefaultBaseURL, s.client.BaseURL)
	assert.NoError(t, s.Close())
}

func TestEmbeddingService_EmbedBatch(t *testing.T) {
	var got embedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		out := embedResponse{Model: got.Model}
		for i := range got.Input {
			out.Embeddings = append(out.Embeddings, []float32{float32(i), 1})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	s := NewEmbeddingService(Config{BaseURL: srv.URL + "/", Model: "all-minilm", Dimensions: 2})
	vectors, err := s.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)

	assert.Equal(t, "all-minilm", got.Model)
	assert.Equal(t, []string{"a", "b", "c"}, got.Input)
	assert.True(t, got.Truncate)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}, {2, 1}}, vectors)

	v, err := s.Embed(context.Background(), "single")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, v)
}

func TestEmbeddingService_EmbedBatch_Empty(t *testing.T) {
	s := NewEmbeddingService(Config{BaseURL: "http://127.0.0.1:1"})
	vectors, err := s.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestEmbeddingService_Errors(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		invalidInput bool
	}{
		{"model missing", http.StatusNotFound, `{"error":"model \"x\" not found"}`, true},
		{"bad request", http.StatusBadRequest, `{"error":"input too long"}`, true},
		{"rate limited", http.StatusTooManyRequests, `{"error":"slow down"}`, false},
		{"server error", http.StatusInternalServerError, `{"error":"out of memory"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			s := NewEmbeddingService(Config{BaseURL: srv.URL})
			_, err := s.EmbedBatch(context.Background(), []string{"a"})
			require.Error(t, err)
			assert.Equal(t, tt.invalidInput, errors.Is(err, domain.ErrInvalidInput), err.Error())
		})
	}
}

func TestEmbeddingService_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[[1,2]]}`))
	}))
	defer srv.Close()

	s := NewEmbeddingService(Config{BaseURL: srv.URL})
	_, err := s.EmbedBatch(context.Background(), []string{"a", "b"})
	assert.ErrorContains(t, err, "got 1 embeddings for 2 inputs")
}

func TestEmbeddingService_Ping(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/api/tags" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	require.NoError(t, NewEmbeddingService(Config{BaseURL: srv.URL}).Ping(context.Background()))
	assert.EqualValues(t, 1, calls.Load())

	err := NewEmbeddingService(Config{BaseURL: "http://127.0.0.1:1"}).Ping(context.Background())
	assert.ErrorContains(t, err, "ping failed")
}
