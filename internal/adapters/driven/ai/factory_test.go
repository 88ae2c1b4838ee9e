package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/jarvis/internal/core/domain"
)

func TestCreateEmbeddingService(t *testing.T) {
	tests := []struct {
		name      string
		settings  domain.EmbeddingSettings
		wantModel string
		wantDims  int
		wantErr   bool
	}{
		{
			name:      "ollama",
			settings:  domain.EmbeddingSettings{Provider: domain.AIProviderOllama, Model: "mxbai-embed-large"},
			wantModel: "mxbai-embed-large",
			wantDims:  1024,
		},
		{
			name:      "ollama unknown model falls back",
			settings:  domain.EmbeddingSettings{Provider: domain.AIProviderOllama, Model: "custom"},
			wantModel: "custom",
			wantDims:  768,
		},
		{
			name:      "openai",
			settings:  domain.EmbeddingSettings{Provider: domain.AIProviderOpenAI, APIKey: "sk", Model: "text-embedding-3-small"},
			wantModel: "text-embedding-3-small",
			wantDims:  1536,
		},
		{
			name:      "openai dimensions override",
			settings:  domain.EmbeddingSettings{Provider: domain.AIProviderOpenAI, APIKey: "sk", Model: "text-embedding-3-large", Dimensions: 256},
			wantModel: "text-embedding-3-large",
			wantDims:  256,
		},
		{
			name:      "hashing",
			settings:  domain.EmbeddingSettings{Provider: domain.AIProviderHashing, Model: "hashing-256"},
			wantModel: "hashing-256",
			wantDims:  256,
		},
		{
			name:     "openai without key",
			settings: domain.EmbeddingSettings{Provider: domain.AIProviderOpenAI},
			wantErr:  true,
		},
		{
			name:     "unknown provider",
			settings: domain.EmbeddingSettings{Provider: "anthropic"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := CreateEmbeddingService(tt.settings)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidInput)
				assert.Nil(t, svc)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantModel, svc.ModelName())
			assert.Equal(t, tt.wantDims, svc.Dimensions())
		})
	}
}

func TestCreateAndValidateEmbeddingService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			_, _ = w.Write([]byte(`{"models":[]}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	svc, err := CreateAndValidateEmbeddingService(context.Background(), domain.EmbeddingSettings{
		Provider: domain.AIProviderOllama,
		BaseURL:  srv.URL,
		Model:    "nomic-embed-text",
	})
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", svc.ModelName())

	_, err = CreateAndValidateEmbeddingService(context.Background(), domain.EmbeddingSettings{
		Provider: domain.AIProviderOllama,
		BaseURL:  "http://127.0.0.1:1",
	})
	assert.ErrorIs(t, err, domain.ErrEmbeddingService)

	_, err = CreateAndValidateEmbeddingService(context.Background(), domain.EmbeddingSettings{Provider: "bogus"})
	assert.ErrorIs(t, err, domain.ErrEmbeddingService)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCreateAndValidateEmbeddingService_Hashing(t *testing.T) {
	svc, err := CreateAndValidateEmbeddingService(context.Background(), domain.EmbeddingSettings{
		Provider: domain.AIProviderHashing,
	})
	require.NoError(t, err)
	assert.Equal(t, 256, svc.Dimensions())
}
