package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	// URIScheme is the custom URI scheme for Jarvis resources.
	uriScheme = "jarvis://"

	settingsURI = uriScheme + "settings"
	fetchersURI = uriScheme + "fetchers"
)

// registerResources registers all resource handlers with the MCP server.
func (s *Server) registerResources() {
	s.server.AddResource(&mcp.Resource{
		URI:         settingsURI,
		Name:        "settings",
		Description: "Effective Jarvis settings with secrets masked",
		MIMEType:    "application/json",
	}, s.handleSettingsResource)

	s.server.AddResource(&mcp.Resource{
		URI:         fetchersURI,
		Name:        "fetchers",
		Description: "Names of the registered document fetchers",
		MIMEType:    "application/json",
	}, s.handleFetchersResource)
}

// settingsInfo is the subset of settings exposed to assistants.
type settingsInfo struct {
	EmbeddingProvider string `json:"embedding_provider"`
	EmbeddingModel    string `json:"embedding_model"`
	EmbeddingBaseURL  string `json:"embedding_base_url,omitempty"`
	APIKey            string `json:"api_key,omitempty"`
	StoreBackend      string `json:"store_backend"`
	Metric            string `json:"metric"`
	ChunkSize         int    `json:"chunk_size"`
	ChunkUnit         string `json:"chunk_unit"`
	DefaultK          int    `json:"default_k"`
	MaxK              int    `json:"max_k"`
	PerDocumentCap    int    `json:"per_document_cap"`
}

// handleSettingsResource returns the effective settings.
func (s *Server) handleSettingsResource(
	_ context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	if s.ports.Settings == nil {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	settings, err := s.ports.Settings.Get()
	if err != nil {
		return nil, fmt.Errorf("getting settings: %w", err)
	}

	info := settingsInfo{
		EmbeddingProvider: string(settings.Embedding.Provider),
		EmbeddingModel:    settings.Embedding.Model,
		EmbeddingBaseURL:  settings.Embedding.BaseURL,
		StoreBackend:      string(settings.Store.Backend),
		Metric:            string(settings.Store.Metric),
		ChunkSize:         settings.Chunk.Size,
		ChunkUnit:         string(settings.Chunk.Unit),
		DefaultK:          settings.Retrieval.DefaultK,
		MaxK:              settings.Retrieval.MaxK,
		PerDocumentCap:    settings.Retrieval.PerDocumentCap,
	}
	if settings.Embedding.APIKey != "" {
		info.APIKey = "****"
	}

	return jsonResource(req.Params.URI, info)
}

// handleFetchersResource returns the registered fetcher names.
func (s *Server) handleFetchersResource(
	_ context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	names := []string{}
	if s.ports.Fetchers != nil {
		names = append(names, s.ports.Fetchers.Names()...)
	}
	return jsonResource(req.Params.URI, names)
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling %s: %w", uri, err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}
