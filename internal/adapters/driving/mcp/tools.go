package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/metadata"
)

// mcpOrigin is the Origin of documents ingested through the ingest_text tool.
const mcpOrigin = "mcp"

// RetrieveInput is the input schema for the retrieve tool.
type RetrieveInput struct {
	Query   string            `json:"query" jsonschema:"the question or topic to find passages for"`
	Project string            `json:"project" jsonschema:"the project namespace to search"`
	K       int               `json:"k,omitempty" jsonschema:"number of results to return (default from settings)"`
	Tags    []string          `json:"tags,omitempty" jsonschema:"only return passages carrying every tag"`
	Where   map[string]string `json:"where,omitempty" jsonschema:"metadata key/value pairs results must match"`
	Since   string            `json:"since,omitempty" jsonschema:"earliest publication date (inclusive)"`
	Until   string            `json:"until,omitempty" jsonschema:"latest publication date (inclusive)"`
}

// RetrieveOutput is the output schema for the retrieve tool.
type RetrieveOutput struct {
	Results []ResultOutput `json:"results"`
	Count   int            `json:"count"`
	Message string         `json:"message,omitempty"`
}

// ResultOutput represents a single retrieved passage.
type ResultOutput struct {
	PassageID  string   `json:"passage_id"`
	Text       string   `json:"text"`
	Distance   float64  `json:"distance"`
	DocumentID string   `json:"document_id"`
	Origin     string   `json:"origin"`
	Ordinal    int      `json:"ordinal"`
	Title      string   `json:"title,omitempty"`
	Source     string   `json:"source,omitempty"`
	URL        string   `json:"url,omitempty"`
	Date       string   `json:"date,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// IngestTextInput is the input schema for the ingest_text tool.
type IngestTextInput struct {
	Project string   `json:"project" jsonschema:"the project namespace to store the text under"`
	Text    string   `json:"text" jsonschema:"the text to store"`
	ID      string   `json:"id,omitempty" jsonschema:"stable document id; re-using it replaces the earlier text"`
	Title   string   `json:"title,omitempty" jsonschema:"document title"`
	Source  string   `json:"source,omitempty" jsonschema:"where the text came from"`
	Date    string   `json:"date,omitempty" jsonschema:"publication date"`
	Tags    []string `json:"tags,omitempty" jsonschema:"tags applied to every passage"`
}

// IngestTextOutput is the output schema for the ingest_text tool.
type IngestTextOutput struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
	Passages   int    `json:"passages"`
	Stored     int    `json:"stored"`
	Duplicates int    `json:"duplicates"`
	Message    string `json:"message,omitempty"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "retrieve",
		Description: "Find passages from the project's research library that are semantically closest to the query",
	}, s.handleRetrieve)

	if s.ports.Ingest != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "ingest_text",
			Description: "Store a piece of text in the project's research library so it can be retrieved later",
		}, s.handleIngestText)
	}
}

// handleRetrieve handles the retrieve tool invocation. An empty match is a
// successful call with a message; any other failure is a tool error.
func (s *Server) handleRetrieve(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input RetrieveInput,
) (*mcp.CallToolResult, RetrieveOutput, error) {
	predicate, err := metadata.BuildPredicate(input.Where, input.Tags, input.Since, input.Until)
	if err != nil {
		return nil, RetrieveOutput{}, err
	}

	results, err := s.ports.Retrieval.Retrieve(ctx, domain.RetrievalRequest{
		Query:     input.Query,
		Project:   input.Project,
		Predicate: predicate,
		K:         input.K,
	})
	if errors.Is(err, domain.ErrNoResults) {
		msg := fmt.Sprintf("No passages in project %q match the query.", input.Project)
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		}, RetrieveOutput{Results: []ResultOutput{}, Message: msg}, nil
	}
	if err != nil {
		return nil, RetrieveOutput{}, err
	}

	output := RetrieveOutput{
		Results: make([]ResultOutput, len(results)),
		Count:   len(results),
	}
	for i := range results {
		r := &results[i]
		output.Results[i] = ResultOutput{
			PassageID:  r.PassageID,
			Text:       r.Text,
			Distance:   r.Distance,
			DocumentID: r.Provenance.DocumentID,
			Origin:     r.Provenance.Origin,
			Ordinal:    r.Provenance.Ordinal,
			Title:      r.Provenance.Title,
			Source:     r.Provenance.Source,
			URL:        r.Provenance.URL,
			Date:       r.Provenance.Date,
			Tags:       r.Metadata.Strings(domain.KeyTags),
		}
	}

	return nil, output, nil
}

// handleIngestText stores one plain-text document.
func (s *Server) handleIngestText(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input IngestTextInput,
) (*mcp.CallToolResult, IngestTextOutput, error) {
	if strings.TrimSpace(input.Text) == "" {
		return nil, IngestTextOutput{}, fmt.Errorf("%w: text is empty", domain.ErrInvalidInput)
	}

	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = uuid.NewString()
	}

	fields := map[string]any{}
	for key, value := range map[string]string{
		domain.KeyTitle:  input.Title,
		domain.KeySource: input.Source,
		domain.KeyDate:   input.Date,
	} {
		if value != "" {
			fields[key] = value
		}
	}
	if len(input.Tags) > 0 {
		fields[domain.KeyTags] = input.Tags
	}

	summary, err := s.ports.Ingest.Ingest(ctx, domain.IngestRequest{
		Project: input.Project,
		Documents: []domain.Document{{
			ID:          id,
			Origin:      mcpOrigin,
			ContentType: "text/plain",
			Content:     []byte(input.Text),
			Metadata:    fields,
			RetrievedAt: time.Now().UTC(),
		}},
	})
	if err != nil {
		return nil, IngestTextOutput{}, err
	}
	if len(summary.Outcomes) != 1 {
		return nil, IngestTextOutput{}, fmt.Errorf("ingest returned %d outcomes for one document", len(summary.Outcomes))
	}

	outcome := summary.Outcomes[0]
	output := IngestTextOutput{
		DocumentID: outcome.DocumentID,
		Status:     string(outcome.Status),
		Passages:   outcome.Passages,
		Stored:     outcome.Stored,
		Duplicates: outcome.Duplicates,
		Message:    outcome.Message,
	}
	if outcome.Status == domain.OutcomeFailed {
		return nil, output, fmt.Errorf("%s: %s", outcome.Kind, outcome.Message)
	}
	return nil, output, nil
}
