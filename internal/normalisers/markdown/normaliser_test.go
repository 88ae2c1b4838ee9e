package markdown

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/core/ports/driven"
)

func TestNew(t *testing.T) {
	normaliser := New()
	require.NotNil(t, normaliser)
	assert.IsType(t, &Normaliser{}, normaliser)
}

func TestSupportedMIMETypes(t *testing.T) {
	mimeTypes := New().SupportedMIMETypes()

	require.NotEmpty(t, mimeTypes)
	assert.Contains(t, mimeTypes, "text/markdown")
	assert.Contains(t, mimeTypes, "text/x-markdown")
	assert.Len(t, mimeTypes, 2)
}

func TestSupportedOrigins(t *testing.T) {
	assert.Nil(t, New().SupportedOrigins())
}

func TestPriority(t *testing.T) {
	assert.Equal(t, 50, New().Priority())
	assert.Equal(t, "markdown", New().Name())
}

func TestNormalise_Success(t *testing.T) {
	doc := &domain.Document{
		ID:          "doc-1",
		URI:         "/notes/readme.md",
		ContentType: "text/markdown",
		Content:     []byte("# Project Notes\n\nSome **important** text with a [link](https://example.com)."),
	}

	result, err := New().Normalise(context.Background(), doc)
	require.NoError(t, err)
	require.NotNil(t, result)

	canonical := result.Document
	assert.Equal(t, "doc-1", canonical.DocumentID)
	assert.Equal(t, "Project Notes", canonical.Title)
	assert.Equal(t, "Project Notes\n\nSome important text with a link.", canonical.Text)
	assert.Equal(t, "markdown", canonical.Format)
}

func TestNormalise_NilDocument(t *testing.T) {
	result, err := New().Normalise(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Nil(t, result)
}

func TestNormalise_EmptyContent(t *testing.T) {
	result, err := New().Normalise(context.Background(), &domain.Document{
		ID: "doc-1", URI: "/empty.md", ContentType: "text/markdown",
	})
	require.NoError(t, err)
	assert.Empty(t, result.Document.Text)
	assert.Equal(t, "empty", result.Document.Title)
}

func TestNormalise_TitleExtraction(t *testing.T) {
	tests := []struct {
		name          string
		content       string
		uri           string
		metadata      map[string]any
		expectedTitle string
	}{
		{
			name:          "h1 heading",
			content:       "# My Document\n\nContent here.",
			uri:           "/doc.md",
			expectedTitle: "My Document",
		},
		{
			name:          "h1 with extra spaces",
			content:       "#    Spaced Title   \n\nContent",
			uri:           "/doc.md",
			expectedTitle: "Spaced Title",
		},
		{
			name:          "heading inside code fence ignored",
			content:       "```\n# not a title\n```\n\n# Real Title",
			uri:           "/doc.md",
			expectedTitle: "Real Title",
		},
		{
			name:          "front matter wins",
			content:       "---\ntitle: From Front Matter\n---\n# Heading",
			uri:           "/doc.md",
			expectedTitle: "From Front Matter",
		},
		{
			name:          "fetcher metadata",
			content:       "No headings here",
			uri:           "/doc.md",
			metadata:      map[string]any{"title": "Fetched"},
			expectedTitle: "Fetched",
		},
		{
			name:          "no h1 - fallback to filename",
			content:       "## Only H2\n\nContent",
			uri:           "/my_document.md",
			expectedTitle: "my document",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := New().Normalise(context.Background(), &domain.Document{
				ID:          "doc-1",
				URI:         tc.uri,
				ContentType: "text/markdown",
				Content:     []byte(tc.content),
				Metadata:    tc.metadata,
			})
			require.NoError(t, err)
			assert.Equal(t, tc.expectedTitle, result.Document.Title)
		})
	}
}

func TestNormalise_FrontMatter(t *testing.T) {
	content := "---\ntitle: Catalysts\ndate: 2022-11-03\nlang: de\nsource: lab notebook\n---\nBody text.\n"

	result, err := New().Normalise(context.Background(), &domain.Document{
		ID: "doc-1", ContentType: "text/markdown", Content: []byte(content),
	})
	require.NoError(t, err)

	canonical := result.Document
	assert.Equal(t, "Catalysts", canonical.Title)
	assert.Equal(t, "2022-11-03", canonical.PublishedAt)
	assert.Equal(t, "de", canonical.Language)
	assert.Equal(t, "lab notebook", canonical.Source)
	assert.Equal(t, "Body text.", canonical.Text)
}

func TestNormalise_InvalidFrontMatter(t *testing.T) {
	_, err := New().Normalise(context.Background(), &domain.Document{
		ID: "doc-1", ContentType: "text/markdown", Content: []byte("---\ntitle: [unclosed\n---\nBody"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "front matter")
}

func TestNormalise_ThematicBreakIsNotFrontMatter(t *testing.T) {
	result, err := New().Normalise(context.Background(), &domain.Document{
		ID: "doc-1", ContentType: "text/markdown", Content: []byte("--- not a fence\n\nText"),
	})
	require.NoError(t, err)
	assert.Contains(t, result.Document.Text, "Text")
}

func TestStripMarkdown(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "headings",
			input:    "# Title\n## Subtitle\n### Third",
			expected: "Title\nSubtitle\nThird",
		},
		{
			name:     "bold",
			input:    "This is **bold** text",
			expected: "This is bold text",
		},
		{
			name:     "italic",
			input:    "An *emphasised* word and _another_",
			expected: "An emphasised word and another",
		},
		{
			name:     "identifiers keep underscores",
			input:    "call snake_case_name now",
			expected: "call snake_case_name now",
		},
		{
			name:     "links",
			input:    "Click [here](https://example.com)",
			expected: "Click here",
		},
		{
			name:     "images keep alt text",
			input:    "See ![alt text](image.png) here",
			expected: "See alt text here",
		},
		{
			name:     "code block content kept",
			input:    "Before\n```go\ncode here\n```\nAfter",
			expected: "Before\n\ncode here\n\nAfter",
		},
		{
			name:     "inline code kept",
			input:    "Use `code` here",
			expected: "Use code here",
		},
		{
			name:     "blockquote",
			input:    "> This is a quote",
			expected: "This is a quote",
		},
		{
			name:     "unordered list",
			input:    "- Item 1\n- Item 2",
			expected: "Item 1\nItem 2",
		},
		{
			name:     "numbered list",
			input:    "1. First\n2. Second",
			expected: "First\nSecond",
		},
		{
			name:     "horizontal rule",
			input:    "Above\n\n---\n\nBelow",
			expected: "Above\n\nBelow",
		},
		{
			name:     "inline html",
			input:    "Text with <br/> a <span class=\"x\">span</span>",
			expected: "Text with  a span",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, stripMarkdown(tc.input))
		})
	}
}

func TestInterfaceCompliance(t *testing.T) {
	var _ driven.Normaliser = (*Normaliser)(nil)
}
