// Package mcp provides an MCP (Model Context Protocol) server adapter for Jarvis.
// It lets AI assistants retrieve passages from Jarvis projects and add notes to them.
package mcp

import "errors"

// ErrMissingRetrievalService is returned when the retrieval service is not provided.
var ErrMissingRetrievalService = errors.New("mcp: retrieval service is required")
