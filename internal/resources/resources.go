// Package resources implements the MCP resource handlers of the tierspec
// server.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (tierspec://...) following MCP conventions.
package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/tierspec/internal/progress"
)

const (
	specsURI       = "tierspec://specs"
	progressPrefix = specsURI + "/"
	progressSuffix = "/progress"
)

// Engine is what the resource handlers read from.
type Engine interface {
	Documents() ([]string, error)
	Progress(docID string) (progress.Info, error)
}

// Handler manages the tierspec resource endpoints.
type Handler struct {
	engine Engine
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(engine Engine) *Handler {
	return &Handler{engine: engine}
}

// SpecsResource returns the MCP resource definition for the document list.
func (h *Handler) SpecsResource() mcp.Resource {
	return mcp.NewResource(
		specsURI,
		"Specifications",
		mcp.WithResourceDescription("Every specification in the project with its tier and progress"),
		mcp.WithMIMEType("application/json"),
	)
}

// ProgressTemplate returns the resource template for one document's
// progress report.
func (h *Handler) ProgressTemplate() mcp.ResourceTemplate {
	return mcp.NewResourceTemplate(
		progressPrefix+"{id}"+progressSuffix,
		"Specification Progress",
		mcp.WithTemplateDescription("Section statuses, percentage and next suggestion for one specification"),
		mcp.WithTemplateMIMEType("application/json"),
	)
}

type specSummary struct {
	ID         string  `json:"id"`
	Tier       string  `json:"tier"`
	Percentage float64 `json:"percentage"`
	Error      string  `json:"error,omitempty"`
}

// HandleSpecs lists the documents as JSON.
func (h *Handler) HandleSpecs(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	ids, err := h.engine.Documents()
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}

	summaries := make([]specSummary, 0, len(ids))
	for _, id := range ids {
		info, err := h.engine.Progress(id)
		if err != nil {
			summaries = append(summaries, specSummary{ID: id, Error: err.Error()})
			continue
		}
		summaries = append(summaries, specSummary{ID: id, Tier: info.Tier.String(), Percentage: info.Percentage})
	}
	return jsonResource(req.Params.URI, summaries)
}

// HandleProgress returns one document's progress report as JSON.
func (h *Handler) HandleProgress(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	id, ok := docIDFromURI(req.Params.URI)
	if !ok {
		return errorResource(req.Params.URI, "expected "+progressPrefix+"<id>"+progressSuffix), nil
	}
	info, err := h.engine.Progress(id)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	return jsonResource(req.Params.URI, info)
}

func docIDFromURI(uri string) (string, bool) {
	if !strings.HasPrefix(uri, progressPrefix) || !strings.HasSuffix(uri, progressSuffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(uri, progressPrefix), progressSuffix)
	return id, id != ""
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
