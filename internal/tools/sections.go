package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// AddSectionTool handles the spec_add_section MCP tool.
type AddSectionTool struct {
	engine Engine
}

// NewAddSectionTool creates an AddSectionTool.
func NewAddSectionTool(engine Engine) *AddSectionTool {
	return &AddSectionTool{engine: engine}
}

// Definition returns the MCP tool definition for registration.
func (t *AddSectionTool) Definition() mcp.Tool {
	return mcp.NewTool("spec_add_section",
		mcp.WithDescription(
			"Add one or more sections of the document's current tier, each at its canonical position "+
				"with a guidance placeholder. Sections that belong to a higher tier are refused with "+
				"a suggestion to expand first.",
		),
		docIDParam(),
		mcp.WithString("sections",
			mcp.Required(),
			mcp.Description("Comma separated section names, e.g. 'context' or 'Data Model, Testing'"),
		),
	)
}

// Handle processes the spec_add_section tool call.
func (t *AddSectionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, bad := requireDocID(req)
	if bad != nil {
		return bad, nil
	}
	names := splitList(req.GetString("sections", ""))
	if len(names) == 0 {
		return mcp.NewToolResultError("'sections' is required"), nil
	}

	result, err := t.engine.AddSections(docID, names...)
	if err != nil {
		return failure(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Sections Updated: %s\n\n", docID)
	fmt.Fprintf(&b, "**Added:** %s\n", listOrNone(result.Added))
	if len(result.Skipped) > 0 {
		fmt.Fprintf(&b, "**Already present:** %s\n", listOrNone(result.Skipped))
	}
	if result.Checkpoint != nil {
		fmt.Fprintf(&b, "**Checkpoint:** `%s`\n", result.Checkpoint.ID)
	}
	fmt.Fprintf(&b, "**Progress:** %s\n\n", percent(result.Progress.Percentage))
	b.WriteString(formatSuggestion(result.Progress.Next))
	return mcp.NewToolResultText(b.String()), nil
}

// ProgressTool handles the spec_progress MCP tool.
type ProgressTool struct {
	engine Engine
}

// NewProgressTool creates a ProgressTool.
func NewProgressTool(engine Engine) *ProgressTool {
	return &ProgressTool{engine: engine}
}

// Definition returns the MCP tool definition for registration.
func (t *ProgressTool) Definition() mcp.Tool {
	return mcp.NewTool("spec_progress",
		mcp.WithDescription(
			"Report how complete a specification is: each section of its tier is complete, "+
				"partial (placeholder markers or too short) or missing.",
		),
		docIDParam(),
	)
}

// Handle processes the spec_progress tool call.
func (t *ProgressTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, bad := requireDocID(req)
	if bad != nil {
		return bad, nil
	}
	info, err := t.engine.Progress(docID)
	if err != nil {
		return failure(err)
	}
	return mcp.NewToolResultText(formatProgress(docID, info)), nil
}

// NextSectionTool handles the spec_next_section MCP tool.
type NextSectionTool struct {
	engine Engine
}

// NewNextSectionTool creates a NextSectionTool.
func NewNextSectionTool(engine Engine) *NextSectionTool {
	return &NextSectionTool{engine: engine}
}

// Definition returns the MCP tool definition for registration.
func (t *NextSectionTool) Definition() mcp.Tool {
	return mcp.NewTool("spec_next_section",
		mcp.WithDescription(
			"Suggest what to write next: the first section that is not complete, "+
				"or the next tier once every section is done.",
		),
		docIDParam(),
	)
}

// Handle processes the spec_next_section tool call.
func (t *NextSectionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, bad := requireDocID(req)
	if bad != nil {
		return bad, nil
	}
	next, err := t.engine.Next(docID)
	if err != nil {
		return failure(err)
	}
	return mcp.NewToolResultText(formatSuggestion(next)), nil
}

// RefreshTool handles the spec_refresh MCP tool.
type RefreshTool struct {
	engine Engine
}

// NewRefreshTool creates a RefreshTool.
func NewRefreshTool(engine Engine) *RefreshTool {
	return &RefreshTool{engine: engine}
}

// Definition returns the MCP tool definition for registration.
func (t *RefreshTool) Definition() mcp.Tool {
	return mcp.NewTool("spec_refresh",
		mcp.WithDescription(
			"Recompute a document's progress metadata after its sections were edited directly. "+
				"Section text is never changed.",
		),
		docIDParam(),
	)
}

// Handle processes the spec_refresh tool call.
func (t *RefreshTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, bad := requireDocID(req)
	if bad != nil {
		return bad, nil
	}
	result, err := t.engine.Refresh(docID)
	if err != nil {
		return failure(err)
	}
	status := "Metadata was already up to date."
	if result.Changed {
		status = "Metadata updated."
	}
	return mcp.NewToolResultText(status + "\n\n" + formatProgress(docID, result.Progress)), nil
}
