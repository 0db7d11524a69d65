package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/tierspec/internal/tiers"
)

func tierParam(description string) mcp.ToolOption {
	return mcp.WithString("tier",
		mcp.Required(),
		mcp.Description(description),
		mcp.Enum(tiers.Standard.String(), tiers.Complete.String()),
	)
}

func requireTier(req mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	raw := req.GetString("tier", "")
	t, err := tiers.Parse(raw)
	if err != nil {
		return "", mcp.NewToolResultError(err.Error())
	}
	return t.String(), nil
}

// ExpandTool handles the spec_expand MCP tool.
type ExpandTool struct {
	engine Engine
}

// NewExpandTool creates an ExpandTool.
func NewExpandTool(engine Engine) *ExpandTool {
	return &ExpandTool{engine: engine}
}

// Definition returns the MCP tool definition for registration.
func (t *ExpandTool) Definition() mcp.Tool {
	return mcp.NewTool("spec_expand",
		mcp.WithDescription(
			"Expand a specification to a higher tier. Every existing section is kept byte for byte; "+
				"the new tier's missing sections are added with guidance placeholders. "+
				"A checkpoint is taken first and restored automatically if anything goes wrong.",
		),
		docIDParam(),
		tierParam("Target tier: 'standard' or 'complete'"),
	)
}

// Handle processes the spec_expand tool call.
func (t *ExpandTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, bad := requireDocID(req)
	if bad != nil {
		return bad, nil
	}
	target, bad := requireTier(req)
	if bad != nil {
		return bad, nil
	}

	result, err := t.engine.Expand(docID, target)
	if err != nil {
		return failure(err)
	}

	m := result.Merge
	var b strings.Builder
	fmt.Fprintf(&b, "# Expanded %s: %s → %s\n\n", docID, m.From, m.To)
	fmt.Fprintf(&b, "**Checkpoint:** `%s` (%s)\n", result.Checkpoint.ID, result.Checkpoint.Name)
	fmt.Fprintf(&b, "**Progress:** %s\n\n", percent(m.Progress.Percentage))
	fmt.Fprintf(&b, "**Kept unchanged:** %s\n", listOrNone(m.Preserved))
	fmt.Fprintf(&b, "**Added:** %s\n\n", listOrNone(m.Inserted))
	b.WriteString(formatSuggestion(m.Progress.Next))
	return mcp.NewToolResultText(b.String()), nil
}

// PreviewTool handles the spec_preview_expansion MCP tool.
type PreviewTool struct {
	engine Engine
}

// NewPreviewTool creates a PreviewTool.
func NewPreviewTool(engine Engine) *PreviewTool {
	return &PreviewTool{engine: engine}
}

// Definition returns the MCP tool definition for registration.
func (t *PreviewTool) Definition() mcp.Tool {
	return mcp.NewTool("spec_preview_expansion",
		mcp.WithDescription(
			"Show what spec_expand would do without changing anything: "+
				"which sections are kept, which are added, and the projected progress.",
		),
		docIDParam(),
		tierParam("Tier to preview: 'standard' or 'complete'"),
	)
}

// Handle processes the spec_preview_expansion tool call.
func (t *PreviewTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, bad := requireDocID(req)
	if bad != nil {
		return bad, nil
	}
	target, bad := requireTier(req)
	if bad != nil {
		return bad, nil
	}

	p, err := t.engine.Preview(docID, target)
	if err != nil {
		return failure(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Expansion Preview: %s → %s\n\n", p.From, p.To)
	fmt.Fprintf(&b, "**Kept unchanged:** %s\n", listOrNone(p.Kept))
	fmt.Fprintf(&b, "**Would add:** %s\n", listOrNone(p.Inserted))
	if len(p.Extra) > 0 {
		fmt.Fprintf(&b, "**Custom sections kept in place:** %s\n", listOrNone(p.Extra))
	}
	fmt.Fprintf(&b, "\n**Progress:** %s now, %s after expanding\n", percent(p.CurrentPercentage), percent(p.ProjectedPercentage))
	return mcp.NewToolResultText(b.String()), nil
}

func listOrNone(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}
