package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/tierspec/internal/config"
	"github.com/HendryAvila/tierspec/internal/tiers"
)

// InitTool handles the spec_init MCP tool.
// It creates a new document at the minimal tier.
type InitTool struct {
	engine Engine
}

// NewInitTool creates an InitTool.
func NewInitTool(engine Engine) *InitTool {
	return &InitTool{engine: engine}
}

// Definition returns the MCP tool definition for registration.
func (t *InitTool) Definition() mcp.Tool {
	return mcp.NewTool("spec_init",
		mcp.WithDescription(
			"Create a new living specification at the minimal tier (What, Why, Done When). "+
				"Each section starts with guidance and a placeholder. "+
				"Expand it later with spec_expand as the work grows.",
		),
		docIDParam(),
		mcp.WithString("title",
			mcp.Description("Human readable title. Defaults to the doc_id."),
		),
	)
}

// Handle processes the spec_init tool call.
func (t *InitTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, bad := requireDocID(req)
	if bad != nil {
		return bad, nil
	}
	title := strings.TrimSpace(req.GetString("title", ""))

	doc, err := t.engine.Init(docID, title)
	if err != nil {
		return failure(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Specification Created\n\n")
	fmt.Fprintf(&b, "**Document:** `%s/%s/%s.md`\n**Tier:** %s\n\n", config.SDDDir, config.SpecsDir, docID, doc.Tier)
	b.WriteString("## Sections\n\n")
	for _, s := range doc.Sections {
		section, _ := tiers.Lookup(s.Name)
		fmt.Fprintf(&b, "- **%s**: %s\n", section.Title, section.Guidance)
	}
	b.WriteString("\n## Next Step\n\nFill in **What** first, then run `spec_progress` to see where you stand.\n")
	return mcp.NewToolResultText(b.String()), nil
}
