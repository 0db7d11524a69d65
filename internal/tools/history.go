package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// HistoryTool handles the spec_history MCP tool.
type HistoryTool struct {
	engine Engine
}

// NewHistoryTool creates a HistoryTool.
func NewHistoryTool(engine Engine) *HistoryTool {
	return &HistoryTool{engine: engine}
}

// Definition returns the MCP tool definition for registration.
func (t *HistoryTool) Definition() mcp.Tool {
	return mcp.NewTool("spec_history",
		mcp.WithDescription("Show the journal of changes made to a specification, newest first."),
		docIDParam(),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of entries (default 20)"),
			mcp.DefaultNumber(20),
		),
	)
}

// Handle processes the spec_history tool call.
func (t *HistoryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, bad := requireDocID(req)
	if bad != nil {
		return bad, nil
	}
	entries, err := t.engine.History(docID, int(req.GetFloat("limit", 20)))
	if err != nil {
		return failure(err)
	}
	if len(entries) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No history for %s yet.", docID)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# History: %s\n\n", docID)
	for _, e := range entries {
		kind := strings.TrimPrefix(e.Type, "io.tierspec.")
		fmt.Fprintf(&b, "- %s **%s** %s\n", e.Time.Format(time.RFC3339), kind, e.Summary)
	}
	return mcp.NewToolResultText(b.String()), nil
}
