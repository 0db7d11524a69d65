package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// CheckpointCreateTool handles the spec_checkpoint_create MCP tool.
type CheckpointCreateTool struct {
	engine Engine
}

// NewCheckpointCreateTool creates a CheckpointCreateTool.
func NewCheckpointCreateTool(engine Engine) *CheckpointCreateTool {
	return &CheckpointCreateTool{engine: engine}
}

// Definition returns the MCP tool definition for registration.
func (t *CheckpointCreateTool) Definition() mcp.Tool {
	return mcp.NewTool("spec_checkpoint_create",
		mcp.WithDescription("Save a named snapshot of a specification that can be restored later."),
		docIDParam(),
		mcp.WithString("name",
			mcp.Description("Checkpoint name, e.g. 'before-review': letters, digits, '-' and '_', not all digits. Defaults to checkpoint-<id>."),
		),
		mcp.WithString("description",
			mcp.Description("Why the snapshot was taken"),
		),
	)
}

// Handle processes the spec_checkpoint_create tool call.
func (t *CheckpointCreateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, bad := requireDocID(req)
	if bad != nil {
		return bad, nil
	}
	meta, err := t.engine.CreateCheckpoint(docID, req.GetString("name", ""), req.GetString("description", ""))
	if err != nil {
		return failure(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"# Checkpoint Created\n\n%s\n\n**SHA-256:** `%s`\n\nRestore it with `spec_checkpoint_restore` (checkpoint `%s` or `%s`).",
		formatCheckpoint(meta), meta.ContentHash, meta.ID, meta.Name,
	)), nil
}

// CheckpointListTool handles the spec_checkpoint_list MCP tool.
type CheckpointListTool struct {
	engine Engine
}

// NewCheckpointListTool creates a CheckpointListTool.
func NewCheckpointListTool(engine Engine) *CheckpointListTool {
	return &CheckpointListTool{engine: engine}
}

// Definition returns the MCP tool definition for registration.
func (t *CheckpointListTool) Definition() mcp.Tool {
	return mcp.NewTool("spec_checkpoint_list",
		mcp.WithDescription("List a specification's checkpoints, oldest first."),
		docIDParam(),
	)
}

// Handle processes the spec_checkpoint_list tool call.
func (t *CheckpointListTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, bad := requireDocID(req)
	if bad != nil {
		return bad, nil
	}
	list, err := t.engine.Checkpoints(docID)
	if err != nil {
		return failure(err)
	}
	if len(list) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No checkpoints for %s yet.", docID)), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# Checkpoints: %s\n\n", docID)
	for _, meta := range list {
		b.WriteString(formatCheckpoint(meta) + "\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

// CheckpointRestoreTool handles the spec_checkpoint_restore MCP tool.
type CheckpointRestoreTool struct {
	engine Engine
}

// NewCheckpointRestoreTool creates a CheckpointRestoreTool.
func NewCheckpointRestoreTool(engine Engine) *CheckpointRestoreTool {
	return &CheckpointRestoreTool{engine: engine}
}

// Definition returns the MCP tool definition for registration.
func (t *CheckpointRestoreTool) Definition() mcp.Tool {
	return mcp.NewTool("spec_checkpoint_restore",
		mcp.WithDescription(
			"Replace a specification with one of its checkpoints. The current version is "+
				"snapshotted first, so a restore can itself be undone.",
		),
		docIDParam(),
		mcp.WithString("checkpoint",
			mcp.Required(),
			mcp.Description("Checkpoint id (e.g. '3' or '000003') or name (the most recent with that name). A number is always read as an id."),
		),
	)
}

// Handle processes the spec_checkpoint_restore tool call.
func (t *CheckpointRestoreTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, bad := requireDocID(req)
	if bad != nil {
		return bad, nil
	}
	ref := strings.TrimSpace(req.GetString("checkpoint", ""))
	if ref == "" {
		return mcp.NewToolResultError("'checkpoint' is required"), nil
	}

	result, err := t.engine.Restore(docID, ref)
	if err != nil {
		return failure(err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# Restored %s\n\n%s\n", docID, formatCheckpoint(result.Restored))
	if result.Safety != nil {
		fmt.Fprintf(&b, "\nThe previous version was saved as checkpoint `%s`.\n", result.Safety.ID)
	}
	return mcp.NewToolResultText(b.String()), nil
}

// CheckpointCleanupTool handles the spec_checkpoint_cleanup MCP tool.
type CheckpointCleanupTool struct {
	engine Engine
}

// NewCheckpointCleanupTool creates a CheckpointCleanupTool.
func NewCheckpointCleanupTool(engine Engine) *CheckpointCleanupTool {
	return &CheckpointCleanupTool{engine: engine}
}

// Definition returns the MCP tool definition for registration.
func (t *CheckpointCleanupTool) Definition() mcp.Tool {
	return mcp.NewTool("spec_checkpoint_cleanup",
		mcp.WithDescription(
			"Delete checkpoints older than the given number of days. Refuses, deleting nothing, "+
				"when fewer than the configured minimum would remain.",
		),
		docIDParam(),
		mcp.WithNumber("older_than_days",
			mcp.Required(),
			mcp.Description("Age in days; checkpoints created before now minus this are deleted"),
		),
	)
}

// Handle processes the spec_checkpoint_cleanup tool call.
func (t *CheckpointCleanupTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, bad := requireDocID(req)
	if bad != nil {
		return bad, nil
	}
	days := req.GetFloat("older_than_days", -1)
	if days < 0 {
		return mcp.NewToolResultError("'older_than_days' must be zero or more"), nil
	}

	n, err := t.engine.Cleanup(docID, time.Duration(days*24*float64(time.Hour)))
	if err != nil {
		return failure(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Deleted %d checkpoint(s) of %s older than %g day(s).", n, docID, days)), nil
}
