package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the spec-status MCP prompt.
// It instructs the AI to report where a specification stands.
type StatusPrompt struct{}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt() *StatusPrompt {
	return &StatusPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("spec-status",
		mcp.WithPromptDescription(
			"Check where a specification stands: tier, progress, "+
				"sections still to write, and recent changes.",
		),
		mcp.WithArgument("doc_id",
			mcp.ArgumentDescription("Document to report on. Leave empty to list every specification."),
		),
	)
}

// Handle processes the spec-status prompt request.
func (p *StatusPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	docID := ""
	if args := req.Params.Arguments; args != nil {
		docID = args["doc_id"]
	}

	text := "Please read the `tierspec://specs` resource and show me every specification " +
		"with its tier and progress in a compact table. Then tell me which one needs attention first."
	description := "Specification status"
	if docID != "" {
		description = fmt.Sprintf("Specification status: %s", docID)
		text = fmt.Sprintf(
			"Please run `spec_progress` and `spec_history` for doc_id='%s'.\n\n"+
				"Then:\n"+
				"1. Show the tier and progress percentage\n"+
				"2. List partial and missing sections, partial ones first\n"+
				"3. Summarize the last few changes from the history\n"+
				"4. Tell me exactly what to do next (run `spec_next_section` if unsure)",
			docID,
		)
	}

	return &mcp.GetPromptResult{
		Description: description,
		Messages: []mcp.PromptMessage{
			{
				Role:    mcp.RoleUser,
				Content: mcp.NewTextContent(text),
			},
		},
	}, nil
}
