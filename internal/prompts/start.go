// Package prompts implements the MCP prompt handlers of the tierspec server.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// StartPrompt handles the spec-start MCP prompt.
// It guides the AI to create a minimal specification and fill it in.
type StartPrompt struct{}

// NewStartPrompt creates a StartPrompt.
func NewStartPrompt() *StartPrompt {
	return &StartPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StartPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("spec-start",
		mcp.WithPromptDescription(
			"Start a new living specification at the minimal tier "+
				"and fill in What, Why and Done When together.",
		),
		mcp.WithArgument("doc_id",
			mcp.ArgumentDescription("Identifier of the new document, e.g. 'user-auth'"),
		),
		mcp.WithArgument("title",
			mcp.ArgumentDescription("Human readable title of the feature"),
		),
	)
}

// Handle processes the spec-start prompt request.
func (p *StartPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	docID := "my-feature"
	if args := req.Params.Arguments; args != nil {
		if id, ok := args["doc_id"]; ok && id != "" {
			docID = id
		}
	}
	title := docID
	if args := req.Params.Arguments; args != nil {
		if t, ok := args["title"]; ok && t != "" {
			title = t
		}
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Start specification: %s", title),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"I want to write a specification for '%s'.\n\n"+
						"Please:\n"+
						"1. Run `spec_init` with doc_id='%s' and title='%s'\n"+
						"2. Ask me what we are building and why, one question at a time\n"+
						"3. Write my answers into the What, Why and Done When sections of sdd/specs/%s.md\n"+
						"4. Run `spec_refresh`, then `spec_progress`, and tell me what is still missing\n"+
						"5. Only suggest `spec_expand` once every minimal section is complete",
					title, docID, title, docID,
				)),
			},
		},
	}, nil
}
