// Package tools implements the MCP tool handlers of the tierspec server.
//
// Each tool is a struct holding its dependencies with a Definition method
// for registration and a Handle method compatible with mcp-go's
// CallToolRequest signature. Tools depend on the Engine interface rather
// than on the workspace directly.
package tools

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/tierspec/internal/builder"
	"github.com/HendryAvila/tierspec/internal/checkpoint"
	"github.com/HendryAvila/tierspec/internal/document"
	"github.com/HendryAvila/tierspec/internal/expansion"
	"github.com/HendryAvila/tierspec/internal/fsutil"
	"github.com/HendryAvila/tierspec/internal/journal"
	"github.com/HendryAvila/tierspec/internal/progress"
	"github.com/HendryAvila/tierspec/internal/safety"
	"github.com/HendryAvila/tierspec/internal/tiers"
	"github.com/HendryAvila/tierspec/internal/workspace"
)

// Engine is the set of document operations the tools call.
type Engine interface {
	Init(docID, title string) (*document.Document, error)
	Documents() ([]string, error)
	Expand(docID, target string) (expansion.Result, error)
	Preview(docID, target string) (expansion.Preview, error)
	AddSections(docID string, names ...string) (builder.Result, error)
	Progress(docID string) (progress.Info, error)
	Next(docID string) (*progress.Suggestion, error)
	Refresh(docID string) (workspace.RefreshResult, error)
	CreateCheckpoint(docID, name, description string) (checkpoint.Meta, error)
	Checkpoints(docID string) ([]checkpoint.Meta, error)
	Restore(docID, ref string) (checkpoint.RestoreResult, error)
	Cleanup(docID string, olderThan time.Duration) (int, error)
	History(docID string, limit int) ([]journal.Entry, error)
}

var _ Engine = (*workspace.Workspace)(nil)

// isUserError reports whether err is caused by the request or the state of
// the user's documents, as opposed to an unexpected failure.
func isUserError(err error) bool {
	var (
		idErr       *safety.IdentifierError
		pathErr     *safety.PathSecurityError
		templateErr *tiers.TemplateNotFoundError
		transition  *tiers.TierTransitionError
		integrity   *checkpoint.ContentIntegrityError
		notFound    *checkpoint.CheckpointNotFoundError
		retention   *checkpoint.RetentionViolationError
		tooLarge    *checkpoint.DocumentTooLargeError
		lockTimeout *fsutil.LockTimeoutError
	)
	switch {
	case errors.As(err, &idErr), errors.As(err, &pathErr),
		errors.As(err, &templateErr), errors.As(err, &transition),
		errors.As(err, &integrity), errors.As(err, &notFound),
		errors.As(err, &retention), errors.As(err, &tooLarge),
		errors.As(err, &lockTimeout):
		return true
	case errors.Is(err, fs.ErrNotExist),
		errors.Is(err, document.ErrMalformedDocument),
		errors.Is(err, workspace.ErrDocumentExists),
		errors.Is(err, workspace.ErrJournalDisabled):
		return true
	}
	return false
}

// failure converts err into the tool's result: user errors become tool
// result errors the model can act on, anything else is returned as is.
func failure(err error) (*mcp.CallToolResult, error) {
	if isUserError(err) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return nil, err
}

// requireDocID reads and validates the doc_id argument.
func requireDocID(req mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	raw := strings.TrimSpace(req.GetString("doc_id", ""))
	if raw == "" {
		return "", mcp.NewToolResultError("'doc_id' is required")
	}
	id, err := safety.ValidateIdentifier(raw)
	if err != nil {
		return "", mcp.NewToolResultError(err.Error())
	}
	return id.String(), nil
}

// docIDParam is the doc_id argument shared by every tool.
func docIDParam() mcp.ToolOption {
	return mcp.WithString("doc_id",
		mcp.Required(),
		mcp.Description("Document identifier: letters, digits, '-' and '_' (the file is sdd/specs/<doc_id>.md)"),
	)
}

func percent(p float64) string {
	return fmt.Sprintf("%.0f%%", p*100)
}

// formatProgress renders a progress report as markdown.
func formatProgress(docID string, info progress.Info) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Progress: %s\n\n", docID)
	fmt.Fprintf(&b, "**Tier:** %s\n**Progress:** %s\n\n", info.Tier, percent(info.Percentage))
	b.WriteString("| Section | Status |\n|---|---|\n")
	for _, s := range info.Statuses {
		fmt.Fprintf(&b, "| %s | %s |\n", tiers.TitleFor(s.Name), statusIcon(s.Status))
	}
	b.WriteString("\n")
	b.WriteString(formatSuggestion(info.Next))
	return b.String()
}

func statusIcon(s progress.Status) string {
	switch s {
	case progress.StatusComplete:
		return "✅ complete"
	case progress.StatusPartial:
		return "🟡 partial"
	}
	return "⬜ missing"
}

// formatSuggestion renders the next-step hint.
func formatSuggestion(next *progress.Suggestion) string {
	switch {
	case next == nil:
		return "## Next Step\n\nEvery section of the complete tier is done. Nothing left to write.\n"
	case next.IsUpgrade():
		return fmt.Sprintf("## Next Step\n\nEvery section of this tier is complete. "+
			"Use `spec_expand` with tier `%s` to add more detail.\n", next.UpgradeTo)
	}
	return fmt.Sprintf("## Next Step\n\nWork on **%s** (`%s`).\n", tiers.TitleFor(next.Section), next.Section)
}

func formatCheckpoint(m checkpoint.Meta) string {
	line := fmt.Sprintf("- `%s` **%s** (%s, %s, %s)", m.ID, m.Name,
		m.CreatedAt.Format(time.RFC3339), orDash(m.Tier), percent(m.Progress))
	if m.Description != "" {
		line += ": " + m.Description
	}
	return line
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// splitList splits a comma separated argument into trimmed, non-empty
// items.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
