package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/tierspec/internal/config"
	"github.com/HendryAvila/tierspec/internal/document"
	"github.com/HendryAvila/tierspec/internal/journal"
	"github.com/HendryAvila/tierspec/internal/workspace"
)

// --- Test helpers ---

// newTestEngine returns a journaled workspace rooted in a temp dir.
func newTestEngine(t *testing.T) *workspace.Workspace {
	t.Helper()
	root := t.TempDir()
	j, err := journal.Open(config.JournalPath(root))
	if err != nil {
		t.Fatalf("setup: open journal: %v", err)
	}
	w := workspace.New(root, config.Default(), j)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

// initDoc creates a document through the init tool.
func initDoc(t *testing.T, w *workspace.Workspace, id string) {
	t.Helper()
	result := call(t, NewInitTool(w).Handle, map[string]interface{}{"doc_id": id})
	if isErrorResult(result) {
		t.Fatalf("setup: spec_init failed: %s", getResultText(result))
	}
}

// fill writes section contents straight to the document file.
func fill(t *testing.T, w *workspace.Workspace, id string, contents map[string]string) {
	t.Helper()
	doc, err := w.Load(id)
	if err != nil {
		t.Fatalf("setup: load: %v", err)
	}
	for name, content := range contents {
		if err := doc.SetContent(name, content); err != nil {
			t.Fatalf("setup: set %s: %v", name, err)
		}
	}
	data, err := document.Render(doc)
	if err != nil {
		t.Fatalf("setup: render: %v", err)
	}
	if err := os.WriteFile(filepath.Join(w.SpecsDir(), id+".md"), data, 0o644); err != nil {
		t.Fatalf("setup: write: %v", err)
	}
}

type handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

func call(t *testing.T, h handler, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	result, err := h(context.Background(), req)
	if err != nil {
		t.Fatalf("Handle returned Go error: %v", err)
	}
	return result
}

// isErrorResult checks if the result is a tool error.
func isErrorResult(result *mcp.CallToolResult) bool {
	return result != nil && result.IsError
}

// getResultText extracts the text content from a CallToolResult.
func getResultText(result *mcp.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// --- InitTool ---

func TestInitTool_Handle_Success(t *testing.T) {
	w := newTestEngine(t)

	result := call(t, NewInitTool(w).Handle, map[string]interface{}{"doc_id": "auth", "title": "Auth"})
	if isErrorResult(result) {
		t.Fatalf("unexpected error: %s", getResultText(result))
	}
	text := getResultText(result)
	if !strings.Contains(text, "sdd/specs/auth.md") || !strings.Contains(text, "Done When") {
		t.Errorf("unexpected response:\n%s", text)
	}
	if _, err := os.Stat(filepath.Join(w.SpecsDir(), "auth.md")); err != nil {
		t.Errorf("document not written: %v", err)
	}
}

func TestInitTool_Handle_Errors(t *testing.T) {
	w := newTestEngine(t)
	initDoc(t, w, "auth")

	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"missing id", map[string]interface{}{}, "'doc_id' is required"},
		{"traversal", map[string]interface{}{"doc_id": "../../etc/passwd"}, "path"},
		{"bad char", map[string]interface{}{"doc_id": "my doc"}, "outside"},
		{"exists", map[string]interface{}{"doc_id": "auth"}, "already exists"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := call(t, NewInitTool(w).Handle, tt.args)
			if !isErrorResult(result) {
				t.Fatalf("expected tool error, got: %s", getResultText(result))
			}
			if !strings.Contains(getResultText(result), tt.want) {
				t.Errorf("error %q does not mention %q", getResultText(result), tt.want)
			}
		})
	}
}

// --- Expand / Preview ---

func TestExpandTool_Handle_Success(t *testing.T) {
	w := newTestEngine(t)
	initDoc(t, w, "auth")
	fill(t, w, "auth", map[string]string{"what": "X", "why": "Y", "done_when": "- a\n- b\n- c"})

	result := call(t, NewExpandTool(w).Handle, map[string]interface{}{"doc_id": "auth", "tier": "standard"})
	if isErrorResult(result) {
		t.Fatalf("unexpected error: %s", getResultText(result))
	}
	text := getResultText(result)
	for _, want := range []string{"minimal → standard", "000001", "43%", "context"} {
		if !strings.Contains(text, want) {
			t.Errorf("response missing %q:\n%s", want, text)
		}
	}

	doc, err := w.Load("auth")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Content("what") != "X" || doc.Content("done_when") != "- a\n- b\n- c" {
		t.Error("existing sections were not preserved")
	}
}

func TestExpandTool_Handle_Downgrade(t *testing.T) {
	w := newTestEngine(t)
	initDoc(t, w, "auth")

	result := call(t, NewExpandTool(w).Handle, map[string]interface{}{"doc_id": "auth", "tier": "minimal"})
	if !isErrorResult(result) {
		t.Fatalf("expected tool error, got: %s", getResultText(result))
	}
}

func TestExpandTool_Handle_InvalidTier(t *testing.T) {
	w := newTestEngine(t)
	initDoc(t, w, "auth")

	result := call(t, NewExpandTool(w).Handle, map[string]interface{}{"doc_id": "auth", "tier": "enterprise"})
	if !isErrorResult(result) || !strings.Contains(getResultText(result), "invalid tier") {
		t.Fatalf("expected invalid tier error, got: %s", getResultText(result))
	}
}

func TestExpandTool_Handle_MissingDocument(t *testing.T) {
	w := newTestEngine(t)
	result := call(t, NewExpandTool(w).Handle, map[string]interface{}{"doc_id": "ghost", "tier": "standard"})
	if !isErrorResult(result) {
		t.Fatalf("expected tool error, got: %s", getResultText(result))
	}
}

func TestPreviewTool_Handle(t *testing.T) {
	w := newTestEngine(t)
	initDoc(t, w, "auth")

	result := call(t, NewPreviewTool(w).Handle, map[string]interface{}{"doc_id": "auth", "tier": "complete"})
	if isErrorResult(result) {
		t.Fatalf("unexpected error: %s", getResultText(result))
	}
	if !strings.Contains(getResultText(result), "security") {
		t.Errorf("preview should list security:\n%s", getResultText(result))
	}
	list, err := w.Checkpoints("auth")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("preview took %d checkpoint(s)", len(list))
	}
}

// --- Sections ---

func TestAddSectionTool_Handle_HigherTier(t *testing.T) {
	w := newTestEngine(t)
	initDoc(t, w, "auth")

	result := call(t, NewAddSectionTool(w).Handle, map[string]interface{}{"doc_id": "auth", "sections": "security"})
	if !isErrorResult(result) {
		t.Fatalf("expected tool error, got: %s", getResultText(result))
	}
	if !strings.Contains(getResultText(result), "complete") {
		t.Errorf("error should suggest the complete tier: %s", getResultText(result))
	}
}

func TestAddSectionTool_Handle_Success(t *testing.T) {
	w := newTestEngine(t)
	initDoc(t, w, "auth")
	if _, err := w.Expand("auth", "standard"); err != nil {
		t.Fatal(err)
	}
	doc, err := w.Load("auth")
	if err != nil {
		t.Fatal(err)
	}
	i := doc.Index("testing")
	doc.Sections = append(doc.Sections[:i], doc.Sections[i+1:]...)
	data, err := document.Render(doc)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(w.SpecsDir(), "auth.md"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	result := call(t, NewAddSectionTool(w).Handle, map[string]interface{}{"doc_id": "auth", "sections": "Testing, what"})
	if isErrorResult(result) {
		t.Fatalf("unexpected error: %s", getResultText(result))
	}
	text := getResultText(result)
	if !strings.Contains(text, "**Added:** testing") || !strings.Contains(text, "**Already present:** what") {
		t.Errorf("unexpected response:\n%s", text)
	}
}

func TestAddSectionTool_Handle_MissingSections(t *testing.T) {
	w := newTestEngine(t)
	result := call(t, NewAddSectionTool(w).Handle, map[string]interface{}{"doc_id": "auth", "sections": " , "})
	if !isErrorResult(result) {
		t.Fatal("expected tool error for empty section list")
	}
}

func TestProgressAndNextTools(t *testing.T) {
	w := newTestEngine(t)
	initDoc(t, w, "auth")
	fill(t, w, "auth", map[string]string{"what": "X", "why": "Y", "done_when": "- a\n- b\n- c"})

	result := call(t, NewProgressTool(w).Handle, map[string]interface{}{"doc_id": "auth"})
	if isErrorResult(result) {
		t.Fatalf("unexpected error: %s", getResultText(result))
	}
	if !strings.Contains(getResultText(result), "100%") {
		t.Errorf("expected 100%%:\n%s", getResultText(result))
	}

	result = call(t, NewNextSectionTool(w).Handle, map[string]interface{}{"doc_id": "auth"})
	if !strings.Contains(getResultText(result), "`standard`") {
		t.Errorf("expected upgrade suggestion:\n%s", getResultText(result))
	}
}

func TestRefreshTool_Handle(t *testing.T) {
	w := newTestEngine(t)
	initDoc(t, w, "auth")
	fill(t, w, "auth", map[string]string{"what": "X"})

	result := call(t, NewRefreshTool(w).Handle, map[string]interface{}{"doc_id": "auth"})
	if !strings.Contains(getResultText(result), "Metadata updated.") {
		t.Errorf("first refresh should update:\n%s", getResultText(result))
	}
	result = call(t, NewRefreshTool(w).Handle, map[string]interface{}{"doc_id": "auth"})
	if !strings.Contains(getResultText(result), "already up to date") {
		t.Errorf("second refresh should be a no-op:\n%s", getResultText(result))
	}
}

// --- Checkpoints ---

func TestCheckpointTools_CreateListRestore(t *testing.T) {
	w := newTestEngine(t)
	initDoc(t, w, "auth")
	path := filepath.Join(w.SpecsDir(), "auth.md")
	original, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	result := call(t, NewCheckpointCreateTool(w).Handle, map[string]interface{}{"doc_id": "auth", "name": "before-expand"})
	if isErrorResult(result) {
		t.Fatalf("create failed: %s", getResultText(result))
	}
	if !strings.Contains(getResultText(result), document.HashBytes(original)) {
		t.Errorf("create response should show the hash:\n%s", getResultText(result))
	}

	if err := os.WriteFile(path, []byte("corrupted"), 0o644); err != nil {
		t.Fatal(err)
	}

	result = call(t, NewCheckpointRestoreTool(w).Handle, map[string]interface{}{"doc_id": "auth", "checkpoint": "before-expand"})
	if isErrorResult(result) {
		t.Fatalf("restore failed: %s", getResultText(result))
	}
	restored, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(restored) != string(original) {
		t.Error("restore did not bring back the original bytes")
	}

	result = call(t, NewCheckpointListTool(w).Handle, map[string]interface{}{"doc_id": "auth"})
	text := getResultText(result)
	if !strings.Contains(text, "before-expand") || !strings.Contains(text, "before-restore-000001") {
		t.Errorf("list should show both checkpoints:\n%s", text)
	}
}

func TestCheckpointRestoreTool_NotFound(t *testing.T) {
	w := newTestEngine(t)
	initDoc(t, w, "auth")
	result := call(t, NewCheckpointRestoreTool(w).Handle, map[string]interface{}{"doc_id": "auth", "checkpoint": "nope"})
	if !isErrorResult(result) {
		t.Fatalf("expected tool error, got: %s", getResultText(result))
	}
}

func TestCheckpointCleanupTool(t *testing.T) {
	w := newTestEngine(t)
	initDoc(t, w, "auth")

	result := call(t, NewCheckpointCleanupTool(w).Handle, map[string]interface{}{"doc_id": "auth"})
	if !isErrorResult(result) {
		t.Fatal("expected error without older_than_days")
	}

	result = call(t, NewCheckpointCleanupTool(w).Handle, map[string]interface{}{"doc_id": "auth", "older_than_days": 30.0})
	if isErrorResult(result) {
		t.Fatalf("unexpected error: %s", getResultText(result))
	}
	if !strings.Contains(getResultText(result), "Deleted 0") {
		t.Errorf("unexpected response: %s", getResultText(result))
	}
}

// --- History ---

func TestHistoryTool_Handle(t *testing.T) {
	w := newTestEngine(t)
	initDoc(t, w, "auth")
	if _, err := w.Expand("auth", "standard"); err != nil {
		t.Fatal(err)
	}

	result := call(t, NewHistoryTool(w).Handle, map[string]interface{}{"doc_id": "auth", "limit": 2.0})
	text := getResultText(result)
	if !strings.Contains(text, "document.expanded") || !strings.Contains(text, "checkpoint.created") {
		t.Errorf("unexpected history:\n%s", text)
	}
	if strings.Contains(text, "document.initialized") {
		t.Errorf("limit not applied:\n%s", text)
	}
}

// --- Error mapping ---

func TestFailure_UnexpectedErrorsStayGoErrors(t *testing.T) {
	result, err := failure(errors.New("disk on fire"))
	if err == nil || result != nil {
		t.Fatalf("failure() = (%v, %v), want Go error", result, err)
	}

	result, err = failure(workspace.ErrJournalDisabled)
	if err != nil || !isErrorResult(result) {
		t.Fatalf("failure() = (%v, %v), want tool error", result, err)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" context, ,Data Model ,")
	if len(got) != 2 || got[0] != "context" || got[1] != "Data Model" {
		t.Errorf("splitList() = %q", got)
	}
}
