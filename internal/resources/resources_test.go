package resources

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/tierspec/internal/progress"
	"github.com/HendryAvila/tierspec/internal/tiers"
)

type fakeEngine struct {
	ids  []string
	info map[string]progress.Info
}

func (f fakeEngine) Documents() ([]string, error) { return f.ids, nil }

func (f fakeEngine) Progress(id string) (progress.Info, error) {
	info, ok := f.info[id]
	if !ok {
		return progress.Info{}, errors.New("document not found")
	}
	return info, nil
}

func read(t *testing.T, fn func(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error), uri string) mcp.TextResourceContents {
	t.Helper()
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	contents, err := fn(context.Background(), req)
	if err != nil {
		t.Fatalf("read %s: %v", uri, err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("unexpected content type %T", contents[0])
	}
	return tc
}

func TestHandleSpecs(t *testing.T) {
	h := NewHandler(fakeEngine{
		ids: []string{"auth", "broken"},
		info: map[string]progress.Info{
			"auth": {Tier: tiers.Standard, Percentage: 0.5},
		},
	})

	tc := read(t, h.HandleSpecs, "tierspec://specs")
	var got []specSummary
	if err := json.Unmarshal([]byte(tc.Text), &got); err != nil {
		t.Fatalf("decode: %v\n%s", err, tc.Text)
	}
	if len(got) != 2 {
		t.Fatalf("got %d specs, want 2", len(got))
	}
	if got[0].ID != "auth" || got[0].Tier != "standard" || got[0].Percentage != 0.5 {
		t.Errorf("auth summary = %+v", got[0])
	}
	if got[1].Error == "" {
		t.Error("broken document should carry its error")
	}
}

func TestHandleProgress(t *testing.T) {
	h := NewHandler(fakeEngine{info: map[string]progress.Info{
		"auth": {Tier: tiers.Minimal, Percentage: 1, Next: &progress.Suggestion{UpgradeTo: tiers.Standard}},
	}})

	tc := read(t, h.HandleProgress, "tierspec://specs/auth/progress")
	if tc.MIMEType != "application/json" {
		t.Errorf("mime = %s", tc.MIMEType)
	}
	if !strings.Contains(tc.Text, `"upgrade_to": "standard"`) {
		t.Errorf("unexpected body:\n%s", tc.Text)
	}

	tc = read(t, h.HandleProgress, "tierspec://specs/ghost/progress")
	if !strings.HasPrefix(tc.Text, "Error:") {
		t.Errorf("missing document should be an error resource, got %s", tc.Text)
	}
}

func TestDocIDFromURI(t *testing.T) {
	tests := []struct {
		uri    string
		want   string
		wantOK bool
	}{
		{"tierspec://specs/auth/progress", "auth", true},
		{"tierspec://specs//progress", "", false},
		{"tierspec://specs/auth", "", false},
		{"sdd://specs/auth/progress", "", false},
	}
	for _, tt := range tests {
		got, ok := docIDFromURI(tt.uri)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("docIDFromURI(%q) = (%q, %v), want (%q, %v)", tt.uri, got, ok, tt.want, tt.wantOK)
		}
	}
}
