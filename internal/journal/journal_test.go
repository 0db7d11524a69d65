package journal_test

import (
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/HendryAvila/tierspec/internal/journal"
)

func newTestStore(t *testing.T) *journal.Store {
	t.Helper()
	s, err := journal.Open(filepath.Join(t.TempDir(), "sdd", "journal.db"))
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesSchema(t *testing.T) {
	s := newTestStore(t)

	var name string
	err := s.DB().QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='events'`).Scan(&name)
	if err != nil {
		t.Fatalf("events table missing: %v", err)
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := journal.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Record("auth", journal.TypeDocumentInitialized, "created", nil); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = journal.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	entries, err := s.History("auth", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries after reopen = %d, want 1", len(entries))
	}
}

func TestOpen_DriverFailure(t *testing.T) {
	restore := journal.SetOpenDB(func(string, string) (*sql.DB, error) {
		return nil, errors.New("boom")
	})
	defer restore()

	_, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("Open() error = %v, want wrapped boom", err)
	}
}

func TestRecord_StoresCloudEvent(t *testing.T) {
	s := newTestStore(t)

	data := map[string]any{"from": "minimal", "to": "standard"}
	entry, err := s.Record("auth", journal.TypeDocumentExpanded, "expanded to standard", data)
	if err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if entry.ID == "" || entry.DocID != "auth" || entry.Type != journal.TypeDocumentExpanded {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	event, err := s.Event(entry.ID)
	if err != nil {
		t.Fatalf("Event() error: %v", err)
	}
	if event.Source() != journal.Source {
		t.Errorf("source = %q, want %q", event.Source(), journal.Source)
	}
	if event.Subject() != "auth" {
		t.Errorf("subject = %q, want auth", event.Subject())
	}
	if event.DataContentType() != cloudevents.ApplicationJSON {
		t.Errorf("content type = %q", event.DataContentType())
	}

	var got map[string]string
	if err := json.Unmarshal(event.Data(), &got); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if got["to"] != "standard" {
		t.Errorf("data = %v", got)
	}
}

func TestHistory_NewestFirstAndScopedToDocument(t *testing.T) {
	s := newTestStore(t)

	for _, typ := range []string{
		journal.TypeDocumentInitialized,
		journal.TypeCheckpointCreated,
		journal.TypeDocumentExpanded,
	} {
		if _, err := s.Record("auth", typ, typ, nil); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Record("billing", journal.TypeDocumentInitialized, "other", nil); err != nil {
		t.Fatal(err)
	}

	entries, err := s.History("auth", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Type != journal.TypeDocumentExpanded || entries[1].Type != journal.TypeCheckpointCreated {
		t.Errorf("order = %s, %s", entries[0].Type, entries[1].Type)
	}
	if entries[0].Summary != journal.TypeDocumentExpanded {
		t.Errorf("summary = %q", entries[0].Summary)
	}
}

func TestHistory_UnknownDocumentIsEmpty(t *testing.T) {
	s := newTestStore(t)
	entries, err := s.History("nope", 10)
	if err != nil {
		t.Fatal(err)
	}
	if entries == nil || len(entries) != 0 {
		t.Fatalf("entries = %#v, want empty non-nil", entries)
	}
}

func TestAppend_RejectsEventWithoutSubject(t *testing.T) {
	s := newTestStore(t)
	event, err := journal.NewEvent("", journal.TypeDocumentRefreshed, "x", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Append(event); err == nil {
		t.Fatal("expected error for missing subject")
	}
}

func TestEvent_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Event("missing"); err == nil {
		t.Fatal("expected not found error")
	}
}
