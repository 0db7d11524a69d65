// Package journal records every document mutation as a CloudEvent in a
// SQLite database, giving each document an audit trail that survives
// checkpoint pruning.
package journal

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

var timeNow = time.Now

// Source is the CloudEvents source of every recorded event.
const Source = "tierspec"

// Event types.
const (
	TypeDocumentInitialized = "io.tierspec.document.initialized"
	TypeDocumentExpanded    = "io.tierspec.document.expanded"
	TypeSectionsAdded       = "io.tierspec.document.sections_added"
	TypeDocumentRefreshed   = "io.tierspec.document.refreshed"
	TypeCheckpointCreated   = "io.tierspec.checkpoint.created"
	TypeCheckpointRestored  = "io.tierspec.checkpoint.restored"
	TypeCheckpointsCleaned  = "io.tierspec.checkpoint.cleaned"
	TypeCheckpointsPruned   = "io.tierspec.checkpoint.pruned"
)

const summaryExtension = "summary"

// Entry is one journal row.
type Entry struct {
	ID      string          `json:"id"`
	DocID   string          `json:"doc_id"`
	Type    string          `json:"type"`
	Time    time.Time       `json:"time"`
	Summary string          `json:"summary"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Store is the SQLite-backed journal.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal: create data dir: %w", err)
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("journal: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS events (
			seq      INTEGER PRIMARY KEY AUTOINCREMENT,
			id       TEXT    NOT NULL UNIQUE,
			doc_id   TEXT    NOT NULL,
			type     TEXT    NOT NULL,
			time     TEXT    NOT NULL,
			summary  TEXT    NOT NULL DEFAULT '',
			payload  TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_events_doc ON events(doc_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// newID returns a time-ordered UUIDv7, falling back to a random UUID.
func newID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.New().String()
}

// NewEvent builds the CloudEvent for a mutation of docID.
func NewEvent(docID, eventType, summary string, data any) (cloudevents.Event, error) {
	event := cloudevents.NewEvent()
	event.SetSpecVersion(cloudevents.VersionV1)
	event.SetID(newID())
	event.SetSource(Source)
	event.SetType(eventType)
	event.SetSubject(docID)
	event.SetTime(timeNow().UTC())
	event.SetExtension(summaryExtension, summary)
	if data != nil {
		if err := event.SetData(cloudevents.ApplicationJSON, data); err != nil {
			return cloudevents.Event{}, fmt.Errorf("journal: encode event data: %w", err)
		}
	}
	if err := event.Validate(); err != nil {
		return cloudevents.Event{}, fmt.Errorf("journal: invalid event: %w", err)
	}
	return event, nil
}

// Append stores event. Its subject is the document id.
func (s *Store) Append(event cloudevents.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("journal: invalid event: %w", err)
	}
	if event.Subject() == "" {
		return errors.New("journal: event has no subject")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("journal: encode event: %w", err)
	}
	summary, _ := event.Extensions()[summaryExtension].(string)

	_, err = s.db.Exec(
		`INSERT INTO events (id, doc_id, type, time, summary, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID(), event.Subject(), event.Type(), event.Time().UTC().Format(time.RFC3339Nano), summary, string(payload),
	)
	if err != nil {
		return fmt.Errorf("journal: insert event: %w", err)
	}
	return nil
}

// Record builds and appends an event in one step.
func (s *Store) Record(docID, eventType, summary string, data any) (Entry, error) {
	event, err := NewEvent(docID, eventType, summary, data)
	if err != nil {
		return Entry{}, err
	}
	if err := s.Append(event); err != nil {
		return Entry{}, err
	}
	return entryFromEvent(event), nil
}

// History returns docID's most recent entries, newest first. A limit of
// zero or less means 20.
func (s *Store) History(docID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT payload FROM events WHERE doc_id = ? ORDER BY seq DESC LIMIT ?`, docID, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []Entry{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		event, err := decode(payload)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entryFromEvent(event))
	}
	return entries, rows.Err()
}

// Event returns the stored CloudEvent with the given id.
func (s *Store) Event(id string) (cloudevents.Event, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM events WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return cloudevents.Event{}, fmt.Errorf("journal: event %q not found", id)
	}
	if err != nil {
		return cloudevents.Event{}, fmt.Errorf("journal: query event: %w", err)
	}
	return decode(payload)
}

func decode(payload string) (cloudevents.Event, error) {
	var event cloudevents.Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return cloudevents.Event{}, fmt.Errorf("journal: decode event: %w", err)
	}
	return event, nil
}

func entryFromEvent(event cloudevents.Event) Entry {
	summary, _ := event.Extensions()[summaryExtension].(string)
	entry := Entry{
		ID:      event.ID(),
		DocID:   event.Subject(),
		Type:    event.Type(),
		Time:    event.Time().UTC(),
		Summary: summary,
	}
	if data := event.Data(); len(data) > 0 {
		entry.Data = json.RawMessage(data)
	}
	return entry
}
