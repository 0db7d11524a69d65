// Package watch refreshes document metadata when documents are edited
// outside the engine, for example in a text editor.
package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/HendryAvila/tierspec/internal/safety"
)

const documentExt = ".md"

// RefreshFunc recomputes one document's derived metadata.
type RefreshFunc func(docID string) error

// Watcher coalesces bursts of writes to a document into one refresh.
type Watcher struct {
	dir      string
	debounce time.Duration
	refresh  RefreshFunc

	ready chan struct{}
	once  sync.Once
}

// New returns a Watcher for the documents in dir.
func New(dir string, debounce time.Duration, refresh RefreshFunc) *Watcher {
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	return &Watcher{dir: dir, debounce: debounce, refresh: refresh, ready: make(chan struct{})}
}

// Ready is closed once the watch is registered.
func (w *Watcher) Ready() <-chan struct{} { return w.ready }

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", w.dir, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting file watcher: %w", err)
	}
	defer func() { _ = fsw.Close() }()
	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	w.once.Do(func() { close(w.ready) })

	due := make(chan string)
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			id, ok := documentID(event)
			if !ok {
				continue
			}
			if t, exists := timers[id]; exists {
				t.Reset(w.debounce)
				continue
			}
			timers[id] = time.AfterFunc(w.debounce, func() {
				select {
				case due <- id:
				case <-ctx.Done():
				}
			})

		case id := <-due:
			delete(timers, id)
			if err := w.refresh(id); err != nil {
				log.Printf("WARNING: refreshing %s after external edit: %v", id, err)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Printf("WARNING: file watcher: %v", err)
		}
	}
}

// documentID maps a write or create of <id>.md to id. Temp files, lock
// files and removals are ignored.
func documentID(event fsnotify.Event) (string, bool) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return "", false
	}
	base := filepath.Base(event.Name)
	if filepath.Ext(base) != documentExt {
		return "", false
	}
	id := strings.TrimSuffix(base, documentExt)
	if _, err := safety.ValidateIdentifier(id); err != nil {
		return "", false
	}
	return id, true
}
