// Package workspace is the operations surface of a project: every command the
// CLI and the MCP tools expose goes through a Workspace, which validates
// identifiers, holds document locks, and journals what changed.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/HendryAvila/tierspec/internal/builder"
	"github.com/HendryAvila/tierspec/internal/checkpoint"
	"github.com/HendryAvila/tierspec/internal/config"
	"github.com/HendryAvila/tierspec/internal/document"
	"github.com/HendryAvila/tierspec/internal/expansion"
	"github.com/HendryAvila/tierspec/internal/fsutil"
	"github.com/HendryAvila/tierspec/internal/journal"
	"github.com/HendryAvila/tierspec/internal/progress"
	"github.com/HendryAvila/tierspec/internal/safety"
	"github.com/HendryAvila/tierspec/internal/tiers"
)

var timeNow = time.Now

// ErrDocumentExists is returned by Init for an id that is already taken.
var ErrDocumentExists = errors.New("document already exists")

// ErrJournalDisabled is returned by History when the journal is off.
var ErrJournalDisabled = errors.New("journal is disabled (set journal = true in " + config.ConfigFile + ")")

// Workspace binds the engine components to one project root.
type Workspace struct {
	root     string
	settings config.Settings

	templates *tiers.Cache
	calc      *progress.Calculator
	store     *checkpoint.Manager
	expander  *expansion.Manager
	builder   *builder.Builder
	journal   *journal.Store // nil when disabled
}

// Open loads projectRoot's settings and opens the journal when enabled. A
// journal that cannot be opened is logged and left disabled: documents work
// without it.
func Open(projectRoot string) (*Workspace, error) {
	settings, err := config.Load(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	var j *journal.Store
	if settings.Journal {
		j, err = journal.Open(config.JournalPath(projectRoot))
		if err != nil {
			log.Printf("WARNING: journal disabled: %v", err)
			j = nil
		}
	}
	return New(projectRoot, settings, j), nil
}

// New wires a Workspace from explicit settings. j may be nil.
func New(projectRoot string, settings config.Settings, j *journal.Store) *Workspace {
	templates := tiers.NewCache(nil)
	calc := progress.NewCalculator(templates, settings.MinCompleteRunes)
	store := checkpoint.NewManager(
		config.SpecsPath(projectRoot),
		config.CheckpointsPath(projectRoot),
		checkpoint.Options{
			MinRetained:      settings.MinRetained,
			RetentionDays:    settings.RetentionDays,
			MaxDocumentBytes: settings.MaxDocumentBytes,
			Lock: fsutil.LockOptions{
				Timeout:    settings.LockTimeout,
				StaleAfter: settings.LockStaleAfter,
			},
		},
	)
	return &Workspace{
		root:      projectRoot,
		settings:  settings,
		templates: templates,
		calc:      calc,
		store:     store,
		expander:  expansion.NewManager(templates, calc, store),
		builder:   builder.New(templates, calc, store),
		journal:   j,
	}
}

// Close releases the journal.
func (w *Workspace) Close() error {
	if w.journal == nil {
		return nil
	}
	return w.journal.Close()
}

// Root returns the project root.
func (w *Workspace) Root() string { return w.root }

// Settings returns the effective settings.
func (w *Workspace) Settings() config.Settings { return w.settings }

// SpecsDir returns the directory holding the live documents.
func (w *Workspace) SpecsDir() string { return config.SpecsPath(w.root) }

func (w *Workspace) record(docID, eventType, summary string, data any) {
	if w.journal == nil {
		return
	}
	if _, err := w.journal.Record(docID, eventType, summary, data); err != nil {
		log.Printf("WARNING: journaling %s for %s: %v", eventType, docID, err)
	}
}

func validate(docID string) (string, error) {
	id, err := safety.ValidateIdentifier(docID)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// --- Documents ---

// Init creates a Minimal document whose sections hold guidance placeholders.
func (w *Workspace) Init(docID, title string) (*document.Document, error) {
	id, err := validate(docID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(title) == "" {
		title = id
	}

	var doc *document.Document
	err = w.store.Lock(id, func() error {
		if _, err := w.store.ReadDocument(id); err == nil {
			return fmt.Errorf("%q: %w", id, ErrDocumentExists)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}

		template, err := w.templates.Template(tiers.Minimal)
		if err != nil {
			return err
		}
		doc = document.New(id, title, tiers.Minimal, template)
		doc.LastUpdated = timeNow().UTC()
		if _, err := w.calc.Refresh(doc); err != nil {
			return err
		}
		data, err := document.Render(doc)
		if err != nil {
			return err
		}
		return w.store.WriteDocument(id, data)
	})
	if err != nil {
		return nil, err
	}

	w.record(id, journal.TypeDocumentInitialized, fmt.Sprintf("created %q at %s", title, tiers.Minimal),
		map[string]any{"title": title, "tier": tiers.Minimal.String()})
	return doc, nil
}

// Load parses the stored document.
func (w *Workspace) Load(docID string) (*document.Document, error) {
	id, err := validate(docID)
	if err != nil {
		return nil, err
	}
	data, err := w.store.ReadDocument(id)
	if err != nil {
		return nil, err
	}
	return document.Parse(id, data)
}

// Documents lists the ids of the documents in the specs directory.
func (w *Workspace) Documents() ([]string, error) {
	entries, err := os.ReadDir(w.SpecsDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("reading specs directory: %w", err)
	}
	ids := []string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != checkpoint.DocumentExt {
			continue
		}
		stem := strings.TrimSuffix(name, checkpoint.DocumentExt)
		if _, err := safety.ValidateIdentifier(stem); err != nil {
			continue
		}
		ids = append(ids, stem)
	}
	sort.Strings(ids)
	return ids, nil
}

// --- Tiers ---

// Expand moves a document to a higher tier. See expansion.Manager.Expand.
func (w *Workspace) Expand(docID, target string) (expansion.Result, error) {
	id, err := validate(docID)
	if err != nil {
		return expansion.Result{}, err
	}
	tier, err := tiers.Parse(target)
	if err != nil {
		return expansion.Result{}, err
	}
	result, err := w.expander.Expand(id, tier)
	if err != nil {
		return expansion.Result{}, err
	}

	w.record(id, journal.TypeCheckpointCreated, "checkpoint "+result.Checkpoint.ID+" "+result.Checkpoint.Name, result.Checkpoint)
	w.record(id, journal.TypeDocumentExpanded,
		fmt.Sprintf("expanded from %s to %s", result.Merge.From, result.Merge.To),
		map[string]any{
			"from":       result.Merge.From.String(),
			"to":         result.Merge.To.String(),
			"inserted":   result.Merge.Inserted,
			"checkpoint": result.Checkpoint.ID,
			"progress":   result.Merge.Progress.Percentage,
		})
	return result, nil
}

// Preview reports what Expand would do without writing anything.
func (w *Workspace) Preview(docID, target string) (expansion.Preview, error) {
	doc, err := w.Load(docID)
	if err != nil {
		return expansion.Preview{}, err
	}
	tier, err := tiers.Parse(target)
	if err != nil {
		return expansion.Preview{}, err
	}
	return w.expander.Preview(doc, tier)
}

// --- Sections ---

// AddSections adds sections of the document's current tier.
func (w *Workspace) AddSections(docID string, names ...string) (builder.Result, error) {
	id, err := validate(docID)
	if err != nil {
		return builder.Result{}, err
	}
	if len(names) == 0 {
		return builder.Result{}, &safety.IdentifierError{Input: "", Boundary: "no section names given"}
	}
	result, err := w.builder.AddSections(id, names...)
	if err != nil {
		return builder.Result{}, err
	}
	if result.Checkpoint != nil {
		w.record(id, journal.TypeCheckpointCreated, "checkpoint "+result.Checkpoint.ID+" "+result.Checkpoint.Name, *result.Checkpoint)
	}
	if len(result.Added) > 0 {
		w.record(id, journal.TypeSectionsAdded, "added "+strings.Join(result.Added, ", "),
			map[string]any{"added": result.Added, "skipped": result.Skipped, "progress": result.Progress.Percentage})
	}
	return result, nil
}

// Progress reports a document's progress.
func (w *Workspace) Progress(docID string) (progress.Info, error) {
	id, err := validate(docID)
	if err != nil {
		return progress.Info{}, err
	}
	return w.builder.Progress(id)
}

// Next suggests what to work on next. It returns nil when the document is
// complete at the top tier.
func (w *Workspace) Next(docID string) (*progress.Suggestion, error) {
	id, err := validate(docID)
	if err != nil {
		return nil, err
	}
	return w.builder.NextSection(id)
}

// RefreshResult is the outcome of Refresh.
type RefreshResult struct {
	Progress progress.Info
	// Changed is false when the stored metadata was already current and
	// nothing was written.
	Changed bool
}

// Refresh recomputes a document's derived metadata after it was edited
// outside the engine. Section content is never touched and no checkpoint is
// taken.
func (w *Workspace) Refresh(docID string) (RefreshResult, error) {
	id, err := validate(docID)
	if err != nil {
		return RefreshResult{}, err
	}
	var result RefreshResult
	err = w.store.Lock(id, func() error {
		var err error
		result, err = w.refreshLocked(id)
		return err
	})
	if err != nil {
		return RefreshResult{}, err
	}
	if result.Changed {
		w.record(id, journal.TypeDocumentRefreshed,
			fmt.Sprintf("progress %.2f", result.Progress.Percentage),
			map[string]any{
				"progress":           result.Progress.Percentage,
				"sections_completed": result.Progress.Completed,
				"sections_partial":   result.Progress.Partial,
			})
	}
	return result, nil
}

func (w *Workspace) refreshLocked(id string) (RefreshResult, error) {
	original, err := w.store.ReadDocument(id)
	if err != nil {
		return RefreshResult{}, err
	}
	doc, err := document.Parse(id, original)
	if err != nil {
		return RefreshResult{}, err
	}

	updated := doc.Clone()
	updated.Tier = doc.EffectiveTier()
	info, err := w.calc.Refresh(updated)
	if err != nil {
		return RefreshResult{}, err
	}
	if sameDerived(doc, updated) {
		return RefreshResult{Progress: info}, nil
	}

	updated.LastUpdated = timeNow().UTC()
	data, err := document.Render(updated)
	if err != nil {
		return RefreshResult{}, err
	}
	if err := w.store.WriteDocument(id, data); err != nil {
		return RefreshResult{}, err
	}

	names := doc.Names()
	want := doc.SectionsHash(names)
	written, err := w.store.ReadDocument(id)
	if err == nil {
		var reparsed *document.Document
		if reparsed, err = document.Parse(id, written); err == nil {
			if got := reparsed.SectionsHash(names); got != want {
				err = &checkpoint.ContentIntegrityError{DocID: id, Op: "refresh", Expected: want, Actual: got}
			}
		}
	}
	if err != nil {
		if rbErr := w.store.WriteDocument(id, original); rbErr != nil {
			return RefreshResult{}, fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		var integrity *checkpoint.ContentIntegrityError
		if errors.As(err, &integrity) {
			integrity.RolledBack = true
		}
		return RefreshResult{}, err
	}
	return RefreshResult{Progress: info, Changed: true}, nil
}

// sameDerived compares the derived metadata at the precision it is stored
// with.
func sameDerived(a, b *document.Document) bool {
	return a.Tier == b.Tier &&
		math.Round(a.Progress*10000) == math.Round(b.Progress*10000) &&
		reflect.DeepEqual(nonNil(a.SectionsCompleted), nonNil(b.SectionsCompleted)) &&
		reflect.DeepEqual(nonNil(a.SectionsPartial), nonNil(b.SectionsPartial))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// --- Checkpoints ---

// CreateCheckpoint snapshots a document.
func (w *Workspace) CreateCheckpoint(docID, name, description string) (checkpoint.Meta, error) {
	id, err := validate(docID)
	if err != nil {
		return checkpoint.Meta{}, err
	}
	if name, err = checkpoint.ValidateName(name); err != nil {
		return checkpoint.Meta{}, err
	}
	meta, err := w.store.Create(id, name, description)
	if err != nil {
		return checkpoint.Meta{}, err
	}
	w.record(id, journal.TypeCheckpointCreated, "checkpoint "+meta.ID+" "+meta.Name, meta)
	return meta, nil
}

// Checkpoints lists a document's checkpoints, oldest first.
func (w *Workspace) Checkpoints(docID string) ([]checkpoint.Meta, error) {
	id, err := validate(docID)
	if err != nil {
		return nil, err
	}
	return w.store.List(id)
}

// Restore puts checkpoint ref (an id or a name) back as the live document.
func (w *Workspace) Restore(docID, ref string) (checkpoint.RestoreResult, error) {
	id, err := validate(docID)
	if err != nil {
		return checkpoint.RestoreResult{}, err
	}
	if ref, err = checkpoint.ValidateRef(ref); err != nil {
		return checkpoint.RestoreResult{}, err
	}
	result, err := w.store.Restore(id, ref)
	if err != nil {
		return checkpoint.RestoreResult{}, err
	}
	if result.Safety != nil {
		w.record(id, journal.TypeCheckpointCreated, "checkpoint "+result.Safety.ID+" "+result.Safety.Name, *result.Safety)
	}
	w.record(id, journal.TypeCheckpointRestored,
		fmt.Sprintf("restored checkpoint %s (%s)", result.Restored.ID, result.Restored.Name), result)
	return result, nil
}

// Cleanup deletes a document's checkpoints older than olderThan, refusing
// when fewer than min_retained would remain.
func (w *Workspace) Cleanup(docID string, olderThan time.Duration) (int, error) {
	id, err := validate(docID)
	if err != nil {
		return 0, err
	}
	n, err := w.store.Cleanup(id, olderThan)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		w.record(id, journal.TypeCheckpointsCleaned, fmt.Sprintf("deleted %d checkpoint(s)", n),
			map[string]any{"deleted": n, "older_than": olderThan.String()})
	}
	return n, nil
}

// Prune applies the retention policy to one document.
func (w *Workspace) Prune(docID string) (int, error) {
	id, err := validate(docID)
	if err != nil {
		return 0, err
	}
	n, err := w.store.Prune(id)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		w.record(id, journal.TypeCheckpointsPruned, fmt.Sprintf("pruned %d checkpoint(s)", n),
			map[string]any{"deleted": n, "retention_days": w.settings.RetentionDays})
	}
	return n, nil
}

// PruneAll prunes every document that has checkpoints, including documents
// that were deleted since. It keeps going past failures and returns them
// joined.
func (w *Workspace) PruneAll() (map[string]int, error) {
	ids, err := w.checkpointedDocuments()
	if err != nil {
		return nil, err
	}
	pruned := make(map[string]int)
	var errs []error
	for _, id := range ids {
		n, err := w.Prune(id)
		if err != nil {
			errs = append(errs, fmt.Errorf("pruning %s: %w", id, err))
			continue
		}
		if n > 0 {
			pruned[id] = n
		}
	}
	return pruned, errors.Join(errs...)
}

func (w *Workspace) checkpointedDocuments() ([]string, error) {
	entries, err := os.ReadDir(config.CheckpointsPath(w.root))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("reading checkpoints directory: %w", err)
	}
	ids := []string{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := safety.ValidateIdentifier(e.Name()); err == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// --- Journal ---

// History returns a document's journal entries, newest first.
func (w *Workspace) History(docID string, limit int) ([]journal.Entry, error) {
	id, err := validate(docID)
	if err != nil {
		return nil, err
	}
	if w.journal == nil {
		return nil, ErrJournalDisabled
	}
	return w.journal.History(id, limit)
}
