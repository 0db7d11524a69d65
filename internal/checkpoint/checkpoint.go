// Package checkpoint keeps immutable, hashed snapshots of specification
// documents and restores them.
//
// Layout, per document:
//
//	<checkpoints>/<doc-id>/000001.md    snapshot bytes
//	<checkpoints>/<doc-id>/000001.json  metadata (written last, the commit marker)
//
// A snapshot without its metadata file is an interrupted write and is
// ignored, though its sequence number is never reused.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/HendryAvila/tierspec/internal/document"
	"github.com/HendryAvila/tierspec/internal/fsutil"
	"github.com/HendryAvila/tierspec/internal/safety"
)

const (
	// DocumentExt is the extension of live documents and snapshots.
	DocumentExt = ".md"
	metaExt     = ".json"
	idWidth     = 6

	DefaultMinRetained      = 3
	DefaultRetentionDays    = 30
	DefaultMaxDocumentBytes = 5 << 20
)

// timeNow is replaced in tests to control checkpoint timestamps.
var timeNow = time.Now

// writeFile commits bytes to disk. Tests swap it to simulate a write that
// lands corrupted.
var writeFile = fsutil.WriteAtomic

// Meta describes one checkpoint.
type Meta struct {
	ID          string    `json:"id"`
	DocID       string    `json:"doc_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Tier        string    `json:"tier,omitempty"`
	Progress    float64   `json:"progress"`
	ContentHash string    `json:"content_hash"`
	SizeBytes   int64     `json:"size_bytes"`
}

// RestoreResult reports what a restore did. Safety is nil when there was no
// live document to protect.
type RestoreResult struct {
	Restored Meta  `json:"restored"`
	Safety   *Meta `json:"safety_checkpoint,omitempty"`
}

// Options configures retention and limits. Zero fields take defaults.
type Options struct {
	MinRetained      int
	RetentionDays    int
	MaxDocumentBytes int64
	Lock             fsutil.LockOptions
}

func (o Options) withDefaults() Options {
	if o.MinRetained <= 0 {
		o.MinRetained = DefaultMinRetained
	}
	if o.RetentionDays <= 0 {
		o.RetentionDays = DefaultRetentionDays
	}
	if o.MaxDocumentBytes <= 0 {
		o.MaxDocumentBytes = DefaultMaxDocumentBytes
	}
	return o
}

// Manager owns the checkpoint store for the documents under one specs
// directory.
type Manager struct {
	specsDir       string
	checkpointsDir string
	opts           Options
}

// NewManager creates a Manager. Documents live in specsDir as <id>.md and
// their checkpoints under checkpointsDir/<id>/.
func NewManager(specsDir, checkpointsDir string, opts Options) *Manager {
	return &Manager{
		specsDir:       specsDir,
		checkpointsDir: checkpointsDir,
		opts:           opts.withDefaults(),
	}
}

// Options returns the effective options.
func (m *Manager) Options() Options { return m.opts }

// DocumentPath returns the validated path of a live document.
func (m *Manager) DocumentPath(docID string) (string, error) {
	id, err := safety.ValidateIdentifier(docID)
	if err != nil {
		return "", err
	}
	return safety.Resolve(m.specsDir, string(id)+DocumentExt)
}

func (m *Manager) storeDir(docID string) (string, error) {
	id, err := safety.ValidateIdentifier(docID)
	if err != nil {
		return "", err
	}
	return safety.Resolve(m.checkpointsDir, string(id))
}

// ReadDocument returns the live document's bytes. A missing document
// yields an error wrapping fs.ErrNotExist.
func (m *Manager) ReadDocument(docID string) ([]byte, error) {
	path, err := m.DocumentPath(docID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("document %q: %w", docID, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("reading document %q: %w", docID, err)
	}
	return data, nil
}

// WriteDocument atomically replaces the live document. The caller must hold
// the document lock.
func (m *Manager) WriteDocument(docID string, data []byte) error {
	path, err := m.DocumentPath(docID)
	if err != nil {
		return err
	}
	return writeFile(path, data, 0o644)
}

// Lock runs fn while holding docID's exclusive lock.
func (m *Manager) Lock(docID string, fn func() error) error {
	path, err := m.DocumentPath(docID)
	if err != nil {
		return err
	}
	return fsutil.WithLock(path, m.opts.Lock, fn)
}

// --- Create ---

// ValidateName checks a checkpoint name. Names follow the identifier rules
// and must not be all digits, since Resolve reads a number as an id. An
// empty name is allowed and later defaults to checkpoint-<id>.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil
	}
	if _, err := safety.ValidateIdentifier(name); err != nil {
		return "", err
	}
	if allDigits(name) {
		return "", &safety.IdentifierError{Input: name, Boundary: "must not be all digits, which reads as a checkpoint id"}
	}
	return name, nil
}

// ValidateRef checks a restore reference: a numeric id or a valid name.
func ValidateRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if allDigits(ref) {
		return ref, nil
	}
	if _, err := safety.ValidateIdentifier(ref); err != nil {
		return "", err
	}
	return ref, nil
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Create snapshots the live document under name.
func (m *Manager) Create(docID, name, description string) (Meta, error) {
	if _, err := ValidateName(name); err != nil {
		return Meta{}, err
	}
	var meta Meta
	err := m.Lock(docID, func() error {
		var err error
		meta, err = m.CreateLocked(docID, name, description)
		return err
	})
	return meta, err
}

// CreateLocked is Create for callers already holding the document lock.
func (m *Manager) CreateLocked(docID, name, description string) (Meta, error) {
	data, err := m.ReadDocument(docID)
	if err != nil {
		return Meta{}, err
	}
	if size := int64(len(data)); size > m.opts.MaxDocumentBytes {
		return Meta{}, &DocumentTooLargeError{DocID: docID, Size: size, Limit: m.opts.MaxDocumentBytes}
	}
	return m.snapshot(docID, name, description, data)
}

func (m *Manager) snapshot(docID, name, description string, data []byte) (Meta, error) {
	name, err := ValidateName(name)
	if err != nil {
		return Meta{}, err
	}
	dir, err := m.storeDir(docID)
	if err != nil {
		return Meta{}, err
	}
	seq, err := lastSequence(dir)
	if err != nil {
		return Meta{}, err
	}

	header := document.ReadMetadata(data)
	meta := Meta{
		ID:          formatID(seq + 1),
		DocID:       docID,
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   timeNow().UTC(),
		Progress:    header.Progress,
		ContentHash: document.HashBytes(data),
		SizeBytes:   int64(len(data)),
	}
	if meta.Name == "" {
		meta.Name = "checkpoint-" + meta.ID
	}
	if header.Tier.Valid() {
		meta.Tier = header.Tier.String()
	}

	if err := writeFile(filepath.Join(dir, meta.ID+DocumentExt), data, 0o644); err != nil {
		return Meta{}, fmt.Errorf("writing checkpoint %s: %w", meta.ID, err)
	}
	encoded, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return Meta{}, fmt.Errorf("encoding checkpoint metadata: %w", err)
	}
	if err := writeFile(filepath.Join(dir, meta.ID+metaExt), append(encoded, '\n'), 0o644); err != nil {
		return Meta{}, fmt.Errorf("writing checkpoint metadata %s: %w", meta.ID, err)
	}
	return meta, nil
}

// lastSequence returns the highest sequence number used in dir, counting
// snapshots whose metadata never landed.
func lastSequence(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading checkpoint directory: %w", err)
	}
	highest := 0
	for _, e := range entries {
		name := e.Name()
		stem := strings.TrimSuffix(strings.TrimSuffix(name, metaExt), DocumentExt)
		if stem == name {
			continue
		}
		if n, err := strconv.Atoi(stem); err == nil && n > highest {
			highest = n
		}
	}
	return highest, nil
}

func formatID(n int) string {
	return fmt.Sprintf("%0*d", idWidth, n)
}

// --- List / Resolve ---

// List returns docID's checkpoints, oldest first.
func (m *Manager) List(docID string) ([]Meta, error) {
	dir, err := m.storeDir(docID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Meta{}, nil
		}
		return nil, fmt.Errorf("reading checkpoint directory: %w", err)
	}

	out := []Meta{}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != metaExt {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue // skip unreadable metadata
		}
		var meta Meta
		if err := json.Unmarshal(data, &meta); err != nil || meta.ID == "" {
			continue
		}
		out = append(out, meta)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Resolve finds a checkpoint by numeric id ("3" or "000003") or, failing
// that, the most recent checkpoint with the given name. A numeric ref is
// only ever an id; ValidateName keeps names from looking like one.
func (m *Manager) Resolve(docID, ref string) (Meta, error) {
	ref = strings.TrimSpace(ref)
	list, err := m.List(docID)
	if err != nil {
		return Meta{}, err
	}

	if n, err := strconv.Atoi(ref); err == nil && n > 0 {
		id := formatID(n)
		for _, meta := range list {
			if meta.ID == id {
				return meta, nil
			}
		}
	}
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Name == ref {
			return list[i], nil
		}
	}
	return Meta{}, &CheckpointNotFoundError{DocID: docID, Ref: ref}
}

// Load returns a checkpoint's bytes after verifying them against the
// recorded hash.
func (m *Manager) Load(docID string, meta Meta) ([]byte, error) {
	dir, err := m.storeDir(docID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, meta.ID+DocumentExt))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &CheckpointNotFoundError{DocID: docID, Ref: meta.ID}
		}
		return nil, fmt.Errorf("reading checkpoint %s: %w", meta.ID, err)
	}
	if got := document.HashBytes(data); got != meta.ContentHash {
		return nil, &ContentIntegrityError{
			DocID:        docID,
			CheckpointID: meta.ID,
			Op:           "load checkpoint",
			Expected:     meta.ContentHash,
			Actual:       got,
		}
	}
	return data, nil
}

// --- Restore ---

// Restore replaces the live document with checkpoint ref.
func (m *Manager) Restore(docID, ref string) (RestoreResult, error) {
	if _, err := ValidateRef(ref); err != nil {
		return RestoreResult{}, err
	}
	var result RestoreResult
	err := m.Lock(docID, func() error {
		var err error
		result, err = m.RestoreLocked(docID, ref)
		return err
	})
	return result, err
}

// RestoreLocked is Restore for callers already holding the document lock.
//
// The target is verified before anything is written, so a missing or
// corrupted checkpoint leaves the live document untouched. The current
// state is snapshotted next. If the live document does not hash to the
// checkpoint after the write, the safety snapshot is put back and a
// ContentIntegrityError is returned.
func (m *Manager) RestoreLocked(docID, ref string) (RestoreResult, error) {
	ref, err := ValidateRef(ref)
	if err != nil {
		return RestoreResult{}, err
	}
	target, err := m.Resolve(docID, ref)
	if err != nil {
		return RestoreResult{}, err
	}
	data, err := m.Load(docID, target)
	if err != nil {
		return RestoreResult{}, err
	}

	result := RestoreResult{Restored: target}
	var previous []byte
	current, err := m.ReadDocument(docID)
	switch {
	case err == nil:
		previous = current
		safetyMeta, err := m.snapshot(docID, "before-restore-"+target.ID,
			fmt.Sprintf("automatic checkpoint before restoring %s (%s)", target.ID, target.Name), current)
		if err != nil {
			return RestoreResult{}, fmt.Errorf("creating safety checkpoint: %w", err)
		}
		result.Safety = &safetyMeta
	case errors.Is(err, fs.ErrNotExist):
		// Nothing live to protect.
	default:
		return RestoreResult{}, err
	}

	if err := m.WriteDocument(docID, data); err != nil {
		return RestoreResult{}, fmt.Errorf("restoring checkpoint %s: %w", target.ID, err)
	}

	written, err := m.ReadDocument(docID)
	if err != nil {
		return RestoreResult{}, err
	}
	if got := document.HashBytes(written); got != target.ContentHash {
		integrity := &ContentIntegrityError{
			DocID:        docID,
			CheckpointID: target.ID,
			Op:           "restore",
			Expected:     target.ContentHash,
			Actual:       got,
		}
		if previous != nil {
			if rbErr := m.WriteDocument(docID, previous); rbErr != nil {
				return RestoreResult{}, fmt.Errorf("%w (rollback failed: %v)", integrity, rbErr)
			}
			integrity.RolledBack = true
		}
		return RestoreResult{}, integrity
	}
	return result, nil
}

// --- Retention ---

// Cleanup deletes every checkpoint older than olderThan. When that would
// leave fewer than MinRetained checkpoints it deletes nothing and returns a
// RetentionViolationError.
func (m *Manager) Cleanup(docID string, olderThan time.Duration) (int, error) {
	var deleted int
	err := m.Lock(docID, func() error {
		list, err := m.List(docID)
		if err != nil {
			return err
		}
		cutoff := timeNow().Add(-olderThan)
		var victims []Meta
		for _, meta := range list {
			if meta.CreatedAt.Before(cutoff) {
				victims = append(victims, meta)
			}
		}
		if len(victims) == 0 {
			return nil
		}
		if remaining := len(list) - len(victims); remaining < m.opts.MinRetained {
			return &RetentionViolationError{
				DocID:       docID,
				Requested:   len(victims),
				Remaining:   remaining,
				MinRetained: m.opts.MinRetained,
			}
		}
		deleted, err = m.remove(docID, victims)
		return err
	})
	return deleted, err
}

// Prune applies the retention policy: checkpoints older than RetentionDays
// are deleted, except the newest MinRetained, which are always kept.
func (m *Manager) Prune(docID string) (int, error) {
	var deleted int
	err := m.Lock(docID, func() error {
		list, err := m.List(docID)
		if err != nil {
			return err
		}
		if len(list) <= m.opts.MinRetained {
			return nil
		}
		cutoff := timeNow().Add(-time.Duration(m.opts.RetentionDays) * 24 * time.Hour)
		var victims []Meta
		for _, meta := range list[:len(list)-m.opts.MinRetained] {
			if meta.CreatedAt.Before(cutoff) {
				victims = append(victims, meta)
			}
		}
		deleted, err = m.remove(docID, victims)
		return err
	})
	return deleted, err
}

// remove deletes checkpoints metadata-first, so an interruption leaves at
// worst an ignored orphan snapshot.
func (m *Manager) remove(docID string, victims []Meta) (int, error) {
	dir, err := m.storeDir(docID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, meta := range victims {
		if err := os.Remove(filepath.Join(dir, meta.ID+metaExt)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return n, fmt.Errorf("deleting checkpoint %s: %w", meta.ID, err)
		}
		if err := os.Remove(filepath.Join(dir, meta.ID+DocumentExt)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return n, fmt.Errorf("deleting checkpoint %s: %w", meta.ID, err)
		}
		n++
	}
	return n, nil
}

// --- Guarded writes ---

// ReplaceLocked writes data over the live document, reads it back and hands
// the stored bytes to verify. A failed write or a verify error restores the
// live document from checkpoint before, which the caller took beforehand.
// Integrity errors returned by verify are marked as rolled back. The caller
// must hold the document lock.
func (m *Manager) ReplaceLocked(docID string, data []byte, before Meta, verify func(written []byte) error) error {
	err := m.WriteDocument(docID, data)
	if err == nil {
		var written []byte
		written, err = m.ReadDocument(docID)
		if err == nil && verify != nil {
			err = verify(written)
		}
	}
	if err == nil {
		return nil
	}

	if _, rbErr := m.RestoreLocked(docID, before.ID); rbErr != nil {
		return fmt.Errorf("%w (rollback to checkpoint %s failed: %v)", err, before.ID, rbErr)
	}
	var integrity *ContentIntegrityError
	if errors.As(err, &integrity) {
		integrity.RolledBack = true
		if integrity.CheckpointID == "" {
			integrity.CheckpointID = before.ID
		}
	}
	return err
}
