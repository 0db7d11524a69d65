// Package expansion moves a document up the tier ladder without losing a
// byte of what the author already wrote.
//
// Merge is pure: it builds the expanded document in memory and proves the
// preserved sections are unchanged. Expand wraps it with the disk sequence
// lock, checkpoint, write, re-read, verify, and rolls back on any mismatch.
package expansion

import (
	"errors"
	"fmt"
	"time"

	"github.com/HendryAvila/tierspec/internal/checkpoint"
	"github.com/HendryAvila/tierspec/internal/document"
	"github.com/HendryAvila/tierspec/internal/progress"
	"github.com/HendryAvila/tierspec/internal/tiers"
)

var (
	timeNow = time.Now
	// render is swapped in tests to simulate a write that loses content.
	render = document.Render
)

// Manager performs tier transitions.
type Manager struct {
	templates *tiers.Cache
	calc      *progress.Calculator
	store     *checkpoint.Manager
}

// NewManager wires a Manager. store may be nil for callers that only use
// the in-memory operations.
func NewManager(templates *tiers.Cache, calc *progress.Calculator, store *checkpoint.Manager) *Manager {
	if templates == nil {
		templates = tiers.NewCache(nil)
	}
	if calc == nil {
		calc = progress.NewCalculator(templates, 0)
	}
	return &Manager{templates: templates, calc: calc, store: store}
}

// CurrentTier returns doc's tier, Complete when its metadata has none.
func (m *Manager) CurrentTier(doc *document.Document) tiers.Tier {
	return doc.EffectiveTier()
}

// ValidateTier reports whether every section t requires is present in doc
// with authored content.
func (m *Manager) ValidateTier(doc *document.Document, t tiers.Tier) (bool, error) {
	names, err := m.templates.Names(t)
	if err != nil {
		return false, err
	}
	for _, name := range names {
		s, ok := doc.Section(name)
		if !ok || progress.IsPlaceholder(s.Content) {
			return false, nil
		}
	}
	return true, nil
}

// checkTransition rejects targets that are not strictly above the current
// tier. Downgrades are not supported: the way back is restoring a
// checkpoint taken before the expansion.
func (m *Manager) checkTransition(doc *document.Document, target tiers.Tier) error {
	if _, err := m.templates.Template(target); err != nil {
		return err
	}
	current := m.CurrentTier(doc)
	switch {
	case target == current:
		return &tiers.TierTransitionError{
			Current:    current,
			Target:     target,
			Suggestion: fmt.Sprintf("document is already %s", current),
		}
	case target < current:
		return &tiers.TierTransitionError{
			Current:    current,
			Target:     target,
			Suggestion: "downgrade is not supported; restore a checkpoint taken before the expansion instead",
		}
	}
	return nil
}

// --- Merge ---

// MergeResult is the outcome of an in-memory expansion.
type MergeResult struct {
	Document      *document.Document
	From          tiers.Tier
	To            tiers.Tier
	Preserved     []string
	Inserted      []string
	Extra         []string
	PreservedHash string
	Progress      progress.Info
}

// Merge returns doc expanded to target. doc itself is not modified.
//
// Every existing section is carried over unchanged, including sections the
// section map does not know about, which stay after the section they
// followed. Sections of target that doc lacks are inserted with their
// guidance placeholder at their canonical position.
func (m *Manager) Merge(doc *document.Document, target tiers.Tier) (MergeResult, error) {
	if err := m.checkTransition(doc, target); err != nil {
		return MergeResult{}, err
	}
	template, err := m.templates.Template(target)
	if err != nil {
		return MergeResult{}, err
	}

	canonical := make(map[string]bool, len(template))
	for _, s := range template {
		canonical[s.Name] = true
	}

	// Unmapped sections are anchored to the canonical section before them.
	extras := make(map[string][]document.Section)
	anchor := ""
	var extraNames []string
	for _, s := range doc.Sections {
		if canonical[s.Name] {
			anchor = s.Name
			continue
		}
		extras[anchor] = append(extras[anchor], s)
		extraNames = append(extraNames, s.Name)
	}

	out := doc.Clone()
	out.Sections = append([]document.Section(nil), extras[""]...)
	var inserted []string
	for _, t := range template {
		if existing, ok := doc.Section(t.Name); ok {
			out.Sections = append(out.Sections, existing)
			out.Sections = append(out.Sections, extras[t.Name]...)
			continue
		}
		out.Sections = append(out.Sections, document.Section{
			Name:    t.Name,
			Title:   t.Title,
			Content: tiers.Placeholder(t),
		})
		inserted = append(inserted, t.Name)
	}

	preserved := doc.Names()
	before := doc.SectionsHash(preserved)
	if after := out.SectionsHash(preserved); after != before {
		return MergeResult{}, &checkpoint.ContentIntegrityError{
			DocID:    doc.ID,
			Op:       "merge",
			Expected: before,
			Actual:   after,
		}
	}

	from := m.CurrentTier(doc)
	out.Tier = target
	out.LastUpdated = timeNow().UTC()
	info, err := m.calc.Refresh(out)
	if err != nil {
		return MergeResult{}, err
	}

	return MergeResult{
		Document:      out,
		From:          from,
		To:            target,
		Preserved:     preserved,
		Inserted:      nonNil(inserted),
		Extra:         nonNil(extraNames),
		PreservedHash: before,
		Progress:      info,
	}, nil
}

// --- Preview ---

// Preview describes what an expansion would do, without doing it.
type Preview struct {
	DocID               string     `json:"doc_id"`
	From                tiers.Tier `json:"from"`
	To                  tiers.Tier `json:"to"`
	Kept                []string   `json:"kept"`
	Inserted            []string   `json:"inserted"`
	Extra               []string   `json:"extra"`
	CurrentPercentage   float64    `json:"current_percentage"`
	ProjectedPercentage float64    `json:"projected_percentage"`
}

// Preview plans the expansion of doc to target.
func (m *Manager) Preview(doc *document.Document, target tiers.Tier) (Preview, error) {
	current, err := m.calc.Compute(doc)
	if err != nil {
		return Preview{}, err
	}
	merged, err := m.Merge(doc, target)
	if err != nil {
		return Preview{}, err
	}
	return Preview{
		DocID:               doc.ID,
		From:                merged.From,
		To:                  target,
		Kept:                merged.Preserved,
		Inserted:            merged.Inserted,
		Extra:               merged.Extra,
		CurrentPercentage:   current.Percentage,
		ProjectedPercentage: merged.Progress.Percentage,
	}, nil
}

// --- Expand ---

// Result is the outcome of Expand.
type Result struct {
	Document   *document.Document
	Checkpoint checkpoint.Meta
	Merge      MergeResult
}

// Expand expands the stored document docID to target.
func (m *Manager) Expand(docID string, target tiers.Tier) (Result, error) {
	if m.store == nil {
		return Result{}, fmt.Errorf("expansion manager has no document store")
	}
	var result Result
	err := m.store.Lock(docID, func() error {
		var err error
		result, err = m.ExpandLocked(docID, target)
		return err
	})
	return result, err
}

// ExpandLocked is Expand for callers already holding the document lock.
func (m *Manager) ExpandLocked(docID string, target tiers.Tier) (Result, error) {
	data, err := m.store.ReadDocument(docID)
	if err != nil {
		return Result{}, err
	}
	doc, err := document.Parse(docID, data)
	if err != nil {
		return Result{}, err
	}
	if err := m.checkTransition(doc, target); err != nil {
		return Result{}, err
	}

	cp, err := m.store.CreateLocked(docID, "before-expand-to-"+target.String(),
		fmt.Sprintf("automatic checkpoint before expanding %s from %s to %s", docID, m.CurrentTier(doc), target))
	if err != nil {
		return Result{}, fmt.Errorf("checkpointing before expansion: %w", err)
	}

	merged, err := m.Merge(doc, target)
	if err != nil {
		return Result{}, abandon(cp, err)
	}
	merged.Document.LastCheckpoint = cp.ID

	out, err := render(merged.Document)
	if err != nil {
		return Result{}, abandon(cp, err)
	}

	// Re-read what actually landed on disk and prove the preserved sections
	// survived the round trip.
	var reparsed *document.Document
	err = m.store.ReplaceLocked(docID, out, cp, func(written []byte) error {
		var err error
		reparsed, err = document.Parse(docID, written)
		if err != nil {
			return err
		}
		if got := reparsed.SectionsHash(merged.Preserved); got != merged.PreservedHash {
			return &checkpoint.ContentIntegrityError{
				DocID:    docID,
				Op:       "expand",
				Expected: merged.PreservedHash,
				Actual:   got,
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	return Result{Document: reparsed, Checkpoint: cp, Merge: merged}, nil
}

// abandon reports a failure that happened before anything was written. The
// live document still matches cp, so no restore (and no safety snapshot of
// identical bytes) is needed.
func abandon(cp checkpoint.Meta, cause error) error {
	var integrity *checkpoint.ContentIntegrityError
	if errors.As(cause, &integrity) {
		integrity.RolledBack = true
		integrity.CheckpointID = cp.ID
	}
	return cause
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
