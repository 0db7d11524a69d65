// Package builder grows a document one section at a time within its current
// tier and reports how far along it is.
package builder

import (
	"fmt"
	"strings"
	"time"

	"github.com/HendryAvila/tierspec/internal/checkpoint"
	"github.com/HendryAvila/tierspec/internal/document"
	"github.com/HendryAvila/tierspec/internal/progress"
	"github.com/HendryAvila/tierspec/internal/safety"
	"github.com/HendryAvila/tierspec/internal/tiers"
)

var timeNow = time.Now

// Builder adds sections and answers progress queries.
type Builder struct {
	templates *tiers.Cache
	calc      *progress.Calculator
	store     *checkpoint.Manager
}

// New wires a Builder.
func New(templates *tiers.Cache, calc *progress.Calculator, store *checkpoint.Manager) *Builder {
	if templates == nil {
		templates = tiers.NewCache(nil)
	}
	if calc == nil {
		calc = progress.NewCalculator(templates, 0)
	}
	return &Builder{templates: templates, calc: calc, store: store}
}

// Result is the outcome of AddSection or AddSections.
type Result struct {
	Document   *document.Document
	Added      []string
	Skipped    []string
	Checkpoint *checkpoint.Meta
	Progress   progress.Info
}

// NormalizeName maps user input ("Data Model", " security ") to a section
// name.
func NormalizeName(raw string) string {
	return tiers.NameFromTitle(strings.TrimSpace(raw))
}

// Insert adds the named sections to a copy of doc and returns it. Names
// already present are reported as skipped. The whole call fails, leaving
// nothing inserted, when any name is unknown or belongs to a higher tier.
func (b *Builder) Insert(doc *document.Document, names ...string) (*document.Document, []string, []string, error) {
	current := doc.EffectiveTier()
	out := doc.Clone()
	var added, skipped []string

	for _, raw := range names {
		name := NormalizeName(raw)
		owner, known := tiers.Owner(name)
		if !known {
			return nil, nil, nil, &safety.IdentifierError{Input: raw, Boundary: "not a known section name"}
		}
		if owner > current {
			return nil, nil, nil, &tiers.TierTransitionError{
				Current:    current,
				Target:     owner,
				Section:    name,
				Suggestion: fmt.Sprintf("expand the document to %s first", owner),
			}
		}
		if out.Has(name) {
			skipped = append(skipped, name)
			continue
		}
		tmpl, err := b.templates.Section(current, name)
		if err != nil {
			return nil, nil, nil, err
		}
		insertCanonical(out, current, document.Section{
			Name:    tmpl.Name,
			Title:   tmpl.Title,
			Content: tiers.Placeholder(tmpl),
		})
		added = append(added, name)
	}
	return out, nonNil(added), nonNil(skipped), nil
}

// insertCanonical places s before the first section that comes after it in
// tier t's canonical order. Sections outside the section map are skipped
// over when comparing, so they stay attached to the section they follow.
func insertCanonical(doc *document.Document, t tiers.Tier, s document.Section) {
	want := tiers.Index(t, s.Name)
	at := len(doc.Sections)
	for i, existing := range doc.Sections {
		if idx := tiers.Index(t, existing.Name); idx > want {
			at = i
			break
		}
	}
	doc.Sections = append(doc.Sections, document.Section{})
	copy(doc.Sections[at+1:], doc.Sections[at:])
	doc.Sections[at] = s
}

// AddSection adds one section to the stored document.
func (b *Builder) AddSection(docID, name string) (Result, error) {
	return b.AddSections(docID, name)
}

// AddSections adds sections to the stored document behind a single
// checkpoint. When every name is already present nothing is written.
func (b *Builder) AddSections(docID string, names ...string) (Result, error) {
	var result Result
	err := b.store.Lock(docID, func() error {
		var err error
		result, err = b.addLocked(docID, names)
		return err
	})
	return result, err
}

func (b *Builder) addLocked(docID string, names []string) (Result, error) {
	doc, err := b.load(docID)
	if err != nil {
		return Result{}, err
	}
	out, added, skipped, err := b.Insert(doc, names...)
	if err != nil {
		return Result{}, err
	}
	if len(added) == 0 {
		info, err := b.calc.Compute(doc)
		if err != nil {
			return Result{}, err
		}
		return Result{Document: doc, Added: added, Skipped: skipped, Progress: info}, nil
	}

	cp, err := b.store.CreateLocked(docID, "before-add-sections",
		fmt.Sprintf("automatic checkpoint before adding %s", strings.Join(added, ", ")))
	if err != nil {
		return Result{}, fmt.Errorf("checkpointing before adding sections: %w", err)
	}

	out.LastCheckpoint = cp.ID
	out.LastUpdated = timeNow().UTC()
	info, err := b.calc.Refresh(out)
	if err != nil {
		return Result{}, err
	}
	data, err := document.Render(out)
	if err != nil {
		return Result{}, err
	}

	preserved := doc.Names()
	want := doc.SectionsHash(preserved)
	var written *document.Document
	err = b.store.ReplaceLocked(docID, data, cp, func(raw []byte) error {
		var err error
		written, err = document.Parse(docID, raw)
		if err != nil {
			return err
		}
		if got := written.SectionsHash(preserved); got != want {
			return &checkpoint.ContentIntegrityError{DocID: docID, Op: "add section", Expected: want, Actual: got}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Document: written, Added: added, Skipped: skipped, Checkpoint: &cp, Progress: info}, nil
}

// Progress reports the stored document's progress.
func (b *Builder) Progress(docID string) (progress.Info, error) {
	doc, err := b.load(docID)
	if err != nil {
		return progress.Info{}, err
	}
	return b.calc.Compute(doc)
}

// NextSection suggests what to work on next in the stored document.
func (b *Builder) NextSection(docID string) (*progress.Suggestion, error) {
	doc, err := b.load(docID)
	if err != nil {
		return nil, err
	}
	return b.calc.Next(doc)
}

func (b *Builder) load(docID string) (*document.Document, error) {
	data, err := b.store.ReadDocument(docID)
	if err != nil {
		return nil, err
	}
	return document.Parse(docID, data)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
