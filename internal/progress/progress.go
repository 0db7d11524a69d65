// Package progress classifies a document's sections and aggregates them
// into a completion percentage and a next-step suggestion.
//
// Everything here is pure: it reads an in-memory document and the section
// map and returns values. Refresh is the one mutator, and it only touches
// the document's derived metadata fields.
package progress

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/HendryAvila/tierspec/internal/document"
	"github.com/HendryAvila/tierspec/internal/tiers"
)

// Status is the derived completion state of a section.
type Status string

const (
	StatusComplete Status = "complete"
	StatusPartial  Status = "partial"
	StatusMissing  Status = "missing"
)

// weight is each status's contribution to the percentage. Every section
// carries the same weight.
var weight = map[Status]float64{
	StatusComplete: 1,
	StatusPartial:  0.5,
	StatusMissing:  0,
}

// SectionStatus pairs a section with its status.
type SectionStatus struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
}

// Suggestion is the next thing to work on: a section of the current tier,
// or an upgrade to the next tier when the current one is finished.
type Suggestion struct {
	Section   string     `json:"section,omitempty"`
	UpgradeTo tiers.Tier `json:"upgrade_to,omitempty"`
}

// IsUpgrade reports whether the suggestion is a tier upgrade.
func (s Suggestion) IsUpgrade() bool { return s.UpgradeTo.Valid() }

// Info is the progress report for one document.
type Info struct {
	Tier       tiers.Tier      `json:"tier"`
	Percentage float64         `json:"percentage"`
	Statuses   []SectionStatus `json:"section_statuses"`
	Completed  []string        `json:"sections_completed"`
	Partial    []string        `json:"sections_partial"`
	Missing    []string        `json:"sections_missing"`
	Next       *Suggestion     `json:"next_suggestion,omitempty"`
}

// DefaultMinCompleteRunes is the authored length a section needs before it
// counts as complete.
const DefaultMinCompleteRunes = 1

// Calculator computes progress against the section map supplied by a
// template cache.
type Calculator struct {
	templates        *tiers.Cache
	minCompleteRunes int
	markerPatterns   []*regexp.Regexp
}

// NewCalculator creates a Calculator. minCompleteRunes below 1 means
// DefaultMinCompleteRunes.
func NewCalculator(templates *tiers.Cache, minCompleteRunes int) *Calculator {
	if templates == nil {
		templates = tiers.NewCache(nil)
	}
	if minCompleteRunes < 1 {
		minCompleteRunes = DefaultMinCompleteRunes
	}
	c := &Calculator{templates: templates, minCompleteRunes: minCompleteRunes}
	for _, m := range tiers.PlaceholderMarkers {
		pattern := regexp.QuoteMeta(m)
		if isWord(m) {
			pattern = `\b` + pattern + `\b`
		}
		c.markerPatterns = append(c.markerPatterns, regexp.MustCompile(pattern))
	}
	return c
}

// Classify returns the status of one section's content.
//
//   - Missing: empty, or nothing but guidance comments and marker lines.
//   - Partial: authored text that still carries a placeholder marker or is
//     shorter than the minimum length.
//   - Complete: anything else.
func (c *Calculator) Classify(content string) Status {
	authored := authoredLines(content)
	if len(authored) == 0 {
		return StatusMissing
	}
	text := strings.Join(authored, "\n")
	for _, p := range c.markerPatterns {
		if p.MatchString(text) {
			return StatusPartial
		}
	}
	if utf8.RuneCountInString(text) < c.minCompleteRunes {
		return StatusPartial
	}
	return StatusComplete
}

// IsPlaceholder reports whether content holds no authored text at all.
func IsPlaceholder(content string) bool {
	return len(authoredLines(content)) == 0
}

// Compute reports the progress of doc against its effective tier.
func (c *Calculator) Compute(doc *document.Document) (Info, error) {
	tier := doc.EffectiveTier()
	names, err := c.templates.Names(tier)
	if err != nil {
		return Info{}, err
	}

	info := Info{
		Tier:      tier,
		Statuses:  make([]SectionStatus, 0, len(names)),
		Completed: []string{},
		Partial:   []string{},
		Missing:   []string{},
	}
	var score float64
	for _, name := range names {
		status := StatusMissing
		if s, ok := doc.Section(name); ok {
			status = c.Classify(s.Content)
		}
		info.Statuses = append(info.Statuses, SectionStatus{Name: name, Status: status})
		score += weight[status]
		switch status {
		case StatusComplete:
			info.Completed = append(info.Completed, name)
		case StatusPartial:
			info.Partial = append(info.Partial, name)
		default:
			info.Missing = append(info.Missing, name)
		}
	}
	if len(names) > 0 {
		info.Percentage = score / float64(len(names))
	}
	info.Next = c.next(tier, info.Statuses)
	return info, nil
}

// Next returns the first section of doc's tier that is not complete, an
// upgrade suggestion when every section is complete and a higher tier
// exists, or nil when there is nothing left to do.
func (c *Calculator) Next(doc *document.Document) (*Suggestion, error) {
	info, err := c.Compute(doc)
	if err != nil {
		return nil, err
	}
	return info.Next, nil
}

func (c *Calculator) next(tier tiers.Tier, statuses []SectionStatus) *Suggestion {
	for _, s := range statuses {
		if s.Status != StatusComplete {
			return &Suggestion{Section: s.Name}
		}
	}
	if higher, ok := tier.Next(); ok {
		return &Suggestion{UpgradeTo: higher}
	}
	return nil
}

// Refresh recomputes doc's derived metadata in place and returns the report.
func (c *Calculator) Refresh(doc *document.Document) (Info, error) {
	info, err := c.Compute(doc)
	if err != nil {
		return Info{}, err
	}
	doc.Progress = info.Percentage
	doc.SectionsCompleted = append([]string{}, info.Completed...)
	doc.SectionsPartial = append([]string{}, info.Partial...)
	return info, nil
}

// --- placeholder detection ---

var commentPattern = regexp.MustCompile(`(?s)<!--.*?(-->|$)`)

// authoredLines strips guidance comments and marker-only lines and returns
// the remaining non-blank lines.
func authoredLines(content string) []string {
	stripped := commentPattern.ReplaceAllString(content, "")
	var out []string
	for _, line := range strings.Split(stripped, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || isMarkerLine(trimmed) {
			continue
		}
		out = append(out, line)
	}
	return out
}

// isMarkerLine reports whether a line is only a placeholder marker, possibly
// wrapped in list, checkbox or emphasis syntax ("- [ ] _TODO_").
func isMarkerLine(line string) bool {
	s := strings.TrimLeft(line, "-*+ ")
	s = strings.TrimPrefix(s, "[ ]")
	s = strings.Trim(s, " _*`:.")
	if s == "" {
		return false
	}
	for _, m := range tiers.PlaceholderMarkers {
		if strings.EqualFold(s, m) {
			return true
		}
	}
	return false
}

func isWord(s string) bool {
	for _, r := range s {
		if !(r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_') {
			return false
		}
	}
	return s != ""
}
