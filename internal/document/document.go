// Package document models a living specification: a metadata block
// followed by named sections in canonical tier order.
//
// The in-memory Document is the unit the pure algorithms (merge, progress)
// work on. Parse and Render convert between it and the on-disk text form;
// neither touches the filesystem.
package document

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/HendryAvila/tierspec/internal/tiers"
)

// Section is a named content slot. Content is stored normalized: no leading
// blank lines and no trailing whitespace.
type Section struct {
	Name    string
	Title   string
	Content string

	// heading and raw are the exact bytes Parse read for the heading line
	// and the body after it. Both are empty for sections built in memory.
	heading string
	raw     string
}

// intact reports whether the section still holds the text it was parsed
// from.
func (s Section) intact() bool {
	return s.heading != "" && NormalizeContent(s.raw) == s.Content
}

func (s Section) headingTitle() string {
	title, _ := atxTitle([]byte(strings.TrimRight(s.heading, "\r\n")))
	return title
}

// text is the section body as it appears on disk, without the blank lines
// around it.
func (s Section) text(nl string) string {
	if s.intact() {
		return strings.Trim(s.raw, "\r\n")
	}
	return toNewline(s.Content, nl)
}

// Document is a parsed specification document.
type Document struct {
	ID string

	// Tier is zero when the metadata block is missing or its tier field
	// could not be parsed.
	Tier              tiers.Tier
	Progress          float64
	SectionsCompleted []string
	SectionsPartial   []string
	LastCheckpoint    string
	LastUpdated       time.Time

	// Preamble is the text between the metadata block and the first
	// section heading (usually the document title).
	Preamble string
	Sections []Section

	// Source layout recorded by Parse.
	parsed      bool
	newline     string
	rawPreamble string
	extraMeta   []*yaml.Node
}

// New builds a document at tier t whose sections all hold their template
// placeholders.
func New(id, title string, t tiers.Tier, template []tiers.Section) *Document {
	doc := &Document{
		ID:                id,
		Tier:              t,
		SectionsCompleted: []string{},
		SectionsPartial:   []string{},
	}
	if title != "" {
		doc.Preamble = "# " + strings.TrimSpace(title)
	}
	for _, s := range template {
		doc.Sections = append(doc.Sections, Section{
			Name:    s.Name,
			Title:   s.Title,
			Content: tiers.Placeholder(s),
		})
	}
	return doc
}

// Index returns the position of the named section, or -1.
func (d *Document) Index(name string) int {
	for i, s := range d.Sections {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// Has reports whether the document contains the named section.
func (d *Document) Has(name string) bool {
	return d.Index(name) >= 0
}

// Section returns the named section.
func (d *Document) Section(name string) (Section, bool) {
	if i := d.Index(name); i >= 0 {
		return d.Sections[i], true
	}
	return Section{}, false
}

// Content returns the named section's content, or "" when it is absent.
func (d *Document) Content(name string) string {
	s, _ := d.Section(name)
	return s.Content
}

// SetContent replaces the named section's content. It fails when the
// section is not present; adding sections is the builder's job.
func (d *Document) SetContent(name, content string) error {
	i := d.Index(name)
	if i < 0 {
		return fmt.Errorf("section %q not present in document %q", name, d.ID)
	}
	d.Sections[i].Content = NormalizeContent(content)
	return nil
}

// Names returns the section names in document order.
func (d *Document) Names() []string {
	names := make([]string, len(d.Sections))
	for i, s := range d.Sections {
		names[i] = s.Name
	}
	return names
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	out := *d
	out.SectionsCompleted = append([]string{}, d.SectionsCompleted...)
	out.SectionsPartial = append([]string{}, d.SectionsPartial...)
	out.Sections = append([]Section(nil), d.Sections...)
	out.extraMeta = append([]*yaml.Node(nil), d.extraMeta...)
	return &out
}

// SectionsHash hashes the on-disk text of the named sections, in the order
// given, so a changed line ending or trailing space changes the hash. A
// name absent from the document hashes as absent, which differs from an
// empty section.
func (d *Document) SectionsHash(names []string) string {
	nl := d.lineEnding()
	h := sha256.New()
	for _, name := range names {
		s, ok := d.Section(name)
		if !ok {
			fmt.Fprintf(h, "%s\x00absent\x00", name)
			continue
		}
		text := s.text(nl)
		fmt.Fprintf(h, "%s\x00%d\x00%s\x00", name, len(text), text)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// lineEnding is the line ending used for text Render generates: CRLF when
// most lines of the parsed source used it, LF otherwise.
func (d *Document) lineEnding() string {
	if d.newline == "" {
		return "\n"
	}
	return d.newline
}

// NormalizeContent trims leading blank lines and trailing whitespace.
// Indentation on the first non-blank line is kept.
func NormalizeContent(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	for {
		idx := strings.IndexByte(s, '\n')
		if idx < 0 || strings.TrimSpace(s[:idx]) != "" {
			break
		}
		s = s[idx+1:]
	}
	s = strings.TrimRight(s, " \t\r\n")
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return s
}

// HashBytes returns the hex SHA-256 of data. Checkpoints and restores use
// it for full-document hashes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// EffectiveTier returns the document's tier, or Complete when the metadata
// did not yield one. Falling back to the highest tier keeps a damaged
// header from silently lowering the bar a document is checked against.
func (d *Document) EffectiveTier() tiers.Tier {
	if d.Tier.Valid() {
		return d.Tier
	}
	return tiers.Complete
}
