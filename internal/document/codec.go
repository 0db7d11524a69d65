package document

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/HendryAvila/tierspec/internal/tiers"
)

var (
	// ErrMalformedDocument reports text that cannot be split into a metadata
	// block and sections without guessing.
	ErrMalformedDocument = errors.New("document: malformed document")
)

const (
	frontMatterFence = "---"
	timeLayout       = time.RFC3339
)

// metadata is the YAML shape of the leading metadata block.
type metadata struct {
	Tier              string   `yaml:"tier"`
	Progress          float64  `yaml:"progress"`
	SectionsCompleted []string `yaml:"sections_completed,flow"`
	SectionsPartial   []string `yaml:"sections_partial,flow"`
	LastCheckpoint    string   `yaml:"last_checkpoint,omitempty"`
	LastUpdated       string   `yaml:"last_updated,omitempty"`

	// extra holds key/value node pairs this package does not manage. They
	// are written back after the managed keys.
	extra []*yaml.Node
}

var managedKeys = map[string]bool{
	"tier":               true,
	"progress":           true,
	"sections_completed": true,
	"sections_partial":   true,
	"last_checkpoint":    true,
	"last_updated":       true,
}

// Metadata is the header information of a document, available without
// parsing its sections.
type Metadata struct {
	Tier     tiers.Tier
	Progress float64
}

// Parse decodes a document. A missing or unparseable metadata block is not
// an error: the document's Tier is left zero so callers can apply their own
// fallback. An unterminated metadata fence or a repeated section name is.
//
// Parse remembers the exact bytes of the preamble and of every section, so
// Render writes back untouched parts unchanged, line endings and trailing
// whitespace included.
func Parse(id string, data []byte) (*Document, error) {
	src := newSource(data)

	meta, body, err := splitFrontMatter(src.text)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		ID:                id,
		SectionsCompleted: []string{},
		SectionsPartial:   []string{},
		newline:           src.newline,
		parsed:            true,
	}
	if meta != nil {
		applyMetadata(doc, meta)
	}

	if err := parseSections(doc, body, src, len(src.text)-len(body)); err != nil {
		return nil, err
	}
	return doc, nil
}

// source pairs the raw bytes of a document with the LF-only text the parser
// works on, so offsets in the text can be mapped back to raw spans.
type source struct {
	raw     []byte
	text    []byte
	crs     []int // text offsets whose preceding '\r' was dropped
	newline string
}

func newSource(raw []byte) source {
	src := source{raw: raw, text: raw, newline: "\n"}
	if !bytes.Contains(raw, []byte("\r\n")) {
		return src
	}
	text := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\r' && i+1 < len(raw) && raw[i+1] == '\n' {
			src.crs = append(src.crs, len(text))
			continue
		}
		text = append(text, raw[i])
	}
	src.text = text
	if 2*len(src.crs) > bytes.Count(text, []byte("\n")) {
		src.newline = "\r\n"
	}
	return src
}

func (s source) offset(n int) int {
	return n + sort.SearchInts(s.crs, n)
}

// span returns the raw bytes behind text[start:end].
func (s source) span(start, end int) string {
	return string(s.raw[s.offset(start):s.offset(end)])
}

// ReadMetadata extracts tier and progress from a document's metadata block.
// The zero Metadata is returned when the block is missing or unparseable.
func ReadMetadata(data []byte) Metadata {
	normalized := bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	meta, _, err := splitFrontMatter(normalized)
	if err != nil || meta == nil {
		return Metadata{}
	}
	t, _ := tiers.Parse(meta.Tier)
	return Metadata{Tier: t, Progress: meta.Progress}
}

// splitFrontMatter separates the YAML metadata block from the body. It
// returns nil metadata when the document has no block or the block is not
// valid YAML.
func splitFrontMatter(data []byte) (*metadata, []byte, error) {
	if !bytes.HasPrefix(data, []byte(frontMatterFence+"\n")) {
		return nil, data, nil
	}
	rest := data[len(frontMatterFence)+1:]

	var block, body []byte
	switch {
	case bytes.HasPrefix(rest, []byte(frontMatterFence+"\n")):
		block, body = nil, rest[len(frontMatterFence)+1:]
	case bytes.Equal(rest, []byte(frontMatterFence)):
		block, body = nil, nil
	default:
		end := bytes.Index(rest, []byte("\n"+frontMatterFence+"\n"))
		switch {
		case end >= 0:
			block, body = rest[:end], rest[end+len(frontMatterFence)+2:]
		case bytes.HasSuffix(rest, []byte("\n"+frontMatterFence)):
			block, body = rest[:len(rest)-len(frontMatterFence)-1], nil
		default:
			return nil, nil, fmt.Errorf("%w: metadata block is not terminated", ErrMalformedDocument)
		}
	}

	var meta metadata
	if err := yaml.Unmarshal(block, &meta); err != nil {
		return nil, body, nil
	}
	meta.extra = unmanagedKeys(block)
	return &meta, body, nil
}

// unmanagedKeys returns the key/value pairs of a metadata block whose keys
// are not managed here, in their original order.
func unmanagedKeys(block []byte) []*yaml.Node {
	var root yaml.Node
	if err := yaml.Unmarshal(block, &root); err != nil || len(root.Content) != 1 {
		return nil
	}
	mapping := root.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return nil
	}
	var extra []*yaml.Node
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if key := mapping.Content[i]; !managedKeys[key.Value] {
			extra = append(extra, key, mapping.Content[i+1])
		}
	}
	return extra
}

func applyMetadata(doc *Document, meta *metadata) {
	if t, err := tiers.Parse(meta.Tier); err == nil {
		doc.Tier = t
	}
	doc.Progress = meta.Progress
	if meta.SectionsCompleted != nil {
		doc.SectionsCompleted = meta.SectionsCompleted
	}
	if meta.SectionsPartial != nil {
		doc.SectionsPartial = meta.SectionsPartial
	}
	doc.LastCheckpoint = meta.LastCheckpoint
	if ts, err := time.Parse(timeLayout, meta.LastUpdated); err == nil {
		doc.LastUpdated = ts.UTC()
	}
	doc.extraMeta = meta.extra
}

// heading is a level-2 ATX heading found in the body.
type heading struct {
	start int // offset of the first byte of the heading line
	end   int // offset just past the heading line's newline
	title string
}

// parseSections locates top-level "## Title" headings with goldmark, so
// headings inside fenced code, block quotes or lists stay part of the
// surrounding section's content. off is body's offset in src.text.
func parseSections(doc *Document, body []byte, src source, off int) error {
	headings := findHeadings(body)

	preambleEnd := len(body)
	if len(headings) > 0 {
		preambleEnd = headings[0].start
	}
	doc.Preamble = NormalizeContent(string(body[:preambleEnd]))
	doc.rawPreamble = src.span(off, off+preambleEnd)

	seen := make(map[string]bool, len(headings))
	for i, h := range headings {
		next := len(body)
		if i+1 < len(headings) {
			next = headings[i+1].start
		}
		name := tiers.NameFromTitle(h.title)
		if seen[name] {
			return fmt.Errorf("%w: section %q appears more than once", ErrMalformedDocument, name)
		}
		seen[name] = true
		doc.Sections = append(doc.Sections, Section{
			Name:    name,
			Title:   h.title,
			Content: NormalizeContent(string(body[h.end:next])),
			heading: src.span(off+h.start, off+h.end),
			raw:     src.span(off+h.end, off+next),
		})
	}
	return nil
}

func findHeadings(body []byte) []heading {
	root := goldmark.New().Parser().Parse(text.NewReader(body))

	var out []heading
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Level != 2 || h.Lines().Len() == 0 {
			continue
		}
		seg := h.Lines().At(0)
		start := bytes.LastIndexByte(body[:seg.Start], '\n') + 1
		end := len(body)
		if nl := bytes.IndexByte(body[seg.Start:], '\n'); nl >= 0 {
			end = seg.Start + nl + 1
		}
		title, ok := atxTitle(body[start:end])
		if !ok {
			// Setext underline headings are content, not sections.
			continue
		}
		out = append(out, heading{start: start, end: end, title: title})
	}
	return out
}

// atxTitle extracts the title of a "## Title ##" line.
func atxTitle(line []byte) (string, bool) {
	s := strings.TrimRight(string(line), "\n")
	trimmed := strings.TrimLeft(s, " ")
	if len(s)-len(trimmed) > 3 || !strings.HasPrefix(trimmed, "## ") && trimmed != "##" {
		return "", false
	}
	title := strings.TrimSpace(strings.TrimPrefix(trimmed, "##"))
	if closing := strings.TrimRight(title, "#"); closing != title && (closing == "" || strings.HasSuffix(closing, " ")) {
		title = strings.TrimSpace(closing)
	}
	if title == "" {
		return "", false
	}
	return title, true
}

// Render encodes doc into its on-disk form. The metadata block is always
// regenerated. The preamble and sections that still hold the text Parse
// read are written back byte for byte; everything else uses the document's
// line ending.
func Render(doc *Document) ([]byte, error) {
	if !doc.Tier.Valid() {
		return nil, fmt.Errorf("document %q: cannot render without a valid tier", doc.ID)
	}
	nl := doc.lineEnding()

	meta := metadata{
		Tier:              doc.Tier.String(),
		Progress:          math.Round(doc.Progress*10000) / 10000,
		SectionsCompleted: nonNil(doc.SectionsCompleted),
		SectionsPartial:   nonNil(doc.SectionsPartial),
		LastCheckpoint:    doc.LastCheckpoint,
	}
	if !doc.LastUpdated.IsZero() {
		meta.LastUpdated = doc.LastUpdated.UTC().Format(timeLayout)
	}
	encoded, err := encodeMetadata(meta, doc.extraMeta)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(frontMatterFence + nl)
	buf.WriteString(toNewline(strings.TrimRight(string(encoded), "\n"), nl))
	buf.WriteString(nl + frontMatterFence + nl)

	generated := true
	if doc.parsed && NormalizeContent(doc.rawPreamble) == doc.Preamble {
		buf.WriteString(doc.rawPreamble)
		generated = false
	} else {
		buf.WriteString(nl)
		if doc.Preamble != "" {
			buf.WriteString(toNewline(doc.Preamble, nl) + nl + nl)
		}
	}

	for _, s := range doc.Sections {
		intact := s.intact()
		lineBreak(&buf, nl, generated || !intact)

		if s.heading != "" && s.headingTitle() == s.Title {
			buf.WriteString(s.heading)
			lineBreak(&buf, nl, false)
		} else {
			title := s.Title
			if title == "" {
				title = tiers.TitleFor(s.Name)
			}
			buf.WriteString("## " + title + nl)
		}

		if intact {
			buf.WriteString(s.raw)
		} else {
			buf.WriteString(nl)
			if s.Content != "" {
				buf.WriteString(toNewline(s.Content, nl) + nl + nl)
			}
		}
		generated = !intact
	}

	if !generated {
		return buf.Bytes(), nil
	}
	out := bytes.TrimRight(buf.Bytes(), "\r\n")
	return append(out, nl...), nil
}

// encodeMetadata marshals the managed keys, followed by any unmanaged ones
// carried over from the parsed block.
func encodeMetadata(meta metadata, extra []*yaml.Node) ([]byte, error) {
	if len(extra) == 0 {
		return yaml.Marshal(meta)
	}
	var node yaml.Node
	if err := node.Encode(meta); err != nil {
		return nil, err
	}
	node.Content = append(node.Content, extra...)
	return yaml.Marshal(&node)
}

// lineBreak ends the current line of buf, if any, and with blank also
// leaves an empty line after it.
func lineBreak(buf *bytes.Buffer, nl string, blank bool) {
	if buf.Len() == 0 {
		return
	}
	if !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
		buf.WriteString(nl)
	}
	if !blank {
		return
	}
	prev := bytes.TrimSuffix(bytes.TrimSuffix(buf.Bytes(), []byte("\n")), []byte("\r"))
	if !bytes.HasSuffix(prev, []byte("\n")) {
		buf.WriteString(nl)
	}
}

func toNewline(s, nl string) string {
	if nl == "\n" {
		return s
	}
	return strings.ReplaceAll(s, "\n", nl)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
