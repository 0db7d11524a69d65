package tiers

import (
	"fmt"
	"strings"
	"sync"
)

// Provider supplies section templates. The built-in provider serves the
// static section map; tests and embedders can substitute their own.
type Provider interface {
	// Template returns the ordered sections of tier t, or a
	// *TemplateNotFoundError when the provider has no template for it.
	Template(t Tier) ([]Section, error)
}

// BuiltinProvider serves the static section map compiled into the binary.
type BuiltinProvider struct{}

// Template implements Provider.
func (BuiltinProvider) Template(t Tier) ([]Section, error) {
	sections, ok := Sections(t)
	if !ok {
		return nil, &TemplateNotFoundError{Tier: t}
	}
	return sections, nil
}

// Cache memoizes a Provider's templates for the lifetime of one session.
// It is owned by whoever creates it; there is no process-wide instance.
type Cache struct {
	provider Provider

	mu        sync.Mutex
	templates map[Tier][]Section
}

// NewCache wraps provider. A nil provider means BuiltinProvider.
func NewCache(provider Provider) *Cache {
	if provider == nil {
		provider = BuiltinProvider{}
	}
	return &Cache{provider: provider, templates: make(map[Tier][]Section)}
}

// Template returns tier t's sections, loading them from the provider on
// first use. The returned slice is a copy.
func (c *Cache) Template(t Tier) ([]Section, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sections, ok := c.templates[t]
	if !ok {
		loaded, err := c.provider.Template(t)
		if err != nil {
			return nil, err
		}
		if len(loaded) == 0 {
			return nil, &TemplateNotFoundError{Tier: t}
		}
		c.templates[t] = loaded
		sections = loaded
	}

	out := make([]Section, len(sections))
	copy(out, sections)
	return out, nil
}

// Names returns the ordered section names of tier t's template.
func (c *Cache) Names(t Tier) ([]string, error) {
	sections, err := c.Template(t)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(sections))
	for i, s := range sections {
		names[i] = s.Name
	}
	return names, nil
}

// Section returns the definition of name within tier t's template.
func (c *Cache) Section(t Tier, name string) (Section, error) {
	sections, err := c.Template(t)
	if err != nil {
		return Section{}, err
	}
	for _, s := range sections {
		if s.Name == name {
			return s, nil
		}
	}
	return Section{}, &TemplateNotFoundError{Tier: t, Section: name}
}

// --- Placeholders ---

// guidancePrefix opens the HTML comment that carries a section's guidance.
const guidancePrefix = "<!-- guidance:"

// PlaceholderMarkers are the tokens that mark template text still waiting
// for an author. A section whose only text is markers is a placeholder.
var PlaceholderMarkers = []string{"TODO", "TBD", "FIXME", "[placeholder]"}

// Placeholder renders the default content inserted for a new section.
func Placeholder(s Section) string {
	var b strings.Builder
	b.WriteString(guidancePrefix)
	b.WriteString(" ")
	b.WriteString(s.Guidance)
	b.WriteString(" -->\n\n_TODO_")
	return b.String()
}

// --- Errors ---

// TemplateNotFoundError reports a tier (or a section within a tier) the
// template provider cannot supply.
type TemplateNotFoundError struct {
	Tier    Tier
	Section string
}

func (e *TemplateNotFoundError) Error() string {
	if e.Section != "" {
		return fmt.Sprintf("no template for section %q in tier %s", e.Section, e.Tier)
	}
	return fmt.Sprintf("no template for tier %s", e.Tier)
}

// TierTransitionError reports an invalid tier change or a section that
// needs a higher tier than the document has. Suggestion names the
// operation that fixes it.
type TierTransitionError struct {
	Current    Tier
	Target     Tier
	Section    string
	Suggestion string
}

func (e *TierTransitionError) Error() string {
	var msg string
	if e.Section != "" {
		msg = fmt.Sprintf("section %q belongs to the %s tier but the document is %s", e.Section, e.Target, e.Current)
	} else {
		msg = fmt.Sprintf("cannot transition from %s to %s", e.Current, e.Target)
	}
	if e.Suggestion != "" {
		msg += ": " + e.Suggestion
	}
	return msg
}
