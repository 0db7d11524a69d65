// Package tiers defines the completeness tiers a specification moves
// through and the static section map that says which sections each tier
// requires, in which order.
//
// The map is built once at package init and validated there: every tier is
// a superset of the tier below it, in membership and in relative order, and
// every section is owned by exactly one tier (the lowest one listing it).
// A broken table panics at startup instead of surfacing deep in merge logic.
package tiers

import (
	"fmt"
	"strings"
)

// --- Tier enum ---

// Tier is a completeness level. The zero value is not a valid tier.
type Tier int

const (
	Minimal Tier = iota + 1
	Standard
	Complete
)

// All lists the tiers from lowest to highest.
var All = []Tier{Minimal, Standard, Complete}

var tierNames = map[Tier]string{
	Minimal:  "minimal",
	Standard: "standard",
	Complete: "complete",
}

// String returns the lowercase tier name, or "unknown".
func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether t is one of the declared tiers.
func (t Tier) Valid() bool {
	_, ok := tierNames[t]
	return ok
}

// Next returns the tier directly above t.
func (t Tier) Next() (Tier, bool) {
	if !t.Valid() || t == Complete {
		return 0, false
	}
	return t + 1, true
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid tier %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Parse converts a tier name (case-insensitive) into a Tier.
func Parse(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal":
		return Minimal, nil
	case "standard":
		return Standard, nil
	case "complete":
		return Complete, nil
	}
	return 0, fmt.Errorf("invalid tier %q: must be one of: minimal, standard, complete", s)
}

// --- Section map ---

// Section describes one named content slot of the section map.
type Section struct {
	Name     string
	Title    string
	Tier     Tier // owning tier
	Guidance string
}

// sectionCatalog holds every section's title and guidance, keyed by name.
var sectionCatalog = map[string]Section{
	"what": {Title: "What", Guidance: "One or two sentences describing what is being built."},
	"why":  {Title: "Why", Guidance: "The problem this solves and who benefits from solving it."},
	"context": {Title: "Context",
		Guidance: "Existing systems, prior decisions and constraints a reader needs before the details."},
	"requirements": {Title: "Requirements",
		Guidance: "Functional and non-functional requirements, each one testable."},
	"approach": {Title: "Approach",
		Guidance: "The chosen technical approach and the main alternatives that were rejected."},
	"data_model": {Title: "Data Model",
		Guidance: "Entities, their attributes and relationships, and who owns each piece of state."},
	"api_design": {Title: "API Design",
		Guidance: "Public interfaces: endpoints, commands or functions with inputs, outputs and errors."},
	"security": {Title: "Security",
		Guidance: "Authentication, authorization, data protection and the threats considered."},
	"performance": {Title: "Performance",
		Guidance: "Latency, throughput and resource budgets, and how they will be measured."},
	"risks": {Title: "Risks",
		Guidance: "What could go wrong, how likely it is, and the mitigation for each risk."},
	"done_when": {Title: "Done When",
		Guidance: "A checklist of observable conditions that mean the work is finished."},
	"testing": {Title: "Testing",
		Guidance: "How the work is verified: unit, integration and manual checks."},
	"rollout": {Title: "Rollout",
		Guidance: "How the change reaches users: flags, migrations, staged release and rollback."},
}

// tierOrder is the canonical section order per tier.
var tierOrder = map[Tier][]string{
	Minimal:  {"what", "why", "done_when"},
	Standard: {"what", "why", "context", "requirements", "approach", "done_when", "testing"},
	Complete: {
		"what", "why", "context", "requirements", "approach",
		"data_model", "api_design", "security", "performance", "risks",
		"done_when", "testing", "rollout",
	},
}

// sectionMap is the validated, immutable table derived from tierOrder.
var sectionMap = mustBuildSectionMap(tierOrder, sectionCatalog)

type builtMap struct {
	byTier map[Tier][]Section
	byName map[string]Section
}

func mustBuildSectionMap(order map[Tier][]string, catalog map[string]Section) builtMap {
	m, err := buildSectionMap(order, catalog)
	if err != nil {
		panic("tiers: invalid section map: " + err.Error())
	}
	return m
}

// buildSectionMap validates order against the superset rules and resolves
// each section's owning tier.
func buildSectionMap(order map[Tier][]string, catalog map[string]Section) (builtMap, error) {
	m := builtMap{
		byTier: make(map[Tier][]Section, len(All)),
		byName: make(map[string]Section),
	}

	var previous []string
	for _, tier := range All {
		names, ok := order[tier]
		if !ok || len(names) == 0 {
			return builtMap{}, fmt.Errorf("tier %s has no sections", tier)
		}

		seen := make(map[string]bool, len(names))
		for _, name := range names {
			if seen[name] {
				return builtMap{}, fmt.Errorf("tier %s lists %q twice", tier, name)
			}
			seen[name] = true
			if _, ok := catalog[name]; !ok {
				return builtMap{}, fmt.Errorf("tier %s lists unknown section %q", tier, name)
			}
		}

		// Superset in membership and relative order.
		pos := 0
		for _, prev := range previous {
			found := false
			for pos < len(names) {
				if names[pos] == prev {
					found = true
					pos++
					break
				}
				pos++
			}
			if !found {
				return builtMap{}, fmt.Errorf("tier %s does not keep %q from the tier below in order", tier, prev)
			}
		}

		sections := make([]Section, 0, len(names))
		for _, name := range names {
			def, ok := m.byName[name]
			if !ok {
				def = catalog[name]
				def.Name = name
				def.Tier = tier
				m.byName[name] = def
			}
			sections = append(sections, def)
		}
		m.byTier[tier] = sections
		previous = names
	}
	return m, nil
}

// Sections returns the canonical ordered sections of tier t. The returned
// slice is a copy.
func Sections(t Tier) ([]Section, bool) {
	sections, ok := sectionMap.byTier[t]
	if !ok {
		return nil, false
	}
	out := make([]Section, len(sections))
	copy(out, sections)
	return out, true
}

// SectionNames returns the canonical ordered section names of tier t.
func SectionNames(t Tier) []string {
	sections := sectionMap.byTier[t]
	names := make([]string, len(sections))
	for i, s := range sections {
		names[i] = s.Name
	}
	return names
}

// Lookup returns the section definition for name.
func Lookup(name string) (Section, bool) {
	s, ok := sectionMap.byName[name]
	return s, ok
}

// Owner returns the tier that owns the named section.
func Owner(name string) (Tier, bool) {
	s, ok := sectionMap.byName[name]
	return s.Tier, ok
}

// Contains reports whether tier t requires the named section.
func Contains(t Tier, name string) bool {
	owner, ok := Owner(name)
	return ok && t.Valid() && owner <= t
}

// Index returns the canonical position of name within tier t, or -1.
func Index(t Tier, name string) int {
	for i, s := range sectionMap.byTier[t] {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// NameFromTitle converts a heading title into a section name:
// "Done When" → "done_when", "API Design" → "api_design".
func NameFromTitle(title string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(title)))
	return strings.Join(fields, "_")
}

// TitleFor returns the heading title for a section name. Names outside the
// map are turned into title case word by word.
func TitleFor(name string) string {
	if s, ok := Lookup(name); ok {
		return s.Title
	}
	words := strings.Split(name, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
