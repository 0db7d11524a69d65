package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/tierspec/internal/document"
	"github.com/HendryAvila/tierspec/internal/tiers"
)

func newDoc(t *testing.T, tier tiers.Tier) *document.Document {
	t.Helper()
	template, ok := tiers.Sections(tier)
	require.True(t, ok)
	return document.New("doc", "Doc", tier, template)
}

func TestClassify(t *testing.T) {
	c := NewCalculator(nil, 0)
	placeholder := tiers.Placeholder(tiers.Section{Guidance: "Describe it."})

	tests := []struct {
		name    string
		content string
		want    Status
	}{
		{"empty", "", StatusMissing},
		{"whitespace", "  \n\t", StatusMissing},
		{"template placeholder", placeholder, StatusMissing},
		{"bare marker", "TBD", StatusMissing},
		{"checkbox marker", "- [ ] _TODO_", StatusMissing},
		{"comment only", "<!-- just a note -->", StatusMissing},
		{"unterminated comment", "<!-- still open", StatusMissing},
		{"marker amid text", "Login via SSO. TODO: confirm provider.", StatusPartial},
		{"placeholder token", "Rate limits are [placeholder].", StatusPartial},
		{"text under guidance", placeholder + "\n\nReal prose.", StatusComplete},
		{"single rune", "X", StatusComplete},
		{"list", "- a\n- b\n- c", StatusComplete},
		{"word containing marker letters", "TODOS are tracked elsewhere.", StatusComplete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.content))
		})
	}
}

func TestClassify_MinimumLength(t *testing.T) {
	c := NewCalculator(nil, 10)
	assert.Equal(t, StatusPartial, c.Classify("short"))
	assert.Equal(t, StatusComplete, c.Classify("long enough text"))
}

func TestIsPlaceholder(t *testing.T) {
	s, _ := tiers.Lookup("what")
	assert.True(t, IsPlaceholder(tiers.Placeholder(s)))
	assert.False(t, IsPlaceholder("filled"))
}

func TestCompute_MinimalFullyComplete(t *testing.T) {
	doc := newDoc(t, tiers.Minimal)
	require.NoError(t, doc.SetContent("what", "X"))
	require.NoError(t, doc.SetContent("why", "Y"))
	require.NoError(t, doc.SetContent("done_when", "- a\n- b\n- c"))

	info, err := NewCalculator(nil, 0).Compute(doc)
	require.NoError(t, err)

	assert.Equal(t, 1.0, info.Percentage)
	assert.Equal(t, []string{"what", "why", "done_when"}, info.Completed)
	assert.Empty(t, info.Partial)
	assert.Empty(t, info.Missing)
	require.NotNil(t, info.Next)
	assert.True(t, info.Next.IsUpgrade())
	assert.Equal(t, tiers.Standard, info.Next.UpgradeTo)
}

func TestCompute_PartialWeighsHalf(t *testing.T) {
	doc := newDoc(t, tiers.Minimal)
	require.NoError(t, doc.SetContent("what", "Done."))
	require.NoError(t, doc.SetContent("why", "Because. TBD on numbers."))

	info, err := NewCalculator(nil, 0).Compute(doc)
	require.NoError(t, err)

	assert.InDelta(t, 1.5/3, info.Percentage, 1e-9)
	assert.Equal(t, []string{"why"}, info.Partial)
	assert.Equal(t, []string{"done_when"}, info.Missing)
	assert.Equal(t, &Suggestion{Section: "why"}, info.Next)
}

func TestCompute_AbsentSectionCountsAsMissing(t *testing.T) {
	doc := &document.Document{
		ID:       "x",
		Tier:     tiers.Minimal,
		Sections: []document.Section{{Name: "what", Content: "a"}, {Name: "appendix", Content: "extra"}},
	}
	info, err := NewCalculator(nil, 0).Compute(doc)
	require.NoError(t, err)

	assert.InDelta(t, 1.0/3, info.Percentage, 1e-9)
	assert.Equal(t, []string{"why", "done_when"}, info.Missing)
	assert.Equal(t, "why", info.Next.Section)
}

func TestCompute_CompleteTierFinishedHasNoSuggestion(t *testing.T) {
	doc := newDoc(t, tiers.Complete)
	for _, name := range doc.Names() {
		require.NoError(t, doc.SetContent(name, "written"))
	}
	next, err := NewCalculator(nil, 0).Next(doc)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestCompute_ZeroTierUsesComplete(t *testing.T) {
	doc := &document.Document{ID: "x", Sections: []document.Section{{Name: "what", Content: "a"}}}
	info, err := NewCalculator(nil, 0).Compute(doc)
	require.NoError(t, err)
	assert.Equal(t, tiers.Complete, info.Tier)
	assert.Len(t, info.Statuses, 13)
}

func TestCompute_FillingSectionsNeverLowersProgress(t *testing.T) {
	calc := NewCalculator(nil, 0)
	doc := newDoc(t, tiers.Standard)

	last := -1.0
	for _, name := range doc.Names() {
		// Partial first, then complete: each step must not decrease the score.
		for _, content := range []string{"draft TODO", "finished prose"} {
			require.NoError(t, doc.SetContent(name, content))
			info, err := calc.Compute(doc)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, info.Percentage, last, "after %s=%q", name, content)
			assert.GreaterOrEqual(t, info.Percentage, 0.0)
			assert.LessOrEqual(t, info.Percentage, 1.0)
			last = info.Percentage
		}
	}
	assert.Equal(t, 1.0, last)
}

func TestRefresh_UpdatesDerivedMetadata(t *testing.T) {
	doc := newDoc(t, tiers.Standard)
	require.NoError(t, doc.SetContent("what", "a"))
	require.NoError(t, doc.SetContent("why", "b"))
	require.NoError(t, doc.SetContent("context", "c"))
	doc.SectionsCompleted = []string{"stale"}

	info, err := NewCalculator(nil, 0).Refresh(doc)
	require.NoError(t, err)

	assert.InDelta(t, 3.0/7, doc.Progress, 1e-9)
	assert.Equal(t, info.Percentage, doc.Progress)
	assert.Equal(t, []string{"what", "why", "context"}, doc.SectionsCompleted)
	assert.Equal(t, []string{}, doc.SectionsPartial)
	for _, name := range doc.SectionsCompleted {
		assert.True(t, tiers.Contains(doc.Tier, name))
	}
}
