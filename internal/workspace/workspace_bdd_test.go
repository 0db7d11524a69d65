package workspace

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cucumber/godog"

	"github.com/HendryAvila/tierspec/internal/config"
	"github.com/HendryAvila/tierspec/internal/document"
	"github.com/HendryAvila/tierspec/internal/journal"
	"github.com/HendryAvila/tierspec/internal/safety"
	"github.com/HendryAvila/tierspec/internal/tiers"
)

// livingSpecContext holds the state of one scenario.
type livingSpecContext struct {
	root    string
	ws      *Workspace
	docID   string
	written []string
	before  string // sections hash of the written sections
	saved   string // document hash before corruption
	lastErr error
}

func (c *livingSpecContext) reset() error {
	c.close()
	root, err := os.MkdirTemp("", "tierspec-bdd-")
	if err != nil {
		return err
	}
	j, err := journal.Open(config.JournalPath(root))
	if err != nil {
		return err
	}
	*c = livingSpecContext{root: root, ws: New(root, config.Default(), j)}
	return nil
}

func (c *livingSpecContext) close() {
	if c.ws != nil {
		_ = c.ws.Close()
	}
	if c.root != "" {
		_ = os.RemoveAll(c.root)
	}
}

func (c *livingSpecContext) path() string {
	return filepath.Join(c.ws.SpecsDir(), c.docID+".md")
}

// write stores doc the way an editor would.
func (c *livingSpecContext) write(doc *document.Document) error {
	data, err := document.Render(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path(), data, 0o644)
}

func (c *livingSpecContext) aProjectWithAMinimalDocument(id string) error {
	c.docID = id
	_, err := c.ws.Init(id, "")
	return err
}

func (c *livingSpecContext) theSectionsAreWritten(table *godog.Table) error {
	doc, err := c.ws.Load(c.docID)
	if err != nil {
		return err
	}
	for _, row := range table.Rows[1:] {
		name := row.Cells[0].Value
		content := strings.ReplaceAll(row.Cells[1].Value, `\n`, "\n")
		if err := doc.SetContent(name, content); err != nil {
			return err
		}
		c.written = append(c.written, name)
	}
	c.before = doc.SectionsHash(c.written)
	return c.write(doc)
}

func (c *livingSpecContext) progressIs(want float64) error {
	info, err := c.ws.Progress(c.docID)
	if err != nil {
		return err
	}
	if math.Abs(info.Percentage-want) > 0.005 {
		return fmt.Errorf("progress = %.4f, want %.2f", info.Percentage, want)
	}
	return nil
}

func (c *livingSpecContext) theNextStepIsToExpandTo(tier string) error {
	next, err := c.ws.Next(c.docID)
	if err != nil {
		return err
	}
	if next == nil || !next.IsUpgrade() {
		return fmt.Errorf("next = %+v, want an upgrade", next)
	}
	if next.UpgradeTo.String() != tier {
		return fmt.Errorf("upgrade to %s, want %s", next.UpgradeTo, tier)
	}
	return nil
}

func (c *livingSpecContext) theDocumentIsExpandedTo(tier string) error {
	_, err := c.ws.Expand(c.docID, tier)
	return err
}

func (c *livingSpecContext) theDocumentHasSections(n int) error {
	doc, err := c.ws.Load(c.docID)
	if err != nil {
		return err
	}
	if got := len(doc.Names()); got != n {
		return fmt.Errorf("document has %d sections (%v), want %d", got, doc.Names(), n)
	}
	return nil
}

func (c *livingSpecContext) theWrittenSectionsAreUnchanged() error {
	doc, err := c.ws.Load(c.docID)
	if err != nil {
		return err
	}
	if got := doc.SectionsHash(c.written); got != c.before {
		return fmt.Errorf("sections %v changed", c.written)
	}
	return nil
}

func (c *livingSpecContext) aCheckpointNamed(name string) error {
	data, err := os.ReadFile(c.path())
	if err != nil {
		return err
	}
	c.saved = document.HashBytes(data)
	_, err = c.ws.CreateCheckpoint(c.docID, name, "")
	return err
}

func (c *livingSpecContext) theSectionIsOverwrittenWith(name, content string) error {
	doc, err := c.ws.Load(c.docID)
	if err != nil {
		return err
	}
	if err := doc.SetContent(name, content); err != nil {
		return err
	}
	return c.write(doc)
}

func (c *livingSpecContext) theCheckpointIsRestored(ref string) error {
	_, err := c.ws.Restore(c.docID, ref)
	return err
}

func (c *livingSpecContext) theDocumentHashEqualsTheHashBeforeCorruption() error {
	data, err := os.ReadFile(c.path())
	if err != nil {
		return err
	}
	if got := document.HashBytes(data); got != c.saved {
		return fmt.Errorf("hash = %s, want %s", got, c.saved)
	}
	return nil
}

func (c *livingSpecContext) theSectionIsAdded(name string) error {
	_, c.lastErr = c.ws.AddSections(c.docID, name)
	return nil
}

func (c *livingSpecContext) aTierTransitionErrorSuggestsExpandingTo(tier string) error {
	var transition *tiers.TierTransitionError
	if !errors.As(c.lastErr, &transition) {
		return fmt.Errorf("error = %v, want a tier transition error", c.lastErr)
	}
	if transition.Target.String() != tier {
		return fmt.Errorf("target = %s, want %s", transition.Target, tier)
	}
	if !strings.Contains(transition.Error(), tier) {
		return fmt.Errorf("message %q does not mention %s", transition.Error(), tier)
	}
	return nil
}

func (c *livingSpecContext) theDocumentIsInitialized(id string) error {
	_, c.lastErr = c.ws.Init(id, "")
	return nil
}

func (c *livingSpecContext) aPathSecurityErrorIsReturned() error {
	var pathErr *safety.PathSecurityError
	if !errors.As(c.lastErr, &pathErr) {
		return fmt.Errorf("error = %v, want a path security error", c.lastErr)
	}
	return nil
}

func initializeLivingSpecScenario(ctx *godog.ScenarioContext) {
	c := &livingSpecContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		return ctx, c.reset()
	})
	ctx.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		c.close()
		return ctx, nil
	})

	ctx.Step(`^a project with a minimal document "([^"]*)"$`, c.aProjectWithAMinimalDocument)
	ctx.Step(`^the sections are written:$`, c.theSectionsAreWritten)
	ctx.Step(`^progress is (\d+\.\d+)$`, c.progressIs)
	ctx.Step(`^the next step is to expand to "([^"]*)"$`, c.theNextStepIsToExpandTo)
	ctx.Step(`^the document is expanded to "([^"]*)"$`, c.theDocumentIsExpandedTo)
	ctx.Step(`^the document has (\d+) sections$`, c.theDocumentHasSections)
	ctx.Step(`^the written sections are unchanged$`, c.theWrittenSectionsAreUnchanged)
	ctx.Step(`^a checkpoint named "([^"]*)"$`, c.aCheckpointNamed)
	ctx.Step(`^the section "([^"]*)" is overwritten with "([^"]*)"$`, c.theSectionIsOverwrittenWith)
	ctx.Step(`^the checkpoint "([^"]*)" is restored$`, c.theCheckpointIsRestored)
	ctx.Step(`^the document hash equals the hash before corruption$`, c.theDocumentHashEqualsTheHashBeforeCorruption)
	ctx.Step(`^the section "([^"]*)" is added$`, c.theSectionIsAdded)
	ctx.Step(`^a tier transition error suggests expanding to "([^"]*)"$`, c.aTierTransitionErrorSuggestsExpandingTo)
	ctx.Step(`^the document "([^"]*)" is initialized$`, c.theDocumentIsInitialized)
	ctx.Step(`^a path security error is returned$`, c.aPathSecurityErrorIsReturned)
}

func TestLivingSpecScenarios(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: initializeLivingSpecScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/living_spec.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
