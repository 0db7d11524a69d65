// Package server wires all MCP components and creates the server instance.
//
// This is the composition root: it creates the workspace and injects it
// into the tools, prompts and resources, and starts the background workers
// (retention scheduler and file watcher). No business logic lives here,
// only wiring.
package server

import (
	"context"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/server"

	"github.com/HendryAvila/tierspec/internal/config"
	"github.com/HendryAvila/tierspec/internal/prompts"
	"github.com/HendryAvila/tierspec/internal/resources"
	"github.com/HendryAvila/tierspec/internal/retention"
	"github.com/HendryAvila/tierspec/internal/tools"
	"github.com/HendryAvila/tierspec/internal/watch"
	"github.com/HendryAvila/tierspec/internal/workspace"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates and configures the MCP server for the project containing the
// working directory, with all tools, prompts and resources registered.
//
// Background workers run until ctx is done or cleanup is called. The
// returned cleanup function is always non-nil and safe to call even if New
// failed.
func New(ctx context.Context) (*server.MCPServer, func(), error) {
	projectRoot, err := config.FindProjectRoot()
	if err != nil {
		return nil, noop, fmt.Errorf("finding project root: %w", err)
	}
	ws, err := workspace.Open(projectRoot)
	if err != nil {
		return nil, noop, err
	}

	s := server.NewMCPServer(
		"tierspec",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)
	Register(s, ws)

	ctx, cancel := context.WithCancel(ctx)
	cleanup := func() {
		cancel()
		if err := ws.Close(); err != nil {
			log.Printf("WARNING: closing workspace: %v", err)
		}
	}
	startBackground(ctx, ws)

	return s, cleanup, nil
}

// Register adds every tool, prompt and resource backed by ws to s.
func Register(s *server.MCPServer, ws *workspace.Workspace) {
	// --- Documents ---

	initTool := tools.NewInitTool(ws)
	s.AddTool(initTool.Definition(), initTool.Handle)

	expandTool := tools.NewExpandTool(ws)
	s.AddTool(expandTool.Definition(), expandTool.Handle)

	previewTool := tools.NewPreviewTool(ws)
	s.AddTool(previewTool.Definition(), previewTool.Handle)

	addSectionTool := tools.NewAddSectionTool(ws)
	s.AddTool(addSectionTool.Definition(), addSectionTool.Handle)

	progressTool := tools.NewProgressTool(ws)
	s.AddTool(progressTool.Definition(), progressTool.Handle)

	nextTool := tools.NewNextSectionTool(ws)
	s.AddTool(nextTool.Definition(), nextTool.Handle)

	refreshTool := tools.NewRefreshTool(ws)
	s.AddTool(refreshTool.Definition(), refreshTool.Handle)

	// --- Checkpoints ---

	createTool := tools.NewCheckpointCreateTool(ws)
	s.AddTool(createTool.Definition(), createTool.Handle)

	listTool := tools.NewCheckpointListTool(ws)
	s.AddTool(listTool.Definition(), listTool.Handle)

	restoreTool := tools.NewCheckpointRestoreTool(ws)
	s.AddTool(restoreTool.Definition(), restoreTool.Handle)

	cleanupTool := tools.NewCheckpointCleanupTool(ws)
	s.AddTool(cleanupTool.Definition(), cleanupTool.Handle)

	historyTool := tools.NewHistoryTool(ws)
	s.AddTool(historyTool.Definition(), historyTool.Handle)

	// --- Prompts ---

	startPrompt := prompts.NewStartPrompt()
	s.AddPrompt(startPrompt.Definition(), startPrompt.Handle)

	statusPrompt := prompts.NewStatusPrompt()
	s.AddPrompt(statusPrompt.Definition(), statusPrompt.Handle)

	// --- Resources ---

	resourceHandler := resources.NewHandler(ws)
	s.AddResource(resourceHandler.SpecsResource(), resourceHandler.HandleSpecs)
	s.AddResourceTemplate(resourceHandler.ProgressTemplate(), resourceHandler.HandleProgress)
}

// startBackground runs the retention scheduler and the external edit
// watcher. Either failing to start is logged; the server keeps working.
func startBackground(ctx context.Context, ws *workspace.Workspace) {
	settings := ws.Settings()

	if settings.RetentionSchedule != "" {
		scheduler, err := retention.New(ws, settings.RetentionSchedule)
		if err != nil {
			log.Printf("WARNING: retention disabled: %v", err)
		} else if err := scheduler.Start(ctx); err != nil {
			log.Printf("WARNING: retention disabled: %v", err)
		}
	}

	if config.Exists(ws.Root()) {
		w := watch.New(ws.SpecsDir(), settings.WatchDebounce, func(id string) error {
			_, err := ws.Refresh(id)
			return err
		})
		go func() {
			if err := w.Run(ctx); err != nil {
				log.Printf("WARNING: file watcher stopped: %v", err)
			}
		}()
	}
}

// noop is the cleanup returned when nothing was started.
func noop() {}

// serverInstructions returns the system instructions that tell the AI
// how to use tierspec effectively.
func serverInstructions() string {
	return `You have access to tierspec, a living specification server.

## WHAT IT DOES

Specifications live in sdd/specs/<doc_id>.md and grow through three tiers:
- minimal: What, Why, Done When
- standard: adds Context, Requirements, Approach, Testing
- complete: adds Data Model, API Design, Security, Performance, Risks, Rollout

Start small. Expand only when the current tier is complete and the work
needs more detail. Expanding never changes text that is already written.

## HOW TO WORK

1. spec_init creates a minimal document with guidance placeholders.
2. Write section content directly into the markdown file. Replace the
   placeholder; keep the "## Title" headings.
3. Call spec_refresh after editing, then spec_progress or spec_next_section.
4. When every section is complete, spec_preview_expansion shows what an
   expansion adds; spec_expand performs it.
5. spec_add_section adds a single missing section of the current tier.

## SAFETY NET

- Every expansion and section insert takes a checkpoint first and rolls
  back automatically if the result does not verify.
- spec_checkpoint_create before risky manual edits; spec_checkpoint_restore
  undoes them (and snapshots the current version first).
- spec_history shows what changed and when.

A section counts as complete only when it has real content: placeholder
markers such as TODO, TBD or FIXME make it partial. NEVER write placeholder
text and call it done.`
}
