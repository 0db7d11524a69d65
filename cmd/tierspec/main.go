// tierspec: living specification documents that grow from a minimal tier
// to a complete one without losing what was written.
//
// Usage:
//
//	tierspec serve                         # Start the MCP server (stdio transport)
//	tierspec init [-title T] <doc-id>      # Create a minimal document
//	tierspec expand <doc-id> <tier>        # Expand to standard or complete
//	tierspec progress [doc-id]             # Show progress
//	tierspec checkpoint list <doc-id>      # Manage checkpoints
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/HendryAvila/tierspec/internal/config"
	tsserver "github.com/HendryAvila/tierspec/internal/server"
	"github.com/HendryAvila/tierspec/internal/tiers"
	"github.com/HendryAvila/tierspec/internal/watch"
	"github.com/HendryAvila/tierspec/internal/workspace"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// errUsage marks a command line that could not be parsed; usage has
// already been printed.
var errUsage = errors.New("usage")

type command func(ws *workspace.Workspace, args []string, stdout io.Writer) error

var commands = map[string]command{
	"init":       cmdInit,
	"expand":     cmdExpand,
	"preview":    cmdPreview,
	"add":        cmdAdd,
	"progress":   cmdProgress,
	"next":       cmdNext,
	"refresh":    cmdRefresh,
	"checkpoint": cmdCheckpoint,
	"history":    cmdHistory,
	"watch":      cmdWatch,
	"config":     cmdConfig,
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}

	switch args[0] {
	case "serve":
		if err := serve(); err != nil {
			printError(stderr, err)
			return 1
		}
		return 0
	case "--help", "-h", "help":
		printUsage(stdout)
		return 0
	case "--version", "-v", "version":
		fmt.Fprintf(stdout, "tierspec v%s\n", tsserver.Version)
		return 0
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", args[0])
		printUsage(stderr)
		return 1
	}

	root, err := config.FindProjectRoot()
	if err != nil {
		printError(stderr, err)
		return 1
	}
	ws, err := workspace.Open(root)
	if err != nil {
		printError(stderr, err)
		return 1
	}
	defer func() { _ = ws.Close() }()

	if err := cmd(ws, args[1:], stdout); err != nil {
		if !errors.Is(err, errUsage) {
			printError(stderr, err)
		}
		return 1
	}
	return 0
}

func serve() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	s, cleanup, err := tsserver.New(ctx)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer cleanup()

	return server.ServeStdio(s)
}

// parse parses flags and checks the positional argument count.
func parse(fs *flag.FlagSet, args []string, positional ...string) ([]string, error) {
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: tierspec %s [flags]", fs.Name())
		for _, p := range positional {
			fmt.Fprintf(fs.Output(), " <%s>", p)
		}
		fmt.Fprintln(fs.Output())
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, errUsage
	}
	rest := fs.Args()
	if len(rest) < len(positional) {
		fs.Usage()
		return nil, errUsage
	}
	return rest, nil
}

func cmdInit(ws *workspace.Workspace, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	title := fs.String("title", "", "document title (defaults to the id)")
	rest, err := parse(fs, args, "doc-id")
	if err != nil {
		return err
	}
	doc, err := ws.Init(rest[0], *title)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, okStyle.Render("created")+" "+config.SDDDir+"/"+config.SpecsDir+"/"+doc.ID+".md")
	fmt.Fprintln(stdout, field("tier", doc.Tier.String()))
	fmt.Fprintln(stdout, field("sections", strings.Join(doc.Names(), ", ")))
	return nil
}

func cmdExpand(ws *workspace.Workspace, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("expand", flag.ContinueOnError)
	rest, err := parse(fs, args, "doc-id", "tier")
	if err != nil {
		return err
	}
	result, err := ws.Expand(rest[0], rest[1])
	if err != nil {
		return err
	}
	m := result.Merge
	fmt.Fprintln(stdout, okStyle.Render("expanded")+fmt.Sprintf(" %s: %s → %s", rest[0], m.From, m.To))
	fmt.Fprintln(stdout, field("checkpoint", result.Checkpoint.ID+" "+result.Checkpoint.Name))
	fmt.Fprintln(stdout, field("kept", strings.Join(m.Preserved, ", ")))
	fmt.Fprintln(stdout, field("added", strings.Join(m.Inserted, ", ")))
	fmt.Fprintln(stdout, field("progress", progressBar(m.Progress.Percentage)+" "+percent(m.Progress.Percentage)))
	return nil
}

func cmdPreview(ws *workspace.Workspace, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("preview", flag.ContinueOnError)
	rest, err := parse(fs, args, "doc-id", "tier")
	if err != nil {
		return err
	}
	p, err := ws.Preview(rest[0], rest[1])
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, titleStyle.Render(fmt.Sprintf("%s: %s → %s (preview)", p.DocID, p.From, p.To)))
	fmt.Fprintln(stdout, field("kept", strings.Join(p.Kept, ", ")))
	fmt.Fprintln(stdout, field("would add", strings.Join(p.Inserted, ", ")))
	if len(p.Extra) > 0 {
		fmt.Fprintln(stdout, field("custom", strings.Join(p.Extra, ", ")))
	}
	fmt.Fprintln(stdout, field("progress", percent(p.CurrentPercentage)+" → "+percent(p.ProjectedPercentage)))
	return nil
}

func cmdAdd(ws *workspace.Workspace, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	rest, err := parse(fs, args, "doc-id", "section")
	if err != nil {
		return err
	}
	result, err := ws.AddSections(rest[0], rest[1:]...)
	if err != nil {
		return err
	}
	if len(result.Added) == 0 {
		fmt.Fprintln(stdout, warnStyle.Render("nothing to add")+": "+strings.Join(result.Skipped, ", ")+" already present")
		return nil
	}
	fmt.Fprintln(stdout, okStyle.Render("added")+" "+strings.Join(result.Added, ", "))
	if result.Checkpoint != nil {
		fmt.Fprintln(stdout, field("checkpoint", result.Checkpoint.ID))
	}
	fmt.Fprintln(stdout, field("progress", percent(result.Progress.Percentage)))
	return nil
}

// docIDs returns the single id in args, or every document when args is
// empty.
func docIDs(ws *workspace.Workspace, args []string) ([]string, error) {
	if len(args) > 0 {
		return args[:1], nil
	}
	return ws.Documents()
}

func cmdProgress(ws *workspace.Workspace, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("progress", flag.ContinueOnError)
	rest, err := parse(fs, args)
	if err != nil {
		return err
	}
	ids, err := docIDs(ws, rest)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(stdout, labelStyle.Render("no specifications yet; run tierspec init <doc-id>"))
		return nil
	}
	for _, id := range ids {
		info, err := ws.Progress(id)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, renderProgress(id, info))
	}
	return nil
}

func cmdNext(ws *workspace.Workspace, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("next", flag.ContinueOnError)
	rest, err := parse(fs, args, "doc-id")
	if err != nil {
		return err
	}
	next, err := ws.Next(rest[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, renderSuggestion(next))
	return nil
}

func cmdRefresh(ws *workspace.Workspace, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("refresh", flag.ContinueOnError)
	rest, err := parse(fs, args)
	if err != nil {
		return err
	}
	ids, err := docIDs(ws, rest)
	if err != nil {
		return err
	}
	for _, id := range ids {
		result, err := ws.Refresh(id)
		if err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
		state := labelStyle.Render("up to date")
		if result.Changed {
			state = okStyle.Render("updated")
		}
		fmt.Fprintf(stdout, "%s %s %s\n", id, state, percent(result.Progress.Percentage))
	}
	return nil
}

func cmdCheckpoint(ws *workspace.Workspace, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprintln(stdout, "Usage: tierspec checkpoint create|list|restore|cleanup|prune ...")
		return errUsage
	}
	sub, args := args[0], args[1:]
	switch sub {
	case "create":
		fs := flag.NewFlagSet("checkpoint create", flag.ContinueOnError)
		name := fs.String("name", "", "checkpoint name")
		description := fs.String("description", "", "why the snapshot was taken")
		rest, err := parse(fs, args, "doc-id")
		if err != nil {
			return err
		}
		meta, err := ws.CreateCheckpoint(rest[0], *name, *description)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, okStyle.Render("checkpoint")+" "+renderCheckpoint(meta))
		fmt.Fprintln(stdout, field("sha256", meta.ContentHash))

	case "list":
		fs := flag.NewFlagSet("checkpoint list", flag.ContinueOnError)
		rest, err := parse(fs, args, "doc-id")
		if err != nil {
			return err
		}
		list, err := ws.Checkpoints(rest[0])
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(stdout, labelStyle.Render("no checkpoints"))
		}
		for _, meta := range list {
			fmt.Fprintln(stdout, renderCheckpoint(meta))
		}

	case "restore":
		fs := flag.NewFlagSet("checkpoint restore", flag.ContinueOnError)
		rest, err := parse(fs, args, "doc-id", "checkpoint")
		if err != nil {
			return err
		}
		result, err := ws.Restore(rest[0], rest[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, okStyle.Render("restored")+" "+renderCheckpoint(result.Restored))
		if result.Safety != nil {
			fmt.Fprintln(stdout, field("previous version saved as", result.Safety.ID))
		}

	case "cleanup":
		fs := flag.NewFlagSet("checkpoint cleanup", flag.ContinueOnError)
		olderThan := fs.Duration("older-than", 30*24*time.Hour, "delete checkpoints older than this")
		rest, err := parse(fs, args, "doc-id")
		if err != nil {
			return err
		}
		n, err := ws.Cleanup(rest[0], *olderThan)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "deleted %d checkpoint(s)\n", n)

	case "prune":
		fs := flag.NewFlagSet("checkpoint prune", flag.ContinueOnError)
		rest, err := parse(fs, args)
		if err != nil {
			return err
		}
		if len(rest) > 0 {
			n, err := ws.Prune(rest[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "%s: pruned %d checkpoint(s)\n", rest[0], n)
			return nil
		}
		pruned, err := ws.PruneAll()
		for _, id := range slices.Sorted(maps.Keys(pruned)) {
			fmt.Fprintf(stdout, "%s: pruned %d checkpoint(s)\n", id, pruned[id])
		}
		return err

	default:
		fmt.Fprintf(stdout, "Unknown checkpoint command: %s\n", sub)
		return errUsage
	}
	return nil
}

func cmdHistory(ws *workspace.Workspace, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "maximum number of entries")
	rest, err := parse(fs, args, "doc-id")
	if err != nil {
		return err
	}
	entries, err := ws.History(rest[0], *limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintln(stdout, renderEntry(e))
	}
	return nil
}

func cmdWatch(ws *workspace.Workspace, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	if _, err := parse(fs, args); err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	w := watch.New(ws.SpecsDir(), ws.Settings().WatchDebounce, func(id string) error {
		result, err := ws.Refresh(id)
		if err == nil && result.Changed {
			fmt.Fprintf(stdout, "%s %s %s\n", id, okStyle.Render("refreshed"), percent(result.Progress.Percentage))
		}
		return err
	})
	fmt.Fprintln(stdout, labelStyle.Render("watching "+ws.SpecsDir()+" (Ctrl-C to stop)"))
	return w.Run(ctx)
}

func cmdConfig(ws *workspace.Workspace, args []string, stdout io.Writer) error {
	data, err := ws.Settings().Encode()
	if err != nil {
		return err
	}
	_, err = stdout.Write(data)
	return err
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `tierspec v%s: living specifications in tiers (%s)

Usage:
  tierspec serve                              Start the MCP server (stdio transport)
  tierspec init [-title T] <doc-id>           Create a minimal document
  tierspec expand <doc-id> <tier>             Expand to a higher tier (checkpointed)
  tierspec preview <doc-id> <tier>            Show what an expansion would do
  tierspec add <doc-id> <section>...          Add sections of the current tier
  tierspec progress [doc-id]                  Show progress (all documents by default)
  tierspec next <doc-id>                      Suggest what to write next
  tierspec refresh [doc-id]                   Recompute metadata after manual edits
  tierspec checkpoint create [-name N] [-description D] <doc-id>
  tierspec checkpoint list <doc-id>
  tierspec checkpoint restore <doc-id> <id-or-name>
  tierspec checkpoint cleanup [-older-than 720h] <doc-id>
  tierspec checkpoint prune [doc-id]          Apply the retention policy
  tierspec history [-limit N] <doc-id>        Show the change journal
  tierspec watch                              Refresh documents as they are edited
  tierspec config                             Print the effective settings
  tierspec version

Configuration:
  sdd/%s, overridden by %s* environment variables.

  Add to your AI tool's MCP config:

  {
    "mcpServers": {
      "tierspec": {
        "command": "tierspec",
        "args": ["serve"]
      }
    }
  }
`, tsserver.Version, strings.Join([]string{tiers.Minimal.String(), tiers.Standard.String(), tiers.Complete.String()}, " → "),
		config.ConfigFile, config.EnvPrefix)
}
