package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/HendryAvila/tierspec/internal/checkpoint"
	"github.com/HendryAvila/tierspec/internal/journal"
	"github.com/HendryAvila/tierspec/internal/progress"
	"github.com/HendryAvila/tierspec/internal/tiers"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#3FB950"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#E3B341"))
	errStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

func printError(w io.Writer, err error) {
	fmt.Fprintln(w, errStyle.Render("error:")+" "+err.Error())
}

func field(label, value string) string {
	return labelStyle.Render(label+":") + " " + value
}

func percent(p float64) string {
	return fmt.Sprintf("%.0f%%", p*100)
}

// progressBar draws a fixed-width bar for p in [0,1].
func progressBar(p float64) string {
	const width = 20
	filled := int(p*width + 0.5)
	if filled > width {
		filled = width
	}
	return okStyle.Render(strings.Repeat("█", filled)) + labelStyle.Render(strings.Repeat("░", width-filled))
}

func statusLabel(s progress.Status) string {
	switch s {
	case progress.StatusComplete:
		return okStyle.Render("complete")
	case progress.StatusPartial:
		return warnStyle.Render("partial")
	}
	return labelStyle.Render("missing")
}

func renderProgress(docID string, info progress.Info) string {
	lines := []string{
		titleStyle.Render(docID),
		field("tier", info.Tier.String()),
		field("progress", progressBar(info.Percentage)+" "+percent(info.Percentage)),
		"",
	}
	for _, s := range info.Statuses {
		lines = append(lines, fmt.Sprintf("  %-14s %s", tiers.TitleFor(s.Name), statusLabel(s.Status)))
	}
	lines = append(lines, "", renderSuggestion(info.Next))
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func renderSuggestion(next *progress.Suggestion) string {
	switch {
	case next == nil:
		return okStyle.Render("done: every section of the complete tier is written")
	case next.IsUpgrade():
		return field("next", "expand to "+next.UpgradeTo.String())
	}
	return field("next", tiers.TitleFor(next.Section)+" ("+next.Section+")")
}

func renderCheckpoint(m checkpoint.Meta) string {
	tier := m.Tier
	if tier == "" {
		tier = "-"
	}
	line := fmt.Sprintf("%s  %-28s %s  %-8s %s", titleStyle.Render(m.ID), m.Name,
		m.CreatedAt.Local().Format("2006-01-02 15:04"), tier, percent(m.Progress))
	if m.Description != "" {
		line += "  " + labelStyle.Render(m.Description)
	}
	return line
}

func renderEntry(e journal.Entry) string {
	return fmt.Sprintf("%s  %-30s %s",
		labelStyle.Render(e.Time.Local().Format("2006-01-02 15:04:05")),
		strings.TrimPrefix(e.Type, "io.tierspec."),
		e.Summary)
}
