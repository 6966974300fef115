// Package dashboard renders a static terminal overview of the fleet.
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/rahul/botfleet/internal/agent"
	"github.com/rahul/botfleet/internal/lifecycle"
	"github.com/rahul/botfleet/internal/report"
	"github.com/rahul/botfleet/internal/store"
)

// Snapshot is everything the dashboard shows, captured at one moment.
type Snapshot struct {
	TakenAt time.Time
	Counts  map[lifecycle.Status]int
	Recent  []store.Task
	Reports []store.Report
	Roster  []agent.Agent
}

// Source is the read side of the store used to build a Snapshot.
type Source interface {
	CountByStatus(ctx context.Context) (map[lifecycle.Status]int, error)
	CollectTasks(ctx context.Context, filter store.TaskFilter) ([]store.Task, error)
	ListReports(ctx context.Context, filter store.ReportFilter) ([]store.Report, error)
}

// Collect reads a Snapshot with at most limit recent tasks and reports.
func Collect(ctx context.Context, src Source, roster *agent.Roster, limit int, now time.Time) (Snapshot, error) {
	counts, err := src.CountByStatus(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	recent, err := src.CollectTasks(ctx, store.TaskFilter{Descending: true, Limit: limit})
	if err != nil {
		return Snapshot{}, err
	}
	reports, err := src.ListReports(ctx, store.ReportFilter{Limit: limit})
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{TakenAt: now, Counts: counts, Recent: recent, Reports: reports}
	if roster != nil {
		snap.Roster = roster.Agents()
	}
	return snap, nil
}

// Render draws snap inside a bordered box no wider than width.
func Render(snap Snapshot, width int) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("botfleet dashboard"))
	if !snap.TakenAt.IsZero() {
		b.WriteString(dimStyle.Render(" " + snap.TakenAt.UTC().Format("2006-01-02 15:04:05 MST")))
	}
	b.WriteString("\n\n")

	total := 0
	parts := make([]string, 0, len(lifecycle.All))
	for _, st := range lifecycle.All {
		n := snap.Counts[st]
		total += n
		parts = append(parts, StatusStyle(st).Render(fmt.Sprintf("%s %d", st, n)))
	}
	b.WriteString(headerStyle.Render(fmt.Sprintf("Tasks: %d", total)))
	b.WriteString("  ")
	b.WriteString(strings.Join(parts, dimStyle.Render(" | ")))
	b.WriteString("\n")
	b.WriteString(separatorStyle.Render(strings.Repeat("─", 40)))
	b.WriteString("\n")

	if len(snap.Recent) == 0 {
		b.WriteString(dimStyle.Render("  No tasks yet. Submit one with `botfleet task create`."))
		b.WriteString("\n")
	} else {
		b.WriteString(headerStyle.Render(fmt.Sprintf("  %-8s %-12s %-16s %s", "ID", "Status", "Agent", "Description")))
		b.WriteString("\n")
		for _, t := range snap.Recent {
			agentLabel := t.AssignedAgent
			if agentLabel == "" {
				agentLabel = "-"
			}
			status := StatusStyle(t.Status).Render(fmt.Sprintf("%-12s", t.Status))
			fmt.Fprintf(&b, "  %-8s %s %-16s %s\n", shortID(t.ID), status, truncate(agentLabel, 16), truncate(t.Description, 40))
		}
	}
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Reports"))
	b.WriteString("\n")
	if len(snap.Reports) == 0 {
		b.WriteString(dimStyle.Render("  none generated"))
		b.WriteString("\n")
	}
	for _, r := range snap.Reports {
		m := r.SummaryMetrics
		fmt.Fprintf(&b, "  %-8s %-7s %s  total %.0f  completed %.0f  failed %.0f  failure rate %.1f%%\n",
			shortID(r.ID), r.Period, r.GeneratedAt.UTC().Format("2006-01-02 15:04"),
			m[report.MetricTasksTotal], m[report.MetricTasksCompleted], m[report.MetricTasksFailed],
			m[report.MetricFailureRate]*100)
	}
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Bots"))
	b.WriteString("\n")
	for _, a := range snap.Roster {
		fmt.Fprintf(&b, "  %-14s %-10s %2d sub-agents  %s\n", a.Label, a.Role, a.SubAgents,
			dimStyle.Render(strings.Join(a.Capabilities, ", ")))
	}

	maxWidth := width - 4
	if maxWidth < 40 {
		maxWidth = 80
	}
	return borderStyle.Width(maxWidth).Render(strings.TrimRight(b.String(), "\n"))
}

// StatusStyle returns the colour used for st.
func StatusStyle(st lifecycle.Status) lipgloss.Style {
	switch st {
	case lifecycle.StatusSubmitted:
		return submittedStyle
	case lifecycle.StatusInProgress:
		return inProgressStyle
	case lifecycle.StatusCompleted:
		return completedStyle
	case lifecycle.StatusFailed:
		return failedStyle
	}
	return dimStyle
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	if lipgloss.Width(s) <= max {
		return s
	}
	r := []rune(s)
	if max <= 3 || len(r) <= max {
		return string(r[:min(max, len(r))])
	}
	return string(r[:max-3]) + "..."
}
