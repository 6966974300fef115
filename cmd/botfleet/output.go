package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	fleeterrors "github.com/rahul/botfleet/internal/errors"
	"github.com/rahul/botfleet/internal/lifecycle"
	"github.com/rahul/botfleet/internal/report"
	"github.com/rahul/botfleet/internal/store"
)

var (
	blue   = color.New(color.FgBlue).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func statusText(s lifecycle.Status) string {
	padded := fmt.Sprintf("%-11s", s)
	switch s {
	case lifecycle.StatusSubmitted:
		return yellow(padded)
	case lifecycle.StatusInProgress:
		return blue(padded)
	case lifecycle.StatusCompleted:
		return green(padded)
	case lifecycle.StatusFailed:
		return red(padded)
	}
	return padded
}

const timeFormat = "2006-01-02 15:04:05"

func printTaskLine(w io.Writer, t store.Task) {
	agentLabel := t.AssignedAgent
	if agentLabel == "" {
		agentLabel = "-"
	}
	fmt.Fprintf(w, "%s  %s  %-16s %s\n", t.ID, statusText(t.Status), agentLabel, t.Description)
}

func printTask(w io.Writer, t store.Task) {
	fmt.Fprintf(w, "%s %s\n", bold("Task"), t.ID)
	fmt.Fprintf(w, "  status:      %s\n", statusText(t.Status))
	fmt.Fprintf(w, "  agent:       %s\n", t.AssignedAgent)
	fmt.Fprintf(w, "  description: %s\n", t.Description)
	fmt.Fprintf(w, "  created:     %s\n", gray(t.CreatedAt.Format(timeFormat)))
	fmt.Fprintf(w, "  updated:     %s\n", gray(t.UpdatedAt.Format(timeFormat)))
}

func printReport(w io.Writer, r store.Report) {
	fmt.Fprintf(w, "%s %s (%s)\n", bold("Report"), r.ID, cyan(string(r.Period)))
	fmt.Fprintf(w, "  generated: %s\n", r.GeneratedAt.Format(timeFormat))
	fmt.Fprintf(w, "  window:    %s .. %s\n", r.WindowStart.Format(timeFormat), r.WindowEnd.Format(timeFormat))

	keys := append([]string(nil), report.MetricKeys...)
	var extra []string
	for k := range r.SummaryMetrics {
		if !slices.Contains(keys, k) {
			extra = append(extra, k)
		}
	}
	slices.Sort(extra)
	for _, k := range append(keys, extra...) {
		v, ok := r.SummaryMetrics[k]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "  %-24s %s\n", k+":", formatMetric(k, v))
	}
}

func formatMetric(key string, v float64) string {
	switch key {
	case report.MetricFailureRate:
		return fmt.Sprintf("%.1f%%", v*100)
	case report.MetricMeanCompletionSeconds:
		return fmt.Sprintf("%.1fs", v)
	}
	return fmt.Sprintf("%g", v)
}

// writeFormatted encodes v as json or yaml. "text" is handled by callers.
func writeFormatted(w io.Writer, format string, v any) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fleeterrors.NewValidation("format", "unknown format %q (want text, json or yaml)", format)
}
