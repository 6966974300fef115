// Package report computes period summaries over the task history and
// persists them as immutable reports.
package report

import (
	"context"
	"fmt"
	"time"

	fleeterrors "github.com/rahul/botfleet/internal/errors"
	"github.com/rahul/botfleet/internal/lifecycle"
	"github.com/rahul/botfleet/internal/store"
)

// Metric keys present in every report.
const (
	MetricTasksTotal            = "tasks_total"
	MetricTasksSubmitted        = "tasks_submitted"
	MetricTasksInProgress       = "tasks_in_progress"
	MetricTasksCompleted        = "tasks_completed"
	MetricTasksFailed           = "tasks_failed"
	MetricMeanCompletionSeconds = "mean_completion_seconds"
	MetricFailureRate           = "failure_rate"
)

// MetricKeys lists the metric keys in display order.
var MetricKeys = []string{
	MetricTasksTotal,
	MetricTasksSubmitted,
	MetricTasksInProgress,
	MetricTasksCompleted,
	MetricTasksFailed,
	MetricMeanCompletionSeconds,
	MetricFailureRate,
}

// Source is the part of the store the aggregator reads from and writes to.
type Source interface {
	TasksUpdatedBetween(ctx context.Context, start, end time.Time) ([]store.Task, error)
	SaveReport(ctx context.Context, report store.Report) (store.Report, error)
}

type Aggregator struct {
	src Source
	now func() time.Time
}

func NewAggregator(src Source) *Aggregator {
	return &Aggregator{src: src, now: time.Now}
}

// Window returns the half-open interval [asOf-window, asOf) for period.
func Window(period store.Period, asOf time.Time) (start, end time.Time) {
	end = asOf.UTC()
	return end.Add(-period.Window()), end
}

// GenerateReport summarises the tasks last updated inside the period window
// ending at asOf and saves the result. A zero asOf means now. An empty
// window yields a report with every metric at zero.
func (a *Aggregator) GenerateReport(ctx context.Context, period store.Period, asOf time.Time) (store.Report, error) {
	if !period.Valid() {
		return store.Report{}, fleeterrors.NewValidation("period", "unknown period %q", string(period))
	}
	if asOf.IsZero() {
		asOf = a.now()
	}
	start, end := Window(period, asOf)

	tasks, err := a.src.TasksUpdatedBetween(ctx, start, end)
	if err != nil {
		return store.Report{}, fmt.Errorf("load %s window: %w", period, err)
	}

	return a.src.SaveReport(ctx, store.Report{
		Period:         period,
		WindowStart:    start,
		WindowEnd:      end,
		SummaryMetrics: Summarize(tasks),
	})
}

// Summarize computes the report metrics for tasks.
func Summarize(tasks []store.Task) map[string]float64 {
	counts := make(map[lifecycle.Status]int, len(lifecycle.All))
	var completionTotal time.Duration
	for _, task := range tasks {
		counts[task.Status]++
		if task.Status == lifecycle.StatusCompleted {
			completionTotal += task.UpdatedAt.Sub(task.CreatedAt)
		}
	}

	completed := counts[lifecycle.StatusCompleted]
	failed := counts[lifecycle.StatusFailed]

	metrics := map[string]float64{
		MetricTasksTotal:            float64(len(tasks)),
		MetricTasksSubmitted:        float64(counts[lifecycle.StatusSubmitted]),
		MetricTasksInProgress:       float64(counts[lifecycle.StatusInProgress]),
		MetricTasksCompleted:        float64(completed),
		MetricTasksFailed:           float64(failed),
		MetricMeanCompletionSeconds: 0,
		MetricFailureRate:           0,
	}
	if completed > 0 {
		metrics[MetricMeanCompletionSeconds] = completionTotal.Seconds() / float64(completed)
	}
	if finished := completed + failed; finished > 0 {
		metrics[MetricFailureRate] = float64(failed) / float64(finished)
	}
	return metrics
}
