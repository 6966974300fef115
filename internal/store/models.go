package store

import (
	"time"

	"github.com/rahul/botfleet/internal/lifecycle"
)

// Task is a unit of work tracked through the lifecycle. Description and
// CreatedAt never change after creation.
type Task struct {
	ID            string           `json:"id" yaml:"id"`
	Description   string           `json:"description" yaml:"description"`
	Status        lifecycle.Status `json:"status" yaml:"status"`
	AssignedAgent string           `json:"assigned_agent" yaml:"assigned_agent"`
	CreatedAt     time.Time        `json:"created_at" yaml:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at" yaml:"updated_at"`
}

// Period is the reporting cadence of a Report.
type Period string

const (
	PeriodDaily  Period = "daily"
	PeriodWeekly Period = "weekly"
)

// Valid reports whether p is a known period.
func (p Period) Valid() bool {
	return p == PeriodDaily || p == PeriodWeekly
}

// Window returns the length of the reporting window for p.
func (p Period) Window() time.Duration {
	if p == PeriodWeekly {
		return 7 * 24 * time.Hour
	}
	return 24 * time.Hour
}

// Report is an immutable summary of task history over [WindowStart, WindowEnd).
type Report struct {
	ID             string             `json:"id" yaml:"id"`
	Period         Period             `json:"period" yaml:"period"`
	GeneratedAt    time.Time          `json:"generated_at" yaml:"generated_at"`
	WindowStart    time.Time          `json:"window_start" yaml:"window_start"`
	WindowEnd      time.Time          `json:"window_end" yaml:"window_end"`
	SummaryMetrics map[string]float64 `json:"summary_metrics" yaml:"summary_metrics"`
}

// TaskFilter narrows ListTasks. Zero value lists every task oldest first.
type TaskFilter struct {
	Status     *lifecycle.Status
	Agent      string
	Descending bool
	Limit      int
}

// ReportFilter narrows ListReports. Reports are returned newest first.
type ReportFilter struct {
	Period Period
	Limit  int
}

func copyMetrics(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
