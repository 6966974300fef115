package agent

import (
	"context"
	"log"
	"time"

	"github.com/rahul/botfleet/internal/observability"
	"github.com/rahul/botfleet/internal/store"
)

const DefaultInterval = 5 * time.Minute

// AutomatedRequest scores the periodic analysis task.
var AutomatedRequest = Request{Complexity: 3, Urgency: 2, Impact: 4}

type ReportGenerator interface {
	GenerateReport(ctx context.Context, period store.Period, asOf time.Time) (store.Report, error)
}

// ReportLister finds the report covering the most recent window of a period.
type ReportLister interface {
	LatestReport(ctx context.Context, period store.Period) (store.Report, bool, error)
}

// Scheduler is the automation loop: every interval it submits an analysis
// task through the pipeline, and it keeps daily and weekly reports fresh.
type Scheduler struct {
	pipeline *Pipeline
	reports  ReportGenerator
	history  ReportLister
	interval time.Duration
	logger   *observability.Logger
	lastRun  time.Time
}

func NewScheduler(pipeline *Pipeline, reports ReportGenerator, history ReportLister, interval time.Duration, logger *observability.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = observability.Discard()
	}
	return &Scheduler{
		pipeline: pipeline,
		reports:  reports,
		history:  history,
		interval: interval,
		logger:   logger,
	}
}

// TickResult lists what a Tick produced.
type TickResult struct {
	Task    *Result
	Reports []store.Report
}

// Tick runs whatever is due at now. The first call always submits a task.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	var out TickResult

	if s.lastRun.IsZero() || now.Sub(s.lastRun) >= s.interval {
		ceo := s.pipeline.roster.ForRole(RoleCEO)
		desc := "Automated system analysis - " + now.Format("2006-01-02 15:04")
		res, err := s.pipeline.Submit(ctx, desc, ceo.Label, AutomatedRequest)
		if err != nil {
			return out, err
		}
		s.lastRun = now
		out.Task = &res
	}

	for _, period := range []store.Period{store.PeriodDaily, store.PeriodWeekly} {
		latest, ok, err := s.history.LatestReport(ctx, period)
		if err != nil {
			return out, err
		}
		if ok && now.Sub(latest.WindowEnd) < period.Window() {
			continue
		}
		rep, err := s.reports.GenerateReport(ctx, period, now)
		if err != nil {
			return out, err
		}
		out.Reports = append(out.Reports, rep)
	}
	return out, nil
}

// Start calls Tick immediately and then on every interval until ctx is
// done. It blocks in the caller's goroutine. Tick errors are logged and do
// not stop the loop; onTick, when set, sees every result.
func (s *Scheduler) Start(ctx context.Context, onTick func(TickResult, error)) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Println("Task scheduler started...")

	tick := func(now time.Time) {
		res, err := s.Tick(ctx, now)
		if err != nil && ctx.Err() == nil {
			s.logger.LogError("", err)
		}
		s.logger.LogHeartbeat()
		if onTick != nil {
			onTick(res, err)
		}
	}

	tick(time.Now())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			tick(now)
		}
	}
}
