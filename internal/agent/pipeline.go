package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rahul/botfleet/internal/governance"
	"github.com/rahul/botfleet/internal/lifecycle"
	"github.com/rahul/botfleet/internal/observability"
	"github.com/rahul/botfleet/internal/store"
)

const DefaultSuccessThreshold = 0.8

// TaskStore is the part of the store the pipeline drives.
type TaskStore interface {
	CreateTask(ctx context.Context, description, assignedAgent string) (store.Task, error)
	GetTask(ctx context.Context, id string) (store.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, to lifecycle.Status) (store.Task, error)
	AssignAgent(ctx context.Context, id, agent string) (store.Task, error)
}

// Pipeline moves a submitted task through CEO evaluation, planning and
// execution, recording each status change in the store.
type Pipeline struct {
	store     TaskStore
	roster    *Roster
	policy    governance.PolicyEngine
	run       Executor
	threshold float64
	logger    *observability.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

type PipelineOption func(*Pipeline)

// WithExecutor replaces the simulated step executor.
func WithExecutor(run Executor) PipelineOption {
	return func(p *Pipeline) {
		if run != nil {
			p.run = run
		}
	}
}

// WithSuccessThreshold sets the minimum success rate for completion.
func WithSuccessThreshold(t float64) PipelineOption {
	return func(p *Pipeline) {
		if t > 0 && t <= 1 {
			p.threshold = t
		}
	}
}

func WithPipelineLogger(l *observability.Logger) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithPipelineMetrics(m *observability.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

func NewPipeline(s TaskStore, roster *Roster, policy governance.PolicyEngine, opts ...PipelineOption) *Pipeline {
	if roster == nil {
		roster = DefaultRoster()
	}
	if policy == nil {
		policy = governance.NewDefaultPolicyEngine()
	}
	p := &Pipeline{
		store:     s,
		roster:    roster,
		policy:    policy,
		run:       SimulatedExecutor,
		threshold: DefaultSuccessThreshold,
		logger:    observability.Discard(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Result is everything the pipeline decided about one task.
type Result struct {
	Task       store.Task        `json:"task"`
	Policy     governance.Result `json:"policy"`
	Evaluation *Evaluation       `json:"evaluation,omitempty"`
	Plan       *Plan             `json:"plan,omitempty"`
	Outcome    *Outcome          `json:"outcome,omitempty"`
}

// Submit creates a task and processes it in one call.
func (p *Pipeline) Submit(ctx context.Context, description, agent string, req Request) (Result, error) {
	if err := p.roster.Validate(agent); err != nil {
		return Result{}, err
	}
	task, err := p.store.CreateTask(ctx, description, agent)
	if err != nil {
		return Result{}, err
	}
	return p.Process(ctx, task.ID, req)
}

// Process runs the submitted task taskID to a terminal status. A policy
// denial fails the task directly from submitted. Otherwise the task is
// assigned to the execution bot, started, executed, and completed when the
// step success rate reaches the threshold or failed when it does not.
// Store errors are returned unchanged.
func (p *Pipeline) Process(ctx context.Context, taskID string, req Request) (res Result, err error) {
	started := p.now()
	defer func() {
		outcome := "error"
		if err == nil {
			outcome = string(res.Task.Status)
		}
		p.metrics.ObservePipeline(outcome, p.now().Sub(started))
		if err != nil {
			p.logger.LogError(taskID, err)
		}
	}()

	task, err := p.store.GetTask(ctx, taskID)
	if err != nil {
		return Result{}, err
	}
	if task.Status != lifecycle.StatusSubmitted {
		return Result{Task: task}, lifecycle.Validate(task.ID, task.Status, lifecycle.StatusInProgress)
	}
	res.Task = task

	verdict, err := p.policy.Evaluate(ctx, governance.Request{
		TaskID:      task.ID,
		Agent:       task.AssignedAgent,
		Description: task.Description,
	})
	if err != nil {
		return res, fmt.Errorf("policy check: %w", err)
	}
	res.Policy = verdict
	p.logger.LogPolicyCheck(task.ID, task.AssignedAgent, string(verdict.Effect), verdict.Reason)
	if !verdict.Allowed() {
		res.Task, err = p.store.UpdateTaskStatus(ctx, task.ID, lifecycle.StatusFailed)
		return res, err
	}

	ceo := p.roster.ForRole(RoleCEO)
	eval := Evaluate(ceo, task.ID, req)
	res.Evaluation = &eval
	p.logger.LogPipeline(task.ID, ceo.Label, "evaluate", map[string]any{
		"priority": eval.Priority,
		"score":    eval.Score,
	})

	planner := p.roster.ForRole(RolePlanner)
	executor := p.roster.ForRole(RoleExecution)
	plan := MakePlan(planner, executor, eval)
	res.Plan = &plan
	p.logger.LogPipeline(task.ID, planner.Label, "plan", map[string]any{
		"steps":      len(plan.Steps),
		"sub_agents": plan.SubAgents,
		"risk":       plan.Risk,
	})

	if res.Task, err = p.store.AssignAgent(ctx, task.ID, executor.Label); err != nil {
		return res, err
	}
	if res.Task, err = p.store.UpdateTaskStatus(ctx, task.ID, lifecycle.StatusInProgress); err != nil {
		return res, err
	}

	outcome, err := Execute(ctx, plan, p.run)
	res.Outcome = &outcome
	if err != nil {
		// The caller's context is gone; still record the abort.
		if failed, ferr := p.store.UpdateTaskStatus(context.WithoutCancel(ctx), task.ID, lifecycle.StatusFailed); ferr == nil {
			res.Task = failed
		} else {
			err = errors.Join(err, ferr)
		}
		return res, err
	}
	p.logger.LogPipeline(task.ID, executor.Label, "execute", map[string]any{
		"success_rate": outcome.SuccessRate,
		"successful":   outcome.Successful,
		"total":        outcome.Total,
	})

	final := lifecycle.StatusCompleted
	if outcome.SuccessRate < p.threshold {
		final = lifecycle.StatusFailed
	}
	res.Task, err = p.store.UpdateTaskStatus(ctx, task.ID, final)
	return res, err
}
