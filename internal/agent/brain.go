package agent

import (
	"context"
	"fmt"
)

// Request carries the scoring inputs for a task. Each field is clamped to
// [1, 10]; zero means 1.
type Request struct {
	Complexity int `json:"complexity" yaml:"complexity"`
	Urgency    int `json:"urgency" yaml:"urgency"`
	Impact     int `json:"impact" yaml:"impact"`
}

func (r Request) normalized() Request {
	return Request{
		Complexity: clamp(r.Complexity, 1, 10),
		Urgency:    clamp(r.Urgency, 1, 10),
		Impact:     clamp(r.Impact, 1, 10),
	}
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Evaluation is the CEO's verdict on a task.
type Evaluation struct {
	TaskID      string   `json:"task_id"`
	EvaluatedBy string   `json:"evaluated_by"`
	Complexity  int      `json:"complexity"`
	Score       int      `json:"score"`
	Priority    Priority `json:"priority"`
	Actions     []string `json:"recommended_actions"`
}

// Evaluate scores req: complexity+urgency+impact >= 8 is critical, >= 5
// high, >= 3 medium, otherwise low.
func Evaluate(ceo Agent, taskID string, req Request) Evaluation {
	req = req.normalized()
	score := req.Complexity + req.Urgency + req.Impact

	var p Priority
	switch {
	case score >= 8:
		p = PriorityCritical
	case score >= 5:
		p = PriorityHigh
	case score >= 3:
		p = PriorityMedium
	default:
		p = PriorityLow
	}

	var actions []string
	switch {
	case req.Complexity >= 7:
		actions = []string{"Allocate maximum sub-agents", "Enable advanced monitoring"}
	case req.Complexity >= 4:
		actions = []string{"Allocate moderate sub-agents", "Standard monitoring"}
	default:
		actions = []string{"Minimal resource allocation"}
	}

	return Evaluation{
		TaskID:      taskID,
		EvaluatedBy: ceo.Label,
		Complexity:  req.Complexity,
		Score:       score,
		Priority:    p,
		Actions:     actions,
	}
}

type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Step represents a single sub-task in a broader plan.
type Step struct {
	ID          int        `json:"id"`
	Description string     `json:"description"`
	SubAgent    string     `json:"sub_agent"`
	Status      StepStatus `json:"status"`
	Result      string     `json:"result,omitempty"`
}

// Plan represents the planner's breakdown of a task for the executor.
type Plan struct {
	TaskID         string   `json:"task_id"`
	PlannedBy      string   `json:"planned_by"`
	Executor       string   `json:"executor"`
	Priority       Priority `json:"priority"`
	SubAgents      int      `json:"sub_agents"`
	EstimatedHours float64  `json:"estimated_hours"`
	Risk           Risk     `json:"risk"`
	Steps          []Step   `json:"steps"`
}

// MakePlan allocates min(10, max(2, 2*complexity)) sub-agents, capped by
// what executor has, and splits the task into min(10, complexity) steps
// assigned round-robin.
func MakePlan(planner, executor Agent, eval Evaluation) Plan {
	c := clamp(eval.Complexity, 1, 10)

	subAgents := min(10, max(2, c*2), executor.SubAgents)
	subAgents = max(subAgents, 1)

	risk := RiskLow
	switch {
	case c >= 8:
		risk = RiskHigh
	case c >= 5:
		risk = RiskMedium
	}

	steps := make([]Step, min(10, c))
	for i := range steps {
		steps[i] = Step{
			ID:          i + 1,
			Description: fmt.Sprintf("Subtask %d for %s", i+1, eval.TaskID),
			SubAgent:    SubAgentLabel(executor.Label, i%subAgents),
			Status:      StepPending,
		}
	}

	return Plan{
		TaskID:         eval.TaskID,
		PlannedBy:      planner.Label,
		Executor:       executor.Label,
		Priority:       eval.Priority,
		SubAgents:      subAgents,
		EstimatedHours: float64(c * 2),
		Risk:           risk,
		Steps:          steps,
	}
}

// Executor runs one plan step on a sub-agent. A non-nil error marks the
// step failed; it does not abort the plan.
type Executor interface {
	RunStep(ctx context.Context, step Step) (string, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, step Step) (string, error)

func (f ExecutorFunc) RunStep(ctx context.Context, step Step) (string, error) {
	return f(ctx, step)
}

// SimulatedExecutor completes every step.
var SimulatedExecutor = ExecutorFunc(func(_ context.Context, step Step) (string, error) {
	return fmt.Sprintf("%s finished step %d", step.SubAgent, step.ID), nil
})

// Outcome summarises a plan execution.
type Outcome struct {
	Steps       []Step  `json:"steps"`
	Successful  int     `json:"successful"`
	Total       int     `json:"total"`
	SuccessRate float64 `json:"success_rate"`
}

// Execute runs every step of plan in order. Only context cancellation stops
// it early.
func Execute(ctx context.Context, plan Plan, run Executor) (Outcome, error) {
	if run == nil {
		run = SimulatedExecutor
	}
	out := Outcome{Steps: make([]Step, len(plan.Steps)), Total: len(plan.Steps)}
	for i, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		result, err := run.RunStep(ctx, step)
		if err != nil {
			step.Status = StepFailed
			step.Result = err.Error()
		} else {
			step.Status = StepCompleted
			step.Result = result
			out.Successful++
		}
		out.Steps[i] = step
	}
	if out.Total > 0 {
		out.SuccessRate = float64(out.Successful) / float64(out.Total)
	}
	return out, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
