package lifecycle

import (
	"strings"
	"time"

	fleeterrors "github.com/rahul/botfleet/internal/errors"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusSubmitted  Status = "submitted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Initial is the status every task starts in.
const Initial = StatusSubmitted

// All lists the statuses in lifecycle order.
var All = []Status{StatusSubmitted, StatusInProgress, StatusCompleted, StatusFailed}

var allowedTransitions = map[Status]map[Status]struct{}{
	StatusSubmitted: {
		StatusInProgress: {},
		StatusFailed:     {}, // direct abort
	},
	StatusInProgress: {
		StatusCompleted: {},
		StatusFailed:    {},
	},
}

// Transition is one entry of a task's audit trail.
type Transition struct {
	TaskID string    `json:"task_id"`
	From   Status    `json:"from"`
	To     Status    `json:"to"`
	At     time.Time `json:"at"`
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSubmitted, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal returns true if no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) String() string {
	return string(s)
}

// ParseStatus accepts the canonical names as well as the CamelCase and
// dashed spellings used by the dashboard ("InProgress", "in-progress").
func ParseStatus(raw string) (Status, error) {
	norm := strings.ToLower(strings.TrimSpace(raw))
	norm = strings.NewReplacer("-", "", "_", "", " ", "").Replace(norm)
	switch norm {
	case "submitted":
		return StatusSubmitted, nil
	case "inprogress":
		return StatusInProgress, nil
	case "completed", "complete", "done":
		return StatusCompleted, nil
	case "failed", "fail":
		return StatusFailed, nil
	}
	return "", fleeterrors.NewValidation("status", "unknown status %q", raw)
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// Next returns the statuses reachable from s in one step.
func Next(s Status) []Status {
	var out []Status
	for _, candidate := range All {
		if CanTransition(s, candidate) {
			out = append(out, candidate)
		}
	}
	return out
}

// Validate returns an InvalidTransitionError unless from -> to is legal.
func Validate(taskID string, from, to Status) error {
	if !to.Valid() {
		return fleeterrors.NewValidation("status", "unknown status %q", string(to))
	}
	if !CanTransition(from, to) {
		return &fleeterrors.InvalidTransitionError{
			TaskID: taskID,
			From:   string(from),
			To:     string(to),
		}
	}
	return nil
}
