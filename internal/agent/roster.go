package agent

import (
	"fmt"
	"strconv"
	"strings"

	fleeterrors "github.com/rahul/botfleet/internal/errors"
)

// Role is the job a bot performs in the pipeline.
type Role string

const (
	RoleCEO       Role = "ceo"
	RolePlanner   Role = "planner"
	RoleExecution Role = "execution"
)

const DefaultSubAgents = 10

// Agent is a bot label plus what it can do. Bots carry no behaviour of
// their own; the pipeline looks them up by role.
type Agent struct {
	Label        string   `json:"label" yaml:"label" mapstructure:"label"`
	Role         Role     `json:"role" yaml:"role" mapstructure:"role"`
	SubAgents    int      `json:"sub_agents" yaml:"sub_agents" mapstructure:"sub_agents"`
	Capabilities []string `json:"capabilities" yaml:"capabilities" mapstructure:"capabilities"`
}

// DefaultAgents returns the standard three-bot roster.
func DefaultAgents() []Agent {
	return []Agent{
		{
			Label:        "ceo_bot",
			Role:         RoleCEO,
			SubAgents:    DefaultSubAgents,
			Capabilities: []string{"strategic_planning", "decision_making", "resource_allocation"},
		},
		{
			Label:        "planner_bot",
			Role:         RolePlanner,
			SubAgents:    DefaultSubAgents,
			Capabilities: []string{"task_decomposition", "timeline_planning", "resource_estimation"},
		},
		{
			Label:        "execution_bot",
			Role:         RoleExecution,
			SubAgents:    DefaultSubAgents,
			Capabilities: []string{"task_execution", "parallel_processing", "quality_assurance"},
		},
	}
}

// Roster is an immutable lookup table of bots.
type Roster struct {
	agents  []Agent
	byLabel map[string]int
	byRole  map[Role]int
}

// NewRoster validates agents and indexes them. Every role must be filled
// exactly once.
func NewRoster(agents []Agent) (*Roster, error) {
	r := &Roster{
		byLabel: make(map[string]int, len(agents)),
		byRole:  make(map[Role]int, 3),
	}
	for _, a := range agents {
		a.Label = strings.TrimSpace(a.Label)
		if a.Label == "" || strings.ContainsAny(a.Label, " \t\n") {
			return nil, fleeterrors.NewValidation("agents", "invalid agent label %q", a.Label)
		}
		if _, dup := r.byLabel[a.Label]; dup {
			return nil, fleeterrors.NewValidation("agents", "duplicate agent label %q", a.Label)
		}
		switch a.Role {
		case RoleCEO, RolePlanner, RoleExecution:
		default:
			return nil, fleeterrors.NewValidation("agents", "agent %s: unknown role %q", a.Label, a.Role)
		}
		if _, dup := r.byRole[a.Role]; dup {
			return nil, fleeterrors.NewValidation("agents", "role %s assigned twice", a.Role)
		}
		if a.SubAgents < 1 {
			return nil, fleeterrors.NewValidation("agents", "agent %s: sub_agents must be positive", a.Label)
		}
		a.Capabilities = append([]string(nil), a.Capabilities...)
		r.byLabel[a.Label] = len(r.agents)
		r.byRole[a.Role] = len(r.agents)
		r.agents = append(r.agents, a)
	}
	for _, role := range []Role{RoleCEO, RolePlanner, RoleExecution} {
		if _, ok := r.byRole[role]; !ok {
			return nil, fleeterrors.NewValidation("agents", "no agent with role %s", role)
		}
	}
	return r, nil
}

// DefaultRoster returns the roster built from DefaultAgents.
func DefaultRoster() *Roster {
	r, err := NewRoster(DefaultAgents())
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the bot with label. Sub-agent labels resolve to their
// parent bot.
func (r *Roster) Lookup(label string) (Agent, bool) {
	if i, ok := r.byLabel[label]; ok {
		return r.copyAt(i), true
	}
	parent, n, ok := splitSubAgent(label)
	if !ok {
		return Agent{}, false
	}
	i, ok := r.byLabel[parent]
	if !ok || n >= r.agents[i].SubAgents {
		return Agent{}, false
	}
	return r.copyAt(i), true
}

// ForRole returns the bot filling role.
func (r *Roster) ForRole(role Role) Agent {
	return r.copyAt(r.byRole[role])
}

func (r *Roster) Agents() []Agent {
	out := make([]Agent, len(r.agents))
	for i := range r.agents {
		out[i] = r.copyAt(i)
	}
	return out
}

// Labels returns the top-level bot labels in roster order.
func (r *Roster) Labels() []string {
	out := make([]string, len(r.agents))
	for i, a := range r.agents {
		out[i] = a.Label
	}
	return out
}

// SubAgentLabels returns "<label>_sub_<i>" for each sub-agent of label, or
// nil for an unknown bot.
func (r *Roster) SubAgentLabels(label string) []string {
	i, ok := r.byLabel[label]
	if !ok {
		return nil
	}
	out := make([]string, r.agents[i].SubAgents)
	for n := range out {
		out[n] = SubAgentLabel(label, n)
	}
	return out
}

// Validate accepts the empty label (unassigned), any bot label and any of
// their sub-agent labels.
func (r *Roster) Validate(label string) error {
	if label == "" {
		return nil
	}
	if _, ok := r.Lookup(label); !ok {
		return fleeterrors.NewValidation("agent", "unknown agent %q", label)
	}
	return nil
}

func (r *Roster) copyAt(i int) Agent {
	a := r.agents[i]
	a.Capabilities = append([]string(nil), a.Capabilities...)
	return a
}

func SubAgentLabel(parent string, n int) string {
	return fmt.Sprintf("%s_sub_%d", parent, n)
}

func splitSubAgent(label string) (parent string, n int, ok bool) {
	i := strings.LastIndex(label, "_sub_")
	if i <= 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(label[i+len("_sub_"):])
	if err != nil || n < 0 {
		return "", 0, false
	}
	return label[:i], n, true
}
