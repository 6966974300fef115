package governance

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// DefaultDeniedPatterns reject descriptions that read like destructive shell
// commands.
var DefaultDeniedPatterns = []string{
	`(?i)\brm\s+-(r|f|rf|fr)\b`,
	`(?i)\bmkfs(\.\w+)?\b`,
	`(?i)\bshutdown\b`,
	`(?i)\breboot\b`,
}

// Request describes a task submission to be evaluated.
type Request struct {
	TaskID      string
	Agent       string
	Description string
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// Allowed reports whether the submission may proceed.
func (r Result) Allowed() bool { return r.Effect == EffectAllow }

// PolicyEngine evaluates task submissions against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// DefaultPolicyEngine denies listed agents and descriptions matching any
// denied pattern; everything else is allowed.
type DefaultPolicyEngine struct {
	DeniedAgents map[string]bool
	DeniedRegex  []*regexp.Regexp
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{
		DeniedAgents: make(map[string]bool),
		DeniedRegex:  make([]*regexp.Regexp, 0),
	}
}

// NewPolicyEngine builds an engine from configuration. Nil patterns fall
// back to DefaultDeniedPatterns; an empty, non-nil slice disables them.
func NewPolicyEngine(deniedAgents, deniedPatterns []string) (*DefaultPolicyEngine, error) {
	e := NewDefaultPolicyEngine()
	if deniedPatterns == nil {
		deniedPatterns = DefaultDeniedPatterns
	}
	for _, p := range deniedPatterns {
		if err := e.DenyPattern(p); err != nil {
			return nil, err
		}
	}
	for _, a := range deniedAgents {
		e.DenyAgent(a)
	}
	return e, nil
}

func (e *DefaultPolicyEngine) DenyAgent(label string) {
	label = strings.TrimSpace(label)
	if label != "" {
		e.DeniedAgents[label] = true
	}
}

func (e *DefaultPolicyEngine) DenyPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("compile policy pattern %q: %w", pattern, err)
	}
	e.DeniedRegex = append(e.DeniedRegex, re)
	return nil
}

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if e.DeniedAgents[req.Agent] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("agent '%s' is restricted by system policy", req.Agent),
		}, nil
	}

	for _, re := range e.DeniedRegex {
		if re.MatchString(req.Description) {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("description matches restricted pattern: %s", re.String()),
			}, nil
		}
	}

	return Result{
		Effect: EffectAllow,
		Reason: "approved by default policy",
	}, nil
}
