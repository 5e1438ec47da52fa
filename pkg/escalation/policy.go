package escalation

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// DefaultRule escalates risky agents and agents with a known low composite.
const DefaultRule = `risk >= 0.5 || (has_trust && trust < 0.7)`

// Subject is what the policy sees about one agent.
type Subject struct {
	AgentID string
	Risk    float64
	// Trust is the agent's composite reputation, nil when unscored.
	Trust *float64
}

// Policy is a compiled CEL boolean rule over agent_id, risk, trust and
// has_trust.
type Policy struct {
	rule string
	prg  cel.Program
}

// NewPolicy compiles rule. An empty rule selects DefaultRule.
func NewPolicy(rule string) (*Policy, error) {
	if rule == "" {
		rule = DefaultRule
	}
	env, err := cel.NewEnv(
		cel.Variable("agent_id", cel.StringType),
		cel.Variable("risk", cel.DoubleType),
		cel.Variable("trust", cel.DoubleType),
		cel.Variable("has_trust", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	ast, issues := env.Compile(rule)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: compile: %w", ErrInvalidRule, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("%w: rule must evaluate to bool, got %s", ErrInvalidRule, ast.OutputType())
	}
	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: program: %w", ErrInvalidRule, err)
	}
	return &Policy{rule: rule, prg: prg}, nil
}

// Rule returns the source expression.
func (p *Policy) Rule() string {
	return p.rule
}

// Fires reports whether s must be escalated.
func (p *Policy) Fires(s Subject) (bool, error) {
	trust := 0.0
	if s.Trust != nil {
		trust = *s.Trust
	}
	out, _, err := p.prg.Eval(map[string]any{
		"agent_id":  s.AgentID,
		"risk":      s.Risk,
		"trust":     trust,
		"has_trust": s.Trust != nil,
	})
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool")
	}
	return val, nil
}
