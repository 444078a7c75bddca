package agent

import (
	"encoding/json"
	"fmt"

	"index_trader/internal/llm"
)

// ExecutionStep is one agent invocation in a plan
type ExecutionStep struct {
	AgentName    string   `json:"agent_name"`
	Instructions string   `json:"instructions,omitempty"`
	WaitFor      []string `json:"wait_for"`
	Skip         bool     `json:"skip"`
}

// ExecutionPlan orders agent invocations for one team run
type ExecutionPlan struct {
	Steps         []ExecutionStep `json:"steps"`
	Loop          bool            `json:"loop"`
	LoopCondition string          `json:"loop_condition,omitempty"`
	MaxIterations int             `json:"max_iterations,omitempty"`
}

const executionPlanSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["steps"],
  "properties": {
    "steps": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["agent_name"],
        "properties": {
          "agent_name": {"type": "string", "minLength": 1},
          "instructions": {"type": ["string", "null"]},
          "wait_for": {"type": ["array", "null"], "items": {"type": "string"}},
          "skip": {"type": "boolean"}
        }
      }
    },
    "loop": {"type": "boolean"},
    "loop_condition": {"type": ["string", "null"]},
    "max_iterations": {"type": ["integer", "null"], "minimum": 0}
  }
}`

// PlanSchema validates ExecutionPlan documents produced by an LLM
var PlanSchema = llm.MustCompileSchema("execution_plan.json", executionPlanSchema)

// ParsePlan decodes and schema-checks a JSON execution plan
func ParsePlan(raw []byte) (*ExecutionPlan, error) {
	if err := PlanSchema.Validate(raw); err != nil {
		return nil, &ValidationError{Field: "plan", Message: "does not match schema", Err: err}
	}
	var plan ExecutionPlan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, &ValidationError{Field: "plan", Message: "cannot decode", Err: err}
	}
	return &plan, nil
}

// Validate checks that the plan only names team agents, names each agent at
// most once, and that every wait_for entry names an earlier step or an agent
// absent from the plan. Forward references are rejected because they could
// never be satisfied by an ordered run.
func (p *ExecutionPlan) Validate(team TeamInfo) error {
	if p == nil {
		return &ValidationError{Field: "plan", Message: "is empty"}
	}
	if p.MaxIterations < 0 {
		return &ValidationError{Field: "max_iterations", Message: "must not be negative"}
	}

	position := make(map[string]int, len(p.Steps))
	for i, step := range p.Steps {
		if !team.HasAgent(step.AgentName) {
			return &ValidationError{Field: fmt.Sprintf("steps[%d].agent_name", i), Message: fmt.Sprintf("unknown agent %q", step.AgentName)}
		}
		if _, dup := position[step.AgentName]; dup {
			return &ValidationError{Field: fmt.Sprintf("steps[%d].agent_name", i), Message: fmt.Sprintf("agent %q planned twice", step.AgentName)}
		}
		position[step.AgentName] = i
	}

	for i, step := range p.Steps {
		for _, dep := range step.WaitFor {
			if dep == step.AgentName {
				return &ValidationError{Field: fmt.Sprintf("steps[%d].wait_for", i), Message: "step waits for itself"}
			}
			if !team.HasAgent(dep) {
				return &ValidationError{Field: fmt.Sprintf("steps[%d].wait_for", i), Message: fmt.Sprintf("unknown agent %q", dep)}
			}
			if pos, planned := position[dep]; planned && pos > i {
				return &ValidationError{Field: fmt.Sprintf("steps[%d].wait_for", i), Message: fmt.Sprintf("%q is scheduled after %q", dep, step.AgentName)}
			}
		}
	}
	return nil
}

// AgentNames returns step agent names in plan order
func (p *ExecutionPlan) AgentNames() []string {
	names := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		names[i] = s.AgentName
	}
	return names
}
