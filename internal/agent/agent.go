// Package agent runs a team of agents over a dependency DAG of channels.
//
// Agents declare the channel they publish on; relations between channels
// define which agents consume which outputs. A Manager turns the team into an
// ExecutionPlan, either deterministically from the topological order or by
// asking an LLM, and Team.Run executes that plan.
package agent

import (
	"context"

	"index_trader/internal/core"
)

// Channel identifies an agent's output stream. It is only a DAG node key.
type Channel string

// Output is what one agent produced
type Output map[string]any

// Results maps agent name to its output. A missing key means the agent
// produced nothing: it was skipped, failed, or did not run.
type Results map[string]Output

// Get returns an agent's output and whether it exists
func (r Results) Get(name string) (Output, bool) {
	out, ok := r[name]
	return out, ok
}

func (r Results) clone() Results {
	c := make(Results, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// State is the input handed to an agent's Execute
type State struct {
	// Data is the team-level input for this run
	Data map[string]any
	// Upstream holds every output available when the step started
	Upstream Results
	// Instructions are the manager's free-form notes for this step
	Instructions string
	Iteration    int
}

// Agent is one member of a team
type Agent interface {
	Name() string
	Channel() Channel
	Execute(ctx context.Context, input State, svc core.ICompletionService) (Output, error)
}

// Relation declares that Target depends on Source's output
type Relation struct {
	Source Channel `json:"source"`
	Target Channel `json:"target"`
}

// AgentInfo describes an agent to a manager
type AgentInfo struct {
	Name    string  `json:"name"`
	Channel Channel `json:"channel"`
}

// TeamInfo is the team structure managers plan against
type TeamInfo struct {
	Name      string      `json:"name"`
	Agents    []AgentInfo `json:"agents"`
	Relations []Relation  `json:"relations"`
}

// HasAgent reports whether name belongs to the team
func (t TeamInfo) HasAgent(name string) bool {
	for _, a := range t.Agents {
		if a.Name == name {
			return true
		}
	}
	return false
}
