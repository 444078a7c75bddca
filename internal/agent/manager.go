package agent

import (
	"context"

	"index_trader/internal/core"
)

// Manager decides how a team runs
type Manager interface {
	Plan(ctx context.Context, team TeamInfo, input State, instructions string) (*ExecutionPlan, error)
	// ShouldContinue evaluates the plan's loop condition after an iteration
	ShouldContinue(ctx context.Context, plan *ExecutionPlan, results Results, iteration int) (bool, error)
}

// DefaultManager plans straight from the topological order: each step waits
// for exactly its direct predecessors and the plan never loops.
type DefaultManager struct{}

var _ Manager = DefaultManager{}

func (DefaultManager) Plan(_ context.Context, team TeamInfo, _ State, _ string) (*ExecutionPlan, error) {
	agents := make([]Agent, len(team.Agents))
	for i, info := range team.Agents {
		agents[i] = infoAgent{info: info}
	}
	g, err := buildGraph(agents, team.Relations)
	if err != nil {
		return nil, err
	}
	order, err := g.executionOrder()
	if err != nil {
		return nil, err
	}

	plan := &ExecutionPlan{Steps: make([]ExecutionStep, 0, len(order))}
	for _, a := range order {
		preds := g.predecessors(a)
		waitFor := make([]string, len(preds))
		for i, p := range preds {
			waitFor[i] = p.Name()
		}
		plan.Steps = append(plan.Steps, ExecutionStep{AgentName: a.Name(), WaitFor: waitFor})
	}
	return plan, nil
}

func (DefaultManager) ShouldContinue(context.Context, *ExecutionPlan, Results, int) (bool, error) {
	return false, nil
}

// infoAgent lets the graph code run over team descriptions
type infoAgent struct {
	info AgentInfo
}

func (a infoAgent) Name() string     { return a.info.Name }
func (a infoAgent) Channel() Channel { return a.info.Channel }
func (a infoAgent) Execute(context.Context, State, core.ICompletionService) (Output, error) {
	return nil, nil
}
