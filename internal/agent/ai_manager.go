package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"index_trader/internal/core"
	"index_trader/internal/llm"
)

const managerSystemPrompt = `You are the manager of a team of trading analysis agents.
Decide which agents run, in which order, and which outputs each one must wait for.
Answer with a single JSON object matching the provided schema. Every wait_for entry must name an agent scheduled earlier in the steps list.
Set loop to true only when the team should run again after inspecting its results, and describe when to stop in loop_condition.`

const loopDecisionSchema = `{
  "type": "object",
  "required": ["continue"],
  "properties": {
    "continue": {"type": "boolean"},
    "reason": {"type": "string"}
  }
}`

var loopSchema = llm.MustCompileSchema("loop_decision.json", loopDecisionSchema)

// AIManager asks an LLM for the execution plan and for loop decisions
type AIManager struct {
	svc         core.ICompletionService
	logger      core.ILogger
	model       string
	maxAttempts int
}

var _ Manager = (*AIManager)(nil)

// NewAIManager creates an LLM-driven manager
func NewAIManager(svc core.ICompletionService, model string, maxAttempts int, logger core.ILogger) *AIManager {
	return &AIManager{
		svc:         svc,
		logger:      logger.WithField("component", "ai_manager"),
		model:       model,
		maxAttempts: maxAttempts,
	}
}

type planPrompt struct {
	Team         TeamInfo       `json:"team"`
	Input        map[string]any `json:"input"`
	Instructions string         `json:"instructions,omitempty"`
}

// Plan requests an ExecutionPlan. Output that stays malformed after the retry
// budget, or that fails team-level validation, is a ValidationError.
func (m *AIManager) Plan(ctx context.Context, team TeamInfo, input State, instructions string) (*ExecutionPlan, error) {
	if m.svc == nil {
		return nil, fmt.Errorf("ai manager requires a completion service")
	}

	payload, err := json.Marshal(planPrompt{Team: team, Input: input.Data, Instructions: instructions})
	if err != nil {
		return nil, fmt.Errorf("encode team description: %w", err)
	}

	messages := []core.Message{
		{Role: "system", Content: managerSystemPrompt},
		{Role: "user", Content: string(payload)},
	}
	raw, err := llm.CompleteJSON(ctx, m.svc, messages, llm.StructuredOptions{
		Completion:  core.CompletionOptions{Model: m.model},
		Schema:      PlanSchema,
		MaxAttempts: m.maxAttempts,
	}, m.logger)
	if err != nil {
		if llm.IsMalformed(err) {
			return nil, &ValidationError{Field: "plan", Message: "llm output rejected", Err: err}
		}
		return nil, err
	}

	plan, err := ParsePlan(raw)
	if err != nil {
		return nil, err
	}
	if err := plan.Validate(team); err != nil {
		return nil, err
	}

	m.logger.Info("Execution plan received",
		"steps", strings.Join(plan.AgentNames(), ","),
		"loop", plan.Loop,
		"max_iterations", plan.MaxIterations)
	return plan, nil
}

// ShouldContinue asks the LLM whether the loop condition still holds
func (m *AIManager) ShouldContinue(ctx context.Context, plan *ExecutionPlan, results Results, iteration int) (bool, error) {
	if plan == nil || !plan.Loop || strings.TrimSpace(plan.LoopCondition) == "" {
		return false, nil
	}

	payload, err := json.Marshal(map[string]any{
		"loop_condition": plan.LoopCondition,
		"iteration":      iteration,
		"results":        results,
	})
	if err != nil {
		return false, fmt.Errorf("encode loop state: %w", err)
	}

	raw, err := llm.CompleteJSON(ctx, m.svc, []core.Message{
		{Role: "system", Content: "Decide whether the team must run another iteration. Continue only while the loop condition is not yet met."},
		{Role: "user", Content: string(payload)},
	}, llm.StructuredOptions{
		Completion:  core.CompletionOptions{Model: m.model},
		Schema:      loopSchema,
		MaxAttempts: m.maxAttempts,
	}, m.logger)
	if err != nil {
		return false, err
	}

	var decision struct {
		Continue bool   `json:"continue"`
		Reason   string `json:"reason"`
	}
	if err := json.Unmarshal(raw, &decision); err != nil {
		return false, &ValidationError{Field: "continue", Message: "cannot decode", Err: err}
	}
	m.logger.Debug("Loop decision", "iteration", iteration, "continue", decision.Continue, "reason", decision.Reason)
	return decision.Continue, nil
}
