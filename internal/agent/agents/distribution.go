package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"index_trader/internal/agent"
	"index_trader/internal/core"
	"index_trader/internal/llm"
	"index_trader/internal/trading/distribution"

	"github.com/shopspring/decimal"
)

// ErrNoCompletionService is returned by agents that cannot work without an LLM
var ErrNoCompletionService = errors.New("completion service not configured")

const distributionSystemPrompt = `You manage the weights of a crypto index portfolio.
Given the current distribution, the current holdings and the upstream signals, answer with instructions that change the distribution.
Use "add" for a new asset, "remove" to drop one and "set" to change a weight. Weights are percentages. Keep changes small unless signals are strong.`

// DistributionAgent asks the LLM for distribution instructions and applies them
// to the current distribution
type DistributionAgent struct {
	base
}

func NewDistributionAgent(spec agent.Spec, logger core.ILogger) *DistributionAgent {
	return &DistributionAgent{base: newBase(spec, logger)}
}

type distributionPrompt struct {
	Distribution map[string]float64            `json:"distribution"`
	Holdings     map[string]float64            `json:"holdings,omitempty"`
	Signals      map[string]map[string]float64 `json:"signals,omitempty"`
	Instructions string                        `json:"instructions,omitempty"`
}

func (a *DistributionAgent) Execute(ctx context.Context, input agent.State, svc core.ICompletionService) (agent.Output, error) {
	if svc == nil {
		return nil, fmt.Errorf("agent %s: %w", a.name, ErrNoCompletionService)
	}

	current := floatMap(input.Data, KeyDistribution)
	if len(current) == 0 {
		return nil, fmt.Errorf("agent %s: no current distribution in input", a.name)
	}
	from := make(distribution.Target, len(current))
	for asset, w := range current {
		from[asset] = decimal.NewFromFloat(w)
	}

	prompt := distributionPrompt{
		Distribution: current,
		Holdings:     floatMap(input.Data, KeyHoldings),
		Signals:      upstreamSignals(input.Upstream),
		Instructions: input.Instructions,
	}
	payload, err := json.Marshal(prompt)
	if err != nil {
		return nil, err
	}

	system := distributionSystemPrompt
	if a.prompt != "" {
		system += "\n" + a.prompt
	}
	attempts, _ := strconv.Atoi(a.param("max_attempts", "0"))
	raw, err := llm.CompleteJSON(ctx, svc, []core.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: string(payload)},
	}, llm.StructuredOptions{
		Completion:  core.CompletionOptions{Model: a.param("model", "")},
		Schema:      distribution.InstructionsSchema,
		MaxAttempts: attempts,
	}, a.logger)
	if err != nil {
		return nil, err
	}

	instructions, reasoning, err := distribution.ParseInstructions(raw)
	if err != nil {
		return nil, err
	}
	target, err := distribution.Apply(from, instructions)
	if err != nil {
		return nil, err
	}

	a.logger.Info("Distribution updated", "instructions", len(instructions), "assets", len(target))
	return agent.Output{
		"instructions": instructions,
		"reasoning":    reasoning,
		"distribution": target.Floats(),
	}, nil
}

// upstreamSignals collects the signals published by upstream agents
func upstreamSignals(upstream agent.Results) map[string]map[string]float64 {
	out := make(map[string]map[string]float64)
	for _, name := range sortedNames(upstream) {
		if s, ok := upstream[name]["signals"].(map[string]float64); ok {
			out[name] = s
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
