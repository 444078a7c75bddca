package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"index_trader/internal/agent"
	"index_trader/internal/core"
	"index_trader/internal/llm"
)

// Evaluator turns input data into per-asset scores in [-1, 1]
type Evaluator func(data map[string]any, saturation float64) map[string]float64

var evaluators = map[string]Evaluator{
	"momentum":       momentum,
	"mean_reversion": meanReversion,
}

// momentum scores recent price change, saturating at +-saturation percent
func momentum(data map[string]any, saturation float64) map[string]float64 {
	out := make(map[string]float64)
	for asset, change := range floatMap(data, KeyPriceChanges) {
		out[asset] = clamp(change / saturation)
	}
	return out
}

func meanReversion(data map[string]any, saturation float64) map[string]float64 {
	out := momentum(data, saturation)
	for k, v := range out {
		out[k] = -v
	}
	return out
}

func clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

const signalSchemaDoc = `{
  "type": "object",
  "required": ["signals"],
  "properties": {
    "signals": {
      "type": "object",
      "additionalProperties": {"type": "number", "minimum": -1, "maximum": 1}
    },
    "reasoning": {"type": "string"}
  }
}`

var signalSchema = llm.MustCompileSchema("signals.json", signalSchemaDoc)

// SignalAgent scores assets. With a prompt and a completion service it asks
// the LLM, otherwise it runs a local evaluator.
type SignalAgent struct {
	base
	evaluator  Evaluator
	saturation float64
}

func NewSignalAgent(spec agent.Spec, logger core.ILogger) (*SignalAgent, error) {
	b := newBase(spec, logger)
	name := b.param("evaluator", "momentum")
	eval, ok := evaluators[name]
	if !ok {
		return nil, fmt.Errorf("agent %s: unknown evaluator %q", spec.Name, name)
	}
	saturation, err := b.floatParam("saturation_percent", 5)
	if err != nil {
		return nil, err
	}
	if saturation <= 0 {
		return nil, fmt.Errorf("agent %s: saturation_percent must be positive", spec.Name)
	}
	return &SignalAgent{base: b, evaluator: eval, saturation: saturation}, nil
}

func (a *SignalAgent) Execute(ctx context.Context, input agent.State, svc core.ICompletionService) (agent.Output, error) {
	if a.prompt == "" || svc == nil {
		signals := a.evaluator(input.Data, a.saturation)
		return agent.Output{"source": a.name, "signals": signals}, nil
	}

	payload, err := json.Marshal(map[string]any{
		"data":         input.Data,
		"instructions": input.Instructions,
	})
	if err != nil {
		return nil, err
	}
	raw, err := llm.CompleteJSON(ctx, svc, []core.Message{
		{Role: "system", Content: a.prompt + "\nScore each asset between -1 (sell) and 1 (buy)."},
		{Role: "user", Content: string(payload)},
	}, llm.StructuredOptions{
		Completion: core.CompletionOptions{Model: a.param("model", "")},
		Schema:     signalSchema,
	}, a.logger)
	if err != nil {
		return nil, err
	}

	var doc struct {
		Signals   map[string]float64 `json:"signals"`
		Reasoning string             `json:"reasoning"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return agent.Output{"source": a.name, "signals": doc.Signals, "reasoning": doc.Reasoning}, nil
}
