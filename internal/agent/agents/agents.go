// Package agents holds the concrete agents of the index team
package agents

import (
	"fmt"
	"sort"
	"strconv"

	"index_trader/internal/agent"
	"index_trader/internal/core"
)

// Agent type names used in configuration
const (
	TypeSignal       = "signal"
	TypeDistribution = "distribution"
	TypeSummary      = "summary"
)

// Input data keys set by the portfolio controller
const (
	KeyReference    = "reference"
	KeyDistribution = "distribution"
	KeyHoldings     = "holdings"
	KeyPriceChanges = "price_changes"
)

// Register adds every built-in agent type to registry
func Register(registry *agent.Registry, logger core.ILogger) error {
	factories := map[string]agent.Factory{
		TypeSignal: func(spec agent.Spec) (agent.Agent, error) {
			return NewSignalAgent(spec, logger)
		},
		TypeDistribution: func(spec agent.Spec) (agent.Agent, error) {
			return NewDistributionAgent(spec, logger), nil
		},
		TypeSummary: func(spec agent.Spec) (agent.Agent, error) {
			return NewSummaryAgent(spec, logger), nil
		},
	}
	for _, name := range []string{TypeSignal, TypeDistribution, TypeSummary} {
		if err := registry.Register(name, factories[name]); err != nil {
			return err
		}
	}
	return nil
}

// base carries the identity every agent shares
type base struct {
	name    string
	channel agent.Channel
	prompt  string
	params  map[string]string
	logger  core.ILogger
}

func newBase(spec agent.Spec, logger core.ILogger) base {
	ch := spec.Channel
	if ch == "" {
		ch = agent.Channel(spec.Name)
	}
	return base{
		name:    spec.Name,
		channel: ch,
		prompt:  spec.Prompt,
		params:  spec.Params,
		logger:  logger.WithField("agent", spec.Name),
	}
}

func (b base) Name() string           { return b.name }
func (b base) Channel() agent.Channel { return b.channel }

func (b base) param(key, fallback string) string {
	if v, ok := b.params[key]; ok && v != "" {
		return v
	}
	return fallback
}

func (b base) floatParam(key string, fallback float64) (float64, error) {
	v, ok := b.params[key]
	if !ok || v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("agent %s: param %s: %w", b.name, key, err)
	}
	return f, nil
}

// floatMap reads a map of numbers from loosely typed input data
func floatMap(data map[string]any, key string) map[string]float64 {
	out := make(map[string]float64)
	switch m := data[key].(type) {
	case map[string]float64:
		for k, v := range m {
			out[k] = v
		}
	case map[string]any:
		for k, v := range m {
			switch n := v.(type) {
			case float64:
				out[k] = n
			case int:
				out[k] = float64(n)
			}
		}
	}
	return out
}

func sortedNames[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
