package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"index_trader/internal/agent"
	"index_trader/internal/core"
)

// SummaryAgent merges upstream outputs. The distribution published upstream,
// if any, is forwarded so the summary can be the team's output agent.
type SummaryAgent struct {
	base
}

func NewSummaryAgent(spec agent.Spec, logger core.ILogger) *SummaryAgent {
	return &SummaryAgent{base: newBase(spec, logger)}
}

func (a *SummaryAgent) Execute(ctx context.Context, input agent.State, svc core.ICompletionService) (agent.Output, error) {
	sources := sortedNames(input.Upstream)
	out := agent.Output{"sources": sources}

	for _, name := range sources {
		up := input.Upstream[name]
		if dist, ok := up["distribution"]; ok {
			out["distribution"] = dist
			out["instructions"] = up["instructions"]
		}
	}

	if a.prompt != "" && svc != nil {
		payload, err := json.Marshal(input.Upstream)
		if err != nil {
			return nil, err
		}
		text, err := svc.Complete(ctx, []core.Message{
			{Role: "system", Content: a.prompt},
			{Role: "user", Content: string(payload)},
		}, core.CompletionOptions{Model: a.param("model", "")})
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", a.name, err)
		}
		out["summary"] = strings.TrimSpace(text)
		return out, nil
	}

	out["summary"] = summarize(input.Upstream, sources)
	return out, nil
}

// summarize writes one line per upstream agent with its strongest signals
func summarize(upstream agent.Results, sources []string) string {
	if len(sources) == 0 {
		return "no upstream output"
	}
	var sb strings.Builder
	for _, name := range sources {
		sb.WriteString(name)
		sb.WriteString(":")
		signals, _ := upstream[name]["signals"].(map[string]float64)
		if len(signals) == 0 {
			keys := sortedNames(upstream[name])
			sb.WriteString(" " + strings.Join(keys, ", "))
		}
		assets := sortedNames(signals)
		sort.SliceStable(assets, func(i, j int) bool {
			return abs(signals[assets[i]]) > abs(signals[assets[j]])
		})
		for _, asset := range assets {
			fmt.Fprintf(&sb, " %s=%+.2f", asset, signals[asset])
		}
		sb.WriteString("\n")
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
