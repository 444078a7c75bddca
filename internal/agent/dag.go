package agent

import (
	"fmt"
	"strings"
)

// graph is the channel dependency DAG of a team
type graph struct {
	agents []Agent
	// incoming maps a channel to the channels it consumes
	incoming map[Channel][]Channel
	// producers maps a channel to the agent publishing on it
	producers map[Channel]Agent
}

func buildGraph(agents []Agent, relations []Relation) (*graph, error) {
	g := &graph{
		agents:    agents,
		incoming:  make(map[Channel][]Channel),
		producers: make(map[Channel]Agent, len(agents)),
	}

	names := make(map[string]bool, len(agents))
	for _, a := range agents {
		if a.Name() == "" {
			return nil, &ConfigurationError{Kind: ErrDuplicateAgent, Message: "agent with empty name"}
		}
		if names[a.Name()] {
			return nil, &ConfigurationError{Kind: ErrDuplicateAgent, Message: fmt.Sprintf("agent name %q declared twice", a.Name())}
		}
		names[a.Name()] = true
		if other, ok := g.producers[a.Channel()]; ok {
			return nil, &ConfigurationError{Kind: ErrDuplicateAgent,
				Message: fmt.Sprintf("channel %q produced by both %q and %q", a.Channel(), other.Name(), a.Name())}
		}
		g.producers[a.Channel()] = a
	}

	for _, r := range relations {
		if _, ok := g.producers[r.Source]; !ok {
			return nil, &ConfigurationError{Kind: ErrInvalidRelation, Message: fmt.Sprintf("unknown source channel %q", r.Source)}
		}
		if _, ok := g.producers[r.Target]; !ok {
			return nil, &ConfigurationError{Kind: ErrInvalidRelation, Message: fmt.Sprintf("unknown target channel %q", r.Target)}
		}
		if r.Source == r.Target {
			return nil, &ConfigurationError{Kind: ErrCyclicDependency, Message: fmt.Sprintf("channel %q depends on itself", r.Source)}
		}
		if !containsChannel(g.incoming[r.Target], r.Source) {
			g.incoming[r.Target] = append(g.incoming[r.Target], r.Source)
		}
	}
	return g, nil
}

// predecessors returns the agents whose output a depends on, in relation order
func (g *graph) predecessors(a Agent) []Agent {
	sources := g.incoming[a.Channel()]
	out := make([]Agent, 0, len(sources))
	for _, ch := range sources {
		out = append(out, g.producers[ch])
	}
	return out
}

// executionOrder resolves a topological order with Kahn's algorithm. Every
// round schedules the agents whose predecessors were all scheduled in earlier
// rounds, in declaration order, so independent agents keep a stable order.
func (g *graph) executionOrder() ([]Agent, error) {
	scheduled := make(map[string]bool, len(g.agents))
	order := make([]Agent, 0, len(g.agents))

	for len(order) < len(g.agents) {
		var ready []Agent
		for _, a := range g.agents {
			if scheduled[a.Name()] {
				continue
			}
			if g.allScheduled(a, scheduled) {
				ready = append(ready, a)
			}
		}
		if len(ready) == 0 {
			var stuck []string
			for _, a := range g.agents {
				if !scheduled[a.Name()] {
					stuck = append(stuck, a.Name())
				}
			}
			return nil, &ConfigurationError{Kind: ErrCyclicDependency,
				Message: "no schedulable agent among " + strings.Join(stuck, ", ")}
		}
		for _, a := range ready {
			scheduled[a.Name()] = true
			order = append(order, a)
		}
	}
	return order, nil
}

func (g *graph) allScheduled(a Agent, scheduled map[string]bool) bool {
	for _, p := range g.predecessors(a) {
		if !scheduled[p.Name()] {
			return false
		}
	}
	return true
}

// ExecutionOrder returns agents in dependency order, or a ConfigurationError
// when relations reference unknown channels or form a cycle.
func ExecutionOrder(agents []Agent, relations []Relation) ([]Agent, error) {
	g, err := buildGraph(agents, relations)
	if err != nil {
		return nil, err
	}
	return g.executionOrder()
}

func containsChannel(list []Channel, c Channel) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}
	return false
}
