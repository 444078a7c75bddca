package rebalance

import (
	"fmt"
	"sort"

	"index_trader/internal/core"
)

// Factory builds a rebalancer for one market type
type Factory func(exchange core.IExchange, gateway core.IOrderGateway, opts Options, logger core.ILogger) Rebalancer

// Registry maps market types to rebalancer factories
type Registry struct {
	factories map[core.MarketType]Factory
}

// NewRegistry returns a registry holding the spot and futures rebalancers
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[core.MarketType]Factory)}
	r.factories[core.MarketTypeSpot] = func(ex core.IExchange, gw core.IOrderGateway, opts Options, logger core.ILogger) Rebalancer {
		return NewSpotRebalancer(ex, gw, opts, logger)
	}
	r.factories[core.MarketTypeFutures] = func(ex core.IExchange, gw core.IOrderGateway, opts Options, logger core.ILogger) Rebalancer {
		return NewFuturesRebalancer(ex, ex, gw, opts, logger)
	}
	return r
}

// Register adds or replaces a factory
func (r *Registry) Register(marketType core.MarketType, f Factory) {
	r.factories[marketType] = f
}

// Build creates the rebalancer for marketType
func (r *Registry) Build(marketType core.MarketType, exchange core.IExchange, gateway core.IOrderGateway, opts Options, logger core.ILogger) (Rebalancer, error) {
	f, ok := r.factories[marketType]
	if !ok {
		return nil, fmt.Errorf("no rebalancer for market type %q", marketType)
	}
	return f(exchange, gateway, opts, logger), nil
}

// MarketTypes lists the registered market types
func (r *Registry) MarketTypes() []core.MarketType {
	out := make([]core.MarketType, 0, len(r.factories))
	for mt := range r.factories {
		out = append(out, mt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
