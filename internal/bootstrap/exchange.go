package bootstrap

import (
	"sort"
	"strings"

	"index_trader/internal/core"
	"index_trader/internal/mock"

	"github.com/shopspring/decimal"
)

// NewPaperExchange builds the in-memory exchange from the exchange section.
// Prices are keyed by asset and quoted in the reference market. For futures,
// non-reference balances open long positions at the configured price.
func NewPaperExchange(cfg *Config) *mock.MockExchange {
	ref := strings.ToUpper(cfg.App.ReferenceMarket)
	opts := mock.Options{
		Name:                cfg.Exchange.Name,
		MarketType:          core.MarketType(cfg.App.MarketType),
		Reference:           ref,
		TakerFee:            decimal.NewFromFloat(cfg.Exchange.TakerFee),
		MakerFee:            decimal.NewFromFloat(cfg.Exchange.MakerFee),
		MinCost:             decimal.NewFromFloat(cfg.Exchange.MinCost),
		QuantityDecimals:    cfg.Exchange.QuantityDecimals,
		PriceDecimals:       cfg.Exchange.PriceDecimals,
		Leverage:            decimal.NewFromFloat(cfg.Exchange.Leverage),
		MaxPositionNotional: decimal.NewFromFloat(cfg.Exchange.MaxPositionNotion),
	}
	ex := mock.NewMockExchange(opts)

	for _, asset := range sortedKeys(cfg.Exchange.Prices) {
		ex.SetPrice(core.Symbol(strings.ToUpper(asset), ref), decimal.NewFromFloat(cfg.Exchange.Prices[asset]))
	}

	for _, asset := range sortedKeys(cfg.Exchange.InitialBalances) {
		amount := decimal.NewFromFloat(cfg.Exchange.InitialBalances[asset])
		upper := strings.ToUpper(asset)
		if opts.MarketType == core.MarketTypeFutures && upper != ref {
			price := decimal.NewFromFloat(cfg.Exchange.Prices[asset])
			ex.SetPosition(core.Symbol(upper, ref), amount, price)
			continue
		}
		ex.SetBalance(upper, amount)
	}
	return ex
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
