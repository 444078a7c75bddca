package tradingutils

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestDeviationPercent(t *testing.T) {
	assert.True(t, d("1").Equal(DeviationPercent(d("101"), d("100"))))
	assert.True(t, d("1").Equal(DeviationPercent(d("99"), d("100"))))
	assert.True(t, DeviationPercent(d("5"), decimal.Zero).IsZero())
}

func TestAdaptQuantityForFees(t *testing.T) {
	tests := []struct {
		name      string
		qty       string
		price     string
		available string
		fee       string
		isBuy     bool
		want      string
	}{
		{"buy grossed up for fee", "0.999", "10", "1000", "0.001", true, "1"},
		{"buy capped by funds", "10", "10", "50", "0.001", true, "5"},
		{"sell capped by holdings", "3", "10", "2", "0.001", false, "2"},
		{"sell untouched", "1", "10", "2", "0.001", false, "1"},
		{"non positive", "0", "10", "100", "0.001", true, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AdaptQuantityForFees(d(tt.qty), d(tt.price), d(tt.available), d(tt.fee), tt.isBuy)
			assert.Truef(t, d(tt.want).Equal(got), "want %s got %s", tt.want, got)
		})
	}
}

func TestCheckAndAdaptOrderDetails(t *testing.T) {
	rules := Rules{
		MinQuantity:      d("0.01"),
		MaxQuantity:      d("1"),
		MinCost:          d("5"),
		QuantityDecimals: 2,
		PriceDecimals:    1,
	}

	t.Run("splits above max quantity", func(t *testing.T) {
		splits := CheckAndAdaptOrderDetails(d("2.5"), d("100.04"), rules)
		require.Len(t, splits, 3)
		assert.True(t, d("1").Equal(splits[0].Quantity))
		assert.True(t, d("1").Equal(splits[1].Quantity))
		assert.True(t, d("0.5").Equal(splits[2].Quantity))
		assert.True(t, d("100").Equal(splits[0].Price))
	})

	t.Run("below min cost yields nothing", func(t *testing.T) {
		assert.Empty(t, CheckAndAdaptOrderDetails(d("0.04"), d("100"), rules))
	})

	t.Run("truncates precision", func(t *testing.T) {
		splits := CheckAndAdaptOrderDetails(d("0.129"), d("100"), rules)
		require.Len(t, splits, 1)
		assert.True(t, d("0.12").Equal(splits[0].Quantity))
	})

	t.Run("max cost caps chunk size", func(t *testing.T) {
		r := rules
		r.MaxQuantity = decimal.Zero
		r.MaxCost = d("150")
		splits := CheckAndAdaptOrderDetails(d("2"), d("100"), r)
		require.Len(t, splits, 2)
		assert.True(t, d("1.5").Equal(splits[0].Quantity))
		assert.True(t, d("0.5").Equal(splits[1].Quantity))
	})
}

func TestInstantlyFilledLimitPriceAndQuantity(t *testing.T) {
	rules := Rules{QuantityDecimals: 4, PriceDecimals: 2}

	price, qty := InstantlyFilledLimitPriceAndQuantity(d("100"), d("1"), true, rules)
	assert.True(t, d("100.5").Equal(price))
	assert.True(t, qty.LessThan(d("1")))
	assert.True(t, qty.Mul(price).LessThanOrEqual(d("100")))

	price, qty = InstantlyFilledLimitPriceAndQuantity(d("100"), d("1"), false, rules)
	assert.True(t, d("99.5").Equal(price))
	assert.True(t, d("1").Equal(qty))
}
