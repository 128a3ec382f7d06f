package exchange

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetNotional(t *testing.T) {
	assert.Equal(t, "1500", TargetNotional(10000, 5, 3).String())
	assert.Equal(t, "500", TargetNotional(10000, 5, 0).String(), "leverage below 1 counts as 1")
}

func TestQuantityForNotional(t *testing.T) {
	rules := ParseLotRules("0.001", "100", "0.001", "0.1")

	tests := []struct {
		name     string
		notional float64
		price    float64
		expected string
		tooSmall bool
	}{
		{"exact", 1500, 30000, "0.05", false},
		{"floored to step", 1000, 30000, "0.033", false},
		{"capped at max", 1e9, 1, "100", false},
		{"below minimum", 10, 30000, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qty, err := QuantityForNotional(decimal.NewFromFloat(tt.notional), tt.price, rules)
			if tt.tooSmall {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrOrderSizeTooSmall))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, qty.String())
		})
	}

	_, err := QuantityForNotional(decimal.NewFromInt(100), 0, rules)
	assert.Error(t, err)
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "97.12", FormatPrice(97.123456, decimal.RequireFromString("0.01")))
	assert.Equal(t, "30000.5", FormatPrice(30000.46, decimal.RequireFromString("0.5")))
	assert.Equal(t, "1.2345", FormatPrice(1.2345, decimal.Zero))
}

func TestParseLotRulesIgnoresGarbage(t *testing.T) {
	rules := ParseLotRules("", "abc", "0.01", "")
	assert.True(t, rules.MinQty.IsZero())
	assert.True(t, rules.MaxQty.IsZero())
	assert.Equal(t, "0.01", rules.QtyStep.String())
}
