package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ducminhle1904/crypto-risk-core/pkg/types"
)

func leveragedVenue() types.VenueCapabilities {
	return types.VenueCapabilities{Name: "bybit", SupportsLeverage: true, DefaultMaxLeverage: 100}
}

func newTestRiskManager() *RiskManager {
	return NewRiskManager(Config{
		MaxPositionSizePct: 5,
		MaxLeverage:        10,
		SymbolMaxLeverage:  map[string]int{"DOGEUSDT": 3},
	}, leveragedVenue())
}

func TestPositionSizePct(t *testing.T) {
	rm := newTestRiskManager()
	tests := []struct {
		confidence float64
		expected   float64
	}{
		{0.3, 1.0},
		{0.5, 1.0},
		{0.6, 1.8},
		{0.75, 3.0},
		{0.95, 4.6},
		{1.0, 5.0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.expected, rm.PositionSizePct(tt.confidence), 1e-9, "confidence %.2f", tt.confidence)
	}
}

func TestLeverageTiers(t *testing.T) {
	rm := newTestRiskManager()
	tests := []struct {
		name       string
		symbol     string
		confidence float64
		expected   int
	}{
		{"below threshold", "BTCUSDT", 0.55, 1},
		{"tier one low", "BTCUSDT", 0.6, 1},
		{"tier one mid", "BTCUSDT", 0.65, 2},
		{"tier two low", "BTCUSDT", 0.7, 4},
		{"tier two high", "BTCUSDT", 0.84, 6},
		{"tier three low", "BTCUSDT", 0.85, 7},
		{"tier three high", "BTCUSDT", 1.0, 10},
		{"symbol cap", "DOGEUSDT", 0.95, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, rm.Leverage(tt.symbol, tt.confidence))
		})
	}
}

func TestLeverageOnSpotVenue(t *testing.T) {
	rm := NewRiskManager(Config{MaxPositionSizePct: 5, MaxLeverage: 10}, types.SpotVenue("paper-spot"))
	assert.Equal(t, 1, rm.Leverage("BTCUSDT", 0.99))
	assert.Equal(t, 1, rm.MaxLeverage("BTCUSDT"))
}

func TestMaxLeverageTakesMinimum(t *testing.T) {
	venue := types.VenueCapabilities{SupportsLeverage: true, DefaultMaxLeverage: 8, SymbolMaxLeverage: map[string]int{"ETHUSDT": 4}}
	rm := NewRiskManager(Config{MaxPositionSizePct: 5, MaxLeverage: 10, SymbolMaxLeverage: map[string]int{"BTCUSDT": 20}}, venue)

	assert.Equal(t, 8, rm.MaxLeverage("BTCUSDT"))
	assert.Equal(t, 4, rm.MaxLeverage("ETHUSDT"))
	assert.Equal(t, 8, rm.MaxLeverage("SOLUSDT"))
}

func TestStopLossAndTakeProfitPrices(t *testing.T) {
	assert.InDelta(t, 98.0, StopLossPrice(100, types.DirectionLong, 2), 1e-9)
	assert.InDelta(t, 102.0, StopLossPrice(100, types.DirectionShort, 2), 1e-9)
	assert.InDelta(t, 104.0, TakeProfitPrice(100, types.DirectionLong, 4), 1e-9)
	assert.InDelta(t, 96.0, TakeProfitPrice(100, types.DirectionShort, 4), 1e-9)
}

func TestATRStopLoss(t *testing.T) {
	rm := newTestRiskManager()

	price, pct := rm.ATRStopLoss(100, types.DirectionLong, 1.5)
	assert.InDelta(t, 3.0, pct, 1e-9)
	assert.InDelta(t, 97.0, price, 1e-9)

	_, pct = rm.ATRStopLoss(100, types.DirectionShort, 0.1)
	assert.InDelta(t, MinATRStopPct, pct, 1e-9)

	price, pct = rm.ATRStopLoss(100, types.DirectionShort, 10)
	assert.InDelta(t, MaxATRStopPct, pct, 1e-9)
	assert.InDelta(t, 105.0, price, 1e-9)
}

func TestVolatilityAdjustments(t *testing.T) {
	rm := newTestRiskManager()

	assert.Equal(t, 1.0, VolatilityRatio(0, 10))
	assert.Equal(t, MaxVolatilityRatio, VolatilityRatio(50, 10))
	assert.Equal(t, MinVolatilityRatio, VolatilityRatio(1, 10))

	// doubled volatility halves the base size of 3%
	assert.InDelta(t, 1.5, rm.VolatilityAdjustedSize(0.75, 20, 10), 1e-9)
	// calm markets allow a modest increase, still clamped to the max
	assert.InDelta(t, 5.0, rm.VolatilityAdjustedSize(0.75, 5, 10), 1e-9)

	assert.Equal(t, 2, rm.VolatilityAdjustedLeverage("BTCUSDT", 0.7, 20, 10))
	assert.Equal(t, 8, rm.VolatilityAdjustedLeverage("BTCUSDT", 0.7, 5, 10))
}

func TestShouldClose(t *testing.T) {
	tests := []struct {
		name      string
		price     float64
		direction types.Direction
		sl, tp    float64
		expected  bool
	}{
		{"long stop", 97, types.DirectionLong, 98, 104, true},
		{"long target", 105, types.DirectionLong, 98, 104, true},
		{"long inside", 100, types.DirectionLong, 98, 104, false},
		{"short stop", 103, types.DirectionShort, 102, 96, true},
		{"short target", 95, types.DirectionShort, 102, 96, true},
		{"short inside", 100, types.DirectionShort, 102, 96, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			closeIt, reason := ShouldClose(tt.price, 100, tt.direction, tt.sl, tt.tp)
			assert.Equal(t, tt.expected, closeIt)
			if tt.expected {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestUnrealizedPnLPct(t *testing.T) {
	assert.InDelta(t, 5.0, UnrealizedPnLPct(100, 101, types.DirectionLong, 5), 1e-9)
	assert.InDelta(t, -5.0, UnrealizedPnLPct(100, 101, types.DirectionShort, 5), 1e-9)
	assert.InDelta(t, -2.0, UnrealizedPnLPct(100, 98, types.DirectionLong, 0), 1e-9)
	assert.Equal(t, 0.0, UnrealizedPnLPct(0, 98, types.DirectionLong, 1))
}
