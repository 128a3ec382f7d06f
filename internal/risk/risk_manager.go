package risk

import (
	"fmt"
	"math"

	"github.com/ducminhle1904/crypto-risk-core/pkg/types"
)

const (
	DefaultATRMultiplier  = 2.0
	MinATRStopPct         = 1.0
	MaxATRStopPct         = 5.0
	MinVolatilityRatio    = 0.5
	MaxVolatilityRatio    = 2.0
	MinPositionSizePct    = 1.0
	confidenceSizeSlope   = 8.0
	confidenceSizeCeiling = 0.5
)

// Config holds the limits the risk manager clamps against
type Config struct {
	MaxPositionSizePct float64
	MaxLeverage        int
	// SymbolMaxLeverage overrides MaxLeverage per symbol, never raising it
	SymbolMaxLeverage map[string]int
	ATRMultiplier     float64
}

// RiskManager derives sizing, leverage and exit prices. All methods are pure.
type RiskManager struct {
	config Config
	venue  types.VenueCapabilities
}

// NewRiskManager creates a risk manager for a venue
func NewRiskManager(config Config, venue types.VenueCapabilities) *RiskManager {
	if config.ATRMultiplier <= 0 {
		config.ATRMultiplier = DefaultATRMultiplier
	}
	if config.MaxLeverage < 1 {
		config.MaxLeverage = 1
	}
	if config.MaxPositionSizePct < MinPositionSizePct {
		config.MaxPositionSizePct = MinPositionSizePct
	}
	return &RiskManager{config: config, venue: venue}
}

// Venue returns the capabilities the manager was built for
func (rm *RiskManager) Venue() types.VenueCapabilities {
	return rm.venue
}

// MaxPositionSizePct returns the configured size ceiling
func (rm *RiskManager) MaxPositionSizePct() float64 {
	return rm.config.MaxPositionSizePct
}

// MaxLeverage is min(venue max, symbol cap, global max)
func (rm *RiskManager) MaxLeverage(symbol string) int {
	max := rm.config.MaxLeverage
	if cap, ok := rm.config.SymbolMaxLeverage[symbol]; ok && cap > 0 && cap < max {
		max = cap
	}
	if venueMax := rm.venue.MaxLeverage(symbol); venueMax < max {
		max = venueMax
	}
	if max < 1 {
		return 1
	}
	return max
}

// PositionSizePct ramps linearly from 1% at confidence 0.5
func (rm *RiskManager) PositionSizePct(confidence float64) float64 {
	size := 1.0 + math.Max(0, confidence-confidenceSizeCeiling)*confidenceSizeSlope
	return clamp(size, MinPositionSizePct, rm.config.MaxPositionSizePct)
}

// Leverage maps confidence onto tiers 1-3x, 4-6x and 7-10x
func (rm *RiskManager) Leverage(symbol string, confidence float64) int {
	return rm.clampLeverage(symbol, tierLeverage(confidence))
}

func tierLeverage(confidence float64) float64 {
	c := math.Min(confidence, 1.0)
	switch {
	case c >= 0.85:
		return 7 + (c-0.85)/0.15*3
	case c >= 0.7:
		return 4 + (c-0.7)/0.15*2
	case c >= 0.6:
		return 1 + (c-0.6)/0.1*2
	default:
		return 1
	}
}

func (rm *RiskManager) clampLeverage(symbol string, lev float64) int {
	rounded := int(math.Round(lev))
	if rounded < 1 {
		rounded = 1
	}
	if max := rm.MaxLeverage(symbol); rounded > max {
		return max
	}
	return rounded
}

// StopLossPrice is entry*(1-pct/100) for longs and entry*(1+pct/100) for shorts
func StopLossPrice(entry float64, direction types.Direction, pct float64) float64 {
	return entry * (1 - direction.Sign()*pct/100)
}

// TakeProfitPrice is entry*(1+pct/100) for longs and entry*(1-pct/100) for shorts
func TakeProfitPrice(entry float64, direction types.Direction, pct float64) float64 {
	return entry * (1 + direction.Sign()*pct/100)
}

// ATRStopLossPct converts an ATR reading into a stop distance bounded to [1%, 5%]
func (rm *RiskManager) ATRStopLossPct(entry, atr float64) float64 {
	if entry <= 0 {
		return MinATRStopPct
	}
	pct := atr * rm.config.ATRMultiplier / entry * 100
	return clamp(pct, MinATRStopPct, MaxATRStopPct)
}

// ATRStopLoss returns the ATR-derived stop price and its percentage distance
func (rm *RiskManager) ATRStopLoss(entry float64, direction types.Direction, atr float64) (float64, float64) {
	pct := rm.ATRStopLossPct(entry, atr)
	return StopLossPrice(entry, direction, pct), pct
}

// VolatilityRatio is current/average ATR clamped to [0.5, 2]; 1 when unknown
func VolatilityRatio(currentATR, averageATR float64) float64 {
	if currentATR <= 0 || averageATR <= 0 {
		return 1
	}
	return clamp(currentATR/averageATR, MinVolatilityRatio, MaxVolatilityRatio)
}

// VolatilityAdjustedSize scales the confidence size by the inverse volatility ratio
func (rm *RiskManager) VolatilityAdjustedSize(confidence, currentATR, averageATR float64) float64 {
	size := rm.PositionSizePct(confidence) / VolatilityRatio(currentATR, averageATR)
	return clamp(size, MinPositionSizePct, rm.config.MaxPositionSizePct)
}

// VolatilityAdjustedLeverage scales the confidence leverage by the inverse volatility ratio
func (rm *RiskManager) VolatilityAdjustedLeverage(symbol string, confidence, currentATR, averageATR float64) int {
	return rm.clampLeverage(symbol, tierLeverage(confidence)/VolatilityRatio(currentATR, averageATR))
}

// ShouldClose reports whether price has crossed the stop-loss or take-profit
func ShouldClose(price, entry float64, direction types.Direction, slPrice, tpPrice float64) (bool, string) {
	switch direction {
	case types.DirectionLong:
		if slPrice > 0 && price <= slPrice {
			return true, fmt.Sprintf("stop loss hit: %.4f <= %.4f (entry %.4f)", price, slPrice, entry)
		}
		if tpPrice > 0 && price >= tpPrice {
			return true, fmt.Sprintf("take profit hit: %.4f >= %.4f (entry %.4f)", price, tpPrice, entry)
		}
	case types.DirectionShort:
		if slPrice > 0 && price >= slPrice {
			return true, fmt.Sprintf("stop loss hit: %.4f >= %.4f (entry %.4f)", price, slPrice, entry)
		}
		if tpPrice > 0 && price <= tpPrice {
			return true, fmt.Sprintf("take profit hit: %.4f <= %.4f (entry %.4f)", price, tpPrice, entry)
		}
	}
	return false, ""
}

// UnrealizedPnLPct is the return on margin: price move times leverage
func UnrealizedPnLPct(entry, mark float64, direction types.Direction, leverage int) float64 {
	if entry <= 0 {
		return 0
	}
	if leverage < 1 {
		leverage = 1
	}
	return (mark - entry) / entry * 100 * direction.Sign() * float64(leverage)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
