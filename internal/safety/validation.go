package safety

import (
	"fmt"
	"math"
	"strings"

	"github.com/ducminhle1904/crypto-risk-core/internal/risk"
	"github.com/ducminhle1904/crypto-risk-core/pkg/types"
)

// Clamp bounds applied to every OPEN decision
const (
	MinStopLossPct     = 1.0
	MaxStopLossPct     = 10.0
	MinTakeProfitPct   = 2.0
	MaxTakeProfitPct   = 20.0
	MinRiskReward      = 1.5
	HighConfidence     = 0.85
	LowConfidence      = 0.65
	ExposureTolerance  = 1e-6
	highConfidenceGain = 1.1
	lowConfidenceCut   = 0.9
)

// RejectionCode classifies why a proposal was not accepted as proposed
type RejectionCode string

const (
	RejectInvalidProposal  RejectionCode = "INVALID_PROPOSAL"
	RejectNoPosition       RejectionCode = "NO_POSITION"
	RejectPositionExists   RejectionCode = "POSITION_EXISTS"
	RejectInvalidDirection RejectionCode = "INVALID_DIRECTION"
	RejectLowConfidence    RejectionCode = "LOW_CONFIDENCE"
	RejectExposureLimit    RejectionCode = "EXPOSURE_LIMIT"
	RejectDrawdownHalt     RejectionCode = "DRAWDOWN_HALT"
	RejectHighExposure     RejectionCode = "HIGH_EXPOSURE"
)

// Rejection is the data form of a refused proposal
type Rejection struct {
	Code    RejectionCode
	Message string
}

// Result is the outcome of validating one proposal. Decision is always
// usable: rejected proposals come back as HOLD.
type Result struct {
	Accepted  bool
	Decision  types.Decision
	Reason    string
	Rejection *Rejection
}

// ValidatorConfig holds the sanitization limits
type ValidatorConfig struct {
	MaxPositionSizePct     float64
	MaxTotalExposurePct    float64
	MinConfidenceThreshold float64
	DefaultStopLossPct     float64
	DefaultTakeProfitPct   float64
	// TradingFeePct is charged per leg
	TradingFeePct float64

	HighExposureThresholdPct  float64
	HighExposureMinConfidence float64
	HighExposureMaxSizePct    float64
	HighExposureMaxLeverage   int
}

// DecisionValidator turns proposals into sanitized decisions. It has no side effects.
type DecisionValidator struct {
	config ValidatorConfig
	risk   *risk.RiskManager
}

// NewDecisionValidator creates a validator bound to a risk manager and its venue
func NewDecisionValidator(config ValidatorConfig, rm *risk.RiskManager) *DecisionValidator {
	if config.DefaultStopLossPct <= 0 {
		config.DefaultStopLossPct = 2
	}
	if config.DefaultTakeProfitPct <= 0 {
		config.DefaultTakeProfitPct = 4
	}
	if config.MaxPositionSizePct < 1 {
		config.MaxPositionSizePct = rm.MaxPositionSizePct()
	}
	return &DecisionValidator{config: config, risk: rm}
}

// Config returns the validator limits
func (v *DecisionValidator) Config() ValidatorConfig {
	return v.config
}

// Validate checks a proposal against the open position state and current exposure
func (v *DecisionValidator) Validate(p types.ActionProposal, currentExposurePct float64, hasOpenPosition bool) Result {
	return v.ValidateScaled(p, currentExposurePct, hasOpenPosition, 1.0)
}

// ValidateScaled is Validate with the drawdown risk multiplier applied to the
// size. Numeric fields are only checked for OPEN; a HOLD is always accepted and
// a CLOSE only needs an open position.
func (v *DecisionValidator) ValidateScaled(p types.ActionProposal, currentExposurePct float64, hasOpenPosition bool, riskMultiplier float64) Result {
	switch p.Action {
	case types.ActionHold:
		return Result{Accepted: true, Decision: types.Hold(p.Symbol, exitConfidence(p.Confidence), p.Rationale), Reason: "hold"}

	case types.ActionClose:
		if strings.TrimSpace(p.Symbol) == "" {
			return Reject(p, RejectInvalidProposal, "symbol cannot be empty")
		}
		if !hasOpenPosition {
			return Reject(p, RejectNoPosition, fmt.Sprintf("no open position on %s to close", p.Symbol))
		}
		return Result{Accepted: true, Decision: types.Close(p.Symbol, exitConfidence(p.Confidence), p.Rationale), Reason: "close"}

	case types.ActionOpen:
		if msg := checkProposal(p); msg != "" {
			return Reject(p, RejectInvalidProposal, msg)
		}
		if math.IsNaN(currentExposurePct) || math.IsInf(currentExposurePct, 0) {
			return Reject(p, RejectInvalidProposal, "current exposure is not a finite number")
		}
		if hasOpenPosition {
			return Reject(p, RejectPositionExists, fmt.Sprintf("position already open on %s", p.Symbol))
		}
		if !p.Direction.Valid() {
			return Reject(p, RejectInvalidDirection, fmt.Sprintf("direction must be LONG or SHORT, got %q", p.Direction))
		}
		if p.Confidence < v.config.MinConfidenceThreshold {
			return Reject(p, RejectLowConfidence, fmt.Sprintf("confidence %.2f below threshold %.2f", p.Confidence, v.config.MinConfidenceThreshold))
		}
		if riskMultiplier <= 0 || math.IsNaN(riskMultiplier) {
			return Reject(p, RejectDrawdownHalt, "drawdown risk multiplier is zero")
		}
		return v.sanitizeOpen(p, currentExposurePct, math.Min(riskMultiplier, 1))

	default:
		return Reject(p, RejectInvalidProposal, fmt.Sprintf("unknown action %q", p.Action))
	}
}

func (v *DecisionValidator) sanitizeOpen(p types.ActionProposal, currentExposurePct, riskMultiplier float64) Result {
	d := types.Decision{
		Symbol:     p.Symbol,
		Kind:       types.KindOpen,
		Confidence: p.Confidence,
		Rationale:  p.Rationale,
	}
	order := &types.OpenOrder{Direction: p.Direction}
	vol := p.Volatility

	// Leverage: clamp a supplied value, otherwise derive from confidence
	maxLev := v.risk.MaxLeverage(p.Symbol)
	if p.Leverage > 0 {
		lev := int(math.Floor(p.Leverage))
		switch {
		case lev < 1:
			lev = 1
		case lev > maxLev:
			d.AddAdjustment(fmt.Sprintf("leverage %dx clamped to %dx", lev, maxLev))
			lev = maxLev
		}
		order.Leverage = lev
	} else if vol != nil && vol.CurrentATR > 0 && vol.AverageATR > 0 {
		order.Leverage = v.risk.VolatilityAdjustedLeverage(p.Symbol, p.Confidence, vol.CurrentATR, vol.AverageATR)
	} else {
		order.Leverage = v.risk.Leverage(p.Symbol, p.Confidence)
	}

	// Size
	size := p.PositionSizePct
	if size <= 0 {
		if vol != nil && vol.CurrentATR > 0 && vol.AverageATR > 0 {
			size = v.risk.VolatilityAdjustedSize(p.Confidence, vol.CurrentATR, vol.AverageATR)
		} else {
			size = v.risk.PositionSizePct(p.Confidence)
		}
	}
	if riskMultiplier < 1 {
		d.AddAdjustment(fmt.Sprintf("size %.2f%% scaled by drawdown multiplier %.2f", size, riskMultiplier))
		size *= riskMultiplier
	}
	switch {
	case size < risk.MinPositionSizePct:
		size = risk.MinPositionSizePct
	case size > v.config.MaxPositionSizePct:
		d.AddAdjustment(fmt.Sprintf("size %.2f%% clamped to %.2f%%", size, v.config.MaxPositionSizePct))
		size = v.config.MaxPositionSizePct
	}

	// Stop loss
	sl := p.StopLossPct
	if p.UseATRStop && vol != nil && vol.CurrentATR > 0 && vol.EntryPrice > 0 {
		sl = v.risk.ATRStopLossPct(vol.EntryPrice, vol.CurrentATR)
	} else if sl <= 0 {
		sl = v.config.DefaultStopLossPct
	}
	if clamped := clampPct(sl, MinStopLossPct, MaxStopLossPct); clamped != sl {
		d.AddAdjustment(fmt.Sprintf("stop loss %.2f%% clamped to %.2f%%", sl, clamped))
		sl = clamped
	}

	// Take profit, scaled by confidence
	tp := p.TakeProfitPct
	if tp <= 0 {
		tp = v.config.DefaultTakeProfitPct
	}
	if clamped := clampPct(tp, MinTakeProfitPct, MaxTakeProfitPct); clamped != tp {
		d.AddAdjustment(fmt.Sprintf("take profit %.2f%% clamped to %.2f%%", tp, clamped))
		tp = clamped
	}
	switch {
	case p.Confidence >= HighConfidence:
		tp = clampPct(tp*highConfidenceGain, MinTakeProfitPct, MaxTakeProfitPct)
	case p.Confidence < LowConfidence:
		tp = clampPct(tp*lowConfidenceCut, MinTakeProfitPct, MaxTakeProfitPct)
	}

	// Net risk/reward after both fee legs
	if rr := NetRiskReward(tp, sl, v.config.TradingFeePct); rr < MinRiskReward {
		// keeps net R:R >= 1.5 under float rounding
		required := MinTakeProfitFor(sl, v.config.TradingFeePct) + 1e-9
		d.AddAdjustment(fmt.Sprintf("take profit raised from %.2f%% to %.2f%% (net R:R %.2f < %.1f after fees)", tp, required, rr, MinRiskReward))
		tp = required
	}

	order.PositionSizePct = size
	order.StopLossPct = sl
	order.TakeProfitPct = tp

	// Exposure fit
	maxExposure := v.config.MaxTotalExposurePct
	effective := order.EffectiveExposurePct()
	if currentExposurePct+effective > maxExposure+ExposureTolerance {
		fitted := FitSize(currentExposurePct, maxExposure, order.Leverage, v.config.MaxPositionSizePct)
		if fitted < risk.MinPositionSizePct {
			return Reject(p, RejectExposureLimit,
				fmt.Sprintf("exposure %.2f%% + %.2f%% exceeds %.2f%% and no size >= 1%% fits", currentExposurePct, effective, maxExposure))
		}
		d.AddAdjustment(fmt.Sprintf("size %.2f%% shrunk to %.2f%% to fit exposure limit %.2f%%", order.PositionSizePct, fitted, maxExposure))
		order.PositionSizePct = fitted
	}

	d.Open = order
	reason := "accepted"
	if d.Adjusted {
		reason = "accepted with adjustments: " + d.AdjustmentReason
	}
	return Result{Accepted: true, Decision: d, Reason: reason}
}

// AdjustForHighExposure tightens an OPEN decision when exposure is already
// elevated. HOLD and CLOSE pass through untouched.
func (v *DecisionValidator) AdjustForHighExposure(d types.Decision, currentExposurePct float64) types.Decision {
	if !d.IsOpen() || currentExposurePct <= v.config.HighExposureThresholdPct {
		return d
	}
	if d.Confidence < v.config.HighExposureMinConfidence {
		return ToHold(d, fmt.Sprintf("exposure %.2f%% above %.2f%% requires confidence >= %.2f, got %.2f",
			currentExposurePct, v.config.HighExposureThresholdPct, v.config.HighExposureMinConfidence, d.Confidence))
	}

	order := *d.Open
	out := d
	if order.PositionSizePct > v.config.HighExposureMaxSizePct {
		out.AddAdjustment(fmt.Sprintf("high exposure: size %.2f%% capped to %.2f%%", order.PositionSizePct, v.config.HighExposureMaxSizePct))
		order.PositionSizePct = v.config.HighExposureMaxSizePct
	}
	if v.risk.Venue().SupportsLeverage && v.config.HighExposureMaxLeverage > 0 && order.Leverage > v.config.HighExposureMaxLeverage {
		out.AddAdjustment(fmt.Sprintf("high exposure: leverage %dx capped to %dx", order.Leverage, v.config.HighExposureMaxLeverage))
		order.Leverage = v.config.HighExposureMaxLeverage
	}
	out.Open = &order
	return out
}

// IsHighExposureRejection reports whether AdjustForHighExposure turned an OPEN into HOLD
func IsHighExposureRejection(before, after types.Decision) bool {
	return before.IsOpen() && after.IsHold()
}

// ToHold converts a decision to HOLD. Converting a HOLD is a no-op.
func ToHold(d types.Decision, reason string) types.Decision {
	if d.IsHold() {
		return d
	}
	h := types.Hold(d.Symbol, d.Confidence, d.Rationale)
	h.AddAdjustment(reason)
	return h
}

// NetRiskReward is (tp - 2*fee) / sl
func NetRiskReward(takeProfitPct, stopLossPct, feePct float64) float64 {
	if stopLossPct <= 0 {
		return 0
	}
	return (takeProfitPct - 2*feePct) / stopLossPct
}

// MinTakeProfitFor returns the smallest take profit keeping net R:R at 1.5
func MinTakeProfitFor(stopLossPct, feePct float64) float64 {
	return MinRiskReward*stopLossPct + 2*feePct
}

// FitSize returns the largest size (2 decimals, capped to maxSize) whose
// exposure at leverage fits under maxExposure
func FitSize(currentExposurePct, maxExposurePct float64, leverage int, maxSize float64) float64 {
	if leverage < 1 {
		leverage = 1
	}
	remaining := maxExposurePct - currentExposurePct
	if remaining <= 0 {
		return 0
	}
	size := math.Floor(remaining/float64(leverage)*100+1e-9) / 100
	return math.Min(size, maxSize)
}

// Reject builds the HOLD result of a refused proposal
func Reject(p types.ActionProposal, code RejectionCode, message string) Result {
	d := types.Hold(p.Symbol, exitConfidence(p.Confidence), p.Rationale)
	if p.Action != types.ActionHold {
		d.AddAdjustment(message)
	}
	return Result{
		Accepted:  false,
		Decision:  d,
		Reason:    message,
		Rejection: &Rejection{Code: code, Message: message},
	}
}

func checkProposal(p types.ActionProposal) string {
	if strings.TrimSpace(p.Symbol) == "" {
		return "symbol cannot be empty"
	}
	fields := map[string]float64{
		"leverage":          p.Leverage,
		"position_size_pct": p.PositionSizePct,
		"stop_loss_pct":     p.StopLossPct,
		"take_profit_pct":   p.TakeProfitPct,
		"confidence":        p.Confidence,
	}
	if p.Volatility != nil {
		fields["current_atr"] = p.Volatility.CurrentATR
		fields["average_atr"] = p.Volatility.AverageATR
		fields["entry_price"] = p.Volatility.EntryPrice
	}
	for _, name := range []string{"leverage", "position_size_pct", "stop_loss_pct", "take_profit_pct", "confidence", "current_atr", "average_atr", "entry_price"} {
		value, ok := fields[name]
		if !ok {
			continue
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return fmt.Sprintf("%s is not a finite number", name)
		}
		if value < 0 {
			return fmt.Sprintf("%s must not be negative, got: %.4f", name, value)
		}
	}
	if p.Confidence > 1 {
		return fmt.Sprintf("confidence must be within [0, 1], got: %.4f", p.Confidence)
	}
	return ""
}

// exitConfidence keeps a HOLD or CLOSE confidence inside [0, 1]
func exitConfidence(c float64) float64 {
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return 0
	}
	return clampPct(c, 0, 1)
}

func clampPct(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
