package exchange

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// LotRules are the quantity and price increments of an instrument
type LotRules struct {
	MinQty   decimal.Decimal
	MaxQty   decimal.Decimal
	QtyStep  decimal.Decimal
	TickSize decimal.Decimal
}

// TargetNotional is the position value for a margin share of equity at a leverage
func TargetNotional(equity, positionSizePct float64, leverage int) decimal.Decimal {
	if leverage < 1 {
		leverage = 1
	}
	return decimal.NewFromFloat(equity).
		Mul(decimal.NewFromFloat(positionSizePct)).
		Div(decimal.NewFromInt(100)).
		Mul(decimal.NewFromInt(int64(leverage)))
}

// QuantityForNotional converts a notional into an order quantity floored to
// the lot step. It fails when the result is below the instrument minimum.
func QuantityForNotional(notional decimal.Decimal, price float64, rules LotRules) (decimal.Decimal, error) {
	if price <= 0 {
		return decimal.Zero, fmt.Errorf("price must be positive, got: %v", price)
	}
	qty := notional.Div(decimal.NewFromFloat(price))
	if rules.QtyStep.IsPositive() {
		qty = qty.Div(rules.QtyStep).Floor().Mul(rules.QtyStep)
	}
	if rules.MaxQty.IsPositive() && qty.GreaterThan(rules.MaxQty) {
		qty = rules.MaxQty
		if rules.QtyStep.IsPositive() {
			qty = qty.Div(rules.QtyStep).Floor().Mul(rules.QtyStep)
		}
	}
	if !qty.IsPositive() || qty.LessThan(rules.MinQty) {
		return decimal.Zero, ErrOrderSizeTooSmall.WithDetails(fmt.Sprintf("quantity %s below minimum %s", qty.String(), rules.MinQty.String()))
	}
	return qty, nil
}

// FormatPrice rounds a price to the tick size and renders it for a venue
func FormatPrice(price float64, tick decimal.Decimal) string {
	p := decimal.NewFromFloat(price)
	if tick.IsPositive() {
		p = p.Div(tick).Round(0).Mul(tick)
	}
	return p.String()
}

// FormatQty renders a quantity for a venue
func FormatQty(qty decimal.Decimal) string {
	return qty.String()
}

// parseDecimal returns zero for empty or malformed venue strings
func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ParseLotRules builds rules from venue filter strings
func ParseLotRules(minQty, maxQty, qtyStep, tickSize string) LotRules {
	return LotRules{
		MinQty:   parseDecimal(minQty),
		MaxQty:   parseDecimal(maxQty),
		QtyStep:  parseDecimal(qtyStep),
		TickSize: parseDecimal(tickSize),
	}
}
