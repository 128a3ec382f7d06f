package types

// VenueCapabilities describes what a trading venue allows
type VenueCapabilities struct {
	Name             string
	SupportsLeverage bool
	// DefaultMaxLeverage applies to symbols without an entry in SymbolMaxLeverage
	DefaultMaxLeverage int
	SymbolMaxLeverage  map[string]int
}

// MaxLeverage returns the venue leverage ceiling for symbol; always 1 on
// venues without leverage.
func (v VenueCapabilities) MaxLeverage(symbol string) int {
	if !v.SupportsLeverage {
		return 1
	}
	max := v.DefaultMaxLeverage
	if cap, ok := v.SymbolMaxLeverage[symbol]; ok && cap > 0 {
		max = cap
	}
	if max < 1 {
		return 1
	}
	return max
}

// SpotVenue returns capabilities for a venue that trades without leverage
func SpotVenue(name string) VenueCapabilities {
	return VenueCapabilities{Name: name, SupportsLeverage: false, DefaultMaxLeverage: 1}
}
