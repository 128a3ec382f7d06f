package exchange

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Supported venue names
const (
	VenueBybit     = "bybit"
	VenueBinance   = "binance"
	VenuePaper     = "paper"
	VenuePaperSpot = "paper-spot"
)

// ExchangeConfig holds configuration for creating adapters
type ExchangeConfig struct {
	Name    string         `json:"name"`
	Bybit   *BybitConfig   `json:"bybit,omitempty"`
	Binance *BinanceConfig `json:"binance,omitempty"`
	Paper   *PaperConfig   `json:"paper,omitempty"`

	// RateLimit is requests per second against a real venue
	RateLimit float64     `json:"rate_limit"`
	Retry     RetryConfig `json:"retry"`
	Breaker   BreakerConfig
}

// BybitConfig holds Bybit-specific configuration
type BybitConfig struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	Testnet   bool   `json:"testnet"`
	Demo      bool   `json:"demo"`
}

// BinanceConfig holds Binance-specific configuration
type BinanceConfig struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	Testnet   bool   `json:"testnet"`
}

// PaperConfig holds the simulated venue configuration
type PaperConfig struct {
	StartingEquity float64 `json:"starting_equity"`
	FeePct         float64 `json:"fee_pct"`
	Spot           bool    `json:"spot"`
}

// NormalizeVenue lowercases and trims a venue name
func NormalizeVenue(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// SupportedVenues returns the venue names adapters can be built for
func SupportedVenues() []string {
	return []string{VenueBybit, VenueBinance, VenuePaper, VenuePaperSpot}
}

// ValidateConfig validates the exchange configuration
func ValidateConfig(config ExchangeConfig) error {
	name := NormalizeVenue(config.Name)
	switch name {
	case "":
		return &ExchangeError{Code: "MISSING_EXCHANGE_NAME", Message: "Exchange name is required"}
	case VenueBybit:
		if config.Bybit == nil {
			return &ExchangeError{Code: "MISSING_BYBIT_CONFIG", Message: "Bybit configuration is required"}
		}
		if err := requireCredentials("Bybit", "BYBIT", config.Bybit.APIKey, config.Bybit.APISecret); err != nil {
			return err
		}
		if config.Bybit.Testnet && config.Bybit.Demo {
			return &ExchangeError{
				Code:    "INVALID_ENVIRONMENT_CONFIG",
				Message: "Cannot use both testnet and demo mode simultaneously",
				Details: "Choose either testnet OR demo mode, not both",
			}
		}
		return nil
	case VenueBinance:
		if config.Binance == nil {
			return &ExchangeError{Code: "MISSING_BINANCE_CONFIG", Message: "Binance configuration is required"}
		}
		return requireCredentials("Binance", "BINANCE", config.Binance.APIKey, config.Binance.APISecret)
	case VenuePaper, VenuePaperSpot:
		if config.Paper != nil && config.Paper.StartingEquity < 0 {
			return &ExchangeError{Code: "INVALID_PAPER_CONFIG", Message: "Paper starting equity must be positive"}
		}
		return nil
	default:
		return ErrUnsupportedVenue.WithDetails(fmt.Sprintf("'%s', supported exchanges: %v", config.Name, SupportedVenues()))
	}
}

func requireCredentials(venue, envPrefix, key, secret string) error {
	if key == "" {
		return &ExchangeError{
			Code:    "MISSING_API_KEY",
			Message: venue + " API key is required",
			Details: "Set " + envPrefix + "_API_KEY environment variable or provide in config",
		}
	}
	if secret == "" {
		return &ExchangeError{
			Code:    "MISSING_API_SECRET",
			Message: venue + " API secret is required",
			Details: "Set " + envPrefix + "_API_SECRET environment variable or provide in config",
		}
	}
	return nil
}

// Registry resolves adapters by venue name. Construction lives in the
// adapters package to keep this package free of venue clients.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]ExecutionAdapter
	factory  func(name string) (ExecutionAdapter, error)
}

// NewRegistry creates a registry; factory builds adapters on first use and may be nil
func NewRegistry(factory func(name string) (ExecutionAdapter, error)) *Registry {
	return &Registry{
		adapters: make(map[string]ExecutionAdapter),
		factory:  factory,
	}
}

// Register adds or replaces an adapter under its own name
func (r *Registry) Register(adapter ExecutionAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[NormalizeVenue(adapter.Name())] = adapter
}

// Get returns the adapter for a venue, building it lazily when a factory is set
func (r *Registry) Get(name string) (ExecutionAdapter, error) {
	key := NormalizeVenue(name)
	r.mu.RLock()
	adapter, ok := r.adapters[key]
	r.mu.RUnlock()
	if ok {
		return adapter, nil
	}
	if r.factory == nil {
		return nil, ErrUnsupportedVenue.WithDetails(fmt.Sprintf("no adapter registered for '%s'", name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if adapter, ok := r.adapters[key]; ok {
		return adapter, nil
	}
	adapter, err := r.factory(key)
	if err != nil {
		return nil, err
	}
	r.adapters[key] = adapter
	return adapter, nil
}

// Names lists the registered venues in order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultBreakerConfig is used by real venue adapters
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, SuccessThreshold: 1, Timeout: time.Minute}
}
