package adapters

import (
	"github.com/ducminhle1904/crypto-risk-core/internal/exchange"
	"github.com/ducminhle1904/crypto-risk-core/internal/logger"
)

// NewAdapter builds the adapter named by config.Name
func NewAdapter(config exchange.ExchangeConfig, log *logger.Logger) (exchange.ExecutionAdapter, error) {
	if err := exchange.ValidateConfig(config); err != nil {
		return nil, err
	}

	paper := exchange.PaperConfig{}
	if config.Paper != nil {
		paper = *config.Paper
	}

	switch name := exchange.NormalizeVenue(config.Name); name {
	case exchange.VenueBybit:
		return NewBybitAdapter(config, log)
	case exchange.VenueBinance:
		return NewBinanceAdapter(config, log)
	case exchange.VenuePaperSpot:
		paper.Spot = true
		return NewPaperAdapter(name, paper, log), nil
	default:
		return NewPaperAdapter(name, paper, log), nil
	}
}

// NewRegistry resolves venues lazily from a shared base configuration
func NewRegistry(base exchange.ExchangeConfig, log *logger.Logger) *exchange.Registry {
	return exchange.NewRegistry(func(name string) (exchange.ExecutionAdapter, error) {
		config := base
		config.Name = name
		return NewAdapter(config, log)
	})
}

// NewDryRunRegistry stands a paper venue in for every venue name, so a
// dry run exercises transitions between named venues without credentials
func NewDryRunRegistry(paper exchange.PaperConfig, log *logger.Logger) *exchange.Registry {
	return exchange.NewRegistry(func(name string) (exchange.ExecutionAdapter, error) {
		cfg := paper
		if name == exchange.VenuePaperSpot {
			cfg.Spot = true
		}
		return NewPaperAdapter(name, cfg, log), nil
	})
}
