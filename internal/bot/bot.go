package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/ducminhle1904/crypto-risk-core/internal/errors"
	"github.com/ducminhle1904/crypto-risk-core/internal/exchange"
	"github.com/ducminhle1904/crypto-risk-core/internal/logger"
	"github.com/ducminhle1904/crypto-risk-core/internal/monitoring"
	"github.com/ducminhle1904/crypto-risk-core/internal/notifications"
	"github.com/ducminhle1904/crypto-risk-core/internal/risk"
	"github.com/ducminhle1904/crypto-risk-core/internal/safety"
	"github.com/ducminhle1904/crypto-risk-core/internal/transition"
	"github.com/ducminhle1904/crypto-risk-core/pkg/types"
)

// DecisionStore persists the audit row of every evaluated proposal
type DecisionStore interface {
	SaveDecision(ctx context.Context, rec *types.DecisionRecord) error
}

// PositionStore is the ledger view the cycle needs
type PositionStore interface {
	SavePosition(ctx context.Context, pos *types.PositionRecord) error
	// OpenPosition returns nil with no error when venue holds nothing for symbol
	OpenPosition(ctx context.Context, venue, symbol string) (*types.PositionRecord, error)
	OpenPositions(ctx context.Context, venue string) ([]*types.PositionRecord, error)
}

// Store combines the stores a cycle writes to
type Store interface {
	DecisionStore
	PositionStore
}

// Venues resolves adapters by name and lists the ones built so far
type Venues interface {
	Get(name string) (exchange.ExecutionAdapter, error)
	Names() []string
}

// Config holds the cycle settings
type Config struct {
	// Venue is the configured execution venue
	Venue              string
	TransitionStrategy transition.Strategy
	Interval           time.Duration
	// CycleTimeout bounds the venue calls of one cycle
	CycleTimeout time.Duration
}

// Deps are the services a Bot drives
type Deps struct {
	Venues      Venues
	Source      DecisionSource
	Store       Store
	Validator   *safety.DecisionValidator
	Drawdown    *risk.DrawdownManager
	Protector   *safety.Protector
	Transitions *transition.Manager
	Notifier    notifications.Notifier
	Health      *monitoring.HealthChecker
	Log         *logger.Logger
}

// Bot runs the per-cycle risk pipeline against the configured venue
type Bot struct {
	config      Config
	venues      Venues
	source      DecisionSource
	store       Store
	validator   *safety.DecisionValidator
	drawdown    *risk.DrawdownManager
	protector   *safety.Protector
	transitions *transition.Manager
	notifier    notifications.Notifier
	health      *monitoring.HealthChecker
	log         *logger.Logger
	errorStats  *apperrors.ErrorStats
	now         func() time.Time
	newID       func() string
}

// Option customizes a Bot
type Option func(*Bot)

// WithClock replaces the wall clock
func WithClock(now func() time.Time) Option {
	return func(b *Bot) { b.now = now }
}

// WithIDs replaces the id generator
func WithIDs(next func() string) Option {
	return func(b *Bot) { b.newID = next }
}

// New wires a bot. Transitions, Protector, Notifier and Health are optional.
func New(config Config, deps Deps, opts ...Option) (*Bot, error) {
	switch {
	case config.Venue == "":
		return nil, fmt.Errorf("bot needs a configured venue")
	case deps.Venues == nil:
		return nil, fmt.Errorf("bot needs a venue registry")
	case deps.Source == nil:
		return nil, fmt.Errorf("bot needs a decision source")
	case deps.Store == nil:
		return nil, fmt.Errorf("bot needs a store")
	case deps.Validator == nil:
		return nil, fmt.Errorf("bot needs a decision validator")
	case deps.Drawdown == nil:
		return nil, fmt.Errorf("bot needs a drawdown manager")
	}
	if config.Interval <= 0 {
		config.Interval = 15 * time.Minute
	}
	if config.CycleTimeout <= 0 {
		config.CycleTimeout = 2 * time.Minute
	}
	if !config.TransitionStrategy.Valid() {
		config.TransitionStrategy = transition.StrategyProfitable
	}
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.Nop{}
	}
	protector := deps.Protector
	if protector == nil {
		protector = safety.NewProtector(safety.ProtectiveConfig{}, deps.Store, notifier, log)
	}

	b := &Bot{
		config:      config,
		venues:      deps.Venues,
		source:      deps.Source,
		store:       deps.Store,
		validator:   deps.Validator,
		drawdown:    deps.Drawdown,
		protector:   protector,
		transitions: deps.Transitions,
		notifier:    notifier,
		health:      deps.Health,
		log:         log.With("bot"),
		errorStats:  apperrors.NewErrorStats(maxRecentErrors),
		now:         time.Now,
		newID:       newID,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

const maxRecentErrors = 50

// ErrorCounts returns the cycle errors seen since start, by category
func (b *Bot) ErrorCounts() map[apperrors.ErrorCategory]int {
	counts := make(map[apperrors.ErrorCategory]int, len(b.errorStats.ErrorsByCategory))
	for category, n := range b.errorStats.ErrorsByCategory {
		counts[category] = n
	}
	return counts
}

// Start restores drawdown tracking and snapshots the day's baseline
func (b *Bot) Start(ctx context.Context) error {
	if err := b.drawdown.Restore(ctx); err != nil {
		return err
	}
	adapter, err := b.venues.Get(b.config.Venue)
	if err != nil {
		return fmt.Errorf("resolve venue %s: %w", b.config.Venue, err)
	}
	equity, err := adapter.GetEquity(ctx)
	if err != nil {
		b.log.Warning("Could not read equity at startup, baseline set on first cycle: %v", err)
		return nil
	}
	if err := b.drawdown.InitializeDay(ctx, equity); err != nil {
		b.log.LogError("initialize drawdown day", err)
	}
	b.log.Status("Started on %s with equity %.2f", b.config.Venue, equity)
	return nil
}

// Run executes a cycle now and then every interval until ctx is done
func (b *Bot) Run(ctx context.Context) error {
	if err := b.Start(ctx); err != nil {
		return err
	}
	b.log.Info("Cycle interval: %s", b.config.Interval)
	b.runSafely(ctx)

	ticker := time.NewTicker(b.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.log.Info("Stop signal received - ending cycle loop")
			return nil
		case <-ticker.C:
			b.runSafely(ctx)
		}
	}
}

// runSafely runs one bounded cycle and keeps the loop alive on panics
func (b *Bot) runSafely(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("Panic in cycle: %v", r)
			monitoring.RecordError("panic")
			if b.health != nil {
				b.health.RecordError(fmt.Sprintf("panic: %v", r))
			}
		}
	}()

	cycleCtx, cancel := context.WithTimeout(ctx, b.config.CycleTimeout)
	defer cancel()
	if _, err := b.RunCycle(cycleCtx); err != nil && !errors.Is(err, context.Canceled) {
		b.log.LogError("cycle", err)
	}
}
