package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ducminhle1904/crypto-risk-core/internal/bot"
	"github.com/ducminhle1904/crypto-risk-core/internal/config"
	"github.com/ducminhle1904/crypto-risk-core/internal/exchange"
	"github.com/ducminhle1904/crypto-risk-core/internal/exchange/adapters"
	"github.com/ducminhle1904/crypto-risk-core/internal/logger"
	"github.com/ducminhle1904/crypto-risk-core/internal/monitoring"
	"github.com/ducminhle1904/crypto-risk-core/internal/notifications"
	"github.com/ducminhle1904/crypto-risk-core/internal/risk"
	"github.com/ducminhle1904/crypto-risk-core/internal/safety"
	"github.com/ducminhle1904/crypto-risk-core/internal/state"
	"github.com/ducminhle1904/crypto-risk-core/internal/transition"
)

// app holds the wired services of one process
type app struct {
	cfg         *config.Config
	log         *logger.Logger
	store       state.Store
	registry    *exchange.Registry
	notifier    notifications.Notifier
	drawdown    *risk.DrawdownManager
	transitions *transition.Manager
	health      *monitoring.HealthChecker
}

// newApp opens the store and builds everything that does not need a venue
func newApp(cfg *config.Config, log *logger.Logger) (*app, error) {
	store, err := state.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	return newAppWithStore(cfg, log, store), nil
}

func newAppWithStore(cfg *config.Config, log *logger.Logger, store state.Store) *app {
	notifier := buildNotifier(cfg)
	registry := buildRegistry(cfg, log)
	return &app{
		cfg:      cfg,
		log:      log,
		store:    store,
		registry: registry,
		notifier: notifier,
		drawdown: risk.NewDrawdownManager(risk.DrawdownConfig{
			MaxDailyDrawdownPct:  cfg.MaxDailyDrawdownPct,
			MaxWeeklyDrawdownPct: cfg.MaxWeeklyDrawdownPct,
		}, store, log),
		transitions: transition.NewManager(transitionConfig(cfg), store, store, registry, notifier, log),
		health:      monitoring.NewHealthChecker(3 * cfg.CycleInterval),
	}
}

func (a *app) Close() error {
	return a.store.Close()
}

func buildNotifier(cfg *config.Config) notifications.Notifier {
	var multi notifications.Multi
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		multi = append(multi, notifications.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		multi = append(multi, notifications.NewDiscordNotifier(cfg.DiscordWebhookURL))
	}
	if len(multi) == 0 {
		return notifications.Nop{}
	}
	return multi
}

// buildRegistry resolves real venues, or paper stand-ins for every venue in a dry run
func buildRegistry(cfg *config.Config, log *logger.Logger) *exchange.Registry {
	paper := exchange.PaperConfig{StartingEquity: cfg.PaperEquity, FeePct: cfg.TradingFeePct}
	if cfg.DryRun {
		return adapters.NewDryRunRegistry(paper, log)
	}
	return adapters.NewRegistry(exchange.ExchangeConfig{
		Bybit: &exchange.BybitConfig{
			APIKey:    cfg.BybitAPIKey,
			APISecret: cfg.BybitAPISecret,
			Testnet:   cfg.BybitTestnet,
			Demo:      cfg.BybitDemo,
		},
		Binance: &exchange.BinanceConfig{
			APIKey:    cfg.BinanceAPIKey,
			APISecret: cfg.BinanceAPISecret,
			Testnet:   cfg.BinanceTestnet,
		},
		Paper:     &paper,
		RateLimit: cfg.APIRateLimit,
		Retry:     exchange.DefaultRetryConfig(),
		Breaker:   exchange.DefaultBreakerConfig(),
	}, log)
}

func transitionConfig(cfg *config.Config) transition.TransitionConfig {
	tc := transition.DefaultTransitionConfig()
	tc.SLTightenPct = cfg.TransitionSLTightenPct
	tc.Timeout = cfg.TransitionTimeout()
	tc.EmergencyLossPct = cfg.TransitionEmergencyLossPct
	tc.MaxCloseFailures = cfg.TransitionMaxCloseFailures
	return tc
}

// newBot builds the cycle pipeline against the configured venue
func (a *app) newBot(source bot.DecisionSource) (*bot.Bot, error) {
	adapter, err := a.registry.Get(a.cfg.Exchange)
	if err != nil {
		return nil, fmt.Errorf("resolve venue %s: %w", a.cfg.Exchange, err)
	}
	rm := risk.NewRiskManager(risk.Config{
		MaxPositionSizePct: a.cfg.MaxPositionSizePct,
		MaxLeverage:        a.cfg.MaxLeverage,
		SymbolMaxLeverage:  a.cfg.SymbolMaxLeverage,
	}, adapter.Capabilities())
	validator := safety.NewDecisionValidator(safety.ValidatorConfig{
		MaxPositionSizePct:        a.cfg.MaxPositionSizePct,
		MaxTotalExposurePct:       a.cfg.MaxTotalExposurePct,
		MinConfidenceThreshold:    a.cfg.MinConfidenceThreshold,
		DefaultStopLossPct:        a.cfg.StopLossPct,
		DefaultTakeProfitPct:      a.cfg.TakeProfitPct,
		TradingFeePct:             a.cfg.TradingFeePct,
		HighExposureThresholdPct:  a.cfg.HighExposureThresholdPct,
		HighExposureMinConfidence: a.cfg.HighExposureMinConfidence,
		HighExposureMaxSizePct:    a.cfg.HighExposureMaxSizePct,
		HighExposureMaxLeverage:   a.cfg.HighExposureMaxLeverage,
	}, rm)
	protector := safety.NewProtector(safety.ProtectiveConfig{
		Retries:    a.cfg.ProtectiveOrderRetries,
		RetryDelay: a.cfg.ProtectiveOrderRetryDelay,
	}, a.store, a.notifier, a.log)

	strategy, err := transition.ParseStrategy(a.cfg.TransitionStrategy)
	if err != nil {
		return nil, err
	}
	return bot.New(bot.Config{
		Venue:              a.cfg.Exchange,
		TransitionStrategy: strategy,
		Interval:           a.cfg.CycleInterval,
	}, bot.Deps{
		Venues:      a.registry,
		Source:      source,
		Store:       a.store,
		Validator:   validator,
		Drawdown:    a.drawdown,
		Protector:   protector,
		Transitions: a.transitions,
		Notifier:    a.notifier,
		Health:      a.health,
		Log:         a.log,
	})
}

// serveMetrics exposes /metrics and /health until ctx is done
func (a *app) serveMetrics(ctx context.Context) {
	if a.cfg.MetricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.NewMetricsHandler())
	mux.Handle("/health", a.health)
	srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.log.Info("Metrics and health on %s", a.cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.LogError("metrics server", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
}

// printCycle summarizes a cycle for the operator
func printCycle(w io.Writer, report *bot.CycleReport) {
	fmt.Fprintf(w, "cycle %s on %s: equity %.2f, daily drawdown %.2f%%, halted %v\n",
		report.CycleID, report.Venue, report.Equity, report.Drawdown.DailyDrawdownPct, report.Drawdown.TradingHalted)
	for _, d := range report.Decisions {
		status := "rejected"
		switch {
		case d.Executed:
			status = "executed"
		case d.Accepted:
			status = "accepted"
		}
		fmt.Fprintf(w, "  %-10s %-5s -> %-5s %-8s %s\n", d.Symbol, d.Proposal.Action, d.Decision.Kind, status, d.Reason)
		if d.Error != "" {
			fmt.Fprintf(w, "  %-10s error: %s\n", "", d.Error)
		}
	}
	if t := report.Transition; t != nil {
		fmt.Fprintf(w, "  transition %s %s -> %s: %s, %d closed, %d remaining\n",
			t.ID, t.FromExchange, t.ToExchange, t.Status, t.PositionsClosed, t.PositionsRemaining)
	}
	for _, e := range report.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
}
