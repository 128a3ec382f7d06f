package bot_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-risk-core/internal/bot"
	apperrors "github.com/ducminhle1904/crypto-risk-core/internal/errors"
	"github.com/ducminhle1904/crypto-risk-core/internal/exchange"
	"github.com/ducminhle1904/crypto-risk-core/internal/exchange/adapters"
	"github.com/ducminhle1904/crypto-risk-core/internal/monitoring"
	"github.com/ducminhle1904/crypto-risk-core/internal/notifications"
	"github.com/ducminhle1904/crypto-risk-core/internal/risk"
	"github.com/ducminhle1904/crypto-risk-core/internal/safety"
	"github.com/ducminhle1904/crypto-risk-core/internal/state"
	"github.com/ducminhle1904/crypto-risk-core/internal/transition"
	"github.com/ducminhle1904/crypto-risk-core/pkg/types"
)

var start = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

type fixture struct {
	ctx         context.Context
	now         time.Time
	store       *state.MemoryStore
	registry    *exchange.Registry
	alerts      *notifications.Recorder
	drawdown    *risk.DrawdownManager
	transitions *transition.Manager
	health      *monitoring.HealthChecker
	source      *bot.StaticSource
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:      context.Background(),
		now:      start,
		store:    state.NewMemoryStore(),
		registry: adapters.NewDryRunRegistry(exchange.PaperConfig{StartingEquity: 10000}, nil),
		alerts:   &notifications.Recorder{},
		health:   monitoring.NewHealthChecker(time.Hour),
		source:   &bot.StaticSource{},
	}
	clock := func() time.Time { return f.now }
	f.drawdown = risk.NewDrawdownManager(risk.DrawdownConfig{MaxDailyDrawdownPct: 5, MaxWeeklyDrawdownPct: 10}, f.store, nil, risk.WithClock(clock))
	cfg := transition.DefaultTransitionConfig()
	f.transitions = transition.NewManager(cfg, f.store, f.store, f.registry, f.alerts, nil, transition.WithClock(clock))
	return f
}

func (f *fixture) bot(t *testing.T, venue string, strategy transition.Strategy) *bot.Bot {
	t.Helper()
	adapter, err := f.registry.Get(venue)
	require.NoError(t, err)
	rm := risk.NewRiskManager(risk.Config{MaxPositionSizePct: 5, MaxLeverage: 10}, adapter.Capabilities())
	validator := safety.NewDecisionValidator(safety.ValidatorConfig{
		MaxPositionSizePct:        5,
		MaxTotalExposurePct:       30,
		MinConfidenceThreshold:    0.6,
		DefaultStopLossPct:        2,
		DefaultTakeProfitPct:      4,
		TradingFeePct:             0.075,
		HighExposureThresholdPct:  25,
		HighExposureMinConfidence: 0.75,
		HighExposureMaxSizePct:    2,
		HighExposureMaxLeverage:   5,
	}, rm)

	b, err := bot.New(bot.Config{Venue: venue, TransitionStrategy: strategy}, bot.Deps{
		Venues:      f.registry,
		Source:      f.source,
		Store:       f.store,
		Validator:   validator,
		Drawdown:    f.drawdown,
		Transitions: f.transitions,
		Notifier:    f.alerts,
		Health:      f.health,
	}, bot.WithClock(func() time.Time { return f.now }))
	require.NoError(t, err)
	return b
}

func (f *fixture) paper(t *testing.T, venue string) *adapters.PaperAdapter {
	t.Helper()
	a, err := f.registry.Get(venue)
	require.NoError(t, err)
	paper, ok := a.(*adapters.PaperAdapter)
	require.True(t, ok)
	return paper
}

func (f *fixture) cycle(t *testing.T, b *bot.Bot, marks map[string]float64, proposals ...types.ActionProposal) *bot.CycleReport {
	t.Helper()
	f.source.Input = bot.CycleInput{Proposals: proposals, Marks: marks}
	report, err := b.RunCycle(f.ctx)
	require.NoError(t, err)
	require.Len(t, report.Decisions, len(proposals))
	return report
}

func open(symbol string, confidence, size, leverage float64) types.ActionProposal {
	return types.ActionProposal{
		Symbol:          symbol,
		Action:          types.ActionOpen,
		Direction:       types.DirectionLong,
		Confidence:      confidence,
		PositionSizePct: size,
		Leverage:        leverage,
		StopLossPct:     2,
		TakeProfitPct:   6,
	}
}

func closeOf(symbol string) types.ActionProposal {
	return types.ActionProposal{Symbol: symbol, Action: types.ActionClose, Confidence: 0.8}
}

func TestCycleOpensProtectedPosition(t *testing.T) {
	f := newFixture(t)
	b := f.bot(t, exchange.VenueBybit, transition.StrategyProfitable)

	report := f.cycle(t, b, map[string]float64{"BTCUSDT": 100}, open("BTCUSDT", 0.9, 2, 2))

	rec := report.Decisions[0]
	assert.True(t, rec.Accepted)
	assert.True(t, rec.Executed)
	assert.Empty(t, rec.Error)
	assert.Equal(t, types.KindOpen, rec.Decision.Kind)
	assert.InDelta(t, 10000, report.Equity, 1e-9)

	pos, err := f.store.OpenPosition(f.ctx, exchange.VenueBybit, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.InDelta(t, 100, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 4, pos.Quantity, 1e-9)
	assert.Equal(t, 2, pos.Leverage)
	assert.InDelta(t, 98, pos.StopLossPrice, 1e-9)
	assert.Greater(t, pos.TakeProfitPrice, 100.0)
	assert.NotEmpty(t, pos.StopLossOrderID)
	assert.NotEmpty(t, pos.TakeProfitOrderID)

	decisions, err := f.store.RecentDecisions(f.ctx, 10)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, report.CycleID, decisions[0].CycleID)
	assert.Equal(t, 1, report.Executed())
}

func TestCycleRejectsLowConfidence(t *testing.T) {
	f := newFixture(t)
	b := f.bot(t, exchange.VenueBybit, transition.StrategyProfitable)

	report := f.cycle(t, b, map[string]float64{"BTCUSDT": 100}, open("BTCUSDT", 0.3, 2, 2))

	rec := report.Decisions[0]
	assert.False(t, rec.Accepted)
	assert.False(t, rec.Executed)
	assert.Equal(t, types.KindHold, rec.Decision.Kind)
	assert.Contains(t, rec.Reason, "confidence")

	ok, err := f.paper(t, exchange.VenueBybit).HasOpenPosition(f.ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDrawdownHaltBlocksOpensButAllowsCloses(t *testing.T) {
	f := newFixture(t)
	b := f.bot(t, exchange.VenueBybit, transition.StrategyProfitable)
	marks := map[string]float64{"BTCUSDT": 100, "ETHUSDT": 50}

	f.cycle(t, b, marks, open("BTCUSDT", 0.9, 2, 2))

	status, err := f.drawdown.UpdateEquity(f.ctx, 9000)
	require.NoError(t, err)
	require.True(t, status.TradingHalted)

	f.now = f.now.Add(15 * time.Minute)
	report := f.cycle(t, b, marks, open("ETHUSDT", 0.9, 2, 2), closeOf("BTCUSDT"))

	blocked := report.Decisions[0]
	assert.False(t, blocked.Accepted)
	assert.False(t, blocked.Executed)
	assert.Contains(t, blocked.Reason, "trading halted")
	assert.True(t, report.Drawdown.TradingHalted)

	closed := report.Decisions[1]
	assert.True(t, closed.Accepted)
	assert.True(t, closed.Executed)

	pos, err := f.store.OpenPosition(f.ctx, exchange.VenueBybit, "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, pos)

	assert.True(t, f.health.Status().TradingHalted)
}

func TestHighExposureTurnsWeakOpenIntoHold(t *testing.T) {
	f := newFixture(t)
	b := f.bot(t, exchange.VenueBybit, transition.StrategyProfitable)
	marks := map[string]float64{"BTCUSDT": 100, "ETHUSDT": 50, "SOLUSDT": 20}

	// 20% + 6% of exposure, then a 0.7 confidence proposal above the 25% threshold
	report := f.cycle(t, b, marks,
		open("BTCUSDT", 0.9, 5, 4),
		open("ETHUSDT", 0.9, 2, 3),
		open("SOLUSDT", 0.7, 1, 1),
	)

	assert.True(t, report.Decisions[0].Executed)
	assert.True(t, report.Decisions[1].Executed)

	weak := report.Decisions[2]
	assert.False(t, weak.Accepted)
	assert.False(t, weak.Executed)
	assert.Equal(t, types.KindHold, weak.Decision.Kind)
	assert.Contains(t, weak.Reason, "exposure")
}

func TestCloseUpdatesLedger(t *testing.T) {
	f := newFixture(t)
	b := f.bot(t, exchange.VenueBybit, transition.StrategyProfitable)

	f.cycle(t, b, map[string]float64{"BTCUSDT": 100}, open("BTCUSDT", 0.9, 2, 2))
	report := f.cycle(t, b, map[string]float64{"BTCUSDT": 101}, closeOf("BTCUSDT"))
	require.True(t, report.Decisions[0].Executed)

	positions, err := f.store.OpenPositions(f.ctx, exchange.VenueBybit)
	require.NoError(t, err)
	assert.Empty(t, positions)

	report = f.cycle(t, b, nil, closeOf("BTCUSDT"))
	assert.False(t, report.Decisions[0].Accepted, "nothing left to close")
}

func TestStopLossFailureClosesPosition(t *testing.T) {
	f := newFixture(t)
	b := f.bot(t, exchange.VenueBybit, transition.StrategyProfitable)
	f.paper(t, exchange.VenueBybit).FailNext(adapters.PaperOpStopLoss, 10)

	report := f.cycle(t, b, map[string]float64{"BTCUSDT": 100}, open("BTCUSDT", 0.9, 2, 2))

	rec := report.Decisions[0]
	assert.True(t, rec.Executed)
	assert.Contains(t, rec.Error, "stop loss could not be placed")

	ok, err := f.paper(t, exchange.VenueBybit).HasOpenPosition(f.ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, f.alerts.Levels(), notifications.LevelCritical)
}

func TestUnprotectedPositionIsProtectedNextCycle(t *testing.T) {
	f := newFixture(t)
	b := f.bot(t, exchange.VenueBybit, transition.StrategyProfitable)
	paper := f.paper(t, exchange.VenueBybit)
	// every stop loss attempt fails and so does the emergency close
	paper.FailNext(adapters.PaperOpStopLoss, 3)
	paper.FailNext(adapters.PaperOpClose, 1)

	report := f.cycle(t, b, map[string]float64{"BTCUSDT": 100}, open("BTCUSDT", 0.9, 2, 2))
	rec := report.Decisions[0]
	assert.True(t, rec.Executed)
	assert.Contains(t, rec.Error, "emergency close")

	pos, err := f.store.OpenPosition(f.ctx, exchange.VenueBybit, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Empty(t, pos.StopLossOrderID)

	f.now = f.now.Add(15 * time.Minute)
	report = f.cycle(t, b, map[string]float64{"BTCUSDT": 100})
	assert.Empty(t, report.Errors)

	pos, err = f.store.OpenPosition(f.ctx, exchange.VenueBybit, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.NotEmpty(t, pos.StopLossOrderID)
	assert.NotEmpty(t, pos.TakeProfitOrderID)

	live := paper.Positions()
	require.Len(t, live, 1)
	assert.InDelta(t, 98, live[0].StopLossPrice, 1e-9)

	// a protected position is not submitted again
	f.now = f.now.Add(15 * time.Minute)
	f.cycle(t, b, map[string]float64{"BTCUSDT": 100})
	again, err := f.store.OpenPosition(f.ctx, exchange.VenueBybit, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, pos.StopLossOrderID, again.StopLossOrderID)
}

func TestFilledStopLossClosesLedgerRow(t *testing.T) {
	f := newFixture(t)
	b := f.bot(t, exchange.VenueBybit, transition.StrategyProfitable)

	f.cycle(t, b, map[string]float64{"BTCUSDT": 100}, open("BTCUSDT", 0.9, 2, 2))
	first, err := f.store.OpenPosition(f.ctx, exchange.VenueBybit, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, first)

	// the mark crosses the 98 stop, then the symbol is opened again
	f.now = f.now.Add(15 * time.Minute)
	report := f.cycle(t, b, map[string]float64{"BTCUSDT": 97}, open("BTCUSDT", 0.9, 2, 2))
	require.True(t, report.Decisions[0].Executed)

	rows, err := f.store.OpenPositions(f.ctx, exchange.VenueBybit)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NotEqual(t, first.ID, rows[0].ID)
	assert.InDelta(t, 97, rows[0].EntryPrice, 1e-9)
	assert.Len(t, f.paper(t, exchange.VenueBybit).Positions(), 1)

	closed, err := f.store.Position(f.ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, closed)
	assert.False(t, closed.IsOpen())
	assert.Equal(t, "closed on venue", closed.CloseReason)
}

// exposureOutage is a paper venue whose exposure endpoint is down
type exposureOutage struct {
	*adapters.PaperAdapter
}

func (exposureOutage) GetTotalExposure(context.Context) (float64, error) {
	return 0, errors.New("exposure endpoint down")
}

func TestExposureOutageBlocksOpensOnly(t *testing.T) {
	f := newFixture(t)
	b := f.bot(t, exchange.VenueBybit, transition.StrategyProfitable)
	marks := map[string]float64{"BTCUSDT": 100, "ETHUSDT": 50}
	f.cycle(t, b, marks, open("BTCUSDT", 0.9, 2, 2))

	f.registry.Register(exposureOutage{f.paper(t, exchange.VenueBybit)})
	f.now = f.now.Add(15 * time.Minute)
	report := f.cycle(t, b, marks, open("ETHUSDT", 0.9, 2, 2), closeOf("BTCUSDT"))

	blocked := report.Decisions[0]
	assert.False(t, blocked.Accepted)
	assert.Contains(t, blocked.Reason, "exposure unavailable")

	closed := report.Decisions[1]
	assert.True(t, closed.Accepted)
	assert.True(t, closed.Executed)
	assert.Equal(t, types.KindClose, closed.Decision.Kind)
}

func TestVenueFailureRejectsProposal(t *testing.T) {
	f := newFixture(t)
	b := f.bot(t, exchange.VenueBybit, transition.StrategyProfitable)
	// equity read and the position read of the proposal both fail
	f.paper(t, exchange.VenueBybit).FailNext(adapters.PaperOpQuery, 2)

	report := f.cycle(t, b, map[string]float64{"BTCUSDT": 100}, open("BTCUSDT", 0.9, 2, 2))

	rec := report.Decisions[0]
	assert.False(t, rec.Accepted)
	assert.False(t, rec.Executed)
	assert.Contains(t, rec.Reason, "unavailable")
	assert.Len(t, report.Errors, 2)

	require.Len(t, report.Failures, 2)
	for _, failure := range report.Failures {
		assert.Equal(t, apperrors.ErrorCategoryNetwork, failure.Category)
	}
	assert.Equal(t, 2, b.ErrorCounts()[apperrors.ErrorCategoryNetwork])
	health := f.health.Status()
	assert.Equal(t, "unhealthy", health.Status)
	require.Len(t, health.Errors, 2)
	assert.Contains(t, health.Errors[0], "[NETWORK]")
	assert.NotContains(t, f.alerts.Levels(), notifications.LevelCritical)
}

type rejectedKeySource struct{}

func (rejectedKeySource) Next(context.Context) (*bot.CycleInput, error) {
	return nil, errors.New("decision API returned 401 unauthorized")
}

func TestNonRecoverableErrorsAlert(t *testing.T) {
	f := newFixture(t)
	adapter, err := f.registry.Get(exchange.VenuePaper)
	require.NoError(t, err)
	rm := risk.NewRiskManager(risk.Config{MaxPositionSizePct: 5, MaxLeverage: 10}, adapter.Capabilities())

	b, err := bot.New(bot.Config{Venue: exchange.VenuePaper}, bot.Deps{
		Venues:    f.registry,
		Source:    rejectedKeySource{},
		Store:     f.store,
		Validator: safety.NewDecisionValidator(safety.ValidatorConfig{MaxTotalExposurePct: 30}, rm),
		Drawdown:  f.drawdown,
		Notifier:  f.alerts,
	}, bot.WithClock(func() time.Time { return f.now }))
	require.NoError(t, err)

	report, err := b.RunCycle(f.ctx)
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, apperrors.ErrorCategoryCredentials, report.Failures[0].Category)
	assert.Equal(t, 1, b.ErrorCounts()[apperrors.ErrorCategoryCredentials])
	assert.Contains(t, f.alerts.Levels(), notifications.LevelCritical)
}

func TestVenueChangeStartsTransition(t *testing.T) {
	f := newFixture(t)
	old := f.bot(t, exchange.VenueBybit, transition.StrategyImmediate)
	f.cycle(t, old, map[string]float64{"BTCUSDT": 100}, open("BTCUSDT", 0.9, 2, 2))

	next := f.bot(t, exchange.VenueBinance, transition.StrategyImmediate)
	f.now = f.now.Add(time.Hour)
	report := f.cycle(t, next, map[string]float64{"BTCUSDT": 100})

	require.NotNil(t, report.Transition)
	assert.Equal(t, exchange.VenueBybit, report.Transition.FromExchange)
	assert.Equal(t, exchange.VenueBinance, report.Transition.ToExchange)
	assert.Equal(t, transition.TransitionStatusCompleted, report.Transition.Status)
	assert.Equal(t, 1, report.Transition.PositionsClosed)

	ok, err := f.paper(t, exchange.VenueBybit).HasOpenPosition(f.ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, ok)

	// a second cycle has nothing left to move
	report = f.cycle(t, next, nil)
	assert.Nil(t, report.Transition)
}

func TestCancelledTransitionLeavesPositionsManaged(t *testing.T) {
	f := newFixture(t)
	old := f.bot(t, exchange.VenueBybit, transition.StrategyManual)
	f.cycle(t, old, map[string]float64{"BTCUSDT": 100}, open("BTCUSDT", 0.9, 2, 2))
	pos, err := f.store.OpenPosition(f.ctx, exchange.VenueBybit, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, pos)

	next := f.bot(t, exchange.VenueBinance, transition.StrategyManual)
	report := f.cycle(t, next, map[string]float64{"BTCUSDT": 100})
	require.NotNil(t, report.Transition)
	assert.Equal(t, transition.TransitionStatusInProgress, report.Transition.Status)

	f.now = start.Add(49 * time.Hour)
	report = f.cycle(t, next, map[string]float64{"BTCUSDT": 100})
	require.NotNil(t, report.Transition)
	assert.Equal(t, transition.TransitionStatusCancelled, report.Transition.Status)

	f.now = f.now.Add(15 * time.Minute)
	report = f.cycle(t, next, map[string]float64{"BTCUSDT": 100})
	assert.Nil(t, report.Transition, "no new transition over released positions")
	all, err := f.store.ListTransitions(f.ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// the released position still gets its stop fill reconciled
	f.now = f.now.Add(15 * time.Minute)
	f.cycle(t, next, map[string]float64{"BTCUSDT": 97})
	closed, err := f.store.Position(f.ctx, pos.ID)
	require.NoError(t, err)
	assert.False(t, closed.IsOpen())
	assert.Equal(t, "closed on venue", closed.CloseReason)
}

func TestEveryReleasedVenueStaysManaged(t *testing.T) {
	f := newFixture(t)
	marks := map[string]float64{"BTCUSDT": 100, "ETHUSDT": 100}
	bybit := f.bot(t, exchange.VenueBybit, transition.StrategyManual)
	f.cycle(t, bybit, marks, open("BTCUSDT", 0.9, 2, 2))

	// moving to binance is never approved, and binance trades on its own
	binance := f.bot(t, exchange.VenueBinance, transition.StrategyManual)
	f.cycle(t, binance, marks)
	f.now = f.now.Add(49 * time.Hour)
	report := f.cycle(t, binance, marks)
	require.Equal(t, transition.TransitionStatusCancelled, report.Transition.Status)
	f.now = f.now.Add(15 * time.Minute)
	report = f.cycle(t, binance, marks, open("ETHUSDT", 0.9, 2, 2))
	require.True(t, report.Decisions[0].Executed)
	eth, err := f.store.OpenPosition(f.ctx, exchange.VenueBinance, "ETHUSDT")
	require.NoError(t, err)
	require.NotNil(t, eth)

	// moving both venues to paper is cancelled once per venue
	paper := f.bot(t, exchange.VenuePaper, transition.StrategyManual)
	var sources []string
	for i := 0; i < 3; i++ {
		f.now = f.now.Add(time.Hour)
		report = f.cycle(t, paper, marks)
		if report.Transition == nil {
			continue
		}
		sources = append(sources, report.Transition.FromExchange)
		f.now = f.now.Add(49 * time.Hour)
		report = f.cycle(t, paper, marks)
		require.Equal(t, transition.TransitionStatusCancelled, report.Transition.Status)
	}
	assert.Equal(t, []string{exchange.VenueBinance, exchange.VenueBybit}, sources)
	all, err := f.store.ListTransitions(f.ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// a stop fill on binance is reconciled and a CLOSE reaches bybit
	f.now = f.now.Add(15 * time.Minute)
	report = f.cycle(t, paper, map[string]float64{"BTCUSDT": 100, "ETHUSDT": 97}, closeOf("BTCUSDT"))
	assert.Nil(t, report.Transition)
	require.True(t, report.Decisions[0].Accepted, report.Decisions[0].Reason)
	assert.True(t, report.Decisions[0].Executed)
	assert.Equal(t, exchange.VenueBybit, report.Decisions[0].Venue)

	closed, err := f.store.Position(f.ctx, eth.ID)
	require.NoError(t, err)
	assert.False(t, closed.IsOpen())
	assert.Equal(t, "closed on venue", closed.CloseReason)

	btc, err := f.store.OpenPosition(f.ctx, exchange.VenueBybit, "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, btc)
	assert.Empty(t, f.paper(t, exchange.VenueBybit).Positions())
}

type failingSource struct{}

func (failingSource) Next(context.Context) (*bot.CycleInput, error) {
	return nil, errors.New("decision layer offline")
}

func TestSourceErrorStillObservesEquity(t *testing.T) {
	f := newFixture(t)
	adapter, err := f.registry.Get(exchange.VenuePaper)
	require.NoError(t, err)
	rm := risk.NewRiskManager(risk.Config{MaxPositionSizePct: 5, MaxLeverage: 10}, adapter.Capabilities())

	b, err := bot.New(bot.Config{Venue: exchange.VenuePaper}, bot.Deps{
		Venues:    f.registry,
		Source:    failingSource{},
		Store:     f.store,
		Validator: safety.NewDecisionValidator(safety.ValidatorConfig{MaxTotalExposurePct: 30}, rm),
		Drawdown:  f.drawdown,
	}, bot.WithClock(func() time.Time { return f.now }))
	require.NoError(t, err)

	report, err := b.RunCycle(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Decisions)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "decision layer offline")
	assert.Equal(t, start.Format("2006-01-02"), f.drawdown.State().Date)
}

func TestStartRestoresAndSetsBaseline(t *testing.T) {
	f := newFixture(t)
	b := f.bot(t, exchange.VenueBybit, transition.StrategyProfitable)

	require.NoError(t, b.Start(f.ctx))
	dd := f.drawdown.State()
	assert.InDelta(t, 10000, dd.DailyStartingEquity, 1e-9)

	stored, err := f.store.LatestDrawdown(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, dd.Date, stored.Date)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := bot.New(bot.Config{}, bot.Deps{})
	assert.Error(t, err)
	_, err = bot.New(bot.Config{Venue: "bybit"}, bot.Deps{})
	assert.Error(t, err)
}
