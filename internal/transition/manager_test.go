package transition_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-risk-core/internal/exchange"
	"github.com/ducminhle1904/crypto-risk-core/internal/exchange/adapters"
	"github.com/ducminhle1904/crypto-risk-core/internal/notifications"
	"github.com/ducminhle1904/crypto-risk-core/internal/state"
	"github.com/ducminhle1904/crypto-risk-core/internal/transition"
	"github.com/ducminhle1904/crypto-risk-core/pkg/types"
)

var start = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

type fixture struct {
	ctx      context.Context
	now      time.Time
	store    *state.MemoryStore
	registry *exchange.Registry
	alerts   *notifications.Recorder
	mgr      *transition.Manager
	seq      int
}

func newFixture(t *testing.T, cfg transition.TransitionConfig) *fixture {
	t.Helper()
	f := &fixture{
		ctx:      context.Background(),
		now:      start,
		store:    state.NewMemoryStore(),
		registry: adapters.NewDryRunRegistry(exchange.PaperConfig{StartingEquity: 10000}, nil),
		alerts:   &notifications.Recorder{},
	}
	f.mgr = transition.NewManager(cfg, f.store, f.store, f.registry, f.alerts, nil,
		transition.WithClock(func() time.Time { return f.now }))
	return f
}

func (f *fixture) venue(t *testing.T, name string) *adapters.PaperAdapter {
	t.Helper()
	a, err := f.registry.Get(name)
	require.NoError(t, err)
	paper, ok := a.(*adapters.PaperAdapter)
	require.True(t, ok)
	return paper
}

// open fills a 5% 1x position at entry and records it with a stop loss
func (f *fixture) open(t *testing.T, venue, symbol string, dir types.Direction, entry, stopLoss float64) *types.PositionRecord {
	t.Helper()
	paper := f.venue(t, venue)
	paper.SetMark(symbol, entry)
	res, err := paper.OpenPosition(f.ctx, exchange.OpenRequest{Symbol: symbol, Direction: dir, Leverage: 1, PositionSizePct: 5})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	slID, err := paper.PlaceStopLoss(f.ctx, symbol, stopLoss)
	require.NoError(t, err)

	f.seq++
	rec := &types.PositionRecord{
		ID:              fmt.Sprintf("pos-%d", f.seq),
		Venue:           venue,
		Symbol:          symbol,
		Direction:       dir,
		EntryPrice:      res.EntryPrice,
		Quantity:        res.Quantity,
		Leverage:        1,
		PositionSizePct: 5,
		StopLossPrice:   stopLoss,
		StopLossOrderID: slID,
		Status:          types.PositionOpen,
		OpenedAt:        f.now.Add(time.Duration(f.seq) * time.Second),
	}
	require.NoError(t, f.store.SavePosition(f.ctx, rec))
	return rec
}

func (f *fixture) position(t *testing.T, id string) *types.PositionRecord {
	t.Helper()
	p, err := f.store.Position(f.ctx, id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

func (f *fixture) tick(t *testing.T) *transition.Transition {
	t.Helper()
	tr, err := f.mgr.Tick(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, tr)
	return tr
}

func TestWaitProfitEscalatesAfterTimeout(t *testing.T) {
	f := newFixture(t, transition.DefaultTransitionConfig())
	bybit := f.venue(t, "bybit")
	var ids []string
	for _, symbol := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"} {
		ids = append(ids, f.open(t, "bybit", symbol, types.DirectionLong, 100, 80).ID)
	}
	for _, symbol := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"} {
		bybit.SetMark(symbol, 96)
	}

	tr, err := f.mgr.Create(f.ctx, "bybit", "binance", transition.StrategyWaitProfit)
	require.NoError(t, err)
	assert.Equal(t, transition.TransitionStatusPending, tr.Status)
	assert.Equal(t, 3, tr.TotalPositions)
	for _, id := range ids {
		p := f.position(t, id)
		assert.True(t, p.InTransition)
		assert.Equal(t, tr.ID, p.TransitionID)
	}

	f.now = start.Add(time.Hour)
	tr = f.tick(t)
	assert.Equal(t, transition.TransitionStatusInProgress, tr.Status)
	assert.Equal(t, 0, tr.PositionsClosed)
	assert.Equal(t, 3, tr.PositionsInLoss)

	f.now = start.Add(25 * time.Hour)
	tr = f.tick(t)
	assert.Equal(t, transition.TransitionStatusCompleted, tr.Status)
	assert.Equal(t, transition.StrategyImmediate, tr.EscalatedTo)
	assert.Equal(t, transition.StrategyWaitProfit, tr.Strategy)
	assert.Equal(t, 3, tr.PositionsClosed)
	assert.Equal(t, 0, tr.PositionsRemaining)
	assert.InDelta(t, -60, tr.TotalPnL, 1e-9)
	assert.InDelta(t, -4, tr.TotalPnLPct, 1e-9)
	require.NotNil(t, tr.CompletedAt)

	assert.Empty(t, bybit.Positions())
	for _, id := range ids {
		p := f.position(t, id)
		assert.False(t, p.IsOpen())
		assert.False(t, p.InTransition)
	}
	assert.Contains(t, f.alerts.Levels(), notifications.LevelWarning)

	stored, err := f.mgr.Get(f.ctx, tr.ID)
	require.NoError(t, err)
	var events []string
	for _, e := range stored.Log {
		events = append(events, e.Event)
	}
	assert.Contains(t, events, "escalated")
	assert.Contains(t, events, "completed")
}

func TestManualTransitionAutoCancels(t *testing.T) {
	f := newFixture(t, transition.DefaultTransitionConfig())
	a := f.open(t, "bybit", "BTCUSDT", types.DirectionLong, 100, 80)
	b := f.open(t, "bybit", "ETHUSDT", types.DirectionShort, 100, 120)

	tr, err := f.mgr.Create(f.ctx, "bybit", "binance", transition.StrategyManual)
	require.NoError(t, err)

	f.now = start.Add(time.Hour)
	tr = f.tick(t)
	assert.Nil(t, tr.LastWarningAt)

	f.now = start.Add(25 * time.Hour)
	tr = f.tick(t)
	require.NotNil(t, tr.LastWarningAt)
	warnings := len(f.alerts.Alerts())

	f.now = start.Add(26 * time.Hour)
	f.tick(t)
	assert.Len(t, f.alerts.Alerts(), warnings, "warnings are spaced by the interval")

	f.now = start.Add(49 * time.Hour)
	tr = f.tick(t)
	assert.Equal(t, transition.TransitionStatusCancelled, tr.Status)
	assert.Equal(t, 0, tr.PositionsClosed)
	assert.Equal(t, 2, tr.PositionsRemaining)

	for _, id := range []string{a.ID, b.ID} {
		p := f.position(t, id)
		assert.True(t, p.IsOpen(), "cancel leaves positions on the old venue")
		assert.False(t, p.InTransition)
		assert.Empty(t, p.TransitionID)
	}
	assert.Len(t, f.venue(t, "bybit").Positions(), 2)

	active, err := f.mgr.Active(f.ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestSingleActiveTransition(t *testing.T) {
	f := newFixture(t, transition.DefaultTransitionConfig())
	f.open(t, "bybit", "BTCUSDT", types.DirectionLong, 100, 80)

	_, err := f.mgr.Create(f.ctx, "bybit", "binance", transition.StrategyManual)
	require.NoError(t, err)

	_, err = f.mgr.Create(f.ctx, "bybit", "paper", transition.StrategyImmediate)
	assert.True(t, errors.Is(err, transition.ErrTransitionActive))

	list, err := f.store.ListTransitions(f.ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreateRejectsBadInput(t *testing.T) {
	f := newFixture(t, transition.DefaultTransitionConfig())
	tests := []struct {
		name     string
		from, to string
		strategy transition.Strategy
	}{
		{"same venue", "bybit", "bybit", transition.StrategyImmediate},
		{"missing venue", "", "bybit", transition.StrategyImmediate},
		{"unknown strategy", "bybit", "binance", transition.Strategy("LATER")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.mgr.Create(f.ctx, tt.from, tt.to, tt.strategy)
			assert.Error(t, err)
		})
	}
}

func TestNoOpenPositionsCompletesAtOnce(t *testing.T) {
	f := newFixture(t, transition.DefaultTransitionConfig())
	tr, err := f.mgr.Create(f.ctx, "bybit", "binance", transition.StrategyWaitProfit)
	require.NoError(t, err)
	assert.Equal(t, transition.TransitionStatusCompleted, tr.Status)
	assert.Equal(t, 0, tr.TotalPositions)

	next, err := f.mgr.Tick(f.ctx)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestProfitableClosesWinnersAndTightensLosers(t *testing.T) {
	f := newFixture(t, transition.DefaultTransitionConfig())
	bybit := f.venue(t, "bybit")
	winner := f.open(t, "bybit", "BTCUSDT", types.DirectionLong, 100, 90)
	loser := f.open(t, "bybit", "ETHUSDT", types.DirectionLong, 100, 90)
	bybit.SetMark("BTCUSDT", 105)
	bybit.SetMark("ETHUSDT", 96)

	_, err := f.mgr.Create(f.ctx, "bybit", "binance", transition.StrategyProfitable)
	require.NoError(t, err)

	tr := f.tick(t)
	assert.Equal(t, transition.TransitionStatusInProgress, tr.Status)
	assert.Equal(t, 1, tr.PositionsClosed)
	assert.Equal(t, 1, tr.PositionsRemaining)
	assert.InDelta(t, 25, tr.TotalPnL, 1e-9)

	assert.False(t, f.position(t, winner.ID).IsOpen())
	tightened := f.position(t, loser.ID)
	assert.InDelta(t, 93, tightened.StopLossPrice, 1e-9)
	assert.NotEqual(t, loser.StopLossOrderID, tightened.StopLossOrderID)
	live, err := bybit.GetPosition(f.ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 93, live.StopLossPrice, 1e-9)

	closedBefore := tr.PositionsClosed
	bybit.SetMark("ETHUSDT", 101)
	tr = f.tick(t)
	assert.GreaterOrEqual(t, tr.PositionsClosed, closedBefore)
	assert.Equal(t, transition.TransitionStatusCompleted, tr.Status)
	assert.Equal(t, 2, tr.PositionsClosed)
}

func TestImmediateRetriesFailedCloseNextTick(t *testing.T) {
	f := newFixture(t, transition.DefaultTransitionConfig())
	bybit := f.venue(t, "bybit")
	first := f.open(t, "bybit", "BTCUSDT", types.DirectionLong, 100, 90)
	f.open(t, "bybit", "ETHUSDT", types.DirectionLong, 100, 90)

	_, err := f.mgr.Create(f.ctx, "bybit", "binance", transition.StrategyImmediate)
	require.NoError(t, err)

	bybit.FailNext(adapters.PaperOpClose, 1)
	tr := f.tick(t)
	assert.Equal(t, transition.TransitionStatusInProgress, tr.Status)
	assert.Equal(t, 1, tr.PositionsClosed)
	assert.Equal(t, 1, tr.PositionsRemaining)
	assert.Equal(t, 1, tr.CloseFailures[first.ID])

	tr = f.tick(t)
	assert.Equal(t, transition.TransitionStatusCompleted, tr.Status)
	assert.Equal(t, 2, tr.PositionsClosed)
	assert.Empty(t, tr.CloseFailures)
}

func TestRepeatedCloseFailuresFailTransition(t *testing.T) {
	cfg := transition.DefaultTransitionConfig()
	cfg.MaxCloseFailures = 2
	f := newFixture(t, cfg)
	bybit := f.venue(t, "bybit")
	pos := f.open(t, "bybit", "BTCUSDT", types.DirectionLong, 100, 90)

	_, err := f.mgr.Create(f.ctx, "bybit", "binance", transition.StrategyImmediate)
	require.NoError(t, err)
	bybit.FailNext(adapters.PaperOpClose, 10)

	tr := f.tick(t)
	assert.Equal(t, transition.TransitionStatusInProgress, tr.Status)

	tr = f.tick(t)
	assert.Equal(t, transition.TransitionStatusFailed, tr.Status)
	assert.Contains(t, f.alerts.Levels(), notifications.LevelCritical)

	p := f.position(t, pos.ID)
	assert.True(t, p.IsOpen())
	assert.False(t, p.InTransition)

	// terminal transitions are never revisited
	next, err := f.mgr.Tick(f.ctx)
	require.NoError(t, err)
	assert.Nil(t, next)
	_, err = f.mgr.Cancel(f.ctx, tr.ID, "")
	assert.Error(t, err)
}

func TestVenueClosedPositionIsReconciled(t *testing.T) {
	f := newFixture(t, transition.DefaultTransitionConfig())
	bybit := f.venue(t, "bybit")
	stopped := f.open(t, "bybit", "BTCUSDT", types.DirectionLong, 100, 95)
	f.open(t, "bybit", "ETHUSDT", types.DirectionLong, 100, 80)
	bybit.SetMark("ETHUSDT", 97)

	_, err := f.mgr.Create(f.ctx, "bybit", "binance", transition.StrategyWaitProfit)
	require.NoError(t, err)

	bybit.SetMark("BTCUSDT", 94) // stop loss fills on the venue
	tr := f.tick(t)
	assert.Equal(t, 1, tr.PositionsClosed)
	assert.Equal(t, 1, tr.PositionsRemaining)
	p := f.position(t, stopped.ID)
	assert.False(t, p.IsOpen())
	assert.Equal(t, "closed on venue", p.CloseReason)
}

func TestApproveManual(t *testing.T) {
	f := newFixture(t, transition.DefaultTransitionConfig())
	f.open(t, "bybit", "BTCUSDT", types.DirectionLong, 100, 90)

	tr, err := f.mgr.Create(f.ctx, "bybit", "binance", transition.StrategyManual)
	require.NoError(t, err)

	_, err = f.mgr.Approve(f.ctx, "unknown")
	assert.ErrorIs(t, err, transition.ErrNotFound)

	approved, err := f.mgr.Approve(f.ctx, tr.ID)
	require.NoError(t, err)
	assert.True(t, approved.ManualOverrideApproved)

	done := f.tick(t)
	assert.Equal(t, transition.TransitionStatusCompleted, done.Status)
	assert.Equal(t, transition.StrategyImmediate, done.EscalatedTo)
	assert.Equal(t, 1, done.PositionsClosed)
}

func TestApproveRequiresManual(t *testing.T) {
	f := newFixture(t, transition.DefaultTransitionConfig())
	f.open(t, "bybit", "BTCUSDT", types.DirectionLong, 100, 90)
	tr, err := f.mgr.Create(f.ctx, "bybit", "binance", transition.StrategyWaitProfit)
	require.NoError(t, err)

	_, err = f.mgr.Approve(f.ctx, tr.ID)
	assert.Error(t, err)
}

func TestCancelReleasesPositions(t *testing.T) {
	f := newFixture(t, transition.DefaultTransitionConfig())
	pos := f.open(t, "bybit", "BTCUSDT", types.DirectionLong, 100, 90)
	tr, err := f.mgr.Create(f.ctx, "bybit", "binance", transition.StrategyWaitProfit)
	require.NoError(t, err)

	cancelled, err := f.mgr.Cancel(f.ctx, tr.ID, "operator request")
	require.NoError(t, err)
	assert.Equal(t, transition.TransitionStatusCancelled, cancelled.Status)
	assert.False(t, f.position(t, pos.ID).InTransition)

	// a new transition may start once the old one is terminal
	_, err = f.mgr.Create(f.ctx, "bybit", "binance", transition.StrategyImmediate)
	assert.NoError(t, err)
}

func TestDetectVenueChange(t *testing.T) {
	f := newFixture(t, transition.DefaultTransitionConfig())

	tr, err := f.mgr.DetectVenueChange(f.ctx, "bybit", transition.StrategyImmediate)
	require.NoError(t, err)
	assert.Nil(t, tr, "nothing open anywhere")

	f.open(t, "bybit", "BTCUSDT", types.DirectionLong, 100, 90)
	tr, err = f.mgr.DetectVenueChange(f.ctx, "bybit", transition.StrategyImmediate)
	require.NoError(t, err)
	assert.Nil(t, tr, "positions already on the configured venue")

	tr, err = f.mgr.DetectVenueChange(f.ctx, "binance", transition.StrategyWaitProfit)
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, "bybit", tr.FromExchange)
	assert.Equal(t, "binance", tr.ToExchange)

	again, err := f.mgr.DetectVenueChange(f.ctx, "binance", transition.StrategyWaitProfit)
	require.NoError(t, err)
	assert.Nil(t, again, "already moving to the configured venue")

	_, err = f.mgr.DetectVenueChange(f.ctx, "paper", transition.StrategyWaitProfit)
	assert.ErrorIs(t, err, transition.ErrTransitionActive)
}

func TestDetectVenueChangeAfterCompletedTransition(t *testing.T) {
	f := newFixture(t, transition.DefaultTransitionConfig())
	_, err := f.mgr.Create(f.ctx, "bybit", "binance", transition.StrategyImmediate)
	require.NoError(t, err)

	tr, err := f.mgr.DetectVenueChange(f.ctx, "binance", transition.StrategyImmediate)
	require.NoError(t, err)
	assert.Nil(t, tr)

	f.now = start.Add(time.Hour)
	tr, err = f.mgr.DetectVenueChange(f.ctx, "paper", transition.StrategyImmediate)
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, "binance", tr.FromExchange)
	assert.Equal(t, transition.TransitionStatusCompleted, tr.Status)
}

func TestCancelledTransitionIsNotRecreated(t *testing.T) {
	f := newFixture(t, transition.DefaultTransitionConfig())
	pos := f.open(t, "bybit", "BTCUSDT", types.DirectionLong, 100, 90)

	tr, err := f.mgr.DetectVenueChange(f.ctx, "binance", transition.StrategyManual)
	require.NoError(t, err)
	require.NotNil(t, tr)
	f.tick(t)

	f.now = start.Add(49 * time.Hour)
	tr = f.tick(t)
	require.Equal(t, transition.TransitionStatusCancelled, tr.Status)

	released, err := f.mgr.ReleasedVenues(f.ctx, "binance")
	require.NoError(t, err)
	assert.Equal(t, []string{"bybit"}, released)

	f.now = start.Add(50 * time.Hour)
	again, err := f.mgr.DetectVenueChange(f.ctx, "binance", transition.StrategyManual)
	require.NoError(t, err)
	assert.Nil(t, again, "released positions stay under normal management")
	assert.True(t, f.position(t, pos.ID).IsOpen())
	assert.False(t, f.position(t, pos.ID).InTransition)

	// a new configured venue starts a fresh transition over the same positions
	released, err = f.mgr.ReleasedVenues(f.ctx, "paper")
	require.NoError(t, err)
	assert.Empty(t, released)
	moved, err := f.mgr.DetectVenueChange(f.ctx, "paper", transition.StrategyImmediate)
	require.NoError(t, err)
	require.NotNil(t, moved)
	assert.Equal(t, "bybit", moved.FromExchange)
	assert.Equal(t, 1, moved.TotalPositions)
}

func TestCancelledTransitionsOnTwoVenuesStayCancelled(t *testing.T) {
	f := newFixture(t, transition.DefaultTransitionConfig())
	f.open(t, "bybit", "BTCUSDT", types.DirectionLong, 100, 90)
	f.open(t, "binance", "ETHUSDT", types.DirectionLong, 100, 90)

	var sources []string
	for round := 0; round < 4; round++ {
		f.now = start.Add(time.Duration(round) * 50 * time.Hour)
		tr, err := f.mgr.DetectVenueChange(f.ctx, "paper", transition.StrategyManual)
		require.NoError(t, err)
		if tr == nil {
			continue
		}
		sources = append(sources, tr.FromExchange)
		f.tick(t)
		f.now = f.now.Add(49 * time.Hour)
		require.Equal(t, transition.TransitionStatusCancelled, f.tick(t).Status)
	}
	assert.Equal(t, []string{"binance", "bybit"}, sources, "each venue is released once")

	released, err := f.mgr.ReleasedVenues(f.ctx, "paper")
	require.NoError(t, err)
	assert.Equal(t, []string{"binance", "bybit"}, released)

	// switching back to a venue starts over for the other one
	f.now = f.now.Add(time.Hour)
	tr, err := f.mgr.DetectVenueChange(f.ctx, "binance", transition.StrategyImmediate)
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, "bybit", tr.FromExchange)
	released, err = f.mgr.ReleasedVenues(f.ctx, "binance")
	require.NoError(t, err)
	assert.Empty(t, released)
}

func TestTickReportsUnknownVenue(t *testing.T) {
	f := newFixture(t, transition.DefaultTransitionConfig())
	f.mgr = transition.NewManager(transition.DefaultTransitionConfig(), f.store, f.store, exchange.NewRegistry(nil), f.alerts, nil,
		transition.WithClock(func() time.Time { return f.now }))
	require.NoError(t, f.store.SavePosition(f.ctx, &types.PositionRecord{ID: "p", Venue: "bybit", Symbol: "BTCUSDT", Status: types.PositionOpen}))

	_, err := f.mgr.Create(f.ctx, "bybit", "binance", transition.StrategyImmediate)
	require.NoError(t, err)
	tr, err := f.mgr.Tick(f.ctx)
	assert.Error(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, transition.TransitionStatusPending, tr.Status)
}

func TestGetReturnsNewestLogEntries(t *testing.T) {
	f := newFixture(t, transition.DefaultTransitionConfig())
	f.open(t, "bybit", "BTCUSDT", types.DirectionLong, 100, 80)
	tr, err := f.mgr.Create(f.ctx, "bybit", "binance", transition.StrategyManual)
	require.NoError(t, err)

	for i := 0; i < 150; i++ {
		require.NoError(t, f.store.AppendLog(f.ctx, transition.LogEntry{
			TransitionID: tr.ID,
			Timestamp:    start.Add(time.Duration(i) * time.Minute),
			Event:        "note",
			Message:      fmt.Sprintf("note %d", i),
		}))
	}

	got, err := f.mgr.Get(f.ctx, tr.ID)
	require.NoError(t, err)
	require.Len(t, got.Log, transition.MaxLogEntries)
	assert.Equal(t, "note 149", got.Log[len(got.Log)-1].Message)
	assert.Equal(t, "note 50", got.Log[0].Message)

	full, err := f.store.TransitionLog(f.ctx, tr.ID, 0)
	require.NoError(t, err)
	assert.Len(t, full, 151, "the stored log is never trimmed")
}
