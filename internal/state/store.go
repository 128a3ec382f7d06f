package state

import (
	"context"
	"sort"

	"github.com/ducminhle1904/crypto-risk-core/internal/risk"
	"github.com/ducminhle1904/crypto-risk-core/internal/safety"
	"github.com/ducminhle1904/crypto-risk-core/internal/transition"
	"github.com/ducminhle1904/crypto-risk-core/pkg/types"
)

// Store is everything the core persists. MemoryStore and SQLiteStore implement it.
type Store interface {
	transition.Store
	transition.PositionLedger
	risk.DrawdownStore

	// Position returns nil with no error for an unknown id
	Position(ctx context.Context, id string) (*types.PositionRecord, error)
	// OpenPosition returns the open position for venue and symbol, or nil
	OpenPosition(ctx context.Context, venue, symbol string) (*types.PositionRecord, error)

	SaveDecision(ctx context.Context, rec *types.DecisionRecord) error
	// RecentDecisions returns the newest limit decisions, newest first
	RecentDecisions(ctx context.Context, limit int) ([]*types.DecisionRecord, error)
	ListTransitions(ctx context.Context, limit int) ([]*transition.Transition, error)

	SetValue(ctx context.Context, key, value string) error
	// Value reports false when key was never set
	Value(ctx context.Context, key string) (string, bool, error)

	Close() error
}

var (
	_ Store                 = (*MemoryStore)(nil)
	_ Store                 = (*SQLiteStore)(nil)
	_ safety.PositionLedger = (*MemoryStore)(nil)
	_ safety.PositionLedger = (*SQLiteStore)(nil)
)

func cloneTransition(t *transition.Transition) *transition.Transition {
	if t == nil {
		return nil
	}
	c := *t
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	if t.LastWarningAt != nil {
		at := *t.LastWarningAt
		c.LastWarningAt = &at
	}
	c.CloseFailures = make(map[string]int, len(t.CloseFailures))
	for k, v := range t.CloseFailures {
		c.CloseFailures[k] = v
	}
	// the log lives in its own append-only table
	c.Log = nil
	return &c
}

func clonePosition(p *types.PositionRecord) *types.PositionRecord {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func sortPositions(positions []*types.PositionRecord) {
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].OpenedAt.Equal(positions[j].OpenedAt) {
			return positions[i].ID < positions[j].ID
		}
		return positions[i].OpenedAt.Before(positions[j].OpenedAt)
	})
}
