package state

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ducminhle1904/crypto-risk-core/internal/risk"
	"github.com/ducminhle1904/crypto-risk-core/internal/transition"
	"github.com/ducminhle1904/crypto-risk-core/pkg/types"
)

const snapshotVersion = "1"

// Snapshot is a point-in-time view of the core's persisted state
type Snapshot struct {
	Version     string    `json:"version"`
	GeneratedAt time.Time `json:"generated_at"`
	Venue       string    `json:"venue"`

	Drawdown          *risk.DrawdownState      `json:"drawdown,omitempty"`
	ActiveTransition  *transition.Transition   `json:"active_transition,omitempty"`
	RecentTransitions []*transition.Transition `json:"recent_transitions,omitempty"`
	OpenPositions     []*types.PositionRecord  `json:"open_positions"`
	RecentDecisions   []*types.DecisionRecord  `json:"recent_decisions,omitempty"`
}

// BuildSnapshot reads the current state out of store
func BuildSnapshot(ctx context.Context, store Store, venue string, at time.Time) (*Snapshot, error) {
	snap := &Snapshot{Version: snapshotVersion, GeneratedAt: at.UTC(), Venue: venue}

	var err error
	if snap.Drawdown, err = store.LatestDrawdown(ctx); err != nil {
		return nil, fmt.Errorf("load drawdown: %w", err)
	}
	if snap.ActiveTransition, err = store.ActiveTransition(ctx); err != nil {
		return nil, fmt.Errorf("load active transition: %w", err)
	}
	if snap.ActiveTransition != nil {
		if snap.ActiveTransition.Log, err = store.TransitionLog(ctx, snap.ActiveTransition.ID, 10); err != nil {
			return nil, fmt.Errorf("load transition log: %w", err)
		}
	}
	if snap.RecentTransitions, err = store.ListTransitions(ctx, 5); err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	if snap.OpenPositions, err = store.OpenPositions(ctx, ""); err != nil {
		return nil, fmt.Errorf("load open positions: %w", err)
	}
	if snap.RecentDecisions, err = store.RecentDecisions(ctx, 10); err != nil {
		return nil, fmt.Errorf("load decisions: %w", err)
	}
	return snap, nil
}

// WriteJSON encodes the snapshot indented
func (s *Snapshot) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// SaveSnapshot writes the snapshot to path through a temp file and rename,
// keeping the previous file as path.bak
func SaveSnapshot(path string, snap *Snapshot) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := copyFile(path, path+".bak"); err != nil {
			return fmt.Errorf("failed to back up snapshot: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to move snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot written by SaveSnapshot
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %q", snap.Version)
	}
	return &snap, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
