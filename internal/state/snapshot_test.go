package state

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-risk-core/internal/transition"
)

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateTransition(ctx, newTransition("t1", transition.TransitionStatusInProgress, t0)))
	require.NoError(t, store.AppendLog(ctx, transition.LogEntry{TransitionID: "t1", Timestamp: t0, Event: "created", Message: "bybit -> binance"}))
	require.NoError(t, store.SavePosition(ctx, newPosition("a", "bybit", "BTCUSDT", t0)))

	snap, err := BuildSnapshot(ctx, store, "binance", t0)
	require.NoError(t, err)
	require.NotNil(t, snap.ActiveTransition)
	assert.Len(t, snap.ActiveTransition.Log, 1)
	assert.Len(t, snap.OpenPositions, 1)
	assert.Nil(t, snap.Drawdown)

	path := filepath.Join(t.TempDir(), "snapshots", "state.json")
	require.NoError(t, SaveSnapshot(path, snap))
	require.NoError(t, SaveSnapshot(path, snap))
	_, err = os.Stat(path + ".bak")
	assert.NoError(t, err, "second save keeps a backup")

	loaded, err := LoadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, "binance", loaded.Venue)
	assert.Equal(t, "t1", loaded.ActiveTransition.ID)

	var buf bytes.Buffer
	require.NoError(t, snap.WriteJSON(&buf))
	assert.Contains(t, buf.String(), `"from_exchange": "bybit"`)
}

func TestLoadSnapshotRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":"99"}`), 0644))
	_, err := LoadSnapshot(path)
	assert.Error(t, err)
}
