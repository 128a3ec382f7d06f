package bot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-risk-core/pkg/types"
)

func TestParseCycleInput(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		proposals int
		marks     map[string]float64
		wantErr   bool
	}{
		{name: "empty", input: "  ", proposals: 0},
		{name: "bare array", input: `[{"symbol":"btcusdt","action":"open","direction":"long","confidence":0.8}]`, proposals: 1},
		{
			name:      "document with marks",
			input:     `{"proposals":[{"symbol":"ETHUSDT","action":"CLOSE","confidence":0.7},{"symbol":"SOLUSDT","action":"hold"}],"marks":{"ethusdt":2500}}`,
			proposals: 2,
			marks:     map[string]float64{"ETHUSDT": 2500},
		},
		{name: "unknown action", input: `[{"symbol":"BTCUSDT","action":"BUY"}]`, wantErr: true},
		{name: "malformed", input: `{"proposals":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := ParseCycleInput([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, in.Proposals, tt.proposals)
			assert.Equal(t, tt.marks, in.Marks)
		})
	}
}

func TestParseCycleInputNormalizes(t *testing.T) {
	in, err := ParseCycleInput([]byte(`[{"symbol":" btcusdt ","action":"Open","direction":"short","leverage":3,"position_size_pct":2,"confidence":0.9}]`))
	require.NoError(t, err)
	require.Len(t, in.Proposals, 1)

	p := in.Proposals[0]
	assert.Equal(t, "BTCUSDT", p.Symbol)
	assert.Equal(t, types.ActionOpen, p.Action)
	assert.Equal(t, types.DirectionShort, p.Direction)
	assert.InDelta(t, 3, p.Leverage, 1e-9)
	assert.InDelta(t, 2, p.PositionSizePct, 1e-9)
}

func TestJSONFileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "decisions.json")
	src := NewJSONFileSource(path)

	in, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Empty(t, in.Proposals, "a missing file is an empty cycle")

	require.NoError(t, os.WriteFile(path, []byte(`{"proposals":[{"symbol":"BTCUSDT","action":"HOLD"}],"marks":{"BTCUSDT":100}}`), 0o644))
	in, err = src.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, in.Proposals, 1)
	assert.Equal(t, types.ActionHold, in.Proposals[0].Action)
	assert.InDelta(t, 100, in.Marks["BTCUSDT"], 1e-9)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Next(ctx)
	assert.Error(t, err)
}

func TestStaticSourceReturnsCopy(t *testing.T) {
	src := &StaticSource{Input: CycleInput{Proposals: []types.ActionProposal{{Symbol: "BTCUSDT", Action: types.ActionHold}}}}
	in, err := src.Next(context.Background())
	require.NoError(t, err)
	in.Proposals = nil
	assert.Len(t, src.Input.Proposals, 1)
}
