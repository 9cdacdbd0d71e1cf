package strategies

import (
	"backtester/internal/engine"
	"backtester/internal/runner"
	"backtester/strategies/breakout"
	"backtester/strategies/donchian"
	"backtester/types"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ runner.StrategyFactory = (*Registry)(nil)

func TestDefault_ListSorted(t *testing.T) {
	list := Default().List()
	names := make([]string, 0, len(list))
	for _, m := range list {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"breakout", "donchian", "meanreversion", "multiindicator"}, names)
	for _, m := range list {
		assert.NotEmpty(t, m.Label)
		assert.NotEmpty(t, m.Parameters)
	}
}

func TestRegistry_CreateDecodesParams(t *testing.T) {
	r := Default()
	strat, err := r.Create("Donchian", map[string]any{"period": "55", "long_only": false})
	require.NoError(t, err)
	assert.Equal(t, donchian.Name, strat.Name())
	_, isObserver := strat.(engine.PositionObserver)
	assert.True(t, isObserver)

	strat, err = r.Create("breakout", nil)
	require.NoError(t, err)
	_, isSizer := strat.(engine.PositionSizer)
	assert.True(t, isSizer)
	assert.Equal(t, breakout.Name, strat.Name())
}

func TestRegistry_CreateErrors(t *testing.T) {
	r := Default()
	_, err := r.Create("ml", nil)
	assert.ErrorIs(t, err, ErrUnknownStrategy)

	_, err = r.Create("meanreversion", map[string]any{"rsi_perod": 10})
	assert.ErrorIs(t, err, ErrInvalidParams, "unknown keys are rejected")

	_, err = r.Create("meanreversion", map[string]any{"rsi_period": "fast"})
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = r.Create("multiindicator", map[string]any{"min_score": 0})
	assert.Error(t, err, "config validation runs after decoding")
}

func TestRegistry_FreshInstances(t *testing.T) {
	r := Default()
	a, err := r.Create("donchian", nil)
	require.NoError(t, err)
	b, err := r.Create("donchian", nil)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

type stubStrategy struct{}

func (stubStrategy) Name() string { return "stub" }
func (stubStrategy) GenerateSignal(bars []types.Bar) (types.Signal, error) {
	return types.HoldSignal(bars[len(bars)-1].Timestamp, bars[len(bars)-1].Close), nil
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	factory := func(map[string]any) (engine.Strategy, error) { return stubStrategy{}, nil }
	require.NoError(t, r.Register(Metadata{Name: " Stub "}, factory))
	assert.ErrorIs(t, r.Register(Metadata{Name: "stub"}, factory), ErrDuplicateStrategy)
	assert.Error(t, r.Register(Metadata{Name: ""}, factory))

	meta, ok := r.Metadata("STUB")
	assert.True(t, ok)
	assert.Equal(t, "stub", meta.Name)
	_, ok = r.Metadata("other")
	assert.False(t, ok)
}

func TestDecodeParams(t *testing.T) {
	cfg := breakout.DefaultConfig()
	require.NoError(t, DecodeParams(map[string]any{"risk_per_trade": "0.02", "use_atr_stop": "true"}, &cfg))
	assert.Equal(t, 0.02, cfg.RiskPerTrade)
	assert.True(t, cfg.UseATRStop)
	assert.Equal(t, 20, cfg.EMAPeriod, "untouched fields keep defaults")
}
