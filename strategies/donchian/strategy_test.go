package donchian

import (
	"backtester/types"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func bar(i int, high, low, close float64) types.Bar {
	return types.Bar{
		Symbol:    "AAPL",
		Interval:  types.Day,
		Timestamp: t0.AddDate(0, 0, i),
		Open:      decimal.NewFromFloat(close),
		High:      decimal.NewFromFloat(high),
		Low:       decimal.NewFromFloat(low),
		Close:     decimal.NewFromFloat(close),
		Volume:    decimal.NewFromInt(100),
	}
}

// flat returns n bars ranging 99..101.
func flat(n int) []types.Bar {
	bars := make([]types.Bar, n)
	for i := range bars {
		bars[i] = bar(i, 101, 99, 100)
	}
	return bars
}

func newTestStrategy(t *testing.T, mutate func(*Config)) *Strategy {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Period = 4
	cfg.ATRPeriod = 3
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func TestStrategy_BreakoutUpBuysWithATRStop(t *testing.T) {
	s := newTestStrategy(t, nil)
	bars := append(flat(5), bar(5, 104, 100, 103))

	sig, err := s.GenerateSignal(bars)
	require.NoError(t, err)
	assert.Equal(t, types.SignalBuy, sig.Kind)
	assert.True(t, sig.Price.Equal(decimal.NewFromInt(103)))
	require.True(t, sig.StopLoss.Valid)
	assert.True(t, sig.StopLoss.Decimal.LessThan(sig.Price))
	assert.Equal(t, 101.0, sig.Metadata["channel_high"])
	assert.NoError(t, sig.Validate())
}

func TestStrategy_DownsideBreak(t *testing.T) {
	bars := append(flat(5), bar(5, 100, 96, 97))

	longOnly := newTestStrategy(t, nil)
	sig, err := longOnly.GenerateSignal(bars)
	require.NoError(t, err)
	assert.Equal(t, types.SignalHold, sig.Kind, "long-only stays flat on a downside break")

	longOnly.OnPositionOpened(types.Position{Symbol: "AAPL", Side: types.SideLong})
	sig, err = longOnly.GenerateSignal(bars)
	require.NoError(t, err)
	assert.Equal(t, types.SignalCloseLong, sig.Kind)

	both := newTestStrategy(t, func(c *Config) { c.LongOnly = false })
	sig, err = both.GenerateSignal(bars)
	require.NoError(t, err)
	assert.Equal(t, types.SignalSell, sig.Kind)
	require.True(t, sig.StopLoss.Valid)
	assert.True(t, sig.StopLoss.Decimal.GreaterThan(sig.Price))
}

func TestStrategy_HoldCases(t *testing.T) {
	s := newTestStrategy(t, nil)

	sig, err := s.GenerateSignal(flat(3))
	require.NoError(t, err)
	assert.Equal(t, types.SignalHold, sig.Kind)
	assert.Equal(t, "insufficient data", sig.Reason)

	sig, err = s.GenerateSignal(flat(6))
	require.NoError(t, err)
	assert.Equal(t, types.SignalHold, sig.Kind)

	sig, err = s.GenerateSignal(append(flat(5), bar(5, 105, 95, 100)))
	require.NoError(t, err)
	assert.Equal(t, types.SignalHold, sig.Kind, "outside bar is ambiguous")

	s.OnPositionOpened(types.Position{Side: types.SideLong})
	sig, err = s.GenerateSignal(append(flat(5), bar(5, 104, 100, 103)))
	require.NoError(t, err)
	assert.Equal(t, types.SignalHold, sig.Kind, "no re-entry while long")
}

func TestStrategy_ShortCoveredOnUpsideBreak(t *testing.T) {
	s := newTestStrategy(t, func(c *Config) { c.LongOnly = false })
	s.OnPositionOpened(types.Position{Side: types.SideShort})
	sig, err := s.GenerateSignal(append(flat(5), bar(5, 104, 100, 103)))
	require.NoError(t, err)
	assert.Equal(t, types.SignalCloseShort, sig.Kind)
}

func TestDonchianHighLow(t *testing.T) {
	hi, lo := donchianHighLow([]types.Bar{bar(0, 10, 5, 7), bar(1, 12, 6, 8), bar(2, 11, 4, 9)})
	assert.True(t, hi.Equal(decimal.NewFromInt(12)))
	assert.True(t, lo.Equal(decimal.NewFromInt(4)))

	hi, lo = donchianHighLow(nil)
	assert.True(t, hi.IsZero())
	assert.True(t, lo.IsZero())
}

func TestCalcATR(t *testing.T) {
	// True ranges: 2, 4, 2, 6. Seed (2+4+2)/3 = 8/3, then (8/3*2+6)/3 = 34/9.
	bars := []types.Bar{
		bar(0, 11, 9, 10),
		bar(1, 12, 10, 11),
		bar(2, 13, 9, 12),
		bar(3, 13, 11, 12),
		bar(4, 18, 12, 17),
	}
	got := calcATR(bars, 3)
	assert.InDelta(t, 34.0/9.0, got.InexactFloat64(), 1e-9)
	assert.True(t, calcATR(bars[:3], 3).IsZero())
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	_, err := New(Config{Period: 0, ATRPeriod: 1, Size: 1})
	assert.Error(t, err)
	_, err = New(Config{Period: 2, ATRPeriod: 1, Size: 1.5})
	assert.Error(t, err)
}
