package indicator

import (
	"backtester/types"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPositionTracker(t *testing.T) {
	var tr PositionTracker
	assert.True(t, tr.IsFlat())

	tr.OnPositionOpened(types.Position{Symbol: "AAPL", Side: types.SideShort})
	assert.True(t, tr.IsShort())
	assert.False(t, tr.IsLong())
	pos, ok := tr.Position()
	assert.True(t, ok)
	assert.Equal(t, "AAPL", pos.Symbol)

	tr.OnPositionClosed(pos, decimal.NewFromInt(1), time.Now())
	assert.True(t, tr.IsFlat())
	_, ok = tr.Position()
	assert.False(t, ok)
}

func TestSeriesHelpers(t *testing.T) {
	assert.Equal(t, 0.0, Last(nil))
	assert.Equal(t, 3.0, Last([]float64{1, 2, 3}))
	assert.False(t, Ready([]float64{0, 0}, 2), "only padding")
	assert.False(t, Ready([]float64{0, math.NaN()}, 1))
	assert.True(t, Ready([]float64{0, 2}, 1))
	assert.True(t, Ready([]float64{0, 0, 0}, 2), "zero past the lookback is a reading")
	assert.Equal(t, 0.0, Clamp01(-1))
	assert.Equal(t, 1.0, Clamp01(3))
	assert.Equal(t, 0.4, Clamp01(0.4))
}

func TestTailAndHold(t *testing.T) {
	bars := make([]types.Bar, 5)
	for i := range bars {
		bars[i].Timestamp = time.Unix(int64(i), 0)
		bars[i].Close = decimal.NewFromInt(int64(i + 1))
	}
	assert.Len(t, Tail(bars, 3), 3)
	assert.Len(t, Tail(bars, 10), 5)
	assert.Len(t, Tail(bars, 0), 5)

	sig := Hold(bars, "waiting")
	assert.Equal(t, types.SignalHold, sig.Kind)
	assert.Equal(t, "waiting", sig.Reason)
	assert.True(t, sig.Price.Equal(decimal.NewFromInt(5)))
}
