// Package indicator holds helpers shared by the strategy implementations.
package indicator

import (
	"backtester/types"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// PositionTracker mirrors the engine's open position for a strategy. Embed it
// to satisfy engine.PositionObserver.
type PositionTracker struct {
	open *types.Position
}

func (t *PositionTracker) OnPositionOpened(pos types.Position) {
	t.open = &pos
}

func (t *PositionTracker) OnPositionClosed(types.Position, decimal.Decimal, time.Time) {
	t.open = nil
}

func (t *PositionTracker) Position() (types.Position, bool) {
	if t.open == nil {
		return types.Position{}, false
	}
	return *t.open, true
}

func (t *PositionTracker) IsFlat() bool { return t.open == nil }

func (t *PositionTracker) IsLong() bool { return t.open != nil && t.open.Side == types.SideLong }

func (t *PositionTracker) IsShort() bool { return t.open != nil && t.open.Side == types.SideShort }

// Tail returns at most the last n bars.
func Tail(bars []types.Bar, n int) []types.Bar {
	if n <= 0 || len(bars) <= n {
		return bars
	}
	return bars[len(bars)-n:]
}

// Last returns the final value of an indicator series, 0 for an empty one.
func Last(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// Ready reports whether series has a value past the talib lookback, the
// number of leading entries go-talib pads with zeros. Zero itself is a valid
// reading (RSI after only losses).
func Ready(series []float64, lookback int) bool {
	if len(series) <= lookback {
		return false
	}
	v := Last(series)
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func Clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Hold is a HOLD signal for the latest bar carrying reason.
func Hold(bars []types.Bar, reason string) types.Signal {
	bar := bars[len(bars)-1]
	sig := types.HoldSignal(bar.Timestamp, bar.Close)
	sig.Reason = reason
	return sig
}
