// Package breakout scalps breakouts from tight consolidation ranges in the
// direction of an EMA trend filter, with stop and target set from the range.
package breakout

import (
	"backtester/strategies/internal/indicator"
	"backtester/types"
	"errors"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"
)

const Name = "breakout"

type Config struct {
	EMAPeriod     int `mapstructure:"ema_period"`
	RangeLookback int `mapstructure:"range_lookback"`
	// RangeThreshold and MinRangeSize bound the range height as a fraction of
	// its midpoint.
	RangeThreshold       float64 `mapstructure:"range_threshold"`
	MinRangeSize         float64 `mapstructure:"min_range_size"`
	BreakoutConfirmation int     `mapstructure:"breakout_confirmation"`
	RiskRewardRatio      float64 `mapstructure:"risk_reward_ratio"`
	RiskPerTrade         float64 `mapstructure:"risk_per_trade"`
	ATRPeriod            int     `mapstructure:"atr_period"`
	UseATRStop           bool    `mapstructure:"use_atr_stop"`
	ATRStopMultiplier    float64 `mapstructure:"atr_stop_multiplier"`
}

func DefaultConfig() Config {
	return Config{
		EMAPeriod:            20,
		RangeLookback:        20,
		RangeThreshold:       0.003,
		MinRangeSize:         0.0005,
		BreakoutConfirmation: 1,
		RiskRewardRatio:      2,
		RiskPerTrade:         0.05,
		ATRPeriod:            14,
		ATRStopMultiplier:    1.5,
	}
}

func (c Config) Validate() error {
	switch {
	case c.EMAPeriod < 2 || c.RangeLookback < 2:
		return errors.New("breakout: ema_period and range_lookback must be at least 2")
	case c.RangeThreshold <= 0 || c.MinRangeSize < 0 || c.MinRangeSize > c.RangeThreshold:
		return errors.New("breakout: need 0 <= min_range_size <= range_threshold and range_threshold > 0")
	case c.BreakoutConfirmation < 1:
		return errors.New("breakout: breakout_confirmation must be at least 1")
	case c.RiskRewardRatio <= 0:
		return errors.New("breakout: risk_reward_ratio must be positive")
	case c.RiskPerTrade <= 0 || c.RiskPerTrade > 1:
		return errors.New("breakout: risk_per_trade must be in (0,1]")
	case c.UseATRStop && (c.ATRPeriod < 1 || c.ATRStopMultiplier <= 0):
		return errors.New("breakout: atr stop needs a positive atr_period and atr_stop_multiplier")
	}
	return nil
}

type direction int

const (
	none direction = iota
	up
	down
)

func (d direction) String() string {
	switch d {
	case up:
		return "up"
	case down:
		return "down"
	}
	return "none"
}

type priceRange struct {
	low, high float64
}

type Strategy struct {
	indicator.PositionTracker
	cfg Config

	current     *priceRange
	lastDir     direction
	confirmBars int
}

func New(cfg Config) (*Strategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Strategy{cfg: cfg}, nil
}

func (s *Strategy) Name() string { return Name }

func (s *Strategy) GenerateSignal(bars []types.Bar) (types.Signal, error) {
	if len(bars) < max(s.cfg.EMAPeriod, s.cfg.RangeLookback)+5 {
		return indicator.Hold(bars, "insufficient data"), nil
	}
	window := indicator.Tail(bars, 4*max(s.cfg.EMAPeriod, s.cfg.ATRPeriod+1, s.cfg.RangeLookback+1))
	closes := types.Closes(window)
	ema := indicator.Last(talib.Ema(closes, s.cfg.EMAPeriod))
	price := indicator.Last(closes)

	if detected, ok := s.detectRange(bars); ok && (s.current == nil || *s.current != detected) {
		s.current = &detected
		s.lastDir = none
		s.confirmBars = 0
	}
	if s.current == nil {
		return indicator.Hold(bars, "no range detected"), nil
	}

	dir := none
	switch {
	case price > s.current.high:
		dir = up
	case price < s.current.low:
		dir = down
	}
	if dir == none {
		return indicator.Hold(bars, "price in range"), nil
	}
	if dir == s.lastDir {
		s.confirmBars++
	} else {
		s.lastDir = dir
		s.confirmBars = 1
	}
	if s.confirmBars < s.cfg.BreakoutConfirmation {
		return indicator.Hold(bars, fmt.Sprintf("awaiting confirmation %d/%d", s.confirmBars, s.cfg.BreakoutConfirmation)), nil
	}
	if (dir == up && price <= ema) || (dir == down && price >= ema) {
		return indicator.Hold(bars, "breakout against trend"), nil
	}
	if !s.IsFlat() {
		return indicator.Hold(bars, "position open"), nil
	}

	atr := 0.0
	if s.cfg.UseATRStop {
		atr = indicator.Last(talib.Atr(types.Highs(window), types.Lows(window), closes, s.cfg.ATRPeriod))
	}
	stop, target := s.levels(price, dir, *s.current, atr)
	if stop <= 0 || target <= 0 {
		return indicator.Hold(bars, "exit levels out of range"), nil
	}

	height := s.current.high - s.current.low
	var strength, trend float64
	kind := types.SignalBuy
	if dir == up {
		strength = safeDiv(price-s.current.high, height)
		trend = safeDiv(price-ema, ema)
	} else {
		kind = types.SignalSell
		strength = safeDiv(s.current.low-price, height)
		trend = safeDiv(ema-price, ema)
	}
	confidence := math.Min(0.9, 0.5+2*strength+2*math.Abs(trend))

	bar := bars[len(bars)-1]
	sig := types.NewSignal(kind, bar.Timestamp, bar.Close, 1, confidence, fmt.Sprintf("range breakout %s", dir)).
		WithStopLoss(decimal.NewFromFloat(stop)).
		WithTakeProfit(decimal.NewFromFloat(target))
	sig.Metadata = map[string]any{
		"range_low":         s.current.low,
		"range_high":        s.current.high,
		"ema":               ema,
		"breakout_strength": strength,
		"trend_strength":    trend,
		"risk_reward_ratio": s.cfg.RiskRewardRatio,
	}

	s.current = nil
	s.lastDir = none
	s.confirmBars = 0
	return sig, nil
}

// detectRange looks at the RangeLookback bars before the current one.
func (s *Strategy) detectRange(bars []types.Bar) (priceRange, bool) {
	n := len(bars) - 1
	if n < s.cfg.RangeLookback {
		return priceRange{}, false
	}
	lookback := bars[n-s.cfg.RangeLookback : n]
	r := priceRange{low: math.Inf(1), high: math.Inf(-1)}
	for _, b := range lookback {
		r.high = math.Max(r.high, b.High.InexactFloat64())
		r.low = math.Min(r.low, b.Low.InexactFloat64())
	}
	mid := (r.high + r.low) / 2
	if mid <= 0 {
		return priceRange{}, false
	}
	pct := (r.high - r.low) / mid
	if pct > s.cfg.RangeThreshold || pct < s.cfg.MinRangeSize {
		return priceRange{}, false
	}
	return r, true
}

// levels places the stop just inside the broken boundary (or ATR away) and the
// target RiskRewardRatio times the risk beyond the entry.
func (s *Strategy) levels(entry float64, dir direction, r priceRange, atr float64) (stop, target float64) {
	switch {
	case s.cfg.UseATRStop && atr > 0 && dir == up:
		stop = entry - atr*s.cfg.ATRStopMultiplier
	case s.cfg.UseATRStop && atr > 0:
		stop = entry + atr*s.cfg.ATRStopMultiplier
	case dir == up:
		stop = r.high * 0.999
	default:
		stop = r.low * 1.001
	}
	if dir == up {
		return stop, entry + (entry-stop)*s.cfg.RiskRewardRatio
	}
	return stop, entry - (stop-entry)*s.cfg.RiskRewardRatio
}

// PositionSize risks RiskPerTrade of capital between entry and stop.
func (s *Strategy) PositionSize(signal types.Signal, availableCapital, price decimal.Decimal) float64 {
	if !signal.StopLoss.Valid || !availableCapital.IsPositive() || !price.IsPositive() {
		return 0
	}
	riskPerUnit := price.Sub(signal.StopLoss.Decimal).Abs()
	if riskPerUnit.IsZero() {
		return 0
	}
	fraction := decimal.NewFromFloat(s.cfg.RiskPerTrade).Mul(price).Div(riskPerUnit)
	return math.Min(fraction.InexactFloat64(), 1)
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
