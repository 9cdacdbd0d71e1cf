package donchian

import (
	"backtester/strategies/internal/indicator"
	"backtester/types"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const Name = "donchian"

// Config of the channel breakout. Period bars form the channel, excluding the
// current one.
type Config struct {
	Period        int     `mapstructure:"period"`
	ATRPeriod     int     `mapstructure:"atr_period"`
	ATRMultiplier float64 `mapstructure:"atr_multiplier"`
	Size          float64 `mapstructure:"size"`
	// LongOnly closes longs on a downside break instead of also trading shorts.
	LongOnly bool `mapstructure:"long_only"`
}

func DefaultConfig() Config {
	return Config{
		Period:        20,
		ATRPeriod:     20,
		ATRMultiplier: 2,
		Size:          1,
		LongOnly:      true,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Period < 1:
		return errors.New("donchian: period must be positive")
	case c.ATRPeriod < 1:
		return errors.New("donchian: atr_period must be positive")
	case c.ATRMultiplier < 0:
		return errors.New("donchian: atr_multiplier must not be negative")
	case c.Size <= 0 || c.Size > 1:
		return errors.New("donchian: size must be in (0,1]")
	}
	return nil
}

type Strategy struct {
	indicator.PositionTracker
	cfg Config
}

func New(cfg Config) (*Strategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Strategy{cfg: cfg}, nil
}

func (s *Strategy) Name() string { return Name }

func (s *Strategy) GenerateSignal(bars []types.Bar) (types.Signal, error) {
	if len(bars) < s.cfg.Period+1 {
		return indicator.Hold(bars, "insufficient data"), nil
	}
	candle := bars[len(bars)-1]
	channel := bars[len(bars)-1-s.cfg.Period : len(bars)-1]
	highestHigh, lowestLow := donchianHighLow(channel)

	up := candle.High.GreaterThan(highestHigh)
	down := candle.Low.LessThan(lowestLow)
	if up && down {
		return indicator.Hold(bars, "bar breaks both sides of the channel"), nil
	}

	atr := calcATR(indicator.Tail(bars, 5*s.cfg.ATRPeriod+1), s.cfg.ATRPeriod).Mul(decimal.NewFromFloat(s.cfg.ATRMultiplier))
	meta := map[string]any{
		"channel_high": highestHigh.InexactFloat64(),
		"channel_low":  lowestLow.InexactFloat64(),
	}

	switch {
	case up && s.IsShort():
		return s.signal(types.SignalCloseShort, candle, meta, fmt.Sprintf("break of %d-bar high %s", s.cfg.Period, highestHigh)), nil
	case up && s.IsFlat():
		sig := s.signal(types.SignalBuy, candle, meta, fmt.Sprintf("break of %d-bar high %s", s.cfg.Period, highestHigh))
		if stop := candle.Close.Sub(atr); atr.IsPositive() && stop.IsPositive() {
			sig = sig.WithStopLoss(stop)
		}
		return sig, nil
	case down && s.IsLong():
		return s.signal(types.SignalCloseLong, candle, meta, fmt.Sprintf("break of %d-bar low %s", s.cfg.Period, lowestLow)), nil
	case down && s.IsFlat() && !s.cfg.LongOnly:
		sig := s.signal(types.SignalSell, candle, meta, fmt.Sprintf("break of %d-bar low %s", s.cfg.Period, lowestLow))
		if atr.IsPositive() {
			sig = sig.WithStopLoss(candle.Close.Add(atr))
		}
		return sig, nil
	}
	return indicator.Hold(bars, "inside channel"), nil
}

func (s *Strategy) signal(kind types.SignalKind, candle types.Bar, meta map[string]any, reason string) types.Signal {
	sig := types.NewSignal(kind, candle.Timestamp, candle.Close, s.cfg.Size, 1, reason)
	sig.Metadata = meta
	return sig
}

// Utility: Donchian Channel High/Low
func donchianHighLow(candles []types.Bar) (decimal.Decimal, decimal.Decimal) {
	if len(candles) == 0 {
		return decimal.Zero, decimal.Zero
	}

	highest := candles[0].High
	lowest := candles[0].Low

	for _, c := range candles {
		if c.High.GreaterThan(highest) {
			highest = c.High
		}
		if c.Low.LessThan(lowest) {
			lowest = c.Low
		}
	}
	return highest, lowest
}

// calcATR is Wilder's average true range over the whole slice.
func calcATR(candles []types.Bar, period int) decimal.Decimal {
	if len(candles) < period+1 {
		return decimal.Zero // need enough data (prev candle + period)
	}

	trueRanges := make([]decimal.Decimal, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		high := candles[i].High
		low := candles[i].Low
		prevClose := candles[i-1].Close

		range1 := high.Sub(low)
		range2 := high.Sub(prevClose).Abs()
		range3 := low.Sub(prevClose).Abs()

		trueRanges = append(trueRanges, decimal.Max(range1, range2, range3))
	}

	atr := decimal.Zero
	for _, tr := range trueRanges[:period] {
		atr = atr.Add(tr)
	}
	atr = atr.Div(decimal.NewFromInt(int64(period)))

	for i := period; i < len(trueRanges); i++ {
		atr = (atr.Mul(decimal.NewFromInt(int64(period - 1))).Add(trueRanges[i])).
			Div(decimal.NewFromInt(int64(period)))
	}

	return atr
}
