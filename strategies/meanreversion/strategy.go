// Package meanreversion buys closes below the lower Bollinger band while RSI is
// oversold and exits when price reverts to the middle band.
package meanreversion

import (
	"backtester/strategies/internal/indicator"
	"backtester/types"
	"errors"
	"fmt"

	"github.com/markcheno/go-talib"
)

const Name = "meanreversion"

type Config struct {
	BBPeriod   int     `mapstructure:"bb_period"`
	BBStdDev   float64 `mapstructure:"bb_std_dev"`
	RSIPeriod  int     `mapstructure:"rsi_period"`
	Oversold   float64 `mapstructure:"oversold"`
	Overbought float64 `mapstructure:"overbought"`
	Size       float64 `mapstructure:"size"`
	AllowShort bool    `mapstructure:"allow_short"`
	// ExitAtMiddle closes on a touch of the middle band rather than waiting for
	// the opposite band.
	ExitAtMiddle bool `mapstructure:"exit_at_middle"`
}

func DefaultConfig() Config {
	return Config{
		BBPeriod:     20,
		BBStdDev:     2,
		RSIPeriod:    14,
		Oversold:     30,
		Overbought:   70,
		Size:         1,
		ExitAtMiddle: true,
	}
}

func (c Config) Validate() error {
	switch {
	case c.BBPeriod < 2:
		return errors.New("meanreversion: bb_period must be at least 2")
	case c.BBStdDev <= 0:
		return errors.New("meanreversion: bb_std_dev must be positive")
	case c.RSIPeriod < 2:
		return errors.New("meanreversion: rsi_period must be at least 2")
	case c.Oversold <= 0 || c.Overbought >= 100 || c.Oversold >= c.Overbought:
		return fmt.Errorf("meanreversion: need 0 < oversold (%v) < overbought (%v) < 100", c.Oversold, c.Overbought)
	case c.Size <= 0 || c.Size > 1:
		return errors.New("meanreversion: size must be in (0,1]")
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

func (s *Strategy) lookback() int {
	return max(s.cfg.BBPeriod, 4*s.cfg.RSIPeriod) + 1
}

func (s *Strategy) GenerateSignal(bars []types.Bar) (types.Signal, error) {
	if len(bars) < max(s.cfg.BBPeriod, s.cfg.RSIPeriod+1)+1 {
		return indicator.Hold(bars, "insufficient data"), nil
	}
	closes := types.Closes(indicator.Tail(bars, s.lookback()))
	upper, middle, lower := talib.BBands(closes, s.cfg.BBPeriod, s.cfg.BBStdDev, s.cfg.BBStdDev, talib.SMA)
	rsiSeries := talib.Rsi(closes, s.cfg.RSIPeriod)
	if !indicator.Ready(middle, s.cfg.BBPeriod-1) || !indicator.Ready(rsiSeries, s.cfg.RSIPeriod) {
		return indicator.Hold(bars, "indicators warming up"), nil
	}

	price := indicator.Last(closes)
	up, mid, low := indicator.Last(upper), indicator.Last(middle), indicator.Last(lower)
	rsi := indicator.Last(rsiSeries)
	meta := map[string]any{"rsi": rsi, "bb_upper": up, "bb_middle": mid, "bb_lower": low}

	oversold := price < low && rsi < s.cfg.Oversold
	overbought := price > up && rsi > s.cfg.Overbought

	switch {
	case s.IsLong() && (overbought || (s.cfg.ExitAtMiddle && price >= mid)):
		return s.signal(bars, types.SignalCloseLong, 1, meta, "price reverted to the mean"), nil
	case s.IsShort() && (oversold || (s.cfg.ExitAtMiddle && price <= mid)):
		return s.signal(bars, types.SignalCloseShort, 1, meta, "price reverted to the mean"), nil
	case s.IsFlat() && oversold:
		conf := indicator.Clamp01(0.5 + (s.cfg.Oversold-rsi)/(2*s.cfg.Oversold))
		return s.signal(bars, types.SignalBuy, conf, meta, fmt.Sprintf("close below lower band, RSI %.1f", rsi)), nil
	case s.IsFlat() && overbought && s.cfg.AllowShort:
		conf := indicator.Clamp01(0.5 + (rsi-s.cfg.Overbought)/(2*(100-s.cfg.Overbought)))
		return s.signal(bars, types.SignalSell, conf, meta, fmt.Sprintf("close above upper band, RSI %.1f", rsi)), nil
	}
	sig := indicator.Hold(bars, "no setup")
	sig.Metadata = meta
	return sig, nil
}

func (s *Strategy) signal(bars []types.Bar, kind types.SignalKind, confidence float64, meta map[string]any, reason string) types.Signal {
	bar := bars[len(bars)-1]
	sig := types.NewSignal(kind, bar.Timestamp, bar.Close, s.cfg.Size, confidence, reason)
	sig.Metadata = meta
	return sig
}
