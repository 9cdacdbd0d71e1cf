// Package multiindicator scores trend (EMA), momentum (RSI) and MACD histogram
// on a 0-100 scale per direction and enters when a score reaches MinScore.
package multiindicator

import (
	"backtester/strategies/internal/indicator"
	"backtester/types"
	"errors"
	"fmt"

	"github.com/markcheno/go-talib"
)

const Name = "multiindicator"

const (
	trendWeight    = 35
	momentumWeight = 30
	macdWeight     = 35
)

type Config struct {
	EMAPeriod  int     `mapstructure:"ema_period"`
	RSIPeriod  int     `mapstructure:"rsi_period"`
	MACDFast   int     `mapstructure:"macd_fast"`
	MACDSlow   int     `mapstructure:"macd_slow"`
	MACDSignal int     `mapstructure:"macd_signal"`
	Oversold   float64 `mapstructure:"oversold"`
	Overbought float64 `mapstructure:"overbought"`
	MinScore   float64 `mapstructure:"min_score"`
	Size       float64 `mapstructure:"size"`
	AllowShort bool    `mapstructure:"allow_short"`
}

func DefaultConfig() Config {
	return Config{
		EMAPeriod:  50,
		RSIPeriod:  14,
		MACDFast:   12,
		MACDSlow:   26,
		MACDSignal: 9,
		Oversold:   30,
		Overbought: 70,
		MinScore:   60,
		Size:       1,
	}
}

func (c Config) Validate() error {
	switch {
	case c.EMAPeriod < 2 || c.RSIPeriod < 2:
		return errors.New("multiindicator: ema_period and rsi_period must be at least 2")
	case c.MACDFast < 2 || c.MACDSlow <= c.MACDFast || c.MACDSignal < 1:
		return fmt.Errorf("multiindicator: invalid macd periods %d/%d/%d", c.MACDFast, c.MACDSlow, c.MACDSignal)
	case c.Oversold <= 0 || c.Overbought >= 100 || c.Oversold >= c.Overbought:
		return errors.New("multiindicator: need 0 < oversold < overbought < 100")
	case c.MinScore <= 0 || c.MinScore > 100:
		return errors.New("multiindicator: min_score must be in (0,100]")
	case c.Size <= 0 || c.Size > 1:
		return errors.New("multiindicator: size must be in (0,1]")
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

type score struct {
	bull, bear float64
	meta       map[string]any
}

func (s *Strategy) minBars() int {
	return max(s.cfg.EMAPeriod, s.cfg.MACDSlow+s.cfg.MACDSignal, s.cfg.RSIPeriod+1) + 1
}

func (s *Strategy) score(bars []types.Bar) (score, bool) {
	if len(bars) < s.minBars() {
		return score{}, false
	}
	closes := types.Closes(indicator.Tail(bars, 4*s.minBars()))
	ema := talib.Ema(closes, s.cfg.EMAPeriod)
	macd, _, hist := talib.Macd(closes, s.cfg.MACDFast, s.cfg.MACDSlow, s.cfg.MACDSignal)
	if !indicator.Ready(ema, s.cfg.EMAPeriod-1) || !indicator.Ready(macd, s.cfg.MACDSlow+s.cfg.MACDSignal-2) {
		return score{}, false
	}
	price := indicator.Last(closes)
	rsi := indicator.Last(talib.Rsi(closes, s.cfg.RSIPeriod))
	h := indicator.Last(hist)

	var sc score
	switch e := indicator.Last(ema); {
	case price > e:
		sc.bull += trendWeight
	case price < e:
		sc.bear += trendWeight
	}
	switch {
	case rsi < s.cfg.Oversold:
		sc.bull += momentumWeight
	case rsi > s.cfg.Overbought:
		sc.bear += momentumWeight
	case rsi >= 50:
		sc.bull += momentumWeight / 2
	default:
		sc.bear += momentumWeight / 2
	}
	switch {
	case h > 0:
		sc.bull += macdWeight
	case h < 0:
		sc.bear += macdWeight
	}
	sc.meta = map[string]any{
		"ema":        indicator.Last(ema),
		"rsi":        rsi,
		"macd_hist":  h,
		"bull_score": sc.bull,
		"bear_score": sc.bear,
	}
	return sc, true
}

func (s *Strategy) GenerateSignal(bars []types.Bar) (types.Signal, error) {
	sc, ok := s.score(bars)
	if !ok {
		return indicator.Hold(bars, "insufficient data"), nil
	}
	bar := bars[len(bars)-1]
	if s.IsFlat() {
		switch {
		case sc.bull >= s.cfg.MinScore && sc.bull > sc.bear:
			sig := types.NewSignal(types.SignalBuy, bar.Timestamp, bar.Close, s.cfg.Size, sc.bull/100, fmt.Sprintf("bull score %.0f", sc.bull))
			sig.Metadata = sc.meta
			return sig, nil
		case s.cfg.AllowShort && sc.bear >= s.cfg.MinScore && sc.bear > sc.bull:
			sig := types.NewSignal(types.SignalSell, bar.Timestamp, bar.Close, s.cfg.Size, sc.bear/100, fmt.Sprintf("bear score %.0f", sc.bear))
			sig.Metadata = sc.meta
			return sig, nil
		}
	}
	sig := indicator.Hold(bars, "score below threshold")
	sig.Metadata = sc.meta
	return sig, nil
}

// ShouldClosePosition exits once the opposite direction scores MinScore.
func (s *Strategy) ShouldClosePosition(pos types.Position, bars []types.Bar) bool {
	sc, ok := s.score(bars)
	if !ok {
		return false
	}
	if pos.Side == types.SideLong {
		return sc.bear >= s.cfg.MinScore
	}
	return sc.bull >= s.cfg.MinScore
}
