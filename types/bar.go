package types

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

var ErrMalformedBar = errors.New("malformed bar")

type Bar struct {
	Symbol    string          `json:"symbol"`
	Interval  Interval        `json:"interval"`
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// NewBarFromFloats converts raw float prices into a Bar. Non-finite values are
// rejected here because decimal cannot represent them.
func NewBarFromFloats(symbol string, ts time.Time, open, high, low, close, volume float64) (Bar, error) {
	for _, v := range []float64{open, high, low, close, volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Bar{}, fmt.Errorf("%w: %s at %s has non-finite value %v", ErrMalformedBar, symbol, ts.Format(time.RFC3339), v)
		}
	}
	return Bar{
		Symbol:    symbol,
		Timestamp: ts,
		Open:      decimal.NewFromFloat(open),
		High:      decimal.NewFromFloat(high),
		Low:       decimal.NewFromFloat(low),
		Close:     decimal.NewFromFloat(close),
		Volume:    decimal.NewFromFloat(volume),
	}, nil
}

// Validate checks the OHLC shape of a single bar.
func (b Bar) Validate() error {
	switch {
	case !b.Open.IsPositive() || !b.High.IsPositive() || !b.Low.IsPositive() || !b.Close.IsPositive():
		return fmt.Errorf("%w: prices must be positive", ErrMalformedBar)
	case b.High.LessThan(b.Low):
		return fmt.Errorf("%w: high %s below low %s", ErrMalformedBar, b.High, b.Low)
	case b.High.LessThan(b.Open) || b.High.LessThan(b.Close):
		return fmt.Errorf("%w: high %s does not bracket open/close", ErrMalformedBar, b.High)
	case b.Low.GreaterThan(b.Open) || b.Low.GreaterThan(b.Close):
		return fmt.Errorf("%w: low %s does not bracket open/close", ErrMalformedBar, b.Low)
	case b.Volume.IsNegative():
		return fmt.Errorf("%w: negative volume", ErrMalformedBar)
	}
	return nil
}

// Closes returns close prices as float64, the shape indicator libraries expect.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close.InexactFloat64()
	}
	return out
}

func Highs(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.High.InexactFloat64()
	}
	return out
}

func Lows(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Low.InexactFloat64()
	}
	return out
}
