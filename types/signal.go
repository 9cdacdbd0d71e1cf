package types

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInvalidSignal = errors.New("invalid signal")

type SignalKind string

const (
	SignalBuy        SignalKind = "BUY"
	SignalSell       SignalKind = "SELL"
	SignalHold       SignalKind = "HOLD"
	SignalCloseLong  SignalKind = "CLOSE_LONG"
	SignalCloseShort SignalKind = "CLOSE_SHORT"
)

// Signal is a strategy's decision for a single bar. Size is the fraction of
// equity to deploy and Confidence scales it under default sizing.
type Signal struct {
	Kind       SignalKind          `json:"kind"`
	Timestamp  time.Time           `json:"timestamp"`
	Price      decimal.Decimal     `json:"price"`
	Confidence float64             `json:"confidence"`
	Size       float64             `json:"size"`
	StopLoss   decimal.NullDecimal `json:"stopLoss"`
	TakeProfit decimal.NullDecimal `json:"takeProfit"`
	Reason     string              `json:"reason,omitempty"`
	Metadata   map[string]any      `json:"metadata,omitempty"`
}

func NewSignal(kind SignalKind, ts time.Time, price decimal.Decimal, size, confidence float64, reason string) Signal {
	return Signal{
		Kind:       kind,
		Timestamp:  ts,
		Price:      price,
		Size:       size,
		Confidence: confidence,
		Reason:     reason,
	}
}

func HoldSignal(ts time.Time, price decimal.Decimal) Signal {
	return Signal{Kind: SignalHold, Timestamp: ts, Price: price}
}

func (s Signal) WithStopLoss(price decimal.Decimal) Signal {
	s.StopLoss = decimal.NewNullDecimal(price)
	return s
}

func (s Signal) WithTakeProfit(price decimal.Decimal) Signal {
	s.TakeProfit = decimal.NewNullDecimal(price)
	return s
}

// Side reports the position side an entry signal asks for.
func (s Signal) Side() (Side, bool) {
	switch s.Kind {
	case SignalBuy:
		return SideLong, true
	case SignalSell:
		return SideShort, true
	}
	return "", false
}

func (s Signal) Validate() error {
	switch s.Kind {
	case SignalBuy, SignalSell, SignalHold, SignalCloseLong, SignalCloseShort:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSignal, s.Kind)
	}
	if !inUnitRange(s.Confidence) {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidSignal, s.Confidence)
	}
	if !inUnitRange(s.Size) {
		return fmt.Errorf("%w: size %v outside [0,1]", ErrInvalidSignal, s.Size)
	}
	if s.StopLoss.Valid && !s.StopLoss.Decimal.IsPositive() {
		return fmt.Errorf("%w: stop loss %s must be positive", ErrInvalidSignal, s.StopLoss.Decimal)
	}
	if s.TakeProfit.Valid && !s.TakeProfit.Decimal.IsPositive() {
		return fmt.Errorf("%w: take profit %s must be positive", ErrInvalidSignal, s.TakeProfit.Decimal)
	}
	return nil
}

func inUnitRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
