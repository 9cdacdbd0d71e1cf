package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInsufficientCapital   = errors.New("insufficient capital")
	ErrPositionConflict      = errors.New("position already open for symbol")
	ErrNoPosition            = errors.New("no open position for symbol")
	ErrInvalidSize           = errors.New("size fraction must be in (0,1]")
	ErrInvalidPrice          = errors.New("price must be positive")
	ErrEquityAlreadyRecorded = errors.New("equity already recorded for timestamp")
	ErrInsufficientData      = errors.New("not enough bars for warmup")
	ErrInvalidConfig         = errors.New("invalid engine config")
	ErrNilStrategy           = errors.New("strategy is nil")
)

// DataIntegrityError aborts a run on a malformed or out-of-order bar.
type DataIntegrityError struct {
	Index     int
	Timestamp time.Time
	Cause     error
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity: bar %d at %s: %v", e.Index, e.Timestamp.Format(time.RFC3339), e.Cause)
}

func (e *DataIntegrityError) Unwrap() error { return e.Cause }

type StrategyError struct {
	Strategy  string
	Index     int
	Timestamp time.Time
	Cause     error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("strategy %s: bar %d at %s: %v", e.Strategy, e.Index, e.Timestamp.Format(time.RFC3339), e.Cause)
}

func (e *StrategyError) Unwrap() error { return e.Cause }

var (
	errNonIncreasingTimestamp = errors.New("timestamp does not increase")
	errMixedSymbols           = errors.New("bar symbol differs from series symbol")
)
