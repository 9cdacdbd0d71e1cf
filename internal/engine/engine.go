package engine

import (
	"backtester/types"
	"context"
	"fmt"
	"log/slog"
)

type Engine struct {
	cfg      Config
	logger   *slog.Logger
	progress Progress
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithProgress(p Progress) Option {
	return func(e *Engine) {
		e.progress = p
	}
}

func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:    cfg,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Run replays bars through strat. A cancelled ctx yields a partial result with
// Cancelled set and a nil error.
func (e *Engine) Run(ctx context.Context, bars []types.Bar, strat Strategy) (*Result, error) {
	if strat == nil {
		return nil, ErrNilStrategy
	}
	if len(bars) == 0 || len(bars) <= e.cfg.Execution.WarmupPeriod {
		return nil, fmt.Errorf("%w: have %d bars, warmup is %d", ErrInsufficientData, len(bars), e.cfg.Execution.WarmupPeriod)
	}
	if err := validateBars(bars); err != nil {
		return nil, err
	}

	bt := newBacktester(e.cfg, bars, strat, e.logger, e.progress)
	if err := bt.run(ctx); err != nil {
		return nil, err
	}
	return bt.result(), nil
}

func validateBars(bars []types.Bar) error {
	symbol := bars[0].Symbol
	for i, bar := range bars {
		if err := bar.Validate(); err != nil {
			return &DataIntegrityError{Index: i, Timestamp: bar.Timestamp, Cause: err}
		}
		if bar.Symbol != symbol {
			return &DataIntegrityError{Index: i, Timestamp: bar.Timestamp, Cause: fmt.Errorf("%w: %q vs %q", errMixedSymbols, bar.Symbol, symbol)}
		}
		if i > 0 && !bar.Timestamp.After(bars[i-1].Timestamp) {
			return &DataIntegrityError{Index: i, Timestamp: bar.Timestamp, Cause: errNonIncreasingTimestamp}
		}
	}
	return nil
}
