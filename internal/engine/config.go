package engine

import (
	"backtester/types"
	"fmt"

	"github.com/shopspring/decimal"
)

type ExecutionTiming string

const (
	// SameClose fills a decision at the close of the bar that produced it.
	SameClose ExecutionTiming = "SAME_CLOSE"
	// NextOpen fills a decision at the open of the following bar.
	NextOpen ExecutionTiming = "NEXT_OPEN"
)

type PortfolioConfig struct {
	InitialCash     decimal.Decimal `json:"initialCash"`
	CommissionRate  decimal.Decimal `json:"commissionRate"`
	AllowPyramiding bool            `json:"allowPyramiding"`
}

func NewPortfolioConfig(initialCash, commissionRate decimal.Decimal, allowPyramiding bool) PortfolioConfig {
	return PortfolioConfig{
		InitialCash:     initialCash,
		CommissionRate:  commissionRate,
		AllowPyramiding: allowPyramiding,
	}
}

type ExecutionConfig struct {
	Timing               ExecutionTiming `json:"timing"`
	WarmupPeriod         int             `json:"warmupPeriod"`
	SlippageRate         decimal.Decimal `json:"slippageRate"`
	StopLossPct          decimal.Decimal `json:"stopLossPct"`
	TakeProfitPct        decimal.Decimal `json:"takeProfitPct"`
	MaxPositionFraction  float64         `json:"maxPositionFraction"`
	AbortOnStrategyError bool            `json:"abortOnStrategyError"`
}

type ReportingConfig struct {
	Interval           types.Interval `json:"interval"`
	TradingDaysPerYear int            `json:"tradingDaysPerYear"`
	// PeriodsPerYear overrides the factor derived from Interval when > 0.
	PeriodsPerYear     float64 `json:"periodsPerYear"`
	SharpeRiskFreeRate float64 `json:"sharpeRiskFreeRate"`
}

type Config struct {
	Portfolio PortfolioConfig `json:"portfolio"`
	Execution ExecutionConfig `json:"execution"`
	Reporting ReportingConfig `json:"reporting"`
}

func DefaultConfig() Config {
	return Config{
		Portfolio: NewPortfolioConfig(decimal.NewFromInt(100_000), decimal.RequireFromString("0.001"), false),
		Execution: ExecutionConfig{
			Timing:              SameClose,
			WarmupPeriod:        100,
			SlippageRate:        decimal.Zero,
			MaxPositionFraction: 0.2,
		},
		Reporting: ReportingConfig{
			Interval:           types.Day,
			TradingDaysPerYear: 252,
		},
	}
}

func (c Config) Validate() error {
	switch {
	case !c.Portfolio.InitialCash.IsPositive():
		return fmt.Errorf("%w: initial cash must be positive", ErrInvalidConfig)
	case c.Portfolio.CommissionRate.IsNegative() || c.Portfolio.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return fmt.Errorf("%w: commission rate must be in [0,1)", ErrInvalidConfig)
	case c.Execution.SlippageRate.IsNegative() || c.Execution.SlippageRate.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return fmt.Errorf("%w: slippage rate must be in [0,1)", ErrInvalidConfig)
	case c.Execution.StopLossPct.IsNegative() || c.Execution.StopLossPct.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return fmt.Errorf("%w: stop loss pct must be in [0,1)", ErrInvalidConfig)
	case c.Execution.TakeProfitPct.IsNegative():
		return fmt.Errorf("%w: take profit pct must not be negative", ErrInvalidConfig)
	case c.Execution.WarmupPeriod < 0:
		return fmt.Errorf("%w: warmup period must not be negative", ErrInvalidConfig)
	case c.Execution.MaxPositionFraction <= 0 || c.Execution.MaxPositionFraction > 1:
		return fmt.Errorf("%w: max position fraction must be in (0,1]", ErrInvalidConfig)
	case c.Execution.Timing != SameClose && c.Execution.Timing != NextOpen:
		return fmt.Errorf("%w: unknown execution timing %q", ErrInvalidConfig, c.Execution.Timing)
	case c.Reporting.TradingDaysPerYear <= 0 && c.Reporting.PeriodsPerYear <= 0:
		return fmt.Errorf("%w: trading days per year must be positive", ErrInvalidConfig)
	}
	return nil
}

func (c ReportingConfig) periodsPerYear() float64 {
	if c.PeriodsPerYear > 0 {
		return c.PeriodsPerYear
	}
	return c.Interval.PeriodsPerYear(c.TradingDaysPerYear)
}
