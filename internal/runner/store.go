package runner

import (
	"backtester/internal/engine"
	"backtester/types"
	"context"
	"errors"
	"time"
)

var ErrResultNotFound = errors.New("backtest result not found")

// BarSource supplies historical bars ordered by timestamp, start inclusive,
// end exclusive.
type BarSource interface {
	LoadBars(ctx context.Context, symbol string, interval types.Interval, start, end time.Time) ([]types.Bar, error)
}

type ResultStore interface {
	SaveResult(ctx context.Context, res *engine.Result) error
	GetResult(ctx context.Context, runID string) (*engine.Result, error)
	ListResults(ctx context.Context, limit int) ([]RunSummary, error)
}

// RunSummary is the listing row kept next to each persisted result.
type RunSummary struct {
	RunID          string    `json:"runId"`
	Strategy       string    `json:"strategy"`
	Symbol         string    `json:"symbol"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	TotalReturnPct float64   `json:"totalReturnPct"`
	SharpeRatio    float64   `json:"sharpeRatio"`
	MaxDrawdownPct float64   `json:"maxDrawdownPct"`
	WinRatePct     float64   `json:"winRatePct"`
	TotalTrades    int       `json:"totalTrades"`
	Cancelled      bool      `json:"cancelled"`
	CreatedAt      time.Time `json:"createdAt"`
}

func Summarize(res *engine.Result, createdAt time.Time) RunSummary {
	return RunSummary{
		RunID:          res.RunID,
		Strategy:       res.Strategy,
		Symbol:         res.Symbol,
		Start:          res.Start,
		End:            res.End,
		TotalReturnPct: res.Performance.TotalReturnPct,
		SharpeRatio:    res.Performance.SharpeRatio,
		MaxDrawdownPct: res.Performance.MaxDrawdownPct,
		WinRatePct:     res.Trading.WinRatePct,
		TotalTrades:    res.Trading.TotalTrades,
		Cancelled:      res.Cancelled,
		CreatedAt:      createdAt,
	}
}
