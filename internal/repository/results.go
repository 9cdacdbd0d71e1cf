package repository

import (
	"backtester/internal/engine"
	"backtester/internal/runner"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
)

var _ runner.ResultStore = (*Database)(nil)

// SaveResult persists the full result as JSON plus one row per trade.
func (db *Database) SaveResult(ctx context.Context, res *engine.Result) error {
	run, trades, err := toRunRows(res)
	if err != nil {
		return err
	}
	if err := db.results.InsertRun(ctx, run, trades); err != nil {
		return fmt.Errorf("insert run %s: %w", res.RunID, err)
	}
	return nil
}

func (db *Database) GetResult(ctx context.Context, runID string) (*engine.Result, error) {
	raw, err := db.results.GetRunResult(ctx, runID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", runID, runner.ErrResultNotFound)
		}
		return nil, err
	}
	var res engine.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return &res, nil
}

// ListResults returns the most recent runs first. A non-positive limit lists
// everything.
func (db *Database) ListResults(ctx context.Context, limit int) ([]runner.RunSummary, error) {
	if limit <= 0 || limit > math.MaxInt32 {
		limit = math.MaxInt32
	}
	rows, err := db.results.ListRuns(ctx, int32(limit))
	if err != nil {
		return nil, err
	}
	summaries := make([]runner.RunSummary, 0, len(rows))
	for _, r := range rows {
		summaries = append(summaries, runner.RunSummary{
			RunID:          r.ID,
			Strategy:       r.Strategy,
			Symbol:         r.Symbol,
			Start:          r.StartTime,
			End:            r.EndTime,
			TotalReturnPct: r.TotalReturnPct,
			SharpeRatio:    r.SharpeRatio,
			MaxDrawdownPct: r.MaxDrawdownPct,
			WinRatePct:     r.WinRatePct,
			TotalTrades:    int(r.TotalTrades),
			Cancelled:      r.Cancelled,
			CreatedAt:      r.CreatedAt,
		})
	}
	return summaries, nil
}

func toRunRows(res *engine.Result) (runRow, []tradeRow, error) {
	raw, err := json.Marshal(res)
	if err != nil {
		return runRow{}, nil, fmt.Errorf("encode run %s: %w", res.RunID, err)
	}
	run := runRow{
		ID:             res.RunID,
		Strategy:       res.Strategy,
		Symbol:         res.Symbol,
		StartTime:      res.Start,
		EndTime:        res.End,
		TotalReturnPct: res.Performance.TotalReturnPct,
		SharpeRatio:    res.Performance.SharpeRatio,
		MaxDrawdownPct: res.Performance.MaxDrawdownPct,
		WinRatePct:     res.Trading.WinRatePct,
		TotalTrades:    int32(res.Trading.TotalTrades),
		NetProfit:      res.Performance.NetProfit,
		Cancelled:      res.Cancelled,
		Result:         raw,
	}
	trades := make([]tradeRow, 0, len(res.Trades))
	for i, t := range res.Trades {
		trades = append(trades, tradeRow{
			Seq:        int32(i),
			Symbol:     t.Symbol,
			Side:       string(t.Side),
			EntryTime:  t.EntryTime,
			EntryPrice: t.EntryPrice,
			ExitTime:   t.ExitTime,
			ExitPrice:  t.ExitPrice,
			Size:       t.Size,
			GrossPnL:   t.GrossPnL,
			Commission: t.Commission,
			NetPnL:     t.NetPnL,
			ExitReason: string(t.ExitReason),
		})
	}
	return run, trades, nil
}
