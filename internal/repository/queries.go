package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const getAssetByTicker = `
SELECT id, ticker, name, type, created_at, modified_at
FROM assets
WHERE ticker = $1`

const getAggregates = `
SELECT time_bucket($1::interval, timestamp) AS bucket,
       asset_id,
       first(open, timestamp)  AS open,
       max(high)               AS high,
       min(low)                AS low,
       last(close, timestamp)  AS close,
       sum(volume)             AS volume
FROM candles
WHERE asset_id = $2
  AND timestamp >= $3
  AND timestamp < $4
GROUP BY bucket, asset_id
ORDER BY bucket`

const createResultTables = `
CREATE TABLE IF NOT EXISTS backtest_runs (
    id               TEXT PRIMARY KEY,
    strategy         TEXT             NOT NULL,
    symbol           TEXT             NOT NULL,
    start_time       TIMESTAMPTZ      NOT NULL,
    end_time         TIMESTAMPTZ      NOT NULL,
    total_return_pct DOUBLE PRECISION NOT NULL,
    sharpe_ratio     DOUBLE PRECISION NOT NULL,
    max_drawdown_pct DOUBLE PRECISION NOT NULL,
    win_rate_pct     DOUBLE PRECISION NOT NULL,
    total_trades     INTEGER          NOT NULL,
    net_profit       NUMERIC          NOT NULL,
    cancelled        BOOLEAN          NOT NULL,
    result           JSONB            NOT NULL,
    created_at       TIMESTAMPTZ      NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS backtest_trades (
    run_id      TEXT        NOT NULL REFERENCES backtest_runs (id) ON DELETE CASCADE,
    seq         INTEGER     NOT NULL,
    symbol      TEXT        NOT NULL,
    side        TEXT        NOT NULL,
    entry_time  TIMESTAMPTZ NOT NULL,
    entry_price NUMERIC     NOT NULL,
    exit_time   TIMESTAMPTZ NOT NULL,
    exit_price  NUMERIC     NOT NULL,
    size        NUMERIC     NOT NULL,
    gross_pnl   NUMERIC     NOT NULL,
    commission  NUMERIC     NOT NULL,
    net_pnl     NUMERIC     NOT NULL,
    exit_reason TEXT        NOT NULL,
    PRIMARY KEY (run_id, seq)
)`

const insertRun = `
INSERT INTO backtest_runs (id, strategy, symbol, start_time, end_time, total_return_pct, sharpe_ratio,
                           max_drawdown_pct, win_rate_pct, total_trades, net_profit, cancelled, result)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

const getRunResult = `SELECT result FROM backtest_runs WHERE id = $1`

const listRuns = `
SELECT id, strategy, symbol, start_time, end_time, total_return_pct, sharpe_ratio,
       max_drawdown_pct, win_rate_pct, total_trades, cancelled, created_at
FROM backtest_runs
ORDER BY created_at DESC
LIMIT $1`

var tradeColumns = []string{
	"run_id", "seq", "symbol", "side", "entry_time", "entry_price", "exit_time", "exit_price",
	"size", "gross_pnl", "commission", "net_pnl", "exit_reason",
}

type assetRow struct {
	ID         int32
	Ticker     string
	Name       string
	Type       string
	CreatedAt  *time.Time
	ModifiedAt *time.Time
}

type aggregatesParams struct {
	TimeBucket string
	AssetID    int32
	StartTime  time.Time
	EndTime    time.Time
}

type aggregateRow struct {
	Bucket  time.Time
	AssetID int32
	Open    decimal.Decimal
	High    decimal.Decimal
	Low     decimal.Decimal
	Close   decimal.Decimal
	Volume  decimal.Decimal
}

type runRow struct {
	ID             string
	Strategy       string
	Symbol         string
	StartTime      time.Time
	EndTime        time.Time
	TotalReturnPct float64
	SharpeRatio    float64
	MaxDrawdownPct float64
	WinRatePct     float64
	TotalTrades    int32
	NetProfit      decimal.Decimal
	Cancelled      bool
	Result         []byte
}

type tradeRow struct {
	Seq        int32
	Symbol     string
	Side       string
	EntryTime  time.Time
	EntryPrice decimal.Decimal
	ExitTime   time.Time
	ExitPrice  decimal.Decimal
	Size       decimal.Decimal
	GrossPnL   decimal.Decimal
	Commission decimal.Decimal
	NetPnL     decimal.Decimal
	ExitReason string
}

type runSummaryRow struct {
	ID             string
	Strategy       string
	Symbol         string
	StartTime      time.Time
	EndTime        time.Time
	TotalReturnPct float64
	SharpeRatio    float64
	MaxDrawdownPct float64
	WinRatePct     float64
	TotalTrades    int32
	Cancelled      bool
	CreatedAt      time.Time
}

// queries runs the hand-written statements above against a pool.
type queries struct {
	pool *pgxpool.Pool
}

func (q *queries) GetAssetByTicker(ctx context.Context, ticker string) (assetRow, error) {
	var a assetRow
	err := q.pool.QueryRow(ctx, getAssetByTicker, ticker).
		Scan(&a.ID, &a.Ticker, &a.Name, &a.Type, &a.CreatedAt, &a.ModifiedAt)
	return a, err
}

func (q *queries) GetAggregates(ctx context.Context, arg aggregatesParams) ([]aggregateRow, error) {
	rows, err := q.pool.Query(ctx, getAggregates, arg.TimeBucket, arg.AssetID, arg.StartTime, arg.EndTime)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[aggregateRow])
}

func (q *queries) CreateResultTables(ctx context.Context) error {
	_, err := q.pool.Exec(ctx, createResultTables)
	return err
}

// InsertRun stores the run row and bulk-copies its trades in one transaction.
func (q *queries) InsertRun(ctx context.Context, run runRow, trades []tradeRow) error {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, insertRun,
		run.ID, run.Strategy, run.Symbol, run.StartTime, run.EndTime, run.TotalReturnPct, run.SharpeRatio,
		run.MaxDrawdownPct, run.WinRatePct, run.TotalTrades, run.NetProfit, run.Cancelled, run.Result,
	); err != nil {
		return err
	}
	if len(trades) > 0 {
		_, err = tx.CopyFrom(ctx, pgx.Identifier{"backtest_trades"}, tradeColumns,
			pgx.CopyFromSlice(len(trades), func(i int) ([]any, error) {
				t := trades[i]
				return []any{
					run.ID, t.Seq, t.Symbol, t.Side, t.EntryTime, t.EntryPrice, t.ExitTime, t.ExitPrice,
					t.Size, t.GrossPnL, t.Commission, t.NetPnL, t.ExitReason,
				}, nil
			}))
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (q *queries) GetRunResult(ctx context.Context, id string) ([]byte, error) {
	var raw []byte
	err := q.pool.QueryRow(ctx, getRunResult, id).Scan(&raw)
	return raw, err
}

func (q *queries) ListRuns(ctx context.Context, limit int32) ([]runSummaryRow, error) {
	rows, err := q.pool.Query(ctx, listRuns, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[runSummaryRow])
}
