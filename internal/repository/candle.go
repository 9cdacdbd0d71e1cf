package repository

import (
	"backtester/internal/runner"
	"backtester/types"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

var _ runner.BarSource = (*Database)(nil)

var bucketToInterval = map[types.Interval]string{
	types.OneMinute:     "1 minute",
	types.FiveMinutes:   "5 minutes",
	types.ThirtyMinutes: "30 minutes",
	types.Hour:          "1 hour",
	types.FourHours:     "4 hours",
	types.Day:           "1 day",
	types.Week:          "1 week",
}

// LoadBars aggregates the stored minute candles of symbol into interval buckets
// within [start, end).
func (db *Database) LoadBars(ctx context.Context, symbol string, interval types.Interval, start, end time.Time) ([]types.Bar, error) {
	asset, err := db.GetAssetByTicker(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return db.GetAggregates(ctx, asset.Id, asset.Ticker, interval, start, end)
}

func (db *Database) GetAggregates(ctx context.Context, assetId int, ticker string, interval types.Interval, start, end time.Time) ([]types.Bar, error) {
	bucket, ok := bucketToInterval[interval]
	if !ok {
		return nil, fmt.Errorf("%s: %w", interval, ErrIntervalNotSupported)
	}
	args := aggregatesParams{
		TimeBucket: bucket,
		AssetID:    int32(assetId),
		StartTime:  start,
		EndTime:    end,
	}
	candles, err := db.candles.GetAggregates(ctx, args)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoCandles
		}
		return nil, err
	}
	if len(candles) == 0 {
		return nil, ErrNoCandles
	}
	return convertCandles(candles, interval, ticker), nil
}

func convertCandles(rows []aggregateRow, interval types.Interval, ticker string) []types.Bar {
	bars := make([]types.Bar, 0, len(rows))
	for _, row := range rows {
		bars = append(bars, types.Bar{
			Symbol:    ticker,
			Interval:  interval,
			Timestamp: row.Bucket,
			Open:      row.Open,
			High:      row.High,
			Low:       row.Low,
			Close:     row.Close,
			Volume:    row.Volume,
		})
	}
	return bars
}
