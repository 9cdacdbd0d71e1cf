package repository

import (
	"backtester/types"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

var testInterval = types.OneMinute
var startTime = time.UnixMilli(0)
var endTime = startTime.Add(time.Minute * 5)

type mockCandlesRepository struct {
	sqlError error
	empty    bool
}

func TestDatabase_GetAggregates(t *testing.T) {
	type args struct {
		assetId  int
		interval types.Interval
		start    time.Time
		end      time.Time
	}
	tests := []struct {
		name    string
		args    args
		want    []types.Bar
		empty   bool
		sqlErr  error
		wantErr error
	}{
		{"should throw ErrNoCandles on empty result", args{999, testInterval, startTime, endTime}, nil, true, nil, ErrNoCandles},
		{"should throw ErrNoCandles on no rows", args{999, testInterval, startTime, endTime}, nil, false, pgx.ErrNoRows, ErrNoCandles},
		{"should throw ErrIntervalNotSupported", args{999, types.Month, startTime, endTime}, nil, false, nil, ErrIntervalNotSupported},
		{"should return bars", args{999, testInterval, startTime, endTime}, mockBars(startTime, endTime), false, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &Database{
				candles: mockCandlesRepository{
					sqlError: tt.sqlErr,
					empty:    tt.empty,
				},
			}
			got, err := db.GetAggregates(context.Background(), tt.args.assetId, "AAPL", tt.args.interval, tt.args.start, tt.args.end)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("GetAggregates() error = %v, wantErr %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetAggregates() unexpected error %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("GetAggregates() len = %d, want %d", len(got), len(tt.want))
			}
			for i := 0; i < len(tt.want); i++ {
				if got[i].Symbol != "AAPL" {
					t.Errorf("GetAggregates() %s symbol got = %v", got[i].Timestamp, got[i].Symbol)
					break
				}
				if got[i].Interval != tt.args.interval {
					t.Errorf("GetAggregates() %s interval got = %v, want %v", got[i].Timestamp, got[i].Interval, tt.want[i].Interval)
					break
				}
				if !got[i].High.Equal(tt.want[i].High) {
					t.Errorf("GetAggregates() %s high got = %v, want %v", got[i].Timestamp, got[i].High, tt.want[i].High)
					break
				}
				if !got[i].Timestamp.Equal(tt.want[i].Timestamp) {
					t.Errorf("GetAggregates() timestamp got = %v, want %v", got[i].Timestamp, tt.want[i].Timestamp)
					break
				}
			}
		})
	}
}

func TestDatabase_LoadBars(t *testing.T) {
	db := &Database{
		assets:  mockAssetsRepository{},
		candles: mockCandlesRepository{},
	}
	bars, err := db.LoadBars(context.Background(), "MSFT", testInterval, startTime, endTime)
	if err != nil {
		t.Fatalf("LoadBars() unexpected error %v", err)
	}
	if len(bars) != 5 {
		t.Fatalf("LoadBars() len = %d, want 5", len(bars))
	}
	if bars[0].Symbol != "MSFT" {
		t.Errorf("LoadBars() symbol = %s, want MSFT", bars[0].Symbol)
	}

	db.assets = mockAssetsRepository{sqlError: pgx.ErrNoRows}
	if _, err := db.LoadBars(context.Background(), "MSFT", testInterval, startTime, endTime); !errors.Is(err, ErrAssetNotFound) {
		t.Errorf("LoadBars() error = %v, want ErrAssetNotFound", err)
	}
}

func (m mockCandlesRepository) GetAggregates(_ context.Context, arg aggregatesParams) ([]aggregateRow, error) {
	if m.sqlError != nil {
		return []aggregateRow{}, m.sqlError
	}
	if m.empty {
		return nil, nil
	}
	var candles []aggregateRow
	i := arg.StartTime
	for i.Before(arg.EndTime) {
		candles = append(candles, aggregateRow{
			Bucket:  i,
			AssetID: arg.AssetID,
			Open:    decimal.NewFromInt(i.UnixMilli()),
			High:    decimal.NewFromInt(i.UnixMilli()),
			Low:     decimal.NewFromInt(i.UnixMilli()),
			Close:   decimal.NewFromInt(i.UnixMilli()),
			Volume:  decimal.NewFromInt(i.UnixMilli()),
		})
		i = i.Add(types.IntervalToTime[testInterval])
	}
	return candles, nil
}

func mockBars(start, end time.Time) []types.Bar {
	var bars []types.Bar
	i := start
	for i.Before(end) {
		bars = append(bars, types.Bar{
			Symbol:    "AAPL",
			Timestamp: i,
			Interval:  testInterval,
			Open:      decimal.NewFromInt(i.UnixMilli()),
			High:      decimal.NewFromInt(i.UnixMilli()),
			Low:       decimal.NewFromInt(i.UnixMilli()),
			Close:     decimal.NewFromInt(i.UnixMilli()),
			Volume:    decimal.NewFromInt(i.UnixMilli()),
		})
		i = i.Add(types.IntervalToTime[testInterval])
	}
	return bars
}
