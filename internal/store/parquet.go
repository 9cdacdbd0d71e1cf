package store

import (
	"backtester/internal/runner"
	"backtester/types"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
)

var ErrNoBars = errors.New("no bars found in store")

var _ runner.BarSource = (*ParquetStore)(nil)

// ParquetStore keeps bars as one Parquet file per symbol and year:
//
//	<DataDir>/<interval>/<SYMBOL>/<YYYY>.parquet
type ParquetStore struct {
	DataDir string
}

func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// BarRecord is the on-disk schema. Prices stay float64 so files written by
// other tools load without conversion.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"`
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

// WriteBars merges bars into the year files of their symbol. Bars sharing a
// timestamp with stored ones replace them.
func (s *ParquetStore) WriteBars(_ context.Context, interval types.Interval, bars []types.Bar) error {
	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		k := key{symbol: strings.ToUpper(b.Symbol), year: b.Timestamp.UTC().Year()}
		groups[k] = append(groups[k], BarRecord{
			Symbol:    k.symbol,
			Timestamp: b.Timestamp.UnixMilli(),
			Open:      b.Open.InexactFloat64(),
			High:      b.High.InexactFloat64(),
			Low:       b.Low.InexactFloat64(),
			Close:     b.Close.InexactFloat64(),
			Volume:    b.Volume.InexactFloat64(),
		})
	}
	for k, records := range groups {
		path := s.barPath(k.symbol, interval, k.year)
		existing, err := readParquetFile[BarRecord](path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		if err := writeParquetFile(path, mergeBarRecords(existing, records)); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// LoadBars reads the bars of symbol within [start, end) ordered by timestamp.
func (s *ParquetStore) LoadBars(ctx context.Context, symbol string, interval types.Interval, start, end time.Time) ([]types.Bar, error) {
	symbol = strings.ToUpper(symbol)
	var bars []types.Bar
	for year := start.UTC().Year(); year <= end.UTC().Year(); year++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := s.barPath(symbol, interval, year)
		records, err := readParquetFile[BarRecord](path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(start) || !ts.Before(end) {
				continue
			}
			bar, err := types.NewBarFromFloats(symbol, ts, r.Open, r.High, r.Low, r.Close, r.Volume)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			bar.Interval = interval
			bars = append(bars, bar)
		}
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s %s: %w", symbol, interval, ErrNoBars)
	}
	slices.SortFunc(bars, func(a, b types.Bar) int { return a.Timestamp.Compare(b.Timestamp) })
	return bars, nil
}

// ListSymbols lists the symbols that have data for interval.
func (s *ParquetStore) ListSymbols(interval types.Interval) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.DataDir, string(interval)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	slices.Sort(symbols)
	return symbols, nil
}

func (s *ParquetStore) barPath(symbol string, interval types.Interval, year int) string {
	return filepath.Join(s.DataDir, string(interval), symbol, strconv.Itoa(year)+".parquet")
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return parquet.ReadFile[T](path)
}

// mergeBarRecords deduplicates by timestamp, preferring incoming records, and
// returns them sorted.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	seen := make(map[int64]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}
	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	slices.SortFunc(merged, func(a, b BarRecord) int {
		switch {
		case a.Timestamp < b.Timestamp:
			return -1
		case a.Timestamp > b.Timestamp:
			return 1
		}
		return 0
	})
	return merged
}
