package engine

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

const (
	TradesCSVFile = "backtest_trades.csv"
	DailyCSVFile  = "backtest_daily.csv"
)

var tradesHeader = []string{
	"run_id",
	"strategy",
	"symbol",
	"side",
	"entry_time", // RFC3339
	"entry_price",
	"exit_time",
	"exit_price",
	"size",
	"gross_pnl",
	"commission",
	"net_pnl",
	"return_pct",
	"duration_sec",
	"exit_reason",
}

var dailyHeader = []string{
	"run_id",
	"strategy",
	"symbol",
	"date",
	"day",
	"start_equity",
	"end_equity",
	"pnl",
	"return_pct",
	"cumulative_pnl",
	"cumulative_return_pct",
	"trades",
	"wins",
	"losses",
	"win_rate",
}

// CSVReporter appends every run to cumulative trade and daily CSV files in dir.
type CSVReporter struct {
	dir string
	mu  sync.Mutex
}

func NewCSVReporter(dir string) (*CSVReporter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create csv dir: %w", err)
	}
	return &CSVReporter{dir: dir}, nil
}

func (r *CSVReporter) AppendResult(res *Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := appendCSV(filepath.Join(r.dir, TradesCSVFile), func(w io.Writer, header bool) error {
		return writeTradesCSV(w, res, header)
	}); err != nil {
		return err
	}
	return appendCSV(filepath.Join(r.dir, DailyCSVFile), func(w io.Writer, header bool) error {
		return writeDailyCSV(w, res, header)
	})
}

func appendCSV(path string, write func(w io.Writer, header bool) error) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", filepath.Base(path), err)
	}
	return write(f, info.Size() == 0)
}

// writeTradesCSV writes one row per closed trade of res.
func writeTradesCSV(w io.Writer, res *Result, header bool) error {
	cw := csv.NewWriter(w)

	if header {
		if err := cw.Write(tradesHeader); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	for _, t := range res.Trades {
		record := []string{
			res.RunID,
			res.Strategy,
			t.Symbol,
			string(t.Side),
			t.EntryTime.Format(time.RFC3339),
			t.EntryPrice.String(),
			t.ExitTime.Format(time.RFC3339),
			t.ExitPrice.String(),
			t.Size.String(),
			t.GrossPnL.StringFixed(2),
			t.Commission.StringFixed(2),
			t.NetPnL.StringFixed(2),
			strconv.FormatFloat(t.ReturnPct, 'f', 4, 64),
			strconv.FormatInt(int64(t.Duration/time.Second), 10),
			string(t.ExitReason),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func writeDailyCSV(w io.Writer, res *Result, header bool) error {
	cw := csv.NewWriter(w)

	if header {
		if err := cw.Write(dailyHeader); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	for _, d := range res.Daily {
		record := []string{
			res.RunID,
			res.Strategy,
			res.Symbol,
			d.Date.Format("2006-01-02"),
			strconv.Itoa(d.Day),
			d.StartEquity.StringFixed(2),
			d.EndEquity.StringFixed(2),
			d.PnL.StringFixed(2),
			strconv.FormatFloat(d.ReturnPct, 'f', 4, 64),
			d.CumulativePnL.StringFixed(2),
			strconv.FormatFloat(d.CumulativeReturnPct, 'f', 4, 64),
			strconv.Itoa(d.Trades),
			strconv.Itoa(d.Wins),
			strconv.Itoa(d.Losses),
			strconv.FormatFloat(d.WinRatePct, 'f', 2, 64),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
