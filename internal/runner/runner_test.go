package runner

import (
	"backtester/internal/engine"
	"backtester/types"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeSource struct {
	closes   []float64
	err      error
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeSource) LoadBars(_ context.Context, symbol string, interval types.Interval, _, _ time.Time) ([]types.Bar, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(f.delay)
	if f.err != nil {
		return nil, f.err
	}
	bars := make([]types.Bar, 0, len(f.closes))
	for i, c := range f.closes {
		price := decimal.NewFromFloat(c)
		bars = append(bars, types.Bar{
			Symbol:    symbol,
			Interval:  interval,
			Timestamp: day0.AddDate(0, 0, i),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    decimal.NewFromInt(1),
		})
	}
	return bars, nil
}

// buyFirst buys on the first bar it sees and holds afterwards.
type buyFirst struct{ bought bool }

func (s *buyFirst) Name() string { return "buy-first" }

func (s *buyFirst) GenerateSignal(bars []types.Bar) (types.Signal, error) {
	bar := bars[len(bars)-1]
	if s.bought {
		return types.HoldSignal(bar.Timestamp, bar.Close), nil
	}
	s.bought = true
	return types.NewSignal(types.SignalBuy, bar.Timestamp, bar.Close, 1, 1, "first bar"), nil
}

type fakeFactory struct{}

func (fakeFactory) Create(name string, _ map[string]any) (engine.Strategy, error) {
	if name != "buy-first" {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return &buyFirst{}, nil
}

type memoryStore struct {
	mu    sync.Mutex
	saved map[string]*engine.Result
}

func (m *memoryStore) SaveResult(ctx context.Context, res *engine.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = map[string]*engine.Result{}
	}
	m.saved[res.RunID] = res
	return nil
}

func (m *memoryStore) GetResult(_ context.Context, id string) (*engine.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.saved[id]
	if !ok {
		return nil, ErrResultNotFound
	}
	return res, nil
}

func (m *memoryStore) ListResults(context.Context, int) ([]RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RunSummary
	for _, r := range m.saved {
		out = append(out, Summarize(r, time.Now()))
	}
	return out, nil
}

type countingProgress struct{ n atomic.Int32 }

func (c *countingProgress) Add(n int) error {
	c.n.Add(int32(n))
	return nil
}

func testConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.Portfolio.CommissionRate = decimal.Zero
	cfg.Execution.WarmupPeriod = 0
	cfg.Execution.MaxPositionFraction = 1
	return cfg
}

func testJob(symbol string) Job {
	return Job{Symbol: symbol, Interval: types.Day, Start: day0, End: day0.AddDate(0, 1, 0), Strategy: "buy-first"}
}

func TestRunner_RunPersists(t *testing.T) {
	src := &fakeSource{closes: []float64{100, 110, 120}}
	store := &memoryStore{}
	dir := t.TempDir()
	csv, err := engine.NewCSVReporter(dir)
	require.NoError(t, err)
	progress := &countingProgress{}
	var total int

	r, err := New(src, fakeFactory{}, testConfig(),
		WithResultStore(store),
		WithCSVReporter(csv),
		WithProgress(func(n int, _ string) engine.Progress { total = n; return progress }))
	require.NoError(t, err)

	res, err := r.Run(context.Background(), testJob("AAPL"))
	require.NoError(t, err)
	assert.Equal(t, "AAPL", res.Symbol)
	assert.Equal(t, 1, res.Trading.TotalTrades)
	assert.InDelta(t, 20.0, res.Performance.TotalReturnPct, 1e-9)
	assert.Equal(t, types.Day, res.Config.Reporting.Interval)

	saved, err := store.GetResult(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Same(t, res, saved)
	assert.FileExists(t, filepath.Join(dir, engine.TradesCSVFile))
	assert.Equal(t, 3, total)
	assert.EqualValues(t, 3, progress.n.Load())
}

func TestRunner_RunErrors(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name    string
		source  *fakeSource
		job     Job
		wantErr error
	}{
		{"missing symbol", &fakeSource{}, Job{Interval: types.Day, Start: day0, End: day0.AddDate(0, 0, 1), Strategy: "buy-first"}, ErrInvalidJob},
		{"empty range", &fakeSource{}, Job{Symbol: "A", Interval: types.Day, Start: day0, End: day0, Strategy: "buy-first"}, ErrInvalidJob},
		{"source failure", &fakeSource{err: boom}, testJob("A"), boom},
		{"too few bars", &fakeSource{}, testJob("A"), engine.ErrInsufficientData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(tt.source, fakeFactory{}, testConfig())
			require.NoError(t, err)
			_, err = r.Run(context.Background(), tt.job)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	r, err := New(&fakeSource{closes: []float64{1, 2}}, fakeFactory{}, testConfig())
	require.NoError(t, err)
	job := testJob("A")
	job.Strategy = "nope"
	_, err = r.Run(context.Background(), job)
	assert.ErrorContains(t, err, "unknown strategy")
}

func TestRunner_CancelledRunIsStillSaved(t *testing.T) {
	store := &memoryStore{}
	r, err := New(&fakeSource{closes: []float64{100, 101, 102}}, fakeFactory{}, testConfig(), WithResultStore(store))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := r.Run(ctx, testJob("AAPL"))
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	list, err := store.ListResults(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRunner_RunManyKeepsOrderAndLimit(t *testing.T) {
	src := &fakeSource{closes: []float64{100, 105, 110}, delay: 20 * time.Millisecond}
	r, err := New(src, fakeFactory{}, testConfig())
	require.NoError(t, err)

	jobs := []Job{testJob("A"), testJob("B"), testJob("C"), testJob("D"), testJob("E")}
	results, err := r.RunMany(context.Background(), jobs, 2)
	require.NoError(t, err)
	require.Len(t, results, len(jobs))
	for i, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, jobs[i].Symbol, res.Symbol)
	}
	assert.LessOrEqual(t, src.peak.Load(), int32(2))

	ids := map[string]bool{}
	for _, res := range results {
		ids[res.RunID] = true
	}
	assert.Len(t, ids, len(jobs), "run ids are unique")
}

func TestRunner_RunManyStopsOnError(t *testing.T) {
	r, err := New(&fakeSource{err: os.ErrNotExist}, fakeFactory{}, testConfig())
	require.NoError(t, err)
	_, err = r.RunMany(context.Background(), []Job{testJob("A"), testJob("B")}, 0)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNew_Validates(t *testing.T) {
	_, err := New(nil, fakeFactory{}, testConfig())
	assert.Error(t, err)
	cfg := testConfig()
	cfg.Portfolio.InitialCash = decimal.Zero
	_, err = New(&fakeSource{}, fakeFactory{}, cfg)
	assert.ErrorIs(t, err, engine.ErrInvalidConfig)
}

func TestSummarize(t *testing.T) {
	res := &engine.Result{RunID: "x", Symbol: "AAPL", Strategy: "s"}
	res.Performance.TotalReturnPct = 5
	res.Trading.TotalTrades = 2
	s := Summarize(res, day0)
	assert.Equal(t, RunSummary{RunID: "x", Symbol: "AAPL", Strategy: "s", TotalReturnPct: 5, TotalTrades: 2, CreatedAt: day0}, s)
}
