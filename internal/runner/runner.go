package runner

import (
	"backtester/internal/engine"
	"backtester/types"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

var ErrInvalidJob = errors.New("invalid backtest job")

// Job describes one backtest: which bars to load and which strategy to replay
// them through.
type Job struct {
	Symbol   string
	Interval types.Interval
	Start    time.Time
	End      time.Time
	Strategy string
	Params   map[string]any
}

func (j Job) Validate() error {
	switch {
	case strings.TrimSpace(j.Symbol) == "":
		return fmt.Errorf("%w: symbol is required", ErrInvalidJob)
	case j.Strategy == "":
		return fmt.Errorf("%w: strategy is required", ErrInvalidJob)
	case j.Interval == "":
		return fmt.Errorf("%w: interval is required", ErrInvalidJob)
	case !j.End.After(j.Start):
		return fmt.Errorf("%w: end %s is not after start %s", ErrInvalidJob, j.End.Format(time.DateOnly), j.Start.Format(time.DateOnly))
	}
	return nil
}

func (j Job) String() string {
	return fmt.Sprintf("%s %s@%s %s..%s", j.Strategy, j.Symbol, j.Interval, j.Start.Format(time.DateOnly), j.End.Format(time.DateOnly))
}

// StrategyFactory builds a fresh strategy instance per job.
type StrategyFactory interface {
	Create(name string, params map[string]any) (engine.Strategy, error)
}

// ProgressFactory returns a progress sink for a run over total bars.
type ProgressFactory func(total int, description string) engine.Progress

type Runner struct {
	source     BarSource
	strategies StrategyFactory
	cfg        engine.Config
	logger     *slog.Logger
	results    ResultStore
	csv        *engine.CSVReporter
	progress   ProgressFactory
}

type Option func(*Runner)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithResultStore(store ResultStore) Option {
	return func(r *Runner) {
		r.results = store
	}
}

func WithCSVReporter(csv *engine.CSVReporter) Option {
	return func(r *Runner) {
		r.csv = csv
	}
}

func WithProgress(f ProgressFactory) Option {
	return func(r *Runner) {
		r.progress = f
	}
}

func New(source BarSource, strategies StrategyFactory, cfg engine.Config, opts ...Option) (*Runner, error) {
	if source == nil {
		return nil, errors.New("runner: bar source is required")
	}
	if strategies == nil {
		return nil, errors.New("runner: strategy factory is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Runner{
		source:     source,
		strategies: strategies,
		cfg:        cfg,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run loads the job's bars, replays them and persists the result to every
// configured sink. A cancelled run is still persisted.
func (r *Runner) Run(ctx context.Context, job Job) (*engine.Result, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	log := r.logger.With("symbol", job.Symbol, "strategy", job.Strategy, "interval", string(job.Interval))

	bars, err := r.source.LoadBars(ctx, job.Symbol, job.Interval, job.Start, job.End)
	if err != nil {
		return nil, fmt.Errorf("load bars for %s: %w", job, err)
	}
	strat, err := r.strategies.Create(job.Strategy, job.Params)
	if err != nil {
		return nil, fmt.Errorf("create strategy for %s: %w", job, err)
	}

	cfg := r.cfg
	cfg.Reporting.Interval = job.Interval
	opts := []engine.Option{engine.WithLogger(log)}
	if r.progress != nil {
		opts = append(opts, engine.WithProgress(r.progress(len(bars), job.Symbol)))
	}
	eng, err := engine.NewEngine(cfg, opts...)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := eng.Run(ctx, bars, strat)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", job, err)
	}
	log.Info("backtest finished",
		"run_id", res.RunID,
		"bars", len(bars),
		"trades", res.Trading.TotalTrades,
		"return_pct", res.Performance.TotalReturnPct,
		"cancelled", res.Cancelled,
		"elapsed", time.Since(start))

	if err := r.persist(ctx, res); err != nil {
		return res, err
	}
	return res, nil
}

func (r *Runner) persist(ctx context.Context, res *engine.Result) error {
	if r.results != nil {
		// Persist even when ctx is cancelled so partial results are kept.
		if err := r.results.SaveResult(context.WithoutCancel(ctx), res); err != nil {
			return fmt.Errorf("save result %s: %w", res.RunID, err)
		}
	}
	if r.csv != nil {
		if err := r.csv.AppendResult(res); err != nil {
			return fmt.Errorf("append csv for %s: %w", res.RunID, err)
		}
	}
	return nil
}

// RunMany runs jobs with at most limit in flight. Results keep the order of
// jobs. The first failure cancels the remaining jobs.
func (r *Runner) RunMany(ctx context.Context, jobs []Job, limit int) ([]*engine.Result, error) {
	results := make([]*engine.Result, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, job := range jobs {
		g.Go(func() error {
			res, err := r.Run(gctx, job)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
