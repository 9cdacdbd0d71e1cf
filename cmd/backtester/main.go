package main

import (
	"backtester/internal/config"
	"backtester/internal/engine"
	"backtester/internal/logger"
	"backtester/internal/repository"
	"backtester/internal/runner"
	"backtester/internal/store"
	"backtester/strategies"
	"backtester/types"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
)

const usage = `usage: backtester [-config path] [command]

commands:
  run         replay every configured run (default)
  strategies  list registered strategies and their parameters
  results     list saved results, newest first
  symbols     list symbols stored in the parquet data dir
  sync        copy the bars of every configured run from postgres to parquet
`

func main() {
	configPath := flag.String("config", "backtest.yaml", "path to the YAML config")
	limit := flag.Int("limit", 20, "max rows for the results command")
	interval := flag.String("interval", "1d", "bar interval for the symbols command")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	lg := logger.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := "run"
	if flag.NArg() > 0 {
		cmd = flag.Arg(0)
	}
	switch cmd {
	case "run":
		err = runBacktests(ctx, cfg, lg)
	case "strategies":
		err = printJSON(strategies.Default().List())
	case "results":
		err = listResults(ctx, cfg, *limit)
	case "symbols":
		err = listSymbols(cfg, *interval)
	case "sync":
		err = syncBars(ctx, cfg, lg)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func runBacktests(ctx context.Context, cfg *config.Config, lg *slog.Logger) error {
	jobs, err := cfg.Jobs()
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return errors.New("no runs configured")
	}

	source, closeSource, err := openBarSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSource()

	opts := []runner.Option{runner.WithLogger(lg)}
	results, closeResults, err := openResultStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeResults()
	if results != nil {
		opts = append(opts, runner.WithResultStore(results))
	}
	if cfg.Results.CSVDir != "" {
		csv, err := engine.NewCSVReporter(cfg.Results.CSVDir)
		if err != nil {
			return err
		}
		opts = append(opts, runner.WithCSVReporter(csv))
	}
	// Several bars redrawing the same line are unreadable.
	if cfg.Runner.Progress && (cfg.Runner.Concurrency == 1 || len(jobs) == 1) {
		opts = append(opts, runner.WithProgress(func(total int, description string) engine.Progress {
			return initProgressBar(total, description)
		}))
	}

	r, err := runner.New(source, strategies.Default(), cfg.EngineConfig(), opts...)
	if err != nil {
		return err
	}
	res, err := r.RunMany(ctx, jobs, cfg.Runner.Concurrency)
	if err != nil {
		return err
	}
	for _, result := range res {
		engine.PrintReport(os.Stdout, result)
	}
	return nil
}

// openBarSource returns the configured bar source and a func releasing it.
func openBarSource(ctx context.Context, cfg *config.Config) (runner.BarSource, func(), error) {
	switch cfg.Data.Source {
	case config.SourcePostgres:
		db, err := repository.NewDatabase(ctx, cfg.Data.DBURL)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	default:
		return store.NewParquetStore(cfg.Data.Dir), func() {}, nil
	}
}

// openResultStore returns a nil store when results are not persisted.
func openResultStore(ctx context.Context, cfg *config.Config) (runner.ResultStore, func(), error) {
	switch cfg.Results.Store {
	case config.StoreSQLite:
		s, err := store.NewSQLiteStore(cfg.Results.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.StorePostgres:
		db, err := repository.NewDatabase(ctx, cfg.Data.DBURL)
		if err != nil {
			return nil, nil, err
		}
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return db, db.Close, nil
	default:
		return nil, func() {}, nil
	}
}

func listResults(ctx context.Context, cfg *config.Config, limit int) error {
	results, closeResults, err := openResultStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeResults()
	if results == nil {
		return errors.New("no result store configured")
	}
	summaries, err := results.ListResults(ctx, limit)
	if err != nil {
		return err
	}
	return printJSON(summaries)
}

func listSymbols(cfg *config.Config, interval string) error {
	iv, err := types.ParseInterval(interval)
	if err != nil {
		return err
	}
	symbols, err := store.NewParquetStore(cfg.Data.Dir).ListSymbols(iv)
	if err != nil {
		return err
	}
	return printJSON(symbols)
}

func syncBars(ctx context.Context, cfg *config.Config, lg *slog.Logger) error {
	jobs, err := cfg.Jobs()
	if err != nil {
		return err
	}
	db, err := repository.NewDatabase(ctx, cfg.Data.DBURL)
	if err != nil {
		return err
	}
	defer db.Close()
	pq := store.NewParquetStore(cfg.Data.Dir)

	for _, job := range jobs {
		bars, err := db.LoadBars(ctx, job.Symbol, job.Interval, job.Start, job.End)
		if err != nil {
			return fmt.Errorf("load %s: %w", job, err)
		}
		if err := pq.WriteBars(ctx, job.Interval, bars); err != nil {
			return fmt.Errorf("write %s: %w", job, err)
		}
		lg.Info("bars synced", "symbol", job.Symbol, "interval", string(job.Interval), "bars", len(bars))
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func initProgressBar(maxTicks int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(maxTicks,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}))
}
