package config

import (
	"backtester/internal/engine"
	"backtester/internal/runner"
	"backtester/types"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

const (
	SourceParquet  = "parquet"
	SourcePostgres = "postgres"

	StoreNone     = "none"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config is the top-level configuration of the backtester CLI.
type Config struct {
	Logging Logging `yaml:"logging"`
	Data    Data    `yaml:"data"`
	Results Results `yaml:"results"`
	Engine  Engine  `yaml:"engine"`
	Runner  Runner  `yaml:"runner"`
	Runs    []Run   `yaml:"runs"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Data selects where bars come from.
type Data struct {
	Source string `yaml:"source"`
	Dir    string `yaml:"dir"`
	DBURL  string `yaml:"db_url"`
}

type Results struct {
	Store      string `yaml:"store"`
	SQLitePath string `yaml:"sqlite_path"`
	CSVDir     string `yaml:"csv_dir"`
}

// Engine mirrors engine.Config with plain YAML types. Rates are fractions,
// 0.001 is 0.1%.
type Engine struct {
	InitialCash          float64 `yaml:"initial_cash"`
	CommissionRate       float64 `yaml:"commission_rate"`
	AllowPyramiding      bool    `yaml:"allow_pyramiding"`
	Timing               string  `yaml:"timing"`
	WarmupPeriod         int     `yaml:"warmup_period"`
	SlippageRate         float64 `yaml:"slippage_rate"`
	StopLossPct          float64 `yaml:"stop_loss_pct"`
	TakeProfitPct        float64 `yaml:"take_profit_pct"`
	MaxPositionFraction  float64 `yaml:"max_position_fraction"`
	AbortOnStrategyError bool    `yaml:"abort_on_strategy_error"`
	TradingDaysPerYear   int     `yaml:"trading_days_per_year"`
	PeriodsPerYear       float64 `yaml:"periods_per_year"`
	RiskFreeRate         float64 `yaml:"risk_free_rate"`
}

type Runner struct {
	Concurrency int  `yaml:"concurrency"`
	Progress    bool `yaml:"progress"`
}

// Run is one backtest job. Dates accept YYYY-MM-DD or RFC 3339.
type Run struct {
	Symbol   string         `yaml:"symbol"`
	Interval string         `yaml:"interval"`
	Start    string         `yaml:"start"`
	End      string         `yaml:"end"`
	Strategy string         `yaml:"strategy"`
	Params   map[string]any `yaml:"params"`
}

func Default() *Config {
	def := engine.DefaultConfig()
	return &Config{
		Logging: Logging{Level: "info", Format: "text"},
		Data:    Data{Source: SourceParquet, Dir: "data"},
		Results: Results{Store: StoreNone, SQLitePath: "data/results.db"},
		Engine: Engine{
			InitialCash:         def.Portfolio.InitialCash.InexactFloat64(),
			CommissionRate:      def.Portfolio.CommissionRate.InexactFloat64(),
			Timing:              string(def.Execution.Timing),
			WarmupPeriod:        def.Execution.WarmupPeriod,
			MaxPositionFraction: def.Execution.MaxPositionFraction,
			TradingDaysPerYear:  def.Reporting.TradingDaysPerYear,
		},
		Runner: Runner{Concurrency: 4, Progress: true},
	}
}

// Load reads the YAML file at path over the defaults and then applies
// environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("BACKTEST_DB_URL"); v != "" {
		cfg.Data.DBURL = v
	}
	if v := os.Getenv("BACKTEST_DATA_DIR"); v != "" {
		cfg.Data.Dir = v
	}
	if v := os.Getenv("BACKTEST_DATA_SOURCE"); v != "" {
		cfg.Data.Source = v
	}
	if v := os.Getenv("BACKTEST_RESULT_STORE"); v != "" {
		cfg.Results.Store = v
	}
	if v := os.Getenv("BACKTEST_CSV_DIR"); v != "" {
		cfg.Results.CSVDir = v
	}
	if v := os.Getenv("BACKTEST_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: BACKTEST_CONCURRENCY=%q", ErrInvalidConfig, v)
		}
		cfg.Runner.Concurrency = n
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Data.Source {
	case SourceParquet:
		if c.Data.Dir == "" {
			return fmt.Errorf("%w: data.dir is required for the parquet source", ErrInvalidConfig)
		}
	case SourcePostgres:
		if c.Data.DBURL == "" {
			return fmt.Errorf("%w: data.db_url is required for the postgres source", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown data source %q", ErrInvalidConfig, c.Data.Source)
	}
	switch c.Results.Store {
	case "", StoreNone:
	case StoreSQLite:
		if c.Results.SQLitePath == "" {
			return fmt.Errorf("%w: results.sqlite_path is required for the sqlite store", ErrInvalidConfig)
		}
	case StorePostgres:
		if c.Data.DBURL == "" {
			return fmt.Errorf("%w: data.db_url is required for the postgres store", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown result store %q", ErrInvalidConfig, c.Results.Store)
	}
	if c.Runner.Concurrency < 0 {
		return fmt.Errorf("%w: runner.concurrency must not be negative", ErrInvalidConfig)
	}
	if err := c.EngineConfig().Validate(); err != nil {
		return err
	}
	for i, r := range c.Runs {
		if _, err := r.Job(); err != nil {
			return fmt.Errorf("runs[%d]: %w", i, err)
		}
	}
	return nil
}

// EngineConfig converts the YAML engine section. The reporting interval is
// left empty and set per job.
func (c *Config) EngineConfig() engine.Config {
	e := c.Engine
	return engine.Config{
		Portfolio: engine.NewPortfolioConfig(
			decimal.NewFromFloat(e.InitialCash),
			decimal.NewFromFloat(e.CommissionRate),
			e.AllowPyramiding,
		),
		Execution: engine.ExecutionConfig{
			Timing:               engine.ExecutionTiming(strings.ToUpper(e.Timing)),
			WarmupPeriod:         e.WarmupPeriod,
			SlippageRate:         decimal.NewFromFloat(e.SlippageRate),
			StopLossPct:          decimal.NewFromFloat(e.StopLossPct),
			TakeProfitPct:        decimal.NewFromFloat(e.TakeProfitPct),
			MaxPositionFraction:  e.MaxPositionFraction,
			AbortOnStrategyError: e.AbortOnStrategyError,
		},
		Reporting: engine.ReportingConfig{
			TradingDaysPerYear: e.TradingDaysPerYear,
			PeriodsPerYear:     e.PeriodsPerYear,
			SharpeRiskFreeRate: e.RiskFreeRate,
		},
	}
}

// Jobs converts every configured run.
func (c *Config) Jobs() ([]runner.Job, error) {
	jobs := make([]runner.Job, 0, len(c.Runs))
	for i, r := range c.Runs {
		job, err := r.Job()
		if err != nil {
			return nil, fmt.Errorf("runs[%d]: %w", i, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (r Run) Job() (runner.Job, error) {
	interval, err := types.ParseInterval(r.Interval)
	if err != nil {
		return runner.Job{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	start, err := parseTime(r.Start)
	if err != nil {
		return runner.Job{}, fmt.Errorf("%w: start: %w", ErrInvalidConfig, err)
	}
	end, err := parseTime(r.End)
	if err != nil {
		return runner.Job{}, fmt.Errorf("%w: end: %w", ErrInvalidConfig, err)
	}
	job := runner.Job{
		Symbol:   strings.ToUpper(strings.TrimSpace(r.Symbol)),
		Interval: interval,
		Start:    start,
		End:      end,
		Strategy: r.Strategy,
		Params:   r.Params,
	}
	if err := job.Validate(); err != nil {
		return runner.Job{}, err
	}
	return job, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
