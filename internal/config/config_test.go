package config

import (
	"backtester/internal/engine"
	"backtester/types"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backtest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
data:
  source: parquet
  dir: /tmp/bars
results:
  store: sqlite
  sqlite_path: /tmp/runs.db
  csv_dir: /tmp/reports
engine:
  initial_cash: 50000
  commission_rate: 0.0005
  timing: next_open
  warmup_period: 20
  stop_loss_pct: 0.02
  max_position_fraction: 0.5
runner:
  concurrency: 2
runs:
  - symbol: aapl
    interval: 1d
    start: "2023-01-01"
    end: "2024-01-01"
    strategy: donchian
    params:
      period: 55
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/tmp/bars", cfg.Data.Dir)
	assert.Equal(t, StoreSQLite, cfg.Results.Store)
	assert.Equal(t, 2, cfg.Runner.Concurrency)
	assert.True(t, cfg.Runner.Progress, "unset keys keep their defaults")

	ec := cfg.EngineConfig()
	assert.True(t, ec.Portfolio.InitialCash.Equal(decimal.NewFromInt(50000)))
	assert.True(t, ec.Portfolio.CommissionRate.Equal(decimal.RequireFromString("0.0005")))
	assert.Equal(t, engine.NextOpen, ec.Execution.Timing)
	assert.Equal(t, 20, ec.Execution.WarmupPeriod)
	assert.True(t, ec.Execution.StopLossPct.Equal(decimal.RequireFromString("0.02")))
	assert.Equal(t, 252, ec.Reporting.TradingDaysPerYear)

	jobs, err := cfg.Jobs()
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "AAPL", jobs[0].Symbol)
	assert.Equal(t, types.Day, jobs[0].Interval)
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), jobs[0].Start)
	assert.Equal(t, 55, jobs[0].Params["period"])
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "data:\n  source: parquet\n")
	t.Setenv("BACKTEST_DATA_SOURCE", "postgres")
	t.Setenv("BACKTEST_DB_URL", "postgres://localhost/market")
	t.Setenv("BACKTEST_DATA_DIR", "/data")
	t.Setenv("BACKTEST_CONCURRENCY", "8")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, SourcePostgres, cfg.Data.Source)
	assert.Equal(t, "postgres://localhost/market", cfg.Data.DBURL)
	assert.Equal(t, "/data", cfg.Data.Dir)
	assert.Equal(t, 8, cfg.Runner.Concurrency)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_BadEnvAndFiles(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeConfig(t, "engine: [not, a, map]"))
	assert.Error(t, err)

	t.Setenv("BACKTEST_CONCURRENCY", "many")
	_, err = Load(writeConfig(t, ""))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
	}{
		{"defaults", func(*Config) {}, nil},
		{"unknown source", func(c *Config) { c.Data.Source = "s3" }, ErrInvalidConfig},
		{"postgres without url", func(c *Config) { c.Data.Source = SourcePostgres }, ErrInvalidConfig},
		{"postgres store without url", func(c *Config) { c.Results.Store = StorePostgres }, ErrInvalidConfig},
		{"unknown store", func(c *Config) { c.Results.Store = "redis" }, ErrInvalidConfig},
		{"bad engine", func(c *Config) { c.Engine.InitialCash = 0 }, engine.ErrInvalidConfig},
		{"bad timing", func(c *Config) { c.Engine.Timing = "whenever" }, engine.ErrInvalidConfig},
		{"bad interval", func(c *Config) {
			c.Runs = []Run{{Symbol: "A", Interval: "7x", Start: "2024-01-01", End: "2024-02-01", Strategy: "s"}}
		}, ErrInvalidConfig},
		{"bad date", func(c *Config) {
			c.Runs = []Run{{Symbol: "A", Interval: "D", Start: "01/01/2024", End: "2024-02-01", Strategy: "s"}}
		}, ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRun_JobAcceptsRFC3339(t *testing.T) {
	job, err := Run{Symbol: "btc", Interval: "60", Start: "2024-01-01T00:00:00Z", End: "2024-01-02T12:00:00Z", Strategy: "breakout"}.Job()
	require.NoError(t, err)
	assert.Equal(t, types.Hour, job.Interval)
	assert.Equal(t, 36*time.Hour, job.End.Sub(job.Start))
}
