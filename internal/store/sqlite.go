package store

import (
	"backtester/internal/engine"
	"backtester/internal/runner"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var _ runner.ResultStore = (*SQLiteStore)(nil)

// SQLiteStore keeps backtest results in a single SQLite file. The full result is
// stored as JSON next to the columns used for listing.
type SQLiteStore struct {
	mu  sync.Mutex
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureResultSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureResultSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS backtest_runs (
			id TEXT PRIMARY KEY,
			strategy TEXT NOT NULL,
			symbol TEXT NOT NULL,
			start_ts INTEGER NOT NULL,
			end_ts INTEGER NOT NULL,
			total_return_pct REAL NOT NULL,
			sharpe_ratio REAL NOT NULL,
			max_drawdown_pct REAL NOT NULL,
			win_rate_pct REAL NOT NULL,
			total_trades INTEGER NOT NULL,
			cancelled INTEGER NOT NULL,
			result_json TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_backtest_runs_created ON backtest_runs(created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure result schema: %w", err)
		}
	}
	return nil
}

// SaveResult inserts the result, replacing any earlier row with the same run id.
func (s *SQLiteStore) SaveResult(ctx context.Context, res *engine.Result) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", res.RunID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return sql.ErrConnDone
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO backtest_runs (id, strategy, symbol, start_ts, end_ts, total_return_pct, sharpe_ratio,
			max_drawdown_pct, win_rate_pct, total_trades, cancelled, result_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RunID, res.Strategy, res.Symbol, res.Start.UnixMilli(), res.End.UnixMilli(),
		res.Performance.TotalReturnPct, res.Performance.SharpeRatio, res.Performance.MaxDrawdownPct,
		res.Trading.WinRatePct, res.Trading.TotalTrades, res.Cancelled, string(raw), s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", res.RunID, err)
	}
	return nil
}

func (s *SQLiteStore) GetResult(ctx context.Context, runID string) (*engine.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, sql.ErrConnDone
	}
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT result_json FROM backtest_runs WHERE id = ?`, runID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", runID, runner.ErrResultNotFound)
		}
		return nil, err
	}
	var res engine.Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return &res, nil
}

// ListResults returns the newest runs first; limit <= 0 returns all of them.
func (s *SQLiteStore) ListResults(ctx context.Context, limit int) ([]runner.RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, sql.ErrConnDone
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, strategy, symbol, start_ts, end_ts, total_return_pct, sharpe_ratio,
			max_drawdown_pct, win_rate_pct, total_trades, cancelled, created_at
		FROM backtest_runs
		ORDER BY created_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []runner.RunSummary
	for rows.Next() {
		var (
			r                       runner.RunSummary
			startMs, endMs, created int64
		)
		if err := rows.Scan(&r.RunID, &r.Strategy, &r.Symbol, &startMs, &endMs, &r.TotalReturnPct, &r.SharpeRatio,
			&r.MaxDrawdownPct, &r.WinRatePct, &r.TotalTrades, &r.Cancelled, &created); err != nil {
			return nil, err
		}
		r.Start = time.UnixMilli(startMs).UTC()
		r.End = time.UnixMilli(endMs).UTC()
		r.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
