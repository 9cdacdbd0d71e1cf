package engine

import (
	"backtester/types"
	"time"
)

type Result struct {
	RunID       string              `json:"runId"`
	Strategy    string              `json:"strategy"`
	Symbol      string              `json:"symbol"`
	Start       time.Time           `json:"start"`
	End         time.Time           `json:"end"`
	Cancelled   bool                `json:"cancelled"`
	Config      Config              `json:"config"`
	Performance PerformanceSummary  `json:"performance"`
	Trading     TradingSummary      `json:"trading"`
	Portfolio   PortfolioSummary    `json:"portfolio"`
	EquityCurve []types.EquityPoint `json:"equityCurve"`
	Trades      []types.Trade       `json:"trades"`
	Signals     []SignalRecord      `json:"signals"`
	Diagnostics []Diagnostic        `json:"diagnostics"`
	Daily       []DailyPerformance  `json:"daily"`
}
