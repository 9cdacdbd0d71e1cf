package engine

import (
	"backtester/types"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ProfitFactor is gross profit over gross loss. Infinite marks a run with
// profits and no losses; the zero value means there is nothing to divide.
type ProfitFactor struct {
	Value    float64
	Infinite bool
}

func (p ProfitFactor) String() string {
	if p.Infinite {
		return "inf"
	}
	return strconv.FormatFloat(p.Value, 'f', 2, 64)
}

func (p ProfitFactor) MarshalJSON() ([]byte, error) {
	if p.Infinite {
		return []byte(`"inf"`), nil
	}
	return json.Marshal(p.Value)
}

func (p *ProfitFactor) UnmarshalJSON(data []byte) error {
	if string(data) == `"inf"` {
		*p = ProfitFactor{Infinite: true}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("profit factor: %w", err)
	}
	*p = ProfitFactor{Value: v}
	return nil
}

type PerformanceSummary struct {
	InitialCash    decimal.Decimal `json:"initialCash"`
	FinalEquity    decimal.Decimal `json:"finalEquity"`
	NetProfit      decimal.Decimal `json:"netProfit"`
	TotalReturnPct float64         `json:"totalReturnPct"`
	CAGR           float64         `json:"cagr"`

	// Risk-adjusted metrics
	SharpeRatio    float64 `json:"sharpeRatio"`
	SortinoRatio   float64 `json:"sortinoRatio"`
	PeriodsPerYear float64 `json:"periodsPerYear"`

	// Drawdown values are <= 0.
	MaxDrawdown         decimal.Decimal `json:"maxDrawdown"`
	MaxDrawdownPct      float64         `json:"maxDrawdownPct"`
	MaxDrawdownDuration time.Duration   `json:"maxDrawdownDuration"`

	// ExposurePct is the share of recorded bars with an open position.
	ExposurePct float64 `json:"exposurePct"`
}

type TradingSummary struct {
	TotalTrades   int          `json:"totalTrades"`
	WinningTrades int          `json:"winningTrades"`
	LosingTrades  int          `json:"losingTrades"`
	WinRatePct    float64      `json:"winRatePct"`
	ProfitFactor  ProfitFactor `json:"profitFactor"`

	GrossProfit decimal.Decimal `json:"grossProfit"`
	GrossLoss   decimal.Decimal `json:"grossLoss"`
	AvgWin      decimal.Decimal `json:"avgWin"`
	AvgLoss     decimal.Decimal `json:"avgLoss"`
	AvgTrade    decimal.Decimal `json:"avgTrade"`
	LargestWin  decimal.Decimal `json:"largestWin"`
	LargestLoss decimal.Decimal `json:"largestLoss"`

	MaxConsecutiveLosses int             `json:"maxConsecutiveLosses"`
	AvgHoldingDuration   time.Duration   `json:"avgHoldingDuration"`
	TotalCommission      decimal.Decimal `json:"totalCommission"`
}

type reportInput struct {
	initialCash decimal.Decimal
	finalEquity decimal.Decimal
	curve       []types.EquityPoint
	trades      []types.Trade
	cfg         ReportingConfig
}

func generateReport(in reportInput) (PerformanceSummary, TradingSummary) {
	ppy := in.cfg.periodsPerYear()
	perf := PerformanceSummary{
		InitialCash:    in.initialCash,
		FinalEquity:    in.finalEquity,
		NetProfit:      in.finalEquity.Sub(in.initialCash),
		TotalReturnPct: pctChange(in.initialCash, in.finalEquity),
		PeriodsPerYear: ppy,
	}
	trading := TradingSummary{TotalTrades: len(in.trades)}
	returns := calcPeriodicReturns(in.curve)

	var wg sync.WaitGroup
	wg.Add(8)
	go func() {
		defer wg.Done()
		perf.CAGR = calcCAGR(in.curve)
	}()
	go func() {
		defer wg.Done()
		perf.SharpeRatio = calcSharpeRatio(returns, in.cfg.SharpeRiskFreeRate, ppy)
	}()
	go func() {
		defer wg.Done()
		perf.SortinoRatio = calcSortinoRatio(returns, in.cfg.SharpeRiskFreeRate, ppy)
	}()
	go func() {
		defer wg.Done()
		perf.MaxDrawdown, perf.MaxDrawdownPct, perf.MaxDrawdownDuration = calcDrawdownMetrics(in.curve)
	}()
	go func() {
		defer wg.Done()
		perf.ExposurePct = calcExposure(in.curve)
	}()
	go func() {
		defer wg.Done()
		trading.WinningTrades, trading.LosingTrades, trading.WinRatePct = calcWinRate(in.trades)
		trading.AvgWin, trading.AvgLoss = calcAvgWinLossPerTrade(in.trades)
	}()
	go func() {
		defer wg.Done()
		trading.GrossProfit, trading.GrossLoss, trading.ProfitFactor = calcProfitFactor(in.trades)
		trading.LargestWin, trading.LargestLoss = calcLargestWinLoss(in.trades)
	}()
	go func() {
		defer wg.Done()
		trading.MaxConsecutiveLosses = calcMaxConsecutiveLosses(in.trades)
		trading.AvgTrade, trading.TotalCommission, trading.AvgHoldingDuration = calcTradeAverages(in.trades)
	}()
	wg.Wait()

	return perf, trading
}

// calcPeriodicReturns computes bar-to-bar simple returns of the equity curve.
// Steps without elapsed time or without positive prior equity are skipped.
func calcPeriodicReturns(curve []types.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev, cur := curve[i-1], curve[i]
		if !cur.Time.After(prev.Time) || !prev.Equity.IsPositive() {
			continue
		}
		out = append(out, cur.Equity.Div(prev.Equity).Sub(decimal.NewFromInt(1)).InexactFloat64())
	}
	return out
}

func calcCAGR(curve []types.EquityPoint) float64 {
	if len(curve) < 2 {
		return 0
	}
	first, last := curve[0], curve[len(curve)-1]
	if !first.Equity.IsPositive() {
		return 0
	}

	// time difference in years (using 365.25 days to account for leap years)
	years := last.Time.Sub(first.Time).Hours() / (24.0 * 365.25)
	if years <= 0 {
		return 0
	}
	ratio := last.Equity.Div(first.Equity).InexactFloat64()
	if ratio <= 0 {
		return 0
	}
	return (math.Pow(ratio, 1.0/years) - 1.0) * 100
}

const minStdDev = 1e-12

func calcSharpeRatio(returns []float64, annualRiskFree, periodsPerYear float64) float64 {
	if len(returns) < 2 || periodsPerYear <= 0 {
		return 0
	}
	excess := excessReturns(returns, annualRiskFree, periodsPerYear)
	mean := mean(excess)

	var varianceSum float64
	for _, x := range excess {
		diff := x - mean
		varianceSum += diff * diff
	}
	std := math.Sqrt(varianceSum / float64(len(excess)-1))
	if std < minStdDev {
		return 0
	}
	return mean / std * math.Sqrt(periodsPerYear)
}

// calcSortinoRatio penalises only returns below the risk-free rate.
func calcSortinoRatio(returns []float64, annualRiskFree, periodsPerYear float64) float64 {
	if len(returns) < 2 || periodsPerYear <= 0 {
		return 0
	}
	excess := excessReturns(returns, annualRiskFree, periodsPerYear)

	var downside float64
	for _, x := range excess {
		if x < 0 {
			downside += x * x
		}
	}
	dd := math.Sqrt(downside / float64(len(excess)))
	if dd < minStdDev {
		return 0
	}
	return mean(excess) / dd * math.Sqrt(periodsPerYear)
}

func excessReturns(returns []float64, annualRiskFree, periodsPerYear float64) []float64 {
	rf := 0.0
	if annualRiskFree != 0 {
		rf = math.Pow(1.0+annualRiskFree, 1.0/periodsPerYear) - 1.0
	}
	out := make([]float64, len(returns))
	for i, r := range returns {
		out[i] = r - rf
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// calcDrawdownMetrics returns the deepest decline from a running peak as an
// amount and a percentage (both <= 0) and the time from that peak to the trough.
func calcDrawdownMetrics(curve []types.EquityPoint) (decimal.Decimal, float64, time.Duration) {
	if len(curve) == 0 {
		return decimal.Zero, 0, 0
	}

	peak := curve[0].Equity
	peakTime := curve[0].Time
	maxDD := decimal.Zero
	maxDDPct := decimal.Zero
	var maxDDDuration time.Duration

	for _, pt := range curve {
		if pt.Equity.GreaterThan(peak) {
			peak = pt.Equity
			peakTime = pt.Time
		}
		if !peak.IsPositive() {
			continue
		}
		dd := pt.Equity.Sub(peak)
		if dd.LessThan(maxDD) {
			maxDD = dd
			maxDDPct = dd.Div(peak).Mul(hundred)
			maxDDDuration = pt.Time.Sub(peakTime)
		}
	}
	return maxDD, maxDDPct.InexactFloat64(), maxDDDuration
}

func calcExposure(curve []types.EquityPoint) float64 {
	if len(curve) == 0 {
		return 0
	}
	exposed := 0
	for _, pt := range curve {
		if !pt.PositionsValue.IsZero() {
			exposed++
		}
	}
	return float64(exposed) / float64(len(curve)) * 100
}

// calcWinRate counts breakeven trades in the total but as neither win nor loss.
func calcWinRate(trades []types.Trade) (int, int, float64) {
	if len(trades) == 0 {
		return 0, 0, 0
	}
	wins, losses := 0, 0
	for _, tr := range trades {
		switch {
		case tr.IsWin():
			wins++
		case tr.IsLoss():
			losses++
		}
	}
	return wins, losses, float64(wins) / float64(len(trades)) * 100
}

// calcAvgWinLossPerTrade returns the mean net P&L of winners and of losers.
// The loss average is negative.
func calcAvgWinLossPerTrade(trades []types.Trade) (decimal.Decimal, decimal.Decimal) {
	sumWins, sumLosses := decimal.Zero, decimal.Zero
	winCount, lossCount := 0, 0

	for _, tr := range trades {
		switch {
		case tr.IsWin():
			sumWins = sumWins.Add(tr.NetPnL)
			winCount++
		case tr.IsLoss():
			sumLosses = sumLosses.Add(tr.NetPnL)
			lossCount++
		}
	}

	avgWin, avgLoss := decimal.Zero, decimal.Zero
	if winCount > 0 {
		avgWin = sumWins.Div(decimal.NewFromInt(int64(winCount)))
	}
	if lossCount > 0 {
		avgLoss = sumLosses.Div(decimal.NewFromInt(int64(lossCount)))
	}
	return avgWin, avgLoss
}

func calcProfitFactor(trades []types.Trade) (decimal.Decimal, decimal.Decimal, ProfitFactor) {
	grossProfit, grossLoss := decimal.Zero, decimal.Zero
	for _, tr := range trades {
		switch {
		case tr.IsWin():
			grossProfit = grossProfit.Add(tr.NetPnL)
		case tr.IsLoss():
			grossLoss = grossLoss.Add(tr.NetPnL)
		}
	}

	switch {
	case grossLoss.IsZero() && grossProfit.IsPositive():
		return grossProfit, grossLoss, ProfitFactor{Infinite: true}
	case grossLoss.IsZero():
		return grossProfit, grossLoss, ProfitFactor{}
	}
	return grossProfit, grossLoss, ProfitFactor{Value: grossProfit.Div(grossLoss.Abs()).InexactFloat64()}
}

func calcLargestWinLoss(trades []types.Trade) (decimal.Decimal, decimal.Decimal) {
	largestWin, largestLoss := decimal.Zero, decimal.Zero
	for _, tr := range trades {
		if tr.NetPnL.GreaterThan(largestWin) {
			largestWin = tr.NetPnL
		}
		if tr.NetPnL.LessThan(largestLoss) {
			largestLoss = tr.NetPnL
		}
	}
	return largestWin, largestLoss
}

// calcMaxConsecutiveLosses walks trades in exit order.
func calcMaxConsecutiveLosses(trades []types.Trade) int {
	maxLossStreak := 0
	currentStreak := 0

	for _, tr := range trades {
		if tr.IsLoss() {
			currentStreak++
			if currentStreak > maxLossStreak {
				maxLossStreak = currentStreak
			}
		} else {
			currentStreak = 0
		}
	}
	return maxLossStreak
}

func calcTradeAverages(trades []types.Trade) (decimal.Decimal, decimal.Decimal, time.Duration) {
	if len(trades) == 0 {
		return decimal.Zero, decimal.Zero, 0
	}
	net, commission := decimal.Zero, decimal.Zero
	var held time.Duration
	for _, tr := range trades {
		net = net.Add(tr.NetPnL)
		commission = commission.Add(tr.Commission)
		held += tr.Duration
	}
	n := len(trades)
	return net.Div(decimal.NewFromInt(int64(n))), commission, held / time.Duration(n)
}

// PrintReport writes a human readable summary of res to w.
func PrintReport(w io.Writer, res *Result) {
	p, t := res.Performance, res.Trading

	fmt.Fprintln(w, "===== Backtest Report =====")
	fmt.Fprintf(w, "Run ID:                %s\n", res.RunID)
	fmt.Fprintf(w, "Strategy:              %s\n", res.Strategy)
	fmt.Fprintf(w, "Symbol:                %s\n", res.Symbol)
	fmt.Fprintf(w, "Period:                %s - %s\n", res.Start.Format("2006-01-02"), res.End.Format("2006-01-02"))
	if res.Cancelled {
		fmt.Fprintln(w, "Status:                CANCELLED (partial)")
	}

	fmt.Fprintln(w, "\n-- Absolute Performance --")
	fmt.Fprintf(w, "Initial Cash:          %s\n", p.InitialCash.StringFixed(2))
	fmt.Fprintf(w, "Final Equity:          %s\n", p.FinalEquity.StringFixed(2))
	fmt.Fprintf(w, "Net Profit:            %s\n", p.NetProfit.StringFixed(2))
	fmt.Fprintf(w, "Final Cash:            %s\n", res.Portfolio.Cash.StringFixed(2))
	fmt.Fprintf(w, "Realized PnL:          %s\n", res.Portfolio.RealizedPnL.StringFixed(2))
	fmt.Fprintf(w, "Total Return %%:        %.2f\n", p.TotalReturnPct)
	fmt.Fprintf(w, "CAGR %%:                %.2f\n", p.CAGR)
	fmt.Fprintf(w, "Exposure %%:            %.2f\n", p.ExposurePct)

	fmt.Fprintln(w, "\n-- Trade-Level Metrics --")
	fmt.Fprintf(w, "Total Trades:          %d\n", t.TotalTrades)
	fmt.Fprintf(w, "Win Rate %%:            %.2f\n", t.WinRatePct)
	fmt.Fprintf(w, "Avg Trade:             %s\n", t.AvgTrade.StringFixed(2))
	fmt.Fprintf(w, "Avg Win:               %s\n", t.AvgWin.StringFixed(2))
	fmt.Fprintf(w, "Avg Loss:              %s\n", t.AvgLoss.StringFixed(2))
	fmt.Fprintf(w, "Largest Win:           %s\n", t.LargestWin.StringFixed(2))
	fmt.Fprintf(w, "Largest Loss:          %s\n", t.LargestLoss.StringFixed(2))
	fmt.Fprintf(w, "Avg Holding:           %s\n", t.AvgHoldingDuration)

	fmt.Fprintln(w, "\n-- Drawdown Metrics --")
	fmt.Fprintf(w, "Max Drawdown:          %s\n", p.MaxDrawdown.StringFixed(2))
	fmt.Fprintf(w, "Max Drawdown %%:        %.2f\n", p.MaxDrawdownPct)
	fmt.Fprintf(w, "Max Drawdown Duration: %s\n", p.MaxDrawdownDuration)
	fmt.Fprintf(w, "Max Consecutive Losses:%d\n", t.MaxConsecutiveLosses)

	fmt.Fprintln(w, "\n-- Risk-Adjusted Metrics --")
	fmt.Fprintf(w, "Sharpe Ratio:          %.3f\n", p.SharpeRatio)
	fmt.Fprintf(w, "Sortino Ratio:         %.3f\n", p.SortinoRatio)
	fmt.Fprintf(w, "Profit Factor:         %s\n", t.ProfitFactor)

	fmt.Fprintln(w, "\n-- Costs --")
	fmt.Fprintf(w, "Total Commission:      %s\n", t.TotalCommission.StringFixed(2))

	if n := len(res.Diagnostics); n > 0 {
		fmt.Fprintf(w, "\nDiagnostics:           %d (see result)\n", n)
	}
	fmt.Fprintln(w, "===========================")
}
