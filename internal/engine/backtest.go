package engine

import (
	"backtester/types"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type runState int

const (
	stateInitialized runState = iota
	stateWarmup
	stateRunning
	stateFinalized
)

func (s runState) String() string {
	switch s {
	case stateInitialized:
		return "initialized"
	case stateWarmup:
		return "warmup"
	case stateRunning:
		return "running"
	case stateFinalized:
		return "finalized"
	}
	return fmt.Sprintf("runState(%d)", int(s))
}

type actionKind int

const (
	actionNone actionKind = iota
	actionOpen
	actionClose
)

type decision struct {
	kind   actionKind
	side   types.Side
	signal types.Signal
	note   string
}

// pendingDecision is a decision taken at a bar's close that fills at the next open.
type pendingDecision struct {
	barIndex int
	record   int
	decision decision
}

type backtester struct {
	cfg       Config
	bars      []types.Bar
	symbol    string
	strategy  Strategy
	observer  PositionObserver
	advisor   ExitAdvisor
	sizer     PositionSizer
	watcher   PortfolioObserver
	portfolio *portfolio
	logger    *slog.Logger
	progress  Progress

	state       runState
	lastIndex   int
	cancelled   bool
	pending     *pendingDecision
	signals     []SignalRecord
	diagnostics []Diagnostic
}

func newBacktester(cfg Config, bars []types.Bar, strat Strategy, logger *slog.Logger, progress Progress) *backtester {
	b := &backtester{
		cfg:       cfg,
		bars:      bars,
		symbol:    bars[0].Symbol,
		strategy:  strat,
		portfolio: newPortfolio(cfg.Portfolio),
		logger:    logger.With("strategy", strat.Name(), "symbol", bars[0].Symbol),
		progress:  progress,
		state:     stateInitialized,
		lastIndex: -1,
		signals:   make([]SignalRecord, 0, len(bars)),
	}
	b.observer, _ = strat.(PositionObserver)
	b.advisor, _ = strat.(ExitAdvisor)
	b.sizer, _ = strat.(PositionSizer)
	b.watcher, _ = strat.(PortfolioObserver)
	return b
}

func (b *backtester) run(ctx context.Context) error {
	b.state = stateWarmup
	for i := range b.bars {
		if err := ctx.Err(); err != nil {
			b.cancelled = true
			b.logger.Info("backtest cancelled", "bar", i, "cause", err)
			break
		}
		if i >= b.cfg.Execution.WarmupPeriod {
			if b.state == stateWarmup {
				b.logger.Debug("warmup complete", "bar", i)
			}
			b.state = stateRunning
			if err := b.step(i); err != nil {
				return err
			}
		}
		b.lastIndex = i
		if b.progress != nil {
			_ = b.progress.Add(1)
		}
	}
	return b.finalize()
}

func (b *backtester) step(i int) error {
	bar := b.bars[i]

	if b.pending != nil {
		b.executePending(i)
	}
	if err := b.checkExits(i); err != nil {
		return err
	}
	b.portfolio.UpdatePrices(map[string]decimal.Decimal{b.symbol: bar.Close})

	sig, err := b.generateSignal(i)
	if err != nil {
		serr := &StrategyError{Strategy: b.strategy.Name(), Index: i, Timestamp: bar.Timestamp, Cause: err}
		if b.cfg.Execution.AbortOnStrategyError {
			return serr
		}
		b.logger.Warn("strategy error, holding", "bar", i, "err", err)
		b.diagnose(i, DiagStrategyError, serr.Error())
		sig = types.HoldSignal(bar.Timestamp, bar.Close)
		sig.Reason = "strategy error"
	}

	rec := SignalRecord{BarIndex: i, Signal: sig}
	d := b.decide(sig, i)
	switch {
	case d.kind == actionNone:
		rec.Note = d.note
	case b.cfg.Execution.Timing == NextOpen:
		b.pending = &pendingDecision{barIndex: i, record: len(b.signals), decision: d}
		rec.Note = "pending next open"
	default:
		rec.Applied, rec.Note = b.execute(d, i, bar.Close)
	}

	if err := b.portfolio.RecordEquity(bar.Timestamp); err != nil {
		return err
	}
	if b.watcher != nil {
		b.watcher.OnPortfolioUpdate(b.portfolio.Snapshot(bar.Timestamp))
	}
	b.signals = append(b.signals, rec)
	return nil
}

func (b *backtester) generateSignal(i int) (sig types.Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	sig, err = b.strategy.GenerateSignal(b.view(i))
	if err != nil {
		return sig, err
	}
	if err = sig.Validate(); err != nil {
		return sig, err
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = b.bars[i].Timestamp
	}
	if sig.Price.IsZero() {
		sig.Price = b.bars[i].Close
	}
	return sig, nil
}

// view is the causal prefix handed to strategies. The capped capacity keeps
// later bars unreachable through re-slicing.
func (b *backtester) view(i int) []types.Bar {
	return b.bars[: i+1 : i+1]
}

func (b *backtester) decide(sig types.Signal, i int) decision {
	pos, open := b.portfolio.position(b.symbol)
	side, entry := sig.Side()

	if !open {
		switch {
		case entry:
			return decision{kind: actionOpen, side: side, signal: sig}
		case sig.Kind == types.SignalCloseLong || sig.Kind == types.SignalCloseShort:
			return decision{note: "no open position"}
		}
		return decision{}
	}

	switch {
	case sig.Kind == types.SignalCloseLong && pos.Side == types.SideLong,
		sig.Kind == types.SignalCloseShort && pos.Side == types.SideShort:
		return decision{kind: actionClose, signal: sig, note: "closed by signal"}
	case entry && side == pos.Side.Opposite():
		return decision{kind: actionClose, signal: sig, note: "closed by opposite signal"}
	}
	if b.advisor != nil && b.advisor.ShouldClosePosition(pos, b.view(i)) {
		return decision{kind: actionClose, signal: sig, note: "closed by exit advisor"}
	}
	if entry {
		if b.cfg.Portfolio.AllowPyramiding {
			return decision{kind: actionOpen, side: side, signal: sig}
		}
		b.diagnose(i, DiagPositionConflict, fmt.Sprintf("%s signal while %s position open", sig.Kind, pos.Side))
		return decision{note: "position already open"}
	}
	return decision{}
}

func (b *backtester) execute(d decision, i int, price decimal.Decimal) (bool, string) {
	switch d.kind {
	case actionClose:
		return b.closeOnSignal(d, i, price)
	case actionOpen:
		return b.open(d, i, price)
	}
	return false, d.note
}

func (b *backtester) executePending(i int) {
	p := b.pending
	b.pending = nil
	applied, note := b.execute(p.decision, i, b.bars[i].Open)
	b.signals[p.record].Applied = applied
	b.signals[p.record].Note = note
}

func (b *backtester) closeOnSignal(d decision, i int, price decimal.Decimal) (bool, string) {
	bar := b.bars[i]
	pos, open := b.portfolio.position(b.symbol)
	if !open {
		return false, "no open position"
	}
	// Covering a short is a buy.
	fill := b.slip(price, pos.Side == types.SideShort)
	trade, err := b.portfolio.ClosePosition(b.symbol, fill, bar.Timestamp, types.ExitSignal)
	if err != nil {
		return false, err.Error()
	}
	b.logger.Debug("position closed", "bar", i, "side", pos.Side, "price", fill, "net", trade.NetPnL)
	b.notifyClosed(pos, fill, bar)
	return true, d.note
}

func (b *backtester) open(d decision, i int, price decimal.Decimal) (bool, string) {
	bar := b.bars[i]
	fill := b.slip(price, d.side == types.SideLong)
	fraction := b.positionSize(d.signal, fill)
	if fraction <= 0 {
		return false, "position size is zero"
	}
	stopLoss, takeProfit := b.exitLevels(d.signal, d.side, fill)

	pos, err := b.portfolio.OpenPosition(b.symbol, d.side, fill, bar.Timestamp, fraction, stopLoss, takeProfit)
	switch {
	case errors.Is(err, ErrInsufficientCapital):
		b.logger.Debug("entry rejected", "bar", i, "err", err)
		b.diagnose(i, DiagInsufficientCapital, err.Error())
		return false, "insufficient capital"
	case errors.Is(err, ErrPositionConflict):
		b.diagnose(i, DiagPositionConflict, err.Error())
		return false, "position already open"
	case err != nil:
		return false, err.Error()
	}

	b.logger.Debug("position opened", "bar", i, "side", d.side, "price", fill, "size", pos.Size)
	if b.observer != nil {
		b.observer.OnPositionOpened(pos)
	}
	return true, fmt.Sprintf("opened %s", d.side)
}

// positionSize returns the equity fraction to deploy, in [0,1].
func (b *backtester) positionSize(sig types.Signal, price decimal.Decimal) float64 {
	var f float64
	if b.sizer != nil {
		f = b.sizer.PositionSize(sig, b.portfolio.cash, price)
	} else {
		f = math.Min(sig.Size*sig.Confidence, b.cfg.Execution.MaxPositionFraction)
	}
	if math.IsNaN(f) || f <= 0 {
		return 0
	}
	return math.Min(f, 1)
}

func (b *backtester) exitLevels(sig types.Signal, side types.Side, price decimal.Decimal) (decimal.NullDecimal, decimal.NullDecimal) {
	one := decimal.NewFromInt(1)
	stopLoss, takeProfit := sig.StopLoss, sig.TakeProfit

	if pct := b.cfg.Execution.StopLossPct; !stopLoss.Valid && pct.IsPositive() {
		if side == types.SideLong {
			stopLoss = decimal.NewNullDecimal(price.Mul(one.Sub(pct)))
		} else {
			stopLoss = decimal.NewNullDecimal(price.Mul(one.Add(pct)))
		}
	}
	if pct := b.cfg.Execution.TakeProfitPct; !takeProfit.Valid && pct.IsPositive() {
		if side == types.SideLong {
			takeProfit = decimal.NewNullDecimal(price.Mul(one.Add(pct)))
		} else if pct.LessThan(one) {
			takeProfit = decimal.NewNullDecimal(price.Mul(one.Sub(pct)))
		}
	}
	return stopLoss, takeProfit
}

// slip worsens a market fill: buys pay more, sells receive less.
func (b *backtester) slip(price decimal.Decimal, buying bool) decimal.Decimal {
	rate := b.cfg.Execution.SlippageRate
	if rate.IsZero() {
		return price
	}
	one := decimal.NewFromInt(1)
	if buying {
		return price.Mul(one.Add(rate))
	}
	return price.Mul(one.Sub(rate))
}

func (b *backtester) checkExits(i int) error {
	bar := b.bars[i]
	pos, open := b.portfolio.position(b.symbol)
	if !open {
		return nil
	}
	level, reason, hit := exitTrigger(pos, bar)
	if !hit {
		return nil
	}
	trade, err := b.portfolio.ClosePosition(b.symbol, level, bar.Timestamp, reason)
	if err != nil {
		return err
	}
	b.logger.Debug("exit level hit", "bar", i, "reason", reason, "price", level, "net", trade.NetPnL)
	b.notifyClosed(pos, level, bar)
	return nil
}

// exitTrigger checks the bar range against the position's stop and target.
// The stop wins when both are inside the range.
func exitTrigger(pos types.Position, bar types.Bar) (decimal.Decimal, types.ExitReason, bool) {
	long := pos.Side == types.SideLong
	if sl := pos.StopLoss; sl.Valid {
		if (long && bar.Low.LessThanOrEqual(sl.Decimal)) || (!long && bar.High.GreaterThanOrEqual(sl.Decimal)) {
			return sl.Decimal, types.ExitStopLoss, true
		}
	}
	if tp := pos.TakeProfit; tp.Valid {
		if (long && bar.High.GreaterThanOrEqual(tp.Decimal)) || (!long && bar.Low.LessThanOrEqual(tp.Decimal)) {
			return tp.Decimal, types.ExitTakeProfit, true
		}
	}
	return decimal.Zero, "", false
}

func (b *backtester) notifyClosed(pos types.Position, exitPrice decimal.Decimal, bar types.Bar) {
	if b.observer == nil {
		return
	}
	pos.MarkPrice = exitPrice
	b.observer.OnPositionClosed(pos, exitPrice, bar.Timestamp)
}

func (b *backtester) diagnose(i int, kind DiagnosticKind, msg string) {
	b.diagnostics = append(b.diagnostics, Diagnostic{
		BarIndex: i,
		Time:     b.bars[i].Timestamp,
		Kind:     kind,
		Message:  msg,
	})
}

func (b *backtester) finalize() error {
	defer func() { b.state = stateFinalized }()

	if p := b.pending; p != nil {
		b.pending = nil
		note, msg := "dropped: no bar left to fill at next open", "decision pending at end of data was not executed"
		if b.cancelled {
			note, msg = "dropped: run cancelled before next open", "decision pending at cancellation was not executed"
		}
		b.signals[p.record].Note = note
		b.diagnose(p.barIndex, DiagPendingDropped, msg)
		b.logger.Info("pending decision dropped", "bar", p.barIndex)
	}
	if b.lastIndex < 0 {
		return nil
	}

	last := b.bars[b.lastIndex]
	symbols := b.portfolio.openSymbols()
	for _, sym := range symbols {
		pos, _ := b.portfolio.position(sym)
		if _, err := b.portfolio.ClosePosition(sym, last.Close, last.Timestamp, types.ExitEndOfData); err != nil {
			return err
		}
		b.notifyClosed(pos, last.Close, last)
	}
	// The liquidation's exit commission belongs to the last recorded bar.
	if len(symbols) > 0 {
		b.portfolio.RestateEquity(last.Timestamp)
	}
	return nil
}

func (b *backtester) result() *Result {
	start := b.bars[0].Timestamp
	end := start
	if b.lastIndex >= 0 {
		end = b.bars[b.lastIndex].Timestamp
	}

	reporting := b.cfg.Reporting
	if reporting.Interval == "" && len(b.bars) > 1 {
		if iv, ok := types.IntervalFromDuration(b.bars[1].Timestamp.Sub(b.bars[0].Timestamp)); ok {
			reporting.Interval = iv
		}
	}

	perf, trading := generateReport(reportInput{
		initialCash: b.portfolio.initialCash,
		finalEquity: b.portfolio.Equity(),
		curve:       b.portfolio.equityCurve,
		trades:      b.portfolio.trades,
		cfg:         reporting,
	})

	return &Result{
		RunID:       uuid.NewString(),
		Strategy:    b.strategy.Name(),
		Symbol:      b.symbol,
		Start:       start,
		End:         end,
		Cancelled:   b.cancelled,
		Config:      b.cfg,
		Performance: perf,
		Trading:     trading,
		Portfolio:   b.portfolio.Summary(),
		EquityCurve: b.portfolio.equityCurve,
		Trades:      b.portfolio.trades,
		Signals:     b.signals,
		Diagnostics: b.diagnostics,
		Daily:       calcDailyPerformance(b.portfolio.equityCurve, b.portfolio.trades, b.portfolio.initialCash),
	}
}
