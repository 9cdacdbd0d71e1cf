package engine

import (
	"backtester/types"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

type portfolio struct {
	initialCash     decimal.Decimal
	cash            decimal.Decimal
	commissionRate  decimal.Decimal
	allowPyramiding bool
	positions       map[string]*types.Position
	trades          []types.Trade
	equityCurve     []types.EquityPoint
	realizedPnL     decimal.Decimal
}

type PortfolioSummary struct {
	InitialCash    decimal.Decimal `json:"initialCash"`
	Cash           decimal.Decimal `json:"cash"`
	Equity         decimal.Decimal `json:"equity"`
	TotalReturnPct float64         `json:"totalReturnPct"`
	UnrealizedPnL  decimal.Decimal `json:"unrealizedPnl"`
	RealizedPnL    decimal.Decimal `json:"realizedPnl"`
	TotalTrades    int             `json:"totalTrades"`
	OpenPositions  int             `json:"openPositions"`
}

func newPortfolio(cfg PortfolioConfig) *portfolio {
	return &portfolio{
		initialCash:     cfg.InitialCash,
		cash:            cfg.InitialCash,
		commissionRate:  cfg.CommissionRate,
		allowPyramiding: cfg.AllowPyramiding,
		positions:       make(map[string]*types.Position),
	}
}

// OpenPosition deploys sizeFraction of current equity. The deployed amount
// covers both notional and entry commission.
func (p *portfolio) OpenPosition(
	symbol string,
	side types.Side,
	price decimal.Decimal,
	at time.Time,
	sizeFraction float64,
	stopLoss, takeProfit decimal.NullDecimal,
) (types.Position, error) {
	if sizeFraction <= 0 || sizeFraction > 1 {
		return types.Position{}, fmt.Errorf("%w: got %v", ErrInvalidSize, sizeFraction)
	}
	if !price.IsPositive() {
		return types.Position{}, fmt.Errorf("%w: got %s", ErrInvalidPrice, price)
	}

	existing := p.positions[symbol]
	if existing != nil && (!p.allowPyramiding || existing.Side != side) {
		return types.Position{}, fmt.Errorf("%w: %s %s", ErrPositionConflict, symbol, existing.Side)
	}

	amount := p.Equity().Mul(decimal.NewFromFloat(sizeFraction))
	if amount.GreaterThan(p.cash) {
		return types.Position{}, fmt.Errorf("%w: need %s, have %s", ErrInsufficientCapital, amount.StringFixed(2), p.cash.StringFixed(2))
	}
	notional := amount.Div(decimal.NewFromInt(1).Add(p.commissionRate))
	commission := amount.Sub(notional)
	size := notional.Div(price)
	if !size.IsPositive() {
		return types.Position{}, fmt.Errorf("%w: amount %s buys nothing at %s", ErrInsufficientCapital, amount, price)
	}
	p.cash = p.cash.Sub(amount)

	if existing != nil {
		existing.EntryPrice = weightedAvg(existing.EntryPrice, existing.Size, price, size)
		existing.Size = existing.Size.Add(size)
		existing.EntryNotional = existing.EntryNotional.Add(notional)
		existing.EntryCommission = existing.EntryCommission.Add(commission)
		existing.MarkPrice = price
		if stopLoss.Valid {
			existing.StopLoss = stopLoss
		}
		if takeProfit.Valid {
			existing.TakeProfit = takeProfit
		}
		return *existing, nil
	}

	pos := &types.Position{
		Symbol:          symbol,
		Side:            side,
		EntryPrice:      price,
		EntryTime:       at,
		Size:            size,
		StopLoss:        stopLoss,
		TakeProfit:      takeProfit,
		MarkPrice:       price,
		EntryNotional:   notional,
		EntryCommission: commission,
	}
	p.positions[symbol] = pos
	return *pos, nil
}

func (p *portfolio) UpdatePrices(prices map[string]decimal.Decimal) {
	for sym, price := range prices {
		if pos, ok := p.positions[sym]; ok {
			pos.MarkPrice = price
		}
	}
}

func (p *portfolio) ClosePosition(symbol string, price decimal.Decimal, at time.Time, reason types.ExitReason) (types.Trade, error) {
	pos, ok := p.positions[symbol]
	if !ok {
		return types.Trade{}, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}
	if !price.IsPositive() {
		return types.Trade{}, fmt.Errorf("%w: got %s", ErrInvalidPrice, price)
	}

	gross := pos.PnLAt(price)
	exitCommission := price.Mul(pos.Size).Mul(p.commissionRate)
	p.cash = p.cash.Add(pos.EntryNotional).Add(gross).Sub(exitCommission)

	commission := pos.EntryCommission.Add(exitCommission)
	net := gross.Sub(commission)
	var returnPct float64
	if !pos.EntryNotional.IsZero() {
		returnPct = net.Div(pos.EntryNotional).Mul(hundred).InexactFloat64()
	}

	trade := types.Trade{
		Symbol:     symbol,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		EntryTime:  pos.EntryTime,
		ExitPrice:  price,
		ExitTime:   at,
		Size:       pos.Size,
		GrossPnL:   gross,
		Commission: commission,
		NetPnL:     net,
		ReturnPct:  returnPct,
		Duration:   at.Sub(pos.EntryTime),
		ExitReason: reason,
	}
	p.trades = append(p.trades, trade)
	p.realizedPnL = p.realizedPnL.Add(net)
	delete(p.positions, symbol)
	return trade, nil
}

// RecordEquity appends one equity point. Timestamps must strictly increase.
func (p *portfolio) RecordEquity(at time.Time) error {
	if n := len(p.equityCurve); n > 0 && !at.After(p.equityCurve[n-1].Time) {
		return fmt.Errorf("%w: %s", ErrEquityAlreadyRecorded, at.Format(time.RFC3339))
	}
	positionsValue := p.positionsValue()
	p.equityCurve = append(p.equityCurve, types.EquityPoint{
		Time:           at,
		Cash:           p.cash,
		PositionsValue: positionsValue,
		Equity:         p.cash.Add(positionsValue),
	})
	return nil
}

// RestateEquity revalues the equity point already recorded for at. It is used
// when positions are closed on a bar after its equity was recorded, which
// keeps one point per bar. It reports false when the last point is for
// another time.
func (p *portfolio) RestateEquity(at time.Time) bool {
	n := len(p.equityCurve)
	if n == 0 || !p.equityCurve[n-1].Time.Equal(at) {
		return false
	}
	positionsValue := p.positionsValue()
	p.equityCurve[n-1] = types.EquityPoint{
		Time:           at,
		Cash:           p.cash,
		PositionsValue: positionsValue,
		Equity:         p.cash.Add(positionsValue),
	}
	return true
}

func (p *portfolio) Equity() decimal.Decimal {
	return p.cash.Add(p.positionsValue())
}

func (p *portfolio) positionsValue() decimal.Decimal {
	total := decimal.Zero
	for _, pos := range p.positions {
		total = total.Add(pos.MarketValue())
	}
	return total
}

func (p *portfolio) position(symbol string) (types.Position, bool) {
	pos, ok := p.positions[symbol]
	if !ok {
		return types.Position{}, false
	}
	return *pos, true
}

// openSymbols returns symbols with open positions in a stable order.
func (p *portfolio) openSymbols() []string {
	return slices.Sorted(maps.Keys(p.positions))
}

func (p *portfolio) Summary() PortfolioSummary {
	unrealized := decimal.Zero
	for _, pos := range p.positions {
		unrealized = unrealized.Add(pos.UnrealizedPnL())
	}
	equity := p.Equity()
	return PortfolioSummary{
		InitialCash:    p.initialCash,
		Cash:           p.cash,
		Equity:         equity,
		TotalReturnPct: pctChange(p.initialCash, equity),
		UnrealizedPnL:  unrealized,
		RealizedPnL:    p.realizedPnL,
		TotalTrades:    len(p.trades),
		OpenPositions:  len(p.positions),
	}
}

// Snapshot copies the portfolio state; positions in the view are values.
func (p *portfolio) Snapshot(at time.Time) types.PortfolioView {
	view := types.PortfolioView{
		Time:      at,
		Cash:      p.cash,
		Equity:    p.Equity(),
		Positions: make(map[string]types.Position, len(p.positions)),
	}
	for sym, pos := range p.positions {
		view.Positions[sym] = *pos
	}
	return view
}

func weightedAvg(existingAvgPrice, existingQty, newPrice, newQty decimal.Decimal) decimal.Decimal {
	if existingQty.IsZero() {
		return newPrice
	}
	return existingAvgPrice.Mul(existingQty).
		Add(newPrice.Mul(newQty)).
		Div(existingQty.Add(newQty))
}

func pctChange(from, to decimal.Decimal) float64 {
	if from.IsZero() {
		return 0
	}
	return to.Div(from).Sub(decimal.NewFromInt(1)).Mul(hundred).InexactFloat64()
}
