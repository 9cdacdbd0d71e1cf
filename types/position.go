package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is an open holding. Values handed to strategy hooks are copies.
type Position struct {
	Symbol          string              `json:"symbol"`
	Side            Side                `json:"side"`
	EntryPrice      decimal.Decimal     `json:"entryPrice"`
	EntryTime       time.Time           `json:"entryTime"`
	Size            decimal.Decimal     `json:"size"`
	StopLoss        decimal.NullDecimal `json:"stopLoss"`
	TakeProfit      decimal.NullDecimal `json:"takeProfit"`
	MarkPrice       decimal.Decimal     `json:"markPrice"`
	EntryNotional   decimal.Decimal     `json:"entryNotional"`
	EntryCommission decimal.Decimal     `json:"entryCommission"`
}

func (p Position) UnrealizedPnL() decimal.Decimal {
	return p.PnLAt(p.MarkPrice)
}

// PnLAt is the gross P&L of the position if it were closed at price.
func (p Position) PnLAt(price decimal.Decimal) decimal.Decimal {
	diff := price.Sub(p.EntryPrice)
	if p.Side == SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(p.Size)
}

func (p Position) UnrealizedPnLPct() float64 {
	if p.EntryNotional.IsZero() {
		return 0
	}
	return p.UnrealizedPnL().Div(p.EntryNotional).Mul(decimal.NewFromInt(100)).InexactFloat64()
}

// MarketValue is the cash the position would return before exit costs.
func (p Position) MarketValue() decimal.Decimal {
	return p.EntryNotional.Add(p.UnrealizedPnL())
}
