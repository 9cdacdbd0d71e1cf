package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type Trade struct {
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	EntryTime  time.Time       `json:"entryTime"`
	ExitPrice  decimal.Decimal `json:"exitPrice"`
	ExitTime   time.Time       `json:"exitTime"`
	Size       decimal.Decimal `json:"size"`
	GrossPnL   decimal.Decimal `json:"grossPnl"`
	Commission decimal.Decimal `json:"commission"`
	NetPnL     decimal.Decimal `json:"netPnl"`
	ReturnPct  float64         `json:"returnPct"`
	Duration   time.Duration   `json:"duration"`
	ExitReason ExitReason      `json:"exitReason"`
}

func (t Trade) IsWin() bool {
	return t.NetPnL.IsPositive()
}

func (t Trade) IsLoss() bool {
	return t.NetPnL.IsNegative()
}
