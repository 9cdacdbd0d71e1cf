package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// EquityPoint is the portfolio valuation recorded once per processed bar.
type EquityPoint struct {
	Time           time.Time       `json:"time"`
	Cash           decimal.Decimal `json:"cash"`
	PositionsValue decimal.Decimal `json:"positionsValue"`
	Equity         decimal.Decimal `json:"equity"`
}
