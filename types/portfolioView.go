package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioView is a read-only copy of portfolio state at a point in time.
type PortfolioView struct {
	Time      time.Time           `json:"time"`
	Cash      decimal.Decimal     `json:"cash"`
	Equity    decimal.Decimal     `json:"equity"`
	Positions map[string]Position `json:"positions"`
}
