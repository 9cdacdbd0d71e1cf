package engine

import (
	"backtester/types"
	"time"

	"github.com/shopspring/decimal"
)

// Strategy turns the bars seen so far into a decision for the latest one.
// bars[len(bars)-1] is the current bar; later bars are never reachable.
type Strategy interface {
	Name() string
	GenerateSignal(bars []types.Bar) (types.Signal, error)
}

type PositionObserver interface {
	OnPositionOpened(pos types.Position)
	OnPositionClosed(pos types.Position, exitPrice decimal.Decimal, exitTime time.Time)
}

type ExitAdvisor interface {
	ShouldClosePosition(pos types.Position, bars []types.Bar) bool
}

// PortfolioObserver is handed a read-only view of the portfolio after each
// processed bar's equity is recorded.
type PortfolioObserver interface {
	OnPortfolioUpdate(view types.PortfolioView)
}

// PositionSizer returns the fraction of equity to deploy for an entry signal.
type PositionSizer interface {
	PositionSize(signal types.Signal, availableCapital, price decimal.Decimal) float64
}

// Progress is satisfied by *progressbar.ProgressBar.
type Progress interface {
	Add(num int) error
}
