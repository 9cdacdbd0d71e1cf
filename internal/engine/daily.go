package engine

import (
	"backtester/types"
	"time"

	"github.com/shopspring/decimal"
)

// DailyPerformance aggregates one calendar day of a run.
type DailyPerformance struct {
	Date                time.Time       `json:"date"`
	Day                 int             `json:"day"`
	StartEquity         decimal.Decimal `json:"startEquity"`
	EndEquity           decimal.Decimal `json:"endEquity"`
	PnL                 decimal.Decimal `json:"pnl"`
	ReturnPct           float64         `json:"returnPct"`
	CumulativePnL       decimal.Decimal `json:"cumulativePnl"`
	CumulativeReturnPct float64         `json:"cumulativeReturnPct"`
	Trades              int             `json:"trades"`
	Wins                int             `json:"wins"`
	Losses              int             `json:"losses"`
	WinRatePct          float64         `json:"winRatePct"`
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// calcDailyPerformance buckets the equity curve by calendar day. A day starts
// from the previous day's closing equity, or the initial cash on day one.
func calcDailyPerformance(curve []types.EquityPoint, trades []types.Trade, initialCash decimal.Decimal) []DailyPerformance {
	if len(curve) == 0 {
		return nil
	}

	tradesByDay := make(map[time.Time][]types.Trade)
	for _, tr := range trades {
		key := dayOf(tr.ExitTime)
		tradesByDay[key] = append(tradesByDay[key], tr)
	}

	var out []DailyPerformance
	start := initialCash
	for i := 0; i < len(curve); {
		day := dayOf(curve[i].Time)
		j := i
		for j+1 < len(curve) && dayOf(curve[j+1].Time).Equal(day) {
			j++
		}
		end := curve[j].Equity

		row := DailyPerformance{
			Date:                day,
			Day:                 len(out) + 1,
			StartEquity:         start,
			EndEquity:           end,
			PnL:                 end.Sub(start),
			ReturnPct:           pctChange(start, end),
			CumulativePnL:       end.Sub(initialCash),
			CumulativeReturnPct: pctChange(initialCash, end),
		}
		for _, tr := range tradesByDay[day] {
			row.Trades++
			switch {
			case tr.IsWin():
				row.Wins++
			case tr.IsLoss():
				row.Losses++
			}
		}
		if row.Trades > 0 {
			row.WinRatePct = float64(row.Wins) / float64(row.Trades) * 100
		}
		out = append(out, row)

		start = end
		i = j + 1
	}
	return out
}
