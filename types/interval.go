package types

import (
	"fmt"
	"time"
)

type Interval string

const (
	OneMinute      Interval = "1"
	ThreeMinutes   Interval = "3"
	FiveMinutes    Interval = "5"
	FifteenMinutes Interval = "15"
	ThirtyMinutes  Interval = "30"
	Hour           Interval = "60"
	TwoHours       Interval = "120"
	FourHours      Interval = "240"
	Day            Interval = "D"
	Week           Interval = "W"
	Month          Interval = "M"
)

var IntervalToTime = map[Interval]time.Duration{
	OneMinute:      time.Minute,
	ThreeMinutes:   time.Minute * 3,
	FiveMinutes:    time.Minute * 5,
	FifteenMinutes: time.Minute * 15,
	ThirtyMinutes:  time.Minute * 30,
	Hour:           time.Hour,
	TwoHours:       time.Hour * 2,
	FourHours:      time.Hour * 4,
	Day:            time.Hour * 24,
	Week:           time.Hour * 24 * 7,
}

var ConvertInterval = map[string]Interval{
	"1":   OneMinute,
	"1m":  OneMinute,
	"3":   ThreeMinutes,
	"3m":  ThreeMinutes,
	"5":   FiveMinutes,
	"5m":  FiveMinutes,
	"15":  FifteenMinutes,
	"15m": FifteenMinutes,
	"30":  ThirtyMinutes,
	"30m": ThirtyMinutes,
	"60":  Hour,
	"1h":  Hour,
	"120": TwoHours,
	"2h":  TwoHours,
	"240": FourHours,
	"4h":  FourHours,
	"D":   Day,
	"1d":  Day,
	"W":   Week,
	"1w":  Week,
	"M":   Month,
}

func ParseInterval(s string) (Interval, error) {
	if iv, ok := ConvertInterval[s]; ok {
		return iv, nil
	}
	return "", fmt.Errorf("unknown interval %q", s)
}

// PeriodsPerYear is the annualization factor for returns sampled at this
// interval. Intraday intervals assume round-the-clock sessions on each trading day.
func (i Interval) PeriodsPerYear(tradingDaysPerYear int) float64 {
	days := float64(tradingDaysPerYear)
	switch i {
	case Day:
		return days
	case Week:
		return 52
	case Month:
		return 12
	}
	d, ok := IntervalToTime[i]
	if !ok || d <= 0 {
		return days
	}
	return days * float64(24*time.Hour) / float64(d)
}

// IntervalFromDuration maps a bar spacing back to a known interval.
func IntervalFromDuration(d time.Duration) (Interval, bool) {
	for iv, dur := range IntervalToTime {
		if dur == d {
			return iv, true
		}
	}
	return "", false
}
