package types

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNewBarFromFloats(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		vals    [5]float64
		wantErr bool
	}{
		{name: "finite", vals: [5]float64{1.5, 2, 1, 1.75, 100}},
		{name: "nan close", vals: [5]float64{1, 2, 1, math.NaN(), 100}, wantErr: true},
		{name: "inf volume", vals: [5]float64{1, 2, 1, 1, math.Inf(1)}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar, err := NewBarFromFloats("BTC", ts, tt.vals[0], tt.vals[1], tt.vals[2], tt.vals[3], tt.vals[4])
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedBar) {
					t.Fatalf("got %v, want ErrMalformedBar", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bar.Close.Equal(decimal.RequireFromString("1.75")) {
				t.Fatalf("close = %s", bar.Close)
			}
		})
	}
}

func TestBarValidate(t *testing.T) {
	mk := func(o, h, l, c string) Bar {
		return Bar{
			Open:  decimal.RequireFromString(o),
			High:  decimal.RequireFromString(h),
			Low:   decimal.RequireFromString(l),
			Close: decimal.RequireFromString(c),
		}
	}
	tests := []struct {
		name    string
		bar     Bar
		wantErr bool
	}{
		{name: "valid", bar: mk("10", "12", "9", "11")},
		{name: "doji", bar: mk("10", "10", "10", "10")},
		{name: "high below low", bar: mk("10", "9", "11", "10"), wantErr: true},
		{name: "close above high", bar: mk("10", "12", "9", "13"), wantErr: true},
		{name: "open below low", bar: mk("8", "12", "9", "11"), wantErr: true},
		{name: "zero price", bar: mk("0", "12", "9", "11"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.bar.Validate(); tt.wantErr != (err != nil) {
				t.Fatalf("got %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIntervalPeriodsPerYear(t *testing.T) {
	tests := []struct {
		interval Interval
		want     float64
	}{
		{Day, 252},
		{Week, 52},
		{Month, 12},
		{Hour, 252 * 24},
		{FifteenMinutes, 252 * 96},
		{Interval("bogus"), 252},
	}
	for _, tt := range tests {
		t.Run(string(tt.interval), func(t *testing.T) {
			if got := tt.interval.PeriodsPerYear(252); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseInterval(t *testing.T) {
	if iv, err := ParseInterval("1h"); err != nil || iv != Hour {
		t.Fatalf("got %s/%v, want %s", iv, err, Hour)
	}
	if _, err := ParseInterval("7x"); err == nil {
		t.Fatalf("expected error for unknown interval")
	}
}
