package types

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestSignalValidate(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	price := decimal.NewFromInt(100)

	tests := []struct {
		name    string
		signal  Signal
		wantErr bool
	}{
		{name: "hold", signal: HoldSignal(ts, price)},
		{name: "buy full size", signal: NewSignal(SignalBuy, ts, price, 1, 1, "")},
		{name: "unknown kind", signal: Signal{Kind: "SHORT_SQUEEZE"}, wantErr: true},
		{name: "confidence above one", signal: NewSignal(SignalBuy, ts, price, 0.5, 1.1, ""), wantErr: true},
		{name: "negative size", signal: NewSignal(SignalSell, ts, price, -0.1, 1, ""), wantErr: true},
		{name: "nan confidence", signal: NewSignal(SignalSell, ts, price, 0.5, math.NaN(), ""), wantErr: true},
		{name: "zero stop", signal: NewSignal(SignalBuy, ts, price, 1, 1, "").WithStopLoss(decimal.Zero), wantErr: true},
		{name: "valid levels", signal: NewSignal(SignalBuy, ts, price, 1, 1, "").WithStopLoss(decimal.NewFromInt(95)).WithTakeProfit(decimal.NewFromInt(110))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.signal.Validate()
			if tt.wantErr != (err != nil) {
				t.Fatalf("got %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidSignal) {
				t.Fatalf("got %v, want ErrInvalidSignal", err)
			}
		})
	}
}

func TestSignalSide(t *testing.T) {
	tests := []struct {
		kind   SignalKind
		want   Side
		wantOK bool
	}{
		{SignalBuy, SideLong, true},
		{SignalSell, SideShort, true},
		{SignalHold, "", false},
		{SignalCloseLong, "", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got, ok := Signal{Kind: tt.kind}.Side()
			if got != tt.want || ok != tt.wantOK {
				t.Fatalf("got %s/%v, want %s/%v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestSideOpposite(t *testing.T) {
	if got := SideLong.Opposite(); got != SideShort {
		t.Fatalf("LONG opposite = %s", got)
	}
	if got := SideShort.Opposite(); got != SideLong {
		t.Fatalf("SHORT opposite = %s", got)
	}
}
