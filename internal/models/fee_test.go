package models

import (
	"math"
	"testing"
)

func TestComputeFeeBreakdown(t *testing.T) {
	tests := []struct {
		amount int64
		fee    int64
		total  int64
	}{
		{100000, 2500, 102500},
		{1, 0, 1},
		{19, 0, 19},   // 0.475
		{20, 1, 21},   // 0.5 rounds up
		{60, 2, 62},   // 1.5 rounds up
		{99, 2, 101},  // 2.475
		{101, 3, 104}, // 2.525
		{250000, 6250, 256250},
		{1234567, 30864, 1265431}, // 30864.175
	}

	for _, tt := range tests {
		got := ComputeFeeBreakdown(tt.amount)
		if got.Fee != tt.fee || got.Total != tt.total || got.Amount != tt.amount {
			t.Errorf("ComputeFeeBreakdown(%d) = %+v, want fee=%d total=%d", tt.amount, got, tt.fee, tt.total)
		}
	}
}

func TestComputeFeeBreakdownMatchesRoundedRate(t *testing.T) {
	for amount := int64(1); amount <= 5000; amount++ {
		got := ComputeFeeBreakdown(amount)
		want := int64(math.Floor(float64(amount)*25/1000 + 0.5))
		if got.Fee != want {
			t.Fatalf("amount %d: fee %d, want %d", amount, got.Fee, want)
		}
		if got.Total != amount+got.Fee {
			t.Fatalf("amount %d: total %d, want %d", amount, got.Total, amount+got.Fee)
		}
	}
}
