package purchase

import (
	"math"
	"testing"
)

func TestComputeAmount(t *testing.T) {
	tests := []struct {
		name     string
		price    float64
		discount float64
		want     float64
	}{
		{"no discount", 1000, 0, 1000.00},
		{"ten percent", 1000, 10, 900.00},
		{"full discount", 1000, 100, 0.00},
		{"rounds half up", 99.99, 50, 50.00},
		{"rounds repeating", 10, 33, 6.70},
		{"free course", 0, 0, 0.00},
		{"cents survive", 49.99, 0, 49.99},
		{"third off", 1500.50, 25, 1125.38},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeAmount(tt.price, tt.discount)
			if err != nil {
				t.Fatalf("ComputeAmount(%v, %v): unexpected error %v", tt.price, tt.discount, err)
			}
			if got != tt.want {
				t.Fatalf("ComputeAmount(%v, %v) = %v, want %v", tt.price, tt.discount, got, tt.want)
			}
			if got < 0 {
				t.Fatalf("ComputeAmount(%v, %v) = %v, amounts must never go negative", tt.price, tt.discount, got)
			}
		})
	}
}

func TestComputeAmountRejectsMalformed(t *testing.T) {
	bad := []struct {
		name     string
		price    float64
		discount float64
	}{
		{"negative price", -1, 0},
		{"nan price", math.NaN(), 0},
		{"inf price", math.Inf(1), 0},
		{"negative discount", 100, -5},
		{"discount above 100", 100, 101},
		{"nan discount", 100, math.NaN()},
	}

	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ComputeAmount(tt.price, tt.discount); err == nil {
				t.Fatalf("ComputeAmount(%v, %v): expected error", tt.price, tt.discount)
			}
		})
	}
}
