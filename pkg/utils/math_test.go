package utils

import (
	"math"
	"reflect"
	"testing"
)

func TestClamp(t *testing.T) {
	if got := Clamp(5, 0, 3); got != 3 {
		t.Errorf("Clamp(5,0,3) = %d", got)
	}
	if got := Clamp(-1.5, 0.0, 1.0); got != 0.0 {
		t.Errorf("Clamp(-1.5,0,1) = %f", got)
	}
	if got := Clamp(2, 0, 3); got != 2 {
		t.Errorf("Clamp(2,0,3) = %d", got)
	}
}

func TestCeilDivAndProduct(t *testing.T) {
	if got := CeilDiv(100, 8); got != 13 {
		t.Errorf("CeilDiv(100,8) = %d", got)
	}
	if got := CeilDiv(96, 8); got != 12 {
		t.Errorf("CeilDiv(96,8) = %d", got)
	}
	if got := Product([]int{2, 3, 4}); got != 24 {
		t.Errorf("Product = %d", got)
	}
	if got := Product([]int{}); got != 1 {
		t.Errorf("empty Product = %d", got)
	}
}

func TestDivisors(t *testing.T) {
	tests := []struct {
		n    int
		want []int
	}{
		{1, []int{1}},
		{12, []int{1, 2, 3, 4, 6, 12}},
		{50, []int{1, 2, 5, 10, 25, 50}},
		{49, []int{1, 7, 49}},
		{0, nil},
	}
	for _, tt := range tests {
		if got := Divisors(tt.n); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Divisors(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestPowersOfTwo(t *testing.T) {
	if got := PowersOfTwo(20); !reflect.DeepEqual(got, []int{1, 2, 4, 8, 16}) {
		t.Errorf("PowersOfTwo(20) = %v", got)
	}
}

func TestStatistics(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	if Mean(values) != 3 {
		t.Errorf("Mean = %f", Mean(values))
	}
	if math.Abs(StdDev(values)-math.Sqrt2) > 1e-9 {
		t.Errorf("StdDev = %f", StdDev(values))
	}
	if Percentile(values, 50) != 3 {
		t.Errorf("P50 = %f", Percentile(values, 50))
	}
	if Percentile(nil, 50) != 0 || Mean(nil) != 0 {
		t.Errorf("empty input should yield 0")
	}
}
