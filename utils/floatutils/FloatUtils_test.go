package floatutils

import (
	"math"
	"testing"
)

func TestAllFinite(t *testing.T) {
	tests := []struct {
		in   []float64
		want bool
	}{
		{[]float64{0, 0.5, 1}, true},
		{[]float64{0, math.NaN()}, false},
		{[]float64{math.Inf(1)}, false},
		{[]float64{math.MaxFloat64, math.MaxFloat64}, true},
		{nil, false},
	}

	for _, test := range tests {
		if have := AllFinite(test.in); have != test.want {
			t.Errorf("allfinite(%v): \n\twant(%v) \n\thave(%v)", test.in,
				test.want, have)
		}
	}
}

func TestArgmaxLowestIndexOnTies(t *testing.T) {
	if have := Argmax([]float64{1, 3, 3, -2}); have != 1 {
		t.Errorf("argmax: \n\twant(1) \n\thave(%v)", have)
	}
}
