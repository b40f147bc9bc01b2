package reward

import (
	"math"
	"testing"
)

func TestRich(t *testing.T) {
	alive := State{Score: 3, Y: 200, CeilingY: 12}

	tests := []struct {
		name       string
		prev, next State
		want       float64
	}{
		{"alive", alive, State{Score: 3, Y: 210, CeilingY: 12}, 0.1},
		{"scored", alive, State{Score: 4, Y: 210, CeilingY: 12}, 10.1},
		{"ceiling", alive, State{Score: 3, Y: 12, CeilingY: 12}, -2.9},
		{"floor death", alive, State{Score: 3, Y: 400, CeilingY: 12,
			Done: true, Cause: Floor}, -14.9},
		{"crash", alive, State{Score: 3, Y: 250, CeilingY: 12, Done: true,
			Cause: Crash}, -9.9},
		{"already dead", State{Done: true, Cause: Crash, CeilingY: 12,
			Y: 250}, State{Done: true, Cause: Crash, CeilingY: 12, Y: 250},
			0.1},
	}

	scheme := Rich()
	for _, test := range tests {
		have := scheme.Reward(test.prev, test.next)
		if math.Abs(have-test.want) > 1e-9 {
			t.Errorf("%s: \n\twant(%v) \n\thave(%v)", test.name, test.want,
				have)
		}
	}
}

func TestSimpleSinglePenalty(t *testing.T) {
	scheme := Simple()
	prev := State{Y: 100}

	floor := scheme.Reward(prev, State{Y: 400, Done: true, Cause: Floor})
	crash := scheme.Reward(prev, State{Y: 100, Done: true, Cause: Crash})
	if floor != crash {
		t.Errorf("terminal penalties differ: floor(%v) crash(%v)", floor,
			crash)
	}
	if math.Abs(floor-(-0.9)) > 1e-9 {
		t.Errorf("terminal: \n\twant(-0.9) \n\thave(%v)", floor)
	}
}

func TestNamed(t *testing.T) {
	if _, err := Named("rich"); err != nil {
		t.Error(err)
	}
	if _, err := Named("sparse"); err == nil {
		t.Error("named: expected error for unknown scheme")
	}
}
