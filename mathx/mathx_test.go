package mathx

import "testing"

func TestRoundHalfUp(t *testing.T) {
	cases := []struct {
		in, unit, out float64
	}{
		{127.5, 1, 128},
		{0.5, 1, 1},
		{-2.5, 1, -2},
		{-2.6, 1, -3},
		{1.26, 0.1, 1.3},
	}
	for _, c := range cases {
		got := Round(c.in, c.unit)
		if diff := got - c.out; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("Round(%v, %v) = %v, expected %v", c.in, c.unit, got, c.out)
		}
	}
}

func TestRoundInt(t *testing.T) {
	if got := RoundInt(24.5); got != 25 {
		t.Errorf("expected 25, got %d", got)
	}
	if got := RoundInt(-0.5); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}
