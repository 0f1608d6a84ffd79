package billing

import "testing"

func TestBillableMinutes_RoundsUp(t *testing.T) {
	cases := []struct {
		seconds int
		want    int
	}{
		{0, 0},
		{-5, 0},
		{1, 1},
		{59, 1},
		{60, 1},
		{61, 2},
		{180, 3},
		{181, 4},
	}
	for _, c := range cases {
		if got := BillableMinutes(c.seconds); got != c.want {
			t.Fatalf("BillableMinutes(%d) = %d, want %d", c.seconds, got, c.want)
		}
	}
}

func TestCost(t *testing.T) {
	if got := Cost(3, 1.0); got != 3.0 {
		t.Fatalf("Cost(3, 1.0) = %v, want 3", got)
	}
	if got := Cost(2, 1.5); got != 3.0 {
		t.Fatalf("Cost(2, 1.5) = %v, want 3", got)
	}
	if got := Cost(0, 1.0); got != 0 {
		t.Fatalf("Cost(0, 1.0) = %v, want 0", got)
	}
}

func TestEffectiveRate_PrefersAccountOverride(t *testing.T) {
	if got := EffectiveRate(2.5, 1.0); got != 2.5 {
		t.Fatalf("expected override 2.5, got %v", got)
	}
	if got := EffectiveRate(0, 1.0); got != 1.0 {
		t.Fatalf("expected default 1.0, got %v", got)
	}
}
