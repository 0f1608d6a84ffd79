package dialer

import (
	"testing"
	"time"

	"call-platform/internal/ledger"
)

func TestWindowOf(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
		ok         bool
	}{
		{"none", "", "", false},
		{"full", "09:00", "18:00", true},
		{"end only", "", "18:00", true},
		{"start only", "08:30", "", true},
		{"inverted", "18:00", "09:00", false},
		{"malformed", "9am", "18:00", false},
		{"out of range", "25:00", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := windowOf(ledger.Campaign{DailyStart: tc.start, DailyEnd: tc.end})
			if ok != tc.ok {
				t.Fatalf("windowOf(%q, %q) ok = %v, want %v", tc.start, tc.end, ok, tc.ok)
			}
		})
	}
}

func TestWindowOpenAndNextOpen(t *testing.T) {
	w, ok := windowOf(ledger.Campaign{DailyStart: "09:00", DailyEnd: "18:00"})
	if !ok {
		t.Fatal("expected valid window")
	}

	at := func(h, m int) time.Time {
		return time.Date(2026, 3, 1, h, m, 0, 0, time.Local)
	}

	if w.open(at(8, 59)) {
		t.Fatal("08:59 must be closed")
	}
	if !w.open(at(9, 0)) {
		t.Fatal("09:00 must be open")
	}
	if !w.open(at(17, 59)) {
		t.Fatal("17:59 must be open")
	}
	if w.open(at(18, 0)) {
		t.Fatal("18:00 must be closed")
	}

	if got := w.nextOpen(at(7, 0)); !got.Equal(at(9, 0)) {
		t.Fatalf("nextOpen before start = %v, want same-day 09:00", got)
	}
	if got := w.nextOpen(at(19, 0)); !got.Equal(at(9, 0).AddDate(0, 0, 1)) {
		t.Fatalf("nextOpen after end = %v, want next-day 09:00", got)
	}
}
