package dialer

import (
	"strconv"
	"strings"
	"time"

	"call-platform/internal/ledger"
)

// dailyWindow is a same-day dialing window in minutes since midnight,
// local time. start <= t < end is open.
type dailyWindow struct {
	start int
	end   int
}

// windowOf parses the campaign's daily window. Malformed or absent
// values mean no window (dial around the clock). A lone start opens at
// start until midnight; a lone end opens from midnight until end.
func windowOf(c ledger.Campaign) (dailyWindow, bool) {
	if c.DailyStart == "" && c.DailyEnd == "" {
		return dailyWindow{}, false
	}
	w := dailyWindow{start: 0, end: 24 * 60}
	if c.DailyStart != "" {
		m, ok := parseClock(c.DailyStart)
		if !ok {
			return dailyWindow{}, false
		}
		w.start = m
	}
	if c.DailyEnd != "" {
		m, ok := parseClock(c.DailyEnd)
		if !ok {
			return dailyWindow{}, false
		}
		w.end = m
	}
	if w.end <= w.start {
		return dailyWindow{}, false
	}
	return w, true
}

func (w dailyWindow) open(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	return m >= w.start && m < w.end
}

// nextOpen returns the next instant the window opens at or after t.
func (w dailyWindow) nextOpen(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	opens := day.Add(time.Duration(w.start) * time.Minute)
	if !t.Before(opens) {
		opens = opens.AddDate(0, 0, 1)
	}
	return opens
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, false
	}
	hh, err1 := strconv.Atoi(h)
	mm, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, false
	}
	return hh*60 + mm, true
}
