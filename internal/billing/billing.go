package billing

// Metering rules shared by the lifecycle monitor and the dialer.
//
// Contract:
// - Whole-minute rounding: billable minutes = ceil(duration_seconds / 60).
// - Cost is minute-denominated credit: minutes * rate.
// - Pure calculation; rate resolution is a fallback chain, not a lookup.

// BillableMinutes rounds a duration in seconds up to whole minutes.
// Zero or negative durations bill zero minutes.
func BillableMinutes(durationSeconds int) int {
	if durationSeconds <= 0 {
		return 0
	}
	return (durationSeconds + 59) / 60
}

// Cost converts billed minutes into credit minutes at the given rate.
func Cost(minutes int, ratePerMinute float64) float64 {
	if minutes <= 0 || ratePerMinute <= 0 {
		return 0
	}
	return float64(minutes) * ratePerMinute
}

// EffectiveRate prefers the account override and falls back to the
// platform default.
func EffectiveRate(accountRate, defaultRate float64) float64 {
	if accountRate > 0 {
		return accountRate
	}
	return defaultRate
}
