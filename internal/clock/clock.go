// Package clock implements per-side countdown accounting. Resolution is
// whole seconds; only the side on move is ever debited.
package clock

import "time"

// DefaultBudget is the per-side time budget in seconds for a new match.
const DefaultBudget = 300

// Elapsed returns the whole seconds between lastMoveAt and now, floored,
// never negative. A zero lastMoveAt means the clock has not started.
func Elapsed(lastMoveAt, now time.Time) int {
	if lastMoveAt.IsZero() || now.Before(lastMoveAt) {
		return 0
	}
	return int(now.Sub(lastMoveAt) / time.Second)
}

// Debit subtracts elapsed from remaining, clamping at zero.
func Debit(remaining, elapsed int) int {
	r := remaining - elapsed
	if r < 0 {
		return 0
	}
	return r
}

// Expired reports whether a remaining budget has run out.
func Expired(remaining int) bool { return remaining <= 0 }
