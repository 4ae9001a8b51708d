// Package clock provides the pure time-budget arithmetic for game clocks.
// All values are whole seconds; timestamps are unix milliseconds to match the
// persisted session record.
package clock

import "time"

// ElapsedSeconds returns the whole seconds between the last accepted move and
// now, floored. A timestamp in the future charges nothing.
func ElapsedSeconds(lastMoveMillis int64, now time.Time) int {
	d := now.UnixMilli() - lastMoveMillis
	if d <= 0 {
		return 0
	}
	return int(d / 1000)
}

// Charge deducts the wall-clock elapsed time from a remaining budget. The
// result may dip below zero; finalization clamps it.
func Charge(remaining int, lastMoveMillis int64, now time.Time) int {
	return remaining - ElapsedSeconds(lastMoveMillis, now)
}

// Expired reports whether a remaining budget means the flag has fallen.
func Expired(remaining int) bool {
	return remaining <= 0
}

// Clamp floors a remaining budget at zero for finalized sessions.
func Clamp(remaining int) int {
	if remaining < 0 {
		return 0
	}
	return remaining
}
