package units

import "time"

// LockWindow converts a consecutive-cycle count into the wall-clock duration
// it represents at the given telemetry cadence. Display only: the lock
// decision itself counts cycles, not time.
func LockWindow(count int, interval time.Duration) time.Duration {
	if count < 0 {
		return 0
	}
	return time.Duration(count) * interval
}

// CyclesIn reports how many telemetry cycles fit in the given window at the
// given cadence, rounding down. A non-positive interval yields zero.
func CyclesIn(window, interval time.Duration) int {
	if interval <= 0 || window <= 0 {
		return 0
	}
	return int(window / interval)
}
