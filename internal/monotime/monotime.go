// Package monotime reads the system monotonic clock, the time base camera
// frames and published records are stamped with.
package monotime

import "time"

// Since returns the time elapsed since a monotonic timestamp.
func Since(ns int64) time.Duration {
	return time.Duration(Now() - ns)
}
