//go:build !linux

package monotime

import "time"

var start = time.Now()

// Now returns nanoseconds since process start.
func Now() int64 {
	return int64(time.Since(start))
}
