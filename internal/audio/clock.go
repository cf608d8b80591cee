package audio

import "time"

var processStart = time.Now()

// fallbackNanos reads Go's monotonic clock.
func fallbackNanos() int64 {
	return int64(time.Since(processStart))
}
