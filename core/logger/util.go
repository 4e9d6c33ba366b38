package logger

import "time"

// RoundMS rounds a duration to whole milliseconds; log lines carry
// millisecond precision only.
func RoundMS(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d.Round(time.Millisecond)
}
