package api

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// scheduleBackoff yields the given delays in order, then stops. Fixed
// schedules beat exponential curves here because the upstream documents its
// rate-limit windows.
func scheduleBackoff(steps ...time.Duration) retry.Backoff {
	i := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		if i >= len(steps) {
			return 0, true
		}
		d := steps[i]
		i++
		return d, false
	})
}
