package outbox

import (
	"math/rand"
	"time"
)

// maxBackoff caps retry delays regardless of retry count.
const maxBackoff = 60 * time.Second

// Backoff returns the delay before the given retry attempt: base doubled per
// prior attempt, capped at 60s, with ±30% jitter so a burst of failures does
// not retry in lockstep.
func Backoff(retryCount int64, base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}

	d := base
	for i := int64(0); i < retryCount; i++ {
		d *= 2
		if d >= maxBackoff {
			d = maxBackoff
			break
		}
	}

	jitter := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * jitter)
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
