package session

import (
	"math"
	"math/rand"
	"time"
)

// reconnector tracks retry attempts and produces exponential delays with
// jitter so a fleet of clients does not stampede the relay after an outage.
type reconnector struct {
	base        time.Duration
	max         time.Duration
	maxAttempts int
	attempt     int
}

func newReconnector(base, max time.Duration, maxAttempts int) *reconnector {
	return &reconnector{base: base, max: max, maxAttempts: maxAttempts}
}

func (r *reconnector) shouldRetry() bool {
	return r.attempt < r.maxAttempts
}

// next returns the delay before the upcoming attempt and counts it.
func (r *reconnector) next() time.Duration {
	jitter := time.Duration(rand.Float64() * float64(r.base) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.base)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.max),
	))
	r.attempt++
	return delay
}

func (r *reconnector) reset() {
	r.attempt = 0
}
