package session

import (
	"math"
	"math/rand"
	"time"
)

// Delay returns the wait before retry attempt n (1-based). The result
// never exceeds MaxDelay when one is set. With Jitter, the delay is drawn
// from [d/2, d) so concurrent retriers spread out; a nil rng takes the
// midpoint.
func (b BackoffConfig) Delay(n int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(b.InitialDelay)
	if n > 1 {
		d *= math.Pow(mult, float64(n-1))
	}
	if b.MaxDelay > 0 && d > float64(b.MaxDelay) {
		d = float64(b.MaxDelay)
	}
	if b.Jitter {
		f := 0.75
		if rng != nil {
			f = 0.5 + rng.Float64()/2
		}
		d *= f
	}
	return time.Duration(d)
}
