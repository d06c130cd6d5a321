package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Exponential computes Min * Factor^attempt, optionally randomized and
// capped by Max.
type Exponential struct {
	// Min is the delay for attempt 0.
	Min time.Duration

	// Max caps the delay. Zero disables the cap.
	Max time.Duration

	// Factor is the growth multiplier between attempts.
	Factor float64

	// Randomize multiplies the delay by a random factor in [1, 2).
	Randomize bool

	// Rand returns a float in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// DefaultExponential returns the schedule used for transient errors.
func DefaultExponential() Exponential {
	return Exponential{
		Min:       1 * time.Second,
		Max:       0,
		Factor:    2.0,
		Randomize: true,
	}
}

// Delay returns the backoff for the given attempt.
func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	factor := e.Factor
	if factor <= 0 {
		factor = 2.0
	}

	delay := float64(e.Min) * math.Pow(factor, float64(attempt))
	if e.Randomize {
		random := e.Rand
		if random == nil {
			random = rand.Float64
		}
		delay *= 1 + random()
	}

	if e.Max > 0 && delay > float64(e.Max) {
		delay = float64(e.Max)
	}
	if delay > float64(math.MaxInt64) || math.IsInf(delay, 1) {
		return time.Duration(math.MaxInt64)
	}
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}
