// Package backoff implements the polling adapter's exponential-backoff-
// with-jitter algorithm, pinned to the exact formula the spec's testable
// invariants require: next = initial if the current value is zero, else
// min(prev*factor, max); the actual sleep adds jitter in [0, next*jitterFactor].
package backoff

import (
	"math/rand"
	"time"
)

// Backoff tracks the current pre-jitter backoff value across calls.
type Backoff struct {
	Initial      time.Duration
	Max          time.Duration
	Factor       float64
	JitterFactor float64

	current time.Duration
	rand    *rand.Rand
}

// New builds a Backoff with the given tuning parameters.
func New(initial, max time.Duration, factor, jitterFactor float64) *Backoff {
	return &Backoff{
		Initial:      initial,
		Max:          max,
		Factor:       factor,
		JitterFactor: jitterFactor,
		rand:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Reset sets the current backoff back to zero, called on every successful
// claim.
func (b *Backoff) Reset() {
	b.current = 0
}

// Next advances the backoff state and returns the duration to actually
// sleep (pre-jitter value plus jitter).
func (b *Backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.Initial
	} else {
		next := time.Duration(float64(b.current) * b.Factor)
		if next > b.Max {
			next = b.Max
		}
		b.current = next
	}

	jitter := time.Duration(b.rand.Float64() * float64(b.current) * b.JitterFactor)
	return b.current + jitter
}

// Current returns the pre-jitter backoff value as of the last Next() call
// (zero before the first call or after Reset).
func (b *Backoff) Current() time.Duration {
	return b.current
}
