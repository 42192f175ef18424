package channel

import (
	"math/rand/v2"
	"time"
)

// Default backoff bounds.
const (
	DefaultBackoffBase = time.Second
	DefaultBackoffMax  = 30 * time.Second
)

// Backoff computes reconnect delays from the consecutive failure count:
// min(Base * 2^retry, Max). Jitter, when non-zero, shaves up to that
// fraction off the delay; it is off by default.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64

	rand func() float64
}

// DefaultBackoff returns the 1s..30s deterministic policy.
func DefaultBackoff() Backoff {
	return Backoff{Base: DefaultBackoffBase, Max: DefaultBackoffMax}
}

// Delay returns the wait before the attempt following retry consecutive
// failures.
func (b Backoff) Delay(retry int) time.Duration {
	base, max := b.Base, b.Max
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if max < base {
		max = base
	}
	if retry < 0 {
		retry = 0
	}

	d := base
	for i := 0; i < retry && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}

	if b.Jitter > 0 {
		r := b.rand
		if r == nil {
			r = rand.Float64
		}
		j := b.Jitter
		if j > 1 {
			j = 1
		}
		d -= time.Duration(float64(d) * j * r())
	}
	return d
}
