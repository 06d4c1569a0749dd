package consumer

import "time"

const (
	defaultInitialBackoff = 100 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
)

// Backoff is a bounded exponential delay: Initial, doubling on each call to
// Next, never above Max. Not safe for concurrent use.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration

	attempt int
}

// Next returns the delay for the current attempt and advances.
func (b *Backoff) Next() time.Duration {
	initial, max := b.Initial, b.Max
	if initial <= 0 {
		initial = defaultInitialBackoff
	}
	if max <= 0 {
		max = defaultMaxBackoff
	}
	if max < initial {
		max = initial
	}

	d := initial
	for i := 0; i < b.attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}

	b.attempt++
	return d
}

// Reset returns the policy to its initial delay.
func (b *Backoff) Reset() {
	b.attempt = 0
}
