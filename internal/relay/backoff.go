package relay

import "time"

// Backoff grows the reconnect delay geometrically up to Max
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64

	attempts int
}

func (b *Backoff) applyDefaults() {
	if b.Initial <= 0 {
		b.Initial = time.Second
	}
	if b.Max < b.Initial {
		b.Max = 30 * time.Second
		if b.Max < b.Initial {
			b.Max = b.Initial
		}
	}
	if b.Multiplier < 1 {
		b.Multiplier = 2
	}
}

// Next returns the delay before the next attempt: initial * multiplier^n
func (b *Backoff) Next() time.Duration {
	delay := b.Initial
	for i := 0; i < b.attempts; i++ {
		delay = time.Duration(float64(delay) * b.Multiplier)
		if delay >= b.Max {
			delay = b.Max
			break
		}
	}
	b.attempts++
	return delay
}

// Reset starts over after a successful connection
func (b *Backoff) Reset() {
	b.attempts = 0
}
