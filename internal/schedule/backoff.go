package schedule

import "time"

// Backoff doubles a delay between Min and Max.
type Backoff struct {
	Min     time.Duration
	Max     time.Duration
	current time.Duration
}

// Next returns the delay to wait before the next attempt.
func (b *Backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.Min
		return b.current
	}
	b.current *= 2
	if b.current > b.Max {
		b.current = b.Max
	}
	return b.current
}

// Reset starts over from Min.
func (b *Backoff) Reset() {
	b.current = 0
}
