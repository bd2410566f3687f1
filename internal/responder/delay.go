package responder

import (
	"math/rand/v2"
	"time"
)

const (
	delayUnit = 30 * time.Millisecond
	maxJitter = 500 * time.Millisecond
)

// ResponseDelay is how long a bot waits before answering:
// (101 - speed) * 30ms plus jitter. speed is clamped to 0..100.
func ResponseDelay(speed int, jitter time.Duration) time.Duration {
	if speed < 0 {
		speed = 0
	}
	if speed > 100 {
		speed = 100
	}
	return time.Duration(101-speed)*delayUnit + jitter
}

// RandomJitter returns a uniform duration in [0, 500ms).
func RandomJitter() time.Duration {
	return rand.N(maxJitter)
}
