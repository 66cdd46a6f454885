package client

import (
	"math"
	"time"
)

// NextBackoffDelay returns the reconnect delay for attempt N (1-based):
// initial doubled N-1 times, capped at maxDelay.
func NextBackoffDelay(initial, maxDelay time.Duration, attempt int) time.Duration {
	if initial <= 0 {
		return 0
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		if maxDelay > 0 && delay >= maxDelay/2 {
			return maxDelay
		}
		if delay > math.MaxInt64/2 {
			return delay
		}
		delay *= 2
	}
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}

// backoff counts consecutive failed connection attempts. Only a successful
// open resets it.
type backoff struct {
	initial time.Duration
	max     time.Duration
	attempt int
}

func (b *backoff) next() time.Duration {
	b.attempt++
	return NextBackoffDelay(b.initial, b.max, b.attempt)
}

func (b *backoff) reset() {
	b.attempt = 0
}
