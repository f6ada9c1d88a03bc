package queue

import (
	"math/rand"
	"time"
)

const (
	backoffBase = time.Second
	backoffMax  = 30 * time.Second
	// backoffJitter spreads workers out so an empty queue is not polled in
	// lockstep.
	backoffJitter = time.Second
)

// randomizedBackoff produces exponentially growing, jittered wait times
// after empty acquires.
type randomizedBackoff struct {
	attempt int
}

func newRandomizedBackoff() *randomizedBackoff {
	return &randomizedBackoff{}
}

// Next returns the wait before the next acquire attempt.
func (b *randomizedBackoff) Next() time.Duration {
	backoff := backoffBase << b.attempt
	if backoff >= backoffMax {
		backoff = backoffMax
	} else {
		b.attempt++
	}

	jitter := time.Duration(rand.Int63n(int64(backoffJitter))) - backoffJitter/2
	return max(0, backoff+jitter)
}

// Reset restarts the progression after a successful acquire.
func (b *randomizedBackoff) Reset() {
	b.attempt = 0
}
