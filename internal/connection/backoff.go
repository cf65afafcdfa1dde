package connection

import (
	"math/rand"
	"sync"
	"time"
)

// Backoff constants for stream reconnection.
const (
	// DefaultAcceptableErrors is the number of consecutive errors reconnected immediately.
	DefaultAcceptableErrors = 2

	// FirstTierDelay is the base delay for the first error above the threshold.
	FirstTierDelay = 5 * time.Second

	// SecondTierDelay is the base delay for every later error above the threshold.
	SecondTierDelay = 10 * time.Second

	// JitterRange is the width of the uniform jitter added to either tier.
	JitterRange = 2 * time.Second
)

// Backoff computes reconnect delays from the consecutive error count.
// There are two randomized tiers and no further growth.
type Backoff struct {
	threshold int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewBackoff creates a Backoff tolerating threshold consecutive errors.
func NewBackoff(threshold int) *Backoff {
	return NewBackoffWithRand(threshold, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewBackoffWithRand creates a Backoff with an explicit random source.
func NewBackoffWithRand(threshold int, rng *rand.Rand) *Backoff {
	if threshold < 0 {
		threshold = 0
	}
	return &Backoff{threshold: threshold, rng: rng}
}

// Threshold returns the number of tolerated consecutive errors.
func (b *Backoff) Threshold() int {
	return b.threshold
}

// Delay returns the wait before reconnecting after consecutiveErrors errors.
// It is 0 while the count does not exceed the threshold.
func (b *Backoff) Delay(consecutiveErrors int) time.Duration {
	excess := consecutiveErrors - b.threshold
	switch {
	case excess <= 0:
		return 0
	case excess == 1:
		return FirstTierDelay + b.jitter()
	default:
		return SecondTierDelay + b.jitter()
	}
}

func (b *Backoff) jitter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Duration(b.rng.Float64() * float64(JitterRange))
}
