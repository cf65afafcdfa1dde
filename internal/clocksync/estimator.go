// Package clocksync estimates the offset between the local clock and the server's.
package clocksync

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// SampleWindow bounds how long a sample contributes to the estimate.
	SampleWindow = time.Hour

	// RequestMargin is subtracted from the session window to get the minimum
	// spacing between clock requests.
	RequestMargin = 20 * time.Second

	// FailureBackoff is the minimum spacing between attempts after a failed
	// clock request.
	FailureBackoff = 10 * time.Second

	minRTT = time.Millisecond
)

// TimeSource fetches the server's current time.
type TimeSource interface {
	ServerTime(ctx context.Context) (time.Time, error)
}

// Sample is one round-trip measurement.
type Sample struct {
	ObservedAt time.Time
	ClockDiff  time.Duration // server - local midpoint
	Weight     float64       // 1/rtt in 1/ms
}

// Estimator keeps a trailing window of samples and their weighted mean offset.
type Estimator struct {
	source TimeSource
	logger *slog.Logger
	now    func() time.Time

	group singleflight.Group

	mu             sync.Mutex
	window         time.Duration
	samples        []Sample
	offset         time.Duration
	known          bool
	lastRequest    time.Time // send time of the last successful request
	nextAttempt    time.Time
	failureBackoff time.Duration
}

// New creates an Estimator. window is the server's stated session lifetime.
func New(source TimeSource, window time.Duration, logger *slog.Logger) *Estimator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Estimator{
		source: source,
		logger: logger,
		now:    time.Now,
		window: window,

		failureBackoff: FailureBackoff,
	}
}

// SetWindow updates the session lifetime used to space requests.
func (e *Estimator) SetWindow(window time.Duration) {
	if window <= 0 {
		return
	}
	e.mu.Lock()
	e.window = window
	e.mu.Unlock()
}

// Sync requests the server time unless a request succeeded within the last
// (window - RequestMargin). A failed request is retried no sooner than
// FailureBackoff later. Concurrent callers share one request.
func (e *Estimator) Sync(ctx context.Context) error {
	if !e.due() {
		return nil
	}

	_, err, _ := e.group.Do("sync", func() (any, error) {
		e.mu.Lock()
		if !e.dueLocked() {
			e.mu.Unlock()
			return nil, nil
		}
		sentAt := e.now()
		e.mu.Unlock()

		serverTime, err := e.source.ServerTime(ctx)
		receivedAt := e.now()
		if err != nil {
			e.mu.Lock()
			e.nextAttempt = receivedAt.Add(e.failureBackoff)
			e.mu.Unlock()
			return nil, fmt.Errorf("fetch server time: %w", err)
		}

		e.mu.Lock()
		e.lastRequest = sentAt
		e.nextAttempt = time.Time{}
		e.mu.Unlock()
		e.AddSample(sentAt, receivedAt, serverTime)
		return nil, nil
	})
	return err
}

func (e *Estimator) due() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dueLocked()
}

func (e *Estimator) dueLocked() bool {
	now := e.now()
	if now.Before(e.nextAttempt) {
		return false
	}
	return e.lastRequest.IsZero() || now.Sub(e.lastRequest) >= e.window-RequestMargin
}

// AddSample records a round trip and recomputes the offset.
func (e *Estimator) AddSample(sentAt, receivedAt, serverTime time.Time) {
	rtt := receivedAt.Sub(sentAt)
	if rtt < minRTT {
		rtt = minRTT
	}
	midpoint := sentAt.Add(receivedAt.Sub(sentAt) / 2)

	sample := Sample{
		ObservedAt: receivedAt,
		ClockDiff:  serverTime.Sub(midpoint),
		Weight:     1 / float64(rtt.Milliseconds()),
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := receivedAt.Add(-SampleWindow)
	kept := e.samples[:0]
	for _, s := range e.samples {
		if !s.ObservedAt.Before(cutoff) {
			kept = append(kept, s)
		}
	}
	e.samples = append(kept, sample)
	e.offset = WeightedOffset(e.samples)
	e.known = true

	e.logger.Debug("clock sample recorded",
		"clock_diff", sample.ClockDiff,
		"rtt", rtt,
		"offset", e.offset,
		"samples", len(e.samples),
	)
}

// WeightedOffset returns sum(weight*diff)/sum(weight) rounded to the millisecond.
func WeightedOffset(samples []Sample) time.Duration {
	var num, den float64
	for _, s := range samples {
		num += s.Weight * float64(s.ClockDiff) / float64(time.Millisecond)
		den += s.Weight
	}
	if den == 0 {
		return 0
	}
	return time.Duration(math.Round(num/den)) * time.Millisecond
}

// Offset returns the current offset and whether any sample exists.
func (e *Estimator) Offset() (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offset, e.known
}

// Now returns the estimated server time, or false if no sample was ever taken.
func (e *Estimator) Now() (time.Time, bool) {
	offset, ok := e.Offset()
	if !ok {
		return time.Time{}, false
	}
	return e.now().Add(offset), true
}

// Samples returns a copy of the retained samples.
func (e *Estimator) Samples() []Sample {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Sample, len(e.samples))
	copy(out, e.samples)
	return out
}
