package heartbeat

import (
	"log/slog"
	"sync"
	"time"
)

// Gap thresholds between consecutive stream heartbeats.
const (
	PoorConnectionThreshold = 30 * time.Second
	ReestablishedThreshold  = 180 * time.Second
)

// SignalKind identifies a liveness signal.
type SignalKind string

const (
	SignalPoorConnection               SignalKind = "poorRealtimeConnectionDetected"
	SignalConnectionReestablished      SignalKind = "connectionReestablished"
	SignalShortConnectionReestablished SignalKind = "shortConnectionReestablished"
)

// Signal is emitted when a heartbeat arrives after a long gap.
type Signal struct {
	Kind    SignalKind
	Elapsed time.Duration
}

// Monitor tracks server heartbeat frames.
type Monitor struct {
	logger *slog.Logger
	now    func() time.Time

	mu           sync.Mutex
	lastReceived time.Time
	resetAt      time.Time
}

// NewMonitor creates a Monitor. now defaults to time.Now.
func NewMonitor(now func() time.Time, logger *slog.Logger) *Monitor {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		logger:  logger,
		now:     now,
		resetAt: now(),
	}
}

// Beat records a heartbeat received now.
func (m *Monitor) Beat() []Signal {
	return m.BeatAt(m.now())
}

// BeatAt records a heartbeat received at t and returns the signals its gap warrants.
// The first heartbeat after a reset never produces signals.
func (m *Monitor) BeatAt(t time.Time) []Signal {
	m.mu.Lock()
	prev := m.lastReceived
	m.lastReceived = t
	m.mu.Unlock()

	if prev.IsZero() {
		return nil
	}

	elapsed := t.Sub(prev)
	if elapsed <= PoorConnectionThreshold {
		return nil
	}

	m.logger.Warn("heartbeat gap detected", "elapsed", elapsed)

	signals := []Signal{{Kind: SignalPoorConnection, Elapsed: elapsed}}
	if elapsed > ReestablishedThreshold {
		signals = append(signals, Signal{Kind: SignalConnectionReestablished, Elapsed: elapsed})
	} else {
		signals = append(signals, Signal{Kind: SignalShortConnectionReestablished, Elapsed: elapsed})
	}
	return signals
}

// Reset forgets the last heartbeat. Called whenever the stream (re)connects.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.lastReceived = time.Time{}
	m.resetAt = m.now()
	m.mu.Unlock()
}

// LastReceived returns the time of the last heartbeat since the last reset.
func (m *Monitor) LastReceived() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReceived, !m.lastReceived.IsZero()
}

// Stale reports whether nothing was heard for longer than timeout, measured from the
// last heartbeat or, if none arrived yet, from the last reset.
func (m *Monitor) Stale(timeout time.Duration) bool {
	m.mu.Lock()
	since := m.lastReceived
	if since.IsZero() {
		since = m.resetAt
	}
	m.mu.Unlock()
	return m.now().Sub(since) > timeout
}
