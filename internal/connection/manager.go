package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/realtime-client/internal/heartbeat"
)

// readyHandle releases callers waiting for the connection identity.
type readyHandle struct {
	done chan struct{}
	once sync.Once
	id   string
	err  error
}

func newReadyHandle() *readyHandle {
	return &readyHandle{done: make(chan struct{})}
}

func (r *readyHandle) resolve(id string, err error) {
	if r == nil {
		return
	}
	r.once.Do(func() {
		r.id = id
		r.err = err
		close(r.done)
	})
}

func (r *readyHandle) resolved() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithBackoff replaces the backoff derived from the config.
func WithBackoff(b *Backoff) ManagerOption {
	return func(m *Manager) {
		m.backoff = b
	}
}

// WithSessionIDs sets the generator for realtime session ids.
func WithSessionIDs(fn func() string) ManagerOption {
	return func(m *Manager) {
		m.newSessionID = fn
	}
}

// Manager owns the stream state machine.
type Manager struct {
	cfg          ManagerConfig
	dialer       Dialer
	hooks        Hooks
	backoff      *Backoff
	logger       *slog.Logger
	newSessionID func() string

	ctx    context.Context
	cancel context.CancelFunc

	mu                 sync.Mutex
	state              State
	gen                uint64 // bumped whenever the current stream is abandoned
	stream             Stream
	ready              *readyHandle
	sessionID          string
	clientConnectionID string
	overrides          url.Values
	consecutiveErrors  int
	retryAttempt       int
	opens              int64
	opened             bool // a stream opened since the last explicit Disconnect
	authExpired        bool
	reconnectTimer     *time.Timer
	liveness           *heartbeat.Task
}

// NewManager creates a Connection Manager in the Disconnected state.
func NewManager(cfg ManagerConfig, dialer Dialer, hooks Hooks, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SessionParam == "" {
		cfg.SessionParam = DefaultManagerConfig().SessionParam
	}

	threshold := cfg.AcceptableErrors
	if cfg.ZeroErrorTolerance {
		threshold = 0
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		cfg:          cfg,
		dialer:       dialer,
		hooks:        hooks,
		backoff:      NewBackoff(threshold),
		logger:       logger,
		newSessionID: uuid.NewString,
		ctx:          ctx,
		cancel:       cancel,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Connect opens the stream if needed and waits for the identity frame. Calls made
// while a stream is opening or open share the same handle and do not dial again.
// It returns the client connection id.
func (m *Manager) Connect(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.state == StateDisposed {
		m.mu.Unlock()
		return "", ErrDisposed
	}
	m.authExpired = false
	ready := m.connectLocked()
	m.mu.Unlock()

	select {
	case <-ready.done:
		return ready.id, ready.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// StartConnect begins connecting and returns immediately.
func (m *Manager) StartConnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateDisposed {
		return
	}
	m.authExpired = false
	m.connectLocked()
}

// Disconnect closes the stream and clears the ids. It reports whether an open
// stream was closed; it is a no-op when already disconnected. The next stream to
// open is reported as a first open, not a reconnect.
func (m *Manager) Disconnect() bool {
	return m.disconnect(true)
}

func (m *Manager) disconnect(explicit bool) bool {
	m.mu.Lock()
	if explicit {
		m.opened = false
	}
	if m.state == StateDisconnected || m.state == StateDisposed {
		m.mu.Unlock()
		return false
	}

	m.stopTimerLocked()
	stream := m.stream
	m.stream = nil
	m.sessionID = ""
	m.clientConnectionID = ""
	m.state = StateDisconnected
	m.gen++
	ready := m.ready
	m.ready = nil
	m.mu.Unlock()

	ready.resolve("", ErrNotConnected)

	if stream == nil {
		return false
	}
	stream.Close()
	m.logger.Info("stream disconnected")
	return true
}

// Reconnect disconnects and connects again with the given query overrides. nil
// keeps the current overrides; an empty url.Values clears them.
func (m *Manager) Reconnect(ctx context.Context, overrides url.Values) (string, error) {
	if !m.setOverrides(overrides) {
		return "", ErrDisposed
	}
	m.disconnect(false)
	return m.Connect(ctx)
}

// StartReconnect is Reconnect without waiting for the identity.
func (m *Manager) StartReconnect(overrides url.Values) {
	if !m.setOverrides(overrides) {
		return
	}
	m.disconnect(false)
	m.StartConnect()
}

// ExpireAuth closes the connection after a REST call was rejected as
// unauthorized. Automatic reconnects stay off until Connect or StartConnect.
func (m *Manager) ExpireAuth(err error) {
	m.mu.Lock()
	if m.state == StateDisposed || m.authExpired {
		m.mu.Unlock()
		return
	}
	m.stopTimerLocked()
	stream := m.stream
	m.stream = nil
	m.clientConnectionID = ""
	m.gen++
	ready := m.expireLocked()
	m.mu.Unlock()

	m.notifyExpired(stream, ready, err)
}

// HandleIdentity records the identity frame of the current stream and releases
// callers waiting in Connect.
func (m *Manager) HandleIdentity(id Identity) {
	m.mu.Lock()
	if m.state != StateConnected {
		state := m.state
		m.mu.Unlock()
		m.logger.Debug("identity ignored", "state", state)
		return
	}
	m.clientConnectionID = id.ClientConnectionID
	ready := m.ready
	m.mu.Unlock()

	m.logger.Info("connection identified",
		"client_connection_id", id.ClientConnectionID,
		"personal_topics", len(id.PersonalTopics),
	)

	if m.hooks.OnIdentity != nil {
		m.hooks.OnIdentity(id)
	}
	ready.resolve(id.ClientConnectionID, nil)
}

// Dispose closes the stream and cancels the reconnect timer and liveness check.
// No automatic reconnect happens afterwards.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.state == StateDisposed {
		m.mu.Unlock()
		return
	}
	m.state = StateDisposed
	m.stopTimerLocked()
	stream := m.stream
	m.stream = nil
	m.sessionID = ""
	m.clientConnectionID = ""
	m.gen++
	ready := m.ready
	m.ready = nil
	liveness := m.liveness
	m.liveness = nil
	m.mu.Unlock()

	m.cancel()
	liveness.Stop()
	if stream != nil {
		stream.Close()
	}
	ready.resolve("", ErrDisposed)

	m.logger.Info("connection manager disposed")
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SessionID returns the realtime session id of the current connection attempt.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// ClientConnectionID returns the id from the identity frame, or "" before it.
func (m *Manager) ClientConnectionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clientConnectionID
}

// Stats returns a snapshot of the manager state.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		State:              m.state,
		SessionID:          m.sessionID,
		ClientConnectionID: m.clientConnectionID,
		ConsecutiveErrors:  m.consecutiveErrors,
		RetryAttempt:       m.retryAttempt,
		Opens:              m.opens,
		AuthExpired:        m.authExpired,
	}
}

func (m *Manager) setOverrides(overrides url.Values) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateDisposed {
		return false
	}
	if overrides != nil {
		m.overrides = cloneValues(overrides)
	}
	return true
}

// connectLocked returns the in-flight handle, or opens a new stream.
func (m *Manager) connectLocked() *readyHandle {
	switch m.state {
	case StateConnecting, StateConnected:
		return m.ready
	}
	m.stopTimerLocked()
	return m.openLocked()
}

func (m *Manager) openLocked() *readyHandle {
	if m.ready == nil || m.ready.resolved() {
		m.ready = newReadyHandle()
	}
	if m.sessionID == "" {
		m.sessionID = m.newSessionID()
	}
	m.state = StateConnecting
	m.gen++

	go m.dial(m.gen, m.sessionID, cloneValues(m.overrides))

	return m.ready
}

func (m *Manager) dial(gen uint64, sessionID string, overrides url.Values) {
	target, err := streamURL(m.cfg.URL, m.cfg.SessionParam, sessionID, overrides)

	var header http.Header
	if err == nil && m.cfg.Headers != nil {
		header, err = m.cfg.Headers.Headers()
		if err != nil {
			err = fmt.Errorf("stream headers: %w", err)
		}
	}

	var stream Stream
	if err == nil {
		stream, err = m.dialer.Dial(m.ctx, target, header)
	}
	if err != nil {
		m.handleError(gen, err)
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		stream.Close()
		return
	}
	m.stream = stream
	m.state = StateConnected
	m.consecutiveErrors = 0
	m.retryAttempt = 0
	reconnect := m.opened
	m.opened = true
	m.opens++
	m.startLivenessLocked()
	m.mu.Unlock()

	m.logger.Info("stream opened",
		"session_id", sessionID,
		"reconnect", reconnect,
	)

	if m.hooks.OnOpen != nil {
		m.hooks.OnOpen(reconnect)
	}

	go m.readLoop(gen, stream)
}

// readLoop hands frames to OnFrame one at a time, in arrival order.
func (m *Manager) readLoop(gen uint64, stream Stream) {
	for frame := range stream.Frames() {
		if !m.isCurrent(gen) {
			return
		}
		if m.hooks.OnFrame != nil {
			m.hooks.OnFrame(frame)
		}
	}

	err := stream.Err()
	if err == nil {
		err = ErrStreamClosed
	}
	m.handleError(gen, err)
}

// handleError applies the failure policy for the stream of generation gen.
func (m *Manager) handleError(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen || m.state == StateDisposed {
		m.mu.Unlock()
		return
	}

	stream := m.stream
	m.stream = nil
	m.clientConnectionID = ""
	m.gen++

	if errors.Is(err, ErrAuthExpired) {
		ready := m.expireLocked()
		m.mu.Unlock()
		m.notifyExpired(stream, ready, err)
		return
	}

	m.consecutiveErrors++
	m.retryAttempt++
	delay := m.backoff.Delay(m.consecutiveErrors)
	if delay == 0 {
		m.state = StateErroring
	} else {
		m.state = StateReconnecting
	}
	next := m.gen
	m.reconnectTimer = time.AfterFunc(delay, func() { m.retry(next) })
	consecutive := m.consecutiveErrors
	m.mu.Unlock()

	if stream != nil {
		stream.Close()
	}

	m.logger.Warn("stream error",
		"error", err,
		"consecutive_errors", consecutive,
		"delay", delay,
	)
}

// expireLocked moves to Disconnected with reconnects suppressed. The caller has
// already detached the stream and bumped the generation.
func (m *Manager) expireLocked() *readyHandle {
	m.state = StateDisconnected
	m.authExpired = true
	m.sessionID = ""
	ready := m.ready
	m.ready = nil
	return ready
}

func (m *Manager) notifyExpired(stream Stream, ready *readyHandle, err error) {
	if stream != nil {
		stream.Close()
	}
	m.logger.Error("unauthorized, automatic reconnect stopped", "error", err)
	if m.hooks.OnAuthExpired != nil {
		m.hooks.OnAuthExpired(err)
	}
	ready.resolve("", err)
}

// retry fires from the reconnect timer.
func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.authExpired {
		return
	}
	if m.state != StateErroring && m.state != StateReconnecting {
		return
	}
	m.reconnectTimer = nil
	m.openLocked()
}

func (m *Manager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

func (m *Manager) stopTimerLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func (m *Manager) startLivenessLocked() {
	if m.liveness != nil || m.cfg.Liveness == nil || m.cfg.LivenessInterval <= 0 {
		return
	}
	m.liveness = heartbeat.StartTask(m.ctx, m.cfg.LivenessInterval, false, m.checkLiveness)
}

// checkLiveness reconnects a connected stream whose heartbeats stopped.
func (m *Manager) checkLiveness(context.Context) {
	if m.State() != StateConnected {
		return
	}
	if !m.cfg.Liveness.Stale(m.cfg.LivenessTimeout) {
		return
	}
	m.logger.Warn("stream heartbeat stale, reconnecting", "timeout", m.cfg.LivenessTimeout)
	m.StartReconnect(nil)
}

// streamURL adds the session id and overrides to the configured stream URL.
func streamURL(base, sessionParam, sessionID string, overrides url.Values) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	q := u.Query()
	q.Set(sessionParam, sessionID)
	for k, vs := range overrides {
		q[k] = append([]string(nil), vs...)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return nil
	}
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
