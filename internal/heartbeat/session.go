package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/realtime-client/internal/api"
)

// DefaultSessionInterval is the spacing of connectivity heartbeats.
const DefaultSessionInterval = 600 * time.Second

// Sender posts connectivity heartbeats.
type Sender interface {
	SendHeartbeat(ctx context.Context, hb api.ConnectivityHeartbeat) error
}

// IdentitySource exposes the connection's current identifiers.
type IdentitySource interface {
	SessionID() string
	ClientConnectionID() string
}

// SessionConfig configures connectivity heartbeats.
type SessionConfig struct {
	Interval   time.Duration
	AccountID  string
	AppName    string
	AppVersion string
}

// Session sends the client-to-server connectivity heartbeat.
type Session struct {
	cfg    SessionConfig
	sender Sender
	ids    IdentitySource
	logger *slog.Logger

	mu   sync.Mutex
	task *Task
}

// NewSession creates a Session.
func NewSession(cfg SessionConfig, sender Sender, ids IdentitySource, logger *slog.Logger) *Session {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSessionInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:    cfg,
		sender: sender,
		ids:    ids,
		logger: logger,
	}
}

// Start sends the first heartbeat immediately and then one per interval.
// A running session is restarted.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	old := s.task
	s.task = nil
	s.mu.Unlock()
	old.Stop()

	first := true
	task := StartTask(ctx, s.cfg.Interval, true, func(ctx context.Context) {
		isFirst := first
		first = false
		if err := s.send(ctx, isFirst, false); err != nil {
			s.logger.Warn("connectivity heartbeat failed", "error", err)
		}
	})

	s.mu.Lock()
	s.task = task
	s.mu.Unlock()
}

// Stop cancels the interval and sends the last heartbeat.
func (s *Session) Stop(ctx context.Context) error {
	s.Cancel()
	return s.send(ctx, false, true)
}

// Cancel stops the interval without sending anything.
func (s *Session) Cancel() {
	s.mu.Lock()
	task := s.task
	s.task = nil
	s.mu.Unlock()
	task.Stop()
}

// send is a no-op unless the session, account and app identity are all known.
func (s *Session) send(ctx context.Context, first, last bool) error {
	sessionID := s.ids.SessionID()
	if sessionID == "" || s.cfg.AccountID == "" || s.cfg.AppName == "" || s.cfg.AppVersion == "" {
		s.logger.Debug("skipping connectivity heartbeat, identity incomplete")
		return nil
	}

	hb := api.ConnectivityHeartbeat{
		ClientID:          s.ids.ClientConnectionID(),
		RealtimeSessionID: sessionID,
		AppName:           s.cfg.AppName,
		AppVersion:        s.cfg.AppVersion,
		IsLastHeartbeat:   last,
	}
	if first {
		hb.IsFirstHeartbeat = &first
	}

	return s.sender.SendHeartbeat(ctx, hb)
}
