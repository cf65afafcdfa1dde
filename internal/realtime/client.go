package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/rickgao/realtime-client/internal/clocksync"
	"github.com/rickgao/realtime-client/internal/connection"
	"github.com/rickgao/realtime-client/internal/dispatch"
	"github.com/rickgao/realtime-client/internal/heartbeat"
	"github.com/rickgao/realtime-client/internal/model"
	"github.com/rickgao/realtime-client/internal/subscription"
)

// ErrDisposed is returned by every operation after Dispose.
var ErrDisposed = connection.ErrDisposed

// ErrAuthExpired is returned by Connect when the stream rejects the credentials.
var ErrAuthExpired = connection.ErrAuthExpired

// DefaultClockWindow is used until an identity frame states the session lifetime.
const DefaultClockWindow = 5 * time.Minute

// API is the REST surface the client needs.
type API interface {
	subscription.API
	heartbeat.Sender
	clocksync.TimeSource
}

// Config configures a Client.
type Config struct {
	Manager     connection.ManagerConfig
	Stream      connection.StreamConfig
	Retry       subscription.RetryPolicy
	Session     heartbeat.SessionConfig
	Dispatch    dispatch.Config
	ClockWindow time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Manager:     connection.DefaultManagerConfig(),
		Stream:      connection.DefaultStreamConfig(),
		Retry:       subscription.DefaultRetryPolicy(),
		Session:     heartbeat.SessionConfig{Interval: heartbeat.DefaultSessionInterval},
		ClockWindow: DefaultClockWindow,
	}
}

// Stats is a snapshot of the client.
type Stats struct {
	Connection   connection.Stats
	Dispatch     dispatch.Stats
	Topics       int
	PendingSends int
	ClockOffset  time.Duration
	ClockKnown   bool
}

// Client is a realtime push client.
type Client struct {
	logger *slog.Logger

	manager    *connection.Manager
	registry   *subscription.Registry
	dispatcher *dispatch.Dispatcher
	monitor    *heartbeat.Monitor
	clock      *clocksync.Estimator
	session    *heartbeat.Session

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.Mutex
	disposed       bool
	sessionStarted bool
	authHandlers   []func(error)
}

// New creates a Client. dialer may be nil to use websockets configured by cfg.Stream.
func New(cfg Config, client API, dialer connection.Dialer, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if dialer == nil {
		dialer = connection.NewWebSocketDialer(cfg.Stream, logger.With("component", "stream"))
	}
	if cfg.ClockWindow <= 0 {
		cfg.ClockWindow = DefaultClockWindow
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	c.monitor = heartbeat.NewMonitor(nil, logger.With("component", "heartbeat"))
	c.clock = clocksync.New(client, cfg.ClockWindow, logger.With("component", "clocksync"))

	mcfg := cfg.Manager
	mcfg.Liveness = c.monitor
	c.manager = connection.NewManager(mcfg, dialer, connection.Hooks{
		OnOpen:        c.handleOpen,
		OnFrame:       c.handleFrame,
		OnIdentity:    c.handleIdentity,
		OnAuthExpired: c.handleAuthExpired,
	}, logger.With("component", "connection"))

	c.registry = subscription.NewRegistry(client, c.manager, cfg.Retry, logger.With("component", "subscription"))

	c.dispatcher = dispatch.NewDispatcher(cfg.Dispatch, dispatch.Deps{
		Identity:    c.manager,
		Notifier:    c.registry,
		Heartbeat:   c.monitor,
		OnHeartbeat: c.syncClockInBackground,
	}, logger.With("component", "dispatch"))

	c.session = heartbeat.NewSession(cfg.Session, client, c.manager, logger.With("component", "session"))

	return c
}

// Subscribe adds sub to topics. Without a connection identity the result is
// Pending and the topics are sent once the stream identifies.
func (c *Client) Subscribe(ctx context.Context, sub subscription.Subscriber, topics []string) (*subscription.Result, error) {
	if c.isDisposed() {
		return nil, ErrDisposed
	}
	return c.registry.Subscribe(ctx, sub, topics)
}

// Unsubscribe removes sub from topics. The stream is closed once nothing is subscribed.
func (c *Client) Unsubscribe(ctx context.Context, sub subscription.Subscriber, topics []string) error {
	if c.isDisposed() {
		return ErrDisposed
	}
	return c.registry.Unsubscribe(ctx, sub, topics)
}

// Connect opens the stream and waits for its identity. It returns the client
// connection id.
func (c *Client) Connect(ctx context.Context) (string, error) {
	return c.manager.Connect(ctx)
}

// Disconnect closes the stream; it reports whether an open stream was closed.
func (c *Client) Disconnect() bool {
	return c.manager.Disconnect()
}

// Reconnect drops the stream and connects again with query overrides.
func (c *Client) Reconnect(ctx context.Context, overrides url.Values) (string, error) {
	return c.manager.Reconnect(ctx, overrides)
}

// ServerTime returns the estimated server time, or false before any clock sample.
func (c *Client) ServerTime() (time.Time, bool) {
	return c.clock.Now()
}

// SyncClock requests a clock sample now unless one was taken recently.
func (c *Client) SyncClock(ctx context.Context) error {
	return c.clock.Sync(ctx)
}

// NewCorrelationToken returns a token to attach to a locally issued send.
func (c *Client) NewCorrelationToken() string {
	return c.dispatcher.Pending().NewToken()
}

// ExpectEcho registers resolve for the push event echoing token. The event is
// then not delivered to state sync handlers.
func (c *Client) ExpectEcho(token string, resolve func([]model.Event)) error {
	return c.dispatcher.Pending().Expect(token, resolve)
}

// CancelEcho forgets a pending token, e.g. when the caller timed out.
func (c *Client) CancelEcho(token string) bool {
	return c.dispatcher.Pending().Cancel(token)
}

// OnStateSync adds a handler for gateway events not claimed by ExpectEcho.
func (c *Client) OnStateSync(h dispatch.StateSyncHandler) {
	c.dispatcher.OnStateSync(h)
}

// OnDelivery sets the delivery observability hook.
func (c *Client) OnDelivery(h dispatch.DeliveryHook) {
	c.dispatcher.OnDelivery(h)
}

// OnAuthExpired adds a handler called when the stream rejects the credentials.
// Automatic reconnects stop until Connect is called again.
func (c *Client) OnAuthExpired(h func(error)) {
	c.mu.Lock()
	c.authHandlers = append(c.authHandlers, h)
	c.mu.Unlock()
}

// Stats returns a snapshot of the client.
func (c *Client) Stats() Stats {
	offset, known := c.clock.Offset()
	return Stats{
		Connection:   c.manager.Stats(),
		Dispatch:     c.dispatcher.Stats(),
		Topics:       c.registry.Len(),
		PendingSends: c.dispatcher.Pending().Len(),
		ClockOffset:  offset,
		ClockKnown:   known,
	}
}

// Dispose sends the last connectivity heartbeat, closes the stream and cancels
// every timer. The Client cannot be used afterwards.
func (c *Client) Dispose(ctx context.Context) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	started := c.sessionStarted
	c.mu.Unlock()

	var err error
	if started {
		if serr := c.session.Stop(ctx); serr != nil {
			err = fmt.Errorf("last heartbeat: %w", serr)
		}
	} else {
		c.session.Cancel()
	}

	c.manager.Dispose()
	c.cancel()
	c.wg.Wait()

	c.logger.Info("realtime client disposed")
	return err
}

func (c *Client) isDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

func (c *Client) handleFrame(f connection.Frame) {
	c.dispatcher.Handle(f)
}

func (c *Client) handleOpen(reconnect bool) {
	c.monitor.Reset()
	if reconnect {
		c.registry.Notify("", subscription.Event{Name: subscription.EventConnectionReestablished})
	}
}

// handleIdentity runs on the read goroutine; network work is moved off it.
func (c *Client) handleIdentity(id connection.Identity) {
	c.registry.SetPersonalTopics(id.PersonalTopics)
	c.clock.SetWindow(id.SessionLifetime)

	c.mu.Lock()
	startSession := !c.sessionStarted && !c.disposed
	c.sessionStarted = c.sessionStarted || startSession
	c.mu.Unlock()
	if startSession {
		c.session.Start(c.ctx)
	}

	c.background(func(ctx context.Context) {
		res, err := c.registry.Resubscribe(ctx, id.ClientConnectionID)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("resubscribe after identity failed", "error", err)
			}
			return
		}
		c.logger.Debug("resubscribed",
			"subscribed", len(res.Subscribed),
			"failed", len(res.Errors),
		)
	})

	c.syncClockInBackground()
}

func (c *Client) handleAuthExpired(err error) {
	c.mu.Lock()
	handlers := append(([]func(error))(nil), c.authHandlers...)
	c.mu.Unlock()

	for _, h := range handlers {
		h(err)
	}
}

func (c *Client) syncClockInBackground() {
	c.background(func(ctx context.Context) {
		if err := c.clock.Sync(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("clock sync failed", "error", err)
		}
	})
}

func (c *Client) background(fn func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(c.ctx)
	}()
}
