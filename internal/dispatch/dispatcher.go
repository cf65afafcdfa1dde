package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rickgao/realtime-client/internal/connection"
	"github.com/rickgao/realtime-client/internal/model"
	"github.com/rickgao/realtime-client/internal/subscription"
)

// routeFunc handles the payload of one frame type.
type routeFunc func(payload json.RawMessage, receivedAt time.Time) error

// Dispatcher decodes frames and routes them. Handle is called from the stream's
// read goroutine, one frame at a time.
type Dispatcher struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	routes map[string]routeFunc

	hookMu    sync.RWMutex
	delivery  DeliveryHook
	stateSync []StateSyncHandler

	mu    sync.Mutex
	stats Stats
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg Config, deps Deps, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Mapper == nil {
		deps.Mapper = model.DefaultMapper{}
	}
	if deps.Pending == nil {
		deps.Pending = NewPendingSends()
	}

	d := &Dispatcher{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	d.routes = map[string]routeFunc{
		TypeClientConnection: d.handleIdentity,
		TypeHeartbeat:        d.handleHeartbeat,
		TypeDecoratedEvent:   d.handleDecoratedEvent,
	}
	return d
}

// OnDelivery sets the hook fired for every domain message.
func (d *Dispatcher) OnDelivery(hook DeliveryHook) {
	d.hookMu.Lock()
	d.delivery = hook
	d.hookMu.Unlock()
}

// OnStateSync adds a handler for gateway events not claimed by a pending send.
func (d *Dispatcher) OnStateSync(h StateSyncHandler) {
	d.hookMu.Lock()
	d.stateSync = append(d.stateSync, h)
	d.hookMu.Unlock()
}

// Pending returns the pending-send set resolved by this dispatcher.
func (d *Dispatcher) Pending() *PendingSends {
	return d.deps.Pending
}

// Stats returns current statistics.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Handle decodes and routes a single frame.
func (d *Dispatcher) Handle(frame connection.Frame) {
	d.count(func(s *Stats) { s.FramesReceived++ })

	f, err := DecodeFrame(frame.Data)
	if err != nil {
		d.logger.Warn("dropping malformed frame", "error", err)
		d.count(func(s *Stats) { s.ParseErrors++ })
		return
	}

	if err := d.route(f, frame.ReceivedAt); err != nil {
		if errors.Is(err, ErrUnknownFrame) {
			d.logger.Warn("dropping unroutable frame", "error", err)
			d.count(func(s *Stats) { s.UnknownFrames++ })
			return
		}
		d.logger.Warn("failed to handle frame", "type", f.Type, "error", err)
		d.count(func(s *Stats) { s.ParseErrors++ })
		return
	}

	d.count(func(s *Stats) { s.FramesRouted++ })
}

// route hands a decoded frame to the handler registered for its type.
func (d *Dispatcher) route(f Frame, receivedAt time.Time) error {
	handle, ok := d.routes[f.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFrame, f.Type)
	}
	return handle(f.Payload, receivedAt)
}

func (d *Dispatcher) handleIdentity(payload json.RawMessage, _ time.Time) error {
	var w clientConnectionWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if w.ClientConnectionID == "" {
		return fmt.Errorf("%w: identity without client connection id", ErrMalformedFrame)
	}

	d.deps.Identity.HandleIdentity(connection.Identity{
		ClientConnectionID: w.ClientConnectionID,
		PersonalTopics:     w.PersonalTopics,
		SessionLifetime:    time.Duration(w.SessionLifetimeMs) * time.Millisecond,
	})
	return nil
}

func (d *Dispatcher) handleHeartbeat(_ json.RawMessage, receivedAt time.Time) error {
	d.count(func(s *Stats) { s.Heartbeats++ })

	if d.deps.Heartbeat != nil {
		if receivedAt.IsZero() {
			receivedAt = time.Now()
		}
		for _, sig := range d.deps.Heartbeat.BeatAt(receivedAt) {
			d.deps.Notifier.Notify("", subscription.Event{
				Name:    subscription.EventName(sig.Kind),
				Elapsed: sig.Elapsed,
			})
		}
	}

	if d.deps.OnHeartbeat != nil {
		d.deps.OnHeartbeat()
	}
	return nil
}

func (d *Dispatcher) handleDecoratedEvent(payload json.RawMessage, receivedAt time.Time) error {
	var w decoratedEventWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if w.Topic == "" {
		return fmt.Errorf("%w: event without topic", ErrMalformedFrame)
	}

	msg := model.NewMessage(w.Topic, w.Payload)
	msg.ID = w.ID
	msg.PublisherTrackingID = w.PublisherTrackingID
	msg.TrackingID = w.TrackingID
	msg.ReceivedAt = receivedAt
	if w.LeftServerAt > 0 {
		msg.LeftServerAt = time.UnixMilli(w.LeftServerAt)
	}

	if hook := d.deliveryHook(); hook != nil {
		hook(DeliveryInfo{
			Topic:               msg.Topic,
			ID:                  msg.ID,
			PublisherTrackingID: msg.PublisherTrackingID,
			TrackingID:          msg.TrackingID,
			LeftServerAt:        msg.LeftServerAt,
			ReceivedAt:          msg.ReceivedAt,
		})
	}

	d.count(func(s *Stats) { s.Messages++ })
	d.deps.Notifier.Notify(msg.Topic, subscription.Event{
		Name:    subscription.EventMessage,
		Topic:   msg.Topic,
		Message: msg,
	})

	if d.isGateway(msg.Topic) {
		return d.demux(msg)
	}
	return nil
}

// demux maps a gateway payload to a domain event. A messageCreated echo of a
// pending send resolves that send; every other event goes to state sync.
func (d *Dispatcher) demux(msg *model.Message) error {
	var g gatewayWire
	if err := msg.Decode(&g); err != nil {
		return fmt.Errorf("%w: gateway payload: %v", ErrMalformedFrame, err)
	}

	ev, err := d.deps.Mapper.Map(model.EventKind(g.Topic), g.Data)
	if errors.Is(err, model.ErrUnknownKind) {
		d.logger.Warn("unrecognized gateway sub-type", "topic", msg.Topic, "sub_type", g.Topic)
		return nil
	}
	if err != nil {
		return err
	}

	d.count(func(s *Stats) { s.GatewayEvents++ })
	events := []model.Event{ev}

	if created, ok := ev.(model.MessageCreated); ok {
		token := g.OriginToken
		if token == "" {
			token = created.OriginToken
		}
		if token != "" && d.deps.Pending.Resolve(token, events) {
			d.count(func(s *Stats) { s.SendsResolved++ })
			return nil
		}
	}

	d.count(func(s *Stats) { s.StateSyncs++ })
	for _, h := range d.stateSyncHandlers() {
		h(msg.Topic, events)
	}
	return nil
}

func (d *Dispatcher) isGateway(topic string) bool {
	for _, kind := range d.cfg.GatewayTopics {
		if topic == kind || strings.HasPrefix(topic, kind+":") {
			return true
		}
	}
	return false
}

func (d *Dispatcher) deliveryHook() DeliveryHook {
	d.hookMu.RLock()
	defer d.hookMu.RUnlock()
	return d.delivery
}

func (d *Dispatcher) stateSyncHandlers() []StateSyncHandler {
	d.hookMu.RLock()
	defer d.hookMu.RUnlock()
	return append([]StateSyncHandler(nil), d.stateSync...)
}

func (d *Dispatcher) count(fn func(*Stats)) {
	d.mu.Lock()
	fn(&d.stats)
	d.mu.Unlock()
}
