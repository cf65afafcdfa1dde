package dispatch

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/rickgao/realtime-client/internal/connection"
	"github.com/rickgao/realtime-client/internal/heartbeat"
	"github.com/rickgao/realtime-client/internal/model"
	"github.com/rickgao/realtime-client/internal/subscription"
)

// Frame type names (the single top-level key of a frame).
const (
	TypeClientConnection = "ClientConnection"
	TypeHeartbeat        = "Heartbeat"
	TypeDecoratedEvent   = "DecoratedEvent"
)

// Errors
var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownFrame   = errors.New("unknown frame type")
	ErrDuplicateToken = errors.New("correlation token already pending")
)

// IdentityHandler receives decoded identity frames.
type IdentityHandler interface {
	HandleIdentity(connection.Identity)
}

// Notifier delivers events to subscribers; an empty topic broadcasts.
type Notifier interface {
	Notify(topic string, ev subscription.Event)
}

// HeartbeatMonitor records stream heartbeats.
type HeartbeatMonitor interface {
	BeatAt(t time.Time) []heartbeat.Signal
}

// DeliveryInfo describes a delivered domain message for observability.
type DeliveryInfo struct {
	Topic               string
	ID                  string
	PublisherTrackingID string
	TrackingID          string
	LeftServerAt        time.Time
	ReceivedAt          time.Time
}

// DeliveryHook observes domain message deliveries.
type DeliveryHook func(DeliveryInfo)

// StateSyncHandler receives gateway events not claimed by a pending send.
type StateSyncHandler func(topic string, events []model.Event)

// Config configures the dispatcher.
type Config struct {
	// GatewayTopics are the topic kinds whose payloads multiplex domain sub-types.
	// A topic matches a kind exactly or as "<kind>:<rest>".
	GatewayTopics []string
}

// Deps are the collaborators the dispatcher routes to. Identity and Notifier are
// required.
type Deps struct {
	Identity    IdentityHandler
	Notifier    Notifier
	Heartbeat   HeartbeatMonitor // nil = heartbeats only counted
	Mapper      model.Mapper     // nil = model.DefaultMapper
	Pending     *PendingSends    // nil = a private set
	OnHeartbeat func()           // fired after each heartbeat, e.g. to trigger clock sync
}

// Stats contains runtime statistics.
type Stats struct {
	FramesReceived int64
	FramesRouted   int64
	ParseErrors    int64
	UnknownFrames  int64
	Heartbeats     int64
	Messages       int64
	GatewayEvents  int64
	SendsResolved  int64
	StateSyncs     int64
}

// Wire types for JSON parsing

// clientConnectionWire is the payload of a ClientConnection frame.
type clientConnectionWire struct {
	ClientConnectionID string   `json:"clientConnectionId"`
	PersonalTopics     []string `json:"personalTopics"`
	SessionLifetimeMs  int64    `json:"sessionLifetimeMs"`
}

// decoratedEventWire is the payload of a DecoratedEvent frame.
type decoratedEventWire struct {
	Topic               string          `json:"topic"`
	ID                  string          `json:"id"`
	PublisherTrackingID string          `json:"publisherTrackingId"`
	TrackingID          string          `json:"trackingId"`
	LeftServerAt        int64           `json:"leftServerAt"` // epoch ms
	Payload             json.RawMessage `json:"payload"`
}

// gatewayWire is the payload carried on gateway topics.
type gatewayWire struct {
	Topic       string          `json:"topic"` // domain sub-type
	OriginToken string          `json:"originToken"`
	Data        json.RawMessage `json:"data"`
}
