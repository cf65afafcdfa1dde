package subscription

import (
	"context"
	"net/url"
	"time"

	"github.com/rickgao/realtime-client/internal/api"
	"github.com/rickgao/realtime-client/internal/model"
)

// EventName identifies a notification delivered to subscribers.
type EventName string

const (
	EventMessage                      EventName = "message"
	EventConnectionReestablished      EventName = "connectionReestablished"
	EventShortConnectionReestablished EventName = "shortConnectionReestablished"
	EventPoorConnection               EventName = "poorRealtimeConnectionDetected"
	EventUnsubscribe                  EventName = "unsubscribe"
	EventSubscriptionFailed           EventName = "subscriptionFailed"
)

// Event is a notification for a subscriber.
type Event struct {
	Name    EventName
	Topic   string         // empty for broadcast events
	Message *model.Message // set for EventMessage
	Elapsed time.Duration  // heartbeat gap for reconnect/poor connection events
	Err     error          // set for EventSubscriptionFailed
}

// Subscriber receives events. Implementations must be comparable (pointers).
type Subscriber interface {
	HandleEvent(Event)
}

type funcSubscriber struct {
	fn func(Event)
}

func (f *funcSubscriber) HandleEvent(ev Event) { f.fn(ev) }

// NewSubscriber wraps fn in a distinct Subscriber handle.
func NewSubscriber(fn func(Event)) Subscriber {
	return &funcSubscriber{fn: fn}
}

// API issues the subscription network calls.
type API interface {
	Subscribe(ctx context.Context, clientConnectionID string, topics []string) (*api.SubscriptionResult, error)
	Unsubscribe(ctx context.Context, clientConnectionID string, topics []string) error
}

// Connector is the slice of the Connection Manager the registry drives.
type Connector interface {
	// ClientConnectionID returns the id from the identity frame, or "" before it.
	ClientConnectionID() string
	// StartConnect begins connecting if disconnected and returns immediately.
	StartConnect()
	// StartReconnect drops the connection and reconnects with query overrides.
	StartReconnect(overrides url.Values)
	// Disconnect closes the stream; reports whether one was open.
	Disconnect() bool
	// ExpireAuth closes the stream after a 401/403 and stops automatic reconnects.
	ExpireAuth(err error)
}

// Result is the outcome of a subscribe request.
type Result struct {
	Subscribed []string
	Errors     map[string]api.TopicError
	Pending    bool // no identity yet; topics are sent once the connection identifies
}

func newResult() *Result {
	return &Result{Errors: make(map[string]api.TopicError)}
}
