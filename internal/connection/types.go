package connection

import (
	"errors"
	"net/http"
	"time"

	"github.com/rickgao/realtime-client/internal/api"
)

// Errors
var (
	ErrNotConnected = errors.New("not connected")
	ErrStreamClosed = errors.New("stream closed")
	ErrDisposed     = errors.New("connection disposed")

	// ErrAuthExpired is shared with REST errors so one errors.Is check covers a
	// rejected handshake and a 401/403 response.
	ErrAuthExpired = api.ErrAuthExpired
)

// State is the connection state.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateErroring
	StateReconnecting
	StateDisposed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateErroring:
		return "ERRORING"
	case StateReconnecting:
		return "RECONNECTING"
	case StateDisposed:
		return "DISPOSED"
	default:
		return "UNKNOWN"
	}
}

// Frame is one logical frame read from the stream.
type Frame struct {
	Data       []byte    // One line of the physical message, without the newline
	ReceivedAt time.Time // Local timestamp when the physical message was read
}

// Identity is the content of the connection-identity frame.
type Identity struct {
	ClientConnectionID string
	PersonalTopics     []string      // topic kinds pushed without a subscribe call
	SessionLifetime    time.Duration // zero when the server did not state it
}

// HeaderSource produces the headers sent with the stream handshake.
type HeaderSource interface {
	Headers() (http.Header, error)
}

// LivenessSource reports whether the stream has been silent for too long.
type LivenessSource interface {
	Stale(timeout time.Duration) bool
}

// Hooks are the callbacks the manager fires. Any of them may be nil.
type Hooks struct {
	// OnOpen fires when a stream opens; reconnect is false for the first open.
	OnOpen func(reconnect bool)
	// OnFrame fires for every frame, in order, on the stream's read goroutine.
	OnFrame func(Frame)
	// OnIdentity fires after the identity has been recorded and before callers
	// waiting in Connect are released.
	OnIdentity func(Identity)
	// OnAuthExpired fires when the stream handshake is rejected as unauthorized.
	OnAuthExpired func(error)
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	URL                string         // Stream URL (e.g., wss://push.example.com/realtime/connect)
	SessionParam       string         // Query parameter carrying the realtime session id
	Headers            HeaderSource   // Handshake headers (nil = none)
	Liveness           LivenessSource // Stream heartbeat staleness (nil = no liveness check)
	AcceptableErrors   int            // Consecutive errors tolerated before backing off
	ZeroErrorTolerance bool           // Forces AcceptableErrors to 0
	LivenessInterval   time.Duration  // How often staleness is checked
	LivenessTimeout    time.Duration  // Silence after which the stream is reconnected
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		SessionParam:     "sessionId",
		AcceptableErrors: DefaultAcceptableErrors,
		LivenessInterval: 30 * time.Second,
		LivenessTimeout:  180 * time.Second,
	}
}

// StreamConfig configures websocket streams.
type StreamConfig struct {
	HandshakeTimeout time.Duration // Dial + upgrade deadline
	WriteTimeout     time.Duration // Deadline for control frames
	PingInterval     time.Duration // Keepalive ping period (0 = no pings)
	BufferSize       int           // Frame channel buffer size
}

// DefaultStreamConfig returns sensible defaults.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		BufferSize:       256,
	}
}

// Stats is a snapshot of the manager state.
type Stats struct {
	State              State
	SessionID          string
	ClientConnectionID string
	ConsecutiveErrors  int
	RetryAttempt       int
	Opens              int64
	AuthExpired        bool
}
