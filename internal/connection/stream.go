package connection

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Stream is one open push stream. Frames is closed when the stream ends and Err
// then reports why.
type Stream interface {
	// Frames returns the frames in arrival order.
	Frames() <-chan Frame

	// Err returns the error that ended the stream, valid after Frames is closed.
	Err() error

	// Close closes the stream. Safe to call more than once.
	Close() error
}

// Dialer opens streams.
type Dialer interface {
	Dial(ctx context.Context, rawURL string, header http.Header) (Stream, error)
}

// WebSocketDialer opens websocket streams.
type WebSocketDialer struct {
	cfg    StreamConfig
	logger *slog.Logger
	dialer websocket.Dialer
}

// NewWebSocketDialer creates a WebSocketDialer.
func NewWebSocketDialer(cfg StreamConfig, logger *slog.Logger) *WebSocketDialer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultStreamConfig().BufferSize
	}

	return &WebSocketDialer{
		cfg:    cfg,
		logger: logger,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

// Dial performs the websocket handshake. A 401 or 403 handshake response is
// reported as ErrAuthExpired.
func (d *WebSocketDialer) Dial(ctx context.Context, rawURL string, header http.Header) (Stream, error) {
	conn, resp, err := d.dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: handshake status %d", ErrAuthExpired, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial stream: %w", err)
	}

	s := &wsStream{
		conn:   conn,
		cfg:    d.cfg,
		logger: d.logger,
		frames: make(chan Frame, d.cfg.BufferSize),
		done:   make(chan struct{}),
	}

	conn.SetPongHandler(func(string) error { return nil })

	go s.readLoop()
	if d.cfg.PingInterval > 0 {
		go s.pingLoop()
	}

	d.logger.Debug("stream connected", "url", rawURL)

	return s, nil
}

// wsStream implements Stream over a websocket connection.
type wsStream struct {
	conn   *websocket.Conn
	cfg    StreamConfig
	logger *slog.Logger

	frames chan Frame
	done   chan struct{}

	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

func (s *wsStream) Frames() <-chan Frame {
	return s.frames
}

func (s *wsStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = s.conn.Close()
	})
	return err
}

func (s *wsStream) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// readLoop splits each physical message into frames. Frames are never dropped:
// a slow consumer blocks the reader.
func (s *wsStream) readLoop() {
	defer close(s.frames)

	for {
		_, data, err := s.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			select {
			case <-s.done:
				s.setErr(ErrStreamClosed)
			default:
				s.setErr(err)
			}
			return
		}

		for _, line := range bytes.Split(data, []byte{'\n'}) {
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}
			select {
			case s.frames <- Frame{Data: line, ReceivedAt: receivedAt}:
			case <-s.done:
				s.setErr(ErrStreamClosed)
				return
			}
		}
	}
}

// pingLoop keeps intermediaries from timing out an idle stream.
func (s *wsStream) pingLoop() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				s.logger.Debug("failed to send ping", "error", err)
			}
		}
	}
}
