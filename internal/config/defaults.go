package config

import (
	"time"

	"github.com/rickgao/realtime-client/internal/connection"
	"github.com/rickgao/realtime-client/internal/heartbeat"
	"github.com/rickgao/realtime-client/internal/subscription"
)

// Default values for optional configuration fields.
const (
	DefaultAPITimeout       = 30 * time.Second
	DefaultAPIMaxRetries    = 3
	DefaultLivenessInterval = 30 * time.Second
	DefaultLivenessTimeout  = 180 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultBufferSize       = 256
	DefaultSessionLifetime  = 5 * time.Minute
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
)

func (c *Config) applyDefaults() {
	// API defaults
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultAPIMaxRetries
	}

	// Connection defaults
	if c.Connection.AcceptableErrors == 0 && !c.Connection.ZeroErrorTolerance {
		c.Connection.AcceptableErrors = connection.DefaultAcceptableErrors
	}
	if c.Connection.LivenessInterval == 0 {
		c.Connection.LivenessInterval = DefaultLivenessInterval
	}
	if c.Connection.LivenessTimeout == 0 {
		c.Connection.LivenessTimeout = DefaultLivenessTimeout
	}
	if c.Connection.HandshakeTimeout == 0 {
		c.Connection.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.BufferSize == 0 {
		c.Connection.BufferSize = DefaultBufferSize
	}

	// Subscription defaults
	if c.Subscription.MaxRetries == 0 {
		c.Subscription.MaxRetries = subscription.DefaultMaxRetries
	}

	// Heartbeat and clock defaults
	if c.Heartbeat.Interval == 0 {
		c.Heartbeat.Interval = heartbeat.DefaultSessionInterval
	}
	if c.Clock.SessionLifetime == 0 {
		c.Clock.SessionLifetime = DefaultSessionLifetime
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}
