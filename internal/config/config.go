// Package config loads the YAML configuration for the realtime client.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	API          APIConfig          `yaml:"api"`
	Auth         AuthConfig         `yaml:"auth"`
	Connection   ConnectionConfig   `yaml:"connection"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Heartbeat    HeartbeatConfig    `yaml:"heartbeat"`
	Clock        ClockConfig        `yaml:"clock"`
	Gateway      GatewayConfig      `yaml:"gateway"`
	Log          LogConfig          `yaml:"log"`
}

// APIConfig holds the REST and stream endpoints.
type APIConfig struct {
	RestURL    string        `yaml:"rest_url" validate:"required,url"`
	StreamURL  string        `yaml:"stream_url" validate:"required,url"`
	Timeout    time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxRetries int           `yaml:"max_retries" validate:"gte=0"`
	HTTP2      bool          `yaml:"http2"`
}

// AuthConfig selects how request headers are produced. A private key switches
// from session cookies to signed headers.
type AuthConfig struct {
	SessionToken   string `yaml:"session_token" validate:"required"`
	CSRFToken      string `yaml:"csrf_token"`
	CookieName     string `yaml:"cookie_name"`
	KeyID          string `yaml:"key_id" validate:"required_with=PrivateKeyPath"`
	PrivateKeyPath string `yaml:"private_key_path" validate:"omitempty,file"`
}

// ConnectionConfig tunes the stream and its reconnect policy.
type ConnectionConfig struct {
	AcceptableErrors   int           `yaml:"acceptable_errors" validate:"gte=0"`
	ZeroErrorTolerance bool          `yaml:"zero_error_tolerance"`
	LivenessInterval   time.Duration `yaml:"liveness_interval" validate:"gt=0"`
	LivenessTimeout    time.Duration `yaml:"liveness_timeout" validate:"gt=0"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout" validate:"gt=0"`
	WriteTimeout       time.Duration `yaml:"write_timeout" validate:"gt=0"`
	PingInterval       time.Duration `yaml:"ping_interval" validate:"gte=0"`
	BufferSize         int           `yaml:"buffer_size" validate:"gte=1"`
}

// SubscriptionConfig tunes subscribe retries.
type SubscriptionConfig struct {
	MaxRetries int           `yaml:"max_retries" validate:"gte=0"`
	RetryDelay time.Duration `yaml:"retry_delay" validate:"gte=0"`
}

// HeartbeatConfig identifies the application in connectivity heartbeats.
type HeartbeatConfig struct {
	Interval   time.Duration `yaml:"interval" validate:"gt=0"`
	AccountID  string        `yaml:"account_id"`
	AppName    string        `yaml:"app_name"`
	AppVersion string        `yaml:"app_version"`
}

// ClockConfig configures server clock estimation.
type ClockConfig struct {
	SessionLifetime time.Duration `yaml:"session_lifetime" validate:"gt=0"`
}

// GatewayConfig lists topic kinds whose payloads carry domain sub-types.
type GatewayConfig struct {
	Topics []string `yaml:"topics" validate:"dive,required"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Load reads the file at path and expands ${VAR} references from the environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML after environment expansion.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// LoadWithDefaults loads the file and fills unset optional fields.
func LoadWithDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads, applies defaults and validates.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
