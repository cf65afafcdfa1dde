package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rickgao/realtime-client/internal/api"
	"github.com/rickgao/realtime-client/internal/auth"
	"github.com/rickgao/realtime-client/internal/config"
	"github.com/rickgao/realtime-client/internal/connection"
	"github.com/rickgao/realtime-client/internal/dispatch"
	"github.com/rickgao/realtime-client/internal/heartbeat"
	"github.com/rickgao/realtime-client/internal/realtime"
	"github.com/rickgao/realtime-client/internal/subscription"
	"github.com/rickgao/realtime-client/internal/version"
)

// loadConfig loads the config file and applies command line overrides.
func loadConfig(args cliArgs) (*config.Config, error) {
	cfg, err := config.LoadWithDefaults(args.ConfigFile)
	if err != nil {
		return nil, err
	}
	if args.LogLevel != "" {
		cfg.Log.Level = args.LogLevel
	}
	if args.JSONLog {
		cfg.Log.Format = "json"
	}
	if cfg.Heartbeat.AppName != "" && cfg.Heartbeat.AppVersion == "" {
		cfg.Heartbeat.AppVersion = version.Version
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

type headerSource interface {
	Headers() (http.Header, error)
}

// newHeaderSource signs headers when a private key is configured and falls back
// to session cookies otherwise.
func newHeaderSource(cfg config.AuthConfig) (headerSource, error) {
	session := &auth.Session{Token: cfg.SessionToken}
	if cfg.PrivateKeyPath != "" {
		creds, err := auth.LoadCredentials(cfg.KeyID, cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load credentials: %w", err)
		}
		session.Provider = creds
		return session, nil
	}
	session.Provider = auth.CookieHeaders{CookieName: cfg.CookieName, CSRFToken: cfg.CSRFToken}
	return session, nil
}

func newAPIClient(cfg config.APIConfig, headers headerSource, logger *slog.Logger) *api.Client {
	opts := []api.ClientOption{
		api.WithTimeout(cfg.Timeout),
		api.WithRetries(cfg.MaxRetries, api.DefaultRetryBackoff),
		api.WithLogger(logger.With("component", "api")),
	}
	if cfg.HTTP2 {
		opts = append(opts, api.WithHTTP2())
	}
	return api.NewClient(cfg.RestURL, headers, opts...)
}

func realtimeConfig(cfg *config.Config, headers headerSource) realtime.Config {
	rc := realtime.DefaultConfig()

	rc.Manager.URL = cfg.API.StreamURL
	rc.Manager.Headers = headers
	rc.Manager.AcceptableErrors = cfg.Connection.AcceptableErrors
	rc.Manager.ZeroErrorTolerance = cfg.Connection.ZeroErrorTolerance
	rc.Manager.LivenessInterval = cfg.Connection.LivenessInterval
	rc.Manager.LivenessTimeout = cfg.Connection.LivenessTimeout

	rc.Stream = connection.StreamConfig{
		HandshakeTimeout: cfg.Connection.HandshakeTimeout,
		WriteTimeout:     cfg.Connection.WriteTimeout,
		PingInterval:     cfg.Connection.PingInterval,
		BufferSize:       cfg.Connection.BufferSize,
	}

	rc.Retry = subscription.RetryPolicy{
		MaxAttempts: cfg.Subscription.MaxRetries + 1,
		Delay:       cfg.Subscription.RetryDelay,
	}

	rc.Session = heartbeat.SessionConfig{
		Interval:   cfg.Heartbeat.Interval,
		AccountID:  cfg.Heartbeat.AccountID,
		AppName:    cfg.Heartbeat.AppName,
		AppVersion: cfg.Heartbeat.AppVersion,
	}

	rc.Dispatch = dispatch.Config{GatewayTopics: cfg.Gateway.Topics}
	rc.ClockWindow = cfg.Clock.SessionLifetime
	return rc
}

// newClient builds the realtime client and the REST client it uses.
func newClient(cfg *config.Config, logger *slog.Logger) (*realtime.Client, error) {
	headers, err := newHeaderSource(cfg.Auth)
	if err != nil {
		return nil, err
	}
	apiClient := newAPIClient(cfg.API, headers, logger)
	return realtime.New(realtimeConfig(cfg, headers), apiClient, nil, logger), nil
}
