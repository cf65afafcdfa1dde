package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/realtime-client/internal/model"
	"github.com/rickgao/realtime-client/internal/subscription"
	"github.com/rickgao/realtime-client/internal/version"
)

const testConfig = `
api:
  rest_url: https://push.example.com/api
  stream_url: wss://push.example.com/realtime/connect
auth:
  session_token: tok
  csrf_token: csrf
connection:
  zero_error_tolerance: true
  liveness_timeout: 4m
subscription:
  max_retries: 1
  retry_delay: 250ms
heartbeat:
  account_id: acct-1
  app_name: pushwatch
gateway:
  topics: [gateway]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pushwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := loadConfig(cliArgs{
		ConfigFile: writeConfig(t, testConfig),
		LogLevel:   "debug",
		JSONLog:    true,
	})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, version.Version, cfg.Heartbeat.AppVersion)
}

func TestLoadConfigInvalid(t *testing.T) {
	_, err := loadConfig(cliArgs{ConfigFile: writeConfig(t, "auth:\n  session_token: tok\n")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api.rest_url is required")
}

func TestRealtimeConfig(t *testing.T) {
	cfg, err := loadConfig(cliArgs{ConfigFile: writeConfig(t, testConfig)})
	require.NoError(t, err)

	headers, err := newHeaderSource(cfg.Auth)
	require.NoError(t, err)
	h, err := headers.Headers()
	require.NoError(t, err)
	assert.Equal(t, "csrf", h.Get("Csrf-Token"))
	assert.Contains(t, h.Get("Cookie"), "session=tok")

	rc := realtimeConfig(cfg, headers)
	assert.Equal(t, "wss://push.example.com/realtime/connect", rc.Manager.URL)
	assert.Equal(t, "sessionId", rc.Manager.SessionParam)
	assert.True(t, rc.Manager.ZeroErrorTolerance)
	assert.Equal(t, 4*time.Minute, rc.Manager.LivenessTimeout)
	assert.Equal(t, 2, rc.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, rc.Retry.Delay)
	assert.Equal(t, "acct-1", rc.Session.AccountID)
	assert.Equal(t, []string{"gateway"}, rc.Dispatch.GatewayTopics)
	assert.Equal(t, 5*time.Minute, rc.ClockWindow)
	assert.Equal(t, 256, rc.Stream.BufferSize)
}

func TestNewLoggerJSON(t *testing.T) {
	cfg, err := loadConfig(cliArgs{ConfigFile: writeConfig(t, testConfig), JSONLog: true, LogLevel: "warn"})
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := newLogger(cfg.Log, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "topic", "A")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "A", line["topic"])
}

func TestPrintEvent(t *testing.T) {
	var buf bytes.Buffer

	msg := model.NewMessage("A", []byte(`{"text":"hi"}`))
	msg.ID = "e1"
	printEvent(&buf, subscription.Event{Name: subscription.EventMessage, Topic: "A", Message: msg})
	printEvent(&buf, subscription.Event{Name: subscription.EventConnectionReestablished})
	printStateSync(&buf, "gateway:u1", model.SeenReceipt{ConversationID: "c1"})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.JSONEq(t, `{"event":"message","topic":"A","id":"e1","payload":{"text":"hi"}}`, string(lines[0]))
	assert.JSONEq(t, `{"event":"connectionReestablished"}`, string(lines[1]))

	var sync notification
	require.NoError(t, json.Unmarshal(lines[2], &sync))
	assert.Equal(t, "stateSync", sync.Event)
	assert.Equal(t, "seenReceipt", sync.Kind)
}

func TestNewAppCommands(t *testing.T) {
	app := newApp()
	names := make([]string, 0, len(app.Commands))
	for _, c := range app.Commands {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"watch", "servertime"}, names)
}
