package heartbeat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/realtime-client/internal/api"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []api.ConnectivityHeartbeat
}

func (r *recordingSender) SendHeartbeat(ctx context.Context, hb api.ConnectivityHeartbeat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, hb)
	return nil
}

func (r *recordingSender) Sent() []api.ConnectivityHeartbeat {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]api.ConnectivityHeartbeat, len(r.sent))
	copy(out, r.sent)
	return out
}

type staticIDs struct {
	session, client string
}

func (s staticIDs) SessionID() string          { return s.session }
func (s staticIDs) ClientConnectionID() string { return s.client }

func validSessionConfig(interval time.Duration) SessionConfig {
	return SessionConfig{
		Interval:   interval,
		AccountID:  "acct-1",
		AppName:    "web",
		AppVersion: "1.0.0",
	}
}

func TestSession_FirstRepeatLast(t *testing.T) {
	sender := &recordingSender{}
	s := NewSession(validSessionConfig(20*time.Millisecond), sender, staticIDs{"sess-1", "conn-1"}, nil)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return len(sender.Sent()) >= 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	sent := sender.Sent()
	first := sent[0]
	require.NotNil(t, first.IsFirstHeartbeat)
	assert.True(t, *first.IsFirstHeartbeat)
	assert.False(t, first.IsLastHeartbeat)
	assert.Equal(t, "sess-1", first.RealtimeSessionID)
	assert.Equal(t, "conn-1", first.ClientID)
	assert.Equal(t, "web", first.AppName)
	assert.Equal(t, "1.0.0", first.AppVersion)

	for _, hb := range sent[1 : len(sent)-1] {
		assert.Nil(t, hb.IsFirstHeartbeat)
		assert.False(t, hb.IsLastHeartbeat)
	}

	last := sent[len(sent)-1]
	assert.True(t, last.IsLastHeartbeat)
	assert.Nil(t, last.IsFirstHeartbeat)
}

func TestSession_NoopWithoutIdentity(t *testing.T) {
	tests := []struct {
		name string
		cfg  SessionConfig
		ids  staticIDs
	}{
		{name: "no session id", cfg: validSessionConfig(time.Hour), ids: staticIDs{}},
		{name: "no account", cfg: SessionConfig{AppName: "web", AppVersion: "1"}, ids: staticIDs{session: "s"}},
		{name: "no app name", cfg: SessionConfig{AccountID: "a", AppVersion: "1"}, ids: staticIDs{session: "s"}},
		{name: "no app version", cfg: SessionConfig{AccountID: "a", AppName: "web"}, ids: staticIDs{session: "s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &recordingSender{}
			s := NewSession(tt.cfg, sender, tt.ids, nil)
			require.NoError(t, s.Stop(context.Background()))
			assert.Empty(t, sender.Sent())
		})
	}
}

func TestSession_DefaultInterval(t *testing.T) {
	s := NewSession(SessionConfig{}, &recordingSender{}, staticIDs{}, nil)
	assert.Equal(t, DefaultSessionInterval, s.cfg.Interval)
}

func TestTask_StopIsIdempotentForNil(t *testing.T) {
	var task *Task
	task.Stop()
}
