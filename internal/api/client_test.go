package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type staticHeaders http.Header

func (h staticHeaders) Headers() (http.Header, error) { return http.Header(h), nil }

type failingHeaders struct{}

func (failingHeaders) Headers() (http.Header, error) { return nil, errors.New("no session") }

// TestNewClient tests client construction with various options.
func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("https://api.example.com", nil)

		if c.baseURL != "https://api.example.com" {
			t.Errorf("baseURL = %q, want %q", c.baseURL, "https://api.example.com")
		}
		if c.httpClient.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 30*time.Second)
		}
		if c.maxRetries != 3 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 3)
		}
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
	})

	t.Run("with options", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		c := NewClient("https://api.example.com", nil,
			WithTimeout(15*time.Second),
			WithRetries(10, 500*time.Millisecond),
			WithLogger(logger),
		)
		if c.httpClient.Timeout != 15*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 15*time.Second)
		}
		if c.maxRetries != 10 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 10)
		}
		if c.retryBackoff != 500*time.Millisecond {
			t.Errorf("retryBackoff = %v, want %v", c.retryBackoff, 500*time.Millisecond)
		}
		if c.logger != logger {
			t.Error("logger not set correctly")
		}
	})

	t.Run("with http2", func(t *testing.T) {
		c := NewClient("https://api.example.com", nil, WithHTTP2())
		if c.httpClient.Transport == nil {
			t.Error("expected HTTP/2 transport")
		}
	})
}

func TestAPIError(t *testing.T) {
	tests := []struct {
		status       int
		retryable    bool
		unauthorized bool
		stale        bool
	}{
		{status: 400},
		{status: 401, unauthorized: true},
		{status: 403, unauthorized: true},
		{status: 409, stale: true},
		{status: 412, stale: true},
		{status: 429},
		{status: 500, retryable: true},
		{status: 503, retryable: true},
	}

	for _, tt := range tests {
		e := &APIError{StatusCode: tt.status}
		if e.IsRetryable() != tt.retryable {
			t.Errorf("%d IsRetryable = %v, want %v", tt.status, e.IsRetryable(), tt.retryable)
		}
		if e.IsUnauthorized() != tt.unauthorized {
			t.Errorf("%d IsUnauthorized = %v, want %v", tt.status, e.IsUnauthorized(), tt.unauthorized)
		}
		if e.IsStaleSession() != tt.stale {
			t.Errorf("%d IsStaleSession = %v, want %v", tt.status, e.IsStaleSession(), tt.stale)
		}
		wrapped := fmt.Errorf("subscribe: %w", e)
		if errors.Is(wrapped, ErrAuthExpired) != tt.unauthorized {
			t.Errorf("%d errors.Is(ErrAuthExpired) mismatch, want %v", tt.status, tt.unauthorized)
		}
	}

	if got := StatusCode(errors.New("dial tcp: refused")); got != 0 {
		t.Errorf("StatusCode(transport error) = %d, want 0", got)
	}
}

func TestSubscribe(t *testing.T) {
	t.Run("batched put with per-topic errors", func(t *testing.T) {
		var gotMethod, gotQuery, gotConn, gotAuth string
		var gotBody subscriptionBody

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotQuery = r.URL.RawQuery
			gotConn = r.Header.Get(ClientConnectionHeader)
			gotAuth = r.Header.Get("Authorization")
			json.NewDecoder(r.Body).Decode(&gotBody)

			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"results":{"a%3A1":{}},"errors":{"b%3A2":{"status":503,"message":"busy"}}}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, staticHeaders{"Authorization": {"Bearer t"}})
		res, err := c.Subscribe(context.Background(), "conn-1", []string{"a:1", "b:2"})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}

		if gotMethod != http.MethodPut {
			t.Errorf("method = %s, want PUT", gotMethod)
		}
		if gotQuery != "ids=List(a%3A1,b%3A2)" {
			t.Errorf("query = %q, want %q", gotQuery, "ids=List(a%3A1,b%3A2)")
		}
		if gotConn != "conn-1" {
			t.Errorf("connection header = %q, want conn-1", gotConn)
		}
		if gotAuth != "Bearer t" {
			t.Errorf("Authorization = %q, want Bearer t", gotAuth)
		}
		if len(gotBody.Entities) != 2 {
			t.Errorf("entities = %v, want 2 keys", gotBody.Entities)
		}

		if len(res.Subscribed) != 1 || res.Subscribed[0] != "a:1" {
			t.Errorf("Subscribed = %v, want [a:1]", res.Subscribed)
		}
		topicErr, ok := res.Errors["b:2"]
		if !ok || topicErr.Status != 503 || !topicErr.IsRetryable() {
			t.Errorf("Errors[b:2] = %+v, want retryable 503", topicErr)
		}
	})

	t.Run("top-level error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusPreconditionFailed)
		}))
		defer server.Close()

		c := NewClient(server.URL, nil)
		_, err := c.Subscribe(context.Background(), "conn-1", []string{"a"})

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsStaleSession() {
			t.Fatalf("err = %v, want stale session APIError", err)
		}
	})

	t.Run("empty topics is a no-op", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
		}))
		defer server.Close()

		c := NewClient(server.URL, nil)
		if _, err := c.Subscribe(context.Background(), "conn-1", nil); err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
		if atomic.LoadInt32(&calls) != 0 {
			t.Error("expected no request for empty topics")
		}
	})

	t.Run("header source failure", func(t *testing.T) {
		c := NewClient("http://127.0.0.1:1", failingHeaders{})
		if _, err := c.Subscribe(context.Background(), "c", []string{"a"}); err == nil {
			t.Error("expected error from header source")
		}
	})
}

func TestSubscribe_TunnelsLongURL(t *testing.T) {
	var gotMethod, gotOverride, gotQuery string
	var gotParts []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotOverride = r.Header.Get(MethodOverrideHeader)
		gotQuery = r.URL.RawQuery

		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			t.Errorf("parse content type: %v", err)
			return
		}
		mr := multipart.NewReader(r.Body, params["boundary"])
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Errorf("next part: %v", err)
				return
			}
			data, _ := io.ReadAll(p)
			gotParts = append(gotParts, p.Header.Get("Content-Type")+"|"+string(data))
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	topics := make([]string, 0, 60)
	for i := 0; i < 60; i++ {
		topics = append(topics, "urn:topic:"+strings.Repeat("x", 20)+strconv.Itoa(i))
	}

	c := NewClient(server.URL, nil)
	if _, err := c.Subscribe(context.Background(), "conn-1", topics); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("method = %s, want POST", gotMethod)
	}
	if gotOverride != http.MethodPut {
		t.Errorf("override = %q, want PUT", gotOverride)
	}
	if gotQuery != "" {
		t.Errorf("query = %q, want empty", gotQuery)
	}
	if len(gotParts) != 2 {
		t.Fatalf("parts = %d, want 2", len(gotParts))
	}
	if !strings.HasPrefix(gotParts[0], "application/x-www-form-urlencoded|ids=List(") {
		t.Errorf("first part = %q, want form-encoded ids", gotParts[0])
	}
	if !strings.HasPrefix(gotParts[1], "application/json|{\"entities\"") {
		t.Errorf("second part = %q, want json body", gotParts[1])
	}
}

func TestUnsubscribe(t *testing.T) {
	var gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
	}))
	defer server.Close()

	c := NewClient(server.URL, nil)
	if err := c.Unsubscribe(context.Background(), "conn-1", []string{"a"}); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if gotMethod != http.MethodDelete {
		t.Errorf("method = %s, want DELETE", gotMethod)
	}
}

func TestSendHeartbeat(t *testing.T) {
	var got []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != ConnectivityPath {
			t.Errorf("path = %s, want %s", r.URL.Path, ConnectivityPath)
		}
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer server.Close()

	first := true
	c := NewClient(server.URL, nil)
	err := c.SendHeartbeat(context.Background(), ConnectivityHeartbeat{
		RealtimeSessionID: "sess",
		AppName:           "web",
		AppVersion:        "1.2.3",
		IsFirstHeartbeat:  &first,
	})
	if err != nil {
		t.Fatalf("SendHeartbeat failed: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("entries = %d, want 1", len(got))
	}
	entry := got[0]
	if entry["realtimeSessionId"] != "sess" || entry["mpName"] != "web" || entry["mpVersion"] != "1.2.3" {
		t.Errorf("entry = %v", entry)
	}
	if entry["isFirstHeartbeat"] != true || entry["isLastHeartbeat"] != false {
		t.Errorf("flags = %v", entry)
	}
	if _, ok := entry["clientId"]; ok {
		t.Error("clientId should be omitted when empty")
	}
}

func TestServerTime(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"timestamp":1700000000500}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, nil)
		got, err := c.ServerTime(context.Background())
		if err != nil {
			t.Fatalf("ServerTime failed: %v", err)
		}
		if got.UnixMilli() != 1700000000500 {
			t.Errorf("ServerTime = %d, want 1700000000500", got.UnixMilli())
		}
	})

	t.Run("single attempt on 5xx", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		c := NewClient(server.URL, nil, WithRetries(3, time.Second))
		start := time.Now()
		_, err := c.ServerTime(context.Background())

		if StatusCode(err) != http.StatusServiceUnavailable {
			t.Fatalf("err = %v, want 503", err)
		}
		if atomic.LoadInt32(&calls) != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
		if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
			t.Errorf("ServerTime took %v, a retry sleep leaked into the round trip", elapsed)
		}
	})

	t.Run("no retry on 4xx", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		c := NewClient(server.URL, nil, WithRetries(3, time.Millisecond))
		_, err := c.ServerTime(context.Background())

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsUnauthorized() {
			t.Fatalf("err = %v, want 401 APIError", err)
		}
		if atomic.LoadInt32(&calls) != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})
}

func TestSendHeartbeatRetriesOn5xx(t *testing.T) {
	var calls int32
	var bodies []string
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(data))
		mu.Unlock()
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, WithRetries(3, time.Millisecond))
	err := c.SendHeartbeat(context.Background(), ConnectivityHeartbeat{RealtimeSessionID: "sess", IsLastHeartbeat: true})
	if err != nil {
		t.Fatalf("SendHeartbeat failed: %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	mu.Lock()
	defer mu.Unlock()
	for i, b := range bodies {
		if !strings.Contains(b, `"isLastHeartbeat":true`) {
			t.Errorf("attempt %d body = %s", i+1, b)
		}
	}
}

func TestSendHeartbeatUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, WithRetries(3, time.Millisecond))
	err := c.SendHeartbeat(context.Background(), ConnectivityHeartbeat{RealtimeSessionID: "sess"})
	if !errors.Is(err, ErrAuthExpired) {
		t.Errorf("err = %v, want ErrAuthExpired", err)
	}
}
