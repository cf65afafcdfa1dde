package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/rickgao/realtime-client/internal/api"
)

// ErrSubscriptionRejected is attached to subscriptionFailed events.
var ErrSubscriptionRejected = errors.New("subscription rejected by server")

// topicEntry is one tracked topic.
type topicEntry struct {
	subscribers map[Subscriber]struct{}
	personal    bool
}

// Registry tracks topic subscriptions for one connection.
type Registry struct {
	api    API
	conn   Connector
	policy RetryPolicy
	logger *slog.Logger

	mu       sync.Mutex
	topics   map[string]*topicEntry
	personal []string // topic kinds delivered without an explicit subscribe
}

// NewRegistry creates a Registry.
func NewRegistry(client API, conn Connector, policy RetryPolicy, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Registry{
		api:    client,
		conn:   conn,
		policy: policy,
		logger: logger,
		topics: make(map[string]*topicEntry),
	}
}

// SetConnector attaches the connection after construction.
func (r *Registry) SetConnector(conn Connector) {
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
}

func (r *Registry) connector() Connector {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

// Subscribe adds sub to topics. Topics that did not exist before are sent to the
// server in one batched call when the connection has an identity; otherwise a
// connect is started and the topics go out with the replay after identity.
func (r *Registry) Subscribe(ctx context.Context, sub Subscriber, topics []string) (*Result, error) {
	created := r.add(sub, topics)

	conn := r.connector()
	id := conn.ClientConnectionID()
	if id == "" {
		r.logger.Debug("no connection identity, deferring subscribe",
			"topics", len(created),
		)
		conn.StartConnect()
		res := newResult()
		res.Pending = true
		return res, nil
	}

	return r.subscribeRemote(ctx, id, created)
}

// Resubscribe sends every tracked topic. Called after an identity frame.
func (r *Registry) Resubscribe(ctx context.Context, clientConnectionID string) (*Result, error) {
	return r.subscribeRemote(ctx, clientConnectionID, r.Topics())
}

// Unsubscribe removes sub from topics. Topics left without subscribers are dropped
// and sent in one unsubscribe call. sub receives an unsubscribe event for every
// topic it was removed from regardless of the network outcome. An empty registry
// disconnects the stream.
func (r *Registry) Unsubscribe(ctx context.Context, sub Subscriber, topics []string) error {
	removed, emptied := r.remove(sub, topics)

	for _, topic := range removed {
		sub.HandleEvent(Event{Name: EventUnsubscribe, Topic: topic})
	}

	conn := r.connector()

	var err error
	if id := conn.ClientConnectionID(); id != "" && len(emptied) > 0 {
		if callErr := r.api.Unsubscribe(ctx, id, emptied); callErr != nil {
			status := api.StatusCode(callErr)
			var apiErr *api.APIError
			if errors.Is(callErr, api.ErrAuthExpired) {
				conn.ExpireAuth(callErr)
				err = fmt.Errorf("unsubscribe: %w", callErr)
			} else if status == 0 || (errors.As(callErr, &apiErr) && apiErr.IsStaleSession()) {
				r.logger.Debug("unsubscribe treated as already disconnected",
					"status", status,
					"error", callErr,
				)
			} else {
				err = fmt.Errorf("unsubscribe: %w", callErr)
			}
		}
	}

	if r.Len() == 0 {
		conn.Disconnect()
	}

	return err
}

// Notify delivers ev to the subscribers of topic, or to every subscriber exactly
// once when topic is empty.
func (r *Registry) Notify(topic string, ev Event) {
	for _, sub := range r.subscribersOf(topic) {
		sub.HandleEvent(ev)
	}
}

// SetPersonalTopics records the topic kinds the server pushes without a subscribe.
func (r *Registry) SetPersonalTopics(kinds []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.personal = append([]string(nil), kinds...)
	for topic, entry := range r.topics {
		entry.personal = r.isPersonalLocked(topic)
	}
}

// IsPersonal reports whether topic belongs to a personal kind.
func (r *Registry) IsPersonal(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isPersonalLocked(topic)
}

// Topics returns the tracked topics in sorted order.
func (r *Registry) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	topics := make([]string, 0, len(r.topics))
	for topic := range r.topics {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Len returns the number of tracked topics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.topics)
}

// Subscribers returns the number of subscribers of topic.
func (r *Registry) Subscribers(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.topics[topic]; ok {
		return len(entry.subscribers)
	}
	return 0
}

// subscribeRemote sends topics with the retry policy. Per-topic 5xx errors are
// retried as a batch; other per-topic errors fail the topic immediately. A stale
// session reconnects and resolves empty.
func (r *Registry) subscribeRemote(ctx context.Context, id string, topics []string) (*Result, error) {
	result := newResult()

	pending := r.remoteTopics(topics)
	if len(pending) == 0 {
		return result, nil
	}

	failed := make(map[string]api.TopicError)
	for attempt := 1; ; attempt++ {
		res, err := r.api.Subscribe(ctx, id, pending)
		if err != nil {
			var apiErr *api.APIError
			if errors.As(err, &apiErr) && apiErr.IsStaleSession() {
				r.logger.Info("stale session on subscribe, reconnecting",
					"status", apiErr.StatusCode,
				)
				r.connector().StartReconnect(nil)
				return newResult(), nil
			}
			if errors.Is(err, api.ErrAuthExpired) {
				// Topics stay tracked and are replayed once the caller connects again.
				r.connector().ExpireAuth(err)
				return nil, fmt.Errorf("subscribe: %w", err)
			}
			if r.policy.Retryable(err) && r.policy.CanRetry(attempt) {
				r.logger.Warn("subscribe failed, retrying",
					"attempt", attempt,
					"topics", len(pending),
					"error", err,
				)
				if werr := r.policy.wait(ctx); werr != nil {
					return nil, fmt.Errorf("subscribe: %w", werr)
				}
				continue
			}
			if ctx.Err() == nil {
				r.failRequest(pending, err)
			}
			return nil, fmt.Errorf("subscribe: %w", err)
		}

		result.Subscribed = append(result.Subscribed, res.Subscribed...)

		var retry []string
		for _, topic := range pending {
			topicErr, ok := res.Errors[topic]
			if !ok {
				continue
			}
			if topicErr.IsRetryable() {
				if r.policy.CanRetry(attempt) {
					retry = append(retry, topic)
				} else {
					result.Errors[topic] = topicErr
					failed[topic] = topicErr
				}
				continue
			}
			r.logger.Warn("topic subscription rejected",
				"topic", topic,
				"status", topicErr.Status,
				"message", topicErr.Message,
			)
			failed[topic] = topicErr
		}

		if len(retry) == 0 {
			break
		}
		r.logger.Warn("retrying failed topics",
			"attempt", attempt,
			"topics", len(retry),
		)
		if werr := r.policy.wait(ctx); werr != nil {
			return nil, fmt.Errorf("subscribe: %w", werr)
		}
		pending = retry
	}

	if len(failed) > 0 {
		r.fail(failed)
	}

	return result, nil
}

// add records sub under topics and returns topics created by this call.
func (r *Registry) add(sub Subscriber, topics []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var created []string
	for _, topic := range topics {
		entry, ok := r.topics[topic]
		if !ok {
			entry = &topicEntry{
				subscribers: make(map[Subscriber]struct{}),
				personal:    r.isPersonalLocked(topic),
			}
			r.topics[topic] = entry
			created = append(created, topic)
		}
		entry.subscribers[sub] = struct{}{}
	}
	return created
}

// remove detaches sub from topics. It returns the topics sub was removed from and
// the non-personal topics that became empty.
func (r *Registry) remove(sub Subscriber, topics []string) (removed, emptied []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, topic := range topics {
		entry, ok := r.topics[topic]
		if !ok {
			continue
		}
		if _, ok := entry.subscribers[sub]; !ok {
			continue
		}
		delete(entry.subscribers, sub)
		removed = append(removed, topic)

		if len(entry.subscribers) == 0 {
			delete(r.topics, topic)
			if !entry.personal {
				emptied = append(emptied, topic)
			}
		}
	}
	return removed, emptied
}

// fail drops topics locally and tells their subscribers.
func (r *Registry) fail(topics map[string]api.TopicError) {
	type failure struct {
		sub   Subscriber
		topic string
		err   error
	}

	r.mu.Lock()
	var failures []failure
	for topic, topicErr := range topics {
		entry, ok := r.topics[topic]
		if !ok {
			continue
		}
		delete(r.topics, topic)
		err := fmt.Errorf("%w: status %d", ErrSubscriptionRejected, topicErr.Status)
		for sub := range entry.subscribers {
			failures = append(failures, failure{sub: sub, topic: topic, err: err})
		}
	}
	r.mu.Unlock()

	for _, f := range failures {
		f.sub.HandleEvent(Event{
			Name:  EventSubscriptionFailed,
			Topic: f.topic,
			Err:   f.err,
		})
	}
}

// failRequest fails topics whose whole subscribe request failed, so a later
// Subscribe sends them again instead of finding them already tracked.
func (r *Registry) failRequest(topics []string, err error) {
	r.logger.Warn("subscribe request failed, dropping topics",
		"topics", len(topics),
		"error", err,
	)
	failed := make(map[string]api.TopicError, len(topics))
	for _, topic := range topics {
		failed[topic] = api.TopicError{Status: api.StatusCode(err), Message: err.Error()}
	}
	r.fail(failed)
}

// remoteTopics keeps tracked, non-personal topics.
func (r *Registry) remoteTopics(topics []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(topics))
	for _, topic := range topics {
		if entry, ok := r.topics[topic]; !ok || entry.personal {
			continue
		}
		out = append(out, topic)
	}
	return out
}

// subscribersOf snapshots the recipients for topic (all, deduplicated, when empty).
func (r *Registry) subscribersOf(topic string) []Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()

	if topic != "" {
		entry, ok := r.topics[topic]
		if !ok {
			return nil
		}
		subs := make([]Subscriber, 0, len(entry.subscribers))
		for sub := range entry.subscribers {
			subs = append(subs, sub)
		}
		return subs
	}

	seen := make(map[Subscriber]struct{})
	var subs []Subscriber
	for _, entry := range r.topics {
		for sub := range entry.subscribers {
			if _, dup := seen[sub]; dup {
				continue
			}
			seen[sub] = struct{}{}
			subs = append(subs, sub)
		}
	}
	return subs
}

func (r *Registry) isPersonalLocked(topic string) bool {
	for _, kind := range r.personal {
		if topic == kind || strings.HasPrefix(topic, kind+":") {
			return true
		}
	}
	return false
}
