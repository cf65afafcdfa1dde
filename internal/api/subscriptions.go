package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// SubscriptionsPath is the subscription collection endpoint.
const SubscriptionsPath = "/realtime/subscriptions"

// EncodeTopic returns the entity key used for a topic on the wire.
func EncodeTopic(topic string) string {
	return url.QueryEscape(topic)
}

// decodeTopic reverses EncodeTopic; keys that fail to decode are returned unchanged.
func decodeTopic(key string) string {
	topic, err := url.QueryUnescape(key)
	if err != nil {
		return key
	}
	return topic
}

// subscriptionQuery renders ids=List(k1,k2,...) without escaping the list syntax.
func subscriptionQuery(keys []string) string {
	return "ids=List(" + strings.Join(keys, ",") + ")"
}

// Subscribe issues one batched PUT for topics.
func (c *Client) Subscribe(ctx context.Context, clientConnectionID string, topics []string) (*SubscriptionResult, error) {
	body, err := c.subscriptionCall(ctx, http.MethodPut, clientConnectionID, topics)
	if err != nil {
		return nil, err
	}

	result := &SubscriptionResult{Errors: make(map[string]TopicError)}
	if len(body) == 0 {
		result.Subscribed = append(result.Subscribed, topics...)
		return result, nil
	}

	var wire subscriptionResponseWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal subscription response: %w", err)
	}

	for key, topicErr := range wire.Errors {
		result.Errors[decodeTopic(key)] = topicErr
	}
	for _, topic := range topics {
		if _, failed := result.Errors[topic]; !failed {
			result.Subscribed = append(result.Subscribed, topic)
		}
	}

	return result, nil
}

// Unsubscribe issues one batched DELETE for topics.
func (c *Client) Unsubscribe(ctx context.Context, clientConnectionID string, topics []string) error {
	_, err := c.subscriptionCall(ctx, http.MethodDelete, clientConnectionID, topics)
	return err
}

func (c *Client) subscriptionCall(ctx context.Context, method, clientConnectionID string, topics []string) ([]byte, error) {
	if len(topics) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(topics))
	entities := make(map[string]struct{}, len(topics))
	for _, topic := range topics {
		key := EncodeTopic(topic)
		keys = append(keys, key)
		entities[key] = struct{}{}
	}
	sort.Strings(keys)

	extra := http.Header{}
	extra.Set(ClientConnectionHeader, clientConnectionID)
	return c.doRequest(ctx, method, SubscriptionsPath, subscriptionQuery(keys), subscriptionBody{Entities: entities}, extra)
}
