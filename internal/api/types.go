package api

import "encoding/json"

// ClientConnectionHeader carries the connection id issued on the stream's identity frame.
const ClientConnectionHeader = "X-Realtime-Client-Connection-Id"

// TopicError is a per-topic failure reported by a subscription call.
type TopicError struct {
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
}

// IsRetryable reports a 5xx topic failure.
func (e TopicError) IsRetryable() bool {
	return e.Status/100 == 5
}

// SubscriptionResult is the decoded outcome of a subscription call, keyed by topic.
type SubscriptionResult struct {
	Subscribed []string
	Errors     map[string]TopicError
}

// subscriptionBody is the request body for subscribe/unsubscribe.
type subscriptionBody struct {
	Entities map[string]struct{} `json:"entities"`
}

// subscriptionResponseWire is the raw response; keys are encoded topics.
type subscriptionResponseWire struct {
	Results map[string]json.RawMessage `json:"results"`
	Errors  map[string]TopicError      `json:"errors"`
}

// ConnectivityHeartbeat is a single connectivity tracking entry.
type ConnectivityHeartbeat struct {
	ClientID          string `json:"clientId,omitempty"`
	RealtimeSessionID string `json:"realtimeSessionId"`
	AppName           string `json:"mpName"`
	AppVersion        string `json:"mpVersion"`
	IsLastHeartbeat   bool   `json:"isLastHeartbeat"`
	IsFirstHeartbeat  *bool  `json:"isFirstHeartbeat,omitempty"`
}

// timestampResponse is the clock-sync response.
type timestampResponse struct {
	Timestamp int64 `json:"timestamp"` // server epoch milliseconds
}
