// Package api provides the REST side of the realtime client.
//
// Endpoints (relative to the configured REST base URL):
//   - PUT/DELETE /realtime/subscriptions   batched topic subscribe/unsubscribe
//   - POST       /realtime/connectivityTracking   connectivity session heartbeats
//   - GET        /realtime/timestamp   server clock for skew estimation
//
// Requests whose URL would exceed MaxURLLength are tunnelled through a POST.
package api
