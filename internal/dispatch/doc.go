// Package dispatch implements the Event Dispatcher component.
//
// The Event Dispatcher:
//   - Decodes each stream frame as a single-key tagged object
//   - Routes identity frames to the Connection Manager
//   - Feeds heartbeat frames to the Heartbeat Monitor and broadcasts its signals
//   - Delivers domain messages to the subscribers of their topic
//   - Demultiplexes gateway topics into typed events, resolving pending sends
//     by correlation token or broadcasting them as state sync
//
// Malformed and unknown frames are logged and dropped; they never affect the
// connection.
package dispatch
