// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns the single push stream of a client (websocket, newline-delimited frames)
//   - Runs the Disconnected/Connecting/Connected/Erroring/Reconnecting state machine
//   - Applies the two-tier randomized backoff once stream errors exceed a threshold
//   - Stops reconnecting when the stream handshake is rejected as unauthorized
//   - Hands every frame to the Event Dispatcher on the stream's read goroutine
package connection
