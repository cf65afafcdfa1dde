// Package heartbeat tracks liveness in both directions.
//
// Monitor watches server heartbeat frames carried on the stream and reports gaps.
// Session sends the client's connectivity heartbeats over REST. Task is the
// cancellable interval runner both use for their periodic work.
package heartbeat
