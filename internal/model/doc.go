// Package model defines the data types delivered to consumers of the realtime client.
//
// Conventions:
//   - Message carries a topic's raw payload, frozen when the frame is decoded
//   - Event is the typed domain event a gateway payload maps to
//   - Timestamps are time.Time converted from server epoch milliseconds
package model
