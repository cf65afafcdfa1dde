// Package subscription implements the Subscription Registry.
//
// The Registry:
//   - Tracks which subscribers want which topics
//   - Issues batched subscribe/unsubscribe calls for topics entering or leaving the set
//   - Replays every tracked topic when the connection gets a new identity
//   - Fans events out to a topic's subscribers, or to all subscribers once each
package subscription
