package model

import "time"

// EventKind names a gateway sub-type.
type EventKind string

const (
	KindMessageCreated      EventKind = "messageCreated"
	KindReactionChanged     EventKind = "reactionChanged"
	KindConversationChanged EventKind = "conversationChanged"
	KindSeenReceipt         EventKind = "seenReceipt"
	KindBadgeUpdate         EventKind = "badgeUpdate"
)

// Event is a typed domain event mapped from a gateway payload.
type Event interface {
	Kind() EventKind
}

// MessageCreated reports a new message in a conversation.
type MessageCreated struct {
	MessageID      string
	ConversationID string
	SenderID       string
	Body           string
	CreatedAt      time.Time
	OriginToken    string // echoes the correlation token of a locally sent message
}

// ReactionChanged reports a reaction added to or removed from a message.
type ReactionChanged struct {
	MessageID string
	ActorID   string
	Emoji     string
	Added     bool
}

// ConversationChanged reports conversation metadata updates.
type ConversationChanged struct {
	ConversationID string
	Title          string
	Read           bool
	Archived       bool
	UpdatedAt      time.Time
}

// SeenReceipt reports a participant reading up to a message.
type SeenReceipt struct {
	ConversationID string
	MessageID      string
	ReaderID       string
	SeenAt         time.Time
}

// BadgeUpdate carries unread counters.
type BadgeUpdate struct {
	Counts map[string]int
}

func (MessageCreated) Kind() EventKind      { return KindMessageCreated }
func (ReactionChanged) Kind() EventKind     { return KindReactionChanged }
func (ConversationChanged) Kind() EventKind { return KindConversationChanged }
func (SeenReceipt) Kind() EventKind         { return KindSeenReceipt }
func (BadgeUpdate) Kind() EventKind         { return KindBadgeUpdate }
