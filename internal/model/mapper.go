package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownKind is returned for sub-types the mapper does not handle.
var ErrUnknownKind = errors.New("unknown event kind")

// Mapper maps a raw gateway payload to a typed domain event.
type Mapper interface {
	Map(kind EventKind, data json.RawMessage) (Event, error)
}

// MapperFunc is a function adapter for Mapper.
type MapperFunc func(kind EventKind, data json.RawMessage) (Event, error)

func (f MapperFunc) Map(kind EventKind, data json.RawMessage) (Event, error) {
	return f(kind, data)
}

// DefaultMapper decodes the built-in gateway sub-types.
type DefaultMapper struct{}

// Wire formats (server field names).
type (
	messageCreatedWire struct {
		MessageID      string `json:"messageId"`
		ConversationID string `json:"conversationId"`
		SenderID       string `json:"senderId"`
		Body           string `json:"body"`
		CreatedAt      int64  `json:"createdAt"` // epoch ms
		OriginToken    string `json:"originToken"`
	}

	reactionChangedWire struct {
		MessageID string `json:"messageId"`
		ActorID   string `json:"actorId"`
		Emoji     string `json:"emoji"`
		Added     bool   `json:"added"`
	}

	conversationChangedWire struct {
		ConversationID string `json:"conversationId"`
		Title          string `json:"title"`
		Read           bool   `json:"read"`
		Archived       bool   `json:"archived"`
		UpdatedAt      int64  `json:"updatedAt"`
	}

	seenReceiptWire struct {
		ConversationID string `json:"conversationId"`
		MessageID      string `json:"messageId"`
		ReaderID       string `json:"readerId"`
		SeenAt         int64  `json:"seenAt"`
	}

	badgeUpdateWire struct {
		Counts map[string]int `json:"counts"`
	}
)

func (DefaultMapper) Map(kind EventKind, data json.RawMessage) (Event, error) {
	switch kind {
	case KindMessageCreated:
		var w messageCreatedWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return MessageCreated{
			MessageID:      w.MessageID,
			ConversationID: w.ConversationID,
			SenderID:       w.SenderID,
			Body:           w.Body,
			CreatedAt:      fromMillis(w.CreatedAt),
			OriginToken:    w.OriginToken,
		}, nil

	case KindReactionChanged:
		var w reactionChangedWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return ReactionChanged(w), nil

	case KindConversationChanged:
		var w conversationChangedWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return ConversationChanged{
			ConversationID: w.ConversationID,
			Title:          w.Title,
			Read:           w.Read,
			Archived:       w.Archived,
			UpdatedAt:      fromMillis(w.UpdatedAt),
		}, nil

	case KindSeenReceipt:
		var w seenReceiptWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return SeenReceipt{
			ConversationID: w.ConversationID,
			MessageID:      w.MessageID,
			ReaderID:       w.ReaderID,
			SeenAt:         fromMillis(w.SeenAt),
		}, nil

	case KindBadgeUpdate:
		var w badgeUpdateWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return BadgeUpdate{Counts: w.Counts}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
