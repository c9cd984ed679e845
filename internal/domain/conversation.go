package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

// PairKeySeparator joins the sorted participant ids of a direct conversation.
const PairKeySeparator = "_"

type Conversation struct {
	ID               uuid.UUID        `json:"id"`
	Participants     []uuid.UUID      `json:"participants"`
	LastMessageID    *uuid.UUID       `json:"lastMessageId,omitempty"`
	LastMessageAt    time.Time        `json:"lastMessageAt"`
	UnreadCount      map[string]int   `json:"unreadCount"`
	IsActive         bool             `json:"isActive"`
	ConversationType ConversationType `json:"conversationType"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// Key is the derived conversation id: the sorted participant ids joined for
// direct conversations, the storage id otherwise. It is never a storage key.
func (c *Conversation) Key() string {
	if c.ConversationType == ConversationDirect && len(c.Participants) == 2 {
		return PairKey(c.Participants[0], c.Participants[1])
	}
	return c.ID.String()
}

// Unread returns the counter for userID, zero when absent.
func (c *Conversation) Unread(userID uuid.UUID) int {
	if c.UnreadCount == nil {
		return 0
	}
	return c.UnreadCount[userID.String()]
}

// HasParticipant reports whether userID takes part in c.
func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// SortPair orders two user ids lexically by their string form.
func SortPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() > b.String() {
		return b, a
	}
	return a, b
}

// PairKey is order independent: PairKey(a, b) == PairKey(b, a).
func PairKey(a, b uuid.UUID) string {
	u1, u2 := SortPair(a, b)
	return u1.String() + PairKeySeparator + u2.String()
}

// ParsePairKey splits a derived direct conversation id.
func ParsePairKey(key string) (uuid.UUID, uuid.UUID, bool) {
	left, right, ok := strings.Cut(key, PairKeySeparator)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	a, err := uuid.Parse(left)
	if err != nil {
		return uuid.Nil, uuid.Nil, false
	}
	b, err := uuid.Parse(right)
	if err != nil {
		return uuid.Nil, uuid.Nil, false
	}
	return a, b, true
}

// ConversationSummary is one row of a user's conversation list.
type ConversationSummary struct {
	ID             uuid.UUID        `json:"id"`
	ConversationID string           `json:"conversationId"`
	Type           ConversationType `json:"conversationType"`
	Peer           Profile          `json:"peer"`
	LastMessage    *Message         `json:"lastMessage,omitempty"`
	LastMessageAt  time.Time        `json:"lastMessageAt"`
	UnreadCount    int              `json:"unreadCount"`
	CreatedAt      time.Time        `json:"createdAt"`
}

type ConversationPage struct {
	Conversations []ConversationSummary `json:"conversations"`
	Page          int                   `json:"page"`
	Limit         int                   `json:"limit"`
	HasMore       bool                  `json:"hasMore"`
}
