package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulsedm/internal/domain"
)

// Lookups return (nil, nil) when no row matches.

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetProfiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Profile, error)
	TouchLastActive(ctx context.Context, id uuid.UUID, at time.Time) error
}

type FriendRepository interface {
	// Add is idempotent and order independent.
	Add(ctx context.Context, a, b uuid.UUID) error
	AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error)
	ListFriendIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// HistoryQuery selects messages between two users, newest first. When Cursor
// is set only messages strictly older than it in (created_at, id) order are
// considered before Offset is applied.
type HistoryQuery struct {
	Cursor *domain.Message
	Offset int
	Limit  int
}

type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Message, error)
	ListBetween(ctx context.Context, a, b uuid.UUID, q HistoryQuery) ([]domain.Message, error)
	LastBetween(ctx context.Context, a, b uuid.UUID) (*domain.Message, error)
	// MarkRead flags every unread message from senderID to receiverID and
	// returns how many rows changed.
	MarkRead(ctx context.Context, senderID, receiverID uuid.UUID, at time.Time) (int64, error)
	CountUnread(ctx context.Context, receiverID uuid.UUID) (int, error)
	UpdateContent(ctx context.Context, id uuid.UUID, content string, at time.Time) error
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error
}

type ConversationRepository interface {
	// CreateIfAbsent inserts conv unless a conversation with the same pair key
	// and type exists, and returns whichever row is stored.
	CreateIfAbsent(ctx context.Context, conv *domain.Conversation) (*domain.Conversation, error)
	GetByPair(ctx context.Context, a, b uuid.UUID, kind domain.ConversationType) (*domain.Conversation, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
	// ListForUser returns active conversations ordered by last_message_at
	// descending.
	ListForUser(ctx context.Context, userID uuid.UUID, offset, limit int) ([]domain.Conversation, error)
	ListMissingLastMessage(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error)
	// SetLastMessage moves the pointer forward only; an older message never
	// replaces a newer one.
	SetLastMessage(ctx context.Context, convID, msgID uuid.UUID, at time.Time) error
	SetLastMessageIfEmpty(ctx context.Context, convID, msgID uuid.UUID, at time.Time) (bool, error)
	IncrementUnread(ctx context.Context, convID, userID uuid.UUID) error
	ResetUnread(ctx context.Context, convID, userID uuid.UUID) error
	// RecountUnread sets userID's counter to the number of unread messages
	// peerID sent them, in one statement, and reports whether it changed.
	RecountUnread(ctx context.Context, convID, userID, peerID uuid.UUID) (bool, error)
}
