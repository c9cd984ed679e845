package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulsedm/internal/domain"
)

// Notifier pushes state changes to connected clients. Delivery is best
// effort; callers never wait on it and never fail because of it.
type Notifier interface {
	// NotifyNewMessage sends new_message to the receiver and message_sent to
	// the sender.
	NotifyNewMessage(msg *domain.Message)
	NotifyMessagesRead(receipt ReadReceipt)
	NotifyMessageEdited(msg *domain.Message)
	NotifyMessageDeleted(msg *domain.Message)
}

// ReadReceipt tells PeerID that ReaderID has read their messages.
type ReadReceipt struct {
	ConversationID string    `json:"conversationId"`
	ReaderID       uuid.UUID `json:"readerId"`
	PeerID         uuid.UUID `json:"-"`
	Count          int64     `json:"count"`
	ReadAt         time.Time `json:"readAt"`
}
