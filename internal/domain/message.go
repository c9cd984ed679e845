package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeAudio MessageType = "audio"
	MessageTypeFile  MessageType = "file"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeAudio, MessageTypeFile:
		return true
	}
	return false
}

const (
	MinContentLength = 1
	MaxContentLength = 1000
)

type Message struct {
	ID          uuid.UUID   `json:"id"`
	SenderID    uuid.UUID   `json:"senderId"`
	ReceiverID  uuid.UUID   `json:"receiverId"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"messageType"`
	FileURL     *string     `json:"fileUrl,omitempty"`
	FileName    *string     `json:"fileName,omitempty"`
	ReplyToID   *uuid.UUID  `json:"replyToId,omitempty"`
	IsRead      bool        `json:"isRead"`
	ReadAt      *time.Time  `json:"readAt,omitempty"`
	IsEdited    bool        `json:"isEdited"`
	EditedAt    *time.Time  `json:"editedAt,omitempty"`
	IsDeleted   bool        `json:"isDeleted"`
	DeletedAt   *time.Time  `json:"deletedAt,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	// Joined fields
	Sender *Profile `json:"sender,omitempty"`
}

// ConversationKey returns the derived id of the direct conversation the
// message belongs to.
func (m *Message) ConversationKey() string {
	return PairKey(m.SenderID, m.ReceiverID)
}

// PeerOf returns the participant of m that is not userID.
func (m *Message) PeerOf(userID uuid.UUID) uuid.UUID {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Redacted returns a copy safe for rendering. Deleted messages keep their id,
// participants and timestamps but lose content and attachments.
func (m *Message) Redacted() Message {
	out := *m
	if !out.IsDeleted {
		return out
	}
	out.Content = ""
	out.FileURL = nil
	out.FileName = nil
	out.ReplyToID = nil
	return out
}

// PageQuery selects a page of history between two users. When Before is set
// the page is counted from that message instead of from the newest one.
type PageQuery struct {
	Page   int
	Limit  int
	Before *uuid.UUID
}

func (q PageQuery) Offset() int {
	if q.Page <= 1 {
		return 0
	}
	return (q.Page - 1) * q.Limit
}

// MessagePage is returned oldest-first.
type MessagePage struct {
	Messages   []Message  `json:"messages"`
	Page       int        `json:"page"`
	Limit      int        `json:"limit"`
	HasMore    bool       `json:"hasMore"`
	NextBefore *uuid.UUID `json:"nextBefore,omitempty"`
}
