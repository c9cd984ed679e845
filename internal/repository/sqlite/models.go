package sqlite

import (
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulsedm/internal/domain"
	"gorm.io/gorm"
)

// Table and column names match the Postgres schema so both stores can be
// inspected with the same queries.

type userModel struct {
	ID           uuid.UUID `gorm:"type:text;primaryKey"`
	Email        string    `gorm:"uniqueIndex;not null"`
	Username     string    `gorm:"uniqueIndex;not null"`
	DisplayName  string    `gorm:"not null"`
	AvatarURL    *string
	IsActive     bool `gorm:"not null"`
	LastActiveAt *time.Time
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (userModel) TableName() string { return "users" }

type friendshipModel struct {
	User1ID   uuid.UUID `gorm:"type:text;primaryKey"`
	User2ID   uuid.UUID `gorm:"type:text;primaryKey;index"`
	CreatedAt time.Time `gorm:"not null"`
}

func (friendshipModel) TableName() string { return "friendships" }

type messageModel struct {
	ID          uuid.UUID          `gorm:"type:text;primaryKey"`
	SenderID    uuid.UUID          `gorm:"type:text;not null;index:idx_messages_pair,priority:1"`
	ReceiverID  uuid.UUID          `gorm:"type:text;not null;index:idx_messages_pair,priority:2"`
	Content     string             `gorm:"size:1000;not null"`
	MessageType domain.MessageType `gorm:"not null"`
	FileURL     *string
	FileName    *string
	ReplyToID   *uuid.UUID `gorm:"type:text"`
	IsRead      bool       `gorm:"not null"`
	ReadAt      *time.Time
	IsEdited    bool `gorm:"not null"`
	EditedAt    *time.Time
	IsDeleted   bool `gorm:"not null"`
	DeletedAt   *time.Time
	CreatedAt   time.Time `gorm:"not null;index:idx_messages_pair,priority:3"`

	Sender userModel `gorm:"foreignKey:SenderID"`
}

func (messageModel) TableName() string { return "messages" }

type conversationModel struct {
	ID               uuid.UUID               `gorm:"type:text;primaryKey"`
	User1ID          uuid.UUID               `gorm:"type:text;not null;index"`
	User2ID          uuid.UUID               `gorm:"type:text;not null;index"`
	PairKey          string                  `gorm:"not null;uniqueIndex:idx_conversations_pair"`
	ConversationType domain.ConversationType `gorm:"not null;uniqueIndex:idx_conversations_pair"`
	LastMessageID    *uuid.UUID              `gorm:"type:text"`
	LastMessageAt    time.Time               `gorm:"not null;index"`
	IsActive         bool                    `gorm:"not null"`
	CreatedAt        time.Time               `gorm:"not null"`
	UpdatedAt        time.Time               `gorm:"not null"`
}

func (conversationModel) TableName() string { return "conversations" }

// unreadModel holds one counter per (conversation, participant).
type unreadModel struct {
	ConversationID uuid.UUID `gorm:"type:text;primaryKey"`
	UserID         uuid.UUID `gorm:"type:text;primaryKey"`
	Unread         int       `gorm:"not null"`
}

func (unreadModel) TableName() string { return "conversation_unread" }

// Migrate creates or updates the schema.
// Order is important: referenced tables come first.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&userModel{},
		&friendshipModel{},
		&messageModel{},
		&conversationModel{},
		&unreadModel{},
	)
}

func (m *userModel) toDomain() *domain.User {
	return &domain.User{
		ID:           m.ID,
		Email:        m.Email,
		Username:     m.Username,
		DisplayName:  m.DisplayName,
		AvatarURL:    m.AvatarURL,
		IsActive:     m.IsActive,
		LastActiveAt: m.LastActiveAt,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func (m *messageModel) toDomain() domain.Message {
	msg := domain.Message{
		ID:          m.ID,
		SenderID:    m.SenderID,
		ReceiverID:  m.ReceiverID,
		Content:     m.Content,
		MessageType: m.MessageType,
		FileURL:     m.FileURL,
		FileName:    m.FileName,
		ReplyToID:   m.ReplyToID,
		IsRead:      m.IsRead,
		ReadAt:      m.ReadAt,
		IsEdited:    m.IsEdited,
		EditedAt:    m.EditedAt,
		IsDeleted:   m.IsDeleted,
		DeletedAt:   m.DeletedAt,
		CreatedAt:   m.CreatedAt,
	}
	if m.Sender.ID != uuid.Nil {
		p := m.Sender.toDomain().Profile()
		msg.Sender = &p
	}
	return msg
}

func (m *conversationModel) toDomain() domain.Conversation {
	return domain.Conversation{
		ID:               m.ID,
		Participants:     []uuid.UUID{m.User1ID, m.User2ID},
		LastMessageID:    m.LastMessageID,
		LastMessageAt:    m.LastMessageAt,
		UnreadCount:      make(map[string]int, 2),
		IsActive:         m.IsActive,
		ConversationType: m.ConversationType,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}
