package domain

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	Username     string     `json:"username"`
	DisplayName  string     `json:"displayName"`
	AvatarURL    *string    `json:"avatarUrl,omitempty"`
	IsActive     bool       `json:"isActive"`
	LastActiveAt *time.Time `json:"lastActiveAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Profile is the display snippet attached to conversations and messages.
type Profile struct {
	ID           uuid.UUID  `json:"id"`
	Username     string     `json:"username"`
	DisplayName  string     `json:"displayName"`
	AvatarURL    *string    `json:"avatarUrl,omitempty"`
	LastActiveAt *time.Time `json:"lastActiveAt,omitempty"`
}

func (u *User) Profile() Profile {
	return Profile{
		ID:           u.ID,
		Username:     u.Username,
		DisplayName:  u.DisplayName,
		AvatarURL:    u.AvatarURL,
		LastActiveAt: u.LastActiveAt,
	}
}

// Friendship links two users. User1ID always sorts before User2ID.
type Friendship struct {
	User1ID   uuid.UUID `json:"user1Id"`
	User2ID   uuid.UUID `json:"user2Id"`
	CreatedAt time.Time `json:"createdAt"`
}
