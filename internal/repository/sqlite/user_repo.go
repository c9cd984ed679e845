package sqlite

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulsedm/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserRepo struct {
	db *gorm.DB
}

func NewUserRepo(db *gorm.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) Create(ctx context.Context, user *domain.User) error {
	m := userModel{
		ID:           user.ID,
		Email:        user.Email,
		Username:     user.Username,
		DisplayName:  user.DisplayName,
		AvatarURL:    user.AvatarURL,
		IsActive:     user.IsActive,
		LastActiveAt: user.LastActiveAt,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}
	return r.db.WithContext(ctx).Create(&m).Error
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var m userModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m.toDomain(), nil
}

func (r *UserRepo) GetProfiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Profile, error) {
	profiles := make(map[uuid.UUID]domain.Profile, len(ids))
	if len(ids) == 0 {
		return profiles, nil
	}

	var models []userModel
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, err
	}
	for i := range models {
		profiles[models[i].ID] = models[i].toDomain().Profile()
	}
	return profiles, nil
}

func (r *UserRepo) TouchLastActive(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).Model(&userModel{}).
		Where("id = ?", id).
		Updates(map[string]any{"last_active_at": at.UTC(), "updated_at": at.UTC()}).Error
}

type FriendRepo struct {
	db *gorm.DB
}

func NewFriendRepo(db *gorm.DB) *FriendRepo {
	return &FriendRepo{db: db}
}

func (r *FriendRepo) Add(ctx context.Context, a, b uuid.UUID) error {
	u1, u2 := domain.SortPair(a, b)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&friendshipModel{User1ID: u1, User2ID: u2, CreatedAt: time.Now().UTC()}).Error
}

func (r *FriendRepo) AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error) {
	u1, u2 := domain.SortPair(a, b)
	var n int64
	err := r.db.WithContext(ctx).Model(&friendshipModel{}).
		Where("user1_id = ? AND user2_id = ?", u1, u2).
		Count(&n).Error
	return n > 0, err
}

func (r *FriendRepo) ListFriendIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var rows []friendshipModel
	err := r.db.WithContext(ctx).
		Where("user1_id = ? OR user2_id = ?", userID, userID).
		Order("created_at").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(rows))
	for _, f := range rows {
		if f.User1ID == userID {
			ids = append(ids, f.User2ID)
		} else {
			ids = append(ids, f.User1ID)
		}
	}
	return ids, nil
}
