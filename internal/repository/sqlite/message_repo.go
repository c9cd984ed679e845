package sqlite

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulsedm/internal/domain"
	"github.com/vedran77/pulsedm/internal/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MessageRepo struct {
	db *gorm.DB
}

func NewMessageRepo(db *gorm.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

func (r *MessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	m := messageModel{
		ID:          msg.ID,
		SenderID:    msg.SenderID,
		ReceiverID:  msg.ReceiverID,
		Content:     msg.Content,
		MessageType: msg.MessageType,
		FileURL:     msg.FileURL,
		FileName:    msg.FileName,
		ReplyToID:   msg.ReplyToID,
		IsRead:      msg.IsRead,
		CreatedAt:   msg.CreatedAt.UTC(),
	}
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(&m).Error
}

func (r *MessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	var m messageModel
	err := r.db.WithContext(ctx).Preload("Sender").Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	msg := m.toDomain()
	return &msg, nil
}

func (r *MessageRepo) GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Message, error) {
	out := make(map[uuid.UUID]domain.Message, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var models []messageModel
	if err := r.db.WithContext(ctx).Preload("Sender").Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, err
	}
	for i := range models {
		out[models[i].ID] = models[i].toDomain()
	}
	return out, nil
}

func (r *MessageRepo) ListBetween(ctx context.Context, a, b uuid.UUID, q repository.HistoryQuery) ([]domain.Message, error) {
	tx := r.db.WithContext(ctx).Preload("Sender").
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", a, b, b, a)
	if q.Cursor != nil {
		at := q.Cursor.CreatedAt.UTC()
		tx = tx.Where("(created_at < ? OR (created_at = ? AND id < ?))", at, at, q.Cursor.ID)
	}

	var models []messageModel
	err := tx.Order("created_at DESC").Order("id DESC").
		Offset(q.Offset).Limit(q.Limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	msgs := make([]domain.Message, len(models))
	for i := range models {
		msgs[i] = models[i].toDomain()
	}
	return msgs, nil
}

func (r *MessageRepo) LastBetween(ctx context.Context, a, b uuid.UUID) (*domain.Message, error) {
	msgs, err := r.ListBetween(ctx, a, b, repository.HistoryQuery{Limit: 1})
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return &msgs[0], nil
}

func (r *MessageRepo) MarkRead(ctx context.Context, senderID, receiverID uuid.UUID, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&messageModel{}).
		Where("sender_id = ? AND receiver_id = ? AND is_read = ?", senderID, receiverID, false).
		Updates(map[string]any{"is_read": true, "read_at": at.UTC()})
	return res.RowsAffected, res.Error
}

func (r *MessageRepo) CountUnread(ctx context.Context, receiverID uuid.UUID) (int, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&messageModel{}).
		Where("receiver_id = ? AND is_read = ?", receiverID, false).
		Count(&n).Error
	return int(n), err
}

func (r *MessageRepo) UpdateContent(ctx context.Context, id uuid.UUID, content string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&messageModel{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]any{"content": content, "is_edited": true, "edited_at": at.UTC()}).Error
}

func (r *MessageRepo) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).Model(&messageModel{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]any{"is_deleted": true, "deleted_at": at.UTC()}).Error
}
