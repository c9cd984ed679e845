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

var unreadKey = []clause.Column{{Name: "conversation_id"}, {Name: "user_id"}}

type ConversationRepo struct {
	db *gorm.DB
}

func NewConversationRepo(db *gorm.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

func (r *ConversationRepo) CreateIfAbsent(ctx context.Context, conv *domain.Conversation) (*domain.Conversation, error) {
	if len(conv.Participants) != 2 {
		return nil, domain.ErrGroupConversation
	}
	u1, u2 := domain.SortPair(conv.Participants[0], conv.Participants[1])

	var stored conversationModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m := conversationModel{
			ID:               conv.ID,
			User1ID:          u1,
			User2ID:          u2,
			PairKey:          domain.PairKey(u1, u2),
			ConversationType: conv.ConversationType,
			LastMessageAt:    conv.LastMessageAt.UTC(),
			IsActive:         conv.IsActive,
			CreatedAt:        conv.CreatedAt.UTC(),
			UpdatedAt:        conv.UpdatedAt.UTC(),
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pair_key"}, {Name: "conversation_type"}},
			DoNothing: true,
		}).Create(&m).Error
		if err != nil {
			return err
		}

		err = tx.Where("pair_key = ? AND conversation_type = ?", m.PairKey, m.ConversationType).
			First(&stored).Error
		if err != nil {
			return err
		}

		seed := []unreadModel{
			{ConversationID: stored.ID, UserID: u1},
			{ConversationID: stored.ID, UserID: u2},
		}
		return tx.Clauses(clause.OnConflict{Columns: unreadKey, DoNothing: true}).Create(&seed).Error
	})
	if err != nil {
		return nil, err
	}

	out := stored.toDomain()
	if err := r.loadUnread(ctx, []*domain.Conversation{&out}); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *ConversationRepo) GetByPair(ctx context.Context, a, b uuid.UUID, kind domain.ConversationType) (*domain.Conversation, error) {
	return r.getOne(ctx, "pair_key = ? AND conversation_type = ?", domain.PairKey(a, b), kind)
}

func (r *ConversationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	return r.getOne(ctx, "id = ?", id)
}

func (r *ConversationRepo) ListForUser(ctx context.Context, userID uuid.UUID, offset, limit int) ([]domain.Conversation, error) {
	var models []conversationModel
	err := r.db.WithContext(ctx).
		Where("(user1_id = ? OR user2_id = ?) AND is_active = ?", userID, userID, true).
		Order("last_message_at DESC").Order("id DESC").
		Offset(offset).Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return r.withUnread(ctx, models)
}

func (r *ConversationRepo) ListMissingLastMessage(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error) {
	var models []conversationModel
	err := r.db.WithContext(ctx).
		Where("(user1_id = ? OR user2_id = ?) AND last_message_id IS NULL", userID, userID).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return r.withUnread(ctx, models)
}

func (r *ConversationRepo) SetLastMessage(ctx context.Context, convID, msgID uuid.UUID, at time.Time) error {
	at = at.UTC()
	return r.db.WithContext(ctx).Model(&conversationModel{}).
		Where("id = ? AND (last_message_id IS NULL OR last_message_at <= ?)", convID, at).
		Updates(map[string]any{
			"last_message_id": msgID,
			"last_message_at": at,
			"updated_at":      time.Now().UTC(),
		}).Error
}

func (r *ConversationRepo) SetLastMessageIfEmpty(ctx context.Context, convID, msgID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&conversationModel{}).
		Where("id = ? AND last_message_id IS NULL", convID).
		Updates(map[string]any{
			"last_message_id": msgID,
			"last_message_at": at.UTC(),
			"updated_at":      time.Now().UTC(),
		})
	return res.RowsAffected == 1, res.Error
}

func (r *ConversationRepo) IncrementUnread(ctx context.Context, convID, userID uuid.UUID) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: unreadKey,
		DoUpdates: clause.Assignments(map[string]any{
			"unread": gorm.Expr("conversation_unread.unread + 1"),
		}),
	}).Create(&unreadModel{ConversationID: convID, UserID: userID, Unread: 1}).Error
}

func (r *ConversationRepo) ResetUnread(ctx context.Context, convID, userID uuid.UUID) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   unreadKey,
		DoUpdates: clause.Assignments(map[string]any{"unread": 0}),
	}).Create(&unreadModel{ConversationID: convID, UserID: userID}).Error
}

func (r *ConversationRepo) RecountUnread(ctx context.Context, convID, userID, peerID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
		INSERT INTO conversation_unread (conversation_id, user_id, unread)
		VALUES (?, ?, (
			SELECT COUNT(*) FROM messages
			WHERE sender_id = ? AND receiver_id = ? AND is_read = ?))
		ON CONFLICT (conversation_id, user_id)
		DO UPDATE SET unread = excluded.unread
		WHERE conversation_unread.unread <> excluded.unread`,
		convID, userID, peerID, userID, false)
	return res.RowsAffected == 1, res.Error
}

func (r *ConversationRepo) getOne(ctx context.Context, query string, args ...any) (*domain.Conversation, error) {
	var m conversationModel
	err := r.db.WithContext(ctx).Where(query, args...).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	conv := m.toDomain()
	if err := r.loadUnread(ctx, []*domain.Conversation{&conv}); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *ConversationRepo) withUnread(ctx context.Context, models []conversationModel) ([]domain.Conversation, error) {
	convs := make([]domain.Conversation, len(models))
	ptrs := make([]*domain.Conversation, len(models))
	for i := range models {
		convs[i] = models[i].toDomain()
		ptrs[i] = &convs[i]
	}
	if err := r.loadUnread(ctx, ptrs); err != nil {
		return nil, err
	}
	return convs, nil
}

func (r *ConversationRepo) loadUnread(ctx context.Context, convs []*domain.Conversation) error {
	if len(convs) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(convs))
	byID := make(map[uuid.UUID]*domain.Conversation, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
		byID[c.ID] = c
	}

	var rows []unreadModel
	if err := r.db.WithContext(ctx).Where("conversation_id IN ?", ids).Find(&rows).Error; err != nil {
		return err
	}
	for _, u := range rows {
		if c, ok := byID[u.ConversationID]; ok {
			c.UnreadCount[u.UserID.String()] = u.Unread
		}
	}
	return nil
}
