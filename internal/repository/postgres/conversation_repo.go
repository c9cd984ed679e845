package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/pulsedm/internal/domain"
)

const conversationColumns = `
	c.id, c.user1_id, c.user2_id, c.conversation_type, c.last_message_id,
	c.last_message_at, c.is_active, c.created_at, c.updated_at`

type ConversationRepo struct {
	pool *pgxpool.Pool
}

func NewConversationRepo(pool *pgxpool.Pool) *ConversationRepo {
	return &ConversationRepo{pool: pool}
}

func (r *ConversationRepo) CreateIfAbsent(ctx context.Context, conv *domain.Conversation) (*domain.Conversation, error) {
	if len(conv.Participants) != 2 {
		return nil, domain.ErrGroupConversation
	}
	u1, u2 := domain.SortPair(conv.Participants[0], conv.Participants[1])

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// The unique (pair_key, conversation_type) index decides the winner when
	// two inserts race; the loser falls through to the select below.
	_, err = tx.Exec(ctx, `
		INSERT INTO conversations (id, user1_id, user2_id, pair_key, conversation_type,
			last_message_at, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (pair_key, conversation_type) DO NOTHING`,
		conv.ID, u1, u2, domain.PairKey(u1, u2), conv.ConversationType,
		conv.LastMessageAt, conv.IsActive, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	stored, err := scanConversation(tx.QueryRow(ctx, `SELECT`+conversationColumns+`
		FROM conversations c
		WHERE c.pair_key = $1 AND c.conversation_type = $2`,
		domain.PairKey(u1, u2), conv.ConversationType))
	if err != nil {
		return nil, err
	}

	for _, uid := range []uuid.UUID{u1, u2} {
		if _, err := tx.Exec(ctx, `
			INSERT INTO conversation_unread (conversation_id, user_id, unread)
			VALUES ($1, $2, 0)
			ON CONFLICT (conversation_id, user_id) DO NOTHING`, stored.ID, uid); err != nil {
			return nil, fmt.Errorf("seed unread counter: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	if err := r.loadUnread(ctx, []*domain.Conversation{&stored}); err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *ConversationRepo) GetByPair(ctx context.Context, a, b uuid.UUID, kind domain.ConversationType) (*domain.Conversation, error) {
	return r.getOne(ctx, `SELECT`+conversationColumns+`
		FROM conversations c
		WHERE c.pair_key = $1 AND c.conversation_type = $2`, domain.PairKey(a, b), kind)
}

func (r *ConversationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	return r.getOne(ctx, `SELECT`+conversationColumns+`
		FROM conversations c
		WHERE c.id = $1`, id)
}

func (r *ConversationRepo) ListForUser(ctx context.Context, userID uuid.UUID, offset, limit int) ([]domain.Conversation, error) {
	return r.list(ctx, `SELECT`+conversationColumns+`
		FROM conversations c
		WHERE (c.user1_id = $1 OR c.user2_id = $1) AND c.is_active = TRUE
		ORDER BY c.last_message_at DESC, c.id DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
}

func (r *ConversationRepo) ListMissingLastMessage(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error) {
	return r.list(ctx, `SELECT`+conversationColumns+`
		FROM conversations c
		WHERE (c.user1_id = $1 OR c.user2_id = $1) AND c.last_message_id IS NULL`, userID)
}

func (r *ConversationRepo) SetLastMessage(ctx context.Context, convID, msgID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE conversations
		SET last_message_id = $2, last_message_at = $3, updated_at = now()
		WHERE id = $1 AND (last_message_id IS NULL OR last_message_at <= $3)`,
		convID, msgID, at)
	return err
}

func (r *ConversationRepo) SetLastMessageIfEmpty(ctx context.Context, convID, msgID uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE conversations
		SET last_message_id = $2, last_message_at = $3, updated_at = now()
		WHERE id = $1 AND last_message_id IS NULL`,
		convID, msgID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ConversationRepo) IncrementUnread(ctx context.Context, convID, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO conversation_unread (conversation_id, user_id, unread)
		VALUES ($1, $2, 1)
		ON CONFLICT (conversation_id, user_id)
		DO UPDATE SET unread = conversation_unread.unread + 1`, convID, userID)
	return err
}

func (r *ConversationRepo) ResetUnread(ctx context.Context, convID, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO conversation_unread (conversation_id, user_id, unread)
		VALUES ($1, $2, 0)
		ON CONFLICT (conversation_id, user_id)
		DO UPDATE SET unread = 0`, convID, userID)
	return err
}

func (r *ConversationRepo) RecountUnread(ctx context.Context, convID, userID, peerID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO conversation_unread (conversation_id, user_id, unread)
		VALUES ($1, $2, (
			SELECT COUNT(*) FROM messages
			WHERE sender_id = $3 AND receiver_id = $2 AND is_read = FALSE))
		ON CONFLICT (conversation_id, user_id)
		DO UPDATE SET unread = EXCLUDED.unread
		WHERE conversation_unread.unread <> EXCLUDED.unread`, convID, userID, peerID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ConversationRepo) getOne(ctx context.Context, query string, args ...any) (*domain.Conversation, error) {
	conv, err := scanConversation(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadUnread(ctx, []*domain.Conversation{&conv}); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *ConversationRepo) list(ctx context.Context, query string, args ...any) ([]domain.Conversation, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ptrs := make([]*domain.Conversation, len(convs))
	for i := range convs {
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
		c.UnreadCount = make(map[string]int, 2)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT conversation_id, user_id, unread
		FROM conversation_unread
		WHERE conversation_id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("load unread counters: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var convID, userID uuid.UUID
		var n int
		if err := rows.Scan(&convID, &userID, &n); err != nil {
			return err
		}
		if c, ok := byID[convID]; ok {
			c.UnreadCount[userID.String()] = n
		}
	}
	return rows.Err()
}

func scanConversation(row pgx.Row) (domain.Conversation, error) {
	var c domain.Conversation
	var u1, u2 uuid.UUID
	err := row.Scan(
		&c.ID, &u1, &u2, &c.ConversationType, &c.LastMessageID,
		&c.LastMessageAt, &c.IsActive, &c.CreatedAt, &c.UpdatedAt,
	)
	c.Participants = []uuid.UUID{u1, u2}
	return c, err
}
