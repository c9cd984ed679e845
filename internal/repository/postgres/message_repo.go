package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/pulsedm/internal/domain"
	"github.com/vedran77/pulsedm/internal/repository"
)

const messageColumns = `
	m.id, m.sender_id, m.receiver_id, m.content, m.message_type, m.file_url, m.file_name,
	m.reply_to_id, m.is_read, m.read_at, m.is_edited, m.edited_at, m.is_deleted,
	m.deleted_at, m.created_at, u.username, u.display_name, u.avatar_url`

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

func (r *MessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	query := `
		INSERT INTO messages (id, sender_id, receiver_id, content, message_type,
			file_url, file_name, reply_to_id, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.pool.Exec(ctx, query,
		msg.ID, msg.SenderID, msg.ReceiverID, msg.Content, msg.MessageType,
		msg.FileURL, msg.FileName, msg.ReplyToID, msg.IsRead, msg.CreatedAt,
	)
	return err
}

func (r *MessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	query := `SELECT` + messageColumns + `
		FROM messages m
		JOIN users u ON m.sender_id = u.id
		WHERE m.id = $1`
	msg, err := scanMessage(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *MessageRepo) GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Message, error) {
	out := make(map[uuid.UUID]domain.Message, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := `SELECT` + messageColumns + `
		FROM messages m
		JOIN users u ON m.sender_id = u.id
		WHERE m.id = ANY($1)`
	msgs, err := r.queryMessages(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		out[m.ID] = m
	}
	return out, nil
}

func (r *MessageRepo) ListBetween(ctx context.Context, a, b uuid.UUID, q repository.HistoryQuery) ([]domain.Message, error) {
	args := []any{a.String(), b.String(), q.Limit, q.Offset}
	if q.Cursor != nil {
		args = append(args, q.Cursor.CreatedAt, q.Cursor.ID)
	}
	return r.queryMessages(ctx, listBetweenQuery(q.Cursor != nil), args...)
}

// listBetweenQuery filters on the same LEAST/GREATEST expression as
// messages_pair_created_idx so a page is one ordered index range scan.
func listBetweenQuery(withCursor bool) string {
	cursor := ""
	if withCursor {
		cursor = `AND (m.created_at, m.id) < ($5, $6)`
	}
	return `SELECT` + messageColumns + `
		FROM messages m
		JOIN users u ON m.sender_id = u.id
		WHERE LEAST(m.sender_id::text, m.receiver_id::text) = LEAST($1::text, $2::text)
			AND GREATEST(m.sender_id::text, m.receiver_id::text) = GREATEST($1::text, $2::text)
			` + cursor + `
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $3 OFFSET $4`
}

func (r *MessageRepo) LastBetween(ctx context.Context, a, b uuid.UUID) (*domain.Message, error) {
	msgs, err := r.ListBetween(ctx, a, b, repository.HistoryQuery{Limit: 1})
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return &msgs[0], nil
}

func (r *MessageRepo) MarkRead(ctx context.Context, senderID, receiverID uuid.UUID, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE messages SET is_read = TRUE, read_at = $3
		WHERE sender_id = $1 AND receiver_id = $2 AND is_read = FALSE`,
		senderID, receiverID, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *MessageRepo) CountUnread(ctx context.Context, receiverID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE receiver_id = $1 AND is_read = FALSE`,
		receiverID).Scan(&n)
	return n, err
}

func (r *MessageRepo) UpdateContent(ctx context.Context, id uuid.UUID, content string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE messages SET content = $2, is_edited = TRUE, edited_at = $3
		WHERE id = $1 AND is_deleted = FALSE`, id, content, at)
	return err
}

func (r *MessageRepo) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE messages SET is_deleted = TRUE, deleted_at = $2
		WHERE id = $1 AND is_deleted = FALSE`, id, at)
	return err
}

func (r *MessageRepo) queryMessages(ctx context.Context, query string, args ...any) ([]domain.Message, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func scanMessage(row pgx.Row) (domain.Message, error) {
	var msg domain.Message
	var sender domain.Profile
	err := row.Scan(
		&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &msg.MessageType,
		&msg.FileURL, &msg.FileName, &msg.ReplyToID, &msg.IsRead, &msg.ReadAt,
		&msg.IsEdited, &msg.EditedAt, &msg.IsDeleted, &msg.DeletedAt, &msg.CreatedAt,
		&sender.Username, &sender.DisplayName, &sender.AvatarURL,
	)
	if err != nil {
		return msg, err
	}
	sender.ID = msg.SenderID
	msg.Sender = &sender
	return msg, nil
}
