package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/pulsedm/internal/domain"
)

type FriendRepo struct {
	pool *pgxpool.Pool
}

func NewFriendRepo(pool *pgxpool.Pool) *FriendRepo {
	return &FriendRepo{pool: pool}
}

func (r *FriendRepo) Add(ctx context.Context, a, b uuid.UUID) error {
	u1, u2 := domain.SortPair(a, b)
	_, err := r.pool.Exec(ctx, `
		INSERT INTO friendships (user1_id, user2_id, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT DO NOTHING`, u1, u2)
	return err
}

func (r *FriendRepo) AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error) {
	u1, u2 := domain.SortPair(a, b)
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM friendships WHERE user1_id = $1 AND user2_id = $2
		)`, u1, u2).Scan(&exists)
	return exists, err
}

func (r *FriendRepo) ListFriendIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT CASE WHEN user1_id = $1 THEN user2_id ELSE user1_id END
		FROM friendships
		WHERE user1_id = $1 OR user2_id = $1
		ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
