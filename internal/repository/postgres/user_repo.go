package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/pulsedm/internal/domain"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, email, username, display_name, avatar_url, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		user.ID, user.Email, user.Username, user.DisplayName,
		user.AvatarURL, user.IsActive, user.CreatedAt, user.UpdatedAt,
	)
	return err
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `
		SELECT id, email, username, display_name, avatar_url, is_active,
			last_active_at, created_at, updated_at
		FROM users
		WHERE id = $1`
	var u domain.User
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&u.ID, &u.Email, &u.Username, &u.DisplayName, &u.AvatarURL, &u.IsActive,
		&u.LastActiveAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return &u, err
}

func (r *UserRepo) GetProfiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Profile, error) {
	profiles := make(map[uuid.UUID]domain.Profile, len(ids))
	if len(ids) == 0 {
		return profiles, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, username, display_name, avatar_url, last_active_at
		FROM users
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Profile
		if err := rows.Scan(&p.ID, &p.Username, &p.DisplayName, &p.AvatarURL, &p.LastActiveAt); err != nil {
			return nil, err
		}
		profiles[p.ID] = p
	}
	return profiles, rows.Err()
}

func (r *UserRepo) TouchLastActive(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET last_active_at = $2, updated_at = $2 WHERE id = $1`, id, at)
	return err
}
