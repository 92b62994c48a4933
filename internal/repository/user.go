package repository

import (
	"context"

	"chatgenius-backend/internal/model"

	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Ensure creates the user on first sight and refreshes the username when a
// non-empty one is supplied.
func (r *UserRepository) Ensure(ctx context.Context, id, username string) (*model.User, error) {
	u := &model.User{}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (id, username)
		VALUES ($1, CASE WHEN $2 = '' THEN $1 ELSE $2 END)
		ON CONFLICT (id) DO UPDATE
		SET username = CASE WHEN $2 = '' THEN users.username ELSE $2 END,
		    updated_at = CASE WHEN $2 = '' OR $2 = users.username THEN users.updated_at ELSE NOW() END
		RETURNING id, username, presence, status, last_seen_at, created_at, updated_at
	`, id, username).Scan(&u.ID, &u.Username, &u.Presence, &u.Status, &u.LastSeenAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return u, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	u := &model.User{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, username, presence, status, last_seen_at, created_at, updated_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Username, &u.Presence, &u.Status, &u.LastSeenAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return u, nil
}

func (r *UserRepository) List(ctx context.Context, limit int) ([]*model.User, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, username, presence, status, last_seen_at, created_at, updated_at
		FROM users
		ORDER BY presence = 'online' DESC, username
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		u := &model.User{}
		if err := rows.Scan(&u.ID, &u.Username, &u.Presence, &u.Status, &u.LastSeenAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdatePresence records the online/offline state. Going offline stamps
// last_seen_at.
func (r *UserRepository) UpdatePresence(ctx context.Context, userID string, online bool) error {
	presence := "offline"
	if online {
		presence = "online"
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE users
		SET presence = $2,
		    last_seen_at = CASE WHEN $2 = 'offline' THEN NOW() ELSE last_seen_at END,
		    updated_at = NOW()
		WHERE id = $1
	`, userID, presence)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *UserRepository) UpdateStatus(ctx context.Context, userID, status string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET status = $2, updated_at = NOW() WHERE id = $1`, userID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetPresence marks everyone offline. Run at startup since presence is
// rebuilt from live connections.
func (r *UserRepository) ResetPresence(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET presence = 'offline' WHERE presence <> 'offline'`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
