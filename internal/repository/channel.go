package repository

import (
	"context"
	"fmt"

	"chatgenius-backend/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ChannelRepository struct {
	pool *pgxpool.Pool
}

func NewChannelRepository(pool *pgxpool.Pool) *ChannelRepository {
	return &ChannelRepository{pool: pool}
}

const channelColumns = `c.id, c.name, c.description, c.is_private, c.is_dm, c.owner_id, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM channel_members WHERE channel_id = c.id)`

func scanChannel(row interface{ Scan(...any) error }, c *model.Channel) error {
	return row.Scan(&c.ID, &c.Name, &c.Description, &c.IsPrivate, &c.IsDM, &c.OwnerID, &c.CreatedAt, &c.UpdatedAt, &c.MemberCount)
}

// Create inserts the channel and its initial members (owner included) in one
// transaction.
func (r *ChannelRepository) Create(ctx context.Context, ownerID string, req *model.CreateChannelRequest) (*model.Channel, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	id := uuid.NewString()
	c := &model.Channel{}
	err = tx.QueryRow(ctx, `
		INSERT INTO channels (id, name, description, is_private, is_dm, owner_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, name, description, is_private, is_dm, owner_id, created_at, updated_at
	`, id, req.Name, req.Description, req.IsPrivate, req.IsDM, ownerID).Scan(
		&c.ID, &c.Name, &c.Description, &c.IsPrivate, &c.IsDM, &c.OwnerID, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}

	members := append([]string{ownerID}, req.MemberIDs...)
	for _, userID := range members {
		if _, err := tx.Exec(ctx, `
			INSERT INTO channel_members (channel_id, user_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, id, userID); err != nil {
			return nil, fmt.Errorf("add member %s: %w", userID, translate(err))
		}
	}
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM channel_members WHERE channel_id = $1`, id).Scan(&c.MemberCount); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *ChannelRepository) GetByID(ctx context.Context, id string) (*model.Channel, error) {
	c := &model.Channel{}
	err := scanChannel(r.pool.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels c WHERE c.id = $1`, id), c)
	if err != nil {
		return nil, translate(err)
	}
	return c, nil
}

// ListVisible returns public channels plus the private channels and DMs
// userID belongs to.
func (r *ChannelRepository) ListVisible(ctx context.Context, userID string) ([]*model.Channel, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+channelColumns+`
		FROM channels c
		WHERE (NOT c.is_private AND NOT c.is_dm)
		   OR EXISTS (SELECT 1 FROM channel_members m WHERE m.channel_id = c.id AND m.user_id = $1)
		ORDER BY c.is_dm, c.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []*model.Channel
	for rows.Next() {
		c := &model.Channel{}
		if err := scanChannel(rows, c); err != nil {
			return nil, err
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}

// ListPublic returns public channels ordered by name.
func (r *ChannelRepository) ListPublic(ctx context.Context, limit int) ([]*model.Channel, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+channelColumns+`
		FROM channels c
		WHERE NOT c.is_private AND NOT c.is_dm
		ORDER BY c.name
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []*model.Channel
	for rows.Next() {
		c := &model.Channel{}
		if err := scanChannel(rows, c); err != nil {
			return nil, err
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}

func (r *ChannelRepository) Update(ctx context.Context, id string, req *model.UpdateChannelRequest) error {
	// only set provided fields
	query := "UPDATE channels SET updated_at = NOW()"
	args := []any{id}
	i := 2

	if req.Name != nil {
		query += fmt.Sprintf(", name = $%d", i)
		args = append(args, *req.Name)
		i++
	}
	if req.Description != nil {
		query += fmt.Sprintf(", description = $%d", i)
		args = append(args, *req.Description)
		i++
	}
	if req.IsPrivate != nil {
		query += fmt.Sprintf(", is_private = $%d", i)
		args = append(args, *req.IsPrivate)
	}

	query += " WHERE id = $1"
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ChannelRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM channels WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddMember is idempotent.
func (r *ChannelRepository) AddMember(ctx context.Context, channelID, userID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO channel_members (channel_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, channelID, userID)
	return translate(err)
}

func (r *ChannelRepository) RemoveMember(ctx context.Context, channelID, userID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM channel_members WHERE channel_id = $1 AND user_id = $2`, channelID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *ChannelRepository) IsMember(ctx context.Context, channelID, userID string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM channel_members WHERE channel_id = $1 AND user_id = $2)
	`, channelID, userID).Scan(&ok)
	return ok, err
}

func (r *ChannelRepository) Members(ctx context.Context, channelID string) ([]*model.ChannelMember, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT m.channel_id, m.user_id, u.username, m.joined_at
		FROM channel_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.channel_id = $1
		ORDER BY m.joined_at
	`, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*model.ChannelMember
	for rows.Next() {
		m := &model.ChannelMember{}
		if err := rows.Scan(&m.ChannelID, &m.UserID, &m.Username, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
