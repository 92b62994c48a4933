package repository

import (
	"context"

	"chatgenius-backend/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ReactionRepository struct {
	pool *pgxpool.Pool
}

func NewReactionRepository(pool *pgxpool.Pool) *ReactionRepository {
	return &ReactionRepository{pool: pool}
}

func scanReaction(row interface{ Scan(...any) error }, rc *model.Reaction) error {
	return row.Scan(&rc.ID, &rc.MessageID, &rc.ChannelID, &rc.UserID, &rc.Username, &rc.Emoji, &rc.CreatedAt)
}

// Add stores a reaction. A duplicate (message, user, emoji) is ErrConflict
// and an unknown message is ErrNotFound.
func (r *ReactionRepository) Add(ctx context.Context, messageID, userID, emoji string) (*model.Reaction, error) {
	rc := &model.Reaction{}
	err := scanReaction(r.pool.QueryRow(ctx, `
		WITH r AS (
			INSERT INTO reactions (id, message_id, user_id, emoji)
			VALUES ($1, $2, $3, $4)
			RETURNING id, message_id, user_id, emoji, created_at
		)
		SELECT r.id, r.message_id, m.channel_id, r.user_id, COALESCE(u.username, ''), r.emoji, r.created_at
		FROM r
		JOIN messages m ON m.id = r.message_id
		LEFT JOIN users u ON u.id = r.user_id
	`, uuid.NewString(), messageID, userID, emoji), rc)
	if err != nil {
		return nil, translate(err)
	}
	return rc, nil
}

// Remove deletes the reaction and returns it.
func (r *ReactionRepository) Remove(ctx context.Context, messageID, userID, emoji string) (*model.Reaction, error) {
	rc := &model.Reaction{}
	err := scanReaction(r.pool.QueryRow(ctx, `
		WITH r AS (
			DELETE FROM reactions
			WHERE message_id = $1 AND user_id = $2 AND emoji = $3
			RETURNING id, message_id, user_id, emoji, created_at
		)
		SELECT r.id, r.message_id, m.channel_id, r.user_id, COALESCE(u.username, ''), r.emoji, r.created_at
		FROM r
		JOIN messages m ON m.id = r.message_id
		LEFT JOIN users u ON u.id = r.user_id
	`, messageID, userID, emoji), rc)
	if err != nil {
		return nil, translate(err)
	}
	return rc, nil
}

// ListByMessages returns the reactions of all given messages.
func (r *ReactionRepository) ListByMessages(ctx context.Context, messageIDs []string) ([]model.Reaction, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT r.id, r.message_id, m.channel_id, r.user_id, COALESCE(u.username, ''), r.emoji, r.created_at
		FROM reactions r
		JOIN messages m ON m.id = r.message_id
		LEFT JOIN users u ON u.id = r.user_id
		WHERE r.message_id = ANY($1)
		ORDER BY r.created_at
	`, messageIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reactions []model.Reaction
	for rows.Next() {
		var rc model.Reaction
		if err := scanReaction(rows, &rc); err != nil {
			return nil, err
		}
		reactions = append(reactions, rc)
	}
	return reactions, rows.Err()
}
