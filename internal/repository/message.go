package repository

import (
	"context"
	"time"

	"chatgenius-backend/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

const messageColumns = `m.id, m.channel_id, m.thread_id, m.user_id, COALESCE(u.username, ''), m.content,
		       (SELECT COUNT(*) FROM messages r WHERE r.thread_id = m.id), m.created_at, m.updated_at`

func scanMessage(row interface{ Scan(...any) error }, m *model.Message) error {
	return row.Scan(&m.ID, &m.ChannelID, &m.ThreadID, &m.UserID, &m.Username, &m.Content, &m.ReplyCount, &m.CreatedAt, &m.UpdatedAt)
}

// Create stores a message. A missing channel or parent surfaces as
// ErrNotFound through the foreign keys.
func (r *MessageRepository) Create(ctx context.Context, in model.NewMessage) (*model.Message, error) {
	m := &model.Message{}
	err := scanMessage(r.pool.QueryRow(ctx, `
		WITH m AS (
			INSERT INTO messages (id, channel_id, thread_id, user_id, content)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, channel_id, thread_id, user_id, content, created_at, updated_at
		)
		SELECT m.id, m.channel_id, m.thread_id, m.user_id, COALESCE(u.username, ''), m.content,
		       0, m.created_at, m.updated_at
		FROM m LEFT JOIN users u ON u.id = m.user_id
	`, uuid.NewString(), in.ChannelID, in.ThreadID, in.UserID, in.Content), m)
	if err != nil {
		return nil, translate(err)
	}
	return m, nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	m := &model.Message{}
	err := scanMessage(r.pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages m LEFT JOIN users u ON u.id = m.user_id
		WHERE m.id = $1
	`, id), m)
	if err != nil {
		return nil, translate(err)
	}
	return m, nil
}

// ListByChannel returns up to limit top-level messages older than before (if
// set), oldest first.
func (r *MessageRepository) ListByChannel(ctx context.Context, channelID string, before *time.Time, limit int) ([]*model.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages m LEFT JOIN users u ON u.id = m.user_id
		WHERE m.channel_id = $1 AND m.thread_id IS NULL
		  AND ($2::timestamptz IS NULL OR m.created_at < $2)
		ORDER BY m.created_at DESC
		LIMIT $3
	`, channelID, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*model.Message
	for rows.Next() {
		m := &model.Message{}
		if err := scanMessage(rows, m); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// newest N were selected; hand them back chronologically
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ListReplies returns the replies of a thread, oldest first.
func (r *MessageRepository) ListReplies(ctx context.Context, parentID string) ([]*model.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages m LEFT JOIN users u ON u.id = m.user_id
		WHERE m.thread_id = $1
		ORDER BY m.created_at
	`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*model.Message
	for rows.Next() {
		m := &model.Message{}
		if err := scanMessage(rows, m); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (r *MessageRepository) UpdateContent(ctx context.Context, id, content string) (*model.Message, error) {
	m := &model.Message{}
	err := scanMessage(r.pool.QueryRow(ctx, `
		WITH m AS (
			UPDATE messages SET content = $2, updated_at = NOW()
			WHERE id = $1
			RETURNING id, channel_id, thread_id, user_id, content, created_at, updated_at
		)
		SELECT m.id, m.channel_id, m.thread_id, m.user_id, COALESCE(u.username, ''), m.content,
		       (SELECT COUNT(*) FROM messages r WHERE r.thread_id = m.id), m.created_at, m.updated_at
		FROM m LEFT JOIN users u ON u.id = m.user_id
	`, id, content), m)
	if err != nil {
		return nil, translate(err)
	}
	return m, nil
}

// Delete removes a message with its replies and reactions.
func (r *MessageRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
