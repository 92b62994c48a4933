package repository

import (
	"context"

	"chatgenius-backend/internal/model"

	"github.com/jackc/pgx/v5/pgxpool"
)

type FileRepository struct {
	pool *pgxpool.Pool
}

func NewFileRepository(pool *pgxpool.Pool) *FileRepository {
	return &FileRepository{pool: pool}
}

const fileColumns = `id, channel_id, user_id, name, object_name, content_type, size, url, created_at`

func scanFile(row interface{ Scan(...any) error }, f *model.File) error {
	return row.Scan(&f.ID, &f.ChannelID, &f.UserID, &f.Name, &f.ObjectName, &f.ContentType, &f.Size, &f.URL, &f.CreatedAt)
}

// Create stores file metadata. f.ID must already be set since it names the
// blob.
func (r *FileRepository) Create(ctx context.Context, f *model.File) (*model.File, error) {
	out := &model.File{}
	err := scanFile(r.pool.QueryRow(ctx, `
		INSERT INTO files (id, channel_id, user_id, name, object_name, content_type, size, url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+fileColumns,
		f.ID, f.ChannelID, f.UserID, f.Name, f.ObjectName, f.ContentType, f.Size, f.URL), out)
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (r *FileRepository) GetByID(ctx context.Context, id string) (*model.File, error) {
	f := &model.File{}
	if err := scanFile(r.pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1`, id), f); err != nil {
		return nil, translate(err)
	}
	return f, nil
}

func (r *FileRepository) ListByChannel(ctx context.Context, channelID string, limit int) ([]*model.File, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE channel_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, channelID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*model.File
	for rows.Next() {
		f := &model.File{}
		if err := scanFile(rows, f); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}
