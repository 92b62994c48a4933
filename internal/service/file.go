package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"chatgenius-backend/internal/model"
	"chatgenius-backend/internal/realtime"
	"chatgenius-backend/internal/repository"
)

type FileService struct {
	files     Files
	channels  Channels
	blobs     BlobStore
	publisher Publisher
	ingester  DocumentIngester
	maxSize   int64
}

func NewFileService(files Files, channels Channels, blobs BlobStore, maxSize int64) *FileService {
	return &FileService{files: files, channels: channels, blobs: blobs, maxSize: maxSize}
}

func (s *FileService) SetPublisher(p Publisher) { s.publisher = p }

// SetIngester enables document ingestion of uploads.
func (s *FileService) SetIngester(i DocumentIngester) { s.ingester = i }

// Upload stores data in the blob store, records its metadata, announces it
// to the channel room and hands it to document ingestion.
func (s *FileService) Upload(ctx context.Context, userID, channelID, name, contentType string, data []byte) (*model.File, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return nil, ErrFileTooLarge
	}
	if err := s.requireReadable(ctx, userID, channelID); err != nil {
		return nil, err
	}
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	id := uuid.NewString()
	url, err := s.blobs.Put(ctx, id, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("store file: %w", err)
	}

	f, err := s.files.Create(ctx, &model.File{
		ID:          id,
		ChannelID:   channelID,
		UserID:      userID,
		Name:        name,
		ObjectName:  id,
		ContentType: contentType,
		Size:        int64(len(data)),
		URL:         url,
	})
	if err != nil {
		return nil, fmt.Errorf("record file: %w", err)
	}

	if s.publisher != nil {
		room := realtime.RoomForChannel(channelID)
		s.publisher.Publish(room, model.NewEnvelope(model.KindFileUploaded, room, model.Identity(userID), f))
	}
	if s.ingester != nil {
		s.ingester.Ingest(f)
	}
	return f, nil
}

func (s *FileService) List(ctx context.Context, userID, channelID string) ([]*model.File, error) {
	if err := s.requireReadable(ctx, userID, channelID); err != nil {
		return nil, err
	}
	return s.files.ListByChannel(ctx, channelID, 100)
}

func (s *FileService) Get(ctx context.Context, userID, id string) (*model.File, error) {
	f, err := s.files.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	if err := s.requireReadable(ctx, userID, f.ChannelID); err != nil {
		return nil, err
	}
	return f, nil
}

// Open returns the file's metadata and bytes. Download links are shared
// with the assistant service, so no membership check is made here.
func (s *FileService) Open(ctx context.Context, id string) (*model.File, []byte, error) {
	f, err := s.files.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrFileNotFound
		}
		return nil, nil, err
	}
	data, err := s.blobs.Get(ctx, f.ObjectName)
	if err != nil {
		return nil, nil, err
	}
	return f, data, nil
}

func (s *FileService) requireReadable(ctx context.Context, userID, channelID string) error {
	ch, err := s.channels.GetByID(ctx, channelID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrChannelNotFound
		}
		return err
	}
	if !ch.IsPrivate && !ch.IsDM {
		return nil
	}
	ok, err := s.channels.IsMember(ctx, channelID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotChannelMember
	}
	return nil
}
