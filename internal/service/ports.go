package service

import (
	"context"
	"time"

	"chatgenius-backend/internal/model"
)

// Repositories as consumed by the services. The pgx implementations live in
// internal/repository.

type Users interface {
	Ensure(ctx context.Context, id, username string) (*model.User, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
	List(ctx context.Context, limit int) ([]*model.User, error)
}

type Channels interface {
	Create(ctx context.Context, ownerID string, req *model.CreateChannelRequest) (*model.Channel, error)
	GetByID(ctx context.Context, id string) (*model.Channel, error)
	ListVisible(ctx context.Context, userID string) ([]*model.Channel, error)
	ListPublic(ctx context.Context, limit int) ([]*model.Channel, error)
	Update(ctx context.Context, id string, req *model.UpdateChannelRequest) error
	Delete(ctx context.Context, id string) error
	AddMember(ctx context.Context, channelID, userID string) error
	RemoveMember(ctx context.Context, channelID, userID string) (bool, error)
	IsMember(ctx context.Context, channelID, userID string) (bool, error)
	Members(ctx context.Context, channelID string) ([]*model.ChannelMember, error)
}

type Messages interface {
	Create(ctx context.Context, in model.NewMessage) (*model.Message, error)
	GetByID(ctx context.Context, id string) (*model.Message, error)
	ListByChannel(ctx context.Context, channelID string, before *time.Time, limit int) ([]*model.Message, error)
	ListReplies(ctx context.Context, parentID string) ([]*model.Message, error)
	UpdateContent(ctx context.Context, id, content string) (*model.Message, error)
	Delete(ctx context.Context, id string) error
}

type Reactions interface {
	Add(ctx context.Context, messageID, userID, emoji string) (*model.Reaction, error)
	Remove(ctx context.Context, messageID, userID, emoji string) (*model.Reaction, error)
	ListByMessages(ctx context.Context, messageIDs []string) ([]model.Reaction, error)
}

type Files interface {
	Create(ctx context.Context, f *model.File) (*model.File, error)
	GetByID(ctx context.Context, id string) (*model.File, error)
	ListByChannel(ctx context.Context, channelID string, limit int) ([]*model.File, error)
}

// Publisher hands REST-originated changes to the real-time hub.
type Publisher interface {
	PublishMessage(msg *model.Message)
	Publish(room string, env model.Envelope)
}

// StatusSetter updates an identity's free-form status in the hub, which
// broadcasts and persists it.
type StatusSetter interface {
	UpdateStatus(id model.Identity, status string)
}

// BlobStore keeps uploaded file bytes. Put returns the object's public URL.
type BlobStore interface {
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, name string) ([]byte, error)
}

// DocumentIngester is told about uploaded files. It must not block.
type DocumentIngester interface {
	Ingest(f *model.File)
}
