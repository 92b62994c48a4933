package realtime

import (
	"context"
	"time"

	"chatgenius-backend/internal/model"
)

// Claims is what the auth collaborator reports about a verified credential.
type Claims struct {
	Identity  model.Identity
	Username  string
	ExpiresAt time.Time
}

// Verifier validates a bearer credential.
type Verifier interface {
	Verify(ctx context.Context, credential string) (*Claims, error)
}

// MessageStore is the durable store as seen by the real-time core.
type MessageStore interface {
	CreateMessage(ctx context.Context, in model.NewMessage) (*model.Message, error)
	CreateThreadReply(ctx context.Context, parentID, userID, content string) (*model.Message, error)
	AddReaction(ctx context.Context, messageID, userID, emoji string) (*model.Reaction, error)
	RemoveReaction(ctx context.Context, messageID, userID, emoji string) (*model.Reaction, error)
}

// StatusStore persists presence and custom status.
type StatusStore interface {
	UpdatePresence(ctx context.Context, userID string, online bool) error
	UpdateStatus(ctx context.Context, userID, status string) error
}

// MessageObserver is notified, on the dispatch goroutine, of every message
// the core has persisted. Implementations must not block.
type MessageObserver interface {
	MessageCreated(msg *model.Message)
}
