package realtime

import (
	"context"
	"time"

	"chatgenius-backend/internal/model"

	"github.com/google/uuid"
)

// Conn is one admitted transport connection. Its fields other than send are
// immutable after construction; send is closed by the hub exactly once.
type Conn struct {
	ID        string
	Identity  model.Identity
	Username  string
	ExpiresAt time.Time

	send   chan []byte
	closed bool
	expiry *time.Timer

	// writes queues store writes behind the one in flight so a
	// connection's events are persisted in the order they were sent.
	writes  []func(ctx context.Context) command
	writing bool
}

func newConn(identity model.Identity, username string, buffer int) *Conn {
	return &Conn{
		ID:       uuid.NewString(),
		Identity: identity,
		Username: username,
		send:     make(chan []byte, buffer),
	}
}

// Outbound is drained by the transport writer. It is closed when the hub
// drops the connection.
func (c *Conn) Outbound() <-chan []byte {
	return c.send
}

// deliver queues data without blocking. It reports false when the
// connection is closed or its buffer is full.
func (c *Conn) deliver(data []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Conn) close() {
	if c.closed {
		return
	}
	c.closed = true
	if c.expiry != nil {
		c.expiry.Stop()
	}
	close(c.send)
}
