package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Connectivity is satisfied by the blob store.
type Connectivity interface {
	IsConnected() bool
}

type HealthHandler struct {
	db    Pinger
	blobs Connectivity
}

func NewHealthHandler(db Pinger, blobs Connectivity) *HealthHandler {
	return &HealthHandler{db: db, blobs: blobs}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		return c.Status(503).JSON(fiber.Map{"status": "not ready", "error": "database unreachable"})
	}
	if h.blobs != nil && !h.blobs.IsConnected() {
		return c.Status(503).JSON(fiber.Map{"status": "not ready", "error": "blob store unreachable"})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}
