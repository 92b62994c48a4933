package handler

import (
	"os"
	"runtime"
	"strings"

	"chatgenius-backend/internal/model"
	"chatgenius-backend/internal/realtime"

	"github.com/gofiber/fiber/v2"
	"github.com/shirou/gopsutil/v3/process"
)

// DropCounter reports work discarded by a bounded queue.
type DropCounter interface {
	Dropped() int64
}

// Mirror republishes announcements outside the chat, e.g. to Discord.
type Mirror interface {
	Announce(message string)
}

type AdminHandler struct {
	hub       *realtime.Hub
	assistant DropCounter
	mirror    Mirror
}

func NewAdminHandler(hub *realtime.Hub, assistant DropCounter, mirror Mirror) *AdminHandler {
	return &AdminHandler{hub: hub, assistant: assistant, mirror: mirror}
}

func (h *AdminHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.hub.Stats(c.UserContext())
	if err != nil {
		return c.Status(503).JSON(fiber.Map{"error": "hub unavailable"})
	}

	out := fiber.Map{
		"connections":  stats.Connections,
		"users_online": stats.OnlineUsers,
		"rooms":        stats.Rooms,
		"goroutines":   runtime.NumGoroutine(),
	}
	if h.assistant != nil {
		out["assistant_dropped"] = h.assistant.Dropped()
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil {
			out["rss_mb"] = float64(mem.RSS) / 1024 / 1024
		}
		if cpu, err := proc.CPUPercent(); err == nil {
			out["cpu_percent"] = cpu
		}
	}
	return c.JSON(out)
}

func (h *AdminHandler) Online(c *fiber.Ctx) error {
	stats, err := h.hub.Stats(c.UserContext())
	if err != nil {
		return c.Status(503).JSON(fiber.Map{"error": "hub unavailable"})
	}
	return c.JSON(stats.Online)
}

func (h *AdminHandler) Announce(c *fiber.Ctx) error {
	var req model.WSAnnounce
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return c.Status(400).JSON(fiber.Map{"error": "message is required"})
	}

	h.hub.Announce(model.NewEnvelope(model.KindServerAnnounce, "", model.SystemIdentity, req))
	if h.mirror != nil {
		h.mirror.Announce(req.Message)
	}
	return c.JSON(fiber.Map{"ok": true})
}
