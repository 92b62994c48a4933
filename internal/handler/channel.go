package handler

import (
	"errors"

	"chatgenius-backend/internal/middleware"
	"chatgenius-backend/internal/model"
	"chatgenius-backend/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

type ChannelHandler struct {
	channelSvc *service.ChannelService
	log        zerolog.Logger
}

func NewChannelHandler(channelSvc *service.ChannelService, log zerolog.Logger) *ChannelHandler {
	return &ChannelHandler{channelSvc: channelSvc, log: log}
}

func (h *ChannelHandler) Create(c *fiber.Ctx) error {
	var req model.CreateChannelRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	ch, err := h.channelSvc.Create(c.UserContext(), middleware.UserID(c), &req)
	if err != nil {
		return h.channelError(c, err)
	}
	return c.Status(201).JSON(ch)
}

func (h *ChannelHandler) List(c *fiber.Ctx) error {
	channels, err := h.channelSvc.List(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return h.channelError(c, err)
	}
	if channels == nil {
		channels = []*model.Channel{}
	}
	return c.JSON(channels)
}

func (h *ChannelHandler) ListPublic(c *fiber.Ctx) error {
	channels, err := h.channelSvc.ListPublic(c.UserContext(), queryLimit(c, 50, 200))
	if err != nil {
		return h.channelError(c, err)
	}
	if channels == nil {
		channels = []*model.Channel{}
	}
	return c.JSON(channels)
}

func (h *ChannelHandler) Get(c *fiber.Ctx) error {
	ch, err := h.channelSvc.Get(c.UserContext(), middleware.UserID(c), c.Params("id"))
	if err != nil {
		return h.channelError(c, err)
	}
	return c.JSON(ch)
}

func (h *ChannelHandler) Update(c *fiber.Ctx) error {
	var req model.UpdateChannelRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	ch, err := h.channelSvc.Update(c.UserContext(), middleware.UserID(c), c.Params("id"), &req)
	if err != nil {
		return h.channelError(c, err)
	}
	return c.JSON(ch)
}

func (h *ChannelHandler) Delete(c *fiber.Ctx) error {
	if err := h.channelSvc.Delete(c.UserContext(), middleware.UserID(c), c.Params("id")); err != nil {
		return h.channelError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (h *ChannelHandler) Join(c *fiber.Ctx) error {
	ch, err := h.channelSvc.Join(c.UserContext(), middleware.UserID(c), c.Params("id"))
	if err != nil {
		return h.channelError(c, err)
	}
	return c.JSON(ch)
}

func (h *ChannelHandler) Leave(c *fiber.Ctx) error {
	if err := h.channelSvc.Leave(c.UserContext(), middleware.UserID(c), c.Params("id")); err != nil {
		return h.channelError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (h *ChannelHandler) Members(c *fiber.Ctx) error {
	members, err := h.channelSvc.Members(c.UserContext(), middleware.UserID(c), c.Params("id"))
	if err != nil {
		return h.channelError(c, err)
	}
	if members == nil {
		members = []*model.ChannelMember{}
	}
	return c.JSON(members)
}

func (h *ChannelHandler) AddMember(c *fiber.Ctx) error {
	var req model.AddMemberRequest
	if err := c.BodyParser(&req); err != nil || req.UserID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "userId is required"})
	}

	if err := h.channelSvc.AddMember(c.UserContext(), middleware.UserID(c), c.Params("id"), req.UserID); err != nil {
		return h.channelError(c, err)
	}
	return c.Status(201).JSON(fiber.Map{"ok": true})
}

func (h *ChannelHandler) channelError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrChannelNotFound):
		return c.Status(404).JSON(fiber.Map{"error": "channel not found"})
	case errors.Is(err, service.ErrUserNotFound):
		return c.Status(404).JSON(fiber.Map{"error": "user not found"})
	case errors.Is(err, service.ErrNotChannelMember):
		return c.Status(403).JSON(fiber.Map{"error": "not a channel member"})
	case errors.Is(err, service.ErrPrivateChannel):
		return c.Status(403).JSON(fiber.Map{"error": "channel is private"})
	case errors.Is(err, service.ErrForbidden):
		return c.Status(403).JSON(fiber.Map{"error": "insufficient permissions"})
	case errors.Is(err, service.ErrOwnerCannotLeave):
		return c.Status(409).JSON(fiber.Map{"error": "the owner cannot leave the channel"})
	case errors.Is(err, service.ErrChannelNameTaken):
		return c.Status(409).JSON(fiber.Map{"error": "channel name already taken"})
	case errors.Is(err, service.ErrInvalidChannelName), errors.Is(err, service.ErrInvalidDM):
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	default:
		h.log.Error().Err(err).Str("path", c.Path()).Msg("channel request failed")
		return c.Status(500).JSON(fiber.Map{"error": "internal server error"})
	}
}
