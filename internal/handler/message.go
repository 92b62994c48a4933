package handler

import (
	"errors"
	"net/url"
	"time"

	"chatgenius-backend/internal/middleware"
	"chatgenius-backend/internal/model"
	"chatgenius-backend/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

type MessageHandler struct {
	messageSvc *service.MessageService
	log        zerolog.Logger
}

func NewMessageHandler(messageSvc *service.MessageService, log zerolog.Logger) *MessageHandler {
	return &MessageHandler{messageSvc: messageSvc, log: log}
}

// List pages backwards through a channel with ?before=<RFC3339>&limit=N.
func (h *MessageHandler) List(c *fiber.Ctx) error {
	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "before must be an RFC3339 timestamp"})
		}
		before = &t
	}

	msgs, err := h.messageSvc.List(c.UserContext(), middleware.UserID(c), c.Params("id"), before, queryLimit(c, 50, 100))
	if err != nil {
		return h.messageError(c, err)
	}
	if msgs == nil {
		msgs = []*model.Message{}
	}
	return c.JSON(msgs)
}

func (h *MessageHandler) Create(c *fiber.Ctx) error {
	var req model.CreateMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if id := c.Params("id"); id != "" {
		req.ChannelID = id
	}

	msg, err := h.messageSvc.Post(c.UserContext(), middleware.UserID(c), &req)
	if err != nil {
		return h.messageError(c, err)
	}
	return c.Status(201).JSON(msg)
}

func (h *MessageHandler) Get(c *fiber.Ctx) error {
	msg, err := h.messageSvc.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.messageError(c, err)
	}
	return c.JSON(msg)
}

func (h *MessageHandler) Update(c *fiber.Ctx) error {
	var req model.UpdateMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	msg, err := h.messageSvc.Edit(c.UserContext(), middleware.UserID(c), c.Params("id"), req.Content)
	if err != nil {
		return h.messageError(c, err)
	}
	return c.JSON(msg)
}

func (h *MessageHandler) Delete(c *fiber.Ctx) error {
	if err := h.messageSvc.Remove(c.UserContext(), middleware.UserID(c), c.Params("id")); err != nil {
		return h.messageError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (h *MessageHandler) Thread(c *fiber.Ctx) error {
	thread, err := h.messageSvc.Thread(c.UserContext(), middleware.UserID(c), c.Params("id"))
	if err != nil {
		return h.messageError(c, err)
	}
	return c.JSON(thread)
}

func (h *MessageHandler) Reply(c *fiber.Ctx) error {
	var req model.CreateThreadReplyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	msg, err := h.messageSvc.Reply(c.UserContext(), middleware.UserID(c), c.Params("id"), req.Content)
	if err != nil {
		return h.messageError(c, err)
	}
	return c.Status(201).JSON(msg)
}

func (h *MessageHandler) Reactions(c *fiber.Ctx) error {
	reactions, err := h.messageSvc.Reactions(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.messageError(c, err)
	}
	if reactions == nil {
		reactions = []model.Reaction{}
	}
	return c.JSON(reactions)
}

func (h *MessageHandler) React(c *fiber.Ctx) error {
	var req model.AddReactionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	r, err := h.messageSvc.React(c.UserContext(), middleware.UserID(c), c.Params("id"), req.Emoji)
	if err != nil {
		return h.messageError(c, err)
	}
	return c.Status(201).JSON(r)
}

func (h *MessageHandler) Unreact(c *fiber.Ctx) error {
	emoji, err := url.PathUnescape(c.Params("emoji"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid emoji"})
	}
	if err := h.messageSvc.Unreact(c.UserContext(), middleware.UserID(c), c.Params("id"), emoji); err != nil {
		return h.messageError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (h *MessageHandler) messageError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrMessageNotFound):
		return c.Status(404).JSON(fiber.Map{"error": "message not found"})
	case errors.Is(err, service.ErrChannelNotFound):
		return c.Status(404).JSON(fiber.Map{"error": "channel not found"})
	case errors.Is(err, service.ErrReactionNotFound):
		return c.Status(404).JSON(fiber.Map{"error": "reaction not found"})
	case errors.Is(err, service.ErrNotChannelMember):
		return c.Status(403).JSON(fiber.Map{"error": "not a channel member"})
	case errors.Is(err, service.ErrForbidden):
		return c.Status(403).JSON(fiber.Map{"error": "insufficient permissions"})
	case errors.Is(err, service.ErrReactionExists):
		return c.Status(409).JSON(fiber.Map{"error": "reaction already exists"})
	case errors.Is(err, service.ErrEmptyContent),
		errors.Is(err, service.ErrContentTooLong),
		errors.Is(err, service.ErrNestedThread),
		errors.Is(err, service.ErrInvalidEmoji):
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	default:
		h.log.Error().Err(err).Str("path", c.Path()).Msg("message request failed")
		return c.Status(500).JSON(fiber.Map{"error": "internal server error"})
	}
}

// queryLimit reads ?limit=, clamped to [1, max].
func queryLimit(c *fiber.Ctx, def, max int) int {
	n := c.QueryInt("limit", def)
	if n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
