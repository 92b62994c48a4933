package handler

import (
	"errors"

	"chatgenius-backend/internal/middleware"
	"chatgenius-backend/internal/model"
	"chatgenius-backend/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

type UserHandler struct {
	userSvc *service.UserService
	log     zerolog.Logger
}

func NewUserHandler(userSvc *service.UserService, log zerolog.Logger) *UserHandler {
	return &UserHandler{userSvc: userSvc, log: log}
}

func (h *UserHandler) List(c *fiber.Ctx) error {
	users, err := h.userSvc.List(c.UserContext())
	if err != nil {
		return h.userError(c, err)
	}
	if users == nil {
		users = []*model.User{}
	}
	return c.JSON(users)
}

func (h *UserHandler) Me(c *fiber.Ctx) error {
	u, err := h.userSvc.Ensure(c.UserContext(), middleware.UserID(c), username(c))
	if err != nil {
		return h.userError(c, err)
	}
	return c.JSON(u)
}

func (h *UserHandler) Get(c *fiber.Ctx) error {
	u, err := h.userSvc.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.userError(c, err)
	}
	return c.JSON(u)
}

// SetStatus updates the caller's free-form status. Connected clients see it
// as a user:status_changed event.
func (h *UserHandler) SetStatus(c *fiber.Ctx) error {
	var req model.UpdateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.userSvc.SetStatus(c.UserContext(), middleware.UserID(c), req.Status); err != nil {
		return h.userError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (h *UserHandler) userError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrUserNotFound):
		return c.Status(404).JSON(fiber.Map{"error": "user not found"})
	case errors.Is(err, service.ErrInvalidStatus):
		return c.Status(400).JSON(fiber.Map{"error": "status is too long"})
	default:
		h.log.Error().Err(err).Str("path", c.Path()).Msg("user request failed")
		return c.Status(500).JSON(fiber.Map{"error": "internal server error"})
	}
}

func username(c *fiber.Ctx) string {
	name, _ := c.Locals(middleware.LocalUsername).(string)
	return name
}
