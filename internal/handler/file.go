package handler

import (
	"errors"
	"io"

	"chatgenius-backend/internal/middleware"
	"chatgenius-backend/internal/model"
	"chatgenius-backend/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

type FileHandler struct {
	fileSvc *service.FileService
	log     zerolog.Logger
}

func NewFileHandler(fileSvc *service.FileService, log zerolog.Logger) *FileHandler {
	return &FileHandler{fileSvc: fileSvc, log: log}
}

// Upload accepts a multipart form with a "file" part.
func (h *FileHandler) Upload(c *fiber.Ctx) error {
	header, err := c.FormFile("file")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "file is required"})
	}
	src, err := header.Open()
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "unreadable file"})
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "unreadable file"})
	}

	f, err := h.fileSvc.Upload(c.UserContext(), middleware.UserID(c), c.Params("id"), header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		return h.fileError(c, err)
	}
	return c.Status(201).JSON(f)
}

func (h *FileHandler) List(c *fiber.Ctx) error {
	files, err := h.fileSvc.List(c.UserContext(), middleware.UserID(c), c.Params("id"))
	if err != nil {
		return h.fileError(c, err)
	}
	if files == nil {
		files = []*model.File{}
	}
	return c.JSON(files)
}

func (h *FileHandler) Get(c *fiber.Ctx) error {
	f, err := h.fileSvc.Get(c.UserContext(), middleware.UserID(c), c.Params("id"))
	if err != nil {
		return h.fileError(c, err)
	}
	return c.JSON(f)
}

// Raw streams the stored bytes. It is mounted outside the authenticated
// group so links can be handed to the document service.
func (h *FileHandler) Raw(c *fiber.Ctx) error {
	f, data, err := h.fileSvc.Open(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fileError(c, err)
	}
	c.Attachment(f.Name)
	c.Set(fiber.HeaderContentType, f.ContentType)
	return c.Send(data)
}

func (h *FileHandler) fileError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrFileNotFound):
		return c.Status(404).JSON(fiber.Map{"error": "file not found"})
	case errors.Is(err, service.ErrChannelNotFound):
		return c.Status(404).JSON(fiber.Map{"error": "channel not found"})
	case errors.Is(err, service.ErrNotChannelMember):
		return c.Status(403).JSON(fiber.Map{"error": "not a channel member"})
	case errors.Is(err, service.ErrFileTooLarge):
		return c.Status(413).JSON(fiber.Map{"error": "file is too large"})
	case errors.Is(err, service.ErrEmptyFile):
		return c.Status(400).JSON(fiber.Map{"error": "file is empty"})
	default:
		h.log.Error().Err(err).Str("path", c.Path()).Msg("file request failed")
		return c.Status(500).JSON(fiber.Map{"error": "internal server error"})
	}
}
