package handler

import (
	"github.com/gofiber/fiber/v2"
)

// Routes groups the handlers and guards mounted by Mount. Nil handlers are
// skipped.
type Routes struct {
	Auth      fiber.Handler
	AdminKey  fiber.Handler
	RateLimit fiber.Handler

	Health   *HealthHandler
	Metrics  fiber.Handler
	Admin    *AdminHandler
	Channels *ChannelHandler
	Messages *MessageHandler
	Files    *FileHandler
	Users    *UserHandler
	WS       *WSHandler
}

func Mount(app *fiber.App, r Routes) {
	if r.Health != nil {
		app.Get("/health", r.Health.Health)
		app.Get("/ready", r.Health.Ready)
	}
	if r.Metrics != nil {
		app.Get("/metrics", r.Metrics)
	}
	if r.WS != nil {
		app.Get("/ws", r.WS.Upgrade)
	}

	v1 := app.Group("/api/v1")
	if r.RateLimit != nil {
		v1.Use(r.RateLimit)
	}

	// Registered before the protected group.
	if r.Files != nil {
		v1.Get("/files/:id/raw", r.Files.Raw)
	}
	if r.Admin != nil {
		admin := v1.Group("/admin", r.AdminKey)
		admin.Get("/stats", r.Admin.Stats)
		admin.Get("/online", r.Admin.Online)
		admin.Post("/announce", r.Admin.Announce)
	}

	protected := v1.Group("", r.Auth)

	if r.Users != nil {
		users := protected.Group("/users")
		users.Get("/", r.Users.List)
		users.Get("/me", r.Users.Me)
		users.Put("/me/status", r.Users.SetStatus)
		users.Get("/:id", r.Users.Get)
	}

	if r.Channels != nil {
		channels := protected.Group("/channels")
		channels.Get("/", r.Channels.List)
		channels.Post("/", r.Channels.Create)
		channels.Get("/public", r.Channels.ListPublic)
		channels.Get("/:id", r.Channels.Get)
		channels.Put("/:id", r.Channels.Update)
		channels.Delete("/:id", r.Channels.Delete)
		channels.Post("/:id/join", r.Channels.Join)
		channels.Post("/:id/leave", r.Channels.Leave)
		channels.Get("/:id/members", r.Channels.Members)
		channels.Post("/:id/members", r.Channels.AddMember)
	}

	if r.Messages != nil {
		protected.Get("/channels/:id/messages", r.Messages.List)
		protected.Post("/channels/:id/messages", r.Messages.Create)

		messages := protected.Group("/messages")
		messages.Post("/", r.Messages.Create)
		messages.Get("/:id", r.Messages.Get)
		messages.Put("/:id", r.Messages.Update)
		messages.Delete("/:id", r.Messages.Delete)
		messages.Get("/:id/thread", r.Messages.Thread)
		messages.Post("/:id/thread", r.Messages.Reply)
		messages.Get("/:id/reactions", r.Messages.Reactions)
		messages.Post("/:id/reactions", r.Messages.React)
		messages.Delete("/:id/reactions/:emoji", r.Messages.Unreact)
	}

	if r.Files != nil {
		protected.Post("/channels/:id/files", r.Files.Upload)
		protected.Get("/channels/:id/files", r.Files.List)
		protected.Get("/files/:id", r.Files.Get)
	}
}
