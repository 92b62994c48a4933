package handler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"chatgenius-backend/internal/model"
	"chatgenius-backend/internal/realtime"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// UserEnsurer records identities admitted over the socket.
type UserEnsurer interface {
	Ensure(ctx context.Context, id, username string) (*model.User, error)
}

type WSHandler struct {
	hub         *realtime.Hub
	gate        *realtime.Gate
	users       UserEnsurer
	log         zerolog.Logger
	readTimeout time.Duration
}

func NewWSHandler(hub *realtime.Hub, gate *realtime.Gate, users UserEnsurer, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		hub:         hub,
		gate:        gate,
		users:       users,
		log:         log.With().Str("component", "ws").Logger(),
		readTimeout: wsReadTimeout,
	}
}

// SetReadTimeout sets how long a connection may stay silent before it is
// dropped. Any frame, including ping and pong control frames, resets it.
// It applies to connections accepted afterwards.
func (h *WSHandler) SetReadTimeout(d time.Duration) {
	if d > 0 {
		h.readTimeout = d
	}
}

// Upgrade admits the connection before switching protocols. Rejected
// handshakes never reach the hub.
func (h *WSHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	claims, err := h.gate.Admit(c.UserContext(), realtime.Handshake{
		Authorization: c.Get("Authorization"),
		Token:         c.Query("token"),
		RemoteAddr:    c.IP(),
	})
	if err != nil {
		msg := "unauthorized"
		var f *realtime.Failure
		if errors.As(err, &f) {
			msg = f.Message
		}
		return c.Status(401).JSON(fiber.Map{"error": msg})
	}

	if h.users != nil {
		if _, err := h.users.Ensure(c.UserContext(), claims.Identity.String(), claims.Username); err != nil {
			h.log.Error().Err(err).Str("user", claims.Identity.String()).Msg("record user")
			return c.Status(503).JSON(fiber.Map{"error": "service unavailable"})
		}
	}

	c.Locals("claims", claims)
	return websocket.New(h.handleConnection)(c)
}

func (h *WSHandler) handleConnection(ws *websocket.Conn) {
	claims, _ := ws.Locals("claims").(*realtime.Claims)
	if claims == nil {
		_ = ws.Close()
		return
	}

	conn, err := h.hub.Connect(claims)
	if err != nil {
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = ws.Close()
		return
	}
	defer h.hub.Disconnect(conn)

	// Writer: drains the hub's queue until the hub closes it. A failed write
	// is a transport failure; the rest of the queue is discarded.
	go func() {
		defer ws.Close()
		failed := false
		for data := range conn.Outbound() {
			if failed {
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				failed = true
				h.log.Debug().Err(err).Str("conn", conn.ID).Msg("write failed")
				h.hub.Disconnect(conn)
			}
		}
	}()

	readTimeout := h.readTimeout
	extend := func() error { return ws.SetReadDeadline(time.Now().Add(readTimeout)) }
	// Control frames are handled inside ReadMessage and never returned, so
	// they extend the deadline from their handlers.
	ws.SetPingHandler(func(appData string) error {
		_ = extend()
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(wsWriteTimeout))
	})
	ws.SetPongHandler(func(string) error { return extend() })

	_ = extend()
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return
		}
		_ = extend()

		var event model.WSEvent
		if err := json.Unmarshal(msg, &event); err != nil {
			// Malformed frames still count against the sender's budget.
			event = model.WSEvent{Type: "malformed"}
		}
		h.hub.Receive(conn, event)
	}
}
