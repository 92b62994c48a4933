package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"

	"chatgenius-backend/internal/model"
)

const (
	MaxContentLength = 4000
	MaxStatusLength  = 100
	MaxEmojiLength   = 32
)

// command is a unit of work executed on the dispatch goroutine.
type command interface {
	apply(h *Hub)
}

type connectCmd struct{ conn *Conn }

func (c connectCmd) apply(h *Hub) { h.register(c.conn) }

type disconnectCmd struct{ conn *Conn }

func (c disconnectCmd) apply(h *Hub) { h.disconnect(c.conn) }

type frameCmd struct {
	conn  *Conn
	event model.WSEvent
}

func (c frameCmd) apply(h *Hub) { h.dispatch(c.conn, c.event) }

type dueCmd struct{ fire func() }

func (c dueCmd) apply(h *Hub) { c.fire() }

type expireCmd struct{ conn *Conn }

func (c expireCmd) apply(h *Hub) {
	if _, ok := h.conns[c.conn.ID]; !ok {
		return
	}
	env := model.NewEnvelope(model.KindTokenExpired, "", model.SystemIdentity, model.Notice{
		Code:    string(AuthFailure),
		Message: "token has expired",
	})
	if data, err := env.Encode(); err == nil {
		c.conn.deliver(data)
	}
	h.log.Info().Str("conn", c.conn.ID).Str("user", c.conn.Identity.String()).Msg("token expired, closing connection")
	h.disconnect(c.conn)
}

type publishMessageCmd struct{ msg *model.Message }

func (c publishMessageCmd) apply(h *Hub) { h.accept(c.msg, "") }

type publishCmd struct {
	room string
	env  model.Envelope
}

func (c publishCmd) apply(h *Hub) { h.router.Broadcast(c.room, c.env, "") }

type statusCmd struct {
	identity model.Identity
	status   string
}

func (c statusCmd) apply(h *Hub) { h.setStatus(c.identity, c.status) }

type announceCmd struct{ env model.Envelope }

func (c announceCmd) apply(h *Hub) {
	data, err := c.env.Encode()
	if err != nil {
		h.log.Error().Err(err).Msg("encode announcement")
		return
	}
	for _, conn := range h.conns {
		if !conn.deliver(data) {
			h.drops = append(h.drops, conn)
		}
	}
}

type statsCmd struct{ reply chan<- Stats }

func (c statsCmd) apply(h *Hub) {
	c.reply <- Stats{
		Connections: len(h.conns),
		OnlineUsers: h.presence.OnlineCount(),
		Rooms:       h.router.RoomCount(),
		Online:      h.presence.Online(),
	}
}

// messageResultCmd completes an asynchronous message write.
type messageResultCmd struct {
	conn *Conn
	ref  string
	msg  *model.Message
	err  error
}

func (c messageResultCmd) apply(h *Hub) {
	h.inflight--
	h.writeDone(c.conn)
	if c.err != nil {
		h.log.Warn().Err(c.err).Str("user", c.conn.Identity.String()).Str("ref", c.ref).Msg("message write failed")
		h.fail(c.conn, classify(c.err, "message could not be saved", c.err), c.ref)
		return
	}
	h.accept(c.msg, c.conn.ID)
}

// reactionResultCmd completes an asynchronous reaction write.
type reactionResultCmd struct {
	conn    *Conn
	ref     string
	added   bool
	emoji   string
	message string
	r       *model.Reaction
	err     error
}

func (c reactionResultCmd) apply(h *Hub) {
	h.inflight--
	h.writeDone(c.conn)
	if c.err != nil {
		h.log.Warn().Err(c.err).Str("user", c.conn.Identity.String()).Str("message", c.message).Msg("reaction write failed")
		h.fail(c.conn, classify(c.err, "reaction could not be saved", c.err), c.ref)
		return
	}
	room := RoomForChannel(c.r.ChannelID)
	if c.added {
		env := model.NewEnvelope(model.KindReactionAdded, room, c.conn.Identity, c.r)
		h.router.Broadcast(room, env, c.conn.ID)
		return
	}
	env := model.NewEnvelope(model.KindReactionRemoved, room, c.conn.Identity, model.ReactionRemoved{
		MessageID: c.message,
		Emoji:     c.emoji,
		UserID:    c.conn.Identity,
	})
	h.router.Broadcast(room, env, c.conn.ID)
}

type statusResultCmd struct {
	identity model.Identity
	err      error
}

func (c statusResultCmd) apply(h *Hub) {
	h.inflight--
	h.recordStatusResult(c.identity, c.err)
}

// dispatch handles one inbound frame. Every domain event consumes one token
// of the sender's budget before anything else happens.
func (h *Hub) dispatch(c *Conn, ev model.WSEvent) {
	if _, ok := h.conns[c.ID]; !ok || h.stopping {
		return
	}
	if ev.Type == model.EventPing {
		h.reply(c, model.NewEnvelope(model.KindPong, "", model.SystemIdentity, nil))
		return
	}
	if !h.limiter.Consume(c.Identity) {
		h.fail(c, newFailure(RateLimited, "rate limit exceeded, slow down", nil), ev.Ref)
		return
	}
	h.metrics.Events.WithLabelValues(ev.Type).Inc()

	switch ev.Type {
	case model.EventChannelJoin:
		h.handleJoin(c, ev)
	case model.EventChannelLeave:
		h.handleLeave(c, ev)
	case model.EventMessageCreate:
		h.handleMessageCreate(c, ev)
	case model.EventThreadMessageCreate:
		h.handleThreadMessageCreate(c, ev)
	case model.EventReactionAdd:
		h.handleReaction(c, ev, true)
	case model.EventReactionRemove:
		h.handleReaction(c, ev, false)
	case model.EventTypingStart:
		h.handleTyping(c, ev, true)
	case model.EventTypingStop:
		h.handleTyping(c, ev, false)
	case model.EventStatusUpdate:
		h.handleStatus(c, ev)
	default:
		h.fail(c, newFailure(ValidationFailure, "unknown event type: "+ev.Type, nil), ev.Ref)
	}
}

func (h *Hub) handleJoin(c *Conn, ev model.WSEvent) {
	channelID := model.DecodeChannelID(ev.Data)
	if channelID == "" {
		h.fail(c, newFailure(ValidationFailure, "channelId is required", nil), ev.Ref)
		return
	}
	room := RoomForChannel(channelID)
	h.router.Join(c, room)
	h.reply(c, model.NewEnvelope(model.KindChannelJoined, room, c.Identity, model.ChannelAck{ChannelID: channelID}))
}

func (h *Hub) handleLeave(c *Conn, ev model.WSEvent) {
	channelID := model.DecodeChannelID(ev.Data)
	if channelID == "" {
		h.fail(c, newFailure(ValidationFailure, "channelId is required", nil), ev.Ref)
		return
	}
	room := RoomForChannel(channelID)
	h.router.Leave(c, room)
	h.reply(c, model.NewEnvelope(model.KindChannelLeft, room, c.Identity, model.ChannelAck{ChannelID: channelID}))
}

func (h *Hub) handleMessageCreate(c *Conn, ev model.WSEvent) {
	var p model.MessageCreatePayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		h.fail(c, newFailure(ValidationFailure, "invalid message payload", err), ev.Ref)
		return
	}
	p.ChannelID = strings.TrimSpace(p.ChannelID)
	if p.ChannelID == "" {
		h.fail(c, newFailure(ValidationFailure, "channelId is required", nil), ev.Ref)
		return
	}
	if f := validateContent(p.Content); f != nil {
		h.fail(c, f, ev.Ref)
		return
	}

	in := model.NewMessage{
		ChannelID: p.ChannelID,
		UserID:    c.Identity.String(),
		Content:   p.Content,
	}
	if id := strings.TrimSpace(p.ThreadID); id != "" {
		in.ThreadID = &id
	}
	h.submit(c, func(ctx context.Context) command {
		msg, err := h.store.CreateMessage(ctx, in)
		return messageResultCmd{conn: c, ref: ev.Ref, msg: msg, err: err}
	})
}

func (h *Hub) handleThreadMessageCreate(c *Conn, ev model.WSEvent) {
	var p model.ThreadMessagePayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		h.fail(c, newFailure(ValidationFailure, "invalid thread payload", err), ev.Ref)
		return
	}
	parentID := strings.TrimSpace(p.ParentMessageID)
	if parentID == "" {
		h.fail(c, newFailure(ValidationFailure, "parentMessageId is required", nil), ev.Ref)
		return
	}
	if f := validateContent(p.Content); f != nil {
		h.fail(c, f, ev.Ref)
		return
	}

	userID := c.Identity.String()
	h.submit(c, func(ctx context.Context) command {
		msg, err := h.store.CreateThreadReply(ctx, parentID, userID, p.Content)
		return messageResultCmd{conn: c, ref: ev.Ref, msg: msg, err: err}
	})
}

func (h *Hub) handleReaction(c *Conn, ev model.WSEvent, add bool) {
	var p model.ReactionPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		h.fail(c, newFailure(ValidationFailure, "invalid reaction payload", err), ev.Ref)
		return
	}
	messageID := strings.TrimSpace(p.MessageID)
	emoji := strings.TrimSpace(p.Emoji)
	if messageID == "" || emoji == "" {
		h.fail(c, newFailure(ValidationFailure, "messageId and emoji are required", nil), ev.Ref)
		return
	}
	if utf8.RuneCountInString(emoji) > MaxEmojiLength {
		h.fail(c, newFailure(ValidationFailure, "emoji is too long", nil), ev.Ref)
		return
	}

	userID := c.Identity.String()
	h.submit(c, func(ctx context.Context) command {
		var (
			r   *model.Reaction
			err error
		)
		if add {
			r, err = h.store.AddReaction(ctx, messageID, userID, emoji)
		} else {
			r, err = h.store.RemoveReaction(ctx, messageID, userID, emoji)
		}
		return reactionResultCmd{conn: c, ref: ev.Ref, added: add, emoji: emoji, message: messageID, r: r, err: err}
	})
}

func (h *Hub) handleTyping(c *Conn, ev model.WSEvent, typing bool) {
	channelID := model.DecodeChannelID(ev.Data)
	if channelID == "" {
		h.fail(c, newFailure(ValidationFailure, "channelId is required", nil), ev.Ref)
		return
	}
	kind := model.KindUserStoppedTyping
	if typing {
		kind = model.KindUserTyping
	}
	room := RoomForChannel(channelID)
	env := model.NewEnvelope(kind, room, c.Identity, model.TypingPayload{
		ChannelID: channelID,
		UserID:    c.Identity,
		Typing:    typing,
	})
	h.router.Broadcast(room, env, c.ID)
}

func (h *Hub) handleStatus(c *Conn, ev model.WSEvent) {
	status, ok := model.DecodeStatus(ev.Data)
	if !ok {
		h.fail(c, newFailure(ValidationFailure, "invalid status payload", nil), ev.Ref)
		return
	}
	status = strings.TrimSpace(status)
	if utf8.RuneCountInString(status) > MaxStatusLength {
		h.fail(c, newFailure(ValidationFailure, "status is too long", nil), ev.Ref)
		return
	}
	h.setStatus(c.Identity, status)
}

func (h *Hub) setStatus(id model.Identity, status string) {
	change, ok := h.presence.SetStatus(id, status)
	if !ok {
		return
	}
	h.broadcastPresence(change)
	h.persistStatus(id, status)
}

// accept hands a persisted message to the coalescer of its room and tells
// the observer about it. origin is the connection that wrote it, if any.
func (h *Hub) accept(msg *model.Message, origin string) {
	if msg == nil {
		return
	}
	kind := model.KindMessageCreated
	if msg.IsThreadReply() {
		kind = model.KindThreadMessageCreated
	}
	room := RoomForMessage(msg)
	env := model.NewEnvelope(kind, room, model.Identity(msg.UserID), msg)
	h.coalescer.EnqueueFrom(room, env, origin)

	if h.observer != nil {
		h.observer.MessageCreated(msg)
	}
}

// fail sends an error notice to c only. Connections dropped since the event
// was received are skipped.
func (h *Hub) fail(c *Conn, f *Failure, ref string) {
	if _, ok := h.conns[c.ID]; !ok {
		return
	}
	h.metrics.Notices.WithLabelValues(string(f.Kind)).Inc()
	h.reply(c, model.NewEnvelope(model.KindError, "", model.SystemIdentity, model.Notice{
		Code:    string(f.Kind),
		Message: f.Message,
		Ref:     ref,
	}))
}

func (h *Hub) reply(c *Conn, env model.Envelope) {
	data, err := env.Encode()
	if err != nil {
		h.log.Error().Err(err).Str("kind", env.Kind).Msg("encode reply")
		return
	}
	if !c.deliver(data) {
		h.drops = append(h.drops, c)
	}
}

func validateContent(content string) *Failure {
	if strings.TrimSpace(content) == "" {
		return newFailure(ValidationFailure, "content is required", nil)
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return newFailure(ValidationFailure, "content is too long", nil)
	}
	return nil
}

// Invalid marks an error from a collaborator as caused by the request
// rather than by the collaborator.
type Invalid interface {
	error
	Invalid() bool
}

func classify(err error, msg string, cause error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	var inv Invalid
	if errors.As(err, &inv) && inv.Invalid() {
		return newFailure(ValidationFailure, inv.Error(), cause)
	}
	return newFailure(UpstreamFailure, msg, cause)
}
