package model

import (
	"encoding/json"
	"time"
)

// Server-to-client event kinds.
const (
	KindMessagesBatch        = "messages:batch"
	KindMessageCreated       = "message:created"
	KindMessageUpdated       = "message:updated"
	KindMessageDeleted       = "message:deleted"
	KindThreadMessageCreated = "thread:message_created"
	KindReactionAdded        = "reaction:added"
	KindReactionRemoved      = "reaction:removed"
	KindChannelJoined        = "channel:joined"
	KindChannelLeft          = "channel:left"
	KindUserTyping           = "user:typing"
	KindUserStoppedTyping    = "user:stopped-typing"
	KindUserStatusChanged    = "user:status_changed"
	KindTokenExpired         = "auth:token_expired"
	KindFileUploaded         = "file:uploaded"
	KindServerAnnounce       = "server:announce"
	KindError                = "error"
	KindPong                 = "pong"
)

// Envelope is the unit written to real-time clients. Every envelope names
// exactly one room and one sender.
type Envelope struct {
	Kind      string    `json:"kind"`
	Payload   any       `json:"payload,omitempty"`
	Room      string    `json:"room,omitempty"`
	Sender    Identity  `json:"sender"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewEnvelope stamps an envelope with the current time.
func NewEnvelope(kind, room string, sender Identity, payload any) Envelope {
	return Envelope{
		Kind:      kind,
		Payload:   payload,
		Room:      room,
		Sender:    sender,
		CreatedAt: time.Now().UTC(),
	}
}

// Encode marshals the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Notice is the payload of an "error" envelope.
type Notice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Ref     string `json:"ref,omitempty"`
}

// PresenceChange is the payload of "user:status_changed".
type PresenceChange struct {
	UserID Identity `json:"userId"`
	Online bool     `json:"online"`
	// Presence is "online" or "offline".
	Presence string `json:"presence"`
	Status   string `json:"status,omitempty"`
}

// TypingPayload is the payload of "user:typing" and "user:stopped-typing".
type TypingPayload struct {
	ChannelID string   `json:"channelId"`
	UserID    Identity `json:"userId"`
	Typing    bool     `json:"typing"`
}

// ChannelAck acknowledges a join or leave to the requesting connection.
type ChannelAck struct {
	ChannelID string `json:"channelId"`
}

// ReactionRemoved is the payload of "reaction:removed".
type ReactionRemoved struct {
	MessageID string   `json:"messageId"`
	Emoji     string   `json:"emoji"`
	UserID    Identity `json:"userId"`
}

// MessageDeleted is the payload of "message:deleted".
type MessageDeleted struct {
	ID        string  `json:"id"`
	ChannelID string  `json:"channelId"`
	ThreadID  *string `json:"threadId,omitempty"`
}
