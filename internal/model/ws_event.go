package model

import (
	"encoding/json"
	"strings"
)

// Client-to-server event types.
const (
	EventChannelJoin         = "channel:join"
	EventChannelLeave        = "channel:leave"
	EventMessageCreate       = "message:create"
	EventThreadMessageCreate = "thread:message_create"
	EventReactionAdd         = "reaction:add"
	EventReactionRemove      = "reaction:remove"
	EventTypingStart         = "typing:start"
	EventTypingStop          = "typing:stop"
	EventStatusUpdate        = "status:update"
	EventPing                = "ping"
)

// WSEvent is an inbound frame. Ref is an opaque client correlation value
// (the temporary id of an optimistic write) echoed on error notices.
type WSEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	Ref  string          `json:"ref,omitempty"`
}

type WSAnnounce struct {
	Message string `json:"message"`
}

type ChannelRef struct {
	ChannelID string `json:"channelId"`
}

type MessageCreatePayload struct {
	ChannelID string `json:"channelId"`
	Content   string `json:"content"`
	ThreadID  string `json:"threadId,omitempty"`
}

type ThreadMessagePayload struct {
	ParentMessageID string `json:"parentMessageId"`
	Content         string `json:"content"`
}

type ReactionPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type StatusPayload struct {
	Status string `json:"status"`
}

// DecodeChannelID accepts either a bare JSON string or {"channelId": "..."}.
func DecodeChannelID(data json.RawMessage) string {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var ref ChannelRef
	if err := json.Unmarshal(data, &ref); err == nil {
		return strings.TrimSpace(ref.ChannelID)
	}
	return ""
}

// DecodeStatus accepts either a bare JSON string or {"status": "..."}.
func DecodeStatus(data json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s, true
	}
	var p StatusPayload
	if err := json.Unmarshal(data, &p); err == nil {
		return p.Status, true
	}
	return "", false
}
