package model

import "time"

// Message is a stored chat message. ThreadID is the parent message id for
// thread replies and nil for top-level messages.
type Message struct {
	ID         string     `json:"id"`
	ChannelID  string     `json:"channelId"`
	ThreadID   *string    `json:"threadId,omitempty"`
	UserID     string     `json:"userId"`
	Username   string     `json:"username,omitempty"`
	Content    string     `json:"content"`
	ReplyCount int        `json:"replyCount"`
	Reactions  []Reaction `json:"reactions,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// IsThreadReply reports whether the message belongs to a thread.
func (m *Message) IsThreadReply() bool {
	return m.ThreadID != nil && *m.ThreadID != ""
}

// NewMessage is the input for creating a message in a channel or thread.
type NewMessage struct {
	ChannelID string
	ThreadID  *string
	UserID    string
	Content   string
}

type CreateMessageRequest struct {
	ChannelID string `json:"channelId"`
	Content   string `json:"content"`
	ThreadID  string `json:"threadId,omitempty"`
}

type UpdateMessageRequest struct {
	Content string `json:"content"`
}

type CreateThreadReplyRequest struct {
	Content string `json:"content"`
}

// Thread is a parent message with its replies in chronological order.
type Thread struct {
	Parent  *Message  `json:"parent"`
	Replies []Message `json:"replies"`
}
