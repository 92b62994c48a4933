package model

import "time"

type Reaction struct {
	ID        string    `json:"id"`
	MessageID string    `json:"messageId"`
	ChannelID string    `json:"channelId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username,omitempty"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"createdAt"`
}

type AddReactionRequest struct {
	Emoji string `json:"emoji"`
}
