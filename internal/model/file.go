package model

import "time"

// File is the metadata of an uploaded blob. The bytes live in the blob store
// and are reachable at URL.
type File struct {
	ID          string    `json:"id"`
	ChannelID   string    `json:"channelId"`
	UserID      string    `json:"userId"`
	Name        string    `json:"name"`
	ObjectName  string    `json:"-"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"createdAt"`
}
