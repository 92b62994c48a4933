package model

import "time"

type User struct {
	ID         string     `json:"id"`
	Username   string     `json:"username"`
	Presence   string     `json:"presence"`
	Status     string     `json:"userStatus,omitempty"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}
