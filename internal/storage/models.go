package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document is a schema-flexible record addressed by collection and key.
type Document map[string]any

// Interaction is one chat exchange forwarded to the language model.
type Interaction struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UserID    string    `json:"user_id"`
	ChannelID string    `json:"channel_id"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Model     string    `json:"model"`
	Status    string    `json:"status"` // "completed", "failed", "filtered"
	Error     string    `json:"error,omitempty"`
}
