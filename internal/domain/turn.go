// Package domain contains core domain types shared across packages.
package domain

import (
	"time"
)

// Turn is one completed chat message of a conversation.
type Turn struct {
	ConversationID string
	MessageID      string
	Role           string
	Content        string
	// PayloadJSON holds the structured remainder of the message (steps,
	// tool data, learning card).
	PayloadJSON string
	CreatedAt   time.Time
}
