// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/triage-console/internal/domain"
)

// Repository defines the interface for persisting chat turns.
type Repository interface {
	// AppendTurn stores a completed chat message.
	AppendTurn(ctx context.Context, turn *domain.Turn) error

	// ListTurns returns the turns of a conversation in insertion order.
	// A limit <= 0 returns all of them.
	ListTurns(ctx context.Context, conversationID string, limit int) ([]*domain.Turn, error)

	// DeleteConversation removes every turn of a conversation.
	DeleteConversation(ctx context.Context, conversationID string) (int64, error)

	// CleanupExpiredTurns removes turns older than ttl.
	CleanupExpiredTurns(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
