package core

import (
	"context"
	"time"
)

// MessageStore is the capability contract behind a Session. Implementations
// must isolate keys by (userID, sessionID) so one instance can be shared by
// many sessions without callers locking. An empty sessionID addresses the
// user's default conversation.
//
// Stored records that cannot be decoded are skipped and logged, never returned
// as an error.
type MessageStore interface {
	// AddMessages appends msgs in order to the conversation.
	AddMessages(ctx context.Context, userID, sessionID string, msgs ...Message) error

	// GetMessages returns the last count messages in append order.
	GetMessages(ctx context.Context, userID, sessionID string, count int) ([]Message, error)

	// ClearHistory removes every message of the conversation.
	ClearHistory(ctx context.Context, userID, sessionID string) error

	// PopMessage removes trailing tool messages plus the last user or assistant
	// message and returns that message, or nil when none exists.
	PopMessage(ctx context.Context, userID, sessionID string) (*Message, error)
}

// MemoryPiece is a single long term memory returned by a MemoryStore.
type MemoryPiece struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Score     float64        `json:"score"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// MemoryStore persists and recalls long term memories per user.
type MemoryStore interface {
	Store(ctx context.Context, userID, content string, metadata map[string]any) (string, error)
	Retrieve(ctx context.Context, userID, query string, limit int) ([]MemoryPiece, error)
}
