package store

import (
	"errors"
	"time"

	"imagemax/pkg/domain"
)

// ErrChatIDTaken indicates the chat ID already belongs to another user.
// Find-or-create must never merge one user's batches into another's chat.
var ErrChatIDTaken = errors.New("chat id belongs to another user")

// Store defines persistence operations for chats, batches, and generations.
type Store interface {
	// chats
	FindOrCreateChat(chat domain.Chat) (domain.Chat, error)
	GetChat(id, userID string) (domain.Chat, bool, error)
	DeleteChat(id string) error
	ListChatsBefore(userID string, limit int, beforeID string) ([]domain.Chat, error)

	// batches
	CreateBatch(batch domain.GenerationBatch) error
	GetBatch(id string) (domain.GenerationBatch, bool, error)
	GetBatchForUser(id, userID string) (domain.GenerationBatch, bool, error)
	ListBatchesByChat(chatID string) ([]domain.GenerationBatch, error)
	ListBatchesBefore(userID string, limit int, beforeID string) ([]domain.GenerationBatch, error)
	DeleteBatch(id string) error

	// generations
	CreateGenerations(gens []domain.ImageGeneration) error
	ListGenerationsByBatch(batchID string) ([]domain.ImageGeneration, error)
	CompleteGeneration(id, imageURL string, at time.Time) error
	FailGeneration(id, errMsg string, at time.Time) error
}

// SessionStore resolves bearer tokens to user IDs when no external
// identity service is configured.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
