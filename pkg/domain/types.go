package domain

import "time"

// GenerationStatus tracks the lifecycle of a single provider's generation.
// A record is created pending and moves exactly once to completed or failed.
type GenerationStatus string

const (
	GenerationPending   GenerationStatus = "pending"
	GenerationCompleted GenerationStatus = "completed"
	GenerationFailed    GenerationStatus = "failed"
)

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      UserRole  `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// Chat groups generation batches into a conversation thread.
type Chat struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// GenerationBatch is one fan-out request: one prompt dispatched to every
// configured provider at once.
type GenerationBatch struct {
	ID        string           `json:"id"`
	ChatID    string           `json:"chatId"`
	UserID    string           `json:"userId"`
	Prompt    string           `json:"prompt"`
	Params    GenerationParams `json:"params"`
	CreatedAt time.Time        `json:"createdAt"`
}

// GenerationParams records the request parameters a batch was dispatched with.
type GenerationParams struct {
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"responseFormat,omitempty"`
	N              int    `json:"n,omitempty"`
}

// ImageGeneration is the per-provider tracked outcome of one batch.
type ImageGeneration struct {
	ID          string           `json:"id"`
	BatchID     string           `json:"batchId"`
	UserID      string           `json:"userId"`
	Provider    string           `json:"provider"`
	Status      GenerationStatus `json:"status"`
	ImageURL    string           `json:"imageUrl,omitempty"`
	ErrorMsg    string           `json:"errorMsg,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
}

// ImageResult is the per-provider entry of a generate response.
type ImageResult struct {
	ID       string           `json:"id"`
	Provider string           `json:"provider"`
	ImageURL *string          `json:"imageUrl"`
	Status   GenerationStatus `json:"status"`
	Error    string           `json:"error,omitempty"`
}
