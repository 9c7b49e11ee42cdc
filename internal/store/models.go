package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type ChatModel struct {
	ID        string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;index"`
	Title     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;index"`
}

type GenerationBatchModel struct {
	ID        string         `gorm:"primaryKey"`
	ChatID    string         `gorm:"not null;index"`
	UserID    string         `gorm:"not null;index"`
	Prompt    string         `gorm:"type:text;not null"`
	Params    datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"not null;index"`
}

type ImageGenerationModel struct {
	ID          string `gorm:"primaryKey"`
	BatchID     string `gorm:"not null;index"`
	UserID      string `gorm:"not null;index"`
	Provider    string `gorm:"not null"`
	Status      string `gorm:"not null"`
	ImageURL    string
	ErrorMsg    string
	CreatedAt   time.Time `gorm:"not null;index"`
	CompletedAt *time.Time
}
