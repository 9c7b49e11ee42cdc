package store

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"imagemax/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&ChatModel{}, &GenerationBatchModel{}, &ImageGenerationModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// FindOrCreateChat is idempotent on chat ID: a concurrent first message for
// the same new chat resolves through the primary-key conflict, and the
// surviving row is re-fetched. The re-fetch is scoped to the owner, so a
// chat ID already held by another user yields ErrChatIDTaken instead of
// attaching to the foreign chat.
func (s *GormStore) FindOrCreateChat(chat domain.Chat) (domain.Chat, error) {
	model := chatToModel(chat)
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&model).Error
	if err != nil {
		return domain.Chat{}, fmt.Errorf("create chat: %w", err)
	}
	var existing ChatModel
	if err := s.db.First(&existing, "id = ? AND user_id = ?", chat.ID, chat.UserID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Chat{}, ErrChatIDTaken
		}
		return domain.Chat{}, fmt.Errorf("fetch chat: %w", err)
	}
	return chatFromModel(existing), nil
}

// GetChat retrieves a chat owned by the given user.
func (s *GormStore) GetChat(id, userID string) (domain.Chat, bool, error) {
	var model ChatModel
	if err := s.db.First(&model, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Chat{}, false, nil
		}
		return domain.Chat{}, false, err
	}
	return chatFromModel(model), true, nil
}

// DeleteChat removes a chat, its batches, and their generations.
func (s *GormStore) DeleteChat(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("batch_id IN (?)",
			tx.Model(&GenerationBatchModel{}).Select("id").Where("chat_id = ?", id),
		).Delete(&ImageGenerationModel{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&GenerationBatchModel{}, "chat_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&ChatModel{}, "id = ?", id).Error
	})
}

// ListChatsBefore returns up to limit chats for the user, newest first,
// optionally keyed past a cursor chat ID.
func (s *GormStore) ListChatsBefore(userID string, limit int, beforeID string) ([]domain.Chat, error) {
	var models []ChatModel
	tx := s.db.Where("user_id = ?", userID).Order("created_at DESC, id DESC").Limit(limit)
	if beforeID != "" {
		tx = tx.Where("id < ?", beforeID)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Chat, 0, len(models))
	for _, m := range models {
		res = append(res, chatFromModel(m))
	}
	return res, nil
}

// CreateBatch records a fan-out request.
func (s *GormStore) CreateBatch(batch domain.GenerationBatch) error {
	model, err := batchToModel(batch)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// GetBatch retrieves a batch regardless of owner (public share view).
func (s *GormStore) GetBatch(id string) (domain.GenerationBatch, bool, error) {
	var model GenerationBatchModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.GenerationBatch{}, false, nil
		}
		return domain.GenerationBatch{}, false, err
	}
	return batchFromModel(model), true, nil
}

// GetBatchForUser retrieves a batch owned by the given user.
func (s *GormStore) GetBatchForUser(id, userID string) (domain.GenerationBatch, bool, error) {
	var model GenerationBatchModel
	if err := s.db.First(&model, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.GenerationBatch{}, false, nil
		}
		return domain.GenerationBatch{}, false, err
	}
	return batchFromModel(model), true, nil
}

// ListBatchesByChat returns a chat's batches oldest first.
func (s *GormStore) ListBatchesByChat(chatID string) ([]domain.GenerationBatch, error) {
	var models []GenerationBatchModel
	if err := s.db.Where("chat_id = ?", chatID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.GenerationBatch, 0, len(models))
	for _, m := range models {
		res = append(res, batchFromModel(m))
	}
	return res, nil
}

// ListBatchesBefore returns up to limit batches for the user, newest first.
func (s *GormStore) ListBatchesBefore(userID string, limit int, beforeID string) ([]domain.GenerationBatch, error) {
	var models []GenerationBatchModel
	tx := s.db.Where("user_id = ?", userID).Order("created_at DESC, id DESC").Limit(limit)
	if beforeID != "" {
		tx = tx.Where("id < ?", beforeID)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.GenerationBatch, 0, len(models))
	for _, m := range models {
		res = append(res, batchFromModel(m))
	}
	return res, nil
}

// DeleteBatch removes a batch and its generations.
func (s *GormStore) DeleteBatch(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ImageGenerationModel{}, "batch_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&GenerationBatchModel{}, "id = ?", id).Error
	})
}

// CreateGenerations inserts every pending record of a batch in one
// transaction, so the batch's cardinality is fixed before dispatch.
func (s *GormStore) CreateGenerations(gens []domain.ImageGeneration) error {
	if len(gens) == 0 {
		return nil
	}
	models := make([]ImageGenerationModel, 0, len(gens))
	for _, g := range gens {
		models = append(models, generationToModel(g))
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&models).Error
	})
}

// ListGenerationsByBatch returns a batch's generations oldest first.
func (s *GormStore) ListGenerationsByBatch(batchID string) ([]domain.ImageGeneration, error) {
	var models []ImageGenerationModel
	if err := s.db.Where("batch_id = ?", batchID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ImageGeneration, 0, len(models))
	for _, m := range models {
		res = append(res, generationFromModel(m))
	}
	return res, nil
}

// CompleteGeneration moves a pending record to completed. The status guard
// makes the terminal transition single-shot.
func (s *GormStore) CompleteGeneration(id, imageURL string, at time.Time) error {
	return s.db.Model(&ImageGenerationModel{}).
		Where("id = ? AND status = ?", id, string(domain.GenerationPending)).
		Updates(map[string]any{
			"status":       string(domain.GenerationCompleted),
			"image_url":    imageURL,
			"completed_at": at,
		}).Error
}

// FailGeneration moves a pending record to failed.
func (s *GormStore) FailGeneration(id, errMsg string, at time.Time) error {
	return s.db.Model(&ImageGenerationModel{}).
		Where("id = ? AND status = ?", id, string(domain.GenerationPending)).
		Updates(map[string]any{
			"status":       string(domain.GenerationFailed),
			"error_msg":    errMsg,
			"completed_at": at,
		}).Error
}

func chatToModel(c domain.Chat) ChatModel {
	return ChatModel{
		ID:        c.ID,
		UserID:    c.UserID,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
	}
}

func chatFromModel(m ChatModel) domain.Chat {
	return domain.Chat{
		ID:        m.ID,
		UserID:    m.UserID,
		Title:     m.Title,
		CreatedAt: m.CreatedAt,
	}
}

func batchToModel(b domain.GenerationBatch) (GenerationBatchModel, error) {
	params, err := json.Marshal(b.Params)
	if err != nil {
		return GenerationBatchModel{}, fmt.Errorf("marshal batch params: %w", err)
	}
	return GenerationBatchModel{
		ID:        b.ID,
		ChatID:    b.ChatID,
		UserID:    b.UserID,
		Prompt:    b.Prompt,
		Params:    datatypes.JSON(params),
		CreatedAt: b.CreatedAt,
	}, nil
}

func batchFromModel(m GenerationBatchModel) domain.GenerationBatch {
	var params domain.GenerationParams
	if len(m.Params) > 0 {
		_ = json.Unmarshal(m.Params, &params)
	}
	return domain.GenerationBatch{
		ID:        m.ID,
		ChatID:    m.ChatID,
		UserID:    m.UserID,
		Prompt:    m.Prompt,
		Params:    params,
		CreatedAt: m.CreatedAt,
	}
}

func generationToModel(g domain.ImageGeneration) ImageGenerationModel {
	return ImageGenerationModel{
		ID:          g.ID,
		BatchID:     g.BatchID,
		UserID:      g.UserID,
		Provider:    g.Provider,
		Status:      string(g.Status),
		ImageURL:    g.ImageURL,
		ErrorMsg:    g.ErrorMsg,
		CreatedAt:   g.CreatedAt,
		CompletedAt: g.CompletedAt,
	}
}

func generationFromModel(m ImageGenerationModel) domain.ImageGeneration {
	return domain.ImageGeneration{
		ID:          m.ID,
		BatchID:     m.BatchID,
		UserID:      m.UserID,
		Provider:    m.Provider,
		Status:      domain.GenerationStatus(m.Status),
		ImageURL:    m.ImageURL,
		ErrorMsg:    m.ErrorMsg,
		CreatedAt:   m.CreatedAt,
		CompletedAt: m.CompletedAt,
	}
}
