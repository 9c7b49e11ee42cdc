package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"imagemax/pkg/domain"
)

// MemoryStore keeps records in-process. Used by tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	chats   map[string]domain.Chat
	batches map[string]domain.GenerationBatch
	gens    map[string]domain.ImageGeneration
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:   make(map[string]domain.Chat),
		batches: make(map[string]domain.GenerationBatch),
		gens:    make(map[string]domain.ImageGeneration),
	}
}

// FindOrCreateChat reuses an existing chat with the same ID and owner.
// A chat ID held by another user yields ErrChatIDTaken.
func (m *MemoryStore) FindOrCreateChat(chat domain.Chat) (domain.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.chats[chat.ID]; ok {
		if existing.UserID != chat.UserID {
			return domain.Chat{}, ErrChatIDTaken
		}
		return existing, nil
	}
	m.chats[chat.ID] = chat
	return chat, nil
}

// GetChat retrieves a chat owned by the given user.
func (m *MemoryStore) GetChat(id, userID string) (domain.Chat, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chat, ok := m.chats[id]
	if !ok || chat.UserID != userID {
		return domain.Chat{}, false, nil
	}
	return chat, true, nil
}

// DeleteChat removes a chat, its batches, and their generations.
func (m *MemoryStore) DeleteChat(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chats, id)
	for batchID, batch := range m.batches {
		if batch.ChatID != id {
			continue
		}
		delete(m.batches, batchID)
		for genID, gen := range m.gens {
			if gen.BatchID == batchID {
				delete(m.gens, genID)
			}
		}
	}
	return nil
}

// ListChatsBefore returns up to limit chats for the user, newest first.
func (m *MemoryStore) ListChatsBefore(userID string, limit int, beforeID string) ([]domain.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Chat, 0)
	for _, chat := range m.chats {
		if chat.UserID != userID {
			continue
		}
		if beforeID != "" && chat.ID >= beforeID {
			continue
		}
		res = append(res, chat)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID > res[j].ID
		}
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// CreateBatch records a fan-out request.
func (m *MemoryStore) CreateBatch(batch domain.GenerationBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.batches[batch.ID]; exists {
		return errors.New("batch already exists")
	}
	m.batches[batch.ID] = batch
	return nil
}

// GetBatch retrieves a batch regardless of owner.
func (m *MemoryStore) GetBatch(id string) (domain.GenerationBatch, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	batch, ok := m.batches[id]
	return batch, ok, nil
}

// GetBatchForUser retrieves a batch owned by the given user.
func (m *MemoryStore) GetBatchForUser(id, userID string) (domain.GenerationBatch, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	batch, ok := m.batches[id]
	if !ok || batch.UserID != userID {
		return domain.GenerationBatch{}, false, nil
	}
	return batch, true, nil
}

// ListBatchesByChat returns a chat's batches oldest first.
func (m *MemoryStore) ListBatchesByChat(chatID string) ([]domain.GenerationBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.GenerationBatch, 0)
	for _, batch := range m.batches {
		if batch.ChatID == chatID {
			res = append(res, batch)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

// ListBatchesBefore returns up to limit batches for the user, newest first.
func (m *MemoryStore) ListBatchesBefore(userID string, limit int, beforeID string) ([]domain.GenerationBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.GenerationBatch, 0)
	for _, batch := range m.batches {
		if batch.UserID != userID {
			continue
		}
		if beforeID != "" && batch.ID >= beforeID {
			continue
		}
		res = append(res, batch)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID > res[j].ID
		}
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// DeleteBatch removes a batch and its generations.
func (m *MemoryStore) DeleteBatch(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.batches, id)
	for genID, gen := range m.gens {
		if gen.BatchID == id {
			delete(m.gens, genID)
		}
	}
	return nil
}

// CreateGenerations inserts all records or none.
func (m *MemoryStore) CreateGenerations(gens []domain.ImageGeneration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range gens {
		if _, exists := m.gens[g.ID]; exists {
			return errors.New("generation already exists")
		}
	}
	for _, g := range gens {
		m.gens[g.ID] = g
	}
	return nil
}

// ListGenerationsByBatch returns a batch's generations oldest first.
func (m *MemoryStore) ListGenerationsByBatch(batchID string) ([]domain.ImageGeneration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ImageGeneration, 0)
	for _, gen := range m.gens {
		if gen.BatchID == batchID {
			res = append(res, gen)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

// CompleteGeneration moves a pending record to completed.
func (m *MemoryStore) CompleteGeneration(id, imageURL string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	gen, ok := m.gens[id]
	if !ok || gen.Status != domain.GenerationPending {
		return nil
	}
	gen.Status = domain.GenerationCompleted
	gen.ImageURL = imageURL
	gen.CompletedAt = &at
	m.gens[id] = gen
	return nil
}

// FailGeneration moves a pending record to failed.
func (m *MemoryStore) FailGeneration(id, errMsg string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	gen, ok := m.gens[id]
	if !ok || gen.Status != domain.GenerationPending {
		return nil
	}
	gen.Status = domain.GenerationFailed
	gen.ErrorMsg = errMsg
	gen.CompletedAt = &at
	m.gens[id] = gen
	return nil
}
