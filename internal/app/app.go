package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"imagemax/internal/provider"
	"imagemax/internal/store"
	"imagemax/internal/util"
	"imagemax/pkg/domain"
)

const (
	chatTitleMaxLen  = 50
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// ProviderFactory yields the provider set for one generation request.
type ProviderFactory interface {
	Providers() []provider.ImageProvider
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Factory     ProviderFactory
}

// App is the core application service: the fan-out generation orchestrator
// plus the chat/batch history operations built on the same store.
type App struct {
	store   store.Store
	factory ProviderFactory
}

// New constructs the application with database-backed storage.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("provider factory required")
	}
	return &App{store: dataStore, factory: cfg.Factory}, nil
}

// GenerateRequest is one inbound fan-out request.
type GenerateRequest struct {
	Prompt string `json:"prompt"`
	ChatID string `json:"chatId"`
}

// GenerateResponse aggregates one result per dispatched provider, in
// dispatch order.
type GenerateResponse struct {
	BatchID string               `json:"batchId"`
	Images  []domain.ImageResult `json:"images"`
}

// Generate runs one prompt against every configured provider concurrently.
//
// All generation records are created pending before any provider is invoked,
// so the batch's cardinality is observable immediately. Provider outcomes are
// captured independently: a failing or panicking provider never aborts the
// batch or its siblings, and every record reaches a terminal state before
// Generate returns.
func (a *App) Generate(ctx context.Context, user domain.User, req GenerateRequest) (GenerateResponse, error) {
	prompt := strings.TrimSpace(req.Prompt)
	chatID := strings.TrimSpace(req.ChatID)
	if prompt == "" || chatID == "" {
		return GenerateResponse{}, ErrInvalidRequest
	}

	now := time.Now().UTC()
	chat, err := a.store.FindOrCreateChat(domain.Chat{
		ID:        chatID,
		UserID:    user.ID,
		Title:     chatTitle(prompt),
		CreatedAt: now,
	})
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("ensure chat: %w", err)
	}

	batch := domain.GenerationBatch{
		ID:     uuid.NewString(),
		ChatID: chat.ID,
		UserID: user.ID,
		Prompt: prompt,
		Params: domain.GenerationParams{
			Size:           "1024x1024",
			ResponseFormat: "b64_json",
			N:              1,
		},
		CreatedAt: now,
	}
	if err := a.store.CreateBatch(batch); err != nil {
		return GenerateResponse{}, fmt.Errorf("create batch: %w", err)
	}

	providers := a.factory.Providers()
	gens := make([]domain.ImageGeneration, len(providers))
	for i, p := range providers {
		gens[i] = domain.ImageGeneration{
			ID:        uuid.NewString(),
			BatchID:   batch.ID,
			UserID:    user.ID,
			Provider:  p.Name(),
			Status:    domain.GenerationPending,
			CreatedAt: now,
		}
	}
	if err := a.store.CreateGenerations(gens); err != nil {
		return GenerateResponse{}, fmt.Errorf("create generations: %w", err)
	}

	// Fire all providers, wait for all to settle. Workers never return
	// errors: each records its own outcome in its slot, so no failure can
	// short-circuit a sibling.
	results := make([]domain.ImageResult, len(providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range providers {
		i, p := i, p
		g.Go(func() error {
			results[i] = a.dispatch(gctx, p, gens[i], prompt)
			return nil
		})
	}
	_ = g.Wait()

	return GenerateResponse{BatchID: batch.ID, Images: results}, nil
}

// dispatch runs one provider call and persists its terminal state. Panics
// are converted to a failed outcome at this boundary.
func (a *App) dispatch(ctx context.Context, p provider.ImageProvider, gen domain.ImageGeneration, prompt string) (out domain.ImageResult) {
	logger := util.LoggerFromContext(ctx)
	out = domain.ImageResult{
		ID:       gen.ID,
		Provider: gen.Provider,
		Status:   domain.GenerationFailed,
		Error:    "unexpected error occurred",
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("provider dispatch panicked", "provider", gen.Provider, "panic", r)
			if err := a.store.FailGeneration(gen.ID, "unexpected error occurred", time.Now().UTC()); err != nil {
				logger.Error("persist panic outcome", "generation", gen.ID, "err", err)
			}
		}
	}()

	res := p.GenerateImage(ctx, prompt)
	settledAt := time.Now().UTC()

	if res.Success {
		if err := a.store.CompleteGeneration(gen.ID, res.ImageURL, settledAt); err != nil {
			logger.Error("persist completion", "generation", gen.ID, "err", err)
		}
		url := res.ImageURL
		return domain.ImageResult{
			ID:       gen.ID,
			Provider: gen.Provider,
			ImageURL: &url,
			Status:   domain.GenerationCompleted,
		}
	}

	msg := res.Error
	if msg == "" {
		msg = "generation failed"
	}
	if err := a.store.FailGeneration(gen.ID, msg, settledAt); err != nil {
		logger.Error("persist failure", "generation", gen.ID, "err", err)
	}
	return domain.ImageResult{
		ID:       gen.ID,
		Provider: gen.Provider,
		Status:   domain.GenerationFailed,
		Error:    msg,
	}
}

// chatTitle derives a chat title from its first prompt.
func chatTitle(prompt string) string {
	runes := []rune(prompt)
	if len(runes) <= chatTitleMaxLen {
		return prompt
	}
	return string(runes[:chatTitleMaxLen]) + "..."
}

// BatchDetail is a batch with its per-provider image entries.
type BatchDetail struct {
	ID        string               `json:"id"`
	ChatID    string               `json:"chatId"`
	Prompt    string               `json:"prompt"`
	CreatedAt time.Time            `json:"createdAt"`
	Images    []domain.ImageResult `json:"images"`
}

// ChatDetail is a chat with its batches, oldest first.
type ChatDetail struct {
	domain.Chat
	Batches []BatchDetail `json:"batches"`
}

// ChatPage is one cursor-paginated window of a user's chats.
type ChatPage struct {
	Chats   []domain.Chat `json:"chats"`
	HasMore bool          `json:"hasMore"`
}

// BatchPage is one cursor-paginated window of a user's batches.
type BatchPage struct {
	Batches []BatchDetail `json:"batches"`
	HasMore bool          `json:"hasMore"`
}

// GetChat returns a chat owned by the user with its full generation history.
func (a *App) GetChat(user domain.User, id string) (ChatDetail, error) {
	if strings.TrimSpace(id) == "" {
		return ChatDetail{}, ErrInvalidRequest
	}
	chat, ok, err := a.store.GetChat(id, user.ID)
	if err != nil {
		return ChatDetail{}, fmt.Errorf("fetch chat: %w", err)
	}
	if !ok {
		return ChatDetail{}, ErrNotFound
	}
	batches, err := a.store.ListBatchesByChat(chat.ID)
	if err != nil {
		return ChatDetail{}, fmt.Errorf("list batches: %w", err)
	}
	details := make([]BatchDetail, 0, len(batches))
	for _, batch := range batches {
		detail, err := a.batchDetail(batch)
		if err != nil {
			return ChatDetail{}, err
		}
		details = append(details, detail)
	}
	return ChatDetail{Chat: chat, Batches: details}, nil
}

// DeleteChat removes a chat the user owns, cascading to its batches and
// generations.
func (a *App) DeleteChat(user domain.User, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrInvalidRequest
	}
	_, ok, err := a.store.GetChat(id, user.ID)
	if err != nil {
		return fmt.Errorf("fetch chat: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	if err := a.store.DeleteChat(id); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	return nil
}

// ListChats returns a window of the user's chats, newest first.
func (a *App) ListChats(user domain.User, limit int, endingBefore string) (ChatPage, error) {
	limit = clampLimit(limit)
	chats, err := a.store.ListChatsBefore(user.ID, limit+1, endingBefore)
	if err != nil {
		return ChatPage{}, fmt.Errorf("list chats: %w", err)
	}
	hasMore := len(chats) > limit
	if hasMore {
		chats = chats[:limit]
	}
	return ChatPage{Chats: chats, HasMore: hasMore}, nil
}

// ListBatches returns a window of the user's batches with their generations.
func (a *App) ListBatches(user domain.User, limit int, endingBefore string) (BatchPage, error) {
	limit = clampLimit(limit)
	batches, err := a.store.ListBatchesBefore(user.ID, limit+1, endingBefore)
	if err != nil {
		return BatchPage{}, fmt.Errorf("list batches: %w", err)
	}
	hasMore := len(batches) > limit
	if hasMore {
		batches = batches[:limit]
	}
	details := make([]BatchDetail, 0, len(batches))
	for _, batch := range batches {
		detail, err := a.batchDetail(batch)
		if err != nil {
			return BatchPage{}, err
		}
		details = append(details, detail)
	}
	return BatchPage{Batches: details, HasMore: hasMore}, nil
}

// GetBatch returns a batch with its images regardless of owner. Backs the
// public share view.
func (a *App) GetBatch(id string) (BatchDetail, error) {
	if strings.TrimSpace(id) == "" {
		return BatchDetail{}, ErrInvalidRequest
	}
	batch, ok, err := a.store.GetBatch(id)
	if err != nil {
		return BatchDetail{}, fmt.Errorf("fetch batch: %w", err)
	}
	if !ok {
		return BatchDetail{}, ErrNotFound
	}
	return a.batchDetail(batch)
}

// DeleteBatch removes a batch the user owns, cascading to its generations.
func (a *App) DeleteBatch(user domain.User, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrInvalidRequest
	}
	_, ok, err := a.store.GetBatchForUser(id, user.ID)
	if err != nil {
		return fmt.Errorf("fetch batch: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	if err := a.store.DeleteBatch(id); err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	return nil
}

func (a *App) batchDetail(batch domain.GenerationBatch) (BatchDetail, error) {
	gens, err := a.store.ListGenerationsByBatch(batch.ID)
	if err != nil {
		return BatchDetail{}, fmt.Errorf("list generations: %w", err)
	}
	images := make([]domain.ImageResult, 0, len(gens))
	for _, gen := range gens {
		images = append(images, resultFromGeneration(gen))
	}
	return BatchDetail{
		ID:        batch.ID,
		ChatID:    batch.ChatID,
		Prompt:    batch.Prompt,
		CreatedAt: batch.CreatedAt,
		Images:    images,
	}, nil
}

func resultFromGeneration(gen domain.ImageGeneration) domain.ImageResult {
	res := domain.ImageResult{
		ID:       gen.ID,
		Provider: gen.Provider,
		Status:   gen.Status,
		Error:    gen.ErrorMsg,
	}
	if gen.ImageURL != "" {
		url := gen.ImageURL
		res.ImageURL = &url
	}
	return res
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxPageLimit {
		return defaultPageLimit
	}
	return limit
}
