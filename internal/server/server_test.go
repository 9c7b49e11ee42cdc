package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"imagemax/internal/app"
	"imagemax/internal/provider"
	"imagemax/internal/store"
	"imagemax/pkg/domain"
)

type instantProvider struct {
	name string
	res  provider.Result
}

func (p instantProvider) GenerateImage(_ context.Context, _ string) provider.Result {
	return p.res
}

func (p instantProvider) Name() string { return p.name }

type stubFactory struct {
	providers []provider.ImageProvider
}

func (f stubFactory) Providers() []provider.ImageProvider { return f.providers }

type testEnv struct {
	srv   *httptest.Server
	store *store.MemoryStore
	token string
}

func newTestEnv(t *testing.T, providers ...provider.ImageProvider) testEnv {
	t.Helper()

	if len(providers) == 0 {
		providers = []provider.ImageProvider{
			instantProvider{name: "dalle", res: provider.Result{Success: true, ImageURL: "https://cdn.example.com/a.png"}},
			instantProvider{name: "stability", res: provider.Result{Success: false, Error: "stability service temporarily unavailable"}},
		}
	}

	dataStore := store.NewMemoryStore()
	a, err := app.New(app.Config{
		Store:   dataStore,
		Factory: stubFactory{providers: providers},
	})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}

	mr := miniredis.RunT(t)
	sessions := store.NewRedisSessionStore(mr.Addr(), "", time.Hour)
	token, err := sessions.NewSession("user-1")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	s, err := New(Config{App: a, Sessions: sessions})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	return testEnv{srv: srv, store: dataStore, token: token}
}

func (e testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/healthz", "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestGenerateImagesRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	// Even a malformed body must not reach validation without a session.
	resp := env.do(t, http.MethodPost, "/api/generate-images", "", map[string]string{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	resp2 := env.do(t, http.MethodPost, "/api/generate-images", "bogus-token", map[string]string{
		"prompt": "a red fox", "chatId": "chat-1", "userId": "user-1",
	})
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status with unknown token = %d, want 401", resp2.StatusCode)
	}
}

func TestGenerateImagesHappyPath(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/generate-images", env.token, map[string]string{
		"prompt": "a red fox in the snow",
		"chatId": "chat-1",
		"userId": "user-1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out struct {
		Success bool                 `json:"success"`
		BatchID string               `json:"batchId"`
		Images  []domain.ImageResult `json:"images"`
	}
	decodeBody(t, resp, &out)

	if !out.Success || out.BatchID == "" {
		t.Fatalf("unexpected response: %+v", out)
	}
	if len(out.Images) != 2 {
		t.Fatalf("len(images) = %d, want 2", len(out.Images))
	}
	if out.Images[0].Provider != "dalle" || out.Images[0].Status != domain.GenerationCompleted {
		t.Fatalf("first image = %+v", out.Images[0])
	}
	if out.Images[1].Provider != "stability" || out.Images[1].Status != domain.GenerationFailed {
		t.Fatalf("second image = %+v", out.Images[1])
	}

	// Partial failure is still a 200 with persisted terminal records.
	gens, err := env.store.ListGenerationsByBatch(out.BatchID)
	if err != nil {
		t.Fatalf("ListGenerationsByBatch: %v", err)
	}
	for _, gen := range gens {
		if gen.Status == domain.GenerationPending {
			t.Fatalf("generation %s still pending", gen.ID)
		}
	}
}

func TestGenerateImagesValidatesBody(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/generate-images", env.token, map[string]string{
		"chatId": "chat-1", "userId": "user-1",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	// Nothing may be persisted for a rejected request.
	chats, err := env.store.ListChatsBefore("user-1", 10, "")
	if err != nil {
		t.Fatalf("ListChatsBefore: %v", err)
	}
	if len(chats) != 0 {
		t.Fatalf("len(chats) = %d, want 0", len(chats))
	}
}

func TestChatGetAndDelete(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/generate-images", env.token, map[string]string{
		"prompt": "city at night", "chatId": "chat-9", "userId": "user-1",
	})
	resp.Body.Close()

	get := env.do(t, http.MethodGet, "/api/chat?id=chat-9", env.token, nil)
	if get.StatusCode != http.StatusOK {
		t.Fatalf("GET chat status = %d, want 200", get.StatusCode)
	}
	var out struct {
		Chat struct {
			ID      string `json:"id"`
			Title   string `json:"title"`
			Batches []struct {
				Prompt string               `json:"prompt"`
				Images []domain.ImageResult `json:"images"`
			} `json:"batches"`
		} `json:"chat"`
	}
	decodeBody(t, get, &out)
	if out.Chat.ID != "chat-9" || out.Chat.Title != "city at night" {
		t.Fatalf("chat = %+v", out.Chat)
	}
	if len(out.Chat.Batches) != 1 || len(out.Chat.Batches[0].Images) != 2 {
		t.Fatalf("batches = %+v", out.Chat.Batches)
	}

	del := env.do(t, http.MethodDelete, "/api/chat?id=chat-9", env.token, nil)
	del.Body.Close()
	if del.StatusCode != http.StatusOK {
		t.Fatalf("DELETE chat status = %d, want 200", del.StatusCode)
	}

	gone := env.do(t, http.MethodGet, "/api/chat?id=chat-9", env.token, nil)
	gone.Body.Close()
	if gone.StatusCode != http.StatusNotFound {
		t.Fatalf("status after delete = %d, want 404", gone.StatusCode)
	}
}

func TestChatRequiresID(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/api/chat", env.token, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHistoryPagination(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 3; i++ {
		resp := env.do(t, http.MethodPost, "/api/generate-images", env.token, map[string]string{
			"prompt": fmt.Sprintf("prompt %d", i),
			"chatId": fmt.Sprintf("chat-%d", i),
			"userId": "user-1",
		})
		resp.Body.Close()
	}

	resp := env.do(t, http.MethodGet, "/api/history?limit=2", env.token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var page struct {
		Chats   []domain.Chat `json:"chats"`
		HasMore bool          `json:"hasMore"`
	}
	decodeBody(t, resp, &page)
	if len(page.Chats) != 2 || !page.HasMore {
		t.Fatalf("page = %+v", page)
	}

	next := env.do(t, http.MethodGet, "/api/history?limit=2&ending_before="+page.Chats[1].ID, env.token, nil)
	var page2 struct {
		Chats   []domain.Chat `json:"chats"`
		HasMore bool          `json:"hasMore"`
	}
	decodeBody(t, next, &page2)
	if len(page2.Chats) != 1 || page2.HasMore {
		t.Fatalf("second page = %+v", page2)
	}
}

func TestGenerationHistory(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/generate-images", env.token, map[string]string{
		"prompt": "two moons", "chatId": "chat-1", "userId": "user-1",
	})
	resp.Body.Close()

	hist := env.do(t, http.MethodGet, "/api/generation-history", env.token, nil)
	if hist.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", hist.StatusCode)
	}
	var page struct {
		Batches []struct {
			ID     string               `json:"id"`
			Prompt string               `json:"prompt"`
			Images []domain.ImageResult `json:"images"`
		} `json:"batches"`
		HasMore bool `json:"hasMore"`
	}
	decodeBody(t, hist, &page)
	if len(page.Batches) != 1 || page.Batches[0].Prompt != "two moons" {
		t.Fatalf("page = %+v", page)
	}
	if len(page.Batches[0].Images) != 2 {
		t.Fatalf("images = %+v", page.Batches[0].Images)
	}
}

func TestDeleteGenerationBatch(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/generate-images", env.token, map[string]string{
		"prompt": "a lighthouse", "chatId": "chat-1", "userId": "user-1",
	})
	var out struct {
		BatchID string `json:"batchId"`
	}
	decodeBody(t, resp, &out)

	del := env.do(t, http.MethodDelete, "/api/generation-batch?id="+out.BatchID, env.token, nil)
	del.Body.Close()
	if del.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", del.StatusCode)
	}

	gone := env.do(t, http.MethodGet, "/api/batch/"+out.BatchID, "", nil)
	gone.Body.Close()
	if gone.StatusCode != http.StatusNotFound {
		t.Fatalf("status after delete = %d, want 404", gone.StatusCode)
	}
}

func TestBatchByIDIsPublic(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/generate-images", env.token, map[string]string{
		"prompt": "shared artwork", "chatId": "chat-1", "userId": "user-1",
	})
	var out struct {
		BatchID string `json:"batchId"`
	}
	decodeBody(t, resp, &out)

	// No Authorization header at all.
	pub := env.do(t, http.MethodGet, "/api/batch/"+out.BatchID, "", nil)
	if pub.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", pub.StatusCode)
	}
	var shared struct {
		Success bool `json:"success"`
		Batch   struct {
			ID     string `json:"id"`
			Prompt string `json:"prompt"`
		} `json:"batch"`
	}
	decodeBody(t, pub, &shared)
	if !shared.Success || shared.Batch.ID != out.BatchID || shared.Batch.Prompt != "shared artwork" {
		t.Fatalf("shared = %+v", shared)
	}
}

func TestBatchByIDUnknown(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/api/batch/does-not-exist", "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/api/generate-images", env.token, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}
