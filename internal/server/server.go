package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"imagemax/internal/app"
	"imagemax/internal/authclient"
	"imagemax/internal/store"
	"imagemax/internal/usertoken"
	"imagemax/internal/util"
	"imagemax/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// Auth resolves tokens against the external identity service. When nil,
	// Sessions is used instead.
	Auth          *authclient.Client
	Sessions      store.SessionStore
	TokenVerifier *usertoken.Verifier
}

// Server exposes HTTP endpoints for image generation and history.
type Server struct {
	app           *app.App
	auth          *authclient.Client
	sessions      store.SessionStore
	tokenVerifier *usertoken.Verifier
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.Auth == nil && cfg.Sessions == nil {
		return nil, errors.New("auth client or session store required")
	}
	s := &Server{
		app:           cfg.App,
		auth:          cfg.Auth,
		sessions:      cfg.Sessions,
		tokenVerifier: cfg.TokenVerifier,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with middlewares applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(
		util.WithRequestLog("imagemax",
			util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/api/generate-images", s.withUser(s.handleGenerateImages))
	s.mux.Handle("/api/chat", s.withUser(s.handleChat))
	s.mux.Handle("/api/history", s.withUser(s.handleHistory))
	s.mux.Handle("/api/generation-history", s.withUser(s.handleGenerationHistory))
	s.mux.Handle("/api/generation-batch", s.withUser(s.handleDeleteBatch))
	// Public share view, no auth.
	s.mux.HandleFunc("/api/batch/", s.handleBatchByID)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

// withUser rejects the request before any other processing when no valid
// session exists.
func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if s.tokenVerifier != nil {
			if _, err := s.tokenVerifier.VerifySubject(token); err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		user, ok := s.resolveUser(token)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) resolveUser(token string) (domain.User, bool) {
	if s.auth != nil {
		user, err := s.auth.Me(token)
		if err != nil {
			return domain.User{}, false
		}
		return user, true
	}
	uid, ok, err := s.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, false
	}
	return domain.User{ID: uid, Role: domain.RoleUser}, true
}

type generateRequest struct {
	Prompt string `json:"prompt"`
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

type generateResponse struct {
	Success bool                 `json:"success"`
	BatchID string               `json:"batchId"`
	Images  []domain.ImageResult `json:"images"`
}

func (s *Server) handleGenerateImages(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req generateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Prompt == "" || req.ChatID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing required fields: prompt, chatId, userId")
		return
	}

	resp, err := s.app.Generate(r.Context(), user, app.GenerateRequest{
		Prompt: req.Prompt,
		ChatID: req.ChatID,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{
		Success: true,
		BatchID: resp.BatchID,
		Images:  resp.Images,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "chat ID is required")
		return
	}
	switch r.Method {
	case http.MethodGet:
		detail, err := s.app.GetChat(user, id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"chat": detail})
	case http.MethodDelete:
		if err := s.app.DeleteChat(user, id); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit, endingBefore := pageParams(r)
	page, err := s.app.ListChats(user, limit, endingBefore)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGenerationHistory(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit, endingBefore := pageParams(r)
	page, err := s.app.ListBatches(user, limit, endingBefore)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "generation batch ID is required")
		return
	}
	if err := s.app.DeleteBatch(user, id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleBatchByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/batch/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	detail, err := s.app.GetBatch(id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "batch": detail})
}

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func pageParams(r *http.Request) (int, string) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return limit, r.URL.Query().Get("ending_before")
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
