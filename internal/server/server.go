// Copyright (c) 2025 Reflex AI Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/reflexai/nexus/internal/admindb"
	"github.com/reflexai/nexus/internal/auth"
	"github.com/reflexai/nexus/internal/chat"
	"github.com/reflexai/nexus/internal/pipeline"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8787"

	// MaxRequestBodySize caps request bodies at 1MB.
	MaxRequestBodySize = 1 * 1024 * 1024

	// DefaultRateLimit caps requests per client per minute.
	DefaultRateLimit = 120

	// Version is the API server version.
	Version = "1.0.0"
)

// =============================================================================
// SERVER
// =============================================================================

// Server serves the chat and admin HTTP API.
type Server struct {
	addr   string
	mux    *http.ServeMux
	server *http.Server

	store *chat.Store
	pipe  *pipeline.Pipeline
	db    *admindb.DB
	auth  *auth.Manager

	logger *log.Logger
}

// New assembles a Server over the given store, pipeline, database, and
// session manager. addr "" uses DefaultAddr.
func New(addr string, store *chat.Store, pipe *pipeline.Pipeline, db *admindb.DB, authMgr *auth.Manager) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	s := &Server{
		addr:   addr,
		mux:    http.NewServeMux(),
		store:  store,
		pipe:   pipe,
		db:     db,
		auth:   authMgr,
		logger: log.New(log.Writer(), "server: ", log.LstdFlags),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /v1/chat", s.handleChat)
	s.mux.HandleFunc("GET /v1/messages", s.handleMessages)
	s.mux.HandleFunc("POST /v1/clear", s.handleClear)
	s.mux.HandleFunc("POST /v1/verify", s.handleVerifyToggle)
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("POST /auth/register", s.handleRegister)
	s.mux.HandleFunc("POST /auth/signin", s.handleSignIn)
	s.mux.HandleFunc("POST /auth/signout", s.handleSignOut)

	admin := s.sessionMiddleware(admindb.RoleAdmin)
	s.mux.Handle("GET /admin/users", admin(http.HandlerFunc(s.handleListUsers)))
	s.mux.Handle("POST /admin/users", admin(http.HandlerFunc(s.handleCreateUser)))
	s.mux.Handle("PUT /admin/users/{id}/role", admin(http.HandlerFunc(s.handleSetRole)))
	s.mux.Handle("DELETE /admin/users/{id}", admin(http.HandlerFunc(s.handleDeleteUser)))
	s.mux.Handle("GET /admin/requests", admin(http.HandlerFunc(s.handleRecentRequests)))
	s.mux.Handle("GET /admin/stats", admin(http.HandlerFunc(s.handleStats)))
	s.mux.Handle("GET /admin/settings", admin(http.HandlerFunc(s.handleGetSettings)))
	s.mux.Handle("PUT /admin/settings", admin(http.HandlerFunc(s.handlePutSettings)))
	s.mux.Handle("POST /admin/access-codes", admin(http.HandlerFunc(s.handleAddAccessCode)))
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		RequestIDMiddleware(),
		LoggingMiddleware(s.logger),
		RateLimitMiddleware(DefaultRateLimit),
	)(s.mux)
}

// Start runs the server until it fails or is shut down.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.logger.Printf("SERVER_START | addr=%s version=%s", s.addr, Version)
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Printf("SERVER_SHUTDOWN | draining")
	return s.server.Shutdown(ctx)
}

// =============================================================================
// CHAT HANDLERS
// =============================================================================

// ChatRequest is the POST /v1/chat body. Either Text or Content must be
// set; Content allows mixed text and image blocks.
type ChatRequest struct {
	Text    string              `json:"text,omitempty"`
	Content []chat.ContentBlock `json:"content,omitempty"`
}

// ChatResponse carries the resolved transcript delta for one turn.
type ChatResponse struct {
	User      chat.Message `json:"user"`
	Assistant chat.Message `json:"assistant"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	blocks := req.Content
	if len(blocks) == 0 && req.Text != "" {
		blocks = []chat.ContentBlock{chat.TextBlock(req.Text)}
	}
	if len(blocks) == 0 {
		s.writeError(w, http.StatusBadRequest, "message content required")
		return
	}

	err := s.pipe.Submit(r.Context(), blocks)
	switch {
	case errors.Is(err, pipeline.ErrMissingCredential):
		s.writeError(w, http.StatusUnauthorized, pipeline.MissingCredentialMessage)
		return
	case errors.Is(err, pipeline.ErrSubmitInFlight):
		s.writeError(w, http.StatusConflict, "a submission is already in flight")
		return
	}
	// Completion failures still resolve the turn; the assistant message
	// carries the error body and the flag below marks it.

	state := s.store.State()
	if len(state.Messages) < 2 {
		s.writeError(w, http.StatusInternalServerError, "transcript did not resolve")
		return
	}
	s.writeJSON(w, http.StatusOK, ChatResponse{
		User:      state.Messages[len(state.Messages)-2],
		Assistant: state.Messages[len(state.Messages)-1],
	})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	state := s.store.State()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"messages":          state.Messages,
		"is_loading":        state.IsLoading,
		"dual_verification": state.DualVerification,
		"error":             state.Err,
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.store.ClearMessages()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVerifyToggle(w http.ResponseWriter, r *http.Request) {
	s.store.ToggleDualVerification()
	s.writeJSON(w, http.StatusOK, map[string]bool{
		"dual_verification": s.store.State().DualVerification,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.store.State()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        Version,
		"credential_set": state.HasCredential(),
		"messages":       len(state.Messages),
	})
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

type registerRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	AccessCode string `json:"access_code"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		s.writeError(w, http.StatusBadRequest, "email and password required")
		return
	}

	user, err := s.auth.Register(r.Context(), req.Email, req.Password, req.AccessCode)
	switch {
	case errors.Is(err, auth.ErrInvalidAccessCode):
		s.writeError(w, http.StatusForbidden, "invalid access code")
		return
	case errors.Is(err, admindb.ErrDuplicateEmail):
		s.writeError(w, http.StatusConflict, "email already registered")
		return
	case err != nil:
		s.logger.Printf("REGISTER_ERROR | %v", err)
		s.writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	s.writeJSON(w, http.StatusCreated, user)
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TOTPCode string `json:"totp_code,omitempty"`
}

type signInResponse struct {
	Token string `json:"token"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	sess, err := s.auth.SignIn(r.Context(), req.Email, req.Password, req.TOTPCode)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		s.writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	case errors.Is(err, auth.ErrTOTPRequired):
		s.writeError(w, http.StatusUnauthorized, "one-time code required")
		return
	case errors.Is(err, auth.ErrInvalidTOTP):
		s.writeError(w, http.StatusUnauthorized, "invalid one-time code")
		return
	case err != nil:
		s.logger.Printf("SIGNIN_ERROR | %v", err)
		s.writeError(w, http.StatusInternalServerError, "sign-in failed")
		return
	}
	s.writeJSON(w, http.StatusOK, signInResponse{
		Token: sess.ID,
		Email: sess.Email,
		Role:  sess.Role,
	})
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if token := r.Header.Get(SessionTokenHeader); token != "" {
		s.auth.SignOut(token)
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.db.ListUsers(r.Context())
	if err != nil {
		s.logger.Printf("LIST_USERS_ERROR | %v", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

type createUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		s.writeError(w, http.StatusBadRequest, "email and password required")
		return
	}
	role := req.Role
	if role == "" {
		role = admindb.RoleUser
	}
	if role != admindb.RoleAdmin && role != admindb.RoleUser {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown role %q", role))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	user, err := s.db.CreateUser(r.Context(), req.Email, hash, role)
	if errors.Is(err, admindb.ErrDuplicateEmail) {
		s.writeError(w, http.StatusConflict, "email already registered")
		return
	}
	if err != nil {
		s.logger.Printf("CREATE_USER_ERROR | %v", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	s.writeJSON(w, http.StatusCreated, user)
}

type setRoleRequest struct {
	Role string `json:"role"`
}

func (s *Server) handleSetRole(w http.ResponseWriter, r *http.Request) {
	var req setRoleRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Role != admindb.RoleAdmin && req.Role != admindb.RoleUser {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown role %q", req.Role))
		return
	}
	err := s.db.SetUserRole(r.Context(), r.PathValue("id"), req.Role)
	if errors.Is(err, admindb.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to update role")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	err := s.db.DeleteUser(r.Context(), r.PathValue("id"))
	if errors.Is(err, admindb.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to delete user")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRecentRequests(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.RecentAPIRequests(r.Context(), 100)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read usage log")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"requests": rows})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.DailyStats(r.Context(), 30)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"daily": stats})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.db.Settings(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read settings")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if !s.decodeBody(w, r, &req) {
		return
	}
	for k, v := range req {
		if err := s.db.SetSetting(r.Context(), k, v); err != nil {
			s.writeError(w, http.StatusInternalServerError, "failed to write settings")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type addAccessCodeRequest struct {
	Code string `json:"code"`
	Note string `json:"note"`
}

func (s *Server) handleAddAccessCode(w http.ResponseWriter, r *http.Request) {
	var req addAccessCodeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Code == "" {
		s.writeError(w, http.StatusBadRequest, "access code required")
		return
	}
	hash, err := auth.HashAccessCode(req.Code)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to hash access code")
		return
	}
	if err := s.db.AddAccessCode(r.Context(), hash, req.Note); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to store access code")
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decodeBody reads a size-capped JSON body into v. On failure it writes
// the error response and returns false.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", MaxRequestBodySize))
			return false
		}
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("WRITE_ERROR | %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    status,
		},
	})
}
