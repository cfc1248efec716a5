// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jeranaias/promptlab/internal/auth"
	"github.com/jeranaias/promptlab/internal/billing"
	"github.com/jeranaias/promptlab/internal/config"
	"github.com/jeranaias/promptlab/internal/export"
	"github.com/jeranaias/promptlab/internal/model"
	"github.com/jeranaias/promptlab/internal/provider"
	"github.com/jeranaias/promptlab/internal/quota"
	"github.com/jeranaias/promptlab/internal/session"
	"github.com/jeranaias/promptlab/internal/storage"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxContentLength is the maximum length for message content to prevent DoS.
	MaxContentLength = 100000

	// MaxRequestBodySize is the maximum size for request bodies (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// shutdownTimeout bounds graceful shutdown.
	shutdownTimeout = 10 * time.Second
)

// ============================================================================
// SERVER STATS
// ============================================================================

// ServerStats tracks request counters. All fields are updated atomically.
type ServerStats struct {
	TotalRequests int64
	TotalMessages int64
	TotalTokens   int64
	TotalErrors   int64
	StartTime     time.Time
}

// NewServerStats creates a stats tracker starting now.
func NewServerStats() *ServerStats {
	return &ServerStats{StartTime: time.Now()}
}

// RecordRequest counts one API request.
func (s *ServerStats) RecordRequest() {
	atomic.AddInt64(&s.TotalRequests, 1)
}

// RecordMessage counts one completed model call and its tokens.
func (s *ServerStats) RecordMessage(tokens int) {
	atomic.AddInt64(&s.TotalMessages, 1)
	atomic.AddInt64(&s.TotalTokens, int64(tokens))
}

// RecordError counts one failed model call.
func (s *ServerStats) RecordError() {
	atomic.AddInt64(&s.TotalErrors, 1)
}

// Snapshot returns a consistent-enough copy for reporting.
func (s *ServerStats) Snapshot() map[string]any {
	return map[string]any{
		"total_requests": atomic.LoadInt64(&s.TotalRequests),
		"total_messages": atomic.LoadInt64(&s.TotalMessages),
		"total_tokens":   atomic.LoadInt64(&s.TotalTokens),
		"total_errors":   atomic.LoadInt64(&s.TotalErrors),
		"uptime_seconds": int64(time.Since(s.StartTime).Seconds()),
	}
}

// ============================================================================
// SERVER
// ============================================================================

// Deps carries the collaborators the server dispatches to.
type Deps struct {
	Chatter        provider.Chatter
	Conversations  *storage.ConversationStore
	Configurations *storage.ConfigurationStore
	Users          *storage.UserStore
	Usage          *storage.UsageStore
	Enforcer       *quota.Enforcer
	Limiter        *quota.LimiterStore
	Rates          *billing.RateCard
	Invoicer       *billing.Invoicer
	Costs          *billing.Tracker
	Tracker        *session.Tracker
}

// Server is the promptlab HTTP API server.
type Server struct {
	cfg   *config.Config
	deps  Deps
	stats *ServerStats

	httpServer *http.Server
}

// New creates a server from configuration and collaborators.
func New(cfg *config.Config, deps Deps) *Server {
	return &Server{
		cfg:   cfg,
		deps:  deps,
		stats: NewServerStats(),
	}
}

// Handler builds the full middleware-wrapped handler. Exposed so tests can
// drive the server through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)

	mux.HandleFunc("POST /api/users", s.handleCreateUser)
	mux.HandleFunc("GET /api/users/{id}", s.handleGetUser)
	mux.HandleFunc("GET /api/users/{id}/usage", s.handleUserUsage)
	mux.HandleFunc("GET /api/users/{id}/invoice", s.handleUserInvoice)

	mux.HandleFunc("POST /api/configurations", s.handleCreateConfiguration)
	mux.HandleFunc("GET /api/configurations", s.handleListConfigurations)
	mux.HandleFunc("GET /api/configurations/{id}", s.handleGetConfiguration)
	mux.HandleFunc("DELETE /api/configurations/{id}", s.handleDeleteConfiguration)

	mux.HandleFunc("POST /api/conversations", s.handleCreateConversation)
	mux.HandleFunc("GET /api/conversations", s.handleListConversations)
	mux.HandleFunc("GET /api/conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("DELETE /api/conversations/{id}", s.handleDeleteConversation)
	mux.HandleFunc("POST /api/conversations/{id}/end", s.handleEndConversation)
	mux.HandleFunc("POST /api/conversations/{id}/messages", s.handleSendMessage)
	mux.HandleFunc("GET /api/conversations/{id}/export", s.handleExportConversation)

	chain := Chain(
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		CORSMiddleware(s.cfg.Server.AllowedOrigins),
		LoggingMiddleware(log.Default()),
		RateLimitMiddleware(s.deps.Limiter),
		AuthMiddleware(&AuthConfig{
			Users:         s.deps.Users,
			OperatorToken: s.cfg.Server.BearerToken,
			Exempt: []string{
				"GET /health",
				"POST /api/users",
			},
		}),
	)
	return chain(mux)
}

// Start runs the server until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	// Localhost bind; fronting proxies handle external exposure.
	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("SERVER_START | addr=%s", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Printf("SERVER_STOP | addr=%s", addr)
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// ============================================================================
// JSON HELPERS
// ============================================================================

// errorBody is the wire shape of all error responses.
type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("WRITE_JSON_FAILED | error=%v", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, errType, message string) {
	var body errorBody
	body.Error.Message = message
	body.Error.Type = errType
	body.Error.Code = status
	writeJSON(w, status, body)
}

// decodeBody decodes a JSON request body with the size cap applied.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeDomainError maps domain and upstream errors to HTTP responses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found_error", "resource not found")
	case errors.Is(err, storage.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, "invalid_request_error", "email already registered")
	case errors.Is(err, model.ErrInvalidConfiguration),
		errors.Is(err, model.ErrInvalidUser),
		errors.Is(err, model.ErrInvalidRole):
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
	case errors.Is(err, model.ErrConversationEnded),
		errors.Is(err, model.ErrAlreadyEnded):
		writeError(w, http.StatusConflict, "invalid_request_error", err.Error())
	case errors.Is(err, quota.ErrQuotaExceeded):
		writeError(w, http.StatusTooManyRequests, "quota_error", err.Error())
	case errors.Is(err, provider.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "provider_error", "upstream provider is not configured")
	case errors.Is(err, provider.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "provider_error", "upstream provider rate limited")
	case errors.Is(err, provider.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, "provider_error", "upstream provider account is out of credits")
	case errors.Is(err, provider.ErrModelNotFound):
		writeError(w, http.StatusBadRequest, "invalid_request_error", "requested model does not exist upstream")
	case errors.Is(err, provider.ErrAuthFailed):
		writeError(w, http.StatusBadGateway, "provider_error", "upstream provider rejected credentials")
	case errors.Is(err, export.ErrUnknownFormat):
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
	default:
		var apiErr *provider.APIError
		if errors.As(err, &apiErr) {
			writeError(w, http.StatusBadGateway, "provider_error", apiErr.Message)
			return
		}
		log.Printf("INTERNAL_ERROR | error=%v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// ============================================================================
// HEALTH AND STATS
// ============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.cfg.Version,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := s.stats.Snapshot()
	if s.deps.Tracker != nil {
		snap["active_conversations"] = s.deps.Tracker.ActiveCount()
	}
	if s.deps.Limiter != nil {
		snap["rate_limited_clients"] = s.deps.Limiter.Len()
	}
	if s.deps.Costs != nil {
		snap["tracked_users"] = len(s.deps.Costs.Snapshot())
		snap["cost_cents_since_start"] = s.deps.Costs.TotalCostCents()
	}
	writeJSON(w, http.StatusOK, snap)
}

// ============================================================================
// USERS
// ============================================================================

// userView is the public projection of a user record. The password hash
// never leaves the store; the API key is echoed once at creation.
type userView struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	Name              string     `json:"name"`
	Plan              model.Plan `json:"plan"`
	CreatedAt         time.Time  `json:"created_at"`
	MonthlyTokenQuota int64      `json:"monthly_token_quota,omitempty"`
	APIKey            string     `json:"api_key,omitempty"`
}

func viewOf(u *model.User, includeKey bool) userView {
	v := userView{
		ID:                u.ID,
		Email:             u.Email,
		Name:              u.Name,
		Plan:              u.Plan,
		CreatedAt:         u.CreatedAt,
		MonthlyTokenQuota: u.MonthlyTokenQuota,
	}
	if includeKey {
		v.APIKey = u.APIKey
	}
	return v
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()

	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Plan     string `json:"plan"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	u, err := model.NewUser(req.Email, req.Name, model.Plan(req.Plan))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if req.Password != "" {
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			if errors.Is(err, auth.ErrPasswordTooShort) {
				writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
				return
			}
			writeDomainError(w, err)
			return
		}
		u.PasswordHash = hash
	}

	key, err := auth.GenerateAPIKey()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	u.APIKey = key

	if err := s.deps.Users.Create(u); err != nil {
		writeDomainError(w, err)
		return
	}

	log.Printf("USER_CREATED | id=%s plan=%s key=%s", u.ID, u.Plan, auth.KeyFingerprint(key))
	// The only response that ever carries the API key.
	writeJSON(w, http.StatusCreated, viewOf(u, true))
}

// resolveUser loads the user a user-scoped endpoint refers to. API-key
// callers may only reach their own records; operator requests may reach any.
func (s *Server) resolveUser(w http.ResponseWriter, r *http.Request, id string) (*model.User, bool) {
	if caller := userFrom(r); caller != nil {
		if caller.ID != id {
			writeError(w, http.StatusForbidden, "authentication_error", "API key does not match requested user")
			return nil, false
		}
		return caller, true
	}
	u, err := s.deps.Users.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	return u, true
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()
	u, ok := s.resolveUser(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(u, false))
}

func (s *Server) handleUserUsage(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()
	u, ok := s.resolveUser(w, r, r.PathValue("id"))
	if !ok {
		return
	}

	// Default period is the current UTC calendar month.
	from, to := quota.PeriodBounds(time.Now())
	if p := r.URL.Query().Get("period"); p != "" {
		var err error
		from, to, err = billing.ParsePeriod(p)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
			return
		}
	}

	summary, err := s.deps.Usage.Summarize(r.Context(), u.ID, from, to)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := map[string]any{
		"summary":      summary,
		"cost_dollars": summary.CostCents / 100.0,
	}
	if s.deps.Enforcer != nil {
		remaining, err := s.deps.Enforcer.Remaining(r.Context(), u)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		resp["remaining_tokens"] = remaining
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUserInvoice(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()
	u, ok := s.resolveUser(w, r, r.PathValue("id"))
	if !ok {
		return
	}

	period := r.URL.Query().Get("period")
	if period == "" {
		period = time.Now().UTC().Format("2006-01")
	}

	invoice, err := s.deps.Invoicer.GenerateForPeriod(r.Context(), u.ID, period)
	if err != nil {
		if strings.Contains(err.Error(), "period must be") {
			writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
			return
		}
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"invoice":       invoice,
		"total_dollars": invoice.TotalDollars(),
	})
}

// ============================================================================
// CONFIGURATIONS
// ============================================================================

func (s *Server) handleCreateConfiguration(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()

	var req struct {
		Name         string  `json:"name"`
		Provider     string  `json:"provider"`
		Model        string  `json:"model"`
		Temperature  float64 `json:"temperature"`
		TopP         float64 `json:"top_p"`
		MaxTokens    int     `json:"max_tokens"`
		SystemPrompt string  `json:"system_prompt"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Provider == "" {
		req.Provider = "openrouter"
	}
	if req.Model == "" {
		req.Model = s.cfg.Provider.DefaultModel
	}

	cfg, err := model.NewModelConfiguration(req.Name, req.Provider, req.Model, req.Temperature, req.TopP, req.MaxTokens)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	cfg.SystemPrompt = req.SystemPrompt

	if err := s.deps.Configurations.Save(cfg); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (s *Server) handleListConfigurations(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()
	writeJSON(w, http.StatusOK, map[string]any{
		"configurations": s.deps.Configurations.List(),
	})
}

func (s *Server) handleGetConfiguration(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()
	cfg, err := s.deps.Configurations.Get(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleDeleteConfiguration(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()
	if err := s.deps.Configurations.Delete(r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// CONVERSATIONS
// ============================================================================

// callerUserID resolves the user a conversation request acts for: the
// authenticated user, or an explicit user_id on operator requests.
func (s *Server) callerUserID(w http.ResponseWriter, r *http.Request, explicit string) (string, bool) {
	if u := userFrom(r); u != nil {
		return u.ID, true
	}
	if explicit == "" {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required for operator requests")
		return "", false
	}
	if _, err := s.deps.Users.Get(explicit); err != nil {
		writeDomainError(w, err)
		return "", false
	}
	return explicit, true
}

// loadOwned loads a conversation and checks the caller may act on it.
// Foreign conversations read as 404 so IDs don't leak across accounts.
func (s *Server) loadOwned(w http.ResponseWriter, r *http.Request, id string) (*model.Conversation, bool) {
	conv, err := s.deps.Conversations.Load(id)
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	if u := userFrom(r); u != nil && conv.UserID != u.ID {
		writeError(w, http.StatusNotFound, "not_found_error", "resource not found")
		return nil, false
	}
	return conv, true
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()

	var req struct {
		ConfigID string `json:"config_id"`
		UserID   string `json:"user_id"`
		Title    string `json:"title"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	userID, ok := s.callerUserID(w, r, req.UserID)
	if !ok {
		return
	}
	if req.ConfigID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "config_id is required")
		return
	}
	if _, err := s.deps.Configurations.Get(req.ConfigID); err != nil {
		writeDomainError(w, err)
		return
	}

	conv := model.NewConversation(userID, req.ConfigID)
	conv.Title = req.Title
	if err := s.deps.Conversations.Save(conv); err != nil {
		writeDomainError(w, err)
		return
	}
	if s.deps.Tracker != nil {
		s.deps.Tracker.Touch(conv.ID)
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()

	userID := ""
	if u := userFrom(r); u != nil {
		userID = u.ID
	} else {
		userID = r.URL.Query().Get("user_id")
	}

	var (
		metas []storage.ConversationMeta
		err   error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		metas, err = s.deps.Conversations.Search(userID, q)
	} else {
		metas, err = s.deps.Conversations.List(userID)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": metas})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()
	conv, ok := s.loadOwned(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()
	conv, ok := s.loadOwned(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	if err := s.deps.Conversations.Delete(conv.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	if s.deps.Tracker != nil {
		s.deps.Tracker.Forget(conv.ID)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEndConversation(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()
	conv, ok := s.loadOwned(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	if err := conv.End(); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.deps.Conversations.Save(conv); err != nil {
		writeDomainError(w, err)
		return
	}
	if s.deps.Tracker != nil {
		s.deps.Tracker.Forget(conv.ID)
	}
	writeJSON(w, http.StatusOK, conv)
}

// ============================================================================
// MESSAGES
// ============================================================================

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()

	var req struct {
		Content string `json:"content"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "content must not be empty")
		return
	}
	if len(req.Content) > MaxContentLength {
		writeError(w, http.StatusBadRequest, "invalid_request_error",
			fmt.Sprintf("content exceeds maximum length of %d", MaxContentLength))
		return
	}

	conv, ok := s.loadOwned(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	if !conv.Active() {
		writeDomainError(w, model.ErrConversationEnded)
		return
	}

	cfg, err := s.deps.Configurations.Get(conv.ConfigID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	user, err := s.deps.Users.Get(conv.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// Quota gate: project the prompt cost of this call. A call that starts
	// under budget may finish over it; the overage counts against the rest
	// of the month.
	chatReq := buildChatRequest(conv, cfg, req.Content)
	if s.deps.Enforcer != nil {
		if err := s.deps.Enforcer.Check(r.Context(), user, projectedTokens(chatReq)); err != nil {
			writeDomainError(w, err)
			return
		}
	}

	if _, err := conv.AppendUser(req.Content); err != nil {
		writeDomainError(w, err)
		return
	}

	if r.URL.Query().Get("stream") == "true" {
		s.streamCompletion(w, r, conv, cfg, user, chatReq)
		return
	}
	s.bufferedCompletion(w, r, conv, cfg, user, chatReq)
}

// buildChatRequest assembles the upstream request: system prompt, history,
// and the new user turn, with the configuration's sampling parameters.
func buildChatRequest(conv *model.Conversation, cfg *model.ModelConfiguration, content string) *provider.ChatRequest {
	msgs := make([]provider.ChatMessage, 0, len(conv.Messages)+2)
	if cfg.SystemPrompt != "" {
		msgs = append(msgs, provider.ChatMessage{Role: "system", Content: cfg.SystemPrompt})
	}
	for _, m := range conv.Messages {
		msgs = append(msgs, provider.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	msgs = append(msgs, provider.ChatMessage{Role: "user", Content: content})

	return &provider.ChatRequest{
		Model:       cfg.Model,
		Messages:    msgs,
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
		MaxTokens:   cfg.MaxTokens,
	}
}

// projectedTokens estimates the prompt cost of a request for the quota gate.
func projectedTokens(req *provider.ChatRequest) int64 {
	chars := 0
	for _, m := range req.Messages {
		chars += len(m.Content)
	}
	return int64(chars/4 + 1)
}

// recordOutcome persists the assistant turn, the conversation, the usage
// record, and the quota counter after a successful model call.
func (s *Server) recordOutcome(ctx context.Context, conv *model.Conversation, cfg *model.ModelConfiguration, user *model.User, content, modelName string, usage provider.Usage, latency time.Duration) (*model.Message, float64) {
	msg := model.NewAssistantMessage(content)
	msg.PromptTokens = usage.PromptTokens
	msg.CompletionTokens = usage.CompletionTokens
	msg.LatencyMs = latency.Milliseconds()
	if err := conv.Append(msg); err != nil {
		// The conversation was active when the call started; log and keep
		// the usage record anyway so the call is still billed.
		log.Printf("APPEND_FAILED | conversation=%s error=%v", conv.ID, err)
	}
	if err := s.deps.Conversations.Save(conv); err != nil {
		log.Printf("CONVERSATION_SAVE_FAILED | conversation=%s error=%v", conv.ID, err)
	}
	if s.deps.Tracker != nil {
		s.deps.Tracker.Touch(conv.ID)
	}

	cost := s.deps.Rates.Cost(modelName, usage.PromptTokens, usage.CompletionTokens)
	if s.deps.Costs != nil {
		s.deps.Costs.Add(user.ID, usage.PromptTokens, usage.CompletionTokens, cost)
	}
	rec := model.NewUsageRecord(user.ID, conv.ID, cfg.Provider, modelName,
		usage.PromptTokens, usage.CompletionTokens, cost, latency.Milliseconds())
	if err := s.deps.Usage.Append(ctx, rec); err != nil {
		log.Printf("USAGE_APPEND_FAILED | user=%s error=%v", user.ID, err)
	}
	if s.deps.Enforcer != nil {
		if err := s.deps.Enforcer.Record(ctx, user.ID, int64(usage.TotalTokens)); err != nil {
			log.Printf("QUOTA_RECORD_FAILED | user=%s error=%v", user.ID, err)
		}
	}

	s.stats.RecordMessage(usage.TotalTokens)
	return msg, cost
}

// bufferedCompletion performs a non-streaming model call.
func (s *Server) bufferedCompletion(w http.ResponseWriter, r *http.Request, conv *model.Conversation, cfg *model.ModelConfiguration, user *model.User, chatReq *provider.ChatRequest) {
	start := time.Now()
	resp, err := s.deps.Chatter.Chat(r.Context(), chatReq)
	if err != nil {
		s.stats.RecordError()
		// Keep the user turn; the client can retry without resending.
		if saveErr := s.deps.Conversations.Save(conv); saveErr != nil {
			log.Printf("CONVERSATION_SAVE_FAILED | conversation=%s error=%v", conv.ID, saveErr)
		}
		writeDomainError(w, err)
		return
	}
	latency := time.Since(start)

	modelName := resp.Model
	if modelName == "" {
		modelName = cfg.Model
	}
	msg, cost := s.recordOutcome(r.Context(), conv, cfg, user, resp.Content(), modelName, resp.Usage, latency)

	writeJSON(w, http.StatusOK, map[string]any{
		"message":       msg,
		"conversation":  conv.ID,
		"model":         modelName,
		"finish_reason": resp.FinishReason(),
		"usage":         resp.Usage,
		"cost_dollars":  cost / 100.0,
		"latency_ms":    latency.Milliseconds(),
	})
}

// ============================================================================
// SSE STREAMING
// ============================================================================

// sendSSE writes one named event with a JSON payload and flushes.
func sendSSE(w http.ResponseWriter, flusher http.Flusher, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

// streamCompletion performs a streaming model call, relaying chunks as SSE
// events: response_chunk per delta, then response_complete or
// response_error.
func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, conv *model.Conversation, cfg *model.ModelConfiguration, user *model.User, chatReq *provider.ChatRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported by connection")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	start := time.Now()
	result, err := s.deps.Chatter.ChatStream(r.Context(), chatReq, func(chunk provider.StreamChunk) {
		if content := chunk.Content(); content != "" {
			sendSSE(w, flusher, "response_chunk", map[string]any{"content": content})
		}
	})
	latency := time.Since(start)

	if err != nil {
		s.stats.RecordError()

		// Mid-stream failures still carry partial content worth keeping,
		// and partial completions are still billed.
		var streamErr *provider.StreamError
		if errors.As(err, &streamErr) && streamErr.Partial != "" {
			usage := provider.Usage{}
			usage.CompletionTokens = len(streamErr.Partial)/4 + 1
			usage.PromptTokens = int(projectedTokens(chatReq))
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
			s.recordOutcome(r.Context(), conv, cfg, user, streamErr.Partial, cfg.Model, usage, latency)
		} else if saveErr := s.deps.Conversations.Save(conv); saveErr != nil {
			log.Printf("CONVERSATION_SAVE_FAILED | conversation=%s error=%v", conv.ID, saveErr)
		}

		sendSSE(w, flusher, "response_error", map[string]any{"error": err.Error()})
		return
	}

	modelName := result.Model
	if modelName == "" {
		modelName = cfg.Model
	}
	msg, cost := s.recordOutcome(r.Context(), conv, cfg, user, result.Content, modelName, result.Usage, latency)

	sendSSE(w, flusher, "response_complete", map[string]any{
		"message":       msg,
		"conversation":  conv.ID,
		"model":         modelName,
		"finish_reason": result.FinishReason,
		"usage":         result.Usage,
		"cost_dollars":  cost / 100.0,
		"latency_ms":    latency.Milliseconds(),
	})
}

// ============================================================================
// EXPORT
// ============================================================================

func (s *Server) handleExportConversation(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()

	conv, ok := s.loadOwned(w, r, r.PathValue("id"))
	if !ok {
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "markdown"
	}
	exporter, err := export.ForFormat(format)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// The configuration may have been deleted since; exporters fall back
	// to defaults when it is nil.
	cfg, _ := s.deps.Configurations.Get(conv.ConfigID)

	out, err := exporter.Export(conv, cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	w.Header().Set("Content-Type", exporter.MimeType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", conv.ID+exporter.FileExtension()))
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}
