package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/dona/internal/analysis"
	"github.com/antoniostano/dona/internal/cache"
	"github.com/antoniostano/dona/internal/config"
	"github.com/antoniostano/dona/internal/observability"
	"github.com/antoniostano/dona/internal/store"
)

// Server is the thin HTTP boundary collaborators call into. It defines no
// protocol beyond JSON over these routes; the memory semantics live in the
// engine, store and cache.
type Server struct {
	cfg      config.Config
	store    store.Store
	sessions *cache.Sessions
	engine   *analysis.Engine
	metrics  *observability.Metrics
}

func New(cfg config.Config, st store.Store, sessions *cache.Sessions, engine *analysis.Engine, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		sessions: sessions,
		engine:   engine,
		metrics:  metrics,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, req)
	})

	r.Post("/v1/messages", s.handleInboundMessage)
	r.Get("/v1/conversation/messages", s.handleRecentMessages)
	r.Get("/v1/conversation/context", s.handleContext)
	r.Get("/v1/conversation/export", s.handleExport)
	r.Get("/v1/users/{id}/preferences", s.handleGetPreferences)
	r.Put("/v1/users/{id}/preferences", s.handlePutPreferences)
	r.Get("/v1/memory/stats", s.handleMemoryStats)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"cache_available": s.sessions.Available(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.StoreTimeout)
	defer cancel()
	if _, err := s.store.Stats(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "storage_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleInboundMessage(w http.ResponseWriter, r *http.Request) {
	var in analysis.Inbound
	if err := decodeJSON(r, &in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(in.UserID) == "" || strings.TrimSpace(in.ChannelID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "user_id and channel_id are required")
		return
	}

	result, err := s.engine.AnalyzeMessage(r.Context(), in)
	if err != nil {
		if errors.Is(err, store.ErrStorageUnavailable) {
			respondError(w, http.StatusServiceUnavailable, "storage_unavailable", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "analyze_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleRecentMessages(w http.ResponseWriter, r *http.Request) {
	key, ok := conversationKeyFromQuery(w, r)
	if !ok {
		return
	}
	limit := s.cfg.HistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.StoreTimeout)
	defer cancel()
	msgs, err := s.store.RecentMessages(ctx, key, limit)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "storage_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"conversation_key": key,
		"messages":         msgs,
	})
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	key, ok := conversationKeyFromQuery(w, r)
	if !ok {
		return
	}
	window, err := s.engine.ContextFor(r.Context(), key)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "storage_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, window)
}

// handleExport streams the full conversation as JSON lines via the lazy
// store cursor, so large histories never load into memory at once.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	key, ok := conversationKeyFromQuery(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(w)
	cursor := s.store.Export(key, 200)
	for cursor.Next(r.Context()) {
		if err := enc.Encode(cursor.Message()); err != nil {
			return
		}
	}
	// Past the first write the status line is already sent; the truncated
	// stream plus connection state is all we can signal.
	_ = cursor.Err()
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_user_id", "missing user id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.StoreTimeout)
	defer cancel()
	user, err := s.store.GetOrCreateUser(ctx, id)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "storage_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_user_id", "missing user id")
		return
	}
	var prefs store.Preferences
	if err := decodeJSON(r, &prefs); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if prefs.Tone != "" {
		if _, ok := analysis.ParseTone(prefs.Tone); !ok {
			respondError(w, http.StatusBadRequest, "invalid_tone", "tone must be one of neutral, empathetic, concise, playful")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.StoreTimeout)
	defer cancel()
	user, err := s.store.UpdateUserPreferences(ctx, id, prefs)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "storage_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func (s *Server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.StoreTimeout)
	defer cancel()

	resp := map[string]any{
		"realtime": s.sessions.RealtimeStats(),
	}
	st, err := s.store.Stats(ctx)
	if err != nil {
		resp["store_error"] = err.Error()
	} else {
		resp["store"] = st
	}
	respondJSON(w, http.StatusOK, resp)
}

func conversationKeyFromQuery(w http.ResponseWriter, r *http.Request) (store.ConversationKey, bool) {
	channel := strings.TrimSpace(r.URL.Query().Get("channel"))
	if channel == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "query parameter channel is required")
		return "", false
	}
	return store.NewConversationKey(channel, r.URL.Query().Get("thread")), true
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
