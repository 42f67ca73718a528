// Package api provides the HTTP surface over the orchestration core.
// Authentication lives upstream; the owning user id arrives in the
// X-User-ID header set by the auth layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"planit/internal/orchestrator"
	"planit/internal/session"
	"planit/internal/storage"
)

// TurnRunner runs one conversation turn. Satisfied by
// *orchestrator.Orchestrator.
type TurnRunner interface {
	RunTurn(ctx context.Context, sessionID, userInput string) (*orchestrator.TurnResult, error)
}

// Handler serves the session and chat endpoints.
type Handler struct {
	runner TurnRunner
	store  storage.Store
	log    *slog.Logger
}

// NewHandler creates a Handler with its dependencies.
func NewHandler(runner TurnRunner, store storage.Store, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{runner: runner, store: store, log: log}
}

// Routes mounts all endpoints on a fresh router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", h.health)
	r.Post("/session", h.createSession)
	r.Get("/sessions", h.listSessions)
	r.Post("/chat", h.chat)
	r.Route("/session/{sessionID}", func(r chi.Router) {
		r.Get("/", h.getSession)
		r.Get("/history", h.getHistory)
		r.Get("/versions", h.getVersions)
		r.Get("/summary", h.getSummary)
	})
	return r
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	s := session.New(session.NewID(), userID)
	if err := h.store.Create(r.Context(), s); err != nil {
		h.log.Error("create session failed", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"session_id": s.ID})
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	summaries, err := h.store.ListByUser(r.Context(), userID)
	if err != nil {
		h.log.Error("list sessions failed", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if summaries == nil {
		summaries = []storage.Summary{}
	}
	JSON(w, http.StatusOK, summaries)
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		Error(w, http.StatusBadRequest, "message is empty")
		return
	}
	if _, ok := h.ownedSession(w, r, req.SessionID, userID); !ok {
		return
	}

	result, err := h.runner.RunTurn(r.Context(), req.SessionID, req.Message)
	if err != nil {
		h.log.Error("turn failed", "session", req.SessionID, "error", err)
		Error(w, http.StatusInternalServerError, "turn failed; session state is unchanged")
		return
	}
	JSON(w, http.StatusOK, result)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.authorizedSession(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"session_id":            s.ID,
		"turn_count":            s.TurnCount,
		"current_plan":          s.CurrentPlan,
		"awaiting_confirmation": s.AwaitingConfirmation,
		"plan_versions":         len(s.PlanVersions),
		"has_summary":           s.ConversationSummary != "",
		"created_at":            s.CreatedAt,
	})
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	s, ok := h.authorizedSession(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, s.Messages)
}

func (h *Handler) getVersions(w http.ResponseWriter, r *http.Request) {
	s, ok := h.authorizedSession(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, s.PlanVersions)
}

func (h *Handler) getSummary(w http.ResponseWriter, r *http.Request) {
	s, ok := h.authorizedSession(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"session_id":           s.ID,
		"turn_count":           s.TurnCount,
		"conversation_summary": s.ConversationSummary,
		"has_plan":             s.CurrentPlan != nil,
		"plan_version":         len(s.PlanVersions),
	})
}

func (h *Handler) authorizedSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	userID, ok := requireUser(w, r)
	if !ok {
		return nil, false
	}
	return h.ownedSession(w, r, chi.URLParam(r, "sessionID"), userID)
}

func (h *Handler) ownedSession(w http.ResponseWriter, r *http.Request, sessionID, userID string) (*session.Session, bool) {
	s, err := h.store.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			Error(w, http.StatusNotFound, "session not found")
			return nil, false
		}
		h.log.Error("load session failed", "session", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return nil, false
	}
	if s.UserID != userID {
		Error(w, http.StatusForbidden, "access denied")
		return nil, false
	}
	return s, true
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if userID == "" {
		Error(w, http.StatusUnauthorized, "missing X-User-ID header")
		return "", false
	}
	return userID, true
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
