package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/expertdesk/livesync/internal/domain"
	"github.com/expertdesk/livesync/internal/identity"
	"github.com/expertdesk/livesync/internal/pipeline"
	"github.com/expertdesk/livesync/internal/store"
)

// maxBodyBytes bounds producer request bodies.
const maxBodyBytes = 64 << 10

// Sessions drops a user's open push connections.
type Sessions interface {
	CloseUser(userID string) int
}

// ProducerHandler serves the dev backend's REST surface. Every route
// expects identity.Middleware to have resolved the user.
type ProducerHandler struct {
	runner   *pipeline.Runner
	repo     store.Repository
	sessions Sessions
}

// NewProducerHandler creates a producer handler.
func NewProducerHandler(runner *pipeline.Runner, repo store.Repository, sessions Sessions) *ProducerHandler {
	return &ProducerHandler{runner: runner, repo: repo, sessions: sessions}
}

// RegisterRoutes registers the producer routes.
func (h *ProducerHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/{role}", func(r chi.Router) {
		r.Use(requireRole)
		r.Get("/snapshot", h.GetSnapshot)
		r.Post("/questions", h.SubmitQuestion)
		r.Post("/credits", h.AddCredits)
		r.Post("/notify", h.Notify)
		r.Post("/notifications/read", h.MarkNotificationsRead)
		r.Delete("/sessions", h.DropSessions)
	})
}

func requireRole(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := domain.ParseRole(chi.URLParam(r, "role")); !ok {
			Error(w, http.StatusNotFound, "unknown role")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// GetSnapshot returns the seeding snapshot for the caller.
func (h *ProducerHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	snap, err := h.runner.Snapshot(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to build snapshot", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to load snapshot")
		return
	}
	JSON(w, http.StatusOK, snap)
}

type submitRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// SubmitQuestion starts a question through the pipeline.
func (h *ProducerHandler) SubmitQuestion(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decodeBody(w, r, &req) {
		return
	}

	userID := identity.UserIDFromContext(r.Context())
	q, err := h.runner.Submit(r.Context(), userID, req.Subject, req.Body)
	if errors.Is(err, pipeline.ErrInvalidQuestion) {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		slog.Error("Failed to submit question", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to submit question")
		return
	}
	JSON(w, http.StatusCreated, q.Live())
}

type creditsRequest struct {
	Amount float64 `json:"amount"`
}

// AddCredits tops up the caller's balance.
func (h *ProducerHandler) AddCredits(w http.ResponseWriter, r *http.Request) {
	var req creditsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Amount <= 0 {
		Error(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	userID := identity.UserIDFromContext(r.Context())
	total, err := h.runner.AddCredits(r.Context(), userID, req.Amount)
	if err != nil {
		slog.Error("Failed to add credits", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to add credits")
		return
	}
	JSON(w, http.StatusOK, map[string]float64{"credits": total})
}

type notifyRequest struct {
	Message string `json:"message"`
	Source  string `json:"source"`
}

// Notify sends the caller a notification.
func (h *ProducerHandler) Notify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Message == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}

	userID := identity.UserIDFromContext(r.Context())
	if err := h.runner.Notify(r.Context(), userID, req.Message, req.Source); err != nil {
		slog.Error("Failed to notify", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to send notification")
		return
	}
	JSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// MarkNotificationsRead clears the caller's persisted unread count.
func (h *ProducerHandler) MarkNotificationsRead(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if err := h.repo.ResetNotifications(r.Context(), userID); err != nil {
		slog.Error("Failed to reset notifications", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to reset notifications")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DropSessions closes every push connection of the caller so dashboards
// go through their reconnect path.
func (h *ProducerHandler) DropSessions(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	n := h.sessions.CloseUser(userID)
	slog.Info("Dropped push sessions", "user_id", userID, "closed", n)
	JSON(w, http.StatusOK, map[string]int{"closed": n})
}
