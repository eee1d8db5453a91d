package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/expertdesk/livesync/internal/domain"
	"github.com/expertdesk/livesync/internal/push"
)

// maxAnswersLimit caps the limit query parameter.
const maxAnswersLimit = 500

// RegisterRoutes registers the live view routes. reconnect wraps the manual
// reconnect route, typically with a rate limiter; nil leaves it bare.
func (h *Handler) RegisterRoutes(r chi.Router, reconnect func(http.Handler) http.Handler) {
	r.Route("/api/live", func(r chi.Router) {
		r.Get("/questions", h.GetQuestions)
		r.Get("/answers", h.GetAnswers)
		r.Get("/counters", h.GetCounters)
		r.Post("/notifications/read", h.MarkNotificationsRead)
		r.Get("/stream", h.HandleStream)
		r.Get("/connection", h.GetConnection)
		if reconnect != nil {
			r.With(reconnect).Post("/reconnect", h.Reconnect)
		} else {
			r.Post("/reconnect", h.Reconnect)
		}
	})
}

// Counters is the notification and credit summary.
type Counters struct {
	Notifications int     `json:"notifications"`
	Credits       float64 `json:"credits"`
}

// GetQuestions returns live questions in first-seen order. With ?active=1
// delivered questions are left out.
func (h *Handler) GetQuestions(w http.ResponseWriter, r *http.Request) {
	var questions []domain.LiveQuestion
	if active, _ := strconv.ParseBool(r.URL.Query().Get("active")); active {
		questions = h.store.ActiveQuestions()
	} else {
		questions = h.store.LiveQuestions()
	}
	JSON(w, http.StatusOK, map[string]interface{}{"questions": questions})
}

// GetAnswers returns recent answers, most recent first.
func (h *Handler) GetAnswers(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			Error(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = min(n, maxAnswersLimit)
	}
	JSON(w, http.StatusOK, map[string]interface{}{"recent_answers": h.store.RecentAnswers(limit)})
}

// GetCounters returns the unread notification count and credit balance.
func (h *Handler) GetCounters(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, Counters{
		Notifications: h.store.Notifications(),
		Credits:       h.store.Credits(),
	})
}

// MarkNotificationsRead clears the unread counter.
func (h *Handler) MarkNotificationsRead(w http.ResponseWriter, r *http.Request) {
	h.store.ResetNotifications()
	h.logger.Info("Notifications marked read")
	JSON(w, http.StatusOK, Counters{
		Notifications: h.store.Notifications(),
		Credits:       h.store.Credits(),
	})
}

// GetConnection returns the push channel state.
func (h *Handler) GetConnection(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.conn.Info())
}

// Reconnect restarts the push channel with a fresh reconnect budget. It is
// the manual affordance offered once automatic reconnection is exhausted.
func (h *Handler) Reconnect(w http.ResponseWriter, r *http.Request) {
	if h.pushURL == "" {
		Error(w, http.StatusConflict, "no authenticated session")
		return
	}

	switch h.conn.Info().State {
	case push.StateOpen, push.StateConnecting:
		JSON(w, http.StatusOK, h.conn.Info())
		return
	}

	h.logger.Info("Manual push channel reconnect requested")
	h.conn.Connect(h.pushURL)
	JSON(w, http.StatusAccepted, h.conn.Info())
}
