// Package api serves the live read model to dashboard views over HTTP.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/expertdesk/livesync/internal/domain"
	"github.com/expertdesk/livesync/internal/livestate"
	"github.com/expertdesk/livesync/internal/push"
)

// Store is the part of the live store the views use.
type Store interface {
	LiveQuestions() []domain.LiveQuestion
	ActiveQuestions() []domain.LiveQuestion
	RecentAnswers(n int) []domain.RecentAnswer
	Notifications() int
	Credits() float64
	Snapshot() domain.Snapshot
	ResetNotifications()
	Subscribe(l livestate.Listener) (unsubscribe func())
}

// Connection is the part of the push manager the views use.
type Connection interface {
	Info() push.Info
	Connect(rawURL string)
}

// Options configures a Handler.
type Options struct {
	// PushURL is the endpoint a manual reconnect dials. Empty disables it.
	PushURL string
	// Keepalive is the SSE ping interval.
	Keepalive time.Duration
	// RetryDelay is the reconnect hint sent to SSE clients.
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// Handler serves the live read model.
type Handler struct {
	store      Store
	conn       Connection
	pushURL    string
	keepalive  time.Duration
	retryDelay time.Duration
	logger     *slog.Logger

	streamsMu sync.Mutex
	streams   map[int64]*stream
	nextID    int64
	connSeq   uint64
}

// NewHandler creates a new Handler.
func NewHandler(store Store, conn Connection, opts Options) *Handler {
	h := &Handler{
		store:      store,
		conn:       conn,
		pushURL:    opts.PushURL,
		keepalive:  opts.Keepalive,
		retryDelay: opts.RetryDelay,
		logger:     opts.Logger,
		streams:    make(map[int64]*stream),
	}
	if h.keepalive <= 0 {
		h.keepalive = 10 * time.Second
	}
	if h.retryDelay <= 0 {
		h.retryDelay = 5 * time.Second
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
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
