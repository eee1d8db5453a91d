package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/expertdesk/livesync/internal/effects"
	"github.com/expertdesk/livesync/internal/push"
)

// effectBuffer bounds the toasts and cues queued for a slow stream. Side
// effects are transient, so overflow is dropped.
const effectBuffer = 16

// stream is one connected SSE view.
type stream struct {
	id      int64
	changed chan struct{}  // store changed; capacity 1 so bursts coalesce
	conn    chan push.Info // latest connection info; capacity 1
	effects chan streamEvent
}

type streamEvent struct {
	name string
	data interface{}
}

// Toast implements effects.Toaster by forwarding to every open stream.
func (h *Handler) Toast(t effects.Toast) {
	h.broadcastEffect(streamEvent{name: "toast", data: t})
}

// Play implements effects.CuePlayer by forwarding to every open stream.
func (h *Handler) Play(c effects.Cue) {
	h.broadcastEffect(streamEvent{name: "cue", data: map[string]effects.Cue{"cue": c}})
}

func (h *Handler) broadcastEffect(ev streamEvent) {
	h.streamsMu.Lock()
	defer h.streamsMu.Unlock()
	for _, s := range h.streams {
		select {
		case s.effects <- ev:
		default:
			h.logger.Debug("Dropping side effect for slow stream", "event", ev.name, "stream_id", s.id)
		}
	}
}

// ConnectionChanged forwards the push channel state to every open stream.
// Only the latest state is kept for a stream that has not caught up, and an
// info older than one already forwarded is dropped.
func (h *Handler) ConnectionChanged(info push.Info) {
	h.streamsMu.Lock()
	defer h.streamsMu.Unlock()
	if info.Seq < h.connSeq {
		return
	}
	h.connSeq = info.Seq
	for _, s := range h.streams {
		select {
		case <-s.conn:
		default:
		}
		select {
		case s.conn <- info:
		default:
		}
	}
}

// StreamCount returns the number of connected SSE views.
func (h *Handler) StreamCount() int {
	h.streamsMu.Lock()
	defer h.streamsMu.Unlock()
	return len(h.streams)
}

// HandleStream streams the read model as server-sent events: a "state"
// event with the full snapshot on connect and after every store change,
// a "connection" event on push channel transitions, "toast" and "cue"
// events for side effects, and a periodic "ping".
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", h.retryDelay.Milliseconds())); err != nil {
		h.logger.Warn("failed to write SSE retry header", "error", err)
		return
	}
	flusher.Flush()

	s := &stream{
		changed: make(chan struct{}, 1),
		conn:    make(chan push.Info, 1),
		effects: make(chan streamEvent, effectBuffer),
	}

	h.streamsMu.Lock()
	h.nextID++
	s.id = h.nextID
	h.streams[s.id] = s
	h.streamsMu.Unlock()

	unsubscribe := h.store.Subscribe(func() {
		select {
		case s.changed <- struct{}{}:
		default:
		}
	})

	defer func() {
		unsubscribe()
		h.streamsMu.Lock()
		delete(h.streams, s.id)
		h.streamsMu.Unlock()
		h.logger.Info("SSE connection closed", "stream_id", s.id)
	}()

	h.logger.Info("SSE connection established", "stream_id", s.id)

	var eventID int64
	sendState := func() bool {
		eventID++
		if err := writeJSONEvent(w, eventID, "state", h.store.Snapshot()); err != nil {
			h.logger.Warn("failed to write SSE state event", "error", err, "stream_id", s.id)
			return false
		}
		flusher.Flush()
		return true
	}

	if !sendState() {
		return
	}
	eventID++
	if err := writeJSONEvent(w, eventID, "connection", h.conn.Info()); err != nil {
		h.logger.Warn("failed to write SSE connection event", "error", err, "stream_id", s.id)
		return
	}
	flusher.Flush()

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.changed:
			if !sendState() {
				return
			}
		case info := <-s.conn:
			eventID++
			if err := writeJSONEvent(w, eventID, "connection", info); err != nil {
				h.logger.Warn("failed to write SSE connection event", "error", err, "stream_id", s.id)
				return
			}
			flusher.Flush()
		case ev := <-s.effects:
			eventID++
			if err := writeJSONEvent(w, eventID, ev.name, ev.data); err != nil {
				h.logger.Warn("failed to write SSE event", "error", err, "event", ev.name, "stream_id", s.id)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				h.logger.Warn("failed to write SSE keepalive ping", "error", err, "stream_id", s.id)
				return
			}
			flusher.Flush()
		}
	}
}

func writeJSONEvent(w io.Writer, id int64, event string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	return writeSSEWithID(w, id, event, string(data))
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
