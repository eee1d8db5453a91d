// Package push maintains the single logical push-channel connection of a
// viewer session and reconnects it transparently after drops.
//
// The manager knows nothing about message semantics: every frame received
// while open is handed, as raw text, to the OnMessage callback.
package push

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/expertdesk/livesync/internal/clock"
)

const (
	// DefaultMaxAttempts is the reconnect budget after the last successful open.
	DefaultMaxAttempts = 5
	// DefaultReconnectDelay is the fixed delay before each reconnect.
	DefaultReconnectDelay = 3 * time.Second
	// DefaultDialTimeout bounds a single dial.
	DefaultDialTimeout = 10 * time.Second
)

// Config holds connection policy and collaborators. Zero values select the defaults.
type Config struct {
	MaxAttempts    int
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	Dialer         Dialer
	Clock          clock.Clock
	Logger         *slog.Logger
}

// Info is a point-in-time view of the manager.
type Info struct {
	State    State  `json:"state"`
	Attempts int    `json:"attempts"`
	URL      string `json:"url,omitempty"`
	// Seq increases with every state transition. Observers running
	// outside the manager's lock use it to discard an older view.
	Seq uint64 `json:"seq"`
}

// Manager owns one push-channel connection and its reconnect timer.
//
// Every goroutine and timer it starts is tagged with a generation number.
// Disconnect and Connect bump the generation, so a dial, read loop or timer
// belonging to an older generation can observe but never change state.
type Manager struct {
	maxAttempts int
	delay       time.Duration
	dialTimeout time.Duration
	dialer      Dialer
	clock       clock.Clock
	logger      *slog.Logger

	mu       sync.Mutex
	state    State
	seq      uint64
	url      string
	attempts int
	gen      uint64
	timer    *clock.Timer
	cancel   context.CancelFunc
	conn     Conn

	onMessage   func(string)
	onState     func(State)
	onExhausted func()
}

// NewManager creates an idle manager.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		maxAttempts: cfg.MaxAttempts,
		delay:       cfg.ReconnectDelay,
		dialTimeout: cfg.DialTimeout,
		dialer:      cfg.Dialer,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
	}
	if m.maxAttempts <= 0 {
		m.maxAttempts = DefaultMaxAttempts
	}
	if m.delay <= 0 {
		m.delay = DefaultReconnectDelay
	}
	if m.dialTimeout <= 0 {
		m.dialTimeout = DefaultDialTimeout
	}
	if m.dialer == nil {
		m.dialer = WebSocketDialer{}
	}
	if m.clock == nil {
		m.clock = clock.Real()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// OnMessage sets the inbound frame callback. It is called synchronously
// from the connection's read goroutine, so frames are delivered one at a
// time in wire order. Set it before Connect.
func (m *Manager) OnMessage(f func(payload string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onMessage = f
}

// OnStateChange sets an optional observer for state transitions.
func (m *Manager) OnStateChange(f func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = f
}

// OnExhausted sets an optional callback for the terminal "reconnect
// exhausted" signal.
func (m *Manager) OnExhausted(f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExhausted = f
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the reconnect attempts made since the last open.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Info returns the current state, reconnect attempts and endpoint.
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Info{State: m.state, Attempts: m.attempts, URL: redact(m.url), Seq: m.seq}
}

// Connect starts maintaining a connection to rawURL. An empty URL (no
// authenticated session) or a URL without a push-capable scheme leaves the
// manager untouched. Calling Connect while already connected to the same
// URL is a no-op; from the exhausted or stopped state it starts over with
// a fresh reconnect budget.
func (m *Manager) Connect(rawURL string) {
	if rawURL == "" {
		m.logger.Debug("Push channel not configured, staying idle")
		return
	}
	if !supported(rawURL) {
		m.logger.Warn("Push channel unsupported for endpoint, staying idle", "url", redact(rawURL))
		return
	}

	m.mu.Lock()
	switch m.state {
	case StateConnecting, StateOpen, StateClosed:
		if m.url == rawURL {
			m.mu.Unlock()
			return
		}
		m.teardownLocked()
	}
	m.url = rawURL
	m.attempts = 0
	m.startLocked()
	n := m.notifierLocked()
	m.mu.Unlock()

	m.logger.Info("Push channel connecting", "url", redact(rawURL))
	n(StateConnecting)
}

// Disconnect tears the connection down for good: it disables reconnection,
// stops a pending reconnect timer and closes the live socket, in that order.
// No reconnect attempt happens after Disconnect returns.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	prev := m.state
	m.setStateLocked(StateStopped)
	conn := m.teardownLocked()
	n := m.notifierLocked()
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			m.logger.Debug("Failed to close push channel", "error", err)
		}
	}
	if prev != StateStopped {
		m.logger.Info("Push channel disconnected", "previous_state", prev.String())
		n(StateStopped)
	}
}

// teardownLocked invalidates every in-flight goroutine and timer and
// returns the live connection, if any, for the caller to close.
func (m *Manager) teardownLocked() Conn {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	conn := m.conn
	m.conn = nil
	return conn
}

func (m *Manager) startLocked() {
	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.setStateLocked(StateConnecting)
	go m.run(ctx, m.gen, m.url)
}

func (m *Manager) run(ctx context.Context, gen uint64, rawURL string) {
	dialCtx, cancel := context.WithTimeout(ctx, m.dialTimeout)
	conn, err := m.dialer.Dial(dialCtx, rawURL)
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("Push channel dial failed", "error", err, "url", redact(rawURL))
		}
		m.handleClose(gen)
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.conn = conn
	m.setStateLocked(StateOpen)
	m.attempts = 0
	n := m.notifierLocked()
	m.mu.Unlock()

	m.logger.Info("Push channel open", "url", redact(rawURL))
	n(StateOpen)

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			m.logReadError(ctx, err)
			_ = conn.Close()
			m.handleClose(gen)
			return
		}

		deliver, current := m.messageHandler(gen)
		if !current {
			return
		}
		if deliver != nil {
			deliver(string(data))
		}
	}
}

func (m *Manager) messageHandler(gen uint64) (func(string), bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onMessage, gen == m.gen
}

func (m *Manager) logReadError(ctx context.Context, err error) {
	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		m.logger.Debug("Push channel read cancelled")
	case websocket.CloseStatus(err) != -1:
		m.logger.Info("Push channel closed by server", "code", int(websocket.CloseStatus(err)))
	default:
		m.logger.Warn("Push channel read error", "error", err)
	}
}

// handleClose moves a current generation to closed and either schedules a
// reconnect or, once the budget is spent, to exhausted.
func (m *Manager) handleClose(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.conn = nil
	m.setStateLocked(StateClosed)
	transitions := []State{StateClosed}

	var exhausted func()
	if m.attempts < m.maxAttempts {
		m.attempts++
		attempt := m.attempts
		m.timer = m.clock.AfterFunc(m.delay, func() { m.reconnect(gen) })
		m.logger.Info("Push channel reconnect scheduled", "attempt", attempt, "max_attempts", m.maxAttempts, "delay", m.delay)
	} else {
		m.setStateLocked(StateExhausted)
		transitions = append(transitions, StateExhausted)
		exhausted = m.onExhausted
		m.logger.Warn("Push channel reconnect exhausted", "attempts", m.attempts)
	}
	n := m.notifierLocked()
	m.mu.Unlock()

	for _, s := range transitions {
		n(s)
	}
	if exhausted != nil {
		exhausted()
	}
}

// reconnect is the reconnect timer body. A timer that survives teardown
// finds a newer generation and does nothing.
func (m *Manager) reconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateClosed {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.startLocked()
	attempt := m.attempts
	n := m.notifierLocked()
	m.mu.Unlock()

	m.logger.Info("Push channel reconnecting", "attempt", attempt)
	n(StateConnecting)
}

func (m *Manager) setStateLocked(s State) {
	if m.state != s {
		m.state = s
		m.seq++
	}
}

func (m *Manager) notifierLocked() func(State) {
	f := m.onState
	return func(s State) {
		if f != nil {
			f(s)
		}
	}
}

func supported(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
		return true
	}
	return false
}

// redact strips the query string, which carries the session token.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if u.RawQuery != "" {
		u.RawQuery = "redacted"
	}
	return u.String()
}
