package push

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/expertdesk/livesync/internal/clock"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeConn delivers frames pushed onto its channel until closed.
type fakeConn struct {
	frames    chan string
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan string, 16), closed: make(chan struct{})}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case f := <-c.frames:
		return []byte(f), nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// fakeDialer hands out queued connections, failing once the queue is empty.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func newTestManager(dialer Dialer, clk clock.Clock) *Manager {
	return NewManager(Config{
		Dialer: dialer,
		Clock:  clk,
		Logger: quietLogger(),
	})
}

// stateRecorder collects transitions and lets tests wait for one.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
	ch     chan State
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{ch: make(chan State, 64)}
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
	r.ch <- s
}

func (r *stateRecorder) waitFor(t *testing.T, want State) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-r.ch:
			if s == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for state %v", want)
		}
	}
}

func TestConnectWithoutURLStaysIdle(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(dialer, clock.Fake(epoch))

	m.Connect("")
	m.Connect("ftp://example.com/ws")
	m.Connect("not a url")

	if m.State() != StateIdle {
		t.Fatalf("expected idle, got %v", m.State())
	}
	time.Sleep(10 * time.Millisecond)
	if dialer.count() != 0 {
		t.Fatalf("expected no dials, got %d", dialer.count())
	}
}

func TestFramesDeliveredInOrderWhileOpen(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	m := newTestManager(dialer, clock.Fake(epoch))
	rec := newStateRecorder()
	m.OnStateChange(rec.record)

	got := make(chan string, 8)
	m.OnMessage(func(payload string) { got <- payload })

	m.Connect("ws://push.test/ws/client/?token=abc")
	rec.waitFor(t, StateOpen)

	for _, f := range []string{"one", "two", "three"} {
		conn.frames <- f
	}
	for _, want := range []string{"one", "two", "three"} {
		select {
		case f := <-got:
			if f != want {
				t.Fatalf("expected frame %q, got %q", want, f)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %q", want)
		}
	}

	m.Disconnect()
	if m.State() != StateStopped {
		t.Fatalf("expected stopped, got %v", m.State())
	}
}

func TestReconnectAttemptsAreBounded(t *testing.T) {
	dialer := &fakeDialer{}
	clk := clock.Fake(epoch)
	m := newTestManager(dialer, clk)

	exhausted := make(chan struct{})
	m.OnExhausted(func() { close(exhausted) })

	m.Connect("ws://push.test/ws/client/?token=abc")

	for attempt := 1; attempt <= DefaultMaxAttempts; attempt++ {
		clk.WaitForTimers(1)
		if got := m.Attempts(); got != attempt {
			t.Fatalf("expected attempt %d, got %d", attempt, got)
		}
		clk.Advance(DefaultReconnectDelay)
	}

	select {
	case <-exhausted:
	case <-time.After(2 * time.Second):
		t.Fatal("manager never reported exhaustion")
	}

	if m.State() != StateExhausted {
		t.Fatalf("expected exhausted, got %v", m.State())
	}
	if dialer.count() != 1+DefaultMaxAttempts {
		t.Fatalf("expected %d dials, got %d", 1+DefaultMaxAttempts, dialer.count())
	}

	clk.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)
	if dialer.count() != 1+DefaultMaxAttempts {
		t.Fatalf("dial after exhaustion: %d", dialer.count())
	}
	if clk.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", clk.Pending())
	}
}

func TestReconnectWaitsForDelay(t *testing.T) {
	dialer := &fakeDialer{}
	clk := clock.Fake(epoch)
	m := newTestManager(dialer, clk)

	m.Connect("ws://push.test/ws/client/?token=abc")
	clk.WaitForTimers(1)

	clk.Advance(DefaultReconnectDelay - time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	if dialer.count() != 1 {
		t.Fatalf("reconnected before the delay elapsed: %d dials", dialer.count())
	}
	if m.State() != StateClosed {
		t.Fatalf("expected closed while waiting, got %v", m.State())
	}

	clk.Advance(time.Millisecond)
	clk.WaitForTimers(1)
	if dialer.count() != 2 {
		t.Fatalf("expected second dial, got %d", dialer.count())
	}
	m.Disconnect()
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	clk := clock.Fake(epoch)
	m := newTestManager(dialer, clk)

	m.Connect("ws://push.test/ws/client/?token=abc")
	clk.WaitForTimers(1)

	m.Disconnect()
	if clk.Pending() != 0 {
		t.Fatalf("expected reconnect timer to be stopped, %d pending", clk.Pending())
	}

	clk.Advance(10 * DefaultReconnectDelay)
	time.Sleep(20 * time.Millisecond)

	if dialer.count() != 1 {
		t.Fatalf("reconnect after Disconnect: %d dials", dialer.count())
	}
	if m.State() != StateStopped {
		t.Fatalf("expected stopped, got %v", m.State())
	}
}

func TestStaleTimerAfterDisconnectIsNoop(t *testing.T) {
	dialer := &fakeDialer{}
	clk := clock.Fake(epoch)
	m := newTestManager(dialer, clk)

	m.Connect("ws://push.test/ws/client/?token=abc")
	clk.WaitForTimers(1)

	m.mu.Lock()
	staleGen := m.gen
	m.mu.Unlock()

	m.Disconnect()
	// Simulate a timer that already fired concurrently with Disconnect.
	m.reconnect(staleGen)
	time.Sleep(20 * time.Millisecond)

	if dialer.count() != 1 {
		t.Fatalf("stale timer reconnected: %d dials", dialer.count())
	}
	if m.State() != StateStopped {
		t.Fatalf("expected stopped, got %v", m.State())
	}
}

func TestDisconnectClosesOpenSocket(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	clk := clock.Fake(epoch)
	m := newTestManager(dialer, clk)
	rec := newStateRecorder()
	m.OnStateChange(rec.record)

	m.Connect("ws://push.test/ws/client/?token=abc")
	rec.waitFor(t, StateOpen)

	m.Disconnect()

	select {
	case <-conn.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("socket not closed on Disconnect")
	}
	time.Sleep(20 * time.Millisecond)
	if clk.Pending() != 0 {
		t.Fatalf("Disconnect left %d timers", clk.Pending())
	}
	if m.State() != StateStopped {
		t.Fatalf("expected stopped, got %v", m.State())
	}
}

func TestOpenResetsAttempts(t *testing.T) {
	second := newFakeConn()
	dialer := &fakeDialer{}
	clk := clock.Fake(epoch)
	m := newTestManager(dialer, clk)
	rec := newStateRecorder()
	m.OnStateChange(rec.record)

	m.Connect("ws://push.test/ws/client/?token=abc")
	clk.WaitForTimers(1)
	if m.Info().Attempts != 1 {
		t.Fatalf("expected one attempt, got %d", m.Info().Attempts)
	}

	dialer.mu.Lock()
	dialer.conns = append(dialer.conns, second)
	dialer.mu.Unlock()

	clk.Advance(DefaultReconnectDelay)
	rec.waitFor(t, StateOpen)
	if m.Info().Attempts != 0 {
		t.Fatalf("expected attempts reset on open, got %d", m.Info().Attempts)
	}

	// Server drops the connection: a fresh budget starts.
	_ = second.Close()
	rec.waitFor(t, StateClosed)
	if m.Info().Attempts != 1 {
		t.Fatalf("expected attempt 1 after drop, got %d", m.Info().Attempts)
	}
	m.Disconnect()
}

func TestConnectAfterExhaustionStartsOver(t *testing.T) {
	dialer := &fakeDialer{}
	clk := clock.Fake(epoch)
	m := NewManager(Config{Dialer: dialer, Clock: clk, Logger: quietLogger(), MaxAttempts: 1})

	exhausted := make(chan struct{}, 1)
	m.OnExhausted(func() { exhausted <- struct{}{} })

	m.Connect("ws://push.test/ws/client/?token=abc")
	clk.WaitForTimers(1)
	clk.Advance(DefaultReconnectDelay)
	<-exhausted

	m.Connect("ws://push.test/ws/client/?token=abc")
	clk.WaitForTimers(1)
	if got := m.Info(); got.State != StateClosed || got.Attempts != 1 {
		t.Fatalf("expected fresh budget after manual reconnect, got %+v", got)
	}
	if dialer.count() != 3 {
		t.Fatalf("expected 3 dials, got %d", dialer.count())
	}
	m.Disconnect()
}

func TestInfoRedactsToken(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(dialer, clock.Fake(epoch))
	m.Connect("wss://push.test/ws/expert/?token=secret")
	defer m.Disconnect()

	info := m.Info()
	if info.URL != "wss://push.test/ws/expert/?redacted" {
		t.Fatalf("unexpected redacted url %q", info.URL)
	}
}

func TestInfoSeqAdvancesOnTransitions(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	m := newTestManager(dialer, clock.Fake(epoch))
	rec := newStateRecorder()
	m.OnStateChange(rec.record)

	if seq := m.Info().Seq; seq != 0 {
		t.Fatalf("expected seq 0 while idle, got %d", seq)
	}
	m.Connect("ws://push.test/ws/client/?token=abc")
	rec.waitFor(t, StateOpen)
	open := m.Info()
	if open.Seq != 2 {
		t.Fatalf("expected seq 2 after connecting and open, got %d", open.Seq)
	}

	m.Disconnect()
	stopped := m.Info()
	if stopped.State != StateStopped || stopped.Seq <= open.Seq {
		t.Fatalf("expected a newer stopped info, got %+v after %+v", stopped, open)
	}
	m.Disconnect()
	if again := m.Info().Seq; again != stopped.Seq {
		t.Fatalf("repeated Disconnect moved seq from %d to %d", stopped.Seq, again)
	}
}

func TestStateString(t *testing.T) {
	if StateExhausted.String() != "exhausted" || State(99).String() != "unknown" {
		t.Fatal("unexpected state names")
	}
	text, _ := StateOpen.MarshalText()
	if string(text) != "open" {
		t.Fatalf("unexpected text %q", text)
	}
}
