package realtime

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/suhas-24/couple-chat-app-sub002/internal/protocol"
)

// --- fake clock ---

// fakeClock drives AfterFunc timers with simulated time. Advance fires due
// timers in deadline order, running their callbacks synchronously.
type fakeClock struct {
	mu        sync.Mutex
	now       time.Time
	timers    []*fakeTimer
	scheduled []time.Duration // log of every AfterFunc delay, in order
}

type fakeTimer struct {
	clock    *fakeClock
	deadline time.Time
	f        func()
	fired    bool
	stopped  bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, deadline: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	c.scheduled = append(c.scheduled, d)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves simulated time forward, firing due timers in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		var next *fakeTimer
		for _, t := range c.timers {
			if t.fired || t.stopped || t.deadline.After(target) {
				continue
			}
			if next == nil || t.deadline.Before(next.deadline) {
				next = t
			}
		}
		if next == nil {
			break
		}
		next.fired = true
		c.now = next.deadline
		f := next.f
		c.mu.Unlock()
		f()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

// expireNext marks the earliest pending timer as fired and hands its
// callback to the caller instead of running it, so tests can interleave
// the callback with other client calls the way the runtime may.
func (c *fakeClock) expireNext() func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var next *fakeTimer
	for _, t := range c.timers {
		if t.fired || t.stopped {
			continue
		}
		if next == nil || t.deadline.Before(next.deadline) {
			next = t
		}
	}
	if next == nil {
		return nil
	}
	next.fired = true
	c.now = next.deadline
	return next.f
}

func (c *fakeClock) scheduledDelays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.scheduled))
	copy(out, c.scheduled)
	return out
}

// pendingTimerCount reports timers that are armed but not yet fired.
func (c *fakeClock) pendingTimerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

// --- fake transport ---

type fakeConn struct {
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once

	mu     sync.Mutex
	writes []*protocol.Envelope
	// trace receives a line per write, shared with test observers to
	// assert ordering between writes and handler invocations.
	trace func(string)
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("write on closed connection")
	default:
	}
	env, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.writes = append(c.writes, env)
	trace := c.trace
	c.mu.Unlock()
	if trace != nil {
		trace("write:" + env.Event)
	}
	return nil
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data, ok := <-c.inbound:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// push delivers a server frame to the client.
func (c *fakeConn) push(t *testing.T, event string, data any, ack uint64) {
	t.Helper()
	raw, err := protocol.Encode(event, data, ack)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case c.inbound <- raw:
	case <-time.After(time.Second):
		t.Fatal("fake conn inbound buffer full")
	}
}

func (c *fakeConn) written(event string) []*protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*protocol.Envelope
	for _, env := range c.writes {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

// fakeDialer fails the first `failures` dials, then hands out fake conns.
type fakeDialer struct {
	mu       sync.Mutex
	failures int
	dials    int
	conns    []*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, _ string, _ http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dials <= d.failures {
		return nil, errors.New("connection refused")
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// --- fake journal ---

// fakeJournal keeps the persisted queue in memory and records which entries
// the client retired as sent.
type fakeJournal struct {
	mu      sync.Mutex
	entries map[string]PendingMessage
	sent    map[string]string // client id -> server id
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{
		entries: make(map[string]PendingMessage),
		sent:    make(map[string]string),
	}
}

func (j *fakeJournal) Append(p PendingMessage) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[p.ID] = p
	return nil
}

func (j *fakeJournal) MarkSent(id, serverID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.entries, id)
	j.sent[id] = serverID
	return nil
}

func (j *fakeJournal) Clear() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = make(map[string]PendingMessage)
	return nil
}

func (j *fakeJournal) Load() ([]PendingMessage, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]PendingMessage, 0, len(j.entries))
	for _, p := range j.entries {
		out = append(out, p)
	}
	return out, nil
}

func (j *fakeJournal) sentID(id string) string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.sent[id]
}

func (j *fakeJournal) queuedCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// --- helpers ---

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", msg)
}
