package realtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/suhas-24/couple-chat-app-sub002/internal/auth"
	"github.com/suhas-24/couple-chat-app-sub002/internal/config"
	"github.com/suhas-24/couple-chat-app-sub002/internal/protocol"
	"github.com/suhas-24/couple-chat-app-sub002/internal/status"
)

// Heartbeat is pushed far out by default so backoff tests can tell reconnect
// timers apart from heartbeat timers in the fake clock's schedule log.
func testTuning() config.Realtime {
	return config.Realtime{
		ReconnectBaseDelayMS: 1000,
		ReconnectMaxDelayMS:  30000,
		ReconnectMaxAttempts: 10,
		ReconnectJitterMS:    0,
		HeartbeatIntervalS:   3600,
		TypingDebounceMS:     3000,
		ConnectTimeoutS:      10,
	}
}

func newTestClient(t *testing.T, d *fakeDialer, tune func(*config.Realtime)) (*Client, *fakeClock) {
	t.Helper()
	tuning := testTuning()
	if tune != nil {
		tune(&tuning)
	}
	clk := newFakeClock()
	c, err := New(Options{
		ServerURL: "http://localhost:3001",
		Token:     "test-token",
		UserID:    "me",
		Tuning:    tuning,
		Dialer:    d,
		Clock:     clk,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Destroy)
	return c, clk
}

func connect(t *testing.T, c *Client, d *fakeDialer) *fakeConn {
	t.Helper()
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, "connection", func() bool { return c.State().Connected })
	conn := d.lastConn()
	if conn == nil {
		t.Fatal("no connection established")
	}
	return conn
}

func reconnectDelays(clk *fakeClock) []time.Duration {
	var out []time.Duration
	for _, d := range clk.scheduledDelays() {
		// Skip heartbeat (3600s) and ack-timeout (10s from ConnectTimeoutS)
		// timers; what remains are reconnect delays.
		if d == 3600*time.Second || d == 10*time.Second {
			continue
		}
		out = append(out, d)
	}
	return out
}

func TestNoAuthTokenFailsFast(t *testing.T) {
	d := &fakeDialer{}
	clk := newFakeClock()
	c, err := New(Options{Token: "", Tuning: testTuning(), Dialer: d, Clock: clk})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Destroy()

	snap := c.State()
	if snap.Connected || snap.Reconnecting {
		t.Errorf("snapshot = %+v, want not connected, not reconnecting", snap)
	}
	if snap.Err != auth.ErrNoToken.Error() {
		t.Errorf("snapshot error = %q, want %q", snap.Err, auth.ErrNoToken.Error())
	}
	if err := c.Connect(); !errors.Is(err, auth.ErrNoToken) {
		t.Errorf("Connect() error = %v, want ErrNoToken", err)
	}
	if d.dialCount() != 0 {
		t.Errorf("dial count = %d, want 0 (no connection attempt without token)", d.dialCount())
	}
}

func TestConnectReportsFullSnapshots(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d, nil)

	var mu sync.Mutex
	var snaps []status.Snapshot
	c.OnConnection(func(s status.Snapshot) {
		mu.Lock()
		snaps = append(snaps, s)
		mu.Unlock()
	})

	connect(t, c, d)

	mu.Lock()
	defer mu.Unlock()
	if len(snaps) < 2 {
		t.Fatalf("got %d snapshots, want at least connecting+connected", len(snaps))
	}
	for _, s := range snaps {
		if s.Connected && s.Reconnecting {
			t.Errorf("contradictory snapshot %+v", s)
		}
	}
	last := snaps[len(snaps)-1]
	if !last.Connected || last.Reconnecting || last.Err != "" {
		t.Errorf("final snapshot = %+v, want connected", last)
	}
}

func TestBackoffScheduleAndTerminalFailure(t *testing.T) {
	d := &fakeDialer{}
	c, clk := newTestClient(t, d, nil)

	var mu sync.Mutex
	var lastErr error
	c.OnError(func(err error) {
		mu.Lock()
		lastErr = err
		mu.Unlock()
	})

	conn := connect(t, c, d)

	// Every further dial fails.
	d.mu.Lock()
	d.failures = 1 << 30
	d.mu.Unlock()
	_ = conn.Close()

	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second,
		30 * time.Second, 30 * time.Second,
	}
	for i, w := range want {
		waitFor(t, "reconnect to be scheduled", func() bool {
			return len(reconnectDelays(clk)) == i+1
		})
		got := reconnectDelays(clk)[i]
		if got != w {
			t.Fatalf("delay(%d) = %v, want %v", i, got, w)
		}
		clk.Advance(w)
	}

	waitFor(t, "terminal failure", func() bool {
		snap := c.State()
		return snap.Err != "" && !snap.Reconnecting
	})
	snap := c.State()
	if snap.Err != errMaxAttempts.Error() {
		t.Errorf("terminal error = %q, want %q", snap.Err, errMaxAttempts.Error())
	}
	mu.Lock()
	if !errors.Is(lastErr, errMaxAttempts) {
		t.Errorf("error callback got %v, want errMaxAttempts", lastErr)
	}
	mu.Unlock()

	// No further automatic attempts once failed.
	dials := d.dialCount()
	clk.Advance(10 * time.Minute)
	if d.dialCount() != dials {
		t.Errorf("dial count grew from %d to %d after terminal failure", dials, d.dialCount())
	}

	// ForceReconnect resets the counter and resumes.
	d.mu.Lock()
	d.failures = 0
	d.mu.Unlock()
	c.ForceReconnect()
	waitFor(t, "reconnection after ForceReconnect", func() bool { return c.State().Connected })
	c.mu.Lock()
	attempts := c.attempts
	c.mu.Unlock()
	if attempts != 0 {
		t.Errorf("attempts = %d after successful reconnect, want 0", attempts)
	}
}

func TestConnectRefusedWhileFailed(t *testing.T) {
	d := &fakeDialer{}
	c, clk := newTestClient(t, d, func(r *config.Realtime) { r.ReconnectMaxAttempts = 2 })
	conn := connect(t, c, d)

	d.mu.Lock()
	d.failures = 1 << 30
	d.mu.Unlock()
	_ = conn.Close()

	for i, w := range []time.Duration{1 * time.Second, 2 * time.Second} {
		waitFor(t, "reconnect to be scheduled", func() bool {
			return len(reconnectDelays(clk)) == i+1
		})
		clk.Advance(w)
	}
	waitFor(t, "terminal failure", func() bool {
		snap := c.State()
		return snap.Err != "" && !snap.Reconnecting
	})

	// Connect must not quietly resume with the attempt counter exhausted.
	dials := d.dialCount()
	if err := c.Connect(); !errors.Is(err, errReconnectRequired) {
		t.Fatalf("Connect() while failed = %v, want errReconnectRequired", err)
	}
	clk.Advance(time.Minute)
	if d.dialCount() != dials {
		t.Errorf("dial count grew from %d to %d after refused Connect", dials, d.dialCount())
	}

	// ForceReconnect stays the one way back out.
	d.mu.Lock()
	d.failures = 0
	d.mu.Unlock()
	c.ForceReconnect()
	waitFor(t, "reconnection after ForceReconnect", func() bool { return c.State().Connected })
}

func TestSetTokenClearsTokenlessFailure(t *testing.T) {
	d := &fakeDialer{}
	clk := newFakeClock()
	c, err := New(Options{Token: "", Tuning: testTuning(), Dialer: d, Clock: clk})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Destroy()

	if err := c.Connect(); !errors.Is(err, auth.ErrNoToken) {
		t.Fatalf("Connect() without token = %v, want ErrNoToken", err)
	}

	c.SetToken("fresh-token", "u1")
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect() after SetToken error = %v", err)
	}
	waitFor(t, "connection with fresh token", func() bool { return c.State().Connected })
}

func TestBackoffJitterBounds(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d, func(r *config.Realtime) {
		r.ReconnectJitterMS = 1000
	})

	for n := 0; n < 12; n++ {
		pure := 1 * time.Second
		for i := 0; i < n && pure < 30*time.Second; i++ {
			pure *= 2
		}
		if pure > 30*time.Second {
			pure = 30 * time.Second
		}
		got := c.backoffDelay(n)
		if got < pure || got >= pure+time.Second {
			t.Errorf("backoffDelay(%d) = %v, want in [%v, %v)", n, got, pure, pure+time.Second)
		}
	}
}

func TestSendMessageDroppedWhenDisconnected(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d, nil)

	// Never connected: the fire-and-forget send is silently dropped.
	c.SendMessage("chat1", protocol.ChatMessage{Text: "hi"})
	if n := c.PendingCount(); n != 0 {
		t.Errorf("pending = %d, want 0 (SendMessage never queues)", n)
	}
}

func TestSendWithRetryQueuesWhileDisconnected(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d, nil)

	sent, err := c.SendMessageWithRetry(context.Background(), "chat1", protocol.ChatMessage{ID: "m1", Text: "hi"})
	if err != nil {
		t.Fatalf("SendMessageWithRetry() error = %v", err)
	}
	if sent {
		t.Error("sent = true, want false (queued)")
	}
	if n := c.PendingCount(); n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}

	// Same id overwrites instead of duplicating.
	_, _ = c.SendMessageWithRetry(context.Background(), "chat1", protocol.ChatMessage{ID: "m1", Text: "hi again"})
	if n := c.PendingCount(); n != 1 {
		t.Errorf("pending = %d after duplicate id, want 1", n)
	}

	// A generated temp id is assigned when the message has none.
	_, _ = c.SendMessageWithRetry(context.Background(), "chat1", protocol.ChatMessage{Text: "second"})
	if n := c.PendingCount(); n != 2 {
		t.Errorf("pending = %d, want 2", n)
	}
	c.mu.Lock()
	items := c.pending.Items()
	c.mu.Unlock()
	if items[0].ID != "m1" {
		t.Errorf("first queued id = %q, want m1 (insertion order)", items[0].ID)
	}
	if !strings.HasPrefix(items[1].ID, "temp-") {
		t.Errorf("generated id = %q, want temp- prefix", items[1].ID)
	}
}

func TestFlushOnReconnectInInsertionOrder(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d, nil)

	for _, id := range []string{"m1", "m2"} {
		if _, err := c.SendMessageWithRetry(context.Background(), "chat1", protocol.ChatMessage{ID: id, Text: id}); err != nil {
			t.Fatal(err)
		}
	}

	conn := connect(t, c, d)

	// The flush is sequential: m1 goes first and m2 waits for its ack.
	waitFor(t, "first resend", func() bool {
		return len(conn.written(protocol.EventSendMessage)) == 1
	})
	first := conn.written(protocol.EventSendMessage)[0]
	var sm protocol.SendMessage
	if err := first.Bind(&sm); err != nil {
		t.Fatal(err)
	}
	if sm.Message.ID != "m1" {
		t.Errorf("first resend id = %q, want m1", sm.Message.ID)
	}
	conn.push(t, protocol.EventAck, protocol.AckResult{OK: true, MessageID: "srv-1"}, first.Ack)

	waitFor(t, "second resend", func() bool {
		return len(conn.written(protocol.EventSendMessage)) == 2
	})
	second := conn.written(protocol.EventSendMessage)[1]
	// The server rejects m2: it must stay queued for the next cycle.
	conn.push(t, protocol.EventAck, protocol.AckResult{OK: false, Error: "rejected"}, second.Ack)

	waitFor(t, "m1 removed from queue", func() bool { return c.PendingCount() == 1 })
	c.mu.Lock()
	remaining := c.pending.Items()
	c.mu.Unlock()
	if len(remaining) != 1 || remaining[0].ID != "m2" {
		t.Errorf("remaining queue = %+v, want only m2", remaining)
	}
}

func TestFlushedMessageRetiredInJournal(t *testing.T) {
	d := &fakeDialer{}
	j := newFakeJournal()
	clk := newFakeClock()
	c, err := New(Options{Token: "test-token", Tuning: testTuning(), Dialer: d, Clock: clk, Journal: j})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Destroy)

	// Offline send lands in the queue and the journal.
	if _, err := c.SendMessageWithRetry(context.Background(), "chat1", protocol.ChatMessage{ID: "m1", Text: "hi"}); err != nil {
		t.Fatal(err)
	}
	if n := j.queuedCount(); n != 1 {
		t.Fatalf("journal queued = %d, want 1", n)
	}

	conn := connect(t, c, d)
	waitFor(t, "flush write", func() bool {
		return len(conn.written(protocol.EventSendMessage)) == 1
	})
	env := conn.written(protocol.EventSendMessage)[0]
	conn.push(t, protocol.EventAck, protocol.AckResult{OK: true, MessageID: "srv-1"}, env.Ack)

	// The acknowledged entry leaves the pending set as a sent record that
	// carries the server-assigned ID.
	waitFor(t, "journal retirement", func() bool { return j.queuedCount() == 0 })
	if got := j.sentID("m1"); got != "srv-1" {
		t.Errorf("journal sent id = %q, want srv-1", got)
	}
}

func TestDiscardQueueDropsPendingAndJournal(t *testing.T) {
	d := &fakeDialer{}
	j := newFakeJournal()
	clk := newFakeClock()
	c, err := New(Options{Token: "test-token", Tuning: testTuning(), Dialer: d, Clock: clk, Journal: j})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Destroy)

	for _, id := range []string{"m1", "m2"} {
		if _, err := c.SendMessageWithRetry(context.Background(), "chat1", protocol.ChatMessage{ID: id, Text: "hi"}); err != nil {
			t.Fatal(err)
		}
	}
	if c.PendingCount() != 2 || j.queuedCount() != 2 {
		t.Fatalf("pending = %d, journal = %d, want 2/2", c.PendingCount(), j.queuedCount())
	}

	c.DiscardQueue()

	if c.PendingCount() != 0 {
		t.Errorf("pending = %d after discard", c.PendingCount())
	}
	if j.queuedCount() != 0 {
		t.Errorf("journal queued = %d after discard", j.queuedCount())
	}

	// Nothing flushes on the next connect.
	conn := connect(t, c, d)
	if n := len(conn.written(protocol.EventSendMessage)); n != 0 {
		t.Errorf("flushed %d discarded messages", n)
	}
}

func TestSendWithRetryConnectedAck(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d, nil)
	conn := connect(t, c, d)

	type result struct {
		sent bool
		err  error
	}
	done := make(chan result, 1)
	go func() {
		sent, err := c.SendMessageWithRetry(context.Background(), "chat1", protocol.ChatMessage{ID: "m1", Text: "hi"})
		done <- result{sent, err}
	}()

	waitFor(t, "send write", func() bool {
		return len(conn.written(protocol.EventSendMessage)) == 1
	})
	env := conn.written(protocol.EventSendMessage)[0]
	if env.Ack == 0 {
		t.Fatal("send_message carries no ack id")
	}
	conn.push(t, protocol.EventAck, protocol.AckResult{OK: true, MessageID: "srv-9"}, env.Ack)

	res := <-done
	if res.err != nil || !res.sent {
		t.Fatalf("result = (%v, %v), want (true, nil)", res.sent, res.err)
	}
	if n := c.PendingCount(); n != 0 {
		t.Errorf("pending = %d, want 0 after acknowledged send", n)
	}
}

func TestSendWithRetryServerRejection(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d, nil)
	conn := connect(t, c, d)

	done := make(chan error, 1)
	go func() {
		_, err := c.SendMessageWithRetry(context.Background(), "chat1", protocol.ChatMessage{ID: "m1", Text: "hi"})
		done <- err
	}()

	waitFor(t, "send write", func() bool {
		return len(conn.written(protocol.EventSendMessage)) == 1
	})
	env := conn.written(protocol.EventSendMessage)[0]
	conn.push(t, protocol.EventAck, protocol.AckResult{OK: false, Error: "message rejected"}, env.Ack)

	err := <-done
	if err == nil || !strings.Contains(err.Error(), "message rejected") {
		t.Fatalf("error = %v, want server-supplied rejection", err)
	}
	// Rejected message is queued for retry.
	if n := c.PendingCount(); n != 1 {
		t.Errorf("pending = %d, want 1 (re-queued)", n)
	}
}

func TestTypingDebounceBurst(t *testing.T) {
	d := &fakeDialer{}
	c, clk := newTestClient(t, d, nil)
	conn := connect(t, c, d)

	// Three calls within the window are one burst.
	c.StartTypingWithDebounce("chat1")
	clk.Advance(time.Second)
	c.StartTypingWithDebounce("chat1")
	clk.Advance(time.Second)
	c.StartTypingWithDebounce("chat1")

	if n := len(conn.written(protocol.EventTypingStart)); n != 1 {
		t.Errorf("typing_start count = %d during burst, want 1", n)
	}
	if n := len(conn.written(protocol.EventTypingStop)); n != 0 {
		t.Errorf("typing_stop count = %d during burst, want 0", n)
	}

	// The window elapses after the final call: exactly one stop.
	clk.Advance(3 * time.Second)
	if n := len(conn.written(protocol.EventTypingStop)); n != 1 {
		t.Errorf("typing_stop count = %d after window, want 1", n)
	}

	// A new burst emits a fresh start.
	c.StartTypingWithDebounce("chat1")
	if n := len(conn.written(protocol.EventTypingStart)); n != 2 {
		t.Errorf("typing_start count = %d for second burst, want 2", n)
	}
}

func TestTypingRefreshBeatsExpiredTimer(t *testing.T) {
	d := &fakeDialer{}
	c, clk := newTestClient(t, d, nil)
	conn := connect(t, c, d)

	c.StartTypingWithDebounce("chat1")

	// The debounce timer fires, but a refresh wins the lock before its
	// callback runs. The stale callback must not end the new window.
	stale := clk.expireNext()
	if stale == nil {
		t.Fatal("no pending timer to expire")
	}
	c.StartTypingWithDebounce("chat1")
	stale()

	if n := len(conn.written(protocol.EventTypingStop)); n != 0 {
		t.Fatalf("typing_stop count = %d while the refreshed window is open, want 0", n)
	}

	// The refreshed window still closes the burst, exactly once.
	clk.Advance(3 * time.Second)
	if n := len(conn.written(protocol.EventTypingStop)); n != 1 {
		t.Errorf("typing_stop count = %d after refreshed window, want 1", n)
	}
	if n := len(conn.written(protocol.EventTypingStart)); n != 1 {
		t.Errorf("typing_start count = %d for one burst, want 1", n)
	}

	// The next keystroke starts a clean second burst.
	c.StartTypingWithDebounce("chat1")
	if n := len(conn.written(protocol.EventTypingStart)); n != 2 {
		t.Errorf("typing_start count = %d for second burst, want 2", n)
	}
}

func TestStopTypingCancelsTimer(t *testing.T) {
	d := &fakeDialer{}
	c, clk := newTestClient(t, d, nil)
	conn := connect(t, c, d)

	c.StartTypingWithDebounce("chat1")
	c.StopTyping("chat1")
	if n := len(conn.written(protocol.EventTypingStop)); n != 1 {
		t.Fatalf("typing_stop count = %d after explicit stop, want 1", n)
	}
	// The cancelled timer must not fire a second stop.
	clk.Advance(10 * time.Second)
	if n := len(conn.written(protocol.EventTypingStop)); n != 1 {
		t.Errorf("typing_stop count = %d after window, want still 1", n)
	}
}

func TestDeliveryAckPrecedesMessageCallback(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d, nil)
	conn := connect(t, c, d)

	var mu sync.Mutex
	var order []string
	conn.mu.Lock()
	conn.trace = func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}
	conn.mu.Unlock()
	c.OnMessage(func(m protocol.ChatMessage) {
		mu.Lock()
		order = append(order, "callback:"+m.ID)
		mu.Unlock()
	})

	conn.push(t, protocol.EventNewMessage, protocol.ChatMessage{
		ID: "m9", ChatID: "chat1", SenderID: "u2", Text: "hey",
	}, 0)

	waitFor(t, "message callback", func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range order {
			if s == "callback:m9" {
				return true
			}
		}
		return false
	})

	mu.Lock()
	defer mu.Unlock()
	ackIdx, cbIdx := -1, -1
	for i, s := range order {
		switch s {
		case "write:" + protocol.EventMessageDelivered:
			ackIdx = i
		case "callback:m9":
			cbIdx = i
		}
	}
	if ackIdx == -1 {
		t.Fatal("no message_delivered emitted")
	}
	if ackIdx > cbIdx {
		t.Errorf("message_delivered at %d after callback at %d, want before", ackIdx, cbIdx)
	}

	delivered := conn.written(protocol.EventMessageDelivered)
	var dv protocol.Delivered
	if err := delivered[0].Bind(&dv); err != nil {
		t.Fatal(err)
	}
	if dv.MessageID != "m9" || dv.SenderID != "u2" {
		t.Errorf("delivered = %+v, want m9/u2", dv)
	}
}

func TestNoDeliveryAckWithoutSender(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d, nil)
	conn := connect(t, c, d)

	got := make(chan protocol.ChatMessage, 1)
	c.OnMessage(func(m protocol.ChatMessage) { got <- m })

	conn.push(t, protocol.EventNewMessage, protocol.ChatMessage{ID: "m1", ChatID: "chat1", Text: "sys"}, 0)

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("message callback not invoked")
	}
	if n := len(conn.written(protocol.EventMessageDelivered)); n != 0 {
		t.Errorf("message_delivered count = %d for sender-less message, want 0", n)
	}
}

func TestHeartbeatPingAndPong(t *testing.T) {
	d := &fakeDialer{}
	c, clk := newTestClient(t, d, func(r *config.Realtime) {
		r.HeartbeatIntervalS = 30
	})
	conn := connect(t, c, d)

	clk.Advance(30 * time.Second)
	if n := len(conn.written(protocol.EventPing)); n != 1 {
		t.Fatalf("ping count = %d, want 1", n)
	}
	conn.push(t, protocol.EventPong, nil, 0)
	waitFor(t, "pong bookkeeping", func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return !c.pongPending
	})

	// Missed pongs are diagnostic only by default: no reconnect.
	clk.Advance(30 * time.Second)
	clk.Advance(30 * time.Second)
	clk.Advance(30 * time.Second)
	if d.dialCount() != 1 {
		t.Errorf("dial count = %d, want 1 (no escalation by default)", d.dialCount())
	}
	if !c.State().Connected {
		t.Error("client dropped connection on missed pong without escalation configured")
	}
}

func TestHeartbeatEscalationForcesReconnect(t *testing.T) {
	d := &fakeDialer{}
	c, clk := newTestClient(t, d, func(r *config.Realtime) {
		r.HeartbeatIntervalS = 30
		r.HeartbeatEscalation = 2
	})
	connect(t, c, d)

	// Tick 1 sends the first unanswered ping; ticks 2-3 count misses;
	// tick 4 reaches the threshold.
	for i := 0; i < 4; i++ {
		clk.Advance(30 * time.Second)
	}
	waitFor(t, "forced reconnect dial", func() bool { return d.dialCount() >= 2 })
}

func TestJoinChatRejoinsAfterReconnect(t *testing.T) {
	d := &fakeDialer{}
	c, clk := newTestClient(t, d, nil)
	conn := connect(t, c, d)

	c.JoinChat("chat1")
	if n := len(conn.written(protocol.EventJoinChat)); n != 1 {
		t.Fatalf("join_chat count = %d, want 1", n)
	}

	_ = conn.Close()
	waitFor(t, "reconnect scheduled", func() bool { return len(reconnectDelays(clk)) == 1 })
	clk.Advance(time.Second)
	waitFor(t, "reconnection", func() bool { return c.State().Connected && d.lastConn() != conn })

	next := d.lastConn()
	waitFor(t, "automatic rejoin", func() bool {
		return len(next.written(protocol.EventJoinChat)) == 1
	})
	var room protocol.Room
	if err := next.written(protocol.EventJoinChat)[0].Bind(&room); err != nil {
		t.Fatal(err)
	}
	if room.ChatID != "chat1" {
		t.Errorf("rejoined chat = %q, want chat1", room.ChatID)
	}
}

func TestJoinChatIgnoredWhileDisconnected(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d, nil)

	c.JoinChat("chat1")
	c.mu.Lock()
	current := c.currentChatID
	c.mu.Unlock()
	if current != "" {
		t.Errorf("currentChatID = %q after disconnected join, want empty", current)
	}
}

func TestDestroyLeavesNoActiveTimers(t *testing.T) {
	d := &fakeDialer{}
	c, clk := newTestClient(t, d, nil)
	conn := connect(t, c, d)

	c.StartTypingWithDebounce("chat1")
	_ = conn.Close()
	waitFor(t, "reconnect scheduled", func() bool { return len(reconnectDelays(clk)) == 1 })

	_, _ = c.SendMessageWithRetry(context.Background(), "chat1", protocol.ChatMessage{ID: "m1", Text: "hi"})
	if n := c.PendingCount(); n != 1 {
		t.Fatalf("pending = %d, want 1 before destroy", n)
	}

	c.Destroy()

	if n := c.PendingCount(); n != 0 {
		t.Errorf("pending = %d after destroy, want 0", n)
	}
	if n := clk.pendingTimerCount(); n != 0 {
		t.Errorf("active timers = %d after destroy, want 0", n)
	}
	dials := d.dialCount()
	clk.Advance(time.Hour)
	if d.dialCount() != dials {
		t.Errorf("dial count grew after destroy: %d -> %d", dials, d.dialCount())
	}
}

func TestDeliveryConfirmationForwarded(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d, nil)
	conn := connect(t, c, d)

	got := make(chan protocol.DeliveryConfirmation, 1)
	c.OnDeliveryConfirmation(func(conf protocol.DeliveryConfirmation) { got <- conf })

	conn.push(t, protocol.EventDeliveryConfirmed, protocol.DeliveryConfirmation{
		MessageID: "m1", ConfirmedBy: "u2", ConfirmedByName: "Alex", Timestamp: "2026-01-01T00:00:00Z",
	}, 0)

	select {
	case conf := <-got:
		if conf.MessageID != "m1" || conf.ConfirmedBy != "u2" {
			t.Errorf("confirmation = %+v, want m1/u2", conf)
		}
	case <-time.After(time.Second):
		t.Fatal("delivery confirmation not forwarded")
	}
}

func TestRemoveAllListeners(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d, nil)
	conn := connect(t, c, d)

	called := make(chan struct{}, 4)
	c.OnMessage(func(protocol.ChatMessage) { called <- struct{}{} })
	c.RemoveAllListeners()

	conn.push(t, protocol.EventNewMessage, protocol.ChatMessage{ID: "m1", SenderID: "u2", ChatID: "c1", Text: "x"}, 0)
	// The delivery ack still goes out even with no listeners.
	waitFor(t, "delivery ack", func() bool {
		return len(conn.written(protocol.EventMessageDelivered)) == 1
	})
	select {
	case <-called:
		t.Error("handler invoked after RemoveAllListeners")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://localhost:3001", "ws://localhost:3001/ws", false},
		{"https://chat.example.com", "wss://chat.example.com/ws", false},
		{"http://localhost:3001/", "ws://localhost:3001/ws", false},
		{"wss://chat.example.com/api", "wss://chat.example.com/api/ws", false},
		{"ftp://host", "", true},
	}
	for _, tt := range tests {
		got, err := WebsocketURL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("WebsocketURL(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("WebsocketURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
