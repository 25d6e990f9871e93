// Package realtime maintains the single logical connection to the chat
// server: authentication on dial, automatic reconnection with bounded
// exponential backoff, a heartbeat liveness probe, an outbound queue for
// periods of disconnection, typing debounce, and delivery-confirmation
// bookkeeping. UI-facing layers observe it through registered handlers and
// never touch the transport directly.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/suhas-24/couple-chat-app-sub002/internal/auth"
	"github.com/suhas-24/couple-chat-app-sub002/internal/bus"
	"github.com/suhas-24/couple-chat-app-sub002/internal/config"
	"github.com/suhas-24/couple-chat-app-sub002/internal/protocol"
	"github.com/suhas-24/couple-chat-app-sub002/internal/status"
)

var (
	errNotConnected = errors.New("not connected")
	errDestroyed    = errors.New("client destroyed")

	// errMaxAttempts is the terminal reconnect failure surfaced to error
	// handlers. Only ForceReconnect resumes from it.
	errMaxAttempts = errors.New("max reconnection attempts reached")

	// errReconnectRequired is returned by Connect after a terminal failure;
	// the attempt counter is only reset by ForceReconnect.
	errReconnectRequired = errors.New("connection failed, reconnect required")
)

// Options configures a Client. Zero-value Dialer, Clock, Logger and Tuning
// fall back to production defaults; Bus and Journal are optional.
type Options struct {
	ServerURL string
	Token     string
	UserID    string
	Tuning    config.Realtime
	Dialer    Dialer
	Clock     Clock
	Logger    *zap.Logger
	Bus       *bus.Bus
	Journal   QueueJournal
}

// Client owns one connection to the chat server. One instance per session;
// construct it at the composition root and pass it down explicitly.
type Client struct {
	tuning  config.Realtime
	wsURL   string
	token   string
	userID  string
	dialer  Dialer
	clock   Clock
	log     *zap.Logger
	bus     *bus.Bus
	machine *status.Machine
	journal QueueJournal

	handlers handlerSet

	mu             sync.Mutex
	conn           Conn
	gen            int // bumped to invalidate in-flight dials and timers
	destroyed      bool
	attempts       int
	reconnectTimer Timer
	heartbeatTimer Timer
	pongPending    bool
	missedPongs    int
	currentChatID  string
	pending        *pendingQueue
	typingTimers   map[string]Timer
	acks           map[uint64]chan protocol.AckResult
	nextAck        uint64
	rng            *rand.Rand
}

// New builds a client. If no auth token is available the client starts in
// the failed state and Connect refuses to dial; everything else still works
// so the UI can show the error and offer a login path.
func New(opts Options) (*Client, error) {
	if opts.ServerURL == "" {
		opts.ServerURL = config.DefaultServerURL
	}
	if (opts.Tuning == config.Realtime{}) {
		opts.Tuning = config.Default().Realtime
	}
	if opts.Clock == nil {
		opts.Clock = NewClock()
	}
	if opts.Dialer == nil {
		opts.Dialer = NewDialer(opts.Tuning.ConnectTimeout())
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	wsURL, err := WebsocketURL(opts.ServerURL)
	if err != nil {
		return nil, err
	}

	c := &Client{
		tuning:       opts.Tuning,
		wsURL:        wsURL,
		token:        opts.Token,
		userID:       opts.UserID,
		dialer:       opts.Dialer,
		clock:        opts.Clock,
		log:          opts.Logger,
		bus:          opts.Bus,
		machine:      status.NewMachine(opts.Bus),
		journal:      opts.Journal,
		pending:      newPendingQueue(),
		typingTimers: make(map[string]Timer),
		acks:         make(map[uint64]chan protocol.AckResult),
		rng:          rand.New(rand.NewSource(opts.Clock.Now().UnixNano())),
	}

	if c.journal != nil {
		entries, err := c.journal.Load()
		if err != nil {
			c.log.Warn("failed to load queued messages", zap.Error(err))
		}
		for _, p := range entries {
			c.pending.Put(p)
		}
		if len(entries) > 0 {
			c.log.Info("recovered queued messages", zap.Int("count", len(entries)))
		}
	}

	if c.token == "" {
		_ = c.machine.Fail(auth.ErrNoToken.Error())
		c.log.Error("no auth token, not connecting")
	}

	return c, nil
}

// State returns the current connection state snapshot.
func (c *Client) State() status.Snapshot {
	return c.machine.Snapshot()
}

// SetToken installs the auth token and user identity obtained from a login,
// so a client built before login can connect without a daemon restart.
func (c *Client) SetToken(token, userID string) {
	c.mu.Lock()
	c.token = token
	c.userID = userID
	// A fresh login invalidates a terminal failure; Connect may dial again
	// with a clean attempt counter.
	if token != "" && c.machine.Current() == status.Failed {
		c.attempts = 0
		_ = c.machine.Transition(status.Disconnected)
	}
	c.mu.Unlock()
}

// PendingCount returns the number of messages waiting for delivery.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.Len()
}

// Connect dials the server and starts the heartbeat. It returns immediately;
// the outcome arrives through the connection handlers.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return errDestroyed
	}
	if c.token == "" {
		c.mu.Unlock()
		return auth.ErrNoToken
	}
	switch c.machine.Current() {
	case status.Connecting, status.Connected:
		c.mu.Unlock()
		return nil
	case status.Failed:
		c.mu.Unlock()
		return errReconnectRequired
	}
	if err := c.machine.Transition(status.Connecting); err != nil {
		c.mu.Unlock()
		return err
	}
	c.ensureHeartbeatLocked()
	gen := c.gen
	snap := c.machine.Snapshot()
	c.mu.Unlock()

	c.handlers.notifyConnection(snap)
	go c.dial(gen)
	return nil
}

// ForceReconnect drops the current connection if any, resets the attempt
// counter and dials again. This is the only way out of the failed state.
func (c *Client) ForceReconnect() {
	c.mu.Lock()
	if c.destroyed || c.token == "" {
		c.mu.Unlock()
		return
	}
	c.attempts = 0
	c.gen++
	gen := c.gen
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.failAcksLocked("reconnecting")
	}
	if c.machine.Current() == status.Connected {
		_ = c.machine.Transition(status.Reconnecting)
	}
	if c.machine.Current() != status.Connecting {
		if err := c.machine.Transition(status.Connecting); err != nil {
			c.mu.Unlock()
			return
		}
	}
	c.ensureHeartbeatLocked()
	c.log.Info("forcing reconnect")
	snap := c.machine.Snapshot()
	c.mu.Unlock()

	c.handlers.notifyConnection(snap)
	go c.dial(gen)
}

// Destroy tears the client down: all handlers are removed, all timers are
// cancelled, the queue is dropped and the transport is closed. The instance
// must not be reused afterwards.
func (c *Client) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	c.gen++
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.heartbeatTimer != nil {
		c.heartbeatTimer.Stop()
		c.heartbeatTimer = nil
	}
	for id, t := range c.typingTimers {
		t.Stop()
		delete(c.typingTimers, id)
	}
	c.failAcksLocked("client destroyed")
	// The in-memory queue dies with the client; the journal survives so a
	// restarted daemon can recover undelivered messages.
	c.pending.Clear()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	if c.machine.Current() != status.Disconnected {
		_ = c.machine.Transition(status.Disconnected)
	}
	c.mu.Unlock()

	c.RemoveAllListeners()
	c.log.Info("client destroyed")
}

// DiscardQueue drops every queued message, failing their ack waiters and
// emptying the journal. Logout goes through here so undelivered messages
// from the ended session cannot flush into the next one.
func (c *Client) DiscardQueue() {
	c.mu.Lock()
	n := c.pending.Len()
	c.failAcksLocked("queue discarded")
	c.pending.Clear()
	if c.journal != nil {
		if err := c.journal.Clear(); err != nil {
			c.log.Warn("failed to clear journal", zap.Error(err))
		}
	}
	c.mu.Unlock()
	if n > 0 {
		c.log.Info("discarded queued messages", zap.Int("count", n))
	}
}

// --- dialing and reconnection ---

func (c *Client) dial(gen int) {
	ctx, cancel := context.WithTimeout(context.Background(), c.tuning.ConnectTimeout())
	defer cancel()

	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, err := c.dialer.Dial(ctx, c.wsURL, header)
	if err != nil {
		c.connectFailed(gen, err)
		return
	}
	c.connected(gen, conn)
}

func (c *Client) connected(gen int, conn Conn) {
	c.mu.Lock()
	if c.destroyed || gen != c.gen {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.attempts = 0
	c.pongPending = false
	c.missedPongs = 0
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	_ = c.machine.Transition(status.Connected)
	c.log.Info("connected", zap.String("url", c.wsURL))
	// Rejoin the active room before the queue flush so resent messages
	// land in it.
	if c.currentChatID != "" {
		_ = c.writeLocked(protocol.EventJoinChat, protocol.Room{ChatID: c.currentChatID}, 0)
	}
	snap := c.machine.Snapshot()
	c.mu.Unlock()

	c.handlers.notifyConnection(snap)
	go c.readLoop(conn)
	go c.flushPending(conn)
}

func (c *Client) connectFailed(gen int, err error) {
	c.mu.Lock()
	if c.destroyed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.attempts++
	c.log.Warn("connect attempt failed", zap.Int("attempt", c.attempts), zap.Error(err))

	if c.attempts >= c.tuning.ReconnectMaxAttempts {
		_ = c.machine.Fail(errMaxAttempts.Error())
		snap := c.machine.Snapshot()
		c.mu.Unlock()
		c.handlers.notifyConnection(snap)
		c.handlers.notifyError(errMaxAttempts)
		return
	}

	_ = c.machine.Transition(status.Reconnecting)
	c.scheduleReconnectLocked()
	snap := c.machine.Snapshot()
	c.mu.Unlock()
	c.handlers.notifyConnection(snap)
}

func (c *Client) disconnected(conn Conn, err error) {
	c.mu.Lock()
	if c.destroyed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.failAcksLocked("disconnected")
	c.log.Warn("transport disconnected", zap.Error(err))
	_ = c.machine.Transition(status.Reconnecting)
	c.scheduleReconnectLocked()
	snap := c.machine.Snapshot()
	c.mu.Unlock()

	c.handlers.notifyConnection(snap)
}

// scheduleReconnectLocked arms the reconnect timer for the current attempt
// index. Delay grows as min(base*2^n, max) plus optional uniform jitter.
func (c *Client) scheduleReconnectLocked() {
	delay := c.backoffDelay(c.attempts)
	c.log.Info("scheduling reconnect",
		zap.Int("attempt", c.attempts),
		zap.Duration("delay", delay))
	gen := c.gen
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectTimer = c.clock.AfterFunc(delay, func() { c.reconnect(gen) })
}

func (c *Client) backoffDelay(n int) time.Duration {
	base := c.tuning.ReconnectBaseDelay()
	max := c.tuning.ReconnectMaxDelay()
	d := base
	for i := 0; i < n && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	if j := c.tuning.ReconnectJitter(); j > 0 {
		d += time.Duration(c.rng.Int63n(int64(j)))
	}
	return d
}

func (c *Client) reconnect(gen int) {
	c.mu.Lock()
	if c.destroyed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	if err := c.machine.Transition(status.Connecting); err != nil {
		c.mu.Unlock()
		return
	}
	snap := c.machine.Snapshot()
	c.mu.Unlock()

	c.handlers.notifyConnection(snap)
	go c.dial(gen)
}

// --- heartbeat ---

func (c *Client) ensureHeartbeatLocked() {
	if c.heartbeatTimer != nil {
		return
	}
	c.armHeartbeatLocked()
}

func (c *Client) armHeartbeatLocked() {
	c.heartbeatTimer = c.clock.AfterFunc(c.tuning.HeartbeatInterval(), c.heartbeatTick)
}

// heartbeatTick sends a liveness probe. Missed pongs are diagnostic by
// default; with heartbeat_escalation set, enough consecutive misses force a
// reconnect (a half-open TCP connection is otherwise invisible until the
// transport times out on its own).
func (c *Client) heartbeatTick() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	escalate := false
	if c.conn != nil {
		if c.pongPending {
			c.missedPongs++
			c.log.Warn("heartbeat pong missing", zap.Int("consecutive", c.missedPongs))
			if th := c.tuning.HeartbeatEscalation; th > 0 && c.missedPongs >= th {
				escalate = true
				c.missedPongs = 0
			}
		}
		c.pongPending = true
		_ = c.writeLocked(protocol.EventPing, nil, 0)
	} else {
		c.pongPending = false
	}
	c.armHeartbeatLocked()
	c.mu.Unlock()

	if escalate {
		c.log.Warn("repeated heartbeat failures, forcing reconnect")
		c.ForceReconnect()
	}
}

// --- outbound ---

// SendMessage is the at-most-once send: it emits when connected and drops
// (with a log line) when not. Use SendMessageWithRetry for queued delivery.
func (c *Client) SendMessage(chatID string, msg protocol.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed || c.conn == nil {
		c.log.Info("message dropped: not connected", zap.String("chat_id", chatID))
		return
	}
	msg.ChatID = chatID
	_ = c.writeLocked(protocol.EventSendMessage, protocol.SendMessage{ChatID: chatID, Message: msg}, 0)
}

// SendMessageWithRetry sends and waits for the server acknowledgement.
// It returns (true, nil) once the server acknowledged, and (false, nil) when
// the message was queued for later delivery because the client is offline;
// callers must treat false as "accepted, not yet sent". On acknowledgement
// failure or timeout the message is queued for the next reconnect and the
// error is returned.
func (c *Client) SendMessageWithRetry(ctx context.Context, chatID string, msg protocol.ChatMessage) (bool, error) {
	msg.ChatID = chatID
	if msg.ID == "" {
		msg.ID = "temp-" + uuid.NewString()
	}
	p := PendingMessage{ID: msg.ID, ChatID: chatID, Message: msg}

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return false, errDestroyed
	}
	if c.conn == nil {
		c.queueLocked(p)
		c.mu.Unlock()
		return false, nil
	}
	ackID, ch := c.registerAckLocked()
	if err := c.writeLocked(protocol.EventSendMessage, protocol.SendMessage{ChatID: chatID, Message: msg}, ackID); err != nil {
		delete(c.acks, ackID)
		c.queueLocked(p)
		c.mu.Unlock()
		return false, fmt.Errorf("send failed: %w", err)
	}
	c.mu.Unlock()

	return c.awaitAck(ctx, ackID, ch, p)
}

func (c *Client) awaitAck(ctx context.Context, ackID uint64, ch <-chan protocol.AckResult, p PendingMessage) (bool, error) {
	timeout := make(chan struct{})
	t := c.clock.AfterFunc(c.tuning.ConnectTimeout(), func() { close(timeout) })
	defer t.Stop()

	select {
	case res := <-ch:
		if res.OK {
			c.mu.Lock()
			c.resolvePendingLocked(p.ID, res.MessageID)
			c.mu.Unlock()
			c.busEmit("message.sent", SendResult{ID: p.ID, ChatID: p.ChatID, ServerID: res.MessageID})
			return true, nil
		}
		errMsg := res.Error
		if errMsg == "" {
			errMsg = "message not acknowledged"
		}
		c.requeue(p, errMsg)
		return false, errors.New(errMsg)
	case <-timeout:
		c.dropAck(ackID)
		c.requeue(p, "acknowledgement timeout")
		return false, errors.New("timed out waiting for server acknowledgement")
	case <-ctx.Done():
		c.dropAck(ackID)
		c.requeue(p, ctx.Err().Error())
		return false, ctx.Err()
	}
}

// SendResult is the payload of message.sent bus events.
type SendResult struct {
	ID       string
	ChatID   string
	ServerID string
}

func (c *Client) requeue(p PendingMessage, reason string) {
	c.mu.Lock()
	if !c.destroyed {
		c.queueLocked(p)
	}
	c.mu.Unlock()
	c.busEmit("message.send_failed", SendResult{ID: p.ID, ChatID: p.ChatID})
	c.log.Warn("send not acknowledged, queued for retry",
		zap.String("msg_id", p.ID), zap.String("reason", reason))
}

func (c *Client) dropAck(ackID uint64) {
	c.mu.Lock()
	delete(c.acks, ackID)
	c.mu.Unlock()
}

func (c *Client) queueLocked(p PendingMessage) {
	c.pending.Put(p)
	if c.journal != nil {
		if err := c.journal.Append(p); err != nil {
			c.log.Warn("failed to journal queued message", zap.Error(err), zap.String("msg_id", p.ID))
		}
	}
	c.busEmit("message.queued", SendResult{ID: p.ID, ChatID: p.ChatID})
}

func (c *Client) resolvePendingLocked(id, serverID string) {
	if !c.pending.Has(id) {
		return
	}
	c.pending.Remove(id)
	if c.journal != nil {
		if err := c.journal.MarkSent(id, serverID); err != nil {
			c.log.Warn("failed to retire journaled message", zap.Error(err), zap.String("msg_id", id))
		}
	}
}

// flushPending resends every queued entry in insertion order. Entries that
// are acknowledged are removed; entries that fail stay queued for the next
// reconnect cycle. The flush aborts when the connection it started on dies.
func (c *Client) flushPending(conn Conn) {
	c.mu.Lock()
	items := c.pending.Items()
	c.mu.Unlock()
	if len(items) == 0 {
		return
	}
	c.log.Info("flushing queued messages", zap.Int("count", len(items)))

	for _, p := range items {
		c.mu.Lock()
		if c.destroyed || c.conn != conn {
			c.mu.Unlock()
			return
		}
		if !c.pending.Has(p.ID) {
			c.mu.Unlock()
			continue
		}
		ackID, ch := c.registerAckLocked()
		err := c.writeLocked(protocol.EventSendMessage,
			protocol.SendMessage{ChatID: p.ChatID, Message: p.Message}, ackID)
		if err != nil {
			delete(c.acks, ackID)
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		res, ok := c.waitAck(ackID, ch)
		if ok && res.OK {
			c.mu.Lock()
			c.resolvePendingLocked(p.ID, res.MessageID)
			c.mu.Unlock()
			c.busEmit("message.sent", SendResult{ID: p.ID, ChatID: p.ChatID, ServerID: res.MessageID})
			c.log.Info("queued message delivered", zap.String("msg_id", p.ID))
		} else {
			c.log.Warn("queued message still undelivered", zap.String("msg_id", p.ID))
		}
	}
}

func (c *Client) waitAck(ackID uint64, ch <-chan protocol.AckResult) (protocol.AckResult, bool) {
	timeout := make(chan struct{})
	t := c.clock.AfterFunc(c.tuning.ConnectTimeout(), func() { close(timeout) })
	defer t.Stop()

	select {
	case res := <-ch:
		return res, true
	case <-timeout:
		c.dropAck(ackID)
		return protocol.AckResult{}, false
	}
}

func (c *Client) registerAckLocked() (uint64, chan protocol.AckResult) {
	c.nextAck++
	id := c.nextAck
	ch := make(chan protocol.AckResult, 1)
	c.acks[id] = ch
	return id, ch
}

func (c *Client) failAcksLocked(reason string) {
	for id, ch := range c.acks {
		select {
		case ch <- protocol.AckResult{OK: false, Error: reason}:
		default:
		}
		delete(c.acks, id)
	}
}

// --- typing ---

// StartTypingWithDebounce emits typing_start at the beginning of a burst and
// arms (or refreshes) the per-chat debounce timer. When the timer expires
// without a further call, typing_stop is emitted automatically so a vanished
// client cannot leave the indicator stuck on.
func (c *Client) StartTypingWithDebounce(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	if t, ok := c.typingTimers[chatID]; ok {
		t.Stop()
	} else if c.conn != nil {
		_ = c.writeLocked(protocol.EventTypingStart, protocol.Typing{ChatID: chatID}, 0)
	}
	// The expiry callback runs on its own goroutine and may already be in
	// flight when a refresh replaces the timer; it carries its own timer so
	// typingExpired can tell a stale firing from the live one.
	var t Timer
	t = c.clock.AfterFunc(c.tuning.TypingDebounce(), func() {
		c.typingExpired(chatID, t)
	})
	c.typingTimers[chatID] = t
}

// StopTyping cancels the debounce timer and emits typing_stop immediately.
func (c *Client) StopTyping(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	t, ok := c.typingTimers[chatID]
	if !ok {
		return
	}
	t.Stop()
	delete(c.typingTimers, chatID)
	if c.conn != nil {
		_ = c.writeLocked(protocol.EventTypingStop, protocol.Typing{ChatID: chatID}, 0)
	}
}

func (c *Client) typingExpired(chatID string, t Timer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	// Only the timer currently armed for the chat may end the burst; a
	// stale firing that lost the race to a refresh or StopTyping is a no-op.
	if c.typingTimers[chatID] != t {
		return
	}
	delete(c.typingTimers, chatID)
	if c.conn != nil {
		_ = c.writeLocked(protocol.EventTypingStop, protocol.Typing{ChatID: chatID}, 0)
	}
}

// --- rooms and passthrough signals ---

// JoinChat enters a chat room. Not queued while disconnected: the active
// room is re-joined automatically on reconnect, so queuing would be
// redundant.
func (c *Client) JoinChat(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	if c.conn == nil {
		c.log.Error("joinChat ignored: not connected", zap.String("chat_id", chatID))
		return
	}
	c.currentChatID = chatID
	_ = c.writeLocked(protocol.EventJoinChat, protocol.Room{ChatID: chatID}, 0)
}

// LeaveChat leaves a chat room.
func (c *Client) LeaveChat(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	if c.conn == nil {
		c.log.Error("leaveChat ignored: not connected", zap.String("chat_id", chatID))
		return
	}
	if c.currentChatID == chatID {
		c.currentChatID = ""
	}
	_ = c.writeLocked(protocol.EventLeaveChat, protocol.Room{ChatID: chatID}, 0)
}

// MarkRead reports a message as read. Fire-and-forget.
func (c *Client) MarkRead(chatID, messageID string) {
	c.fireAndForget(protocol.EventMarkRead, protocol.ReadReceipt{MessageID: messageID, ChatID: chatID})
}

// AddReaction attaches an emoji reaction to a message. Fire-and-forget.
func (c *Client) AddReaction(r protocol.Reaction) {
	c.fireAndForget(protocol.EventAddReaction, r)
}

// RemoveReaction removes an emoji reaction from a message. Fire-and-forget.
func (c *Client) RemoveReaction(r protocol.Reaction) {
	c.fireAndForget(protocol.EventRemoveReaction, r)
}

// UpdateStatus broadcasts the local user's presence status. Fire-and-forget.
func (c *Client) UpdateStatus(st string) {
	c.fireAndForget(protocol.EventStatusUpdate, protocol.Presence{UserID: c.userID, Status: st})
}

func (c *Client) fireAndForget(event string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed || c.conn == nil {
		c.log.Info("signal dropped: not connected", zap.String("event", event))
		return
	}
	_ = c.writeLocked(event, data, 0)
}

// --- inbound ---

func (c *Client) readLoop(conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.disconnected(conn, err)
			return
		}
		c.handleFrame(conn, data)
	}
}

func (c *Client) handleFrame(conn Conn, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		c.log.Warn("dropping malformed frame", zap.Error(err))
		return
	}

	switch env.Event {
	case protocol.EventAck:
		c.handleAck(env)
	case protocol.EventNewMessage:
		c.handleNewMessage(conn, env)
	case protocol.EventTypingStart, protocol.EventTypingStop:
		var tp protocol.Typing
		if err := env.Bind(&tp); err != nil {
			c.log.Warn("bad typing payload", zap.Error(err))
			return
		}
		typing := env.Event == protocol.EventTypingStart
		c.busEmit("rt.typing", tp)
		c.handlers.notifyTyping(tp, typing)
	case protocol.EventUserJoined, protocol.EventUserLeft, protocol.EventUserOffline, protocol.EventStatusUpdate:
		var p protocol.Presence
		if err := env.Bind(&p); err != nil {
			c.log.Warn("bad presence payload", zap.Error(err))
			return
		}
		if p.Status == "" {
			p.Status = presenceStatus(env.Event)
		}
		c.busEmit("rt.presence", p)
		c.handlers.notifyPresence(p)
	case protocol.EventDeliveryConfirmed:
		var conf protocol.DeliveryConfirmation
		if err := env.Bind(&conf); err != nil {
			c.log.Warn("bad delivery confirmation", zap.Error(err))
			return
		}
		c.busEmit("rt.delivery_confirmed", conf)
		c.handlers.notifyDelivery(conf)
	case protocol.EventMessageRead:
		var rr protocol.ReadReceipt
		if err := env.Bind(&rr); err == nil {
			c.busEmit("rt.message_read", rr)
		}
		c.log.Debug("message read", zap.String("msg_id", rr.MessageID))
	case protocol.EventReactionAdded, protocol.EventReactionRemoved:
		var r protocol.Reaction
		if err := env.Bind(&r); err == nil {
			c.busEmit("rt."+env.Event, r)
		}
		c.log.Debug("reaction event", zap.String("event", env.Event), zap.String("msg_id", r.MessageID))
	case protocol.EventMessageEdited:
		var me protocol.MessageEdit
		if err := env.Bind(&me); err == nil {
			c.busEmit("rt.message_edited", me)
		}
	case protocol.EventMessageDeleted:
		var md protocol.MessageDelete
		if err := env.Bind(&md); err == nil {
			c.busEmit("rt.message_deleted", md)
		}
	case protocol.EventPong:
		c.mu.Lock()
		c.pongPending = false
		c.missedPongs = 0
		c.mu.Unlock()
	case protocol.EventError:
		var se protocol.ServerError
		if err := env.Bind(&se); err != nil {
			c.log.Warn("bad error payload", zap.Error(err))
			return
		}
		c.log.Error("server error", zap.String("code", se.Code), zap.String("message", se.Message))
		c.handlers.notifyError(fmt.Errorf("server error: %s", se.Message))
	default:
		c.log.Debug("ignoring unknown event", zap.String("event", env.Event))
	}
}

func (c *Client) handleAck(env *protocol.Envelope) {
	c.mu.Lock()
	ch, ok := c.acks[env.Ack]
	delete(c.acks, env.Ack)
	c.mu.Unlock()
	if !ok {
		return
	}
	var res protocol.AckResult
	if err := env.Bind(&res); err != nil {
		res = protocol.AckResult{OK: false, Error: "malformed acknowledgement"}
	}
	select {
	case ch <- res:
	default:
	}
}

// handleNewMessage acknowledges receipt to the network before handing the
// message to observers: a slow or absent UI listener never skips the
// delivery confirmation.
func (c *Client) handleNewMessage(conn Conn, env *protocol.Envelope) {
	var msg protocol.ChatMessage
	if err := env.Bind(&msg); err != nil {
		c.log.Warn("bad message payload", zap.Error(err))
		return
	}
	if msg.ID != "" && msg.SenderID != "" {
		c.mu.Lock()
		if c.conn == conn {
			_ = c.writeLocked(protocol.EventMessageDelivered,
				protocol.Delivered{MessageID: msg.ID, SenderID: msg.SenderID}, 0)
		}
		c.mu.Unlock()
	}
	c.busEmit("rt.message", msg)
	c.handlers.notifyMessage(msg)
}

func presenceStatus(event string) string {
	switch event {
	case protocol.EventUserJoined:
		return "online"
	case protocol.EventUserLeft:
		return "away"
	case protocol.EventUserOffline:
		return "offline"
	}
	return ""
}

func (c *Client) writeLocked(event string, data any, ack uint64) error {
	if c.conn == nil {
		return errNotConnected
	}
	raw, err := protocol.Encode(event, data, ack)
	if err != nil {
		c.log.Error("encode frame", zap.String("event", event), zap.Error(err))
		return err
	}
	if err := c.conn.WriteMessage(raw); err != nil {
		c.log.Warn("write failed", zap.String("event", event), zap.Error(err))
		return err
	}
	return nil
}

func (c *Client) busEmit(kind string, payload any) {
	if c.bus != nil {
		c.bus.Emit(kind, payload)
	}
}
