// Package hub owns the shared state of the pub/sub service: open
// connections, identity bindings, channel membership and messages awaiting
// delivery confirmation. Every mutation happens under one mutex and no I/O is
// performed while it is held; frames produced by an operation are handed to
// the per-connection senders after unlocking.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/life-stream-dev/life-stream-go-hub/internal/database"
	"github.com/life-stream-dev/life-stream-go-hub/internal/logger"
	"github.com/life-stream-dev/life-stream-go-hub/internal/protocol"
)

const storeTimeout = 5 * time.Second

var (
	ErrUnknownConnection = errors.New("hub: unknown connection")
	ErrClosed            = errors.New("hub: closed")
)

// ConnID identifies one physical transport connection. It is never reused.
type ConnID string

// CloseReason is the status code and text the hub uses when it closes a
// connection itself.
type CloseReason struct {
	Code int
	Text string
}

var (
	CloseCapacity            = CloseReason{Code: 1013, Text: "capacity exceeded"}
	CloseRegistrationTimeout = CloseReason{Code: 4001, Text: "registration deadline exceeded"}
	CloseHeartbeatTimeout    = CloseReason{Code: 4002, Text: "heartbeat timeout"}
	CloseShutdown            = CloseReason{Code: 1001, Text: "server shutting down"}
)

// Sender is the outbound half of a transport connection. Send must not
// block; a full or closed connection reports an error instead.
type Sender interface {
	Send(data []byte) error
	Close(code int, reason string)
}

// Message is an accepted publish.
type Message struct {
	ID        string          `json:"msgId"`
	Channel   string          `json:"channel"`
	Sender    string          `json:"from"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

func (m *Message) envelope() protocol.Message {
	return protocol.Message{
		MsgID:     m.ID,
		Channel:   m.Channel,
		From:      m.Sender,
		Payload:   m.Payload,
		Timestamp: m.CreatedAt.UnixMilli(),
	}
}

// PendingDelivery is one unconfirmed (message, recipient) pair. It owns its
// retry timer.
type PendingDelivery struct {
	MessageID   string
	Recipient   string
	RetryCount  int
	NextRetryAt time.Time
	Message     *Message
	timer       *time.Timer
}

// Conn is the hub's view of one transport connection. Fields below the
// sender are guarded by Hub.mu.
type Conn struct {
	ID        ConnID
	CreatedAt time.Time

	sender       Sender
	lastActivity atomic.Int64

	open              bool
	identity          string
	registeredAt      time.Time
	channels          map[string]struct{}
	registrationTimer *time.Timer
	heartbeatTimer    *time.Timer
}

func (c *Conn) touch(now time.Time) {
	c.lastActivity.Store(now.UnixNano())
}

func (c *Conn) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastActivity.Load()))
}

func (c *Conn) stopTimers() {
	if c.registrationTimer != nil {
		c.registrationTimer.Stop()
	}
	if c.heartbeatTimer != nil {
		c.heartbeatTimer.Stop()
	}
}

// Stats is a point-in-time summary of hub state.
type Stats struct {
	Connections int `json:"connections"`
	Identities  int `json:"identities"`
	Channels    int `json:"channels"`
	Pending     int `json:"pending"`
}

type Option func(*Hub)

// WithStore mirrors registrations into a presence store.
func WithStore(store database.SessionStore) Option {
	return func(h *Hub) { h.store = store }
}

func WithObserver(observer Observer) Option {
	return func(h *Hub) { h.observer = observer }
}

type Hub struct {
	cfg      Config
	store    database.SessionStore
	observer Observer
	cache    *messageCache

	mu         sync.Mutex
	closed     bool
	conns      map[ConnID]*Conn
	identities map[string]*Conn
	channels   map[string]map[string]struct{}
	// recipient identity -> message id -> delivery
	pending map[string]map[string]*PendingDelivery
}

func New(cfg Config, opts ...Option) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:        cfg,
		observer:   noopObserver{},
		cache:      newMessageCache(cfg.MessageCacheSize, cfg.MessageCacheTTL),
		conns:      make(map[ConnID]*Conn),
		identities: make(map[string]*Conn),
		channels:   make(map[string]map[string]struct{}),
		pending:    make(map[string]map[string]*PendingDelivery),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Config() Config {
	return h.cfg
}

// Close stops every timer, drops all state and closes every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	senders := make([]Sender, 0, len(h.conns))
	for _, c := range h.conns {
		c.open = false
		c.stopTimers()
		senders = append(senders, c.sender)
	}
	for _, byMsg := range h.pending {
		for _, pd := range byMsg {
			pd.timer.Stop()
		}
	}
	h.conns = make(map[ConnID]*Conn)
	h.identities = make(map[string]*Conn)
	h.channels = make(map[string]map[string]struct{})
	h.pending = make(map[string]map[string]*PendingDelivery)
	h.mu.Unlock()

	h.cache.purge()
	for _, s := range senders {
		s.Close(CloseShutdown.Code, CloseShutdown.Text)
	}
	logger.InfoF("Hub closed, %d connections dropped", len(senders))
}

// Invoke lets the hub be registered with the shutdown cleaner.
func (h *Hub) Invoke(context.Context) error {
	h.Close()
	return nil
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	pending := 0
	for _, byMsg := range h.pending {
		pending += len(byMsg)
	}
	return Stats{
		Connections: len(h.conns),
		Identities:  len(h.identities),
		Channels:    len(h.channels),
		Pending:     pending,
	}
}

// Lookup returns a recently published message while it is still cached.
func (h *Hub) Lookup(msgID string) (*Message, bool) {
	return h.cache.get(msgID)
}

// IdentityOf returns the identity bound to a connection, or "".
func (h *Hub) IdentityOf(id ConnID) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.conns[id]; ok {
		return c.identity
	}
	return ""
}

// Members returns the sorted member list of a channel.
func (h *Hub) Members(channel string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return memberList(h.channels[channel])
}

// Touch records inbound activity for the heartbeat check.
func (h *Hub) Touch(id ConnID) {
	h.mu.Lock()
	c, ok := h.conns[id]
	h.mu.Unlock()
	if ok {
		c.touch(time.Now())
	}
}

func memberList(set map[string]struct{}) []string {
	if len(set) == 0 {
		return []string{}
	}
	return slices.Sorted(maps.Keys(set))
}

// outbound is a frame bound for one connection, built under the lock and
// sent after it is released.
type outbound struct {
	conn   ConnID
	sender Sender
	data   []byte
}

func frameFor(c *Conn, data []byte) outbound {
	return outbound{conn: c.ID, sender: c.sender, data: data}
}

func (h *Hub) deliver(out []outbound) {
	for _, o := range out {
		if err := o.sender.Send(o.data); err != nil {
			logger.WarnF("[%s] Fail to send frame, details: %v", o.conn, err)
		}
	}
}

func (h *Hub) sendTo(c *Conn, env protocol.Envelope) {
	h.deliver([]outbound{frameFor(c, protocol.MustEncode(env))})
}

func (h *Hub) saveSession(session *database.SessionData) {
	if h.store == nil || session == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := h.store.SaveSession(ctx, session); err != nil {
		logger.WarnF("[%s] Fail to save presence of %s, details: %v", session.ConnID, session.Identity, err)
	}
}

func (h *Hub) deleteSession(identity string, id ConnID) {
	if h.store == nil || identity == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := h.store.DeleteSession(ctx, identity, string(id)); err != nil {
		logger.WarnF("[%s] Fail to delete presence of %s, details: %v", id, identity, err)
	}
}

// sessionSnapshot must be called with h.mu held.
func (h *Hub) sessionSnapshot(c *Conn) *database.SessionData {
	if h.store == nil {
		return nil
	}
	session := database.NewSessionData(c.identity, string(c.ID), c.registeredAt)
	session.UpdatedAt = time.Now()
	session.Channels = memberList(c.channels)
	return session
}
