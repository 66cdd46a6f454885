// Package client is the connection agent for the hub. It owns one outbound
// connection: dialing with a deadline, reconnecting with exponential
// backoff, heartbeats, an offline queue and bookkeeping for publishes the
// hub has not acknowledged yet.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/life-stream-dev/life-stream-go-hub/internal/logger"
	"github.com/life-stream-dev/life-stream-go-hub/internal/protocol"
)

const closeNormal = 1000

var (
	ErrClientClosed   = errors.New("client: disconnected by caller")
	ErrConnectTimeout = errors.New("client: connection establishment timed out")
)

type Option func(*Client)

// WithDialer replaces the WebSocket dialer.
func WithDialer(dialer Dialer) Option {
	return func(c *Client) { c.dialer = dialer }
}

type queuedFrame struct {
	data []byte
	ref  string
}

type Client struct {
	cfg    Config
	dialer Dialer
	events chan Event

	mu             sync.Mutex
	state          State
	autoReconnect  bool
	gen            uint64 // bumped per dial attempt and by Disconnect
	epoch          uint64 // bumped by Disconnect only
	backoff        backoff
	dialCancel     context.CancelFunc
	reconnectTimer *time.Timer
	transport      Transport
	connCtx        context.Context
	connCancel     context.CancelFunc
	flushing       bool
	queue          []queuedFrame
	held           []queuedFrame // publishes waiting for registration
	outbox         *outbox
	channels       map[string]struct{}
	clientID       string

	writeMu sync.Mutex
}

func New(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := protocol.ValidateIdentity(cfg.Identity); err != nil {
		return nil, fmt.Errorf("client identity %q: %w", cfg.Identity, err)
	}
	c := &Client{
		cfg:      cfg,
		dialer:   WebSocketDialer{ReadLimit: cfg.ReadLimit},
		events:   make(chan Event, cfg.EventBuffer),
		backoff:  backoff{initial: cfg.ReconnectInitialDelay, max: cfg.ReconnectMaxDelay},
		outbox:   newOutbox(),
		channels: make(map[string]struct{}),
	}
	for _, ch := range cfg.Channels {
		if err := protocol.ValidateChannel(ch); err != nil {
			return nil, fmt.Errorf("client channel %q: %w", ch, err)
		}
		c.channels[ch] = struct{}{}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Events delivers lifecycle and message events. Events are dropped with a
// warning when the buffer is full.
func (c *Client) Events() <-chan Event {
	return c.events
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Identity() string {
	return c.cfg.Identity
}

// ClientID is the connection id from the hub's last welcome.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Channels returns the channels re-joined on every registration.
func (c *Client) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Sorted(maps.Keys(c.channels))
}

// QueueLen is the number of frames waiting for a connection or, for
// publishes, for registration.
func (c *Client) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue) + len(c.held)
}

// PendingPublishes lists publishes not yet acknowledged by the hub, oldest
// first.
func (c *Client) PendingPublishes() []PendingPublish {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := c.outbox.list()
	out := make([]PendingPublish, len(items))
	for i, item := range items {
		out[i] = *item
	}
	return out
}

// Connect starts connecting in the background. It does nothing while a
// connection is being established or is up; a pending reconnect is
// replaced by an immediate attempt.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateConnecting, StateConnected, StateRegistered:
		return
	case StateReconnecting:
		c.stopReconnectLocked()
	}
	c.autoReconnect = c.cfg.AutoReconnect
	c.dialLocked()
}

// Disconnect closes the connection for good: auto-reconnect is turned off,
// timers and any dial in flight are cancelled, and queued frames and
// pending publishes are discarded. A Disconnected event is emitted only when
// a connection was up; a drop already reported its own.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.autoReconnect = false
	c.gen++
	c.epoch++
	c.stopReconnectLocked()
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	t, cancel := c.transport, c.connCancel
	c.transport, c.connCtx, c.connCancel = nil, nil, nil
	c.flushing = false
	c.queue, c.held = nil, nil
	c.outbox.clear()
	c.state = StateDisconnected
	c.mu.Unlock()

	if t != nil {
		if err := t.Close(closeNormal, "client disconnect"); err != nil {
			logger.DebugF("Close handshake with hub failed, details: %v", err)
		}
	}
	if cancel != nil {
		cancel()
	}
	if t != nil {
		c.emit(Disconnected{Code: closeNormal, Reason: ErrClientClosed})
		logger.InfoF("Disconnected from hub as %s", c.cfg.Identity)
	}
}

// Send encodes env and writes it now when a connection is up, or queues it
// until the next one. Envelopes larger than MaxMessageSize are refused with
// protocol.ErrMessageTooLarge and never queued.
func (c *Client) Send(env protocol.Envelope) error {
	data, err := c.encode(env)
	if err != nil {
		return err
	}
	c.sendFrame(queuedFrame{data: data})
	return nil
}

// Publish sends payload to channel and returns the client-side message id
// echoed by the hub's acceptance ack. payload is marshaled with
// encoding/json unless it already is a json.RawMessage.
func (c *Client) Publish(channel string, payload any) (string, error) {
	raw, ok := payload.(json.RawMessage)
	if !ok {
		var err error
		if raw, err = json.Marshal(payload); err != nil {
			err = fmt.Errorf("encode payload: %w", err)
			c.emit(LocalError{Err: err})
			return "", err
		}
	}
	msgID := uuid.NewString()
	data, err := c.encode(protocol.Publish{
		Channel:   channel,
		Payload:   raw,
		MsgID:     msgID,
		Timestamp: protocol.Now(),
	})
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.outbox.add(&PendingPublish{
		MsgID:    msgID,
		Channel:  channel,
		Payload:  raw,
		QueuedAt: time.Now(),
	})
	c.mu.Unlock()
	c.sendFrame(queuedFrame{data: data, ref: msgID})
	return msgID, nil
}

// Subscribe joins channel now and on every later registration.
func (c *Client) Subscribe(channel string) error {
	if err := protocol.ValidateChannel(channel); err != nil {
		c.emit(LocalError{Err: err})
		return err
	}
	c.mu.Lock()
	c.channels[channel] = struct{}{}
	c.mu.Unlock()
	return c.Send(protocol.Subscribe{Channel: channel, Timestamp: protocol.Now()})
}

// Unsubscribe leaves channel and forgets it.
func (c *Client) Unsubscribe(channel string) error {
	if err := protocol.ValidateChannel(channel); err != nil {
		c.emit(LocalError{Err: err})
		return err
	}
	c.mu.Lock()
	delete(c.channels, channel)
	c.mu.Unlock()
	return c.Send(protocol.Unsubscribe{Channel: channel, Timestamp: protocol.Now()})
}

func (c *Client) encode(env protocol.Envelope) ([]byte, error) {
	data, err := protocol.Encode(env)
	if err != nil {
		c.emit(LocalError{Err: err})
		return nil, err
	}
	if err := protocol.CheckSize(data, c.cfg.MaxMessageSize); err != nil {
		err = fmt.Errorf("%w: %s envelope is %d bytes, limit %d", err, env.Type(), len(data), c.cfg.MaxMessageSize)
		c.emit(LocalError{Err: err})
		return nil, err
	}
	return data, nil
}

// sendFrame writes f now or queues it. Publishes issued between transport
// open and registration are held until the remembered channels have been
// joined again, so the hub never sees them before the subscribes.
func (c *Client) sendFrame(f queuedFrame) {
	c.mu.Lock()
	if f.ref != "" && c.state == StateConnected {
		c.held = append(c.held, f)
		c.mu.Unlock()
		return
	}
	t, ctx, epoch := c.transport, c.connCtx, c.epoch
	if t == nil || c.flushing {
		c.queue = append(c.queue, f)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.write(ctx, t, f.data); err != nil {
		logger.WarnF("Fail to send frame, queued for the next connection, details: %v", err)
		c.mu.Lock()
		if epoch == c.epoch {
			c.queue = append(c.queue, f)
		}
		c.mu.Unlock()
	}
}

func (c *Client) write(ctx context.Context, t Transport, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	return t.Write(ctx, data)
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		logger.WarnF("Event buffer full, dropping %T", ev)
	}
}
