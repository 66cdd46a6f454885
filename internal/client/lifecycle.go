package client

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/life-stream-dev/life-stream-go-hub/internal/logger"
	"github.com/life-stream-dev/life-stream-go-hub/internal/protocol"
)

// dialLocked starts one connection attempt bounded by ConnectTimeout.
func (c *Client) dialLocked() {
	c.gen++
	gen := c.gen
	c.state = StateConnecting
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	c.dialCancel = cancel
	go c.dial(ctx, cancel, gen)
}

func (c *Client) dial(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer cancel()
	t, err := c.dialer.Dial(ctx, c.cfg.ServerURL)
	if err == nil && ctx.Err() != nil {
		_ = t.Close(closeNormal, "connection deadline exceeded")
		t, err = nil, ctx.Err()
	}

	c.mu.Lock()
	if gen != c.gen || c.state != StateConnecting {
		c.mu.Unlock()
		if t != nil {
			_ = t.Close(closeNormal, "connection attempt superseded")
		}
		return
	}
	c.dialCancel = nil

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %v", ErrConnectTimeout, c.cfg.ConnectTimeout, err)
		}
		attempt := c.backoff.attempt + 1
		c.state = StateDisconnected
		c.emit(ConnectFailed{Attempt: attempt, Err: err})
		if c.autoReconnect {
			c.scheduleReconnectLocked()
		}
		c.mu.Unlock()
		logger.WarnF("Fail to connect to %s (attempt %d), details: %v", c.cfg.ServerURL, attempt, err)
		return
	}

	c.backoff.reset()
	c.state = StateConnected
	c.transport = t
	c.connCtx, c.connCancel = context.WithCancel(context.Background())
	c.flushing = true
	c.holdPublishesLocked()
	connCtx, epoch := c.connCtx, c.epoch
	c.emit(Connected{})
	c.mu.Unlock()

	logger.InfoF("Connected to %s, registering as %s", c.cfg.ServerURL, c.cfg.Identity)
	go c.readLoop(connCtx, t, gen)
	go c.heartbeatLoop(connCtx, t)
	c.flush(connCtx, t, gen, epoch)
}

// holdPublishesLocked moves queued publishes aside until registration.
// The other queued frames keep their order.
func (c *Client) holdPublishesLocked() {
	rest := c.queue[:0:0]
	for _, f := range c.queue {
		if f.ref != "" {
			c.held = append(c.held, f)
		} else {
			rest = append(rest, f)
		}
	}
	c.queue = rest
}

// flush sends register, then drains the offline queue in order. Frames
// queued while it runs are picked up before it finishes.
func (c *Client) flush(ctx context.Context, t Transport, gen, epoch uint64) {
	register := protocol.MustEncode(protocol.Register{ID: c.cfg.Identity, Timestamp: protocol.Now()})
	if err := c.write(ctx, t, register); err != nil {
		logger.WarnF("Fail to send register, details: %v", err)
		c.mu.Lock()
		if gen == c.gen {
			c.flushing = false
		}
		c.mu.Unlock()
		return
	}

	for {
		c.mu.Lock()
		if gen != c.gen || c.transport != t {
			c.mu.Unlock()
			return
		}
		if len(c.queue) == 0 {
			c.flushing = false
			c.mu.Unlock()
			return
		}
		batch := c.queue
		c.queue = nil
		c.mu.Unlock()

		for i, f := range batch {
			if err := c.write(ctx, t, f.data); err != nil {
				logger.WarnF("Fail to flush queued frame, details: %v", err)
				c.mu.Lock()
				if epoch == c.epoch {
					c.queue = append(slices.Clone(batch[i:]), c.queue...)
				}
				if gen == c.gen {
					c.flushing = false
				}
				c.mu.Unlock()
				return
			}
		}
		logger.DebugF("Flushed %d queued frames", len(batch))
	}
}

func (c *Client) readLoop(ctx context.Context, t Transport, gen uint64) {
	for {
		data, err := t.Read(ctx)
		if err != nil {
			c.handleClose(t, gen, err)
			return
		}
		c.handleFrame(data)
	}
}

// heartbeatLoop pings on a fixed interval. A failed ping is only logged;
// the read loop decides when the connection is gone.
func (c *Client) heartbeatLoop(ctx context.Context, t Transport) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ping := protocol.MustEncode(protocol.Ping{Timestamp: protocol.Now()})
			if err := c.write(ctx, t, ping); err != nil && ctx.Err() == nil {
				logger.WarnF("Fail to send heartbeat, details: %v", err)
			}
		}
	}
}

func (c *Client) handleClose(t Transport, gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen || c.transport != t {
		c.mu.Unlock()
		return
	}
	c.transport = nil
	c.connCancel()
	c.connCtx, c.connCancel = nil, nil
	c.flushing = false
	c.state = StateDisconnected
	// never written, so they go back to the offline queue
	c.queue = append(c.held, c.queue...)
	c.held = nil
	if c.cfg.ResendUnacked {
		c.markInFlightLocked()
	} else {
		c.outbox.clear()
	}
	code := CloseCode(cause)
	c.emit(Disconnected{Code: code, Reason: cause})
	if c.autoReconnect {
		c.scheduleReconnectLocked()
	}
	c.mu.Unlock()

	_ = t.Close(closeNormal, "")
	logger.InfoF("Connection to hub lost (status %d), details: %v", code, cause)
}

// markInFlightLocked flags pending publishes that already left the queue so
// they are sent again after the next registration.
func (c *Client) markInFlightLocked() {
	queued := make(map[string]struct{}, len(c.queue))
	for _, f := range c.queue {
		if f.ref != "" {
			queued[f.ref] = struct{}{}
		}
	}
	for _, p := range c.outbox.items {
		if _, ok := queued[p.MsgID]; !ok {
			p.resend = true
		}
	}
}

func (c *Client) scheduleReconnectLocked() {
	delay := c.backoff.next()
	c.state = StateReconnecting
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.reconnectTimer != timer || c.state != StateReconnecting {
			return
		}
		c.reconnectTimer = nil
		c.dialLocked()
	})
	c.reconnectTimer = timer
	logger.InfoF("Reconnecting to %s in %s (attempt %d)", c.cfg.ServerURL, delay, c.backoff.attempt)
}

func (c *Client) stopReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Client) handleFrame(data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		logger.WarnF("Discard frame from hub, details: %v", err)
		return
	}
	switch e := env.(type) {
	case protocol.Welcome:
		c.mu.Lock()
		c.clientID = e.ClientID
		c.mu.Unlock()
		logger.DebugF("[%s] Hub assigned connection id", e.ClientID)
	case protocol.Registered:
		c.onRegistered(e)
	case protocol.Subscribed:
		c.emit(Subscribed{Channel: e.Channel, Members: e.Members})
	case protocol.Unsubscribed:
		c.emit(Unsubscribed{Channel: e.Channel, Members: e.Members})
	case protocol.MemberJoined:
		c.emit(MemberJoined{Channel: e.Channel, Member: e.Member, Members: e.Members})
	case protocol.MemberLeft:
		c.emit(MemberLeft{Channel: e.Channel, Member: e.Member, Members: e.Members})
	case protocol.Message:
		c.sendFrame(queuedFrame{data: protocol.MustEncode(protocol.Ack{MsgID: e.MsgID, Timestamp: protocol.Now()})})
		c.emit(MessageReceived{Message: e})
	case protocol.Ack:
		c.settle(e.Ref)
		c.emit(PublishAccepted{MsgID: e.MsgID, Ref: e.Ref})
	case protocol.ErrorReply:
		c.settle(e.Ref)
		logger.WarnF("Hub rejected a request: %s", e.Error)
		c.emit(ServerError{Message: e.Error, Ref: e.Ref})
	case protocol.Ping:
		c.sendFrame(queuedFrame{data: protocol.MustEncode(protocol.Pong{Timestamp: protocol.Now()})})
	case protocol.Pong:
	case protocol.Unknown:
		logger.DebugF("Ignore %q envelope from hub", e.Kind)
	default:
		logger.DebugF("Ignore unexpected %q envelope from hub", env.Type())
	}
}

func (c *Client) settle(ref string) {
	if ref == "" {
		return
	}
	c.mu.Lock()
	c.outbox.remove(ref)
	c.mu.Unlock()
}

// onRegistered re-joins every remembered channel, sends again the publishes
// a dropped connection left unacknowledged when enabled, then releases the
// publishes held since the transport opened.
func (c *Client) onRegistered(e protocol.Registered) {
	c.mu.Lock()
	if c.transport == nil {
		c.mu.Unlock()
		return
	}
	c.state = StateRegistered
	channels := slices.Sorted(maps.Keys(c.channels))
	var resend []protocol.Publish
	for _, p := range c.outbox.list() {
		if !p.resend {
			continue
		}
		p.resend = false
		p.RetryCount++
		resend = append(resend, protocol.Publish{Channel: p.Channel, Payload: p.Payload, MsgID: p.MsgID})
	}
	held := c.held
	c.held = nil
	c.mu.Unlock()

	logger.InfoF("Registered as %s, rejoining %d channels", e.ID, len(channels))
	c.emit(Registered{Identity: e.ID, Channels: e.Channels})
	for _, ch := range channels {
		_ = c.Send(protocol.Subscribe{Channel: ch, Timestamp: protocol.Now()})
	}
	for _, p := range resend {
		p.Timestamp = protocol.Now()
		c.sendFrame(queuedFrame{data: protocol.MustEncode(p), ref: p.MsgID})
	}
	for _, f := range held {
		c.sendFrame(f)
	}
}
