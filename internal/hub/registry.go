package hub

import (
	"time"

	"github.com/google/uuid"

	"github.com/life-stream-dev/life-stream-go-hub/internal/logger"
	"github.com/life-stream-dev/life-stream-go-hub/internal/protocol"
)

// Accept admits a new transport connection and arms its registration
// deadline and heartbeat check. When the hub is full the sender is closed
// with CloseCapacity and ErrCapacity is returned.
func (h *Hub) Accept(sender Sender) (ConnID, error) {
	now := time.Now()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sender.Close(CloseShutdown.Code, CloseShutdown.Text)
		return "", ErrClosed
	}
	if len(h.conns) >= h.cfg.MaxConnections {
		open := len(h.conns)
		h.mu.Unlock()
		logger.WarnF("Connection rejected, %d of %d connections in use", open, h.cfg.MaxConnections)
		sender.Close(CloseCapacity.Code, CloseCapacity.Text)
		return "", protocol.ErrCapacity
	}

	c := &Conn{
		ID:        ConnID(uuid.NewString()),
		CreatedAt: now,
		sender:    sender,
		open:      true,
		channels:  make(map[string]struct{}),
	}
	c.touch(now)
	id := c.ID
	c.registrationTimer = time.AfterFunc(h.cfg.RegistrationDeadline, func() { h.onRegistrationTimeout(id) })
	c.heartbeatTimer = time.AfterFunc(h.cfg.HeartbeatInterval, func() { h.onHeartbeatCheck(id) })
	h.conns[id] = c
	h.mu.Unlock()

	logger.DebugF("[%s] Connection accepted", id)
	h.sendTo(c, protocol.Welcome{ClientID: string(id), Timestamp: now.UnixMilli()})
	return id, nil
}

// Register binds identity to the connection. Registering the identity the
// connection already holds is a no-op that returns its current channels.
// A binding left behind by a connection that is already closing is
// replaced; one held by an open connection is refused.
func (h *Hub) Register(id ConnID, identity string) ([]string, error) {
	if err := protocol.ValidateIdentity(identity); err != nil {
		return nil, err
	}

	h.mu.Lock()
	c, ok := h.conns[id]
	if !ok {
		h.mu.Unlock()
		return nil, ErrUnknownConnection
	}
	if c.identity == identity {
		channels := memberList(c.channels)
		h.mu.Unlock()
		return channels, nil
	}
	if c.identity != "" {
		h.mu.Unlock()
		return nil, protocol.ErrAlreadyRegistered
	}

	var out []outbound
	var stale ConnID
	if owner, bound := h.identities[identity]; bound {
		if owner.open {
			h.mu.Unlock()
			return nil, protocol.ErrIdentityInUse
		}
		stale = owner.ID
		out = h.releaseLocked(owner)
	}

	c.identity = identity
	c.registeredAt = time.Now()
	c.registrationTimer.Stop()
	h.identities[identity] = c
	session := h.sessionSnapshot(c)
	h.mu.Unlock()

	h.deliver(out)
	if stale != "" {
		logger.InfoF("[%s] Identity %s taken over from closing connection %s", id, identity, stale)
	} else {
		logger.InfoF("[%s] Registered as %s", id, identity)
	}
	h.saveSession(session)
	return []string{}, nil
}

// Subscribe adds identity to channel and returns the sorted member list.
// The other members are told about the newcomer only on first join.
func (h *Hub) Subscribe(identity, channel string) ([]string, error) {
	h.mu.Lock()
	c, ok := h.identities[identity]
	if !ok {
		h.mu.Unlock()
		return nil, protocol.ErrNotRegistered
	}
	if err := protocol.ValidateChannel(channel); err != nil {
		h.mu.Unlock()
		return nil, err
	}

	members, exists := h.channels[channel]
	if !exists {
		members = make(map[string]struct{})
		h.channels[channel] = members
	}
	_, already := members[identity]
	var out []outbound
	if !already {
		members[identity] = struct{}{}
		c.channels[channel] = struct{}{}
		list := memberList(members)
		frame := protocol.MustEncode(protocol.MemberJoined{
			Channel:   channel,
			Member:    identity,
			Members:   list,
			Timestamp: protocol.Now(),
		})
		out = h.fanoutLocked(members, identity, frame)
	}
	list := memberList(members)
	session := h.sessionSnapshot(c)
	h.mu.Unlock()

	h.deliver(out)
	if !already {
		logger.DebugF("[%s] %s joined %s (%d members)", c.ID, identity, channel, len(list))
		h.saveSession(session)
	}
	return list, nil
}

// Unsubscribe removes identity from channel and returns the remaining
// members. Leaving a channel the identity is not in changes nothing.
func (h *Hub) Unsubscribe(identity, channel string) ([]string, error) {
	h.mu.Lock()
	c, ok := h.identities[identity]
	if !ok {
		h.mu.Unlock()
		return nil, protocol.ErrNotRegistered
	}
	if err := protocol.ValidateChannel(channel); err != nil {
		h.mu.Unlock()
		return nil, err
	}

	var out []outbound
	_, member := c.channels[channel]
	if member {
		out = h.leaveLocked(c, channel)
	}
	list := memberList(h.channels[channel])
	session := h.sessionSnapshot(c)
	h.mu.Unlock()

	h.deliver(out)
	if member {
		logger.DebugF("[%s] %s left %s", c.ID, identity, channel)
		h.saveSession(session)
	}
	return list, nil
}

// Cleanup forgets a connection: its identity leaves every channel with a
// member_left to those remaining, its pending deliveries are cancelled and
// the binding is released. Calling it twice is harmless.
func (h *Hub) Cleanup(id ConnID) {
	h.mu.Lock()
	c, ok := h.conns[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, id)
	c.open = false
	c.stopTimers()
	identity := c.identity
	var out []outbound
	if identity != "" {
		out = h.releaseLocked(c)
	}
	h.mu.Unlock()

	h.deliver(out)
	h.deleteSession(identity, id)
	if identity != "" {
		logger.InfoF("[%s] Connection of %s closed", id, identity)
	} else {
		logger.DebugF("[%s] Unregistered connection closed", id)
	}
}

// releaseLocked unbinds c's identity. It must be called with h.mu held.
func (h *Hub) releaseLocked(c *Conn) []outbound {
	var out []outbound
	for channel := range c.channels {
		out = append(out, h.leaveLocked(c, channel)...)
	}
	for _, pd := range h.pending[c.identity] {
		pd.timer.Stop()
	}
	delete(h.pending, c.identity)
	if h.identities[c.identity] == c {
		delete(h.identities, c.identity)
	}
	c.identity = ""
	return out
}

// leaveLocked removes c from one channel, dropping the channel when it
// empties, and returns the member_left frames for the rest.
func (h *Hub) leaveLocked(c *Conn, channel string) []outbound {
	delete(c.channels, channel)
	members := h.channels[channel]
	delete(members, c.identity)
	if len(members) == 0 {
		delete(h.channels, channel)
		return nil
	}
	frame := protocol.MustEncode(protocol.MemberLeft{
		Channel:   channel,
		Member:    c.identity,
		Members:   memberList(members),
		Timestamp: protocol.Now(),
	})
	return h.fanoutLocked(members, c.identity, frame)
}

func (h *Hub) fanoutLocked(members map[string]struct{}, except string, frame []byte) []outbound {
	out := make([]outbound, 0, len(members))
	for member := range members {
		if member == except {
			continue
		}
		if mc, ok := h.identities[member]; ok {
			out = append(out, frameFor(mc, frame))
		}
	}
	return out
}

func (h *Hub) onRegistrationTimeout(id ConnID) {
	h.mu.Lock()
	c, ok := h.conns[id]
	if !ok || !c.open || c.identity != "" {
		h.mu.Unlock()
		return
	}
	c.open = false
	h.mu.Unlock()

	logger.WarnF("[%s] %v, closing", id, protocol.ErrRegistrationTimeout)
	c.sender.Close(CloseRegistrationTimeout.Code, CloseRegistrationTimeout.Text)
	h.Cleanup(id)
}

// onHeartbeatCheck runs every heartbeat interval for each connection and
// closes it once nothing has been received for HeartbeatTimeout.
func (h *Hub) onHeartbeatCheck(id ConnID) {
	h.mu.Lock()
	c, ok := h.conns[id]
	if !ok || !c.open {
		h.mu.Unlock()
		return
	}
	idle := c.idleFor(time.Now())
	if idle < h.cfg.HeartbeatTimeout {
		c.heartbeatTimer.Reset(h.cfg.HeartbeatInterval)
		h.mu.Unlock()
		return
	}
	c.open = false
	h.mu.Unlock()

	logger.WarnF("[%s] %v after %s of silence, closing", id, protocol.ErrHeartbeatTimeout, idle.Truncate(time.Millisecond))
	c.sender.Close(CloseHeartbeatTimeout.Code, CloseHeartbeatTimeout.Text)
	h.Cleanup(id)
}
