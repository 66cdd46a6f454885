package hub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/life-stream-dev/life-stream-go-hub/internal/logger"
	"github.com/life-stream-dev/life-stream-go-hub/internal/protocol"
)

// Publish fans payload out to every member of channel, the sender included,
// and tracks one pending delivery per other member. The sender gets an
// immediate ack meaning the hub accepted the message.
func (h *Hub) Publish(sender, channel string, payload json.RawMessage) (string, error) {
	return h.publish(sender, channel, payload, "")
}

// publish is Publish with the client correlation id echoed in the ack.
func (h *Hub) publish(sender, channel string, payload json.RawMessage, ref string) (string, error) {
	h.mu.Lock()
	c, ok := h.identities[sender]
	if !ok {
		h.mu.Unlock()
		return "", protocol.ErrNotRegistered
	}
	if err := protocol.ValidateChannel(channel); err != nil {
		h.mu.Unlock()
		return "", err
	}
	members := h.channels[channel]
	if _, joined := members[sender]; !joined {
		h.mu.Unlock()
		return "", protocol.ErrNotSubscribed
	}
	if err := h.checkPayload(payload); err != nil {
		h.mu.Unlock()
		return "", err
	}

	now := time.Now()
	msg := &Message{
		ID:        uuid.NewString(),
		Channel:   channel,
		Sender:    sender,
		Payload:   bytes.Clone(payload),
		CreatedAt: now,
	}
	out := make([]outbound, 0, len(members)+1)
	out = append(out, frameFor(c, protocol.MustEncode(protocol.Ack{
		MsgID:     msg.ID,
		Ref:       ref,
		Timestamp: now.UnixMilli(),
	})))
	frame := protocol.MustEncode(msg.envelope())
	for _, member := range memberList(members) {
		mc, bound := h.identities[member]
		if !bound {
			continue
		}
		out = append(out, frameFor(mc, frame))
		if member != sender {
			h.trackLocked(msg, member, now)
		}
	}
	h.mu.Unlock()

	h.cache.add(msg)
	h.deliver(out)
	logger.DebugF("[%s] %s published %s to %s (%d recipients)", c.ID, sender, msg.ID, channel, len(out)-2)
	return msg.ID, nil
}

func (h *Hub) checkPayload(payload json.RawMessage) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return fmt.Errorf("%w: missing payload", protocol.ErrMalformed)
	}
	if len(payload) > h.cfg.MaxPayloadSize {
		return protocol.ErrPayloadTooLarge
	}
	if !json.Valid(payload) {
		return fmt.Errorf("%w: payload is not valid JSON", protocol.ErrMalformed)
	}
	return nil
}

// OnAck confirms delivery of msgID to recipient and reports whether a
// pending delivery was removed. Duplicate and late acks are ignored.
func (h *Hub) OnAck(recipient, msgID string) bool {
	h.mu.Lock()
	pd, ok := h.pending[recipient][msgID]
	if ok {
		h.untrackLocked(pd)
	}
	h.mu.Unlock()

	if ok {
		logger.DebugF("Delivery of %s to %s confirmed after %d retries", msgID, recipient, pd.RetryCount)
	}
	return ok
}

// Pending returns the number of unconfirmed deliveries addressed to
// recipient.
func (h *Hub) Pending(recipient string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending[recipient])
}

func (h *Hub) trackLocked(msg *Message, recipient string, now time.Time) {
	pd := &PendingDelivery{
		MessageID:   msg.ID,
		Recipient:   recipient,
		NextRetryAt: now.Add(h.cfg.RetryInterval),
		Message:     msg,
	}
	pd.timer = time.AfterFunc(h.cfg.RetryInterval, func() { h.onRetryTimeout(pd) })
	byMsg, ok := h.pending[recipient]
	if !ok {
		byMsg = make(map[string]*PendingDelivery)
		h.pending[recipient] = byMsg
	}
	byMsg[msg.ID] = pd
}

func (h *Hub) untrackLocked(pd *PendingDelivery) {
	pd.timer.Stop()
	byMsg := h.pending[pd.Recipient]
	delete(byMsg, pd.MessageID)
	if len(byMsg) == 0 {
		delete(h.pending, pd.Recipient)
	}
}
