package hub

import (
	"fmt"

	"github.com/life-stream-dev/life-stream-go-hub/internal/logger"
	"github.com/life-stream-dev/life-stream-go-hub/internal/protocol"
)

// HandleFrame processes one inbound frame. Oversized frames are refused
// before decoding. Any rejected request is answered with an error envelope
// and leaves the hub unchanged.
func (h *Hub) HandleFrame(id ConnID, data []byte) {
	h.Touch(id)
	if err := protocol.CheckSize(data, h.cfg.MaxMessageSize); err != nil {
		h.reject(id, err, "")
		return
	}
	env, err := protocol.Decode(data)
	if err != nil {
		h.reject(id, err, "")
		return
	}
	if ref, err := h.dispatch(id, env); err != nil {
		h.reject(id, err, ref)
	}
}

// dispatch runs the operation an envelope asks for. The returned ref is the
// correlation id to echo back when the operation fails.
func (h *Hub) dispatch(id ConnID, env protocol.Envelope) (string, error) {
	switch e := env.(type) {
	case protocol.Register:
		channels, err := h.Register(id, e.ID)
		if err != nil {
			return "", err
		}
		h.reply(id, protocol.Registered{ID: e.ID, Channels: channels, Timestamp: protocol.Now()})
	case protocol.Subscribe:
		members, err := h.Subscribe(h.IdentityOf(id), e.Channel)
		if err != nil {
			return "", err
		}
		h.reply(id, protocol.Subscribed{Channel: e.Channel, Members: members, Timestamp: protocol.Now()})
	case protocol.Unsubscribe:
		members, err := h.Unsubscribe(h.IdentityOf(id), e.Channel)
		if err != nil {
			return "", err
		}
		h.reply(id, protocol.Unsubscribed{Channel: e.Channel, Members: members, Timestamp: protocol.Now()})
	case protocol.Publish:
		if _, err := h.publish(h.IdentityOf(id), e.Channel, e.Payload, e.MsgID); err != nil {
			return e.MsgID, err
		}
	case protocol.Ack:
		if identity := h.IdentityOf(id); identity != "" {
			h.OnAck(identity, e.MsgID)
		}
	case protocol.Ping:
		h.reply(id, protocol.Pong{Timestamp: protocol.Now()})
	case protocol.Pong:
		// activity was already recorded
	case protocol.Unknown:
		return "", fmt.Errorf("%w: %q", protocol.ErrUnknownType, e.Kind)
	default:
		return "", fmt.Errorf("%w: %q", protocol.ErrUnexpectedType, env.Type())
	}
	return "", nil
}

func (h *Hub) reply(id ConnID, env protocol.Envelope) {
	h.mu.Lock()
	c, ok := h.conns[id]
	h.mu.Unlock()
	if ok {
		h.sendTo(c, env)
	}
}

func (h *Hub) reject(id ConnID, err error, ref string) {
	logger.DebugF("[%s] Request rejected (%s), details: %v", id, protocol.KindOf(err), err)
	h.reply(id, protocol.ErrorReply{Error: err.Error(), Ref: ref, Timestamp: protocol.Now()})
}
