package hub

import (
	"time"

	"github.com/life-stream-dev/life-stream-go-hub/internal/logger"
	"github.com/life-stream-dev/life-stream-go-hub/internal/protocol"
)

// OnRetryTimeout handles an expired retry timer for (msgID, recipient).
// While the retry budget lasts the message is sent again and the timer
// re-armed; after that the delivery is dropped and only the Observer hears
// about it.
func (h *Hub) OnRetryTimeout(msgID, recipient string) {
	h.mu.Lock()
	pd := h.pending[recipient][msgID]
	h.mu.Unlock()
	if pd != nil {
		h.onRetryTimeout(pd)
	}
}

func (h *Hub) onRetryTimeout(pd *PendingDelivery) {
	h.mu.Lock()
	// the entry may have been acked or cancelled while the timer fired
	if h.pending[pd.Recipient][pd.MessageID] != pd {
		h.mu.Unlock()
		return
	}

	if pd.RetryCount >= h.cfg.MaxRetries {
		h.untrackLocked(pd)
		h.mu.Unlock()
		logger.WarnF("%v: message %s to %s dropped after %d retries",
			protocol.ErrDeliveryExhausted, pd.MessageID, pd.Recipient, pd.RetryCount)
		h.observer.DeliveryExhausted(pd.Message, pd.Recipient)
		return
	}

	pd.RetryCount++
	attempt := pd.RetryCount
	pd.NextRetryAt = time.Now().Add(h.cfg.RetryInterval)
	pd.timer.Reset(h.cfg.RetryInterval)
	var out []outbound
	if c, ok := h.identities[pd.Recipient]; ok && c.open {
		out = append(out, frameFor(c, protocol.MustEncode(pd.Message.envelope())))
	}
	h.mu.Unlock()

	h.deliver(out)
	if len(out) == 0 {
		logger.DebugF("Retry %d of %s skipped, %s unreachable", attempt, pd.MessageID, pd.Recipient)
	} else {
		logger.DebugF("Retry %d of %s sent to %s", attempt, pd.MessageID, pd.Recipient)
	}
	h.observer.Redelivered(pd.Message, pd.Recipient, attempt)
}
