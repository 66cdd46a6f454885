package client

import (
	"encoding/json"
	"sort"
	"time"
)

// PendingPublish is a publish the hub has not acknowledged yet.
type PendingPublish struct {
	MsgID      string
	Channel    string
	Payload    json.RawMessage
	RetryCount int
	QueuedAt   time.Time
	seq        uint64
	// resend marks a publish that was on the wire when its connection
	// dropped.
	resend bool
}

// outbox stores pending publishes by client message id. It is guarded by
// the owning Client's mutex.
type outbox struct {
	seq   uint64
	items map[string]*PendingPublish
}

func newOutbox() *outbox {
	return &outbox{items: make(map[string]*PendingPublish)}
}

func (o *outbox) add(item *PendingPublish) {
	o.seq++
	item.seq = o.seq
	o.items[item.MsgID] = item
}

func (o *outbox) remove(msgID string) bool {
	if _, ok := o.items[msgID]; !ok {
		return false
	}
	delete(o.items, msgID)
	return true
}

func (o *outbox) clear() {
	o.items = make(map[string]*PendingPublish)
}

func (o *outbox) len() int {
	return len(o.items)
}

// list returns pending publishes in the order they were issued.
func (o *outbox) list() []*PendingPublish {
	out := make([]*PendingPublish, 0, len(o.items))
	for _, item := range o.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].seq < out[j].seq
	})
	return out
}
