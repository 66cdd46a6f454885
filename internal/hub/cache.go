package hub

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// messageCache keeps recently published messages for inspection. It is not
// a history: entries expire after the configured TTL.
type messageCache struct {
	lru *expirable.LRU[string, *Message]
}

func newMessageCache(size int, ttl time.Duration) *messageCache {
	if size <= 0 {
		return &messageCache{}
	}
	return &messageCache{lru: expirable.NewLRU[string, *Message](size, nil, ttl)}
}

func (c *messageCache) add(msg *Message) {
	if c.lru == nil {
		return
	}
	c.lru.Add(msg.ID, msg)
}

func (c *messageCache) get(id string) (*Message, bool) {
	if c.lru == nil {
		return nil, false
	}
	return c.lru.Get(id)
}

func (c *messageCache) purge() {
	if c.lru != nil {
		c.lru.Purge()
	}
}
