package database

import (
	"context"
	"sort"
	"sync"
)

type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*SessionData
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*SessionData),
	}
}

func (ms *MemoryStore) GetSession(_ context.Context, identity string) (*SessionData, error) {
	if identity == "" {
		return nil, ErrIdentityEmpty
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	session, ok := ms.sessions[identity]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session.clone(), nil
}

func (ms *MemoryStore) SaveSession(_ context.Context, session *SessionData) error {
	if session.Identity == "" {
		return ErrIdentityEmpty
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.sessions[session.Identity] = session.clone()
	return nil
}

func (ms *MemoryStore) DeleteSession(_ context.Context, identity, connID string) error {
	if identity == "" {
		return ErrIdentityEmpty
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if session, ok := ms.sessions[identity]; ok && session.ConnID == connID {
		delete(ms.sessions, identity)
	}
	return nil
}

func (ms *MemoryStore) ListSessions(_ context.Context) ([]*SessionData, error) {
	ms.mu.RLock()
	out := make([]*SessionData, 0, len(ms.sessions))
	for _, session := range ms.sessions {
		out = append(out, session.clone())
	}
	ms.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Identity < out[j].Identity
	})
	return out, nil
}
