package database

import (
	"context"
	"errors"
)

const (
	SessionCollectionName = "sessions"
)

var (
	ErrIdentityEmpty   = errors.New("identity is empty")
	ErrSessionNotFound = errors.New("session does not exist")
)

// SessionStore persists presence records. Deletes are conditional on the
// connection id so a late cleanup of an old connection cannot remove the
// record written by its successor.
type SessionStore interface {
	GetSession(ctx context.Context, identity string) (*SessionData, error)
	SaveSession(ctx context.Context, session *SessionData) error
	DeleteSession(ctx context.Context, identity, connID string) error
	ListSessions(ctx context.Context) ([]*SessionData, error)
}
