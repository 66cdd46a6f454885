package database

import (
	"slices"
	"time"
)

// SessionData is the presence record of one registered identity: which
// connection holds it, since when, and which channels it joined. It never
// carries message content.
type SessionData struct {
	Identity     string    `bson:"identity" json:"identity"`
	ConnID       string    `bson:"conn_id" json:"conn_id"`
	RegisteredAt time.Time `bson:"registered_at" json:"registered_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
	Channels     []string  `bson:"channels" json:"channels"`
}

func NewSessionData(identity, connID string, registeredAt time.Time) *SessionData {
	return &SessionData{
		Identity:     identity,
		ConnID:       connID,
		RegisteredAt: registeredAt,
		UpdatedAt:    registeredAt,
		Channels:     []string{},
	}
}

func (session *SessionData) clone() *SessionData {
	cp := *session
	cp.Channels = slices.Clone(session.Channels)
	if cp.Channels == nil {
		cp.Channels = []string{}
	}
	return &cp
}
