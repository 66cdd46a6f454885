package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/life-stream-dev/life-stream-go-hub/internal/logger"
)

// DBStore keeps presence records in Mongo.
type DBStore struct {
	client           *mongo.Client
	sessions         *mongo.Collection
	operationTimeout time.Duration
}

func NewDatabaseStore(client *mongo.Client, sessions *mongo.Collection, operationTimeout time.Duration) *DBStore {
	if operationTimeout <= 0 {
		operationTimeout = defaultOperationTimeout
	}
	return &DBStore{client: client, sessions: sessions, operationTimeout: operationTimeout}
}

func (ds *DBStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, ds.operationTimeout)
}

func wrapErr(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("unique key conflicts: %w", err)
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%w: %w", ErrSessionNotFound, err)
	}
	return fmt.Errorf("database operation failed: %w", err)
}

func (ds *DBStore) GetSession(ctx context.Context, identity string) (*SessionData, error) {
	if identity == "" {
		return nil, ErrIdentityEmpty
	}
	ctx, cancel := ds.withTimeout(ctx)
	defer cancel()

	var session SessionData
	startTime := time.Now()
	err := ds.sessions.FindOne(ctx, bson.D{{Key: "identity", Value: identity}}).Decode(&session)
	logger.DebugF("session query cost: %v", time.Since(startTime))
	if err != nil {
		return nil, wrapErr(err)
	}
	return &session, nil
}

func (ds *DBStore) SaveSession(ctx context.Context, session *SessionData) error {
	if session.Identity == "" {
		return ErrIdentityEmpty
	}
	ctx, cancel := ds.withTimeout(ctx)
	defer cancel()

	filter := bson.D{{Key: "identity", Value: session.Identity}}
	result, err := ds.sessions.ReplaceOne(ctx, filter, session, options.Replace().SetUpsert(true))
	if err != nil {
		return wrapErr(err)
	}

	logger.DebugF("Session saved: identity=%s, matched=%d, modified=%d, upserted=%v",
		session.Identity,
		result.MatchedCount,
		result.ModifiedCount,
		result.UpsertedID != nil,
	)
	return nil
}

func (ds *DBStore) DeleteSession(ctx context.Context, identity, connID string) error {
	if identity == "" {
		return ErrIdentityEmpty
	}
	ctx, cancel := ds.withTimeout(ctx)
	defer cancel()

	filter := bson.D{{Key: "identity", Value: identity}, {Key: "conn_id", Value: connID}}
	result, err := ds.sessions.DeleteOne(ctx, filter)
	if err != nil {
		return wrapErr(err)
	}

	logger.DebugF("Session deleted: identity=%s, deleted=%d", identity, result.DeletedCount)
	return nil
}

func (ds *DBStore) ListSessions(ctx context.Context) ([]*SessionData, error) {
	ctx, cancel := ds.withTimeout(ctx)
	defer cancel()

	cursor, err := ds.sessions.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "identity", Value: 1}}))
	if err != nil {
		return nil, wrapErr(err)
	}
	var out []*SessionData
	if err := cursor.All(ctx, &out); err != nil {
		return nil, wrapErr(err)
	}
	if out == nil {
		out = []*SessionData{}
	}
	return out, nil
}
