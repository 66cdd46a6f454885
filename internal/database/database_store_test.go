package database

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	c "github.com/life-stream-dev/life-stream-go-hub/internal/config"
)

// Runs against a real server only when HUB_TEST_MONGO_HOST is set.
func TestDBStoreRoundTrip(t *testing.T) {
	host := os.Getenv("HUB_TEST_MONGO_HOST")
	if host == "" {
		t.Skip("HUB_TEST_MONGO_HOST not set")
	}
	cfg := c.Default().Database
	cfg.Host = host
	cfg.Database = "life_stream_hub_test"

	store, err := ConnectDatabase(cfg, "hub-test")
	if err != nil {
		t.Fatalf("ConnectDatabase: %v", err)
	}
	defer func() { _ = NewDBCloseCallback(store).Invoke(context.Background()) }()

	ctx := context.Background()
	session := NewSessionData("alice", "c1", time.Now().UTC().Truncate(time.Millisecond))
	session.Channels = []string{"room1"}
	if err := store.SaveSession(ctx, session); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	got, err := store.GetSession(ctx, "alice")
	if err != nil || got.ConnID != "c1" || len(got.Channels) != 1 {
		t.Fatalf("GetSession = %+v, %v", got, err)
	}
	if err := store.DeleteSession(ctx, "alice", "c1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := store.GetSession(ctx, "alice"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
