package database

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	c "github.com/life-stream-dev/life-stream-go-hub/internal/config"
	"github.com/life-stream-dev/life-stream-go-hub/internal/logger"
	"github.com/life-stream-dev/life-stream-go-hub/internal/utils"
)

const defaultOperationTimeout = 5 * time.Second

// DBCloseCallback disconnects the Mongo client during shutdown.
type DBCloseCallback struct {
	store *DBStore
}

func NewDBCloseCallback(store *DBStore) *DBCloseCallback {
	return &DBCloseCallback{store: store}
}

func (dc *DBCloseCallback) Invoke(ctx context.Context) error {
	logger.InfoF("Closing database connection")
	return dc.store.client.Disconnect(ctx)
}

func parseDuration(name, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := utils.ParseStringTime(value)
	if err != nil {
		return 0, fmt.Errorf("database.%s: %w", name, err)
	}
	return d, nil
}

// ConnectDatabase dials Mongo, verifies the connection and ensures the
// unique identity index on the sessions collection.
func ConnectDatabase(config c.DatabaseConfig, appName string) (*DBStore, error) {
	logger.DebugF("Connecting to database...")

	operationTimeout, err := parseDuration("operation_timeout", config.OperationTimeout, defaultOperationTimeout)
	if err != nil {
		return nil, err
	}
	connectTimeout, err := parseDuration("connect_timeout", config.ConnectTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	socketTimeout, err := parseDuration("socket_timeout", config.SocketTimeout, 0)
	if err != nil {
		return nil, err
	}
	idleTimeout, err := parseDuration("connect_idle_timeout", config.ConnectIdleTimeout, 0)
	if err != nil {
		return nil, err
	}
	heartbeat, err := parseDuration("heartbeat", config.Heartbeat, 10*time.Second)
	if err != nil {
		return nil, err
	}

	databaseUrl := fmt.Sprintf("mongodb://%s:%d/", config.Host, config.Port)
	if config.Username != "" {
		databaseUrl = fmt.Sprintf("mongodb://%s:%s@%s:%d/?authSource=admin",
			url.QueryEscape(config.Username), url.QueryEscape(config.Password),
			config.Host,
			config.Port,
		)
	}

	clientOptions := options.Client().ApplyURI(databaseUrl).SetAppName(appName)
	clientOptions.SetMinPoolSize(config.MinPoolSize)
	clientOptions.SetMaxPoolSize(config.MaxPoolSize)
	clientOptions.SetConnectTimeout(connectTimeout)
	clientOptions.SetHeartbeatInterval(heartbeat)
	if idleTimeout > 0 {
		clientOptions.SetMaxConnIdleTime(idleTimeout)
	}
	if socketTimeout > 0 {
		clientOptions.SetSocketTimeout(socketTimeout)
	}
	if config.UseTLS {
		clientOptions.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	clientOptions.SetPoolMonitor(&event.PoolMonitor{
		Event: func(evt *event.PoolEvent) {
			switch evt.Type {
			case event.ConnectionCreated:
				logger.DebugF("Database connection created: %s #%d", evt.Address, evt.ConnectionID)
			case event.ConnectionClosed:
				logger.DebugF("Database connection closed: %s #%d (%s)", evt.Address, evt.ConnectionID, evt.Reason)
			}
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout+5*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("error occured while connecting to database: %w", err)
	}

	if err = client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("error occured while pinging database: %w", err)
	}

	sessions := client.Database(config.Database).Collection(SessionCollectionName)
	_, err = sessions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "identity", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("sessions_identity_unique"),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("error occured while creating database indexes: %w", err)
	}

	// records from a previous run describe connections that no longer exist
	if _, err = sessions.DeleteMany(ctx, bson.D{}); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("error occured while clearing stale sessions: %w", err)
	}

	logger.InfoF("Database connected: %s/%s", config.Host, config.Database)
	return NewDatabaseStore(client, sessions, operationTimeout), nil
}
