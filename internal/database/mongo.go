package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// MongoDB holds the client and the boarding database
type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// clientOptions builds the driver options. Every conditional update must
// observe the latest committed row, so reads go to the primary and writes
// wait for a majority.
func clientOptions(uri string, timeout time.Duration) *options.ClientOptions {
	return options.Client().
		ApplyURI(uri).
		SetAppName("boarding").
		SetMaxPoolSize(100).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout).
		SetReadPreference(readpref.Primary()).
		SetWriteConcern(writeconcern.Majority()).
		SetRetryWrites(true).
		SetRetryReads(true).
		SetCompressors([]string{"snappy"})
}

// Connect opens the client, verifies the primary is reachable and selects database
func Connect(ctx context.Context, uri, database string, timeout time.Duration) (*MongoDB, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	slog.Info("Connecting to MongoDB", "database", database, "timeout", timeout)

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOptions(uri, timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB primary: %w", err)
	}

	slog.Info("Connected to MongoDB", "database", database)
	return &MongoDB{
		Client:   client,
		Database: client.Database(database),
	}, nil
}

// Disconnect closes the client, bounded by ten seconds
func (m *MongoDB) Disconnect(ctx context.Context) error {
	disconnectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := m.Client.Disconnect(disconnectCtx); err != nil {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}
	slog.Info("Disconnected from MongoDB")
	return nil
}

// GetCollection returns a collection by name
func (m *MongoDB) GetCollection(name string) *mongo.Collection {
	return m.Database.Collection(name)
}

// Ping verifies the primary is reachable
func (m *MongoDB) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return m.Client.Ping(pingCtx, readpref.Primary())
}

// Collection names
const (
	CollectionQueueEntries      = "queue_entries"
	CollectionResources         = "resources"
	CollectionCooldownOverrides = "cooldown_overrides"
	CollectionOrders            = "orders"
	CollectionGroups            = "groups"
	CollectionJobRuns           = "job_runs"
	CollectionInvitationLogs    = "invitation_logs"
	CollectionCounters          = "counters"
)
