// Package store is the Mongo persistence layer: scheduled tasks,
// alarm clocks and sounds, agent definitions, tool servers, model
// providers, and trace records.
package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const (
	collScheduledTasks = "scheduled_tasks"
	collAlarmClocks    = "alarm_clocks"
	collAlarmSounds    = "alarm_sounds"
	collAgents         = "agents"
	collToolServers    = "tool_servers"
	collProviders      = "model_providers"
	collTraces         = "traces"

	defaultOpTimeout = 5 * time.Second
)

// Store wraps the Mongo database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect opens the Mongo connection and ensures indexes.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}
	if database == "" {
		return nil, fmt.Errorf("mongo database name is required")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	s := &Store{client: client, db: client.Database(database)}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close disconnects from Mongo.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	taskIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "fireAt", Value: 1}}},
		{Keys: bson.D{{Key: "taskType", Value: 1}}},
	}
	if _, err := s.db.Collection(collScheduledTasks).Indexes().CreateMany(ctx, taskIndexes); err != nil {
		return fmt.Errorf("failed to create scheduled_tasks indexes: %w", err)
	}

	clockIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "isEnabled", Value: 1}}},
		{Keys: bson.D{{Key: "nextFireAt", Value: 1}}},
	}
	if _, err := s.db.Collection(collAlarmClocks).Indexes().CreateMany(ctx, clockIndexes); err != nil {
		return fmt.Errorf("failed to create alarm_clocks indexes: %w", err)
	}

	soundIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "isDefault", Value: 1}}},
	}
	if _, err := s.db.Collection(collAlarmSounds).Indexes().CreateMany(ctx, soundIndexes); err != nil {
		return fmt.Errorf("failed to create alarm_sounds indexes: %w", err)
	}

	traceIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "agentId", Value: 1}, {Key: "timestamp", Value: -1}}},
	}
	if _, err := s.db.Collection(collTraces).Indexes().CreateMany(ctx, traceIndexes); err != nil {
		return fmt.Errorf("failed to create traces indexes: %w", err)
	}

	return nil
}
