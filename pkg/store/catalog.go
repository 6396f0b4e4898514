package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/lucia-ai/lucia/pkg/agent"
	"github.com/lucia-ai/lucia/pkg/llms"
	"github.com/lucia-ai/lucia/pkg/toolserver"
)

// ============================================================================
// AGENT DEFINITIONS
// ============================================================================

// ListAgentDefinitions returns all agent definitions.
func (s *Store) ListAgentDefinitions(ctx context.Context) ([]agent.Definition, error) {
	cursor, err := s.db.Collection(collAgents).Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to list agent definitions: %w", err)
	}

	var defs []agent.Definition
	if err := cursor.All(ctx, &defs); err != nil {
		return nil, fmt.Errorf("failed to decode agent definitions: %w", err)
	}
	return defs, nil
}

// GetAgentDefinition loads one definition.
func (s *Store) GetAgentDefinition(ctx context.Context, id string) (*agent.Definition, error) {
	var def agent.Definition
	err := s.db.Collection(collAgents).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&def)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("agent definition %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load agent definition %q: %w", id, err)
	}
	return &def, nil
}

// UpsertAgentDefinition persists a definition.
func (s *Store) UpsertAgentDefinition(ctx context.Context, def *agent.Definition) error {
	_, err := s.db.Collection(collAgents).ReplaceOne(
		ctx,
		bson.D{{Key: "_id", Value: def.ID}},
		def,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert agent definition %q: %w", def.ID, err)
	}
	return nil
}

// DeleteAgentDefinition removes a definition. Built-in definitions are
// protected.
func (s *Store) DeleteAgentDefinition(ctx context.Context, id string) error {
	def, err := s.GetAgentDefinition(ctx, id)
	if err != nil {
		return err
	}
	if def.IsBuiltIn {
		return fmt.Errorf("agent %q is built-in and cannot be deleted", id)
	}

	_, err = s.db.Collection(collAgents).DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return fmt.Errorf("failed to delete agent definition %q: %w", id, err)
	}
	return nil
}

// ============================================================================
// MODEL PROVIDERS
// ============================================================================

// GetProvider loads one provider record. Implements
// llms.ProviderSource.
func (s *Store) GetProvider(ctx context.Context, id string) (*llms.Provider, error) {
	var provider llms.Provider
	err := s.db.Collection(collProviders).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&provider)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("model provider %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load model provider %q: %w", id, err)
	}
	return &provider, nil
}

// ListProviders returns all provider records.
func (s *Store) ListProviders(ctx context.Context) ([]llms.Provider, error) {
	cursor, err := s.db.Collection(collProviders).Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to list model providers: %w", err)
	}

	var providers []llms.Provider
	if err := cursor.All(ctx, &providers); err != nil {
		return nil, fmt.Errorf("failed to decode model providers: %w", err)
	}
	return providers, nil
}

// UpsertProvider persists a provider record.
func (s *Store) UpsertProvider(ctx context.Context, provider *llms.Provider) error {
	_, err := s.db.Collection(collProviders).ReplaceOne(
		ctx,
		bson.D{{Key: "_id", Value: provider.ID}},
		provider,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert model provider %q: %w", provider.ID, err)
	}
	return nil
}

// ============================================================================
// TOOL SERVERS
// ============================================================================

// ListToolServers returns all tool-server records.
func (s *Store) ListToolServers(ctx context.Context) ([]toolserver.ToolServer, error) {
	cursor, err := s.db.Collection(collToolServers).Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tool servers: %w", err)
	}

	var servers []toolserver.ToolServer
	if err := cursor.All(ctx, &servers); err != nil {
		return nil, fmt.Errorf("failed to decode tool servers: %w", err)
	}
	return servers, nil
}

// UpsertToolServer persists a tool-server record.
func (s *Store) UpsertToolServer(ctx context.Context, server *toolserver.ToolServer) error {
	_, err := s.db.Collection(collToolServers).ReplaceOne(
		ctx,
		bson.D{{Key: "_id", Value: server.ID}},
		server,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert tool server %q: %w", server.ID, err)
	}
	return nil
}

// ============================================================================
// TRACES
// ============================================================================

// RecordTrace writes a trace record. Implements agent.TraceSink:
// failures are logged and swallowed, never surfaced to the chat path.
func (s *Store) RecordTrace(record *agent.TraceRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()

	if _, err := s.db.Collection(collTraces).InsertOne(ctx, record); err != nil {
		slog.Warn("failed to record trace", "agent", record.AgentID, "error", err)
	}
}

// ListTraces returns recent traces for an agent, newest first.
func (s *Store) ListTraces(ctx context.Context, agentID string, limit int) ([]agent.TraceRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	filter := bson.D{}
	if agentID != "" {
		filter = bson.D{{Key: "agentId", Value: agentID}}
	}

	cursor, err := s.db.Collection(collTraces).Find(
		ctx,
		filter,
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list traces: %w", err)
	}

	var records []agent.TraceRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode traces: %w", err)
	}
	return records, nil
}
