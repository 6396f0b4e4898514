package llms

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrAgentProvider is returned when a chat client is requested for an
// "agent" type provider. Such connections are wired by the agent
// builder as remote agent delegation, not as a model client.
var ErrAgentProvider = errors.New("provider delegates to a remote agent")

// ProviderSource supplies provider records, typically backed by the
// document store.
type ProviderSource interface {
	GetProvider(ctx context.Context, id string) (*Provider, error)
}

// Resolver turns provider records into clients. Clients are memoized
// per provider id so that concurrent agents reuse connections;
// Invalidate drops the memo when a record changes.
type Resolver struct {
	source ProviderSource

	mu      sync.Mutex
	chat    map[string]ChatClient
	embed   map[string]EmbeddingClient
	records map[string]*Provider
}

// NewResolver creates a resolver over the given provider source.
func NewResolver(source ProviderSource) *Resolver {
	return &Resolver{
		source:  source,
		chat:    make(map[string]ChatClient),
		embed:   make(map[string]EmbeddingClient),
		records: make(map[string]*Provider),
	}
}

// ChatClient resolves a chat client for the provider id. An empty id
// falls back to the default chat provider.
func (r *Resolver) ChatClient(ctx context.Context, providerID string) (ChatClient, error) {
	if providerID == "" {
		providerID = DefaultChatProviderID
	}

	r.mu.Lock()
	if client, ok := r.chat[providerID]; ok {
		r.mu.Unlock()
		return client, nil
	}
	r.mu.Unlock()

	provider, err := r.lookup(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if provider.Type == ProviderAgent {
		return nil, fmt.Errorf("provider %q: %w", providerID, ErrAgentProvider)
	}

	client, err := NewChatClient(provider)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.chat[providerID] = client
	r.records[providerID] = provider
	r.mu.Unlock()

	return client, nil
}

// EmbeddingClient resolves an embedding client for the provider id.
func (r *Resolver) EmbeddingClient(ctx context.Context, providerID string) (EmbeddingClient, error) {
	r.mu.Lock()
	if client, ok := r.embed[providerID]; ok {
		r.mu.Unlock()
		return client, nil
	}
	r.mu.Unlock()

	provider, err := r.lookup(ctx, providerID)
	if err != nil {
		return nil, err
	}

	client, err := NewEmbeddingClient(provider)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.embed[providerID] = client
	r.records[providerID] = provider
	r.mu.Unlock()

	return client, nil
}

// Provider returns the resolved provider record for an id, resolving
// it if needed. Used by the agent builder to inspect agent-type
// connections.
func (r *Resolver) Provider(ctx context.Context, providerID string) (*Provider, error) {
	r.mu.Lock()
	if p, ok := r.records[providerID]; ok {
		r.mu.Unlock()
		return p, nil
	}
	r.mu.Unlock()

	p, err := r.lookup(ctx, providerID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.records[providerID] = p
	r.mu.Unlock()

	return p, nil
}

// Invalidate drops memoized clients for a provider id. Pass the empty
// string to drop everything.
func (r *Resolver) Invalidate(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if providerID == "" {
		r.chat = make(map[string]ChatClient)
		r.embed = make(map[string]EmbeddingClient)
		r.records = make(map[string]*Provider)
		return
	}
	delete(r.chat, providerID)
	delete(r.embed, providerID)
	delete(r.records, providerID)
}

func (r *Resolver) lookup(ctx context.Context, providerID string) (*Provider, error) {
	provider, err := r.source.GetProvider(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load provider %q: %w", providerID, err)
	}
	if !provider.Enabled {
		return nil, fmt.Errorf("provider %q is disabled", providerID)
	}
	return provider, nil
}

// NewChatClient constructs a chat client for a provider record without
// memoization.
func NewChatClient(p *Provider) (ChatClient, error) {
	switch p.Type {
	case ProviderOpenAI, ProviderAzureOpenAI, ProviderAzureInference:
		return newOpenAIClient(p)
	case ProviderOllama:
		return newOllamaClient(p), nil
	case ProviderAgent:
		return nil, ErrAgentProvider
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", p.Type)
	}
}

// NewEmbeddingClient constructs an embedding client for a provider
// record without memoization.
func NewEmbeddingClient(p *Provider) (EmbeddingClient, error) {
	switch p.Type {
	case ProviderOpenAI, ProviderAzureOpenAI, ProviderAzureInference:
		return newOpenAIEmbeddingClient(p)
	case ProviderOllama:
		return newOllamaEmbeddingClient(p), nil
	default:
		return nil, fmt.Errorf("provider type %q does not support embeddings", p.Type)
	}
}
