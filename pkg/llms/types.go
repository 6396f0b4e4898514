// Package llms resolves model-provider records into typed chat and
// embedding clients. Supported provider types: generic
// OpenAI-compatible endpoints, Azure OpenAI, Azure AI Inference, and
// Ollama. An "agent" provider type is special: it does not produce a
// chat client and is handled by the agent builder directly.
package llms

import (
	"context"
	"time"
)

// ProviderType identifies how to talk to a model endpoint.
type ProviderType string

const (
	ProviderOpenAI         ProviderType = "openai"
	ProviderAzureOpenAI    ProviderType = "azure_openai"
	ProviderAzureInference ProviderType = "azure_inference"
	ProviderOllama         ProviderType = "ollama"
	ProviderAgent          ProviderType = "agent"
)

// ProviderPurpose distinguishes chat from embedding providers.
type ProviderPurpose string

const (
	PurposeChat      ProviderPurpose = "chat"
	PurposeEmbedding ProviderPurpose = "embedding"
)

// DefaultChatProviderID is the implicit fallback for agents that do
// not name a model connection.
const DefaultChatProviderID = "default-chat"

// Provider is the persisted model-provider record.
type Provider struct {
	ID                    string          `bson:"_id" json:"id"`
	Type                  ProviderType    `bson:"type" json:"type"`
	Purpose               ProviderPurpose `bson:"purpose" json:"purpose"`
	Endpoint              string          `bson:"endpoint" json:"endpoint"`
	ModelName             string          `bson:"modelName" json:"modelName"`
	APIKey                string          `bson:"apiKey" json:"-"`
	UseDefaultCredentials bool            `bson:"useDefaultCredentials" json:"useDefaultCredentials"`
	Enabled               bool            `bson:"enabled" json:"enabled"`
	IsBuiltIn             bool            `bson:"isBuiltIn" json:"isBuiltIn"`
	CreatedAt             time.Time       `bson:"createdAt" json:"createdAt"`
	UpdatedAt             time.Time       `bson:"updatedAt" json:"updatedAt"`
}

// Message is one chat turn sent to a provider.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// ToolDefinition describes a callable tool offered to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema
}

// ResponseFormat constrains model output to a JSON schema.
type ResponseFormat struct {
	Name   string
	Schema map[string]any
	Strict bool
}

// GenerateOptions tunes a single Generate call.
type GenerateOptions struct {
	Temperature    *float64
	MaxTokens      int
	Tools          []ToolDefinition
	ResponseFormat *ResponseFormat
}

// Response is the provider's reply.
type Response struct {
	Text       string
	ToolCalls  []ToolCall
	TokensUsed int
}

// ChatClient is a typed client bound to one endpoint and model.
type ChatClient interface {
	Generate(ctx context.Context, messages []Message, opts *GenerateOptions) (*Response, error)
	ModelName() string
}

// EmbeddingClient produces vector embeddings.
type EmbeddingClient interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	ModelName() string
}
