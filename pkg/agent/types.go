// Package agent materializes persisted agent definitions into
// invokable agents and keeps them in a hot-swappable registry.
package agent

import (
	"time"
)

// ToolRef points at one tool on one tool server.
type ToolRef struct {
	ServerID string `bson:"serverId" json:"serverId"`
	ToolName string `bson:"toolName" json:"toolName"`
}

// SkillDef is a declared skill on a definition. Skills feed the agent
// card and the router's example catalog.
type SkillDef struct {
	ID          string   `bson:"id" json:"id"`
	Name        string   `bson:"name" json:"name"`
	Description string   `bson:"description" json:"description"`
	Tags        []string `bson:"tags,omitempty" json:"tags,omitempty"`
	Examples    []string `bson:"examples,omitempty" json:"examples,omitempty"`
}

// Definition is the persisted agent record.
type Definition struct {
	ID                  string     `bson:"_id" json:"id"`
	DisplayName         string     `bson:"displayName" json:"displayName"`
	Description         string     `bson:"description" json:"description"`
	Instructions        string     `bson:"instructions" json:"instructions"`
	ModelConnectionName string     `bson:"modelConnectionName,omitempty" json:"modelConnectionName,omitempty"`
	EmbeddingProvider   string     `bson:"embeddingProvider,omitempty" json:"embeddingProvider,omitempty"`
	ToolRefs            []ToolRef  `bson:"toolRefs,omitempty" json:"toolRefs,omitempty"`
	Skills              []SkillDef `bson:"skills,omitempty" json:"skills,omitempty"`
	RemoteURL           string     `bson:"remoteUrl,omitempty" json:"remoteUrl,omitempty"`
	IsBuiltIn           bool       `bson:"isBuiltIn" json:"isBuiltIn"`
	IsRemote            bool       `bson:"isRemote" json:"isRemote"`
	IsOrchestrator      bool       `bson:"isOrchestrator" json:"isOrchestrator"`
	Enabled             bool       `bson:"enabled" json:"enabled"`
	CreatedAt           time.Time  `bson:"createdAt" json:"createdAt"`
	UpdatedAt           time.Time  `bson:"updatedAt" json:"updatedAt"`
}

// TraceToolCall is one tool invocation captured in a trace.
type TraceToolCall struct {
	Name      string `bson:"name" json:"name"`
	Arguments string `bson:"arguments" json:"arguments"`
	Result    string `bson:"result" json:"result"`
	Error     string `bson:"error,omitempty" json:"error,omitempty"`
}

// TraceRecord captures one chat-client round trip for inspection and
// export.
type TraceRecord struct {
	TraceID    string          `bson:"_id" json:"traceId"`
	AgentID    string          `bson:"agentId" json:"agentId"`
	Timestamp  time.Time       `bson:"timestamp" json:"timestamp"`
	Prompt     string          `bson:"prompt" json:"prompt"`
	Response   string          `bson:"response" json:"response"`
	ToolCalls  []TraceToolCall `bson:"toolCalls,omitempty" json:"toolCalls,omitempty"`
	DurationMs int64           `bson:"durationMs" json:"durationMs"`
	Success    bool            `bson:"success" json:"success"`
	Label      string          `bson:"label,omitempty" json:"label,omitempty"`
}

// TraceSink receives trace records. Writes are observability-only:
// implementations log failures and never block the chat path.
type TraceSink interface {
	RecordTrace(record *TraceRecord)
}
