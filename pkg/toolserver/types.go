// Package toolserver manages connections to external tool servers and
// exposes their tools to agents. Servers speak MCP (Model Context
// Protocol): stdio servers are spawned as child processes via the
// mcp-go client, http and sse servers are reached over a persistent
// HTTP connection with retry/backoff.
package toolserver

import (
	"fmt"
	"time"
)

// Transport identifies how a tool server is reached.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
	TransportSSE   Transport = "sse"
)

// ToolServer is the persisted tool-server record.
type ToolServer struct {
	ID        string            `bson:"_id" json:"id"`
	Name      string            `bson:"name" json:"name"`
	Transport Transport         `bson:"transport" json:"transport"`
	URL       string            `bson:"url,omitempty" json:"url,omitempty"`
	Command   string            `bson:"command,omitempty" json:"command,omitempty"`
	Args      []string          `bson:"args,omitempty" json:"args,omitempty"`
	Env       map[string]string `bson:"env,omitempty" json:"env,omitempty"`
	Headers   map[string]string `bson:"headers,omitempty" json:"headers,omitempty"`
	Enabled   bool              `bson:"enabled" json:"enabled"`
	CreatedAt time.Time         `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time         `bson:"updatedAt" json:"updatedAt"`
}

// Tool is the metadata of one tool exposed by a server.
type Tool struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	InputSchema  map[string]any `json:"inputSchema,omitempty"`
	OutputSchema map[string]any `json:"outputSchema,omitempty"`
}

// ConnState is the connection state of a server.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Tool error codes. Negative codes mirror JSON-RPC errors from the
// server; positive codes are produced locally.
const (
	ErrCodeServerUnavailable = 1
	ErrCodeToolNotFound      = 2
	ErrCodeExecution         = 3
	ErrCodeBadArguments      = 4
)

// ToolError is the structured failure of a tool call. Tool calls never
// panic or leak transport errors; callers get a code and a message and
// decide whether to retry.
type ToolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool error %d: %s", e.Code, e.Message)
}
