// Package a2a implements the Agent-to-Agent protocol: JSON-RPC 2.0
// over HTTP with SSE streaming. Each agent is exposed at /a2a/{id}
// with card discovery at /a2a/{id}/.well-known/agent.json.
package a2a

import "encoding/json"

// ============================================================================
// AGENT CARD - Agent Discovery & Capability Advertisement
// ============================================================================

// AgentCard is the public metadata for an agent: identity,
// description, declared skills, and capability flags. The description
// must be non-empty because the router catalog is rendered from it.
type AgentCard struct {
	Name               string       `json:"name"`
	DisplayName        string       `json:"displayName,omitempty"`
	Description        string       `json:"description"`
	URL                string       `json:"url,omitempty"`
	Version            string       `json:"version,omitempty"`
	Capabilities       Capabilities `json:"capabilities"`
	Skills             []Skill      `json:"skills,omitempty"`
	DefaultInputModes  []string     `json:"defaultInputModes,omitempty"`
	DefaultOutputModes []string     `json:"defaultOutputModes,omitempty"`
}

// Capabilities advertises optional protocol features.
type Capabilities struct {
	Streaming              bool `json:"streaming"`
	StateTransitionHistory bool `json:"stateTransitionHistory"`
	PushNotifications      bool `json:"pushNotifications"`
}

// Skill describes one capability of an agent, with example utterances
// that feed the router catalog.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Examples    []string `json:"examples,omitempty"`
}

// AgentDirectory lists the cards of all exposed agents.
type AgentDirectory struct {
	Agents []AgentCard `json:"agents"`
	Total  int         `json:"total"`
}

// ============================================================================
// MESSAGES - The unit of conversation
// ============================================================================

const (
	KindMessage = "message"
	KindText    = "text"

	RoleUser  = "user"
	RoleAgent = "agent"
)

// Message is a single conversational turn.
type Message struct {
	Kind      string `json:"kind"`
	Role      string `json:"role"`
	Parts     []Part `json:"parts"`
	MessageID string `json:"messageId"`
	ContextID string `json:"contextId,omitempty"`
	TaskID    string `json:"taskId,omitempty"`
}

// Part is one piece of message content. Only text parts are rendered;
// other kinds travel as opaque metadata.
type Part struct {
	Kind     string         `json:"kind"`
	Text     string         `json:"text,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Text concatenates all text parts of the message.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Kind == KindText {
			out += p.Text
		}
	}
	return out
}

// NewTextMessage builds a message with a single text part.
func NewTextMessage(role, messageID, text string) *Message {
	return &Message{
		Kind:      KindMessage,
		Role:      role,
		MessageID: messageID,
		Parts:     []Part{{Kind: KindText, Text: text}},
	}
}

// ============================================================================
// TASKS - Deferred work visible over the protocol
// ============================================================================

// TaskState mirrors the scheduled-task statuses that are visible to
// protocol peers.
type TaskState string

const (
	TaskStatePending   TaskState = "pending"
	TaskStateActive    TaskState = "active"
	TaskStateCompleted TaskState = "completed"
	TaskStateCancelled TaskState = "cancelled"
	TaskStateFailed    TaskState = "failed"
)

// Task is the protocol view of a deferred unit of work.
type Task struct {
	ID        string    `json:"id"`
	ContextID string    `json:"contextId,omitempty"`
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
}

// ============================================================================
// JSON-RPC 2.0 ENVELOPE
// ============================================================================

const (
	MethodMessageSend   = "message/send"
	MethodMessageStream = "message/stream"
	MethodTasksGet      = "tasks/get"
	MethodTasksCancel   = "tasks/cancel"
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Standard JSON-RPC error codes plus protocol-specific ones.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeTaskNotFound  = -32001
	CodeAgentNotFound = -32002
)

// MessageSendParams carries the payload of message/send and
// message/stream.
type MessageSendParams struct {
	Message *Message `json:"message"`
}

// TaskParams identifies a task for tasks/get and tasks/cancel.
type TaskParams struct {
	ID string `json:"id"`
}
