// Package orchestrator is the request pipeline: route a user message
// to agents, dispatch in parallel, and aggregate the results into one
// reply.
package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/invopop/jsonschema"
)

// RoutingDecision is the router's verdict for one message.
type RoutingDecision struct {
	AgentID          string   `json:"agentId" jsonschema:"required"`
	Confidence       float64  `json:"confidence" jsonschema:"required,minimum=0,maximum=1"`
	Reasoning        string   `json:"reasoning,omitempty"`
	AdditionalAgents []string `json:"additionalAgents,omitempty"`
}

// AgentResponse is the outcome of dispatching to one agent.
type AgentResponse struct {
	AgentID    string `json:"agentId"`
	Content    string `json:"content"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

// ErrBadRequest marks validation failures that are the caller's fault:
// empty prompt, malformed session id. They never reach the model.
var ErrBadRequest = errors.New("bad request")

// DecisionSchema is the JSON schema the router constrains model output
// to, derived from RoutingDecision.
func DecisionSchema() map[string]any {
	reflector := jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(&RoutingDecision{})
	schema.Version = "" // response_format schemas carry no $schema

	raw, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("failed to build routing decision schema: %v", err))
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("failed to decode routing decision schema: %v", err))
	}
	return out
}
