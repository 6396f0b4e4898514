package agent

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lucia-ai/lucia/pkg/llms"
	"github.com/lucia-ai/lucia/pkg/observability"
	"github.com/lucia-ai/lucia/pkg/session"
	"github.com/lucia-ai/lucia/pkg/toolserver"
)

// maxToolIterations bounds the model/tool loop per invocation.
const maxToolIterations = 8

// InvokeResult is the outcome of one agent invocation.
type InvokeResult struct {
	Text      string
	ToolCalls []TraceToolCall
}

// Invokable is a locally runnable agent.
type Invokable interface {
	ID() string
	Invoke(ctx context.Context, prompt string, history []session.Turn) (*InvokeResult, error)
}

// boundTool is a resolved tool reference.
type boundTool struct {
	serverID string
	def      llms.ToolDefinition
}

// localAgent runs the chat pipeline: instructions + history + prompt
// through the chat client, executing requested tools until the model
// produces a final answer.
type localAgent struct {
	id           string
	instructions string
	chat         llms.ChatClient
	tools        []boundTool
	registry     *toolserver.Registry
}

func (a *localAgent) ID() string {
	return a.id
}

func (a *localAgent) Invoke(ctx context.Context, prompt string, history []session.Turn) (*InvokeResult, error) {
	messages := make([]llms.Message, 0, len(history)+2)
	if a.instructions != "" {
		messages = append(messages, llms.Message{Role: llms.RoleSystem, Content: a.instructions})
	}
	for _, turn := range history {
		role := llms.RoleUser
		if turn.Role != "user" {
			role = llms.RoleAssistant
		}
		messages = append(messages, llms.Message{Role: role, Content: turn.Text})
	}
	messages = append(messages, llms.Message{Role: llms.RoleUser, Content: prompt})

	opts := &llms.GenerateOptions{}
	for _, t := range a.tools {
		opts.Tools = append(opts.Tools, t.def)
	}

	result := &InvokeResult{}
	for iteration := 0; iteration < maxToolIterations; iteration++ {
		resp, err := a.chat.Generate(ctx, messages, opts)
		if err != nil {
			return nil, fmt.Errorf("agent %q chat failed: %w", a.id, err)
		}

		if len(resp.ToolCalls) == 0 {
			result.Text = resp.Text
			return result, nil
		}

		messages = append(messages, llms.Message{
			Role:      llms.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			output := a.executeTool(ctx, call)
			result.ToolCalls = append(result.ToolCalls, TraceToolCall{
				Name:      call.Name,
				Arguments: call.Arguments,
				Result:    output,
			})
			messages = append(messages, llms.Message{
				Role:       llms.RoleTool,
				Content:    output,
				ToolCallID: call.ID,
			})
		}
	}

	return nil, fmt.Errorf("agent %q exceeded %d tool iterations", a.id, maxToolIterations)
}

// executeTool runs one tool call. Failures are returned in-band as the
// tool result so the model can recover; they never abort the
// invocation.
func (a *localAgent) executeTool(ctx context.Context, call llms.ToolCall) string {
	tracer := observability.GetTracer("lucia.agent")
	ctx, span := tracer.Start(ctx, observability.SpanToolExecution,
		trace.WithAttributes(
			attribute.String(observability.AttrAgentID, a.id),
			attribute.String(observability.AttrToolName, call.Name),
		),
	)
	defer span.End()

	serverID := a.serverFor(call.Name)
	if serverID == "" {
		return fmt.Sprintf(`{"error":"tool %q is not available"}`, call.Name)
	}
	span.SetAttributes(attribute.String(observability.AttrToolServer, serverID))

	output, toolErr, err := a.registry.CallTool(ctx, serverID, call.Name, call.Arguments)
	if err != nil {
		slog.Warn("tool call failed", "agent", a.id, "tool", call.Name, "error", err)
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	if toolErr != nil {
		slog.Debug("tool returned error", "agent", a.id, "tool", call.Name, "code", toolErr.Code, "message", toolErr.Message)
		return fmt.Sprintf(`{"error":%q,"code":%d}`, toolErr.Message, toolErr.Code)
	}
	return output
}

func (a *localAgent) serverFor(toolName string) string {
	for _, t := range a.tools {
		if t.def.Name == toolName {
			return t.serverID
		}
	}
	return ""
}

var _ Invokable = (*localAgent)(nil)
