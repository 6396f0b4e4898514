package agent

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lucia-ai/lucia/pkg/llms"
	"github.com/lucia-ai/lucia/pkg/observability"
)

// tracingChatClient decorates a chat client with trace capture: every
// round trip is written to the trace sink and emitted as one span. It
// never alters the semantic output.
type tracingChatClient struct {
	inner   llms.ChatClient
	agentID string
	sink    TraceSink
}

// NewTracingChatClient wraps a chat client for one agent.
func NewTracingChatClient(inner llms.ChatClient, agentID string, sink TraceSink) llms.ChatClient {
	return &tracingChatClient{inner: inner, agentID: agentID, sink: sink}
}

func (t *tracingChatClient) ModelName() string {
	return t.inner.ModelName()
}

func (t *tracingChatClient) Generate(ctx context.Context, messages []llms.Message, opts *llms.GenerateOptions) (*llms.Response, error) {
	tracer := observability.GetTracer("lucia.agent")
	ctx, span := tracer.Start(ctx, observability.SpanAgentInvoke,
		trace.WithAttributes(attribute.String(observability.AttrAgentID, t.agentID)),
	)
	defer span.End()

	start := time.Now()
	resp, err := t.inner.Generate(ctx, messages, opts)
	elapsed := time.Since(start)

	span.SetAttributes(
		attribute.Bool(observability.AttrAgentSuccess, err == nil),
		attribute.Int64(observability.AttrAgentDurationMs, elapsed.Milliseconds()),
	)

	// Cancellation is not a failure worth tracing.
	if ctx.Err() != nil && err != nil {
		return resp, err
	}

	record := &TraceRecord{
		TraceID:    uuid.NewString(),
		AgentID:    t.agentID,
		Timestamp:  start.UTC(),
		Prompt:     lastUserPrompt(messages),
		DurationMs: elapsed.Milliseconds(),
		Success:    err == nil,
	}
	if err != nil {
		record.Response = err.Error()
	} else {
		record.Response = resp.Text
		for _, tc := range resp.ToolCalls {
			record.ToolCalls = append(record.ToolCalls, TraceToolCall{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			})
		}
	}

	if t.sink != nil {
		t.sink.RecordTrace(record)
	}
	return resp, err
}

func lastUserPrompt(messages []llms.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llms.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

var _ llms.ChatClient = (*tracingChatClient)(nil)
