package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lucia-ai/lucia/pkg/httpclient"
	"github.com/lucia-ai/lucia/pkg/observability"
)

// ollamaClient talks to a local Ollama server via /api/chat.
type ollamaClient struct {
	provider   *Provider
	httpClient *httpclient.Client
	baseURL    string
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []openAITool    `json:"tools,omitempty"`
	Format   json.RawMessage `json:"format,omitempty"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaFunctionCall `json:"function"`
}

// ollamaFunctionCall carries arguments as an object, unlike the OpenAI
// wire format where they are a JSON string.
type ollamaFunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Message   ollamaMessage `json:"message"`
	Done      bool          `json:"done"`
	EvalCount int           `json:"eval_count"`
	Error     string        `json:"error,omitempty"`
}

func newOllamaClient(p *Provider) *ollamaClient {
	return &ollamaClient{
		provider: p,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 120 * time.Second}),
			httpclient.WithMaxRetries(2),
		),
		baseURL: strings.TrimSuffix(p.Endpoint, "/"),
	}
}

func (c *ollamaClient) ModelName() string {
	return c.provider.ModelName
}

func (c *ollamaClient) Generate(ctx context.Context, messages []Message, opts *GenerateOptions) (*Response, error) {
	tracer := observability.GetTracer("lucia.llms")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrModelName, c.provider.ModelName),
			attribute.String("provider", string(ProviderOllama)),
		),
	)
	defer span.End()

	request := &ollamaRequest{
		Model:    c.provider.ModelName,
		Messages: make([]ollamaMessage, 0, len(messages)),
		Stream:   false,
	}
	for _, m := range messages {
		request.Messages = append(request.Messages, ollamaMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	if opts != nil {
		if opts.Temperature != nil || opts.MaxTokens > 0 {
			request.Options = &ollamaOptions{
				Temperature: opts.Temperature,
				NumPredict:  opts.MaxTokens,
			}
		}
		for _, t := range opts.Tools {
			request.Tools = append(request.Tools, openAITool{
				Type: "function",
				Function: openAIToolFunction{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		if opts.ResponseFormat != nil {
			schema, err := json.Marshal(opts.ResponseFormat.Schema)
			if err != nil {
				span.RecordError(err)
				return nil, fmt.Errorf("failed to marshal response schema: %w", err)
			}
			request.Format = schema
		}
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var response ollamaResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if response.Error != "" {
		apiErr := fmt.Errorf("ollama error: %s", response.Error)
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, response.Error)
		return nil, apiErr
	}

	result := &Response{
		Text:       response.Message.Content,
		TokensUsed: response.EvalCount,
	}
	for i, tc := range response.Message.ToolCalls {
		args, _ := json.Marshal(tc.Function.Arguments)
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        fmt.Sprintf("call_%d", i),
			Name:      tc.Function.Name,
			Arguments: string(args),
		})
	}

	return result, nil
}

var _ ChatClient = (*ollamaClient)(nil)
