package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lucia-ai/lucia/pkg/httpclient"
	"github.com/lucia-ai/lucia/pkg/observability"
)

// authStyle selects how credentials are attached to requests.
type authStyle int

const (
	authBearer authStyle = iota // Authorization: Bearer <key>
	authAPIKeyHeader             // api-key: <key> (Azure OpenAI / AI Inference)
)

const azureAPIVersion = "2024-10-21"

// openAIClient speaks the OpenAI-compatible chat completions API. It
// also covers Azure OpenAI and Azure AI Inference, which differ only
// in URL construction and auth header.
type openAIClient struct {
	provider   *Provider
	httpClient *httpclient.Client
	auth       authStyle
	requestURL string
}

type openAIRequest struct {
	Model          string                `json:"model,omitempty"`
	Messages       []openAIMessage       `json:"messages"`
	MaxTokens      *int                  `json:"max_tokens,omitempty"`
	Temperature    *float64              `json:"temperature,omitempty"`
	Tools          []openAITool          `json:"tools,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAITool struct {
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIResponseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *openAIJSONSchema `json:"json_schema,omitempty"`
}

type openAIJSONSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict,omitempty"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

func newOpenAIClient(p *Provider) (*openAIClient, error) {
	c := &openAIClient{
		provider: p,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}),
			httpclient.WithMaxRetries(3),
			httpclient.WithHeaderParser(httpclient.ParseStandardHeaders),
		),
	}

	endpoint := strings.TrimSuffix(p.Endpoint, "/")
	switch p.Type {
	case ProviderOpenAI:
		c.auth = authBearer
		c.requestURL = endpoint + "/chat/completions"
	case ProviderAzureOpenAI:
		c.auth = authAPIKeyHeader
		c.requestURL = fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			endpoint, url.PathEscape(p.ModelName), azureAPIVersion)
	case ProviderAzureInference:
		c.auth = authAPIKeyHeader
		c.requestURL = endpoint + "/chat/completions?api-version=" + azureAPIVersion
	default:
		return nil, fmt.Errorf("provider type %q is not OpenAI-compatible", p.Type)
	}

	return c, nil
}

func (c *openAIClient) ModelName() string {
	return c.provider.ModelName
}

func (c *openAIClient) Generate(ctx context.Context, messages []Message, opts *GenerateOptions) (*Response, error) {
	tracer := observability.GetTracer("lucia.llms")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrModelName, c.provider.ModelName),
			attribute.String("provider", string(c.provider.Type)),
		),
	)
	defer span.End()

	request := c.buildRequest(messages, opts)

	response, err := c.makeRequest(ctx, request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if response.Error != nil {
		apiErr := fmt.Errorf("model API error: %s", response.Error.Message)
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, response.Error.Message)
		return nil, apiErr
	}

	if len(response.Choices) == 0 {
		err := fmt.Errorf("no response choices returned")
		span.RecordError(err)
		span.SetStatus(codes.Error, "no choices")
		return nil, err
	}

	choice := response.Choices[0]
	result := &Response{
		Text:       choice.Message.Content,
		TokensUsed: response.Usage.TotalTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return result, nil
}

func (c *openAIClient) buildRequest(messages []Message, opts *GenerateOptions) *openAIRequest {
	req := &openAIRequest{Messages: make([]openAIMessage, 0, len(messages))}

	// Azure OpenAI routes by deployment, the model field is redundant
	// there but harmless elsewhere.
	if c.provider.Type != ProviderAzureOpenAI {
		req.Model = c.provider.ModelName
	}

	for _, m := range messages {
		om := openAIMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openAIToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openAIFunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		req.Messages = append(req.Messages, om)
	}

	if opts == nil {
		return req
	}

	req.Temperature = opts.Temperature
	if opts.MaxTokens > 0 {
		req.MaxTokens = &opts.MaxTokens
	}
	for _, t := range opts.Tools {
		req.Tools = append(req.Tools, openAITool{
			Type: "function",
			Function: openAIToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	if opts.ResponseFormat != nil {
		req.ResponseFormat = &openAIResponseFormat{
			Type: "json_schema",
			JSONSchema: &openAIJSONSchema{
				Name:   opts.ResponseFormat.Name,
				Schema: opts.ResponseFormat.Schema,
				Strict: opts.ResponseFormat.Strict,
			},
		}
	}

	return req
}

func (c *openAIClient) makeRequest(ctx context.Context, request *openAIRequest) (*openAIResponse, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.requestURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	key, err := c.credential()
	if err != nil {
		return nil, err
	}
	switch c.auth {
	case authBearer:
		httpReq.Header.Set("Authorization", "Bearer "+key)
	case authAPIKeyHeader:
		httpReq.Header.Set("api-key", key)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("model request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var response openAIResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &response, nil
}

// credential resolves the API key. With use_default_credentials set,
// the key is taken from ambient identity (token exposed to the
// process by the platform's credential refresher).
func (c *openAIClient) credential() (string, error) {
	if c.provider.UseDefaultCredentials {
		if token := os.Getenv("AZURE_ACCESS_TOKEN"); token != "" {
			return token, nil
		}
		return "", fmt.Errorf("provider %q: use_default_credentials set but no ambient token available", c.provider.ID)
	}
	if c.provider.APIKey == "" {
		return "", fmt.Errorf("provider %q: api key is required", c.provider.ID)
	}
	return c.provider.APIKey, nil
}

var _ ChatClient = (*openAIClient)(nil)
