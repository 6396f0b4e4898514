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

	"github.com/lucia-ai/lucia/pkg/httpclient"
)

// openAIEmbeddingClient calls an OpenAI-compatible /embeddings endpoint.
type openAIEmbeddingClient struct {
	provider   *Provider
	httpClient *httpclient.Client
	auth       authStyle
	requestURL string
}

type openAIEmbeddingRequest struct {
	Model string   `json:"model,omitempty"`
	Input []string `json:"input"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *openAIError `json:"error,omitempty"`
}

func newOpenAIEmbeddingClient(p *Provider) (*openAIEmbeddingClient, error) {
	c := &openAIEmbeddingClient{
		provider: p,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
			httpclient.WithHeaderParser(httpclient.ParseStandardHeaders),
		),
	}

	endpoint := strings.TrimSuffix(p.Endpoint, "/")
	switch p.Type {
	case ProviderOpenAI:
		c.auth = authBearer
		c.requestURL = endpoint + "/embeddings"
	case ProviderAzureOpenAI:
		c.auth = authAPIKeyHeader
		c.requestURL = fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s",
			endpoint, p.ModelName, azureAPIVersion)
	case ProviderAzureInference:
		c.auth = authAPIKeyHeader
		c.requestURL = endpoint + "/embeddings?api-version=" + azureAPIVersion
	default:
		return nil, fmt.Errorf("provider type %q does not support embeddings", p.Type)
	}

	return c, nil
}

func (c *openAIEmbeddingClient) ModelName() string {
	return c.provider.ModelName
}

func (c *openAIEmbeddingClient) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	request := openAIEmbeddingRequest{Input: inputs}
	if c.provider.Type != ProviderAzureOpenAI {
		request.Model = c.provider.ModelName
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.requestURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	key := c.provider.APIKey
	switch c.auth {
	case authBearer:
		httpReq.Header.Set("Authorization", "Bearer "+key)
	case authAPIKeyHeader:
		httpReq.Header.Set("api-key", key)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var response openAIEmbeddingResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if response.Error != nil {
		return nil, fmt.Errorf("embedding API error: %s", response.Error.Message)
	}

	embeddings := make([][]float32, len(response.Data))
	for _, d := range response.Data {
		if d.Index < 0 || d.Index >= len(embeddings) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		embeddings[d.Index] = d.Embedding
	}

	return embeddings, nil
}

// ollamaEmbeddingClient calls Ollama's /api/embed endpoint.
type ollamaEmbeddingClient struct {
	provider   *Provider
	httpClient *httpclient.Client
	baseURL    string
}

type ollamaEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbeddingResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

func newOllamaEmbeddingClient(p *Provider) *ollamaEmbeddingClient {
	return &ollamaEmbeddingClient{
		provider: p,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		),
		baseURL: strings.TrimSuffix(p.Endpoint, "/"),
	}
}

func (c *ollamaEmbeddingClient) ModelName() string {
	return c.provider.ModelName
}

func (c *ollamaEmbeddingClient) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbeddingRequest{Model: c.provider.ModelName, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var response ollamaEmbeddingResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if response.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", response.Error)
	}

	return response.Embeddings, nil
}

var (
	_ EmbeddingClient = (*openAIEmbeddingClient)(nil)
	_ EmbeddingClient = (*ollamaEmbeddingClient)(nil)
)
