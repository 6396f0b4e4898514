package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lucia-ai/lucia/pkg/httpclient"
)

// ============================================================================
// A2A CLIENT - Call remote agents
// ============================================================================

// Client is an A2A protocol client for calling remote agents.
type Client struct {
	httpClient *httpclient.Client
	auth       *AuthCredentials
}

// AuthCredentials contains authentication information for the peer.
type AuthCredentials struct {
	Type         string // "bearer", "apiKey"
	Token        string
	APIKey       string
	APIKeyHeader string // header name for API key (default: "X-API-Key")
}

// ClientConfig contains configuration for the A2A client.
type ClientConfig struct {
	Timeout    time.Duration
	MaxRetries int
	Auth       *AuthCredentials
}

// NewClient creates a new A2A protocol client.
func NewClient(cfg *ClientConfig) *Client {
	if cfg == nil {
		cfg = &ClientConfig{}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
		),
		auth: cfg.Auth,
	}
}

// DiscoverAgent fetches a remote agent's card from its well-known URL.
// agentURL is the agent base URL; the discovery path is appended.
func (c *Client) DiscoverAgent(ctx context.Context, agentURL string) (*AgentCard, error) {
	cardURL := strings.TrimSuffix(agentURL, "/") + "/.well-known/agent.json"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cardURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setAuthHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch agent card: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to get agent card: %s - %s", resp.Status, string(body))
	}

	var card AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("failed to decode agent card: %w", err)
	}

	return &card, nil
}

// SendMessage sends a user message to a remote agent via message/send
// and returns the agent's reply. A message id is generated when the
// caller leaves it empty.
func (c *Client) SendMessage(ctx context.Context, agentURL string, msg *Message) (*Message, error) {
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	if msg.Kind == "" {
		msg.Kind = KindMessage
	}

	result, rpcErr, err := c.call(ctx, agentURL, MethodMessageSend, MessageSendParams{Message: msg})
	if err != nil {
		return nil, err
	}
	if rpcErr != nil {
		return nil, rpcErr
	}

	var reply Message
	if err := json.Unmarshal(result, &reply); err != nil {
		return nil, fmt.Errorf("failed to decode reply message: %w", err)
	}

	return &reply, nil
}

// GetTask queries a remote agent for a task by id.
func (c *Client) GetTask(ctx context.Context, agentURL, taskID string) (*Task, error) {
	result, rpcErr, err := c.call(ctx, agentURL, MethodTasksGet, TaskParams{ID: taskID})
	if err != nil {
		return nil, err
	}
	if rpcErr != nil {
		return nil, rpcErr
	}

	var task Task
	if err := json.Unmarshal(result, &task); err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}
	return &task, nil
}

// CancelTask cancels a task on a remote agent.
func (c *Client) CancelTask(ctx context.Context, agentURL, taskID string) (*Task, error) {
	result, rpcErr, err := c.call(ctx, agentURL, MethodTasksCancel, TaskParams{ID: taskID})
	if err != nil {
		return nil, err
	}
	if rpcErr != nil {
		return nil, rpcErr
	}

	var task Task
	if err := json.Unmarshal(result, &task); err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}
	return &task, nil
}

func (c *Client) call(ctx context.Context, url, method string, params any) (json.RawMessage, *Error, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal params: %w", err)
	}

	idJSON, _ := json.Marshal(uuid.NewString())
	body, err := json.Marshal(Request{
		JSONRPC: "2.0",
		ID:      idJSON,
		Method:  method,
		Params:  paramsJSON,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuthHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, nil, fmt.Errorf("%s failed: %s - %s", method, resp.Status, string(respBody))
	}

	var rpcResp Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return rpcResp.Result, rpcResp.Error, nil
}

func (c *Client) setAuthHeaders(req *http.Request) {
	if c.auth == nil {
		return
	}

	switch c.auth.Type {
	case "bearer":
		if c.auth.Token != "" {
			req.Header.Set("Authorization", "Bearer "+c.auth.Token)
		}
	case "apiKey":
		header := c.auth.APIKeyHeader
		if header == "" {
			header = "X-API-Key"
		}
		if c.auth.APIKey != "" {
			req.Header.Set(header, c.auth.APIKey)
		}
	}
}
