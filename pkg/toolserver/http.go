package toolserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lucia-ai/lucia/pkg/httpclient"
)

const (
	httpConnectTimeout = 10 * time.Second
	sseResponseTimeout = 5 * time.Minute
)

// httpConn speaks MCP over HTTP. Responses may arrive as plain JSON or
// as an SSE stream carrying a single JSON-RPC message; both transports
// share this implementation.
type httpConn struct {
	server     *ToolServer
	httpClient *httpclient.Client

	sessionMu sync.RWMutex
	sessionID string
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func newHTTPConn(server *ToolServer) *httpConn {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   httpConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost: 2,
	}

	return &httpConn{
		server: server,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Transport: transport,
				Timeout:   60 * time.Second,
			}),
			httpclient.WithMaxRetries(3),
			httpclient.WithBaseDelay(2*time.Second),
		),
	}
}

func (c *httpConn) initialize(ctx context.Context) error {
	resp, err := c.rpc(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo": map[string]any{
			"name": "lucia",
		},
		"capabilities": map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tool server %q: %w", c.server.ID, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("tool server %q init error: %s", c.server.ID, resp.Error.Message)
	}
	return nil
}

func (c *httpConn) listTools(ctx context.Context) ([]Tool, error) {
	resp, err := c.rpc(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools on %q: %w", c.server.ID, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("tool server %q list error: %s", c.server.ID, resp.Error.Message)
	}

	var result struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to decode tools/list result: %w", err)
	}
	return result.Tools, nil
}

func (c *httpConn) callTool(ctx context.Context, name string, args map[string]any) (string, *ToolError) {
	resp, err := c.rpc(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return "", &ToolError{Code: ErrCodeServerUnavailable, Message: err.Error()}
	}
	if resp.Error != nil {
		return "", &ToolError{Code: resp.Error.Code, Message: resp.Error.Message}
	}

	var result struct {
		IsError bool `json:"isError"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", &ToolError{Code: ErrCodeExecution, Message: "malformed tools/call result"}
	}

	var text strings.Builder
	for _, item := range result.Content {
		if item.Type != "text" {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n")
		}
		text.WriteString(item.Text)
	}

	if result.IsError {
		msg := text.String()
		if msg == "" {
			msg = "tool execution failed"
		}
		return "", &ToolError{Code: ErrCodeExecution, Message: msg}
	}
	return text.String(), nil
}

func (c *httpConn) close() error {
	return nil
}

func (c *httpConn) rpc(ctx context.Context, method string, params any) (*rpcResponse, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.server.URL, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range c.server.Headers {
		req.Header.Set(k, v)
	}

	c.sessionMu.RLock()
	if c.sessionID != "" {
		req.Header.Set("mcp-session-id", c.sessionID)
	}
	c.sessionMu.RUnlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Debug("tool server request failed", "server", c.server.ID, "method", method, "error", err)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if sid := resp.Header.Get("mcp-session-id"); sid != "" {
		c.sessionMu.Lock()
		c.sessionID = sid
		c.sessionMu.Unlock()
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		return readSSEResponse(resp.Body)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &rpcResp, nil
}

// readSSEResponse reads the first complete JSON-RPC message from an
// SSE stream.
func readSSEResponse(body io.Reader) (*rpcResponse, error) {
	type result struct {
		response *rpcResponse
		err      error
	}
	resultCh := make(chan result, 1)

	go func() {
		reader := bufio.NewReader(body)
		var data strings.Builder

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				break
			}
			line = strings.TrimSpace(line)

			if line == "" {
				if data.Len() > 0 {
					var resp rpcResponse
					if parseErr := json.Unmarshal([]byte(data.String()), &resp); parseErr == nil {
						resultCh <- result{response: &resp}
						return
					}
					data.Reset()
				}
				continue
			}

			if strings.HasPrefix(line, "data:") {
				data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			}
		}

		if data.Len() > 0 {
			var resp rpcResponse
			if parseErr := json.Unmarshal([]byte(data.String()), &resp); parseErr == nil {
				resultCh <- result{response: &resp}
				return
			}
		}
		resultCh <- result{err: fmt.Errorf("SSE stream ended without a complete message")}
	}()

	select {
	case res := <-resultCh:
		return res.response, res.err
	case <-time.After(sseResponseTimeout):
		return nil, fmt.Errorf("timeout reading SSE response after %v", sseResponseTimeout)
	}
}
