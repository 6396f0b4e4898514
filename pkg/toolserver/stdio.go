package toolserver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	lucia "github.com/lucia-ai/lucia"
)

const (
	stdioRestartBaseDelay = time.Second
	stdioRestartMaxDelay  = 30 * time.Second
)

// stdioConn runs a tool server as a child process and speaks MCP over
// its stdin/stdout via the mcp-go client. When the process exits the
// next call respawns it, backing off exponentially up to 30s.
type stdioConn struct {
	server *ToolServer

	mu          sync.Mutex
	client      *client.Client
	restartWait time.Duration
	nextRestart time.Time
}

func newStdioConn(server *ToolServer) *stdioConn {
	return &stdioConn{server: server}
}

func (c *stdioConn) initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spawnLocked(ctx)
}

// spawnLocked starts the child process and performs the MCP handshake.
// Callers hold c.mu.
func (c *stdioConn) spawnLocked(ctx context.Context) error {
	if c.client != nil {
		return nil
	}

	if wait := time.Until(c.nextRestart); wait > 0 {
		return fmt.Errorf("server %q restarting, retry in %s", c.server.ID, wait.Round(time.Second))
	}

	mcpClient, err := client.NewStdioMCPClient(c.server.Command, envSlice(c.server.Env), c.server.Args...)
	if err != nil {
		c.noteFailureLocked()
		return fmt.Errorf("failed to spawn tool server %q: %w", c.server.ID, err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		c.noteFailureLocked()
		return fmt.Errorf("failed to start tool server %q: %w", c.server.ID, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "lucia",
		Version: lucia.GetVersion().Version,
	}
	initReq.Params.ProtocolVersion = "2024-11-05"

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		c.noteFailureLocked()
		return fmt.Errorf("failed to initialize tool server %q: %w", c.server.ID, err)
	}

	c.client = mcpClient
	c.restartWait = 0
	c.nextRestart = time.Time{}

	slog.Info("tool server connected", "server", c.server.ID, "transport", "stdio", "command", c.server.Command)
	return nil
}

// noteFailureLocked records a failed spawn and schedules the earliest
// next attempt. Callers hold c.mu.
func (c *stdioConn) noteFailureLocked() {
	if c.restartWait == 0 {
		c.restartWait = stdioRestartBaseDelay
	} else {
		c.restartWait *= 2
		if c.restartWait > stdioRestartMaxDelay {
			c.restartWait = stdioRestartMaxDelay
		}
	}
	c.nextRestart = time.Now().Add(c.restartWait)
}

// dropLocked discards a dead client so the next call respawns it.
func (c *stdioConn) dropLocked() {
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
	c.noteFailureLocked()
}

func (c *stdioConn) listTools(ctx context.Context) ([]Tool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.spawnLocked(ctx); err != nil {
		return nil, err
	}

	resp, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.dropLocked()
		return nil, fmt.Errorf("failed to list tools on %q: %w", c.server.ID, err)
	}

	tools := make([]Tool, 0, len(resp.Tools))
	for _, t := range resp.Tools {
		tools = append(tools, Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaToMap(t.InputSchema),
		})
	}
	return tools, nil
}

func (c *stdioConn) callTool(ctx context.Context, name string, args map[string]any) (string, *ToolError) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.spawnLocked(ctx); err != nil {
		return "", &ToolError{Code: ErrCodeServerUnavailable, Message: err.Error()}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	resp, err := c.client.CallTool(ctx, req)
	if err != nil {
		c.dropLocked()
		return "", &ToolError{Code: ErrCodeServerUnavailable, Message: err.Error()}
	}

	text := textContent(resp)
	if resp.IsError {
		msg := text
		if msg == "" {
			msg = "tool execution failed"
		}
		return "", &ToolError{Code: ErrCodeExecution, Message: msg}
	}
	return text, nil
}

func (c *stdioConn) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		return err
	}
	return nil
}

func textContent(resp *mcp.CallToolResult) string {
	var out string
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			if out != "" {
				out += "\n"
			}
			out += tc.Text
		}
	}
	return out
}

func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	m := map[string]any{"type": schema.Type}
	if len(schema.Properties) > 0 {
		m["properties"] = schema.Properties
	}
	if len(schema.Required) > 0 {
		m["required"] = schema.Required
	}
	return m
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
