package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// connection is the transport-specific half of a server connection.
type connection interface {
	initialize(ctx context.Context) error
	listTools(ctx context.Context) ([]Tool, error)
	callTool(ctx context.Context, name string, args map[string]any) (string, *ToolError)
	close() error
}

// serverConn tracks one server's connection state and tool cache. The
// tool cache is only valid while the state is Connected.
type serverConn struct {
	server *ToolServer
	conn   connection

	mu    sync.RWMutex
	state ConnState
	tools []Tool
}

// Registry owns all tool-server connections. It implements the
// connect/disconnect/list/call surface agents build on.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]*serverConn
}

// NewRegistry creates an empty tool-server registry.
func NewRegistry() *Registry {
	return &Registry{servers: make(map[string]*serverConn)}
}

// Connect registers a server and establishes its connection. Already
// connected servers are reconnected, picking up record changes.
func (r *Registry) Connect(ctx context.Context, server *ToolServer) error {
	if err := validateServer(server); err != nil {
		return err
	}

	r.mu.Lock()
	if existing, ok := r.servers[server.ID]; ok {
		existing.conn.close()
		delete(r.servers, server.ID)
	}

	sc := &serverConn{server: server, state: StateConnecting}
	switch server.Transport {
	case TransportStdio:
		sc.conn = newStdioConn(server)
	case TransportHTTP, TransportSSE:
		sc.conn = newHTTPConn(server)
	}
	r.servers[server.ID] = sc
	r.mu.Unlock()

	if err := sc.conn.initialize(ctx); err != nil {
		sc.setState(StateFailed)
		return err
	}

	tools, err := sc.conn.listTools(ctx)
	if err != nil {
		sc.setState(StateFailed)
		return err
	}

	sc.mu.Lock()
	sc.state = StateConnected
	sc.tools = tools
	sc.mu.Unlock()

	slog.Info("tool server connected",
		"server", server.ID,
		"transport", server.Transport,
		"tools", len(tools),
	)
	return nil
}

// Disconnect closes a server's connection and drops its tool cache.
func (r *Registry) Disconnect(serverID string) error {
	r.mu.Lock()
	sc, ok := r.servers[serverID]
	if ok {
		delete(r.servers, serverID)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("tool server %q is not registered", serverID)
	}

	sc.setState(StateDisconnected)
	return sc.conn.close()
}

// ListTools returns the server's tools. With refresh set, the server
// is re-queried and the cache replaced; otherwise the cached list from
// the last successful query is returned.
func (r *Registry) ListTools(ctx context.Context, serverID string, refresh bool) ([]Tool, error) {
	sc, err := r.lookup(serverID)
	if err != nil {
		return nil, err
	}

	if !refresh {
		sc.mu.RLock()
		state, tools := sc.state, sc.tools
		sc.mu.RUnlock()
		if state == StateConnected {
			return tools, nil
		}
	}

	tools, err := sc.conn.listTools(ctx)
	if err != nil {
		sc.setState(StateFailed)
		return nil, err
	}

	sc.mu.Lock()
	sc.state = StateConnected
	sc.tools = tools
	sc.mu.Unlock()
	return tools, nil
}

// CallTool invokes a tool. argsJSON is the raw JSON arguments object
// as produced by the model. Failures come back as *ToolError; the
// error return is reserved for unknown server ids.
func (r *Registry) CallTool(ctx context.Context, serverID, toolName, argsJSON string) (string, *ToolError, error) {
	sc, err := r.lookup(serverID)
	if err != nil {
		return "", nil, err
	}

	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", &ToolError{Code: ErrCodeBadArguments, Message: fmt.Sprintf("invalid tool arguments: %v", err)}, nil
		}
	}

	result, toolErr := sc.conn.callTool(ctx, toolName, args)
	if toolErr != nil && toolErr.Code == ErrCodeServerUnavailable {
		sc.setState(StateFailed)
	}
	return result, toolErr, nil
}

// DescribeTool returns a tool's metadata from the cached list.
func (r *Registry) DescribeTool(serverID, toolName string) (*Tool, error) {
	sc, err := r.lookup(serverID)
	if err != nil {
		return nil, err
	}

	sc.mu.RLock()
	defer sc.mu.RUnlock()

	for i := range sc.tools {
		if sc.tools[i].Name == toolName {
			return &sc.tools[i], nil
		}
	}
	return nil, fmt.Errorf("tool %q not found on server %q", toolName, serverID)
}

// State reports a server's connection state. Unknown servers report
// Disconnected.
func (r *Registry) State(serverID string) ConnState {
	sc, err := r.lookup(serverID)
	if err != nil {
		return StateDisconnected
	}
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.state
}

// ServerIDs lists registered server ids.
func (r *Registry) ServerIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.servers))
	for id := range r.servers {
		ids = append(ids, id)
	}
	return ids
}

// Close disconnects every server.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, sc := range r.servers {
		sc.setState(StateDisconnected)
		if err := sc.conn.close(); err != nil {
			slog.Debug("failed to close tool server", "server", id, "error", err)
		}
		delete(r.servers, id)
	}
}

func (r *Registry) lookup(serverID string) (*serverConn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sc, ok := r.servers[serverID]
	if !ok {
		return nil, fmt.Errorf("tool server %q is not registered", serverID)
	}
	return sc, nil
}

func (sc *serverConn) setState(state ConnState) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.state = state
	if state != StateConnected {
		sc.tools = nil
	}
}

func validateServer(server *ToolServer) error {
	if server.ID == "" {
		return fmt.Errorf("tool server id is required")
	}
	switch server.Transport {
	case TransportStdio:
		if server.Command == "" {
			return fmt.Errorf("tool server %q: command is required for stdio transport", server.ID)
		}
	case TransportHTTP, TransportSSE:
		if server.URL == "" {
			return fmt.Errorf("tool server %q: url is required for %s transport", server.ID, server.Transport)
		}
	default:
		return fmt.Errorf("tool server %q: unsupported transport %q", server.ID, server.Transport)
	}
	return nil
}
