package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ============================================================================
// A2A SERVER - Expose agents over the protocol
// ============================================================================

// MessageHandler processes an inbound user message addressed to one
// agent and returns the agent's reply.
type MessageHandler interface {
	HandleMessage(ctx context.Context, agentID string, msg *Message) (*Message, error)
}

// CardProvider resolves agent cards for discovery.
type CardProvider interface {
	Card(agentID string) (*AgentCard, bool)
	Cards() []AgentCard
}

// TaskProvider exposes deferred tasks over tasks/get and tasks/cancel.
type TaskProvider interface {
	GetTask(ctx context.Context, taskID string) (*Task, error)
	CancelTask(ctx context.Context, taskID string) (*Task, error)
}

// ErrTaskNotFound is returned by TaskProvider implementations when the
// task id is unknown; the server maps it to CodeTaskNotFound.
var ErrTaskNotFound = errors.New("task not found")

// Server serves the A2A protocol for a set of agents.
type Server struct {
	handler MessageHandler
	cards   CardProvider
	tasks   TaskProvider
	mounts  []func(chi.Router)
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithTaskProvider enables tasks/get and tasks/cancel.
func WithTaskProvider(tp TaskProvider) ServerOption {
	return func(s *Server) {
		s.tasks = tp
	}
}

// WithExtraRoutes mounts additional routes (admin, metrics) on the
// server's router.
func WithExtraRoutes(mount func(chi.Router)) ServerOption {
	return func(s *Server) {
		s.mounts = append(s.mounts, mount)
	}
}

// NewServer creates an A2A server.
func NewServer(handler MessageHandler, cards CardProvider, opts ...ServerOption) *Server {
	s := &Server{handler: handler, cards: cards}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/a2a/agents", s.handleDirectory)
	r.Get("/a2a/{agentID}/.well-known/agent.json", s.handleCard)
	r.Post("/a2a/{agentID}", s.handleRPC)

	for _, mount := range s.mounts {
		mount(r)
	}

	return r
}

func (s *Server) handleDirectory(w http.ResponseWriter, r *http.Request) {
	cards := s.cards.Cards()
	writeJSON(w, http.StatusOK, AgentDirectory{Agents: cards, Total: len(cards)})
}

func (s *Server) handleCard(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	card, ok := s.cards.Card(agentID)
	if !ok {
		http.Error(w, fmt.Sprintf("agent %q not found", agentID), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeRPCError(w, nil, CodeParseError, "failed to read request body")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeRPCError(w, nil, CodeParseError, "invalid JSON")
		return
	}
	if req.JSONRPC != "2.0" {
		writeRPCError(w, req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\"")
		return
	}

	if _, ok := s.cards.Card(agentID); !ok {
		writeRPCError(w, req.ID, CodeAgentNotFound, fmt.Sprintf("agent %q not found", agentID))
		return
	}

	switch req.Method {
	case MethodMessageSend:
		s.handleMessageSend(w, r, agentID, &req)
	case MethodMessageStream:
		s.handleMessageStream(w, r, agentID, &req)
	case MethodTasksGet:
		s.handleTask(w, r, &req, func(ctx context.Context, id string) (*Task, error) {
			return s.tasks.GetTask(ctx, id)
		})
	case MethodTasksCancel:
		s.handleTask(w, r, &req, func(ctx context.Context, id string) (*Task, error) {
			return s.tasks.CancelTask(ctx, id)
		})
	default:
		writeRPCError(w, req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (s *Server) handleMessageSend(w http.ResponseWriter, r *http.Request, agentID string, req *Request) {
	msg, rpcErr := decodeMessageParams(req)
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr.Code, rpcErr.Message)
		return
	}

	reply, err := s.handler.HandleMessage(r.Context(), agentID, msg)
	if err != nil {
		slog.Error("message/send failed", "agent", agentID, "error", err)
		writeRPCError(w, req.ID, CodeInternalError, err.Error())
		return
	}

	writeRPCResult(w, req.ID, reply)
}

// handleMessageStream answers message/stream with an SSE stream. The
// pipeline is not incremental, so the stream carries a single final
// event followed by close.
func (s *Server) handleMessageStream(w http.ResponseWriter, r *http.Request, agentID string, req *Request) {
	msg, rpcErr := decodeMessageParams(req)
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr.Code, rpcErr.Message)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeRPCError(w, req.ID, CodeInternalError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	reply, err := s.handler.HandleMessage(r.Context(), agentID, msg)

	var resp Response
	resp.JSONRPC = "2.0"
	resp.ID = req.ID
	if err != nil {
		resp.Error = &Error{Code: CodeInternalError, Message: err.Error()}
	} else {
		result, _ := json.Marshal(reply)
		resp.Result = result
	}

	data, _ := json.Marshal(resp)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request, req *Request, op func(context.Context, string) (*Task, error)) {
	if s.tasks == nil {
		writeRPCError(w, req.ID, CodeMethodNotFound, "tasks are not supported by this server")
		return
	}

	var params TaskParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		writeRPCError(w, req.ID, CodeInvalidParams, "params.id is required")
		return
	}

	task, err := op(r.Context(), params.ID)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			writeRPCError(w, req.ID, CodeTaskNotFound, fmt.Sprintf("task %q not found", params.ID))
			return
		}
		writeRPCError(w, req.ID, CodeInternalError, err.Error())
		return
	}

	writeRPCResult(w, req.ID, task)
}

func decodeMessageParams(req *Request) (*Message, *Error) {
	var params MessageSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "invalid message params"}
	}
	if params.Message == nil || len(params.Message.Parts) == 0 {
		return nil, &Error{Code: CodeInvalidParams, Message: "params.message with at least one part is required"}
	}
	return params.Message, nil
}

func writeRPCResult(w http.ResponseWriter, id json.RawMessage, result any) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		writeRPCError(w, id, CodeInternalError, "failed to marshal result")
		return
	}
	writeJSON(w, http.StatusOK, Response{JSONRPC: "2.0", ID: id, Result: resultJSON})
}

func writeRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	writeJSON(w, http.StatusOK, Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: message},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

// ListenAndServe runs the server until ctx is cancelled, then shuts
// down gracefully within the given grace period.
func (s *Server) ListenAndServe(ctx context.Context, addr string, grace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("A2A server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
