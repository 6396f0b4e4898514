package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/lucia-ai/lucia/pkg/a2a"
	"github.com/lucia-ai/lucia/pkg/agent"
	"github.com/lucia-ai/lucia/pkg/httpclient"
	"github.com/lucia-ai/lucia/pkg/observability"
	"github.com/lucia-ai/lucia/pkg/session"
)

// DispatchConfig tunes the dispatcher.
type DispatchConfig struct {
	DefaultTimeout time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
}

// Dispatcher invokes the agents named by a routing decision.
type Dispatcher struct {
	registry *agent.Registry
	client   *a2a.Client
	cfg      DispatchConfig
	metrics  *observability.Metrics
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(registry *agent.Registry, client *a2a.Client, cfg DispatchConfig, metrics *observability.Metrics) *Dispatcher {
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if client == nil {
		client = a2a.NewClient(nil)
	}

	return &Dispatcher{registry: registry, client: client, cfg: cfg, metrics: metrics}
}

// Dispatch invokes `[primary, ...additional]` concurrently and returns
// responses in declaration order. Individual failures become failed
// AgentResponses; Dispatch itself only fails on context cancellation.
func (d *Dispatcher) Dispatch(ctx context.Context, decision *RoutingDecision, prompt string, sess *session.Context) []AgentResponse {
	tracer := observability.GetTracer("lucia.orchestrator")
	ctx, span := tracer.Start(ctx, observability.SpanDispatch,
		trace.WithAttributes(attribute.String(observability.AttrAgentID, decision.AgentID)),
	)
	defer span.End()

	agentIDs := append([]string{decision.AgentID}, decision.AdditionalAgents...)
	responses := make([]AgentResponse, len(agentIDs))

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range agentIDs {
		g.Go(func() error {
			responses[i] = d.invokeWithRetry(gctx, id, prompt, sess)
			return nil
		})
	}
	g.Wait()

	return responses
}

// invokeWithRetry runs one agent invocation with the transient-only
// retry policy.
func (d *Dispatcher) invokeWithRetry(ctx context.Context, agentID, prompt string, sess *session.Context) AgentResponse {
	var resp AgentResponse
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return d.failed(agentID, ctx.Err().Error(), 0)
			case <-time.After(d.cfg.RetryDelay):
			}
			slog.Debug("retrying agent dispatch", "agent", agentID, "attempt", attempt)
		}

		var retryable bool
		resp, retryable = d.invoke(ctx, agentID, prompt, sess)
		if resp.Success || !retryable {
			return resp
		}
	}
	return resp
}

// invoke runs one attempt. The bool reports whether the failure is
// transient and worth retrying.
func (d *Dispatcher) invoke(ctx context.Context, agentID, prompt string, sess *session.Context) (AgentResponse, bool) {
	entry, ok := d.registry.Get(agentID)
	if !ok {
		return d.failed(agentID, fmt.Sprintf("agent %q not found", agentID), 0), false
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.DefaultTimeout)
	defer cancel()

	tracer := observability.GetTracer("lucia.orchestrator")
	ctx, span := tracer.Start(ctx, observability.SpanAgentInvoke,
		trace.WithAttributes(
			attribute.String(observability.AttrAgentID, agentID),
			attribute.Bool(observability.AttrAgentRemote, entry.IsRemote()),
		),
	)
	defer span.End()

	start := time.Now()

	var content string
	var err error
	if entry.IsRemote() {
		content, err = d.invokeRemote(ctx, entry, prompt)
	} else {
		content, err = d.invokeLocal(ctx, entry, prompt, sess)
	}
	elapsed := time.Since(start)

	span.SetAttributes(
		attribute.Bool(observability.AttrAgentSuccess, err == nil),
		attribute.Int64(observability.AttrAgentDurationMs, elapsed.Milliseconds()),
	)
	d.metrics.RecordDispatch(ctx, agentID, elapsed, err == nil)

	if err != nil {
		span.RecordError(err)
		if errors.Is(err, context.DeadlineExceeded) {
			return d.failed(agentID, fmt.Sprintf("timed out after %s", d.cfg.DefaultTimeout), elapsed.Milliseconds()), false
		}
		return d.failed(agentID, err.Error(), elapsed.Milliseconds()), httpclient.IsTransient(err)
	}

	return AgentResponse{
		AgentID:    agentID,
		Content:    content,
		Success:    true,
		DurationMs: elapsed.Milliseconds(),
	}, false
}

func (d *Dispatcher) invokeLocal(ctx context.Context, entry *agent.Entry, prompt string, sess *session.Context) (string, error) {
	var history []session.Turn
	if sess != nil {
		history = sess.Turns
	}

	result, err := entry.Invokable.Invoke(ctx, prompt, history)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

func (d *Dispatcher) invokeRemote(ctx context.Context, entry *agent.Entry, prompt string) (string, error) {
	msg := a2a.NewTextMessage(a2a.RoleUser, "", prompt)
	reply, err := d.client.SendMessage(ctx, entry.Card.URL, msg)
	if err != nil {
		return "", err
	}
	return reply.Text(), nil
}

func (d *Dispatcher) failed(agentID, reason string, durationMs int64) AgentResponse {
	return AgentResponse{
		AgentID:    agentID,
		Success:    false,
		Error:      reason,
		DurationMs: durationMs,
	}
}
