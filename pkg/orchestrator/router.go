package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/lucia-ai/lucia/pkg/agent"
	"github.com/lucia-ai/lucia/pkg/llms"
	"github.com/lucia-ai/lucia/pkg/observability"
	"github.com/lucia-ai/lucia/pkg/session"
)

const routerSystemPrompt = `You are the request router for a home automation assistant.
Given a user request and a catalog of available agents, pick the single best
agent to handle the request. If the request spans multiple agents, name the
primary agent and list the others under additionalAgents. Respond with JSON
matching the provided schema and nothing else.`

// RouterConfig tunes the router.
type RouterConfig struct {
	ConfidenceThreshold  float64
	MaxAttempts          int
	Timeout              time.Duration
	Temperature          float64
	MaxExamplesPerAgent  int
	FallbackAgentID      string
	ClarificationAgentID string
}

// Router picks the agent(s) for a message via a schema-constrained LLM
// call.
type Router struct {
	registry *agent.Registry
	chat     llms.ChatClient
	cfg      RouterConfig
	metrics  *observability.Metrics
	schema   map[string]any
}

// NewRouter creates a router.
func NewRouter(registry *agent.Registry, chat llms.ChatClient, cfg RouterConfig, metrics *observability.Metrics) *Router {
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = 0.7
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.3
	}
	if cfg.MaxExamplesPerAgent == 0 {
		cfg.MaxExamplesPerAgent = 3
	}
	if cfg.FallbackAgentID == "" {
		cfg.FallbackAgentID = "general-assistant"
	}
	if cfg.ClarificationAgentID == "" {
		cfg.ClarificationAgentID = cfg.FallbackAgentID
	}

	return &Router{
		registry: registry,
		chat:     chat,
		cfg:      cfg,
		metrics:  metrics,
		schema:   DecisionSchema(),
	}
}

// Route decides which agent handles the message. It never returns an
// error for model failures; those degrade to the fallback decision.
// Only invalid input is rejected.
func (r *Router) Route(ctx context.Context, message string, sess *session.Context) (*RoutingDecision, error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("%w: message is empty", ErrBadRequest)
	}

	tracer := observability.GetTracer("lucia.orchestrator")
	ctx, span := tracer.Start(ctx, observability.SpanRoute)
	defer span.End()

	// A session pinned to an agent routes straight there.
	if sess != nil && sess.PinnedAgentID != "" {
		if _, ok := r.registry.Get(sess.PinnedAgentID); ok {
			return &RoutingDecision{
				AgentID:    sess.PinnedAgentID,
				Confidence: 1,
				Reasoning:  "session is pinned to this agent",
			}, nil
		}
	}

	candidates := r.candidates()
	if len(candidates) == 0 {
		span.SetAttributes(attribute.String(observability.AttrAgentID, r.cfg.FallbackAgentID))
		return r.fallback("no agents available"), nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	decision, degraded := r.callModel(ctx, message, candidates)
	decision = r.validate(decision, candidates)

	// Degraded decisions already name the fallback agent; gating them
	// into a clarification would lose the request entirely.
	if !degraded && decision.Confidence < r.cfg.ConfidenceThreshold {
		slog.Debug("routing confidence below threshold, asking for clarification",
			"agent", decision.AgentID, "confidence", decision.Confidence)
		decision = &RoutingDecision{
			AgentID:    r.cfg.ClarificationAgentID,
			Confidence: decision.Confidence,
			Reasoning:  "confidence below threshold, clarification needed",
		}
	}

	span.SetAttributes(attribute.String(observability.AttrAgentID, decision.AgentID))
	return decision, nil
}

// candidates enumerates routable agents: enabled, not the
// orchestrator itself.
func (r *Router) candidates() []*agent.Entry {
	var out []*agent.Entry
	for _, e := range r.registry.List() {
		if e.Definition != nil && e.Definition.IsOrchestrator {
			continue
		}
		out = append(out, e)
	}
	return out
}

// callModel asks the routing model, retrying malformed output up to
// MaxAttempts before falling back. The bool reports degraded mode
// (timeout or exhausted attempts).
func (r *Router) callModel(ctx context.Context, message string, candidates []*agent.Entry) (*RoutingDecision, bool) {
	temperature := r.cfg.Temperature
	opts := &llms.GenerateOptions{
		Temperature: &temperature,
		ResponseFormat: &llms.ResponseFormat{
			Name:   "routing_decision",
			Schema: r.schema,
			Strict: true,
		},
	}

	messages := []llms.Message{
		{Role: llms.RoleSystem, Content: routerSystemPrompt},
		{Role: llms.RoleUser, Content: r.renderPrompt(message, candidates)},
	}

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		r.metrics.RecordRouterCall(ctx)

		resp, err := r.chat.Generate(ctx, messages, opts)
		if err != nil {
			if ctx.Err() != nil {
				slog.Warn("routing call timed out, using fallback", "error", ctx.Err())
				return r.fallback("router timed out"), true
			}
			slog.Warn("routing call failed", "attempt", attempt, "error", err)
			continue
		}

		var decision RoutingDecision
		if err := json.Unmarshal([]byte(resp.Text), &decision); err != nil || decision.AgentID == "" {
			slog.Warn("routing output malformed", "attempt", attempt, "output", resp.Text)
			continue
		}
		return &decision, false
	}

	return r.fallback("routing attempts exhausted"), true
}

// validate enforces registry membership and dedupes additional
// agents.
func (r *Router) validate(decision *RoutingDecision, candidates []*agent.Entry) *RoutingDecision {
	known := make(map[string]bool, len(candidates))
	for _, e := range candidates {
		known[e.Card.Name] = true
	}

	if !known[decision.AgentID] {
		slog.Warn("router picked unknown agent, replacing with fallback", "agent", decision.AgentID)
		decision = &RoutingDecision{
			AgentID:    r.cfg.FallbackAgentID,
			Confidence: decision.Confidence,
			Reasoning:  fmt.Sprintf("unknown agent %q replaced with fallback", decision.AgentID),
		}
	}

	seen := map[string]bool{decision.AgentID: true}
	var extras []string
	for _, id := range decision.AdditionalAgents {
		if seen[id] || !known[id] {
			continue
		}
		seen[id] = true
		extras = append(extras, id)
	}
	decision.AdditionalAgents = extras
	return decision
}

func (r *Router) renderPrompt(message string, candidates []*agent.Entry) string {
	var b strings.Builder
	b.WriteString("User request:\n")
	b.WriteString(message)
	b.WriteString("\n\nAvailable agents:\n")

	for _, e := range candidates {
		fmt.Fprintf(&b, "- %s: %s\n", e.Card.Name, e.Card.Description)
		examples := 0
		for _, skill := range e.Card.Skills {
			for _, example := range skill.Examples {
				if examples >= r.cfg.MaxExamplesPerAgent {
					break
				}
				fmt.Fprintf(&b, "  e.g. %q\n", example)
				examples++
			}
		}
	}
	return b.String()
}

func (r *Router) fallback(reasoning string) *RoutingDecision {
	return &RoutingDecision{
		AgentID:    r.cfg.FallbackAgentID,
		Confidence: 0,
		Reasoning:  reasoning,
	}
}
