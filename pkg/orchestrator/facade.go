package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lucia-ai/lucia/pkg/a2a"
	"github.com/lucia-ai/lucia/pkg/agent"
	"github.com/lucia-ai/lucia/pkg/cache"
	"github.com/lucia-ai/lucia/pkg/observability"
	"github.com/lucia-ai/lucia/pkg/session"
)

// Config tunes the orchestrator facade.
type Config struct {
	// OrchestratorAgentID is the agent id under which the full
	// route-dispatch-aggregate pipeline is exposed. Messages addressed
	// to any other agent id bypass the router.
	OrchestratorAgentID string
	FallbackMessage     string
	// RoutingCacheTTL bounds cached routing decisions. Zero uses the
	// cache default.
	RoutingCacheTTL time.Duration
}

// Orchestrator is the full request pipeline behind the A2A surface:
// normalize, route (cache-assisted), dispatch, aggregate, and record
// the turn.
type Orchestrator struct {
	cfg        Config
	router     *Router
	dispatcher *Dispatcher
	aggregator *Aggregator
	sessions   *session.Service
	decisions  *cache.Cache
	registry   *agent.Registry
	traces     agent.TraceSink
	metrics    *observability.Metrics
	routerSalt string
}

// New creates the orchestrator facade. decisions and traces may be nil
// to disable routing-decision caching and pipeline tracing.
func New(cfg Config, router *Router, dispatcher *Dispatcher, sessions *session.Service, decisions *cache.Cache, registry *agent.Registry, traces agent.TraceSink, metrics *observability.Metrics) *Orchestrator {
	if cfg.OrchestratorAgentID == "" {
		cfg.OrchestratorAgentID = "lucia"
	}

	return &Orchestrator{
		cfg:        cfg,
		router:     router,
		dispatcher: dispatcher,
		aggregator: NewAggregator(cfg.FallbackMessage),
		sessions:   sessions,
		decisions:  decisions,
		registry:   registry,
		traces:     traces,
		metrics:    metrics,
		routerSalt: router.chat.ModelName(),
	}
}

// HandleMessage implements a2a.MessageHandler. The orchestrator agent
// id runs the full pipeline; any other agent id is invoked directly.
func (o *Orchestrator) HandleMessage(ctx context.Context, agentID string, msg *a2a.Message) (*a2a.Message, error) {
	sessionID := msg.ContextID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	var target string
	if agentID != o.cfg.OrchestratorAgentID {
		target = agentID
	}

	reply, err := o.Respond(ctx, sessionID, msg.Text(), target)
	if err != nil {
		return nil, err
	}

	out := a2a.NewTextMessage(a2a.RoleAgent, uuid.NewString(), reply)
	out.ContextID = sessionID
	return out, nil
}

// Respond runs one user message through the pipeline and returns the
// final reply text. A non-empty targetAgentID bypasses the router and
// dispatches straight to that agent; the scheduler uses this for
// deferred prompts with a known recipient.
func (o *Orchestrator) Respond(ctx context.Context, sessionID, message, targetAgentID string) (string, error) {
	prompt := normalizePrompt(message)
	if prompt == "" {
		return "", fmt.Errorf("%w: message is empty", ErrBadRequest)
	}

	// Turns on the same session are serialized in arrival order.
	release := o.sessions.Lock(sessionID)
	defer release()

	sess := o.sessions.Get(ctx, sessionID)

	decision, err := o.decide(ctx, prompt, sess, targetAgentID)
	if err != nil {
		return "", err
	}

	start := time.Now()
	reply, responses, served := o.respondFromCache(ctx, decision, prompt, sess)
	if !served {
		responses = o.dispatcher.Dispatch(ctx, decision, prompt, sess)
		reply = o.aggregator.Aggregate(responses)
		o.cacheResponse(ctx, decision, prompt, sess, responses, reply)
	}

	o.sessions.AppendTurn(ctx, sessionID, a2a.RoleUser, prompt)
	o.sessions.AppendTurn(ctx, sessionID, a2a.RoleAgent, reply)

	o.recordTrace(decision, prompt, reply, responses, served, time.Since(start))
	return reply, nil
}

// responseFingerprint derives the agent-response cache key, when the
// request is eligible for the response fast path: a single local agent
// with no tool bindings (pure text generation, no side effects) and no
// session history feeding the reply. Everything else must dispatch.
func (o *Orchestrator) responseFingerprint(decision *RoutingDecision, prompt string, sess *session.Context) (string, bool) {
	if o.decisions == nil || len(decision.AdditionalAgents) > 0 {
		return "", false
	}
	if sess != nil && len(sess.Turns) > 0 {
		return "", false
	}

	entry, ok := o.registry.Get(decision.AgentID)
	if !ok || entry.IsRemote() || entry.Definition == nil || len(entry.Definition.ToolRefs) > 0 {
		return "", false
	}
	return cache.Fingerprint(prompt, decision.AgentID+"|"+entry.Definition.ModelConnectionName), true
}

func (o *Orchestrator) respondFromCache(ctx context.Context, decision *RoutingDecision, prompt string, sess *session.Context) (string, []AgentResponse, bool) {
	fingerprint, eligible := o.responseFingerprint(decision, prompt, sess)
	if !eligible {
		return "", nil, false
	}

	ns := cache.AgentNamespace(decision.AgentID)
	payload, hit := o.decisions.Get(ctx, ns, fingerprint)
	o.metrics.RecordCacheLookup(ctx, string(ns), hit)
	if !hit {
		return "", nil, false
	}
	return string(payload), nil, true
}

func (o *Orchestrator) cacheResponse(ctx context.Context, decision *RoutingDecision, prompt string, sess *session.Context, responses []AgentResponse, reply string) {
	if len(responses) != 1 || !responses[0].Success {
		return
	}
	fingerprint, eligible := o.responseFingerprint(decision, prompt, sess)
	if !eligible {
		return
	}
	o.decisions.Put(ctx, cache.AgentNamespace(decision.AgentID), fingerprint, []byte(reply), 0)
}

// decide produces the routing decision: explicit target, cached
// decision, or a fresh router call.
func (o *Orchestrator) decide(ctx context.Context, prompt string, sess *session.Context, targetAgentID string) (*RoutingDecision, error) {
	if targetAgentID != "" {
		if _, ok := o.registry.Get(targetAgentID); !ok {
			return nil, fmt.Errorf("%w: agent %q not found", ErrBadRequest, targetAgentID)
		}
		return &RoutingDecision{
			AgentID:    targetAgentID,
			Confidence: 1,
			Reasoning:  "explicit target",
		}, nil
	}

	// Pinned sessions route the same prompt differently per session,
	// so the shared decision cache does not apply.
	cacheable := o.decisions != nil && (sess == nil || sess.PinnedAgentID == "")

	var fingerprint string
	if cacheable {
		fingerprint = cache.Fingerprint(prompt, o.routerSalt)
		payload, hit := o.decisions.Get(ctx, cache.NamespaceRouter, fingerprint)
		o.metrics.RecordCacheLookup(ctx, string(cache.NamespaceRouter), hit)
		if hit {
			var decision RoutingDecision
			if err := json.Unmarshal(payload, &decision); err == nil {
				// The agent may have been removed since the decision
				// was cached.
				if _, ok := o.registry.Get(decision.AgentID); ok {
					return &decision, nil
				}
			} else {
				slog.Debug("cached routing decision malformed, dropping", "error", err)
			}
		}
	}

	decision, err := o.router.Route(ctx, prompt, sess)
	if err != nil {
		return nil, err
	}

	// Only confident decisions are worth replaying; fallback and
	// clarification verdicts must be re-derived next time.
	if cacheable && decision.Confidence >= o.router.cfg.ConfidenceThreshold {
		if payload, err := json.Marshal(decision); err == nil {
			o.decisions.Put(ctx, cache.NamespaceRouter, fingerprint, payload, o.cfg.RoutingCacheTTL)
		}
	}

	return decision, nil
}

func (o *Orchestrator) recordTrace(decision *RoutingDecision, prompt, reply string, responses []AgentResponse, cached bool, elapsed time.Duration) {
	if o.traces == nil {
		return
	}

	success := cached
	for _, resp := range responses {
		if resp.Success {
			success = true
			break
		}
	}

	o.traces.RecordTrace(&agent.TraceRecord{
		TraceID:    uuid.NewString(),
		AgentID:    decision.AgentID,
		Timestamp:  time.Now().UTC(),
		Prompt:     prompt,
		Response:   reply,
		DurationMs: elapsed.Milliseconds(),
		Success:    success,
		Label:      decision.Reasoning,
	})
}

// normalizePrompt trims and collapses internal whitespace so
// fingerprints are stable across formatting noise.
func normalizePrompt(message string) string {
	return strings.Join(strings.Fields(message), " ")
}

var _ a2a.MessageHandler = (*Orchestrator)(nil)
