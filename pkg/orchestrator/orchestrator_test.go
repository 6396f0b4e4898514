package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucia-ai/lucia/pkg/a2a"
	"github.com/lucia-ai/lucia/pkg/agent"
	"github.com/lucia-ai/lucia/pkg/cache"
	"github.com/lucia-ai/lucia/pkg/llms"
	"github.com/lucia-ai/lucia/pkg/session"
)

// scriptedRouterChat plays back scripted routing-model output: each
// Generate call pops the next response or error.
type scriptedRouterChat struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
}

func scripted(responses ...string) *scriptedRouterChat {
	return &scriptedRouterChat{responses: responses}
}

func scriptedErrs(errs ...error) *scriptedRouterChat {
	return &scriptedRouterChat{errs: errs}
}

func (s *scriptedRouterChat) Generate(context.Context, []llms.Message, *llms.GenerateOptions) (*llms.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	if len(s.responses) == 0 {
		return nil, errScriptExhausted
	}
	text := s.responses[0]
	s.responses = s.responses[1:]
	return &llms.Response{Text: text}, nil
}

func (s *scriptedRouterChat) ModelName() string { return "router-test-model" }

func decisionJSON(agentID string, confidence float64, additional ...string) string {
	d := RoutingDecision{AgentID: agentID, Confidence: confidence, AdditionalAgents: additional}
	raw, _ := json.Marshal(d)
	return string(raw)
}

type echoInvokable struct {
	id    string
	reply string
	err   error
	delay time.Duration
	calls atomic.Int64
}

func (e *echoInvokable) ID() string { return e.id }

func (e *echoInvokable) Invoke(ctx context.Context, prompt string, _ []session.Turn) (*agent.InvokeResult, error) {
	e.calls.Add(1)
	if e.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.delay):
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	reply := e.reply
	if reply == "" {
		reply = e.id + ": " + prompt
	}
	return &agent.InvokeResult{Text: reply}, nil
}

func registryWith(invokables ...*echoInvokable) *agent.Registry {
	entries := make(map[string]*agent.Entry, len(invokables))
	for _, inv := range invokables {
		entries[inv.id] = &agent.Entry{
			Card:       a2a.AgentCard{Name: inv.id, Description: inv.id + " agent"},
			Invokable:  inv,
			Definition: &agent.Definition{ID: inv.id, Enabled: true},
		}
	}
	reg := agent.NewRegistry()
	reg.Swap(entries)
	return reg
}

func TestRouterRejectsEmptyMessage(t *testing.T) {
	router := NewRouter(registryWith(), scripted(), RouterConfig{}, nil)

	_, err := router.Route(context.Background(), "   ", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestRouterNoCandidatesFallsBack(t *testing.T) {
	router := NewRouter(registryWith(), scripted(), RouterConfig{FallbackAgentID: "general-assistant"}, nil)

	decision, err := router.Route(context.Background(), "turn on the lights", nil)
	require.NoError(t, err)
	assert.Equal(t, "general-assistant", decision.AgentID)
}

func TestRouterUnknownAgentReplacedWithFallback(t *testing.T) {
	reg := registryWith(&echoInvokable{id: "light-agent"}, &echoInvokable{id: "general-assistant"})
	chat := scripted(decisionJSON("no-such-agent", 0.95))
	router := NewRouter(reg, chat, RouterConfig{FallbackAgentID: "general-assistant"}, nil)

	decision, err := router.Route(context.Background(), "turn on the lights", nil)
	require.NoError(t, err)
	assert.Equal(t, "general-assistant", decision.AgentID)
}

func TestRouterBelowThresholdAsksClarification(t *testing.T) {
	reg := registryWith(&echoInvokable{id: "light-agent"}, &echoInvokable{id: "clarify-agent"})
	chat := scripted(decisionJSON("light-agent", 0.4))
	router := NewRouter(reg, chat, RouterConfig{
		ConfidenceThreshold:  0.7,
		ClarificationAgentID: "clarify-agent",
	}, nil)

	decision, err := router.Route(context.Background(), "do the thing", nil)
	require.NoError(t, err)
	assert.Equal(t, "clarify-agent", decision.AgentID)
	assert.InDelta(t, 0.4, decision.Confidence, 1e-9)
}

func TestRouterDegradedSkipsClarificationGate(t *testing.T) {
	reg := registryWith(&echoInvokable{id: "light-agent"}, &echoInvokable{id: "general-assistant"})
	chat := scriptedErrs(errors.New("boom"), errors.New("boom"), errors.New("boom"))
	router := NewRouter(reg, chat, RouterConfig{
		FallbackAgentID:      "general-assistant",
		ClarificationAgentID: "clarify-agent",
	}, nil)

	decision, err := router.Route(context.Background(), "turn on the lights", nil)
	require.NoError(t, err)

	// A degraded fallback must run, not get re-gated into a
	// clarification by its zero confidence.
	assert.Equal(t, "general-assistant", decision.AgentID)
	assert.Equal(t, "routing attempts exhausted", decision.Reasoning)
}

func TestRouterDedupesAdditionalAgents(t *testing.T) {
	reg := registryWith(
		&echoInvokable{id: "light-agent"},
		&echoInvokable{id: "music-agent"},
		&echoInvokable{id: "climate-agent"},
	)
	chat := scripted(decisionJSON("light-agent", 0.9,
		"light-agent", "music-agent", "music-agent", "ghost-agent", "climate-agent"))
	router := NewRouter(reg, chat, RouterConfig{}, nil)

	decision, err := router.Route(context.Background(), "movie night scene", nil)
	require.NoError(t, err)
	assert.Equal(t, "light-agent", decision.AgentID)
	assert.Equal(t, []string{"music-agent", "climate-agent"}, decision.AdditionalAgents)
}

func TestRouterPinnedSessionShortCircuits(t *testing.T) {
	reg := registryWith(&echoInvokable{id: "light-agent"})
	chat := scripted()
	router := NewRouter(reg, chat, RouterConfig{}, nil)

	sess := &session.Context{SessionID: "s1", PinnedAgentID: "light-agent"}
	decision, err := router.Route(context.Background(), "and now make it blue", sess)
	require.NoError(t, err)
	assert.Equal(t, "light-agent", decision.AgentID)
	assert.Equal(t, float64(1), decision.Confidence)
	assert.Zero(t, chat.calls, "pinned routing must not call the model")
}

func TestDispatchPreservesDeclarationOrder(t *testing.T) {
	// The slower agent is declared first; order must still hold.
	reg := registryWith(
		&echoInvokable{id: "slow-agent", reply: "slow done", delay: 60 * time.Millisecond},
		&echoInvokable{id: "fast-agent", reply: "fast done"},
	)
	d := NewDispatcher(reg, nil, DispatchConfig{}, nil)

	responses := d.Dispatch(context.Background(), &RoutingDecision{
		AgentID:          "slow-agent",
		AdditionalAgents: []string{"fast-agent"},
	}, "go", nil)

	require.Len(t, responses, 2)
	assert.Equal(t, "slow-agent", responses[0].AgentID)
	assert.Equal(t, "slow done", responses[0].Content)
	assert.Equal(t, "fast-agent", responses[1].AgentID)
	assert.Equal(t, "fast done", responses[1].Content)
}

func TestDispatchTimeoutBecomesFailedResponse(t *testing.T) {
	reg := registryWith(&echoInvokable{id: "stuck-agent", delay: time.Second})
	d := NewDispatcher(reg, nil, DispatchConfig{DefaultTimeout: 30 * time.Millisecond}, nil)

	responses := d.Dispatch(context.Background(), &RoutingDecision{AgentID: "stuck-agent"}, "go", nil)

	require.Len(t, responses, 1)
	assert.False(t, responses[0].Success)
	assert.Contains(t, responses[0].Error, "timed out")
}

func TestDispatchUnknownAgentFails(t *testing.T) {
	d := NewDispatcher(registryWith(), nil, DispatchConfig{}, nil)

	responses := d.Dispatch(context.Background(), &RoutingDecision{AgentID: "ghost-agent"}, "go", nil)

	require.Len(t, responses, 1)
	assert.False(t, responses[0].Success)
	assert.Contains(t, responses[0].Error, "not found")
}

func TestDispatchAgentErrorIsIsolated(t *testing.T) {
	reg := registryWith(
		&echoInvokable{id: "broken-agent", err: errors.New("exploded")},
		&echoInvokable{id: "light-agent", reply: "lights on"},
	)
	d := NewDispatcher(reg, nil, DispatchConfig{}, nil)

	responses := d.Dispatch(context.Background(), &RoutingDecision{
		AgentID:          "broken-agent",
		AdditionalAgents: []string{"light-agent"},
	}, "go", nil)

	require.Len(t, responses, 2)
	assert.False(t, responses[0].Success)
	assert.Equal(t, "exploded", responses[0].Error)
	assert.True(t, responses[1].Success)
	assert.Equal(t, "lights on", responses[1].Content)
}

func TestAggregateJoinsWithPunctuation(t *testing.T) {
	agg := NewAggregator("")

	out := agg.Aggregate([]AgentResponse{
		{AgentID: "light-agent", Content: "Lights are on", Success: true},
		{AgentID: "music-agent", Content: "Playing jazz.", Success: true},
	})
	assert.Equal(t, "Lights are on. Playing jazz.", out)
}

func TestAggregatePartialFailure(t *testing.T) {
	agg := NewAggregator("")

	out := agg.Aggregate([]AgentResponse{
		{AgentID: "light-agent", Content: "Lights are on.", Success: true},
		{AgentID: "music-agent", Success: false, Error: "connection refused"},
	})
	assert.Contains(t, out, "Lights are on.")
	assert.Contains(t, out, "music-agent failed: connection refused",
		"the failure note must explain why the agent failed")
}

func TestAggregateFailureNoteListsEveryFailure(t *testing.T) {
	agg := NewAggregator("")

	out := agg.Aggregate([]AgentResponse{
		{AgentID: "light-agent", Content: "Lights are on.", Success: true},
		{AgentID: "music-agent", Success: false, Error: "timed out after 30s"},
		{AgentID: "climate-agent", Success: false},
	})
	assert.Equal(t, "Lights are on. (music-agent failed: timed out after 30s; climate-agent did not respond)", out)
}

func TestAggregateAllFailedUsesFallback(t *testing.T) {
	agg := NewAggregator("Something went wrong.")

	out := agg.Aggregate([]AgentResponse{
		{AgentID: "light-agent", Success: false, Error: "boom"},
	})
	assert.Equal(t, "Something went wrong.", out)
}

func TestAggregateEmptyUsesFallback(t *testing.T) {
	agg := NewAggregator("")
	assert.Equal(t, DefaultFallbackMessage, agg.Aggregate(nil))
}

func newTestOrchestrator(t *testing.T, reg *agent.Registry, chat *scriptedRouterChat, decisions *cache.Cache) (*Orchestrator, *session.Service) {
	t.Helper()
	router := NewRouter(reg, chat, RouterConfig{FallbackAgentID: "general-assistant"}, nil)
	dispatcher := NewDispatcher(reg, nil, DispatchConfig{}, nil)
	sessions := session.NewService()
	o := New(Config{OrchestratorAgentID: "lucia"}, router, dispatcher, sessions, decisions, reg, nil, nil)
	return o, sessions
}

func TestRespondRunsFullPipeline(t *testing.T) {
	reg := registryWith(&echoInvokable{id: "light-agent", reply: "Lights are on."})
	chat := scripted(decisionJSON("light-agent", 0.9))
	o, sessions := newTestOrchestrator(t, reg, chat, nil)

	reply, err := o.Respond(context.Background(), "s1", "  turn   on the lights ", "")
	require.NoError(t, err)
	assert.Equal(t, "Lights are on.", reply)

	sess := sessions.Get(context.Background(), "s1")
	require.Len(t, sess.Turns, 2)
	assert.Equal(t, "user", sess.Turns[0].Role)
	assert.Equal(t, "turn on the lights", sess.Turns[0].Text, "prompt must be normalized")
	assert.Equal(t, "agent", sess.Turns[1].Role)
	assert.Equal(t, "Lights are on.", sess.Turns[1].Text)
}

func TestRespondEmptyMessageIsBadRequest(t *testing.T) {
	reg := registryWith(&echoInvokable{id: "light-agent"})
	o, _ := newTestOrchestrator(t, reg, scripted(), nil)

	_, err := o.Respond(context.Background(), "s1", " \n\t ", "")
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestRespondCachesConfidentDecisions(t *testing.T) {
	reg := registryWith(&echoInvokable{id: "light-agent", reply: "Done."})
	chat := scripted(decisionJSON("light-agent", 0.9), decisionJSON("light-agent", 0.9))
	o, _ := newTestOrchestrator(t, reg, chat, cache.New())

	_, err := o.Respond(context.Background(), "s1", "turn on the lights", "")
	require.NoError(t, err)
	_, err = o.Respond(context.Background(), "s2", "turn on  the lights", "")
	require.NoError(t, err)

	assert.Equal(t, 1, chat.calls, "second request must hit the decision cache")
}

func TestRespondDoesNotCacheLowConfidence(t *testing.T) {
	reg := registryWith(&echoInvokable{id: "light-agent", reply: "Done."}, &echoInvokable{id: "general-assistant", reply: "Which one?"})
	chat := scripted(decisionJSON("light-agent", 0.3), decisionJSON("light-agent", 0.3))
	o, _ := newTestOrchestrator(t, reg, chat, cache.New())

	_, err := o.Respond(context.Background(), "s1", "lights maybe", "")
	require.NoError(t, err)
	_, err = o.Respond(context.Background(), "s2", "lights maybe", "")
	require.NoError(t, err)

	assert.Equal(t, 2, chat.calls, "uncertain decisions must be re-derived")
}

func TestRespondServesCachedAgentResponse(t *testing.T) {
	inv := &echoInvokable{id: "story-agent", reply: "Once upon a time."}
	chat := scripted(decisionJSON("story-agent", 0.9), decisionJSON("story-agent", 0.9))
	o, _ := newTestOrchestrator(t, registryWith(inv), chat, cache.New())

	first, err := o.Respond(context.Background(), "s1", "tell me a story", "")
	require.NoError(t, err)
	second, err := o.Respond(context.Background(), "s2", "tell  me a story", "")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), inv.calls.Load(), "second request must be served from the response cache")
}

func TestRespondResponseCacheSkipsSessionsWithHistory(t *testing.T) {
	inv := &echoInvokable{id: "story-agent", reply: "Once upon a time."}
	chat := scripted(decisionJSON("story-agent", 0.9), decisionJSON("story-agent", 0.9))
	o, _ := newTestOrchestrator(t, registryWith(inv), chat, cache.New())

	_, err := o.Respond(context.Background(), "s1", "tell me a story", "")
	require.NoError(t, err)
	// The same session now carries history; the reply may depend on it.
	_, err = o.Respond(context.Background(), "s1", "tell me a story", "")
	require.NoError(t, err)

	assert.Equal(t, int64(2), inv.calls.Load(), "a session with history must dispatch")
}

func TestRespondResponseCacheSkipsToolAgents(t *testing.T) {
	inv := &echoInvokable{id: "light-agent", reply: "Lights are on."}
	reg := registryWith(inv)
	entry, ok := reg.Get("light-agent")
	require.True(t, ok)
	entry.Definition.ToolRefs = []agent.ToolRef{{ServerID: "hub", ToolName: "light_control"}}

	chat := scripted(decisionJSON("light-agent", 0.9), decisionJSON("light-agent", 0.9))
	o, _ := newTestOrchestrator(t, reg, chat, cache.New())

	_, err := o.Respond(context.Background(), "s1", "turn on the lights", "")
	require.NoError(t, err)
	_, err = o.Respond(context.Background(), "s2", "turn on the lights", "")
	require.NoError(t, err)

	assert.Equal(t, int64(2), inv.calls.Load(),
		"tool-bound agents act on the world, every request must reach them")
}

func TestRespondExplicitTargetBypassesRouter(t *testing.T) {
	reg := registryWith(&echoInvokable{id: "timer-agent", reply: "Timer is done."})
	chat := scripted()
	o, _ := newTestOrchestrator(t, reg, chat, nil)

	reply, err := o.Respond(context.Background(), "s1", "your 10 minute timer finished", "timer-agent")
	require.NoError(t, err)
	assert.Equal(t, "Timer is done.", reply)
	assert.Zero(t, chat.calls)
}

func TestRespondExplicitUnknownTargetIsBadRequest(t *testing.T) {
	o, _ := newTestOrchestrator(t, registryWith(), scripted(), nil)

	_, err := o.Respond(context.Background(), "s1", "hello", "ghost-agent")
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestHandleMessageRoutesThroughPipeline(t *testing.T) {
	reg := registryWith(&echoInvokable{id: "light-agent", reply: "Lights are on."})
	chat := scripted(decisionJSON("light-agent", 0.9))
	o, _ := newTestOrchestrator(t, reg, chat, nil)

	msg := a2a.NewTextMessage(a2a.RoleUser, "m1", "turn on the lights")
	msg.ContextID = "room-1"

	reply, err := o.HandleMessage(context.Background(), "lucia", msg)
	require.NoError(t, err)
	assert.Equal(t, a2a.RoleAgent, reply.Role)
	assert.Equal(t, "room-1", reply.ContextID)
	assert.Equal(t, "Lights are on.", reply.Text())
}

func TestHandleMessageDirectAgentBypassesRouter(t *testing.T) {
	reg := registryWith(&echoInvokable{id: "light-agent", reply: "On it."})
	chat := scripted()
	o, _ := newTestOrchestrator(t, reg, chat, nil)

	msg := a2a.NewTextMessage(a2a.RoleUser, "m1", "turn on the lights")
	reply, err := o.HandleMessage(context.Background(), "light-agent", msg)
	require.NoError(t, err)
	assert.Equal(t, "On it.", reply.Text())
	assert.Zero(t, chat.calls)
}

var errScriptExhausted = fmt.Errorf("scripted chat exhausted")
