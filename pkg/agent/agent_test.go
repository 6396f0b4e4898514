package agent

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucia-ai/lucia/pkg/a2a"
	"github.com/lucia-ai/lucia/pkg/llms"
	"github.com/lucia-ai/lucia/pkg/session"
)

type scriptedChat struct {
	mu        sync.Mutex
	responses []*llms.Response
	calls     [][]llms.Message
}

func (s *scriptedChat) Generate(_ context.Context, messages []llms.Message, _ *llms.GenerateOptions) (*llms.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, messages)
	if len(s.responses) == 0 {
		return &llms.Response{Text: "done"}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *scriptedChat) ModelName() string { return "scripted" }

type capturingSink struct {
	mu      sync.Mutex
	records []*TraceRecord
}

func (c *capturingSink) RecordTrace(r *TraceRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, r)
}

func entryFor(id string) *Entry {
	return &Entry{
		Card:       a2a.AgentCard{Name: id, Description: id + " agent"},
		Invokable:  &localAgent{id: id},
		Definition: &Definition{ID: id},
	}
}

func TestRegistrySwapIsAtomic(t *testing.T) {
	reg := NewRegistry()
	reg.Swap(map[string]*Entry{
		"light-agent": entryFor("light-agent"),
		"music-agent": entryFor("music-agent"),
	})

	before := reg.List()
	require.Len(t, before, 2)

	// A reader holding the old snapshot keeps seeing it after a swap.
	oldEntry, ok := reg.Get("music-agent")
	require.True(t, ok)

	reg.Swap(map[string]*Entry{
		"light-agent": entryFor("light-agent"),
	})

	_, ok = reg.Get("music-agent")
	assert.False(t, ok)
	assert.NotNil(t, oldEntry.Invokable, "held reference must stay valid")
	assert.Len(t, reg.List(), 1)
}

func TestRegistryUpdateAndRemove(t *testing.T) {
	reg := NewRegistry()
	reg.Update(entryFor("light-agent"))
	reg.Update(entryFor("music-agent"))

	assert.Len(t, reg.Cards(), 2)

	reg.Remove("light-agent")
	_, ok := reg.Get("light-agent")
	assert.False(t, ok)

	card, ok := reg.Card("music-agent")
	require.True(t, ok)
	assert.Equal(t, "music-agent", card.Name)
}

func TestRegistryListSorted(t *testing.T) {
	reg := NewRegistry()
	reg.Update(entryFor("zulu"))
	reg.Update(entryFor("alpha"))

	entries := reg.List()
	require.Len(t, entries, 2)
	assert.Equal(t, "alpha", entries[0].Card.Name)
	assert.Equal(t, "zulu", entries[1].Card.Name)
}

func TestLocalAgentInvokeWithHistory(t *testing.T) {
	chat := &scriptedChat{responses: []*llms.Response{{Text: "lights are on"}}}
	a := &localAgent{id: "light-agent", instructions: "control the lights", chat: chat}

	history := []session.Turn{
		{Role: "user", Text: "hello"},
		{Role: "agent", Text: "hi"},
	}
	result, err := a.Invoke(context.Background(), "turn on the lights", history)
	require.NoError(t, err)
	assert.Equal(t, "lights are on", result.Text)

	require.Len(t, chat.calls, 1)
	messages := chat.calls[0]
	require.Len(t, messages, 4)
	assert.Equal(t, llms.RoleSystem, messages[0].Role)
	assert.Equal(t, llms.RoleUser, messages[1].Role)
	assert.Equal(t, llms.RoleAssistant, messages[2].Role)
	assert.Equal(t, "turn on the lights", messages[3].Content)
}

func TestLocalAgentToolLoopTerminates(t *testing.T) {
	looping := make([]*llms.Response, maxToolIterations+1)
	for i := range looping {
		looping[i] = &llms.Response{ToolCalls: []llms.ToolCall{{ID: "c", Name: "missing", Arguments: "{}"}}}
	}
	a := &localAgent{id: "light-agent", chat: &scriptedChat{responses: looping}}

	_, err := a.Invoke(context.Background(), "loop forever", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool iterations")
}

func TestLocalAgentUnknownToolReturnsInBand(t *testing.T) {
	chat := &scriptedChat{responses: []*llms.Response{
		{ToolCalls: []llms.ToolCall{{ID: "c1", Name: "missing_tool", Arguments: "{}"}}},
		{Text: "could not do that"},
	}}
	a := &localAgent{id: "light-agent", chat: chat}

	result, err := a.Invoke(context.Background(), "do something", nil)
	require.NoError(t, err)
	assert.Equal(t, "could not do that", result.Text)

	// The error went back to the model as a tool message.
	require.Len(t, chat.calls, 2)
	last := chat.calls[1][len(chat.calls[1])-1]
	assert.Equal(t, llms.RoleTool, last.Role)
	assert.Contains(t, last.Content, "not available")
}

func TestTracingWrapperRecordsSuccess(t *testing.T) {
	sink := &capturingSink{}
	chat := NewTracingChatClient(&scriptedChat{responses: []*llms.Response{{Text: "ok"}}}, "light-agent", sink)

	resp, err := chat.Generate(context.Background(), []llms.Message{
		{Role: llms.RoleUser, Content: "turn on the lights"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)

	require.Len(t, sink.records, 1)
	record := sink.records[0]
	assert.Equal(t, "light-agent", record.AgentID)
	assert.Equal(t, "turn on the lights", record.Prompt)
	assert.Equal(t, "ok", record.Response)
	assert.True(t, record.Success)
	assert.NotEmpty(t, record.TraceID)
}

type defListSource struct {
	defs []Definition
}

func (d defListSource) ListAgentDefinitions(context.Context) ([]Definition, error) {
	return d.defs, nil
}

type memProviders struct{}

func (memProviders) GetProvider(_ context.Context, id string) (*llms.Provider, error) {
	return &llms.Provider{
		ID:        id,
		Type:      llms.ProviderOllama,
		Endpoint:  "http://localhost:11434",
		ModelName: "llama3",
		Enabled:   true,
	}, nil
}

func TestLoaderRebuildSkipsDisabledAndBroken(t *testing.T) {
	source := defListSource{defs: []Definition{
		{ID: "light-agent", Description: "Controls lights", Enabled: true},
		{ID: "disabled-agent", Description: "Off", Enabled: false},
		{ID: "broken-agent", Enabled: true}, // missing description
		{ID: "remote-agent", Description: "Satellite", Enabled: true, IsRemote: true, RemoteURL: "http://peer/a2a/remote-agent"},
	}}

	builder := NewBuilder(llms.NewResolver(memProviders{}), nil, nil, "http://localhost:8080")
	registry := NewRegistry()
	loader := NewLoader(source, builder, registry)

	require.NoError(t, loader.Rebuild(context.Background()))

	assert.Len(t, registry.List(), 2)

	local, ok := registry.Get("light-agent")
	require.True(t, ok)
	assert.False(t, local.IsRemote())
	assert.Equal(t, "http://localhost:8080/a2a/light-agent", local.Card.URL)

	remote, ok := registry.Get("remote-agent")
	require.True(t, ok)
	assert.True(t, remote.IsRemote())
	assert.Equal(t, "http://peer/a2a/remote-agent", remote.Card.URL)
}
