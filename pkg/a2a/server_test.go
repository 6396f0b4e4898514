package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoHandler struct{}

func (echoHandler) HandleMessage(_ context.Context, agentID string, msg *Message) (*Message, error) {
	return NewTextMessage(RoleAgent, "reply-1", fmt.Sprintf("%s: %s", agentID, msg.Text())), nil
}

type staticCards struct {
	cards []AgentCard
}

func (s staticCards) Card(agentID string) (*AgentCard, bool) {
	for i := range s.cards {
		if s.cards[i].Name == agentID {
			return &s.cards[i], true
		}
	}
	return nil, false
}

func (s staticCards) Cards() []AgentCard { return s.cards }

type staticTasks struct {
	task *Task
}

func (s staticTasks) GetTask(_ context.Context, id string) (*Task, error) {
	if s.task != nil && s.task.ID == id {
		return s.task, nil
	}
	return nil, ErrTaskNotFound
}

func (s staticTasks) CancelTask(_ context.Context, id string) (*Task, error) {
	if s.task != nil && s.task.ID == id {
		cancelled := *s.task
		cancelled.State = TaskStateCancelled
		return &cancelled, nil
	}
	return nil, ErrTaskNotFound
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cards := staticCards{cards: []AgentCard{
		{Name: "light-agent", Description: "Controls lights"},
	}}
	tasks := staticTasks{task: &Task{ID: "task-1", State: TaskStatePending}}
	srv := NewServer(echoHandler{}, cards, WithTaskProvider(tasks))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestSendMessageRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	client := NewClient(&ClientConfig{Timeout: 5 * time.Second})
	msg := NewTextMessage(RoleUser, "", "turn on the lights")

	reply, err := client.SendMessage(context.Background(), ts.URL+"/a2a/light-agent", msg)
	require.NoError(t, err)

	assert.Equal(t, RoleAgent, reply.Role)
	assert.Equal(t, "light-agent: turn on the lights", reply.Text())
	assert.NotEmpty(t, msg.MessageID, "client should generate a message id")
}

func TestSendMessageUnknownAgent(t *testing.T) {
	ts := newTestServer(t)

	client := NewClient(nil)
	msg := NewTextMessage(RoleUser, "m1", "hello")

	_, err := client.SendMessage(context.Background(), ts.URL+"/a2a/nonexistent", msg)
	require.Error(t, err)

	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeAgentNotFound, rpcErr.Code)
}

func TestDiscoverAgent(t *testing.T) {
	ts := newTestServer(t)

	client := NewClient(nil)
	card, err := client.DiscoverAgent(context.Background(), ts.URL+"/a2a/light-agent")
	require.NoError(t, err)

	assert.Equal(t, "light-agent", card.Name)
	assert.Equal(t, "Controls lights", card.Description)
}

func TestTasksGetAndCancel(t *testing.T) {
	ts := newTestServer(t)
	client := NewClient(nil)

	task, err := client.GetTask(context.Background(), ts.URL+"/a2a/light-agent", "task-1")
	require.NoError(t, err)
	assert.Equal(t, TaskStatePending, task.State)

	cancelled, err := client.CancelTask(context.Background(), ts.URL+"/a2a/light-agent", "task-1")
	require.NoError(t, err)
	assert.Equal(t, TaskStateCancelled, cancelled.State)

	_, err = client.GetTask(context.Background(), ts.URL+"/a2a/light-agent", "missing")
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeTaskNotFound, rpcErr.Code)
}

func TestRPCRejectsMalformedEnvelope(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.Client().Post(ts.URL+"/a2a/light-agent", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()

	var rpcResp Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
	require.NotNil(t, rpcResp.Error)
	assert.Equal(t, CodeParseError, rpcResp.Error.Code)
}

func TestDirectoryListsAgents(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/a2a/agents")
	require.NoError(t, err)
	defer resp.Body.Close()

	var dir AgentDirectory
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&dir))
	assert.Equal(t, 1, dir.Total)
	assert.Equal(t, "light-agent", dir.Agents[0].Name)
}

func TestMessageTextConcatenatesParts(t *testing.T) {
	msg := &Message{Parts: []Part{
		{Kind: KindText, Text: "turn on "},
		{Kind: "data", Metadata: map[string]any{"x": 1}},
		{Kind: KindText, Text: "the lights"},
	}}
	assert.Equal(t, "turn on the lights", msg.Text())
}
