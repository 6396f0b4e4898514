package scheduler

import (
	"context"
	"fmt"

	"github.com/lucia-ai/lucia/pkg/store"
)

// AgentTask replays a captured prompt through the request pipeline
// when it fires. An optional entity-context snapshot from scheduling
// time is prepended so the agent sees the state the user referred to.
type AgentTask struct {
	baseTask
	Prompt        string
	TargetAgentID string // bypasses the router when set
	EntityContext string
}

func (t *AgentTask) Type() string { return store.TaskTypeAgentTask }

func (t *AgentTask) Execute(ctx context.Context, deps *Deps) (string, error) {
	prompt := t.Prompt
	if t.EntityContext != "" {
		prompt = fmt.Sprintf("[Context: %s] %s", t.EntityContext, t.Prompt)
	}

	sessionID := "task-" + t.id
	if _, err := deps.Responder.Respond(ctx, sessionID, prompt, t.TargetAgentID); err != nil {
		return store.TaskStatusFailed, fmt.Errorf("deferred prompt failed: %w", err)
	}
	return store.TaskStatusCompleted, nil
}

func (t *AgentTask) Document() *store.TaskDocument {
	doc := t.document(store.TaskTypeAgentTask)
	doc.Fields = map[string]any{
		"prompt":        t.Prompt,
		"targetAgentId": t.TargetAgentID,
		"entityContext": t.EntityContext,
	}
	return doc
}

var _ Task = (*AgentTask)(nil)
