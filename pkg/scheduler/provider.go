package scheduler

import (
	"context"
	"errors"

	"github.com/lucia-ai/lucia/pkg/a2a"
	"github.com/lucia-ai/lucia/pkg/store"
)

// TaskProvider exposes scheduled tasks over the protocol's tasks/get
// and tasks/cancel methods.
type TaskProvider struct {
	svc *Service
}

// NewTaskProvider creates the protocol adapter for a scheduler.
func NewTaskProvider(svc *Service) *TaskProvider {
	return &TaskProvider{svc: svc}
}

func (p *TaskProvider) GetTask(ctx context.Context, taskID string) (*a2a.Task, error) {
	doc, err := p.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return protocolTask(doc), nil
}

// CancelTask cancels a pending or running task. Tasks already in a
// terminal state are returned as-is; cancelling them again must not
// rewrite history.
func (p *TaskProvider) CancelTask(ctx context.Context, taskID string) (*a2a.Task, error) {
	doc, err := p.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if store.IsTerminalTaskStatus(doc.Status) {
		return protocolTask(doc), nil
	}

	if err := p.svc.Cancel(ctx, taskID); err != nil {
		return nil, err
	}
	return p.GetTask(ctx, taskID)
}

func (p *TaskProvider) load(ctx context.Context, taskID string) (*store.TaskDocument, error) {
	doc, err := p.svc.docs.GetTask(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, a2a.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func protocolTask(doc *store.TaskDocument) *a2a.Task {
	task := &a2a.Task{
		ID:    doc.ID,
		State: protocolState(doc.Status),
	}
	if doc.Label != "" {
		task.Message = a2a.NewTextMessage(a2a.RoleAgent, "", doc.Label)
	}
	return task
}

func protocolState(status string) a2a.TaskState {
	switch status {
	case store.TaskStatusPending, store.TaskStatusSnoozed:
		return a2a.TaskStatePending
	case store.TaskStatusActive:
		return a2a.TaskStateActive
	case store.TaskStatusCompleted, store.TaskStatusAutoDismissed:
		return a2a.TaskStateCompleted
	case store.TaskStatusCancelled, store.TaskStatusDismissed:
		return a2a.TaskStateCancelled
	default:
		return a2a.TaskStateFailed
	}
}

var _ a2a.TaskProvider = (*TaskProvider)(nil)
