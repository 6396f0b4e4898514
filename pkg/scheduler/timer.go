package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/lucia-ai/lucia/pkg/store"
)

// TimerTask announces a message on a hub entity when it fires.
type TimerTask struct {
	baseTask
	Message         string
	EntityID        string
	DurationSeconds int64
}

// NewTimerTask creates a timer.
func NewTimerTask(id, label, message, entityID string, duration time.Duration) *TimerTask {
	return &TimerTask{
		baseTask: baseTask{
			id:     id,
			label:  label,
			fireAt: time.Now().Add(duration),
		},
		Message:         message,
		EntityID:        entityID,
		DurationSeconds: int64(duration.Seconds()),
	}
}

func (t *TimerTask) Type() string { return store.TaskTypeTimer }

func (t *TimerTask) Execute(ctx context.Context, deps *Deps) (string, error) {
	message := t.Message
	if message == "" {
		message = fmt.Sprintf("Your %s timer is done.", t.label)
	}

	if err := deps.Hub.Announce(ctx, t.EntityID, message); err != nil {
		return store.TaskStatusFailed, fmt.Errorf("timer announce failed: %w", err)
	}
	return store.TaskStatusCompleted, nil
}

func (t *TimerTask) Document() *store.TaskDocument {
	doc := t.document(store.TaskTypeTimer)
	doc.Fields = map[string]any{
		"message":         t.Message,
		"entityId":        t.EntityID,
		"durationSeconds": t.DurationSeconds,
	}
	return doc
}

var _ Task = (*TimerTask)(nil)
