// Package scheduler is the durable polling task engine: timers,
// alarm-clock firings with looping playback, and deferred agent
// prompts. Tasks live in an in-memory store and are mirrored to the
// document store for crash recovery; the design is single-instance.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/lucia-ai/lucia/pkg/hub"
	"github.com/lucia-ai/lucia/pkg/observability"
	"github.com/lucia-ai/lucia/pkg/store"
)

// HubService is the hub surface tasks fire against.
type HubService interface {
	Announce(ctx context.Context, entityID, message string) error
	PlayMedia(ctx context.Context, entityID, mediaURI string) error
	SetVolume(ctx context.Context, entityID string, level float64) error
	OccupiedAreas(ctx context.Context) ([]hub.OccupiedArea, error)
	EntitiesInArea(ctx context.Context, area, domain string) ([]hub.Entity, error)
}

// Responder replays a deferred prompt through the request pipeline.
type Responder interface {
	Respond(ctx context.Context, sessionID, message, targetAgentID string) (string, error)
}

// ClockStore is the alarm-clock persistence surface.
type ClockStore interface {
	GetAlarmClock(ctx context.Context, id string) (*store.AlarmClock, error)
	UpsertAlarmClock(ctx context.Context, clock *store.AlarmClock) error
	ListEnabledAlarmClocks(ctx context.Context) ([]store.AlarmClock, error)
	GetAlarmSound(ctx context.Context, id string) (*store.AlarmSound, error)
	GetDefaultAlarmSound(ctx context.Context) (*store.AlarmSound, error)
}

// Deps are the collaborators a task uses when it fires.
type Deps struct {
	Hub       HubService
	Responder Responder
	Clocks    ClockStore
	Cron      *CronService
	Metrics   *observability.Metrics
}

// Task is one live scheduled task.
type Task interface {
	ID() string
	Label() string
	FireAt() time.Time
	Type() string
	IsExpired(now time.Time) bool

	// Execute runs the task's action and returns the terminal status
	// to persist. Cancellation errors propagate unchanged.
	Execute(ctx context.Context, deps *Deps) (string, error)

	// Document renders the durable form of the task.
	Document() *store.TaskDocument
}

type baseTask struct {
	id     string
	taskID string
	label  string
	fireAt time.Time
}

func (b *baseTask) ID() string                   { return b.id }
func (b *baseTask) Label() string                { return b.label }
func (b *baseTask) FireAt() time.Time            { return b.fireAt }
func (b *baseTask) IsExpired(now time.Time) bool { return !now.Before(b.fireAt) }

func (b *baseTask) document(taskType string) *store.TaskDocument {
	return &store.TaskDocument{
		ID:       b.id,
		TaskID:   b.taskID,
		Label:    b.label,
		FireAt:   b.fireAt,
		TaskType: taskType,
		Status:   store.TaskStatusPending,
	}
}

// ============================================================================
// FACTORY
// ============================================================================

// FromDocument reconstructs a typed task from its durable form,
// validating the type-specific required fields. Invalid documents are
// rejected, not repaired.
func FromDocument(doc *store.TaskDocument) (Task, error) {
	base := baseTask{
		id:     doc.ID,
		taskID: doc.TaskID,
		label:  doc.Label,
		fireAt: doc.FireAt,
	}

	switch doc.TaskType {
	case store.TaskTypeTimer:
		var f timerFields
		if err := decodeFields(doc.Fields, &f); err != nil {
			return nil, fmt.Errorf("timer %q: %w", doc.ID, err)
		}
		if f.EntityID == "" {
			return nil, fmt.Errorf("timer %q: entityId is required", doc.ID)
		}
		// The presence sentinel is an alarm-only contract.
		if f.EntityID == store.TargetPresence {
			return nil, fmt.Errorf("timer %q: entityId cannot be %q", doc.ID, store.TargetPresence)
		}
		return &TimerTask{
			baseTask:        base,
			Message:         f.Message,
			EntityID:        f.EntityID,
			DurationSeconds: f.DurationSeconds,
		}, nil

	case store.TaskTypeAlarm:
		var f alarmFields
		if err := decodeFields(doc.Fields, &f); err != nil {
			return nil, fmt.Errorf("alarm %q: %w", doc.ID, err)
		}
		if f.TargetEntity == "" {
			return nil, fmt.Errorf("alarm %q: targetEntity is required", doc.ID)
		}
		if f.PlaybackIntervalMs <= 0 {
			return nil, fmt.Errorf("alarm %q: playbackIntervalMs must be positive", doc.ID)
		}
		if f.AutoDismissAfterMs <= 0 {
			return nil, fmt.Errorf("alarm %q: autoDismissAfterMs must be positive", doc.ID)
		}
		return &AlarmTask{
			baseTask:         base,
			AlarmClockID:     f.AlarmClockID,
			TargetEntity:     f.TargetEntity,
			AlarmSoundURI:    f.AlarmSoundURI,
			PlaybackInterval: time.Duration(f.PlaybackIntervalMs) * time.Millisecond,
			AutoDismissAfter: time.Duration(f.AutoDismissAfterMs) * time.Millisecond,
			VolumeStart:      f.VolumeStart,
			VolumeEnd:        f.VolumeEnd,
			VolumeRamp:       time.Duration(f.VolumeRampMs) * time.Millisecond,
		}, nil

	case store.TaskTypeAgentTask:
		var f agentTaskFields
		if err := decodeFields(doc.Fields, &f); err != nil {
			return nil, fmt.Errorf("agent task %q: %w", doc.ID, err)
		}
		if f.Prompt == "" {
			return nil, fmt.Errorf("agent task %q: prompt is required", doc.ID)
		}
		if f.TargetAgentID == store.TargetPresence {
			return nil, fmt.Errorf("agent task %q: targetAgentId cannot be %q", doc.ID, store.TargetPresence)
		}
		return &AgentTask{
			baseTask:      base,
			Prompt:        f.Prompt,
			TargetAgentID: f.TargetAgentID,
			EntityContext: f.EntityContext,
		}, nil

	default:
		return nil, fmt.Errorf("task %q: unknown task type %q", doc.ID, doc.TaskType)
	}
}

type timerFields struct {
	Message         string `mapstructure:"message"`
	EntityID        string `mapstructure:"entityId"`
	DurationSeconds int64  `mapstructure:"durationSeconds"`
}

type alarmFields struct {
	AlarmClockID       string  `mapstructure:"alarmClockId"`
	TargetEntity       string  `mapstructure:"targetEntity"`
	AlarmSoundURI      string  `mapstructure:"alarmSoundUri"`
	PlaybackIntervalMs int64   `mapstructure:"playbackIntervalMs"`
	AutoDismissAfterMs int64   `mapstructure:"autoDismissAfterMs"`
	VolumeStart        float64 `mapstructure:"volumeStart"`
	VolumeEnd          float64 `mapstructure:"volumeEnd"`
	VolumeRampMs       int64   `mapstructure:"volumeRampMs"`
}

type agentTaskFields struct {
	Prompt        string `mapstructure:"prompt"`
	TargetAgentID string `mapstructure:"targetAgentId"`
	EntityContext string `mapstructure:"entityContext"`
}

// decodeFields maps the document's loose field bag onto a typed
// struct. Weak typing absorbs the numeric width variance of the bson
// decoder.
func decodeFields(fields map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to build field decoder: %w", err)
	}
	if err := decoder.Decode(fields); err != nil {
		return fmt.Errorf("invalid task fields: %w", err)
	}
	return nil
}
