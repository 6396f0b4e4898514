package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lucia-ai/lucia/pkg/observability"
	"github.com/lucia-ai/lucia/pkg/store"
)

const (
	DefaultPollInterval   = time.Second
	DefaultRecoveryWindow = 30 * time.Minute

	alarmSyncInterval = 30 * time.Second
)

// DocStore is the durable persistence surface for scheduled tasks.
type DocStore interface {
	UpsertTask(ctx context.Context, doc *store.TaskDocument) error
	UpdateTaskStatus(ctx context.Context, id, status string, fireAt *time.Time) error
	ListTasksByStatus(ctx context.Context, statuses ...string) ([]store.TaskDocument, error)
	GetTask(ctx context.Context, id string) (*store.TaskDocument, error)
}

// Config tunes the scheduler service.
type Config struct {
	PollInterval   time.Duration
	RecoveryWindow time.Duration
}

// Service runs the polling loop over the in-memory task store. The
// in-memory set is authoritative for what is live, so exactly one
// instance may run the scheduler; deployments enforce single-replica.
type Service struct {
	cfg   Config
	store *TaskStore
	docs  DocStore
	deps  *Deps

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
	runCtx  context.Context
	now     func() time.Time
}

// NewService creates the scheduler service.
func NewService(cfg Config, docs DocStore, deps *Deps) *Service {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RecoveryWindow == 0 {
		cfg.RecoveryWindow = DefaultRecoveryWindow
	}

	return &Service{
		cfg:     cfg,
		store:   NewTaskStore(),
		docs:    docs,
		deps:    deps,
		running: make(map[string]context.CancelFunc),
		now:     time.Now,
	}
}

// Tasks returns the live in-memory store, for inspection surfaces.
func (s *Service) Tasks() *TaskStore {
	return s.store
}

// Schedule persists a task and makes it live.
func (s *Service) Schedule(ctx context.Context, task Task) error {
	doc := task.Document()
	doc.Status = store.TaskStatusPending
	if err := s.docs.UpsertTask(ctx, doc); err != nil {
		return fmt.Errorf("failed to persist task %q: %w", task.ID(), err)
	}
	s.store.Add(task)
	slog.Info("task scheduled", "task", task.ID(), "type", task.Type(), "fireAt", task.FireAt())
	return nil
}

// Cancel removes a task before it fires, or cancels it mid-run.
func (s *Service) Cancel(ctx context.Context, id string) error {
	_, wasPending := s.store.Remove(id)
	s.stopRunning(id)

	if err := s.docs.UpdateTaskStatus(ctx, id, store.TaskStatusCancelled, nil); err != nil {
		return err
	}
	slog.Info("task cancelled", "task", id, "wasPending", wasPending)
	return nil
}

// Dismiss stops a ringing alarm (or any running task) and records the
// dismissal.
func (s *Service) Dismiss(ctx context.Context, id string) error {
	s.store.Remove(id)
	s.stopRunning(id)
	return s.docs.UpdateTaskStatus(ctx, id, store.TaskStatusDismissed, nil)
}

// Snooze re-opens a task with a new fire time. Running tasks are
// stopped first.
func (s *Service) Snooze(ctx context.Context, id string, until time.Time) error {
	s.stopRunning(id)

	task, ok := s.store.Remove(id)
	if !ok {
		return fmt.Errorf("task %q is not live", id)
	}

	doc := task.Document()
	doc.FireAt = until
	rescheduled, err := FromDocument(doc)
	if err != nil {
		return fmt.Errorf("failed to snooze task %q: %w", id, err)
	}

	// Snoozing re-opens the task: it goes back to Pending with the new
	// fire time.
	if err := s.docs.UpdateTaskStatus(ctx, id, store.TaskStatusPending, &until); err != nil {
		return err
	}
	s.store.Add(rescheduled)
	return nil
}

// Start recovers persisted tasks and runs the polling loop until ctx
// is cancelled. In-flight task executions are cancelled with it.
func (s *Service) Start(ctx context.Context) {
	s.runCtx = ctx
	s.recover(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	alarmSync := time.NewTicker(alarmSyncInterval)
	defer alarmSync.Stop()

	s.syncAlarmClocks(ctx)

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			s.tick(s.now())
		case <-alarmSync.C:
			s.syncAlarmClocks(ctx)
		}
	}
}

// recover rehydrates live tasks from the durable store. Tasks expired
// beyond the recovery window are marked failed; malformed documents
// are skipped. Recovery never aborts startup.
func (s *Service) recover(ctx context.Context) {
	docs, err := s.docs.ListTasksByStatus(ctx, store.TaskStatusPending, store.TaskStatusActive)
	if err != nil {
		slog.Error("task recovery query failed", "error", err)
		return
	}

	now := s.now()
	recovered := 0
	for i := range docs {
		doc := &docs[i]

		if now.Sub(doc.FireAt) > s.cfg.RecoveryWindow {
			slog.Warn("dropping stale task", "task", doc.ID, "fireAt", doc.FireAt)
			if err := s.docs.UpdateTaskStatus(ctx, doc.ID, store.TaskStatusFailed, nil); err != nil {
				slog.Error("failed to mark stale task failed", "task", doc.ID, "error", err)
			}
			continue
		}

		task, err := FromDocument(doc)
		if err != nil {
			slog.Error("skipping unrecoverable task document", "task", doc.ID, "error", err)
			continue
		}
		s.store.Add(task)
		recovered++
	}

	slog.Info("task recovery complete", "recovered", recovered, "persisted", len(docs))
}

// tick fires every expired task. Removal from the store is the atomic
// fire-once point; execution is fire-and-forget on its own goroutine.
func (s *Service) tick(now time.Time) {
	for _, task := range s.store.PopExpired(now) {
		s.fire(task)
	}
}

func (s *Service) fire(task Task) {
	ctx := s.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.running[task.ID()] = cancel
	s.mu.Unlock()

	if err := s.docs.UpdateTaskStatus(runCtx, task.ID(), store.TaskStatusActive, nil); err != nil {
		slog.Warn("failed to mark task active", "task", task.ID(), "error", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer func() {
			s.mu.Lock()
			delete(s.running, task.ID())
			s.mu.Unlock()
		}()

		tracer := observability.GetTracer("lucia.scheduler")
		taskCtx, span := tracer.Start(runCtx, observability.SpanTaskFire,
			trace.WithAttributes(
				attribute.String(observability.AttrTaskID, task.ID()),
				attribute.String(observability.AttrTaskType, task.Type()),
			),
		)
		defer span.End()

		slog.Info("task firing", "task", task.ID(), "type", task.Type(), "label", task.Label())
		status, err := task.Execute(taskCtx, s.deps)
		s.deps.Metrics.RecordTaskFired(taskCtx, task.Type(), err == nil)

		if err != nil {
			if errors.Is(err, context.Canceled) {
				// Dismiss/cancel already persisted the terminal status.
				return
			}
			span.RecordError(err)
			slog.Error("task failed", "task", task.ID(), "error", err)
			status = store.TaskStatusFailed
		}

		persistCtx, persistCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer persistCancel()
		if err := s.docs.UpdateTaskStatus(persistCtx, task.ID(), status, nil); err != nil {
			slog.Error("failed to persist task status", "task", task.ID(), "status", status, "error", err)
		}
	}()
}

// isLive reports whether a task is pending in the store or currently
// executing.
func (s *Service) isLive(id string) bool {
	if _, ok := s.store.Get(id); ok {
		return true
	}
	s.mu.Lock()
	_, running := s.running[id]
	s.mu.Unlock()
	return running
}

func (s *Service) stopRunning(id string) {
	s.mu.Lock()
	cancel, ok := s.running[id]
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// syncAlarmClocks turns due alarm-clock definitions into live alarm
// tasks. The spawned task id is derived from the clock and fire time,
// so repeated syncs are idempotent.
func (s *Service) syncAlarmClocks(ctx context.Context) {
	if s.deps.Clocks == nil {
		return
	}

	clocks, err := s.deps.Clocks.ListEnabledAlarmClocks(ctx)
	if err != nil {
		slog.Warn("alarm clock sync failed", "error", err)
		return
	}

	for i := range clocks {
		clock := &clocks[i]

		if clock.NextFireAt == nil {
			if s.deps.Cron == nil {
				continue
			}
			s.deps.Cron.InitializeNextFireAt(clock, s.now())
			if clock.NextFireAt == nil {
				continue
			}
			if err := s.deps.Clocks.UpsertAlarmClock(ctx, clock); err != nil {
				slog.Warn("failed to persist initialized alarm clock", "clock", clock.ID, "error", err)
				continue
			}
		}

		id := fmt.Sprintf("alarm:%s:%d", clock.ID, clock.NextFireAt.Unix())
		if s.isLive(id) {
			continue
		}
		// An occurrence that already reached a terminal state (dismissed
		// before ringing, failed, rang out) must not come back.
		if doc, err := s.docs.GetTask(ctx, id); err == nil && store.IsTerminalTaskStatus(doc.Status) {
			continue
		}

		task := s.alarmTaskFor(ctx, clock, id)
		if err := s.Schedule(ctx, task); err != nil {
			slog.Warn("failed to schedule alarm task", "clock", clock.ID, "error", err)
		}
	}
}

// alarmTaskFor materializes one firing of an alarm clock, resolving
// its sound to a media URI. No sound and no default means TTS.
func (s *Service) alarmTaskFor(ctx context.Context, clock *store.AlarmClock, id string) *AlarmTask {
	var soundURI string
	if clock.AlarmSoundID != "" {
		if sound, err := s.deps.Clocks.GetAlarmSound(ctx, clock.AlarmSoundID); err == nil {
			soundURI = sound.MediaURI
		} else {
			slog.Warn("alarm sound unresolved, falling back", "clock", clock.ID, "sound", clock.AlarmSoundID, "error", err)
		}
	}
	if soundURI == "" {
		if sound, err := s.deps.Clocks.GetDefaultAlarmSound(ctx); err == nil {
			soundURI = sound.MediaURI
		}
	}

	return &AlarmTask{
		baseTask: baseTask{
			id:     id,
			label:  clock.Name,
			fireAt: *clock.NextFireAt,
		},
		AlarmClockID:     clock.ID,
		TargetEntity:     clock.TargetEntity,
		AlarmSoundURI:    soundURI,
		PlaybackInterval: clock.PlaybackInterval,
		AutoDismissAfter: clock.AutoDismissAfter,
		VolumeStart:      clock.VolumeStart,
		VolumeEnd:        clock.VolumeEnd,
		VolumeRamp:       clock.VolumeRamp,
	}
}
