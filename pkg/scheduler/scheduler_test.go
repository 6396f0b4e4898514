package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucia-ai/lucia/pkg/a2a"
	"github.com/lucia-ai/lucia/pkg/hub"
	"github.com/lucia-ai/lucia/pkg/store"
)

// fakeHub records hub calls and plays back scripted failures.
type fakeHub struct {
	mu          sync.Mutex
	announces   []string
	plays       []string
	volumes     []float64
	areas       []hub.OccupiedArea
	entities    []hub.Entity
	playErrs    []error
	announceErr error
}

func (f *fakeHub) Announce(_ context.Context, entityID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.announces = append(f.announces, entityID+": "+message)
	return f.announceErr
}

func (f *fakeHub) PlayMedia(_ context.Context, entityID, mediaURI string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays = append(f.plays, entityID+": "+mediaURI)
	if len(f.playErrs) > 0 {
		err := f.playErrs[0]
		f.playErrs = f.playErrs[1:]
		return err
	}
	return nil
}

func (f *fakeHub) SetVolume(_ context.Context, _ string, level float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes = append(f.volumes, level)
	return nil
}

func (f *fakeHub) OccupiedAreas(context.Context) ([]hub.OccupiedArea, error) {
	return f.areas, nil
}

func (f *fakeHub) EntitiesInArea(context.Context, string, string) ([]hub.Entity, error) {
	return f.entities, nil
}

func (f *fakeHub) playCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.plays)
}

func (f *fakeHub) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.plays) + len(f.announces) + len(f.volumes)
}

type fakeResponder struct {
	mu      sync.Mutex
	prompts []string
	targets []string
}

func (f *fakeResponder) Respond(_ context.Context, _, message, targetAgentID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, message)
	f.targets = append(f.targets, targetAgentID)
	return "done", nil
}

type fakeClocks struct {
	mu     sync.Mutex
	clocks map[string]*store.AlarmClock
}

func newFakeClocks(clocks ...*store.AlarmClock) *fakeClocks {
	f := &fakeClocks{clocks: make(map[string]*store.AlarmClock)}
	for _, c := range clocks {
		f.clocks[c.ID] = c
	}
	return f
}

func (f *fakeClocks) GetAlarmClock(_ context.Context, id string) (*store.AlarmClock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	clock, ok := f.clocks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *clock
	return &copied, nil
}

func (f *fakeClocks) UpsertAlarmClock(_ context.Context, clock *store.AlarmClock) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *clock
	f.clocks[clock.ID] = &copied
	return nil
}

func (f *fakeClocks) ListEnabledAlarmClocks(context.Context) ([]store.AlarmClock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.AlarmClock
	for _, c := range f.clocks {
		if c.IsEnabled {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeClocks) GetAlarmSound(context.Context, string) (*store.AlarmSound, error) {
	return nil, store.ErrNotFound
}

func (f *fakeClocks) GetDefaultAlarmSound(context.Context) (*store.AlarmSound, error) {
	return nil, store.ErrNotFound
}

type fakeDocStore struct {
	mu       sync.Mutex
	docs     map[string]*store.TaskDocument
	statuses map[string]string
}

func newFakeDocStore(docs ...*store.TaskDocument) *fakeDocStore {
	f := &fakeDocStore{
		docs:     make(map[string]*store.TaskDocument),
		statuses: make(map[string]string),
	}
	for _, doc := range docs {
		f.docs[doc.ID] = doc
		f.statuses[doc.ID] = doc.Status
	}
	return f
}

func (f *fakeDocStore) UpsertTask(_ context.Context, doc *store.TaskDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[doc.ID] = doc
	f.statuses[doc.ID] = doc.Status
	return nil
}

func (f *fakeDocStore) UpdateTaskStatus(_ context.Context, id, status string, fireAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
	if doc, ok := f.docs[id]; ok {
		doc.Status = status
		if fireAt != nil {
			doc.FireAt = *fireAt
		}
	}
	return nil
}

func (f *fakeDocStore) ListTasksByStatus(_ context.Context, statuses ...string) ([]store.TaskDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.TaskDocument
	for _, doc := range f.docs {
		for _, status := range statuses {
			if doc.Status == status {
				out = append(out, *doc)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeDocStore) GetTask(_ context.Context, id string) (*store.TaskDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *doc
	return &copied, nil
}

func (f *fakeDocStore) status(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[id]
}

// ============================================================================
// FACTORY
// ============================================================================

func TestFactoryRejectsPresenceOnTimer(t *testing.T) {
	_, err := FromDocument(&store.TaskDocument{
		ID:       "t1",
		TaskType: store.TaskTypeTimer,
		Fields:   map[string]any{"entityId": "presence", "message": "done"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "presence")
}

func TestFactoryValidatesAlarmFields(t *testing.T) {
	_, err := FromDocument(&store.TaskDocument{
		ID:       "a1",
		TaskType: store.TaskTypeAlarm,
		Fields:   map[string]any{"targetEntity": "media_player.bedroom"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "playbackIntervalMs")
}

func TestFactoryRejectsUnknownType(t *testing.T) {
	_, err := FromDocument(&store.TaskDocument{ID: "x", TaskType: "Reminder"})
	assert.Error(t, err)
}

func TestFactoryRoundTrip(t *testing.T) {
	timer := NewTimerTask("t1", "pasta", "pasta is ready", "assist_satellite.kitchen", 10*time.Minute)

	rebuilt, err := FromDocument(timer.Document())
	require.NoError(t, err)

	got, ok := rebuilt.(*TimerTask)
	require.True(t, ok)
	assert.Equal(t, timer.Message, got.Message)
	assert.Equal(t, timer.EntityID, got.EntityID)
	assert.Equal(t, timer.DurationSeconds, got.DurationSeconds)
	assert.WithinDuration(t, timer.FireAt(), got.FireAt(), time.Millisecond)
}

// ============================================================================
// TASK STORE
// ============================================================================

func TestTaskStorePopExpiredFiresOnce(t *testing.T) {
	s := NewTaskStore()
	s.Add(NewTimerTask("t1", "x", "", "e", -time.Minute))

	var popped atomic.Int64
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			popped.Add(int64(len(s.PopExpired(time.Now()))))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), popped.Load(), "an expired task must pop exactly once")
	assert.Zero(t, s.Len())
}

func TestTaskStoreRemoveIsAtomic(t *testing.T) {
	s := NewTaskStore()
	s.Add(NewTimerTask("t1", "x", "", "e", time.Hour))

	_, first := s.Remove("t1")
	_, second := s.Remove("t1")
	assert.True(t, first)
	assert.False(t, second)
}

// ============================================================================
// TASKS
// ============================================================================

func TestTimerTaskAnnounces(t *testing.T) {
	h := &fakeHub{}
	timer := NewTimerTask("t1", "tea", "tea is ready", "assist_satellite.kitchen", 0)

	status, err := timer.Execute(context.Background(), &Deps{Hub: h})
	require.NoError(t, err)
	assert.Equal(t, store.TaskStatusCompleted, status)
	require.Len(t, h.announces, 1)
	assert.Equal(t, "assist_satellite.kitchen: tea is ready", h.announces[0])
}

func TestTimerTaskFailureStatus(t *testing.T) {
	h := &fakeHub{announceErr: errors.New("hub down")}
	timer := NewTimerTask("t1", "tea", "tea is ready", "assist_satellite.kitchen", 0)

	status, err := timer.Execute(context.Background(), &Deps{Hub: h})
	require.Error(t, err)
	assert.Equal(t, store.TaskStatusFailed, status)
}

func TestAgentTaskPromptPrefix(t *testing.T) {
	r := &fakeResponder{}
	task := &AgentTask{
		baseTask:      baseTask{id: "g1", label: "later"},
		Prompt:        "turn off living room lights",
		EntityContext: "living room lights on at 80%",
	}

	status, err := task.Execute(context.Background(), &Deps{Responder: r})
	require.NoError(t, err)
	assert.Equal(t, store.TaskStatusCompleted, status)
	require.Len(t, r.prompts, 1)
	assert.Equal(t, "[Context: living room lights on at 80%] turn off living room lights", r.prompts[0])
}

func TestAgentTaskExplicitTarget(t *testing.T) {
	r := &fakeResponder{}
	task := &AgentTask{
		baseTask:      baseTask{id: "g1"},
		Prompt:        "resume the playlist",
		TargetAgentID: "music-agent",
	}

	_, err := task.Execute(context.Background(), &Deps{Responder: r})
	require.NoError(t, err)
	require.Len(t, r.targets, 1)
	assert.Equal(t, "music-agent", r.targets[0])
}

func TestAlarmAutoDismiss(t *testing.T) {
	h := &fakeHub{}
	clocks := newFakeClocks(&store.AlarmClock{ID: "c1", CronSchedule: "0 7 * * *", IsEnabled: true})
	alarm := &AlarmTask{
		baseTask:         baseTask{id: "a1", label: "wake up"},
		AlarmClockID:     "c1",
		TargetEntity:     "media_player.bedroom",
		AlarmSoundURI:    "media-source://gentle.wav",
		PlaybackInterval: time.Hour, // far longer than auto-dismiss
		AutoDismissAfter: 60 * time.Millisecond,
	}

	start := time.Now()
	status, err := alarm.Execute(context.Background(), &Deps{Hub: h, Clocks: clocks, Cron: NewCronService()})
	require.NoError(t, err)

	assert.Equal(t, store.TaskStatusAutoDismissed, status)
	assert.Less(t, time.Since(start), time.Second, "auto-dismiss must not wait out the playback interval")
	assert.GreaterOrEqual(t, h.playCount(), 1)

	advanced, err := clocks.GetAlarmClock(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, advanced.NextFireAt, "recurring clock must advance after firing")
}

func TestAlarmOneShotDisablesClock(t *testing.T) {
	fireAt := time.Now()
	clocks := newFakeClocks(&store.AlarmClock{ID: "c1", NextFireAt: &fireAt, IsEnabled: true})
	alarm := &AlarmTask{
		baseTask:         baseTask{id: "a1", label: "nap"},
		AlarmClockID:     "c1",
		TargetEntity:     "media_player.bedroom",
		PlaybackInterval: 10 * time.Millisecond,
		AutoDismissAfter: 20 * time.Millisecond,
	}

	_, err := alarm.Execute(context.Background(), &Deps{Hub: &fakeHub{}, Clocks: clocks, Cron: NewCronService()})
	require.NoError(t, err)

	clock, err := clocks.GetAlarmClock(context.Background(), "c1")
	require.NoError(t, err)
	assert.Nil(t, clock.NextFireAt)
	assert.False(t, clock.IsEnabled)
}

func TestAlarmLoopSurvivesPlaybackFailure(t *testing.T) {
	h := &fakeHub{playErrs: []error{errors.New("hub hiccup")}}
	alarm := &AlarmTask{
		baseTask:         baseTask{id: "a1", label: "wake up"},
		TargetEntity:     "media_player.bedroom",
		AlarmSoundURI:    "media-source://gentle.wav",
		PlaybackInterval: 10 * time.Millisecond,
		AutoDismissAfter: 80 * time.Millisecond,
	}

	status, err := alarm.Execute(context.Background(), &Deps{Hub: h})
	require.NoError(t, err)
	assert.Equal(t, store.TaskStatusAutoDismissed, status)
	assert.GreaterOrEqual(t, h.playCount(), 2, "a failed iteration must not stop the loop")
}

func TestAlarmPresenceAbortMakesNoHubCalls(t *testing.T) {
	h := &fakeHub{} // zero occupied areas
	alarm := &AlarmTask{
		baseTask:         baseTask{id: "a1", label: "wake up"},
		TargetEntity:     store.TargetPresence,
		PlaybackInterval: 10 * time.Millisecond,
		AutoDismissAfter: 50 * time.Millisecond,
	}

	status, err := alarm.Execute(context.Background(), &Deps{Hub: h})
	require.Error(t, err)
	assert.Equal(t, store.TaskStatusFailed, status)
	assert.Zero(t, h.callCount(), "unresolved presence target must fire nothing")
}

func TestAlarmPresenceResolvesMediaPlayer(t *testing.T) {
	h := &fakeHub{
		areas:    []hub.OccupiedArea{{Area: "kitchen", Confidence: 0.9}, {Area: "hall", Confidence: 0.2}},
		entities: []hub.Entity{{EntityID: "media_player.kitchen", Area: "kitchen"}},
	}
	alarm := &AlarmTask{
		baseTask:         baseTask{id: "a1", label: "wake up"},
		TargetEntity:     store.TargetPresence,
		AlarmSoundURI:    "media-source://gentle.wav",
		PlaybackInterval: 10 * time.Millisecond,
		AutoDismissAfter: 30 * time.Millisecond,
	}

	_, err := alarm.Execute(context.Background(), &Deps{Hub: h})
	require.NoError(t, err)
	require.GreaterOrEqual(t, h.playCount(), 1)
	assert.Contains(t, h.plays[0], "media_player.kitchen")
}

func TestAlarmDismissedMidRingStillAdvancesClock(t *testing.T) {
	fireAt := time.Now()
	clocks := newFakeClocks(&store.AlarmClock{
		ID:           "c1",
		CronSchedule: "0 7 * * *",
		NextFireAt:   &fireAt,
		IsEnabled:    true,
	})
	alarm := &AlarmTask{
		baseTask:         baseTask{id: "a1", label: "wake up"},
		AlarmClockID:     "c1",
		TargetEntity:     "media_player.bedroom",
		PlaybackInterval: time.Hour,
		AutoDismissAfter: time.Hour,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // dismissal raced the ring

	_, err := alarm.Execute(ctx, &Deps{Hub: &fakeHub{}, Clocks: clocks, Cron: NewCronService()})
	require.ErrorIs(t, err, context.Canceled)

	clock, err := clocks.GetAlarmClock(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, clock.NextFireAt)
	assert.True(t, clock.NextFireAt.After(fireAt),
		"the clock must advance at fire time so a dismissed occurrence cannot be re-materialized")
}

func TestAlarmVolumeRamp(t *testing.T) {
	alarm := &AlarmTask{VolumeStart: 0.1, VolumeEnd: 0.8, VolumeRamp: 30 * time.Second}

	assert.InDelta(t, 0.1, alarm.rampVolume(0), 1e-9)
	assert.InDelta(t, 0.45, alarm.rampVolume(15*time.Second), 1e-9)
	assert.InDelta(t, 0.8, alarm.rampVolume(30*time.Second), 1e-9)
	assert.InDelta(t, 0.8, alarm.rampVolume(time.Hour), 1e-9, "ramp must clamp at the end volume")
}

// ============================================================================
// SERVICE
// ============================================================================

func TestServiceRecoveryWindow(t *testing.T) {
	now := time.Now()
	fresh := NewTimerTask("fresh", "a", "", "e", 0).Document()
	fresh.FireAt = now.Add(-5 * time.Minute)
	stale := NewTimerTask("stale", "b", "", "e", 0).Document()
	stale.FireAt = now.Add(-45 * time.Minute)

	docs := newFakeDocStore(fresh, stale)
	s := NewService(Config{}, docs, &Deps{Hub: &fakeHub{}})

	s.recover(context.Background())

	_, ok := s.store.Get("fresh")
	assert.True(t, ok, "task inside the recovery window must rehydrate")
	_, ok = s.store.Get("stale")
	assert.False(t, ok, "stale task must not rehydrate")
	assert.Equal(t, store.TaskStatusFailed, docs.status("stale"))
}

func TestServiceRecoverySkipsMalformedDocs(t *testing.T) {
	good := NewTimerTask("good", "a", "", "e", time.Minute).Document()
	bad := &store.TaskDocument{
		ID:       "bad",
		TaskType: store.TaskTypeAlarm,
		FireAt:   time.Now().Add(time.Minute),
		Status:   store.TaskStatusPending,
	}

	s := NewService(Config{}, newFakeDocStore(good, bad), &Deps{Hub: &fakeHub{}})
	s.recover(context.Background())

	assert.Equal(t, 1, s.store.Len())
	_, ok := s.store.Get("good")
	assert.True(t, ok)
}

func TestServiceTickFiresExactlyOnce(t *testing.T) {
	h := &fakeHub{}
	docs := newFakeDocStore()
	s := NewService(Config{}, docs, &Deps{Hub: h})

	timer := NewTimerTask("t1", "tea", "tea is ready", "assist_satellite.kitchen", -time.Second)
	require.NoError(t, s.Schedule(context.Background(), timer))

	s.tick(time.Now())
	s.tick(time.Now())
	s.wg.Wait()

	assert.Len(t, h.announces, 1)
	assert.Equal(t, store.TaskStatusCompleted, docs.status("t1"))
}

func TestServiceSnoozeReopensTask(t *testing.T) {
	docs := newFakeDocStore()
	s := NewService(Config{}, docs, &Deps{Hub: &fakeHub{}})

	timer := NewTimerTask("t1", "tea", "", "e", time.Minute)
	require.NoError(t, s.Schedule(context.Background(), timer))

	until := time.Now().Add(time.Hour)
	require.NoError(t, s.Snooze(context.Background(), "t1", until))

	task, ok := s.store.Get("t1")
	require.True(t, ok)
	assert.WithinDuration(t, until, task.FireAt(), time.Millisecond)
	assert.Equal(t, store.TaskStatusPending, docs.status("t1"))
}

func TestServiceCancelRemovesTask(t *testing.T) {
	docs := newFakeDocStore()
	s := NewService(Config{}, docs, &Deps{Hub: &fakeHub{}})

	require.NoError(t, s.Schedule(context.Background(), NewTimerTask("t1", "x", "", "e", time.Hour)))
	require.NoError(t, s.Cancel(context.Background(), "t1"))

	assert.Zero(t, s.store.Len())
	assert.Equal(t, store.TaskStatusCancelled, docs.status("t1"))
}

func TestServiceSyncAlarmClocksSpawnsTask(t *testing.T) {
	fireAt := time.Now().Add(time.Hour)
	clocks := newFakeClocks(&store.AlarmClock{
		ID:               "c1",
		Name:             "Morning",
		TargetEntity:     "media_player.bedroom",
		NextFireAt:       &fireAt,
		PlaybackInterval: 30 * time.Second,
		AutoDismissAfter: 10 * time.Minute,
		IsEnabled:        true,
	})
	s := NewService(Config{}, newFakeDocStore(), &Deps{Hub: &fakeHub{}, Clocks: clocks, Cron: NewCronService()})

	s.syncAlarmClocks(context.Background())
	assert.Equal(t, 1, s.store.Len())

	// A second sync for the same occurrence is a no-op.
	s.syncAlarmClocks(context.Background())
	assert.Equal(t, 1, s.store.Len())
}

func TestSyncSkipsDismissedOccurrence(t *testing.T) {
	fireAt := time.Now().Add(time.Hour)
	clocks := newFakeClocks(&store.AlarmClock{
		ID:               "c1",
		Name:             "Morning",
		TargetEntity:     "media_player.bedroom",
		NextFireAt:       &fireAt,
		PlaybackInterval: 30 * time.Second,
		AutoDismissAfter: 10 * time.Minute,
		IsEnabled:        true,
	})
	docs := newFakeDocStore()
	s := NewService(Config{}, docs, &Deps{Hub: &fakeHub{}, Clocks: clocks, Cron: NewCronService()})

	s.syncAlarmClocks(context.Background())
	require.Equal(t, 1, s.store.Len())

	id := fmt.Sprintf("alarm:c1:%d", fireAt.Unix())
	require.NoError(t, s.Dismiss(context.Background(), id))

	s.syncAlarmClocks(context.Background())
	assert.Zero(t, s.store.Len(), "a dismissed occurrence must not be re-scheduled")
	assert.Equal(t, store.TaskStatusDismissed, docs.status(id), "dismissal must stick")
}

func TestSyncSkipsRingingOccurrence(t *testing.T) {
	fireAt := time.Now()
	clocks := newFakeClocks(&store.AlarmClock{
		ID:               "c1",
		Name:             "Morning",
		TargetEntity:     "media_player.bedroom",
		NextFireAt:       &fireAt,
		PlaybackInterval: 30 * time.Second,
		AutoDismissAfter: 10 * time.Minute,
		IsEnabled:        true,
	})
	s := NewService(Config{}, newFakeDocStore(), &Deps{Hub: &fakeHub{}, Clocks: clocks, Cron: NewCronService()})

	// The occurrence has been popped and is ringing.
	id := fmt.Sprintf("alarm:c1:%d", fireAt.Unix())
	s.mu.Lock()
	s.running[id] = func() {}
	s.mu.Unlock()

	s.syncAlarmClocks(context.Background())
	_, live := s.store.Get(id)
	assert.False(t, live, "a ringing occurrence must not be scheduled a second time")
}

// ============================================================================
// PROTOCOL TASK PROVIDER
// ============================================================================

func TestTaskProviderReportsTaskState(t *testing.T) {
	docs := newFakeDocStore()
	s := NewService(Config{}, docs, &Deps{Hub: &fakeHub{}})
	require.NoError(t, s.Schedule(context.Background(), NewTimerTask("t1", "tea", "", "e", time.Hour)))

	p := NewTaskProvider(s)

	task, err := p.GetTask(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", task.ID)
	assert.Equal(t, a2a.TaskStatePending, task.State)

	_, err = p.GetTask(context.Background(), "ghost")
	assert.ErrorIs(t, err, a2a.ErrTaskNotFound)
}

func TestTaskProviderCancelStopsTask(t *testing.T) {
	docs := newFakeDocStore()
	s := NewService(Config{}, docs, &Deps{Hub: &fakeHub{}})
	require.NoError(t, s.Schedule(context.Background(), NewTimerTask("t1", "tea", "", "e", time.Hour)))

	task, err := NewTaskProvider(s).CancelTask(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCancelled, task.State)
	assert.Zero(t, s.store.Len())
	assert.Equal(t, store.TaskStatusCancelled, docs.status("t1"))
}

func TestTaskProviderCancelTerminalIsNoOp(t *testing.T) {
	done := NewTimerTask("t1", "tea", "", "e", 0).Document()
	done.Status = store.TaskStatusCompleted
	docs := newFakeDocStore(done)
	s := NewService(Config{}, docs, &Deps{Hub: &fakeHub{}})

	task, err := NewTaskProvider(s).CancelTask(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCompleted, task.State)
	assert.Equal(t, store.TaskStatusCompleted, docs.status("t1"), "a finished task cannot be cancelled")
}
