package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lucia-ai/lucia/pkg/store"
)

// AlarmTask loops media playback (or a TTS announcement) on its target
// entity until dismissed, with an optional volume ramp.
type AlarmTask struct {
	baseTask
	AlarmClockID     string
	TargetEntity     string
	AlarmSoundURI    string // empty means TTS fallback
	PlaybackInterval time.Duration
	AutoDismissAfter time.Duration
	VolumeStart      float64
	VolumeEnd        float64
	VolumeRamp       time.Duration
}

func (t *AlarmTask) Type() string { return store.TaskTypeAlarm }

func (t *AlarmTask) Execute(ctx context.Context, deps *Deps) (string, error) {
	// The clock advances the moment the occurrence fires. Whatever ends
	// the ring (auto-dismiss, user dismissal, an unresolvable target),
	// this occurrence can never be re-materialized from the clock.
	t.advanceClock(deps)

	entityID, err := t.resolveTarget(ctx, deps)
	if err != nil {
		return store.TaskStatusFailed, err
	}

	start := time.Now()
	loopCtx, cancel := context.WithDeadline(ctx, start.Add(t.AutoDismissAfter))
	defer cancel()

	for loopCtx.Err() == nil {
		if t.VolumeStart < t.VolumeEnd {
			level := t.rampVolume(time.Since(start))
			if err := deps.Hub.SetVolume(loopCtx, entityID, level); err != nil && loopCtx.Err() == nil {
				slog.Warn("alarm volume_set failed, continuing", "task", t.id, "error", err)
			}
		}

		if err := t.playOnce(loopCtx, deps, entityID); err != nil && loopCtx.Err() == nil {
			// Transient playback failures must not stop the alarm.
			slog.Warn("alarm playback failed, continuing", "task", t.id, "error", err)
		}

		select {
		case <-loopCtx.Done():
		case <-time.After(t.PlaybackInterval):
		}
	}

	// External cancellation propagates; the auto-dismiss deadline is a
	// normal exit.
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	return store.TaskStatusAutoDismissed, nil
}

func (t *AlarmTask) playOnce(ctx context.Context, deps *Deps, entityID string) error {
	if t.AlarmSoundURI != "" {
		return deps.Hub.PlayMedia(ctx, entityID, t.AlarmSoundURI)
	}
	return deps.Hub.Announce(ctx, entityID, "Alarm: "+t.label)
}

// rampVolume interpolates linearly from VolumeStart to VolumeEnd over
// VolumeRamp, clamped at the end volume.
func (t *AlarmTask) rampVolume(elapsed time.Duration) float64 {
	if t.VolumeRamp <= 0 || elapsed >= t.VolumeRamp {
		return t.VolumeEnd
	}
	fraction := float64(elapsed) / float64(t.VolumeRamp)
	return t.VolumeStart + (t.VolumeEnd-t.VolumeStart)*fraction
}

// resolveTarget turns the presence sentinel into a concrete media
// player in the most-occupied area. A fixed target passes through.
func (t *AlarmTask) resolveTarget(ctx context.Context, deps *Deps) (string, error) {
	if t.TargetEntity != store.TargetPresence {
		return t.TargetEntity, nil
	}

	areas, err := deps.Hub.OccupiedAreas(ctx)
	if err != nil {
		return "", fmt.Errorf("presence lookup failed: %w", err)
	}
	if len(areas) == 0 {
		return "", errors.New("no occupied areas, alarm target unresolved")
	}

	// The hub sorts by confidence, highest first.
	entities, err := deps.Hub.EntitiesInArea(ctx, areas[0].Area, "media_player")
	if err != nil {
		return "", fmt.Errorf("entity lookup in area %q failed: %w", areas[0].Area, err)
	}
	if len(entities) == 0 {
		return "", fmt.Errorf("no media player in occupied area %q", areas[0].Area)
	}
	return entities[0].EntityID, nil
}

// advanceClock moves the backing alarm clock to its next occurrence,
// or disables it for one-shots. Persistence failures are logged; the
// ring proceeds regardless.
func (t *AlarmTask) advanceClock(deps *Deps) {
	if t.AlarmClockID == "" || deps.Clocks == nil || deps.Cron == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock, err := deps.Clocks.GetAlarmClock(ctx, t.AlarmClockID)
	if err != nil {
		slog.Warn("failed to load alarm clock for advance", "clock", t.AlarmClockID, "error", err)
		return
	}

	deps.Cron.AdvanceSchedule(clock, time.Now())
	if err := deps.Clocks.UpsertAlarmClock(ctx, clock); err != nil {
		slog.Warn("failed to persist advanced alarm clock", "clock", t.AlarmClockID, "error", err)
	}
}

func (t *AlarmTask) Document() *store.TaskDocument {
	doc := t.document(store.TaskTypeAlarm)
	doc.Fields = map[string]any{
		"alarmClockId":       t.AlarmClockID,
		"targetEntity":       t.TargetEntity,
		"alarmSoundUri":      t.AlarmSoundURI,
		"playbackIntervalMs": t.PlaybackInterval.Milliseconds(),
		"autoDismissAfterMs": t.AutoDismissAfter.Milliseconds(),
		"volumeStart":        t.VolumeStart,
		"volumeEnd":          t.VolumeEnd,
		"volumeRampMs":       t.VolumeRamp.Milliseconds(),
	}
	return doc
}

var _ Task = (*AlarmTask)(nil)
