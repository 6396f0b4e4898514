package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// TargetPresence is the sentinel target entity meaning "resolve the
// occupied area at fire time".
const TargetPresence = "presence"

// AlarmClock is a recurring or one-shot alarm definition.
type AlarmClock struct {
	ID               string        `bson:"_id" json:"id"`
	Name             string        `bson:"name" json:"name"`
	TargetEntity     string        `bson:"targetEntity" json:"targetEntity"`
	AlarmSoundID     string        `bson:"alarmSoundId,omitempty" json:"alarmSoundId,omitempty"`
	CronSchedule     string        `bson:"cronSchedule,omitempty" json:"cronSchedule,omitempty"`
	NextFireAt       *time.Time    `bson:"nextFireAt,omitempty" json:"nextFireAt,omitempty"`
	PlaybackInterval time.Duration `bson:"playbackIntervalMs" json:"playbackIntervalMs"`
	AutoDismissAfter time.Duration `bson:"autoDismissAfterMs" json:"autoDismissAfterMs"`
	VolumeStart      float64       `bson:"volumeStart,omitempty" json:"volumeStart,omitempty"`
	VolumeEnd        float64       `bson:"volumeEnd,omitempty" json:"volumeEnd,omitempty"`
	VolumeRamp       time.Duration `bson:"volumeRampMs,omitempty" json:"volumeRampMs,omitempty"`
	LastDismissedAt  *time.Time    `bson:"lastDismissedAt,omitempty" json:"lastDismissedAt,omitempty"`
	IsEnabled        bool          `bson:"isEnabled" json:"isEnabled"`
	CreatedAt        time.Time     `bson:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time     `bson:"updatedAt" json:"updatedAt"`
}

// AlarmSound is a catalog entry for alarm media.
type AlarmSound struct {
	ID               string    `bson:"_id" json:"id"`
	Name             string    `bson:"name" json:"name"`
	MediaURI         string    `bson:"mediaUri" json:"mediaUri"`
	UploadedViaLucia bool      `bson:"uploadedViaLucia" json:"uploadedViaLucia"`
	IsDefault        bool      `bson:"isDefault" json:"isDefault"`
	CreatedAt        time.Time `bson:"createdAt" json:"createdAt"`
}

// ErrNotFound reports a missing document.
var ErrNotFound = errors.New("document not found")

// UpsertAlarmClock persists an alarm clock.
func (s *Store) UpsertAlarmClock(ctx context.Context, clock *AlarmClock) error {
	clock.UpdatedAt = time.Now().UTC()
	_, err := s.db.Collection(collAlarmClocks).ReplaceOne(
		ctx,
		bson.D{{Key: "_id", Value: clock.ID}},
		clock,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert alarm clock %q: %w", clock.ID, err)
	}
	return nil
}

// GetAlarmClock loads one alarm clock.
func (s *Store) GetAlarmClock(ctx context.Context, id string) (*AlarmClock, error) {
	var clock AlarmClock
	err := s.db.Collection(collAlarmClocks).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&clock)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("alarm clock %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load alarm clock %q: %w", id, err)
	}
	return &clock, nil
}

// ListEnabledAlarmClocks returns enabled clocks ordered by next fire
// time.
func (s *Store) ListEnabledAlarmClocks(ctx context.Context) ([]AlarmClock, error) {
	cursor, err := s.db.Collection(collAlarmClocks).Find(
		ctx,
		bson.D{{Key: "isEnabled", Value: true}},
		options.Find().SetSort(bson.D{{Key: "nextFireAt", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list alarm clocks: %w", err)
	}

	var clocks []AlarmClock
	if err := cursor.All(ctx, &clocks); err != nil {
		return nil, fmt.Errorf("failed to decode alarm clocks: %w", err)
	}
	return clocks, nil
}

// DeleteAlarmClock removes an alarm clock.
func (s *Store) DeleteAlarmClock(ctx context.Context, id string) error {
	_, err := s.db.Collection(collAlarmClocks).DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return fmt.Errorf("failed to delete alarm clock %q: %w", id, err)
	}
	return nil
}

// UpsertAlarmSound persists a sound catalog entry.
func (s *Store) UpsertAlarmSound(ctx context.Context, sound *AlarmSound) error {
	_, err := s.db.Collection(collAlarmSounds).ReplaceOne(
		ctx,
		bson.D{{Key: "_id", Value: sound.ID}},
		sound,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert alarm sound %q: %w", sound.ID, err)
	}
	return nil
}

// GetAlarmSound loads one sound.
func (s *Store) GetAlarmSound(ctx context.Context, id string) (*AlarmSound, error) {
	var sound AlarmSound
	err := s.db.Collection(collAlarmSounds).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&sound)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("alarm sound %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load alarm sound %q: %w", id, err)
	}
	return &sound, nil
}

// GetDefaultAlarmSound returns the catalog's default sound, or
// ErrNotFound when none is marked.
func (s *Store) GetDefaultAlarmSound(ctx context.Context) (*AlarmSound, error) {
	var sound AlarmSound
	err := s.db.Collection(collAlarmSounds).FindOne(ctx, bson.D{{Key: "isDefault", Value: true}}).Decode(&sound)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("default alarm sound: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load default alarm sound: %w", err)
	}
	return &sound, nil
}

// DeleteAlarmSound removes a sound catalog entry.
func (s *Store) DeleteAlarmSound(ctx context.Context, id string) error {
	_, err := s.db.Collection(collAlarmSounds).DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return fmt.Errorf("failed to delete alarm sound %q: %w", id, err)
	}
	return nil
}
