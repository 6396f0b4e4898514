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

// Task statuses as persisted.
const (
	TaskStatusPending       = "Pending"
	TaskStatusActive        = "Active"
	TaskStatusCompleted     = "Completed"
	TaskStatusDismissed     = "Dismissed"
	TaskStatusSnoozed       = "Snoozed"
	TaskStatusAutoDismissed = "AutoDismissed"
	TaskStatusCancelled     = "Cancelled"
	TaskStatusFailed        = "Failed"
)

// Task types as persisted.
const (
	TaskTypeTimer     = "Timer"
	TaskTypeAlarm     = "Alarm"
	TaskTypeAgentTask = "AgentTask"
)

// IsTerminalTaskStatus reports whether a status is final. Terminal
// tasks never fire again and never rehydrate.
func IsTerminalTaskStatus(status string) bool {
	switch status {
	case TaskStatusCompleted, TaskStatusDismissed, TaskStatusAutoDismissed,
		TaskStatusCancelled, TaskStatusFailed:
		return true
	}
	return false
}

// TaskDocument is the durable form of a scheduled task. Type-specific
// fields ride in Fields and are decoded by the scheduler's factory.
type TaskDocument struct {
	ID       string         `bson:"_id" json:"id"`
	TaskID   string         `bson:"taskId" json:"taskId"`
	Label    string         `bson:"label" json:"label"`
	FireAt   time.Time      `bson:"fireAt" json:"fireAt"`
	TaskType string         `bson:"taskType" json:"taskType"`
	Status   string         `bson:"status" json:"status"`
	Fields   map[string]any `bson:"fields,omitempty" json:"fields,omitempty"`
}

// UpsertTask persists a task document.
func (s *Store) UpsertTask(ctx context.Context, doc *TaskDocument) error {
	_, err := s.db.Collection(collScheduledTasks).ReplaceOne(
		ctx,
		bson.D{{Key: "_id", Value: doc.ID}},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert task %q: %w", doc.ID, err)
	}
	return nil
}

// UpdateTaskStatus persists a status transition. For snoozed tasks the
// new fire time rides along.
func (s *Store) UpdateTaskStatus(ctx context.Context, id, status string, fireAt *time.Time) error {
	set := bson.D{{Key: "status", Value: status}}
	if fireAt != nil {
		set = append(set, bson.E{Key: "fireAt", Value: *fireAt})
	}

	_, err := s.db.Collection(collScheduledTasks).UpdateOne(
		ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: set}},
	)
	if err != nil {
		return fmt.Errorf("failed to update task %q status: %w", id, err)
	}
	return nil
}

// ListTasksByStatus returns tasks in any of the given statuses.
func (s *Store) ListTasksByStatus(ctx context.Context, statuses ...string) ([]TaskDocument, error) {
	cursor, err := s.db.Collection(collScheduledTasks).Find(
		ctx,
		bson.D{{Key: "status", Value: bson.D{{Key: "$in", Value: statuses}}}},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	var docs []TaskDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode tasks: %w", err)
	}
	return docs, nil
}

// GetTask loads one task document.
func (s *Store) GetTask(ctx context.Context, id string) (*TaskDocument, error) {
	var doc TaskDocument
	err := s.db.Collection(collScheduledTasks).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("task %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task %q: %w", id, err)
	}
	return &doc, nil
}

// DeleteTask removes a task document.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	_, err := s.db.Collection(collScheduledTasks).DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return fmt.Errorf("failed to delete task %q: %w", id, err)
	}
	return nil
}
