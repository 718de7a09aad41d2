package store

import (
	"context"
	"fmt"
	"time"

	"github.com/agentpipe/core/ent"
	"github.com/agentpipe/core/ent/activityentry"
	"github.com/google/uuid"
)

// AppendActivity persists one activity-stream event as the durable tail a
// late subscriber replays from. Satisfies pkg/events.Archiver.
func (s *Store) AppendActivity(ctx context.Context, taskID string, seq int64, eventType string, payload any, at time.Time) error {
	create := s.client.ActivityEntry.Create().
		SetID(uuid.NewString()).
		SetTaskID(taskID).
		SetSequence(seq).
		SetType(eventType).
		SetTimestamp(at)

	switch p := payload.(type) {
	case string:
		create = create.SetContent(p)
	case map[string]interface{}:
		create = create.SetContent(eventType).SetDetails(p)
	case nil:
		create = create.SetContent(eventType)
	default:
		create = create.SetContent(eventType).SetDetails(map[string]interface{}{"value": p})
	}

	if _, err := create.Save(ctx); err != nil {
		return fmt.Errorf("archiving activity %s#%d: %w", taskID, seq, err)
	}
	return nil
}

// ListActivitySince returns every archived event for a task with sequence
// greater than after, in sequence order — the replay path a subscriber
// takes when it reconnects past what the in-process ring buffer retained.
func (s *Store) ListActivitySince(ctx context.Context, taskID string, after int64) ([]*ent.ActivityEntry, error) {
	entries, err := s.client.ActivityEntry.Query().
		Where(
			activityentry.TaskIDEQ(taskID),
			activityentry.SequenceGT(after),
		).
		Order(ent.Asc(activityentry.FieldSequence)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing activity for task %s since %d: %w", taskID, after, err)
	}
	return entries, nil
}
