// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentpipe/core/ent"
	"github.com/agentpipe/core/ent/activityentry"
	"github.com/agentpipe/core/ent/task"
	"github.com/agentpipe/core/pkg/config"
)

// Service periodically enforces retention policies:
//   - Soft-deletes old terminal tasks (completed/failed/cancelled) and
//     stale never-started pending tasks
//   - Hard-deletes orphaned ActivityEntry rows past their TTL
//
// All operations are idempotent and safe to run from multiple pods.
type Service struct {
	config *config.RetentionConfig
	client *ent.Client

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, client *ent.Client) *Service {
	return &Service{config: cfg, client: client}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("cleanup service started",
		"task_retention_days", s.config.SessionRetentionDays,
		"activity_ttl", s.config.EventTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.softDeleteOldTasks(ctx)
	s.cleanupOrphanedActivity(ctx)
}

// softDeleteOldTasks marks terminal tasks older than the retention window as
// deleted, plus pending tasks that were created but never picked up.
func (s *Service) softDeleteOldTasks(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.config.SessionRetentionDays)

	count, err := s.client.Task.Update().
		Where(
			task.DeletedAtIsNil(),
			task.UpdatedAtLT(cutoff),
			task.StatusIn(
				task.StatusCompleted, task.StatusFailed, task.StatusCancelled, task.StatusPending,
			),
		).
		SetDeletedAt(time.Now()).
		Save(ctx)
	if err != nil {
		slog.Error("retention: soft-delete old tasks failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("retention: soft-deleted old tasks", "count", count)
	}
}

// cleanupOrphanedActivity hard-deletes activity entries past EventTTL that
// belong to a task which has already been soft-deleted — per-task cleanup
// on task deletion (cascade) handles the normal case; this is a safety net
// for activity that outlives a task which was deleted out from under it.
func (s *Service) cleanupOrphanedActivity(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.EventTTL)

	count, err := s.client.ActivityEntry.Delete().
		Where(
			activityentry.TimestampLT(cutoff),
			activityentry.HasTaskWith(task.DeletedAtNotNil()),
		).
		Exec(ctx)
	if err != nil {
		slog.Error("retention: orphaned activity cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("retention: cleaned up orphaned activity entries", "count", count)
	}
}
