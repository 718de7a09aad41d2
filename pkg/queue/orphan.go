package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentpipe/core/ent"
	"github.com/agentpipe/core/ent/queuejob"
	"github.com/agentpipe/core/ent/task"
)

// orphanState tracks orphan detection metrics (thread-safe).
type orphanState struct {
	mu               sync.Mutex
	lastOrphanScan   time.Time
	orphansRecovered int
}

// runOrphanDetection periodically scans for tasks whose heartbeat has gone
// stale. All pods run this independently; recovery is idempotent because
// it only acts on rows still claiming the stale pod_id.
func (p *WorkerPool) runOrphanDetection(ctx context.Context) {
	ticker := time.NewTicker(p.config.OrphanDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.detectAndRecoverOrphans(ctx); err != nil {
				slog.Error("orphan detection failed", "error", err)
			}
		}
	}
}

// detectAndRecoverOrphans finds running or paused tasks with stale
// heartbeats and re-admits them to the head of their lane at status
// interrupted (§4.5 resume contract picks them back up from current_phase).
func (p *WorkerPool) detectAndRecoverOrphans(ctx context.Context) error {
	threshold := time.Now().Add(-p.config.OrphanThreshold)

	orphans, err := p.client.Task.Query().
		Where(
			task.StatusIn(task.StatusRunning, task.StatusPaused),
			task.LastHeartbeatAtNotNil(),
			task.LastHeartbeatAtLT(threshold),
			task.DeletedAtIsNil(),
		).
		All(ctx)
	if err != nil {
		return fmt.Errorf("querying orphaned tasks: %w", err)
	}

	if len(orphans) == 0 {
		p.orphans.mu.Lock()
		p.orphans.lastOrphanScan = time.Now()
		p.orphans.mu.Unlock()
		return nil
	}

	slog.Warn("detected orphaned tasks", "count", len(orphans))

	recovered := 0
	for _, t := range orphans {
		if err := p.recoverOrphanedTask(ctx, t); err != nil {
			slog.Error("failed to recover orphaned task", "task_id", t.ID, "error", err)
			continue
		}
		recovered++
		p.metrics.RecordOrphanRecovered()
	}

	p.orphans.mu.Lock()
	p.orphans.lastOrphanScan = time.Now()
	p.orphans.orphansRecovered += recovered
	p.orphans.mu.Unlock()

	return nil
}

// recoverOrphanedTask marks a task interrupted and re-enqueues its job at
// the head of its lane so it is picked up again ahead of fresh arrivals.
func (p *WorkerPool) recoverOrphanedTask(ctx context.Context, t *ent.Task) error {
	log := slog.With("task_id", t.ID, "old_pod_id", podIDOrUnknown(t))

	if err := markTaskInterrupted(ctx, p.client, t.ID); err != nil {
		return err
	}

	job, err := p.client.QueueJob.Query().
		Where(queuejob.TaskIDEQ(t.ID), queuejob.StateEQ(queuejob.StateActive)).
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			log.Warn("orphaned task had no active queue job to re-admit")
			return nil
		}
		return fmt.Errorf("querying queue job for orphan: %w", err)
	}

	if err := job.Update().SetState(queuejob.StateWaiting).Exec(ctx); err != nil {
		return fmt.Errorf("resetting queue job to waiting: %w", err)
	}

	if err := p.redisQueue.EnqueueHead(ctx, Lane(job.Lane), job.ID); err != nil {
		return fmt.Errorf("re-admitting to redis: %w", err)
	}

	log.Warn("orphaned task interrupted and re-enqueued")
	return nil
}

// CleanupStartupOrphans marks tasks owned by this pod that were running
// when it previously crashed, and re-admits their queue jobs. Called once
// during startup before the worker pool begins processing.
func CleanupStartupOrphans(ctx context.Context, client *ent.Client, redisQueue *RedisQueue, podID string) error {
	orphans, err := client.Task.Query().
		Where(
			task.StatusIn(task.StatusRunning, task.StatusPaused),
			task.PodIDEQ(podID),
			task.DeletedAtIsNil(),
		).
		All(ctx)
	if err != nil {
		return fmt.Errorf("querying startup orphans: %w", err)
	}

	if len(orphans) == 0 {
		return nil
	}

	slog.Warn("found startup orphans from previous run", "pod_id", podID, "count", len(orphans))

	for _, t := range orphans {
		if err := markTaskInterrupted(ctx, client, t.ID); err != nil {
			slog.Error("failed to mark startup orphan", "task_id", t.ID, "error", err)
			continue
		}

		job, err := client.QueueJob.Query().
			Where(queuejob.TaskIDEQ(t.ID), queuejob.StateEQ(queuejob.StateActive)).
			Only(ctx)
		if err != nil {
			if !ent.IsNotFound(err) {
				slog.Error("failed to query queue job for startup orphan", "task_id", t.ID, "error", err)
			}
			continue
		}
		if err := job.Update().SetState(queuejob.StateWaiting).Exec(ctx); err != nil {
			slog.Error("failed to reset queue job for startup orphan", "task_id", t.ID, "error", err)
			continue
		}
		if err := redisQueue.EnqueueHead(ctx, Lane(job.Lane), job.ID); err != nil {
			slog.Error("failed to re-admit startup orphan to redis", "task_id", t.ID, "error", err)
			continue
		}

		slog.Info("startup orphan recovered", "task_id", t.ID)
	}

	return nil
}

// markTaskInterrupted flips a task to interrupted, leaving completed_phases
// and current_phase intact so the orchestrator resumes from where it left off.
func markTaskInterrupted(ctx context.Context, client *ent.Client, taskID string) error {
	return client.Task.UpdateOneID(taskID).
		SetStatus(task.StatusInterrupted).
		ClearPodID().
		Exec(ctx)
}

func podIDOrUnknown(t *ent.Task) string {
	if t.PodID == nil {
		return "unknown"
	}
	return *t.PodID
}
