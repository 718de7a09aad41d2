package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"entgo.io/ent/dialect/sql"
	"github.com/agentpipe/core/ent"
	"github.com/agentpipe/core/ent/queuejob"
	"github.com/agentpipe/core/ent/task"
	"github.com/agentpipe/core/pkg/config"
	"github.com/agentpipe/core/pkg/events"
	"github.com/agentpipe/core/pkg/metrics"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Worker is a single queue worker that pops jobs off Redis and drives the
// matching task through a TaskExecutor.
type Worker struct {
	id             string
	podID          string
	client         *ent.Client
	redisQueue     *RedisQueue
	config         *config.QueueConfig
	taskExecutor   TaskExecutor
	eventPublisher *events.Manager
	metrics        *metrics.Collector
	pool           TaskRegistry
	stopCh         chan struct{}
	stopOnce       sync.Once
	wg             sync.WaitGroup

	mu             sync.RWMutex
	status         WorkerStatus
	currentTaskID  string
	tasksProcessed int
	lastActivity   time.Time
}

// TaskRegistry is the subset of WorkerPool used by Worker to register
// cancel functions for API-triggered cancellation.
type TaskRegistry interface {
	RegisterTask(taskID string, cancel context.CancelFunc)
	UnregisterTask(taskID string)
}

// NewWorker creates a new queue worker. eventPublisher and collector may
// both be nil.
func NewWorker(id, podID string, client *ent.Client, redisQueue *RedisQueue, cfg *config.QueueConfig, executor TaskExecutor, pool TaskRegistry, eventPublisher *events.Manager, collector *metrics.Collector) *Worker {
	return &Worker{
		id:             id,
		podID:          podID,
		client:         client,
		redisQueue:     redisQueue,
		config:         cfg,
		taskExecutor:   executor,
		eventPublisher: eventPublisher,
		metrics:        collector,
		pool:           pool,
		stopCh:         make(chan struct{}),
		status:         WorkerStatusIdle,
		lastActivity:   time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish its current task.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health snapshot.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:             w.id,
		Status:         string(w.status),
		CurrentTaskID:  w.currentTaskID,
		TasksProcessed: w.tasksProcessed,
		LastActivity:   w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoJobsAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("error processing task", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess checks capacity, dequeues a job, claims its task row, and
// drives execution through to a terminal status.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	activeCount, err := w.client.Task.Query().
		Where(task.StatusEQ(task.StatusRunning)).
		Count(ctx)
	if err != nil {
		return fmt.Errorf("checking active tasks: %w", err)
	}
	if activeCount >= w.config.MaxConcurrentTasks {
		return ErrAtCapacity
	}

	lane, jobID, err := w.redisQueue.Dequeue(ctx)
	if err != nil {
		return err
	}

	t, err := w.claimTask(ctx, jobID)
	if err != nil {
		return err
	}

	log := slog.With("task_id", t.ID, "job_id", jobID, "lane", lane, "worker_id", w.id)
	log.Info("task claimed")

	w.setStatus(WorkerStatusWorking, t.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	taskCtx, cancelTask := context.WithCancel(ctx)
	defer cancelTask()

	w.pool.RegisterTask(t.ID, cancelTask)
	defer w.pool.UnregisterTask(t.ID)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(taskCtx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, t.ID)

	executionStart := time.Now()
	result := w.taskExecutor.Execute(taskCtx, t)
	if result == nil {
		result = &ExecutionResult{Status: string(task.StatusFailed), Error: fmt.Errorf("executor returned nil result")}
	}
	if errors.Is(taskCtx.Err(), context.Canceled) && result.Status == "" {
		result = &ExecutionResult{Status: string(task.StatusInterrupted), Error: context.Canceled}
	}

	cancelHeartbeat()

	w.metrics.RecordPhaseExecution("task", result.Status, time.Since(executionStart))
	if result.Error != nil {
		w.metrics.RecordPhaseError("task", result.Status)
	}

	if result.Status == string(task.StatusFailed) && result.Retryable {
		retried, err := w.retryJob(context.Background(), jobID, t.ID, lane)
		if err != nil {
			log.Error("failed to retry task", "error", err)
			return err
		}
		if retried {
			log.Warn("task failed on a transient error, retrying", "error", result.Error)
			w.mu.Lock()
			w.tasksProcessed++
			w.mu.Unlock()
			return nil
		}
	}

	if err := w.finishJob(context.Background(), jobID, t.ID, result); err != nil {
		log.Error("failed to finalize task", "error", err)
		return err
	}

	w.publishTaskStatus(context.Background(), t.ID, result.Status)

	w.mu.Lock()
	w.tasksProcessed++
	w.mu.Unlock()

	log.Info("task processing complete", "status", result.Status)
	return nil
}

// claimTask loads the Task row for a dequeued job id and marks both the
// task and its QueueJob mirror as running/active, atomically. FOR UPDATE
// SKIP LOCKED guards against a second pod racing to claim the same row
// after a crash-recovery sweep re-admits it to Redis concurrently.
func (w *Worker) claimTask(ctx context.Context, jobID string) (*ent.Task, error) {
	tx, err := w.client.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	job, err := tx.QueueJob.Query().
		Where(queuejob.IDEQ(jobID)).
		ForUpdate(sql.WithLockAction(sql.SkipLocked)).
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNoJobsAvailable
		}
		return nil, fmt.Errorf("querying queue job: %w", err)
	}
	if job.State != queuejob.StateWaiting {
		return nil, ErrNoJobsAvailable
	}

	now := time.Now()
	if _, err := job.Update().
		SetState(queuejob.StateActive).
		SetStartedAt(now).
		Save(ctx); err != nil {
		return nil, fmt.Errorf("claiming queue job: %w", err)
	}

	t, err := tx.Task.Query().
		Where(task.IDEQ(job.TaskID), task.DeletedAtIsNil()).
		ForUpdate(sql.WithLockAction(sql.SkipLocked)).
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNoJobsAvailable
		}
		return nil, fmt.Errorf("querying task: %w", err)
	}

	t, err = t.Update().
		SetStatus(task.StatusRunning).
		SetPodID(w.podID).
		SetLastHeartbeatAt(now).
		Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("claiming task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	return t, nil
}

func (w *Worker) runHeartbeat(ctx context.Context, taskID string) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.client.Task.UpdateOneID(taskID).
				SetLastHeartbeatAt(time.Now()).
				Exec(ctx); err != nil {
				slog.Warn("heartbeat update failed", "task_id", taskID, "error", err)
			}
		}
	}
}

// retryJob applies the attempt policy (§4.8): a job that failed on a
// transient infrastructure error gets bumped back to waiting and
// re-admitted at the head of its lane, once per job, bounded by
// config.MaxAttempts. Reports whether it retried; false means the caller
// must finalize the task as failed instead.
func (w *Worker) retryJob(ctx context.Context, jobID, taskID string, lane Lane) (bool, error) {
	tx, err := w.client.Tx(ctx)
	if err != nil {
		return false, fmt.Errorf("starting retry transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	job, err := tx.QueueJob.Query().Where(queuejob.IDEQ(jobID)).Only(ctx)
	if err != nil {
		return false, fmt.Errorf("querying job for retry: %w", err)
	}
	if job.Attempt >= w.config.MaxAttempts {
		return false, nil
	}

	if err := job.Update().
		SetState(queuejob.StateWaiting).
		SetAttempt(job.Attempt + 1).
		ClearStartedAt().
		ClearCompletedAt().
		Exec(ctx); err != nil {
		return false, fmt.Errorf("resetting job for retry: %w", err)
	}

	if err := tx.Task.UpdateOneID(taskID).
		SetStatus(task.StatusQueued).
		ClearPodID().
		ClearFailureReason().
		Exec(ctx); err != nil {
		return false, fmt.Errorf("resetting task for retry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing retry: %w", err)
	}

	if err := w.redisQueue.EnqueueHead(ctx, lane, jobID); err != nil {
		return false, fmt.Errorf("re-admitting retried job to redis: %w", err)
	}
	return true, nil
}

// finishJob writes the terminal task status and marks the QueueJob row
// completed or failed so it no longer counts toward queue depth.
func (w *Worker) finishJob(ctx context.Context, jobID, taskID string, result *ExecutionResult) error {
	tx, err := w.client.Tx(ctx)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	update := tx.Task.UpdateOneID(taskID).
		SetStatus(task.Status(result.Status))
	if result.Error != nil {
		update = update.SetFailureReason(result.Error.Error())
	}
	if err := update.Exec(ctx); err != nil {
		return fmt.Errorf("updating task status: %w", err)
	}

	jobUpdate := tx.QueueJob.UpdateOneID(jobID).SetCompletedAt(now)
	if result.Status == string(task.StatusCompleted) {
		jobUpdate = jobUpdate.SetState(queuejob.StateCompleted)
	} else {
		jobUpdate = jobUpdate.SetState(queuejob.StateFailed)
		if result.Error != nil {
			jobUpdate = jobUpdate.SetLastError(result.Error.Error())
		}
	}
	if err := jobUpdate.Exec(ctx); err != nil {
		return fmt.Errorf("updating queue job: %w", err)
	}

	return tx.Commit()
}

func (w *Worker) publishTaskStatus(ctx context.Context, taskID, status string) {
	if w.eventPublisher == nil {
		return
	}
	w.eventPublisher.PublishTaskStatus(ctx, taskID, status)
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func (w *Worker) setStatus(status WorkerStatus, taskID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentTaskID = taskID
	w.lastActivity = time.Now()
}
