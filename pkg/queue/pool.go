package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/agentpipe/core/ent"
	"github.com/agentpipe/core/ent/queuejob"
	"github.com/agentpipe/core/ent/task"
	"github.com/agentpipe/core/pkg/config"
	"github.com/agentpipe/core/pkg/events"
	"github.com/agentpipe/core/pkg/metrics"
)

// WorkerPool manages a pod's fleet of queue workers plus its background
// orphan-recovery sweep.
type WorkerPool struct {
	podID        string
	client       *ent.Client
	redisQueue   *RedisQueue
	config       *config.QueueConfig
	taskExecutor TaskExecutor
	events       *events.Manager
	metrics      *metrics.Collector
	workers      []*Worker
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup

	// Cancel registry: task_id → cancel function, for API-triggered cancellation.
	activeTasks map[string]context.CancelFunc
	mu          sync.RWMutex
	started     bool

	orphans orphanState
}

// NewWorkerPool creates a new worker pool. eventPublisher and collector may
// both be nil.
func NewWorkerPool(podID string, client *ent.Client, redisQueue *RedisQueue, cfg *config.QueueConfig, executor TaskExecutor, eventPublisher *events.Manager, collector *metrics.Collector) *WorkerPool {
	return &WorkerPool{
		podID:        podID,
		client:       client,
		redisQueue:   redisQueue,
		config:       cfg,
		taskExecutor: executor,
		events:       eventPublisher,
		metrics:      collector,
		workers:      make([]*Worker, 0, cfg.WorkerCount),
		stopCh:       make(chan struct{}),
		activeTasks:  make(map[string]context.CancelFunc),
	}
}

// Start spawns worker goroutines and the orphan detection background task.
// Safe to call more than once; later calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return nil
	}
	p.started = true

	slog.Info("starting worker pool", "pod_id", p.podID, "worker_count", p.config.WorkerCount)

	for i := 0; i < p.config.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.podID, i)
		worker := NewWorker(workerID, p.podID, p.client, p.redisQueue, p.config, p.taskExecutor, p, p.events, p.metrics)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runOrphanDetection(ctx)
	}()

	slog.Info("worker pool started")
	return nil
}

// Stop signals all workers to stop and waits for their current tasks to finish.
func (p *WorkerPool) Stop() {
	slog.Info("stopping worker pool gracefully")

	active := p.getActiveTaskIDs()
	if len(active) > 0 {
		slog.Info("waiting for active tasks to complete", "count", len(active), "task_ids", active)
	}

	for _, worker := range p.workers {
		worker.Stop()
	}

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("worker pool stopped gracefully")
}

// RegisterTask stores a cancel function for manual cancellation.
func (p *WorkerPool) RegisterTask(taskID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeTasks[taskID] = cancel
}

// UnregisterTask removes the cancel function once processing ends.
func (p *WorkerPool) UnregisterTask(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeTasks, taskID)
}

// CancelTask triggers context cancellation for a task running on this pod.
// Returns true if the task was found and cancelled here.
func (p *WorkerPool) CancelTask(taskID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeTasks[taskID]; ok {
		cancel()
		return true
	}
	return false
}

// Health returns the current health snapshot of the pool.
func (p *WorkerPool) Health() *PoolHealth {
	ctx := context.Background()

	queueDepth, errQ := p.redisQueue.Depth(ctx)
	if errQ != nil {
		slog.Error("failed to query queue depth for health check", "pod_id", p.podID, "error", errQ)
	}

	activeTasks, errA := p.client.Task.Query().
		Where(task.StatusEQ(task.StatusRunning), task.PodIDEQ(p.podID)).
		Count(ctx)
	if errA != nil {
		slog.Error("failed to query active tasks for health check", "pod_id", p.podID, "error", errA)
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	dbHealthy := errQ == nil && errA == nil
	isHealthy := len(p.workers) > 0 && activeTasks <= p.config.MaxConcurrentTasks && dbHealthy

	p.recordQueueMetrics(ctx, activeTasks, errA)

	p.orphans.mu.Lock()
	lastOrphanScan := p.orphans.lastOrphanScan
	orphansRecovered := p.orphans.orphansRecovered
	p.orphans.mu.Unlock()

	var dbError string
	if !dbHealthy {
		if errQ != nil {
			dbError = fmt.Sprintf("queue depth query failed: %v", errQ)
		} else if errA != nil {
			dbError = fmt.Sprintf("active tasks query failed: %v", errA)
		}
	}

	return &PoolHealth{
		IsHealthy:        isHealthy,
		DBReachable:      dbHealthy,
		DBError:          dbError,
		PodID:            p.podID,
		ActiveWorkers:    activeWorkers,
		TotalWorkers:     len(p.workers),
		ActiveTasks:      activeTasks,
		MaxConcurrent:    p.config.MaxConcurrentTasks,
		QueueDepth:       queueDepth,
		WorkerStats:      workerStats,
		LastOrphanScan:   lastOrphanScan,
		OrphansRecovered: orphansRecovered,
	}
}

// recordQueueMetrics pushes the latest depth and active-task gauges. It is
// best-effort: metrics calls are no-ops on a nil collector, and per-lane
// depth errors are swallowed the same way the health check already tolerates
// a failed queue query.
func (p *WorkerPool) recordQueueMetrics(ctx context.Context, activeTasks int, errA error) {
	for _, lane := range []Lane{LaneRegular, LanePremium} {
		depth, err := p.redisQueue.LaneDepth(ctx, lane)
		if err != nil {
			continue
		}
		p.metrics.SetQueueDepth(string(lane), depth)
	}
	if errA == nil {
		p.metrics.SetActiveTasks(activeTasks)
	}
}

func (p *WorkerPool) getActiveTaskIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.activeTasks))
	for id := range p.activeTasks {
		ids = append(ids, id)
	}
	return ids
}

// Enqueue mirrors a new task into Postgres and Redis together: the
// QueueJob row is the system of record, the Redis ZADD is what makes it
// visible to workers.
func (p *WorkerPool) Enqueue(ctx context.Context, t *ent.Task) error {
	job, err := p.client.QueueJob.Create().
		SetID(fmt.Sprintf("job-%s", t.ID)).
		SetTaskID(t.ID).
		SetLane(queuejob.Lane(t.Lane)).
		SetPriority(t.Priority).
		Save(ctx)
	if err != nil {
		return fmt.Errorf("creating queue job: %w", err)
	}

	if err := p.client.Task.UpdateOneID(t.ID).
		SetStatus(task.StatusQueued).
		Exec(ctx); err != nil {
		return fmt.Errorf("marking task queued: %w", err)
	}

	return p.redisQueue.Enqueue(ctx, Lane(job.Lane), job.ID, job.Priority, job.EnqueuedAt)
}
