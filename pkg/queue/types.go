// Package queue provides the durable two-lane task queue: Redis holds the
// live priority ordering, Postgres holds the QueueJob mirror that survives
// a Redis flush and backs crash recovery.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/agentpipe/core/ent"
)

// Sentinel errors for queue operations.
var (
	// ErrNoJobsAvailable indicates both lanes are empty.
	ErrNoJobsAvailable = errors.New("no jobs available")

	// ErrAtCapacity indicates the global concurrent task limit has been reached.
	ErrAtCapacity = errors.New("at capacity")
)

// Lane identifies a priority lane. Premium jobs are always popped before
// regular jobs within a single Dequeue call.
type Lane string

const (
	LaneRegular Lane = "regular"
	LanePremium Lane = "premium"
)

// TaskExecutor runs a claimed task through the phase pipeline end to end.
// It owns checkpointing and resume internally; the worker only deals with
// claiming, heartbeat, and the terminal status transition.
type TaskExecutor interface {
	Execute(ctx context.Context, task *ent.Task) *ExecutionResult
}

// ExecutionResult is the terminal outcome of one task run. Intermediate
// state (stories, executions, checkpoints) is written progressively by the
// orchestrator during Execute, not batched here.
type ExecutionResult struct {
	Status string // completed, failed, cancelled, interrupted
	Error  error

	// Retryable is set when Status is failed and Error is a transient
	// infrastructure failure (DB/git/workspace trouble) rather than an
	// agent-reported one, so the worker knows this job is eligible for
	// the attempt policy's single retry (§4.8).
	Retryable bool
}

// PoolHealth reports the health of the entire worker pool for a single pod.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	DBReachable      bool           `json:"db_reachable"`
	DBError          string         `json:"db_error,omitempty"`
	PodID            string         `json:"pod_id"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	ActiveTasks      int            `json:"active_tasks"`
	MaxConcurrent    int            `json:"max_concurrent"`
	QueueDepth       int            `json:"queue_depth"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastOrphanScan   time.Time      `json:"last_orphan_scan"`
	OrphansRecovered int            `json:"orphans_recovered"`
}

// WorkerHealth reports the health of a single worker goroutine.
type WorkerHealth struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"` // "idle" or "working"
	CurrentTaskID  string    `json:"current_task_id,omitempty"`
	TasksProcessed int       `json:"tasks_processed"`
	LastActivity   time.Time `json:"last_activity"`
}
