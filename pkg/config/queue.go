package config

import "time"

// QueueConfig contains queue and worker pool configuration. These values
// control how tasks are polled, claimed, and processed.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per replica/pod,
	// split between lanes by WorkersRegular/WorkersPremium below.
	WorkerCount int `yaml:"worker_count"`

	// WorkersRegular and WorkersPremium cap how many of this pod's
	// workers may be occupied processing each lane concurrently.
	WorkersRegular int `yaml:"-"`
	WorkersPremium int `yaml:"-"`

	// MaxConcurrentTasks is the global limit of concurrently running
	// tasks across ALL replicas/pods. Enforced by database COUNT(*) check.
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`

	// MaxAttempts bounds retries for transient infrastructure errors
	// (Redis/DB timeouts). Agent-reported errors never retry.
	MaxAttempts int `yaml:"max_attempts"`

	// PollInterval is the base interval for checking pending jobs.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// HeartbeatInterval is how often a worker updates LastHeartbeatAt on
	// the task it is actively executing.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// GracefulShutdownTimeout is the max time to wait for active tasks
	// to reach a safe checkpoint during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// OrphanDetectionInterval is how often to scan for orphaned tasks.
	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval"`

	// OrphanThreshold is how long a task can go without a heartbeat
	// before it is considered orphaned and re-enqueued.
	OrphanThreshold time.Duration `yaml:"orphan_threshold"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             10,
		WorkersRegular:          7,
		WorkersPremium:          3,
		MaxConcurrentTasks:      10,
		MaxAttempts:             1,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      250 * time.Millisecond,
		HeartbeatInterval:       10 * time.Second,
		GracefulShutdownTimeout: 15 * time.Minute,
		OrphanDetectionInterval: 1 * time.Minute,
		OrphanThreshold:         1 * time.Minute,
	}
}

// WorkersConfig is the `workers:` YAML block: per-lane worker counts.
type WorkersConfig struct {
	Regular int `yaml:"regular"`
	Premium int `yaml:"premium"`
}

// ApprovalConfig is the `approval:` YAML block.
type ApprovalConfig struct {
	// DefaultTimeoutMs bounds how long a checkpoint waits for a verdict
	// before timing out. Zero means wait forever.
	DefaultTimeoutMs int `yaml:"default_timeout_ms"`

	// MaxFeedbackRounds caps request_changes round-trips per checkpoint
	// before the story/phase is treated as rejected.
	MaxFeedbackRounds int `yaml:"max_feedback_rounds"`
}

// DefaultApprovalConfig returns the built-in approval defaults.
func DefaultApprovalConfig() *ApprovalConfig {
	return &ApprovalConfig{
		DefaultTimeoutMs:  0,
		MaxFeedbackRounds: 3,
	}
}

// ActivityConfig is the `activity:` YAML block, consumed to build an
// events.Config for the activity bus.
type ActivityConfig struct {
	BufferSize  int `yaml:"buffer_size"`
	BatchMs     int `yaml:"batch_ms"`
	ThrottleMs  int `yaml:"throttle_ms"`
}

// DefaultActivityConfig returns the built-in activity bus defaults.
func DefaultActivityConfig() *ActivityConfig {
	return &ActivityConfig{
		BufferSize: 200,
		BatchMs:    250,
		ThrottleMs: 250,
	}
}

// ScanConfig is the `observer.scan:` YAML sub-block.
type ScanConfig struct {
	MaxFiles  int `yaml:"max_files"`
	MaxFileKB int `yaml:"max_file_kb"`
	Depth     int `yaml:"depth"`
}

// ObserverConfig is the `observer:` YAML block.
type ObserverConfig struct {
	LoopThreshold int        `yaml:"loop_threshold"`
	LoopWindowMs  int        `yaml:"loop_window_ms"`
	Scan          ScanConfig `yaml:"scan"`
}

// DefaultObserverConfig returns the built-in security observer defaults.
func DefaultObserverConfig() *ObserverConfig {
	return &ObserverConfig{
		LoopThreshold: 10,
		LoopWindowMs:  30_000,
		Scan: ScanConfig{
			MaxFiles:  2000,
			MaxFileKB: 512,
			Depth:     5,
		},
	}
}

// PhaseConfig is the `phase:` YAML block.
type PhaseConfig struct {
	// IdleTimeoutMs bounds how long a phase waits for the agent session
	// to settle back to idle before treating it as stalled.
	IdleTimeoutMs int `yaml:"idle_timeout_ms"`
}

// DefaultPhaseConfig returns the built-in phase defaults.
func DefaultPhaseConfig() *PhaseConfig {
	return &PhaseConfig{IdleTimeoutMs: 10 * 60 * 1000}
}

// DeveloperConfig is the `developer:` YAML block.
type DeveloperConfig struct {
	MaxIterations int `yaml:"max_iterations"`
}

// PlanningConfig is the `planning:` YAML block.
type PlanningConfig struct {
	MaxJudgeIterations int `yaml:"max_judge_iterations"`
}

// TestGenConfig is the `testgen:` YAML block.
type TestGenConfig struct {
	MaxIterations int `yaml:"max_iterations"`
}

// DefaultPhaseLoopConfig returns the built-in inner-loop iteration bounds
// shared by Planning, Developer, and TestGeneration.
func DefaultPhaseLoopConfig() (*DeveloperConfig, *PlanningConfig, *TestGenConfig) {
	return &DeveloperConfig{MaxIterations: 3},
		&PlanningConfig{MaxJudgeIterations: 3},
		&TestGenConfig{MaxIterations: 3}
}
