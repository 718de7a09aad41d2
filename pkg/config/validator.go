package config

import "fmt"

// Validator checks a loaded Config for internally inconsistent values
// before it is handed to the queue, orchestrator, and phase implementations.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll runs every section validator in dependency order, stopping at
// the first failure.
func (v *Validator) ValidateAll() error {
	if err := v.validateQueue(); err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	if err := v.validateApproval(); err != nil {
		return fmt.Errorf("approval: %w", err)
	}
	if err := v.validateActivity(); err != nil {
		return fmt.Errorf("activity: %w", err)
	}
	if err := v.validateObserver(); err != nil {
		return fmt.Errorf("observer: %w", err)
	}
	if err := v.validatePhaseLoops(); err != nil {
		return fmt.Errorf("phase loop bounds: %w", err)
	}
	if err := v.validateWorkspace(); err != nil {
		return fmt.Errorf("workspace: %w", err)
	}
	if err := v.validateMetrics(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}

func (v *Validator) validateQueue() error {
	q := v.cfg.Queue
	if q.WorkerCount < 1 {
		return fmt.Errorf("%w: worker_count must be at least 1, got %d", ErrInvalidValue, q.WorkerCount)
	}
	if q.MaxConcurrentTasks < 1 {
		return fmt.Errorf("%w: max_concurrent_tasks must be at least 1, got %d", ErrInvalidValue, q.MaxConcurrentTasks)
	}
	if q.MaxAttempts < 1 {
		return fmt.Errorf("%w: max_attempts must be at least 1, got %d", ErrInvalidValue, q.MaxAttempts)
	}
	if q.PollInterval <= 0 {
		return fmt.Errorf("%w: poll_interval must be positive", ErrInvalidValue)
	}
	if q.OrphanThreshold <= q.HeartbeatInterval {
		return fmt.Errorf("%w: orphan_threshold (%s) must exceed heartbeat_interval (%s)",
			ErrInvalidValue, q.OrphanThreshold, q.HeartbeatInterval)
	}
	return nil
}

func (v *Validator) validateApproval() error {
	a := v.cfg.Approval
	if a.DefaultTimeoutMs < 0 {
		return fmt.Errorf("%w: default_timeout_ms cannot be negative", ErrInvalidValue)
	}
	if a.MaxFeedbackRounds < 1 {
		return fmt.Errorf("%w: max_feedback_rounds must be at least 1, got %d", ErrInvalidValue, a.MaxFeedbackRounds)
	}
	return nil
}

func (v *Validator) validateActivity() error {
	act := v.cfg.Activity
	if act.BufferSize < 1 {
		return fmt.Errorf("%w: buffer_size must be at least 1, got %d", ErrInvalidValue, act.BufferSize)
	}
	if act.ThrottleMs < 0 {
		return fmt.Errorf("%w: throttle_ms cannot be negative", ErrInvalidValue)
	}
	return nil
}

func (v *Validator) validateObserver() error {
	o := v.cfg.Observer
	if o.LoopThreshold < 2 {
		return fmt.Errorf("%w: loop_threshold must be at least 2, got %d", ErrInvalidValue, o.LoopThreshold)
	}
	if o.Scan.MaxFiles < 1 {
		return fmt.Errorf("%w: scan.max_files must be at least 1, got %d", ErrInvalidValue, o.Scan.MaxFiles)
	}
	if o.Scan.Depth < 1 {
		return fmt.Errorf("%w: scan.depth must be at least 1, got %d", ErrInvalidValue, o.Scan.Depth)
	}
	return nil
}

func (v *Validator) validatePhaseLoops() error {
	if v.cfg.Developer.MaxIterations < 1 {
		return fmt.Errorf("%w: developer.max_iterations must be at least 1", ErrInvalidValue)
	}
	if v.cfg.Planning.MaxJudgeIterations < 1 {
		return fmt.Errorf("%w: planning.max_judge_iterations must be at least 1", ErrInvalidValue)
	}
	if v.cfg.TestGen.MaxIterations < 1 {
		return fmt.Errorf("%w: testgen.max_iterations must be at least 1", ErrInvalidValue)
	}
	return nil
}

func (v *Validator) validateWorkspace() error {
	w := v.cfg.Workspace
	if w.BaseDir == "" {
		return fmt.Errorf("%w: base_dir must not be empty", ErrInvalidValue)
	}
	if w.CommandTimeout < 1 {
		return fmt.Errorf("%w: command_timeout_seconds must be at least 1, got %d", ErrInvalidValue, w.CommandTimeout)
	}
	return nil
}

func (v *Validator) validateMetrics() error {
	m := v.cfg.Metrics
	if m.Enabled && m.Namespace == "" {
		return fmt.Errorf("%w: namespace must not be empty when metrics are enabled", ErrInvalidValue)
	}
	return nil
}
