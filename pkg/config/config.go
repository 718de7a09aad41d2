package config

import (
	"time"

	"github.com/agentpipe/core/pkg/events"
)

// Config is the umbrella configuration object produced by Initialize and
// threaded through the queue, orchestrator, security observer, and phase
// implementations.
type Config struct {
	configDir string

	Queue     *QueueConfig
	Workers   *WorkersConfig
	Approval  *ApprovalConfig
	Activity  *ActivityConfig
	Observer  *ObserverConfig
	Phase     *PhaseConfig
	Developer *DeveloperConfig
	Planning  *PlanningConfig
	TestGen   *TestGenConfig
	Retention *RetentionConfig
	GitHub    *GitHubConfig
	Workspace *WorkspaceConfig
	Metrics   *MetricsConfig
}

// ConfigDir returns the directory configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// EventsConfig translates the activity bus settings into the shape
// pkg/events.Manager expects.
func (c *Config) EventsConfig() events.Config {
	return events.Config{
		BufferSize:            c.Activity.BufferSize,
		SubscriberChannelSize: 64,
		ThrottleInterval:      time.Duration(c.Activity.ThrottleMs) * time.Millisecond,
	}
}
