package config

// MetricsConfig controls the Prometheus collector wired into the worker
// pool, the approval broker, and the phase pipeline.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled,omitempty"`
	Namespace string `yaml:"namespace,omitempty"`
}

func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Enabled:   true,
		Namespace: "agentpipe",
	}
}
