package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// YAMLConfig is the on-disk shape of agentpipe.yaml.
type YAMLConfig struct {
	Workers   *WorkersConfig   `yaml:"workers"`
	Queue     *QueueConfig     `yaml:"queue"`
	Approval  *ApprovalConfig  `yaml:"approval"`
	Activity  *ActivityConfig  `yaml:"activity"`
	Observer  *ObserverConfig  `yaml:"observer"`
	Phase     *PhaseConfig     `yaml:"phase"`
	Developer *DeveloperConfig `yaml:"developer"`
	Planning  *PlanningConfig  `yaml:"planning"`
	TestGen   *TestGenConfig   `yaml:"testgen"`
	Retention *RetentionConfig `yaml:"retention"`
	GitHub    *GitHubYAMLConfig `yaml:"github"`
	Workspace *WorkspaceConfig `yaml:"workspace"`
	Metrics   *MetricsConfig   `yaml:"metrics"`
}

// GitHubYAMLConfig holds GitHub integration settings read from YAML.
type GitHubYAMLConfig struct {
	TokenEnv string `yaml:"token_env,omitempty"`
}

// Initialize loads, merges, and validates configuration from configDir,
// falling back entirely to built-in defaults if agentpipe.yaml is absent.
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("configuration initialized",
		"worker_count", cfg.Queue.WorkerCount,
		"max_concurrent_tasks", cfg.Queue.MaxConcurrentTasks)

	return cfg, nil
}

func load(configDir string) (*Config, error) {
	yamlCfg, err := loadYAMLConfig(configDir)
	if err != nil {
		return nil, err
	}

	queueCfg := DefaultQueueConfig()
	if yamlCfg.Queue != nil {
		if err := mergo.Merge(queueCfg, yamlCfg.Queue, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging queue config: %w", err)
		}
	}

	workersCfg := &WorkersConfig{Regular: queueCfg.WorkersRegular, Premium: queueCfg.WorkersPremium}
	if yamlCfg.Workers != nil {
		if err := mergo.Merge(workersCfg, yamlCfg.Workers, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging workers config: %w", err)
		}
	}
	queueCfg.WorkersRegular = workersCfg.Regular
	queueCfg.WorkersPremium = workersCfg.Premium
	queueCfg.WorkerCount = workersCfg.Regular + workersCfg.Premium

	approvalCfg := DefaultApprovalConfig()
	if yamlCfg.Approval != nil {
		if err := mergo.Merge(approvalCfg, yamlCfg.Approval, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging approval config: %w", err)
		}
	}

	activityCfg := DefaultActivityConfig()
	if yamlCfg.Activity != nil {
		if err := mergo.Merge(activityCfg, yamlCfg.Activity, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging activity config: %w", err)
		}
	}

	observerCfg := DefaultObserverConfig()
	if yamlCfg.Observer != nil {
		if err := mergo.Merge(observerCfg, yamlCfg.Observer, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging observer config: %w", err)
		}
	}

	phaseCfg := DefaultPhaseConfig()
	if yamlCfg.Phase != nil {
		if err := mergo.Merge(phaseCfg, yamlCfg.Phase, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging phase config: %w", err)
		}
	}

	developerCfg, planningCfg, testGenCfg := DefaultPhaseLoopConfig()
	if yamlCfg.Developer != nil {
		if err := mergo.Merge(developerCfg, yamlCfg.Developer, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging developer config: %w", err)
		}
	}
	if yamlCfg.Planning != nil {
		if err := mergo.Merge(planningCfg, yamlCfg.Planning, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging planning config: %w", err)
		}
	}
	if yamlCfg.TestGen != nil {
		if err := mergo.Merge(testGenCfg, yamlCfg.TestGen, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging testgen config: %w", err)
		}
	}

	retentionCfg := DefaultRetentionConfig()
	if yamlCfg.Retention != nil {
		if err := mergo.Merge(retentionCfg, yamlCfg.Retention, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging retention config: %w", err)
		}
	}

	githubCfg := resolveGitHubConfig(yamlCfg.GitHub)

	workspaceCfg := DefaultWorkspaceConfig()
	if yamlCfg.Workspace != nil {
		if err := mergo.Merge(workspaceCfg, yamlCfg.Workspace, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging workspace config: %w", err)
		}
	}

	metricsCfg := DefaultMetricsConfig()
	if yamlCfg.Metrics != nil {
		if err := mergo.Merge(metricsCfg, yamlCfg.Metrics, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging metrics config: %w", err)
		}
	}

	return &Config{
		configDir: configDir,
		Queue:     queueCfg,
		Workers:   workersCfg,
		Approval:  approvalCfg,
		Activity:  activityCfg,
		Observer:  observerCfg,
		Phase:     phaseCfg,
		Developer: developerCfg,
		Planning:  planningCfg,
		TestGen:   testGenCfg,
		Retention: retentionCfg,
		GitHub:    githubCfg,
		Workspace: workspaceCfg,
		Metrics:   metricsCfg,
	}, nil
}

func loadYAMLConfig(configDir string) (*YAMLConfig, error) {
	var cfg YAMLConfig
	path := filepath.Join(configDir, "agentpipe.yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No file on disk is fine — every section has built-in defaults.
			return &cfg, nil
		}
		return nil, err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return &cfg, nil
}

func resolveGitHubConfig(raw *GitHubYAMLConfig) *GitHubConfig {
	cfg := &GitHubConfig{TokenEnv: "GITHUB_TOKEN"}
	if raw != nil && raw.TokenEnv != "" {
		cfg.TokenEnv = raw.TokenEnv
	}
	return cfg
}
